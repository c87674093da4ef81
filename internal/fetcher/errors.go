package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/sells-group/insight-cli/internal/model"
	"github.com/sells-group/insight-cli/internal/resilience"
)

// ErrorKind classifies a failed fetch.
type ErrorKind string

const (
	KindTimeout ErrorKind = "timeout"
	KindHTTP    ErrorKind = "http"
	KindRender  ErrorKind = "render"
	KindNetwork ErrorKind = "network"
)

// Error describes why a fetch produced no content.
type Error struct {
	Kind       ErrorKind
	Mode       model.FetchMode
	URL        string
	StatusCode int
	Blocked    BlockType
	Err        error
}

func (e *Error) Error() string {
	if e.Kind == KindHTTP {
		return fmt.Sprintf("fetcher: %s %s: http %d", e.Mode, e.URL, e.StatusCode)
	}
	if e.Err == nil {
		return fmt.Sprintf("fetcher: %s %s: %s", e.Mode, e.URL, e.Kind)
	}
	return fmt.Sprintf("fetcher: %s %s: %s: %v", e.Mode, e.URL, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Status maps the error kind to a terminal fetch status.
func (e *Error) Status() model.FetchStatus {
	switch e.Kind {
	case KindTimeout:
		return model.FetchTimeout
	case KindHTTP:
		return model.FetchHTTPError
	case KindRender:
		return model.FetchRenderError
	}
	return model.FetchNetworkError
}

// Retryable reports whether another attempt might succeed. Client errors
// (4xx other than 408 and 429), render crashes and permanent network failures
// such as unknown hosts or unsupported schemes are never retried.
func Retryable(err error) bool {
	var fe *Error
	if !errors.As(err, &fe) {
		return resilience.IsTransient(err)
	}
	switch fe.Kind {
	case KindTimeout:
		return true
	case KindNetwork:
		return resilience.IsTransient(fe.Err)
	case KindHTTP:
		return resilience.IsTransientHTTPStatus(fe.StatusCode)
	}
	return false
}

// IsTimeout reports whether err is a fetch timeout.
func IsTimeout(err error) bool {
	var fe *Error
	return errors.As(err, &fe) && fe.Kind == KindTimeout
}

// IsClientRejected reports whether the server refused the request with a
// non-retryable 4xx status.
func IsClientRejected(err error) bool {
	var fe *Error
	return errors.As(err, &fe) && fe.Kind == KindHTTP &&
		fe.StatusCode >= 400 && fe.StatusCode < 500 &&
		!resilience.IsTransientHTTPStatus(fe.StatusCode)
}

// FaultKind maps a fetch error onto the pipeline fault taxonomy.
func FaultKind(err error) model.FaultKind {
	var fe *Error
	if !errors.As(err, &fe) {
		if errors.Is(err, context.DeadlineExceeded) {
			return model.FaultDeadlineExceeded
		}
		return model.FaultExtraction
	}
	switch fe.Kind {
	case KindTimeout:
		if fe.Mode == model.FetchDynamic {
			return model.FaultRenderTimeout
		}
		return model.FaultTransientNetwork
	case KindHTTP:
		if IsClientRejected(fe) {
			return model.FaultClientRejected
		}
		return model.FaultTransientNetwork
	case KindRender:
		return model.FaultExtraction
	}
	return model.FaultTransientNetwork
}

// classify wraps a transport-level error, separating timeouts from other
// network failures.
func classify(ctx context.Context, mode model.FetchMode, rawURL string, err error) *Error {
	kind := KindNetwork
	if mode == model.FetchDynamic {
		kind = KindRender
	}
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(ctx.Err(), context.DeadlineExceeded):
		kind = KindTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		kind = KindTimeout
	case mode == model.FetchDynamic && resilience.IsTransient(err):
		kind = KindNetwork
	}
	return &Error{Kind: kind, Mode: mode, URL: rawURL, Err: err}
}
