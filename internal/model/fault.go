package model

import (
	"fmt"

	"github.com/rotisserie/eris"
)

// FaultKind classifies a failure in the pipeline.
type FaultKind string

const (
	FaultTransientNetwork FaultKind = "transient_network"
	FaultClientRejected   FaultKind = "client_rejected"
	FaultRenderTimeout    FaultKind = "render_timeout"
	FaultNoMatchFound     FaultKind = "no_match_found"
	FaultExtraction       FaultKind = "extraction_fault"
	FaultSchemaInvalid    FaultKind = "model_schema_invalid"
	FaultModelUnavailable FaultKind = "model_service_unavailable"
	FaultDeadlineExceeded FaultKind = "deadline_exceeded"
)

// Fault is a source-tagged failure. It is recorded as a string in
// ScrapeDocument.OverallErrors and never propagated to the caller.
type Fault struct {
	Kind   FaultKind
	Source string
	Err    error
}

// NewFault builds a Fault. A nil err yields a fault carrying only its kind.
func NewFault(kind FaultKind, source string, err error) *Fault {
	if err == nil {
		err = eris.New(string(kind))
	}
	return &Fault{Kind: kind, Source: source, Err: err}
}

func (f *Fault) Error() string {
	return fmt.Sprintf("%s: %s: %s", f.Source, f.Kind, f.Err.Error())
}

func (f *Fault) Unwrap() error {
	return f.Err
}
