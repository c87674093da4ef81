package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/insight-cli/internal/config"
	"github.com/sells-group/insight-cli/internal/resilience"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertDegradedRate AlertType = "degraded_rate"
	AlertScrapeErrors AlertType = "scrape_errors"
)

// Alert is one threshold breach, posted to the webhook as JSON.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// rule inspects a snapshot and returns an alert when its threshold is
// breached.
type rule func(cfg config.MonitoringConfig, snap *Snapshot) *Alert

var rules = []rule{degradedRateRule, scrapeErrorsRule}

func degradedRateRule(cfg config.MonitoringConfig, snap *Snapshot) *Alert {
	if cfg.DegradedRateThreshold <= 0 || snap.DegradedRate <= cfg.DegradedRateThreshold {
		return nil
	}
	return &Alert{
		Type:     AlertDegradedRate,
		Severity: "high",
		Message: fmt.Sprintf("%d of %d insight reports in the last %dh were degraded (%.0f%%, threshold %.0f%%)",
			snap.Degraded, snap.Reports, snap.LookbackHours,
			snap.DegradedRate*100, cfg.DegradedRateThreshold*100),
		Details: map[string]any{
			"degraded":      snap.Degraded,
			"reports":       snap.Reports,
			"degraded_rate": snap.DegradedRate,
		},
	}
}

func scrapeErrorsRule(cfg config.MonitoringConfig, snap *Snapshot) *Alert {
	if cfg.AvgErrorsThreshold <= 0 || snap.AvgErrors <= cfg.AvgErrorsThreshold {
		return nil
	}
	return &Alert{
		Type:     AlertScrapeErrors,
		Severity: "medium",
		Message: fmt.Sprintf("scrapes averaged %.1f errors per report over the last %dh (threshold %.1f)",
			snap.AvgErrors, snap.LookbackHours, cfg.AvgErrorsThreshold),
		Details: map[string]any{
			"avg_errors":  snap.AvgErrors,
			"with_errors": snap.WithErrors,
			"companies":   snap.Companies,
		},
	}
}

// Alerter turns snapshots into alerts and delivers them to a webhook. An
// alert type that was delivered recently is not repeated until
// RepeatAfterSecs have passed.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
	retry  resilience.RetryConfig
	now    func() time.Time

	mu       sync.Mutex
	lastSent map[AlertType]time.Time
}

// NewAlerter creates an Alerter for cfg.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	retry := resilience.WithBudget(2, 500, 5000)
	retry.OnRetry = resilience.RetryLogger("monitoring", "webhook")
	return &Alerter{
		cfg:      cfg,
		client:   &http.Client{Timeout: 10 * time.Second},
		retry:    retry,
		now:      time.Now,
		lastSent: make(map[AlertType]time.Time),
	}
}

// Evaluate returns the alerts the snapshot triggers. Windows with fewer
// than MinReports reports never alert.
func (a *Alerter) Evaluate(snap *Snapshot) []Alert {
	if snap == nil || snap.Reports == 0 || snap.Reports < a.cfg.MinReports {
		return nil
	}
	at := a.now().UTC()
	var alerts []Alert
	for _, r := range rules {
		if al := r(a.cfg, snap); al != nil {
			al.Timestamp = at
			alerts = append(alerts, *al)
		}
	}
	return alerts
}

// SendAlerts delivers alerts to the webhook and returns how many were sent.
// Alerts still inside their repeat window are skipped.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}
	log := zap.L().With(zap.String("component", "monitoring.alerter"))

	sent := 0
	for _, al := range alerts {
		if a.suppressed(al.Type) {
			log.Debug("alert suppressed", zap.String("type", string(al.Type)))
			continue
		}
		if err := a.post(ctx, al); err != nil {
			log.Error("failed to send alert", zap.String("type", string(al.Type)), zap.Error(err))
			continue
		}
		a.markSent(al.Type)
		log.Info("alert sent", zap.String("type", string(al.Type)), zap.String("severity", al.Severity))
		sent++
	}
	return sent
}

func (a *Alerter) suppressed(t AlertType) bool {
	if a.cfg.RepeatAfterSecs <= 0 {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	last, ok := a.lastSent[t]
	return ok && a.now().Sub(last) < time.Duration(a.cfg.RepeatAfterSecs)*time.Second
}

func (a *Alerter) markSent(t AlertType) {
	a.mu.Lock()
	a.lastSent[t] = a.now()
	a.mu.Unlock()
}

// post delivers one alert, retrying transport failures and transient
// statuses.
func (a *Alerter) post(ctx context.Context, al Alert) error {
	payload, err := json.Marshal(al)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	return resilience.Do(ctx, a.retry, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
		if err != nil {
			return eris.Wrap(err, "monitoring: create webhook request")
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := a.client.Do(req)
		if err != nil {
			return resilience.NewTransientError(eris.Wrap(err, "monitoring: webhook request"), 0)
		}
		defer resp.Body.Close() //nolint:errcheck

		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return resilience.NewTransientError(
				eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode), resp.StatusCode)
		}
		if resp.StatusCode >= 400 {
			return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
		}
		return nil
	})
}
