package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/insight-cli/internal/config"
)

// Checker periodically snapshots stored reports and raises alerts.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	lookback  int
	interval  time.Duration
	log       *zap.Logger
}

// NewChecker creates a Checker. A non-positive check interval falls back to
// five minutes.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	interval := time.Duration(cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Checker{
		collector: collector,
		alerter:   alerter,
		lookback:  cfg.LookbackWindowHours,
		interval:  interval,
		log:       zap.L().With(zap.String("component", "monitoring.checker")),
	}
}

// Run checks once immediately and then every interval until ctx is done.
func (c *Checker) Run(ctx context.Context) {
	c.log.Info("report quality checker started",
		zap.Duration("interval", c.interval),
		zap.Int("lookback_hours", c.lookback),
	)
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		c.Check(ctx)
		select {
		case <-ctx.Done():
			c.log.Info("report quality checker stopped")
			return
		case <-ticker.C:
		}
	}
}

// Check takes one snapshot, delivers whatever alerts it triggers and
// returns them.
func (c *Checker) Check(ctx context.Context) []Alert {
	if ctx.Err() != nil {
		return nil
	}
	snap, err := c.collector.Collect(ctx, c.lookback)
	if err != nil {
		c.log.Error("collect snapshot", zap.Error(err))
		return nil
	}

	alerts := c.alerter.Evaluate(snap)
	if len(alerts) == 0 {
		c.log.Debug("no alerts",
			zap.Int("reports", snap.Reports),
			zap.Float64("degraded_rate", snap.DegradedRate),
		)
		return nil
	}
	sent := c.alerter.SendAlerts(ctx, alerts)
	c.log.Info("alerts raised", zap.Int("triggered", len(alerts)), zap.Int("sent", sent))
	return alerts
}
