package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/insight-cli/internal/store"
)

// Snapshot holds a point-in-time view of report quality.
type Snapshot struct {
	Reports      int     `json:"reports"`
	Degraded     int     `json:"degraded"`
	DegradedRate float64 `json:"degraded_rate"`
	WithErrors   int     `json:"with_errors"`
	AvgErrors    float64 `json:"avg_errors"`
	Companies    int     `json:"companies"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// ReportLister is the store subset the collector needs.
type ReportLister interface {
	ListReports(ctx context.Context, filter store.ReportFilter) ([]store.ReportSummary, error)
}

// Collector gathers report-quality metrics from the store.
type Collector struct {
	store ReportLister
	now   func() time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector(st ReportLister) *Collector {
	return &Collector{store: st, now: time.Now}
}

// Collect gathers a snapshot over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*Snapshot, error) {
	now := c.now().UTC()
	snap := &Snapshot{LookbackHours: lookbackHours, CollectedAt: now}

	reports, err := c.store.ListReports(ctx, store.ReportFilter{
		Since: now.Add(-time.Duration(lookbackHours) * time.Hour),
		Limit: 10000,
	})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list reports")
	}

	companies := make(map[string]bool)
	var errs int
	for _, r := range reports {
		snap.Reports++
		companies[r.URL] = true
		if r.Degraded {
			snap.Degraded++
		}
		if r.ErrorCount > 0 {
			snap.WithErrors++
		}
		errs += r.ErrorCount
	}
	snap.Companies = len(companies)
	if snap.Reports > 0 {
		snap.DegradedRate = float64(snap.Degraded) / float64(snap.Reports)
		snap.AvgErrors = float64(errs) / float64(snap.Reports)
	}
	return snap, nil
}
