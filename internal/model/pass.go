package model

import "time"

// PassKind tags an extraction pass variant.
type PassKind string

const (
	PassMain       PassKind = "main_page"
	PassLeadership PassKind = "leadership"
	PassReviews    PassKind = "reviews"
	PassTechnology PassKind = "technology"
	PassSubPages   PassKind = "sub_pages"
)

// AllPassKinds returns every pass variant the coordinator runs.
func AllPassKinds() []PassKind {
	return []PassKind{PassMain, PassLeadership, PassReviews, PassTechnology, PassSubPages}
}

// PartialResult carries the output of a single pass. Only the field matching
// the pass kind is populated.
type PartialResult struct {
	Main       *MainPage
	Leadership []Executive
	Reviews    []ReviewSnippet
	Technology *TechnologyInfo
	SubPages   map[PageType]SubPage
	// Notes are non-fatal, source-tagged problems the pass chose to report
	// alongside a successful result.
	Notes []string
}

// PassOutcome is the result of running one pass: a partial result, and a
// fault when the pass failed.
type PassOutcome struct {
	Kind     PassKind
	Partial  PartialResult
	Fault    *Fault
	Duration time.Duration
}

// Failed reports whether the pass produced a fault.
func (o PassOutcome) Failed() bool {
	return o.Fault != nil
}

// AnalysisRequest is an inbound request for a company report.
type AnalysisRequest struct {
	URL         string        `json:"url"`
	CompanyName string        `json:"company_name"`
	Location    string        `json:"location"`
	DynamicMain bool          `json:"dynamic_main"`
	Deadline    time.Duration `json:"-"`
}
