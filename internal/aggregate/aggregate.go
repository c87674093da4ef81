// Package aggregate merges pass outcomes into a single scrape document.
package aggregate

import (
	"github.com/sells-group/insight-cli/internal/model"
)

// Aggregator accumulates pass outcomes. It performs no I/O and cannot fail.
// It is not safe for concurrent use; the coordinator adds outcomes from its
// single fan-in loop.
type Aggregator struct {
	doc *model.ScrapeDocument
}

// New starts a document for the given request. The located main page, when
// fetched, supplies the canonical main-page URL.
func New(params model.InputParameters, located *model.LocatedPages) *Aggregator {
	doc := model.NewScrapeDocument(params)
	if located != nil && located.MainPage.OK() {
		doc.MainPage.URL = located.MainPage.BaseURL()
	}
	return &Aggregator{doc: doc}
}

// Add merges one outcome. Each pass kind writes only its own field; notes
// and faults are appended to the error list in call order.
func (a *Aggregator) Add(o model.PassOutcome) {
	p := o.Partial
	switch o.Kind {
	case model.PassMain:
		if p.Main != nil {
			m := *p.Main
			if m.URL == "" {
				m.URL = a.doc.MainPage.URL
			}
			m.Headings = orEmpty(m.Headings)
			m.Paragraphs = orEmpty(m.Paragraphs)
			a.doc.MainPage = m
		}
	case model.PassLeadership:
		if p.Leadership != nil {
			a.doc.LeadershipTeam = append([]model.Executive{}, p.Leadership...)
		}
	case model.PassReviews:
		if p.Reviews != nil {
			a.doc.ReviewSnippets = append([]model.ReviewSnippet{}, p.Reviews...)
		}
	case model.PassTechnology:
		if p.Technology != nil {
			t := *p.Technology
			if t.Categories == nil {
				t.Categories = map[string][]string{}
			}
			a.doc.TechnologyInfo = t
		}
	case model.PassSubPages:
		for pt, sp := range p.SubPages {
			a.doc.SubPages[pt] = sp
		}
	}

	a.doc.OverallErrors = append(a.doc.OverallErrors, p.Notes...)
	if o.Fault != nil {
		a.AddFault(o.Fault)
	}
}

// AddFault records a failure that did not come from a pass, such as a
// locator error or an exhausted deadline.
func (a *Aggregator) AddFault(f *model.Fault) {
	if f == nil {
		return
	}
	a.doc.OverallErrors = append(a.doc.OverallErrors, f.Error())
}

// Document returns the merged document.
func (a *Aggregator) Document() *model.ScrapeDocument {
	return a.doc
}

// Aggregate merges outcomes in the order given.
func Aggregate(params model.InputParameters, located *model.LocatedPages, outcomes ...model.PassOutcome) *model.ScrapeDocument {
	a := New(params, located)
	for _, o := range outcomes {
		a.Add(o)
	}
	return a.Document()
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
