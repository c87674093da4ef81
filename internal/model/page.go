package model

// PageType represents a sub-page category the locator can resolve.
type PageType string

const (
	PageTypeLeadership PageType = "leadership"
	PageTypeCareers    PageType = "careers"
	PageTypeReviews    PageType = "reviews"
	PageTypeContact    PageType = "contact"
	PageTypeNews       PageType = "news"
	PageTypeInvestors  PageType = "investors"
)

// AllPageTypes returns every locatable page type in resolution order.
func AllPageTypes() []PageType {
	return []PageType{
		PageTypeLeadership,
		PageTypeCareers,
		PageTypeReviews,
		PageTypeContact,
		PageTypeNews,
		PageTypeInvestors,
	}
}

// SubPageTypes returns the page types summarized by the sub-page pass.
// Leadership and reviews have dedicated passes.
func SubPageTypes() []PageType {
	return []PageType{
		PageTypeCareers,
		PageTypeContact,
		PageTypeNews,
		PageTypeInvestors,
	}
}

// PageMatch is the winning link for one page type.
type PageMatch struct {
	URL   string  `json:"url"`
	Text  string  `json:"text"`
	Score float64 `json:"score"`
}

// LocatedPages is the output of the page locator. Unresolved categories are
// simply absent from Pages.
type LocatedPages struct {
	MainURL  string                 `json:"main_url"`
	MainPage *FetchResult           `json:"-"`
	Pages    map[PageType]PageMatch `json:"pages"`
}

// URL returns the resolved URL for a page type, or "" when unresolved.
func (l *LocatedPages) URL(pt PageType) string {
	if l == nil || l.Pages == nil {
		return ""
	}
	return l.Pages[pt].URL
}

// Resolved reports whether a page type has a resolved URL.
func (l *LocatedPages) Resolved(pt PageType) bool {
	return l.URL(pt) != ""
}
