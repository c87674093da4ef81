package model

import "time"

// InputParameters echoes the request a ScrapeDocument was built for.
type InputParameters struct {
	URL               string    `json:"url"`
	CompanyName       string    `json:"company_name"`
	Location          string    `json:"location"`
	AnalysisTimestamp time.Time `json:"analysis_timestamp"`
}

// MainPage is the content extracted from the company's home page.
type MainPage struct {
	URL             string   `json:"url"`
	Title           string   `json:"title"`
	MetaDescription string   `json:"meta_description"`
	Headings        []string `json:"headings"`
	Paragraphs      []string `json:"paragraphs"`
	Language        string   `json:"language,omitempty"`
}

// Empty reports whether nothing useful was extracted.
func (m MainPage) Empty() bool {
	return m.Title == "" && m.MetaDescription == "" && len(m.Headings) == 0 && len(m.Paragraphs) == 0
}

// Executive is a name/title pair.
type Executive struct {
	Name  string `json:"name"`
	Title string `json:"title"`
}

// TechnologyInfo maps technology categories to detected technology names.
type TechnologyInfo struct {
	Categories map[string][]string `json:"categories"`
	Error      string              `json:"error,omitempty"`
}

// ReviewSnippet is a short third-party mention of the company.
type ReviewSnippet struct {
	Source  string `json:"source"`
	Snippet string `json:"snippet"`
	URL     string `json:"url,omitempty"`
}

// SubPage is summarized content from a located secondary page.
type SubPage struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// ScrapeDocument is the aggregate of every extraction pass. It is always
// well-formed: missing data is an empty container, never a nil document.
type ScrapeDocument struct {
	InputParameters InputParameters      `json:"input_parameters"`
	MainPage        MainPage             `json:"main_page"`
	LeadershipTeam  []Executive          `json:"leadership_team"`
	TechnologyInfo  TechnologyInfo       `json:"technology_info"`
	ReviewSnippets  []ReviewSnippet      `json:"review_snippets"`
	SubPages        map[PageType]SubPage `json:"sub_pages"`
	OverallErrors   []string             `json:"overall_errors"`
}

// NewScrapeDocument returns a document with every container initialized.
func NewScrapeDocument(params InputParameters) *ScrapeDocument {
	return &ScrapeDocument{
		InputParameters: params,
		MainPage: MainPage{
			URL:        params.URL,
			Headings:   []string{},
			Paragraphs: []string{},
		},
		LeadershipTeam: []Executive{},
		TechnologyInfo: TechnologyInfo{Categories: map[string][]string{}},
		ReviewSnippets: []ReviewSnippet{},
		SubPages:       map[PageType]SubPage{},
		OverallErrors:  []string{},
	}
}
