package model

// DefaultSpeculationCaveat accompanies every successfully analyzed report.
const DefaultSpeculationCaveat = "Analysis is preliminary, based on limited public data, and includes speculation. Financials and internal operations are unknown."

// DegradedSpeculationCaveat replaces the caveat when analysis could not
// produce trustworthy structured output.
const DegradedSpeculationCaveat = "Automated analysis could not be completed; this report contains no model-generated insights. Review the scraped data directly before drawing conclusions."

// SWOT holds the four SWOT quadrants.
type SWOT struct {
	Strengths     []string `json:"strengths"`
	Weaknesses    []string `json:"weaknesses"`
	Opportunities []string `json:"opportunities"`
	Threats       []string `json:"threats"`
}

// InsightReport is the final structured analysis of a company.
type InsightReport struct {
	SWOT                  SWOT        `json:"swot"`
	TransformationAngles  []string    `json:"transformation_angles"`
	KeyExecutives         []Executive `json:"key_executives"`
	CareerPageThemes      []string    `json:"career_page_themes"`
	ContactPoints         []string    `json:"contact_points"`
	FundingMentions       []string    `json:"funding_mentions"`
	TechnologyFlags       []string    `json:"technology_flags"`
	ReviewSitePresence    string      `json:"review_site_presence"`
	DataCompletenessNotes []string    `json:"data_completeness_notes"`
	SpeculationCaveat     string      `json:"speculation_caveat"`
	Error                 *string     `json:"error"`
}

// Normalize replaces nil lists with empty ones so the report always
// serializes with [] rather than null.
func (r *InsightReport) Normalize() *InsightReport {
	r.SWOT.Strengths = orEmpty(r.SWOT.Strengths)
	r.SWOT.Weaknesses = orEmpty(r.SWOT.Weaknesses)
	r.SWOT.Opportunities = orEmpty(r.SWOT.Opportunities)
	r.SWOT.Threats = orEmpty(r.SWOT.Threats)
	r.TransformationAngles = orEmpty(r.TransformationAngles)
	if r.KeyExecutives == nil {
		r.KeyExecutives = []Executive{}
	}
	r.CareerPageThemes = orEmpty(r.CareerPageThemes)
	r.ContactPoints = orEmpty(r.ContactPoints)
	r.FundingMentions = orEmpty(r.FundingMentions)
	r.TechnologyFlags = orEmpty(r.TechnologyFlags)
	r.DataCompletenessNotes = orEmpty(r.DataCompletenessNotes)
	return r
}

// Degraded reports whether the report carries an analysis error.
func (r *InsightReport) Degraded() bool {
	return r.Error != nil
}

// NewDegradedReport returns a report with every list empty and Error set.
func NewDegradedReport(reason string, notes []string) *InsightReport {
	r := &InsightReport{
		DataCompletenessNotes: notes,
		SpeculationCaveat:     DegradedSpeculationCaveat,
		Error:                 &reason,
	}
	return r.Normalize()
}

// Analysis is the response envelope: the intermediate document plus the
// generated report.
type Analysis struct {
	ID       string          `json:"id,omitempty"`
	Scrape   *ScrapeDocument `json:"scrape_analysis"`
	Insights *InsightReport  `json:"llm_generated_insights"`
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
