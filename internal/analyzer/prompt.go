package analyzer

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/sells-group/insight-cli/internal/config"
	"github.com/sells-group/insight-cli/internal/extract"
	"github.com/sells-group/insight-cli/internal/model"
)

const truncatedMarker = "... (truncated)"

// importantTerms flag paragraphs that are kept ahead of earlier ones when
// the paragraph budget is tight.
var importantTerms = []string{
	"acqui", "merger", "funding", "raised", "series a", "series b", "series c",
	"investor", "investment", "private equity", "venture", "customers", "clients",
	"growth", "revenue", "expansion", "expand", "partnership", "partner",
	"award", "employees", "million", "billion", "founded", "headquarter",
}

const systemPrompt = `You are a senior investment analyst doing M&A screening. You identify business transformation opportunities from public website data.

Base your analysis strictly on the scraped data you are given. Mention limitations where data is missing or unreliable. Where a field asks for inference, keep it conservative.

Respond with a single JSON object and nothing else: no prose, no markdown fences. The object must have exactly these keys:

{
  "swot": {
    "strengths": ["2-3 strengths stated or clearly implied by the text"],
    "weaknesses": ["1-2 weaknesses directly implied by the text, or 'None apparent from text'"],
    "opportunities": ["1-2 opportunities suggested by the text"],
    "threats": ["1-2 threats directly implied or mentioned, or 'None apparent from text'"]
  },
  "transformation_angles": ["1-3 high-level transformation strategies an acquirer could pursue (inference)"],
  "key_executives": [{"name": "Full Name", "title": "Title"}],
  "career_page_themes": ["2-4 themes from careers content, or an empty list when there is none"],
  "contact_points": ["2-3 types of roles or departments to approach first (inference)"],
  "funding_mentions": ["explicit mentions of acquisitions, funding rounds or strategic investments; empty list if none"],
  "technology_flags": ["observations drawn only from the detected technologies, stated with low confidence"],
  "review_site_presence": "one sentence summarizing review site presence",
  "data_completeness_notes": ["significant gaps in the scraped data"],
  "speculation_caveat": "a one-sentence caveat about the limits of this analysis"
}

key_executives lists at most 5 senior roles taken from the leadership data; use an empty list when none were found. Every list value is a JSON array of strings unless shown otherwise.`

// Prompt is a rendered model request.
type Prompt struct {
	System    string
	User      string
	Truncated bool
}

// BuildPrompt renders the document into a prompt, applying the configured
// truncation policy.
func BuildPrompt(doc *model.ScrapeDocument, cfg config.AnalyzerConfig) Prompt {
	cfg = withDefaults(cfg)
	var content strings.Builder

	mp := doc.MainPage
	if mp.Empty() {
		content.WriteString("Main Page: scrape failed or no data.\n\n")
	} else {
		section(&content, "Main Page Title", extract.Truncate(mp.Title, cfg.SnippetChars))
		section(&content, "Main Page Description", extract.Truncate(mp.MetaDescription, cfg.SnippetChars))
		headings := mp.Headings
		if len(headings) > cfg.MaxHeadings {
			headings = headings[:cfg.MaxHeadings]
		}
		section(&content, "Main Page Headings", extract.Truncate(strings.Join(headings, " | "), cfg.SnippetChars))
		section(&content, "Main Page Key Paragraphs", strings.Join(selectParagraphs(mp.Paragraphs, cfg), "\n"))
	}

	for _, pt := range model.SubPageTypes() {
		sp, ok := doc.SubPages[pt]
		if !ok || strings.TrimSpace(sp.Content) == "" {
			continue
		}
		label := fmt.Sprintf("%s Page Content (%s)", titleWord(string(pt)), sp.URL)
		section(&content, label, extract.Truncate(sp.Content, cfg.SubPageChars))
	}

	text := content.String()
	truncated := false
	if utf8.RuneCountInString(text) > cfg.MaxInputChars {
		text = string([]rune(text)[:cfg.MaxInputChars]) + truncatedMarker + "\n\n"
		truncated = true
	}

	var b strings.Builder
	p := doc.InputParameters
	location := p.Location
	if location == "" {
		location = "location not provided"
	}
	fmt.Fprintf(&b, "Analyze the scraped website data for %q (%s), website %s.\n\n", p.CompanyName, location, p.URL)
	b.WriteString("## Scraped Content\n\n")
	b.WriteString(text)
	b.WriteString(leadershipSummary(doc.LeadershipTeam, cfg.MaxLeaders))
	b.WriteString(technologySummary(doc.TechnologyInfo))
	b.WriteString("Technology detection is passive fingerprinting and may be incomplete or inaccurate.\n\n")
	b.WriteString(reviewSummary(doc.ReviewSnippets, cfg.MaxReviewSnippets, cfg.SnippetChars))
	b.WriteString(errorSummary(doc.OverallErrors))

	return Prompt{System: systemPrompt, User: b.String(), Truncated: truncated}
}

func withDefaults(cfg config.AnalyzerConfig) config.AnalyzerConfig {
	def := func(v *int, d int) {
		if *v <= 0 {
			*v = d
		}
	}
	def(&cfg.MaxInputChars, 20000)
	def(&cfg.SnippetChars, 500)
	def(&cfg.ParagraphChars, 1500)
	def(&cfg.SubPageChars, 2500)
	def(&cfg.MaxParagraphs, 12)
	def(&cfg.MaxHeadings, 20)
	def(&cfg.MaxLeaders, 15)
	def(&cfg.MaxReviewSnippets, 10)
	return cfg
}

func section(b *strings.Builder, label, body string) {
	if strings.TrimSpace(body) == "" {
		fmt.Fprintf(b, "%s: N/A\n\n", label)
		return
	}
	fmt.Fprintf(b, "%s:\n%s\n\n", label, body)
}

func titleWord(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func important(p string) bool {
	lower := strings.ToLower(p)
	for _, t := range importantTerms {
		if strings.Contains(lower, t) {
			return true
		}
	}
	return false
}

// selectParagraphs picks flagged paragraphs first, then the earliest ones,
// until the count or character budget is spent, and returns the selection
// in document order.
func selectParagraphs(paragraphs []string, cfg config.AnalyzerConfig) []string {
	order := make([]int, len(paragraphs))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return important(paragraphs[order[a]]) && !important(paragraphs[order[b]])
	})

	var picked []int
	used := 0
	for _, i := range order {
		if len(picked) >= cfg.MaxParagraphs {
			break
		}
		p := extract.Truncate(extract.CleanText(paragraphs[i]), cfg.SnippetChars)
		n := utf8.RuneCountInString(p)
		if p == "" || used+n > cfg.ParagraphChars {
			continue
		}
		used += n
		picked = append(picked, i)
	}
	sort.Ints(picked)

	out := make([]string, len(picked))
	for j, i := range picked {
		out[j] = "- " + extract.Truncate(extract.CleanText(paragraphs[i]), cfg.SnippetChars)
	}
	return out
}

func leadershipSummary(leaders []model.Executive, limit int) string {
	if len(leaders) == 0 {
		return "Leadership Found: none\n\n"
	}
	var b strings.Builder
	b.WriteString("Leadership Found (Name - Title):\n")
	shown := leaders
	if len(shown) > limit {
		shown = shown[:limit]
	}
	for _, l := range shown {
		title := l.Title
		if title == "" {
			title = "(title not specified)"
		}
		fmt.Fprintf(&b, "- %s - %s\n", l.Name, title)
	}
	if extra := len(leaders) - len(shown); extra > 0 {
		fmt.Fprintf(&b, "... (and %d others found)\n", extra)
	}
	b.WriteString("\n")
	return b.String()
}

func technologySummary(t model.TechnologyInfo) string {
	if t.Error != "" {
		return "Technology Detection: failed or not available.\n"
	}
	if len(t.Categories) == 0 {
		return "Technology Detection: no specific technologies identified.\n"
	}
	cats := make([]string, 0, len(t.Categories))
	for c := range t.Categories {
		cats = append(cats, c)
	}
	sort.Strings(cats)
	var b strings.Builder
	b.WriteString("Technology Detection (category: technologies):\n")
	for _, c := range cats {
		fmt.Fprintf(&b, "- %s: %s\n", c, strings.Join(t.Categories[c], ", "))
	}
	return b.String()
}

func reviewSummary(reviews []model.ReviewSnippet, limit, snippetChars int) string {
	if len(reviews) == 0 {
		return "Review Site Presence: no relevant snippets found.\n\n"
	}
	sites := map[string]bool{}
	for _, r := range reviews {
		sites[r.Source] = true
	}
	names := make([]string, 0, len(sites))
	for s := range sites {
		names = append(names, s)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("Review Site Presence:\n")
	fmt.Fprintf(&b, "- Found relevant results on: %s\n", strings.Join(names, ", "))
	shown := reviews
	if len(shown) > limit {
		shown = shown[:limit]
	}
	for _, r := range shown {
		fmt.Fprintf(&b, "  - [%s] %s\n", r.Source, extract.Truncate(r.Snippet, snippetChars))
	}
	if extra := len(reviews) - len(shown); extra > 0 {
		fmt.Fprintf(&b, "  ... (and %d more)\n", extra)
	}
	b.WriteString("\n")
	return b.String()
}

// Only the first maxPromptErrors errors are listed, each cut to
// promptErrorChars.
const (
	maxPromptErrors  = 10
	promptErrorChars = 200
)

func errorSummary(errs []string) string {
	if len(errs) == 0 {
		return "Scraping Errors Logged: none\n"
	}
	var b strings.Builder
	b.WriteString("Scraping Errors Logged:\n")
	for i, e := range errs {
		if i == maxPromptErrors {
			fmt.Fprintf(&b, "- ... and %d more\n", len(errs)-maxPromptErrors)
			break
		}
		b.WriteString("- " + extract.Truncate(e, promptErrorChars) + "\n")
	}
	return b.String()
}
