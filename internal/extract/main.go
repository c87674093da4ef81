package extract

import (
	"context"
	"net/url"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/abadojack/whatlanggo"
	readability "github.com/go-shiori/go-readability"

	"github.com/sells-group/insight-cli/internal/config"
	"github.com/sells-group/insight-cli/internal/fetcher"
	"github.com/sells-group/insight-cli/internal/model"
)

var boilerplate = []string{"copyright", "all rights reserved", "privacy policy", "terms of use", "cookie"}

// mainAreaSelectors are tried in order; body is the fallback.
var mainAreaSelectors = []string{"main", "article", `div[role="main"]`, "#content", ".content"}

// MainPass extracts title, description, headings and content paragraphs
// from the landing page.
type MainPass struct {
	src pageSource
	cfg config.ExtractConfig
}

// NewMain creates the main-page pass.
func NewMain(f fetcher.Fetcher, fetchCfg config.FetchConfig, cfg config.ExtractConfig) *MainPass {
	return &MainPass{src: pageSource{f: f, cfg: fetchCfg}, cfg: cfg}
}

// Kind implements Pass.
func (p *MainPass) Kind() model.PassKind { return model.PassMain }

// Extract implements Pass. The locator's main-page fetch is reused; a failed
// locator fetch yields an empty result because that failure is already
// recorded by the coordinator.
func (p *MainPass) Extract(ctx context.Context, in Input) (model.PartialResult, error) {
	var res *model.FetchResult
	switch {
	case in.Located != nil && in.Located.MainPage != nil:
		if !in.Located.MainPage.OK() {
			return model.PartialResult{}, nil
		}
		res = in.Located.MainPage
	default:
		mode := model.FetchStatic
		if in.Request.DynamicMain {
			mode = model.FetchDynamic
		}
		var err error
		res, err = p.src.get(ctx, in.Request.URL, mode)
		if err != nil {
			return model.PartialResult{}, err
		}
	}

	main, err := ParseMainPage(res.BaseURL(), res.HTML, p.cfg)
	if err != nil {
		return model.PartialResult{}, err
	}
	return model.PartialResult{Main: main}, nil
}

// ParseMainPage extracts the main-page fields from raw HTML.
func ParseMainPage(pageURL, raw string, cfg config.ExtractConfig) (*model.MainPage, error) {
	doc, err := parse(raw)
	if err != nil {
		return nil, err
	}
	minChars, minWords := cfg.MinParagraphChars, cfg.MinParagraphWords
	if minChars <= 0 {
		minChars = 50
	}
	if minWords <= 0 {
		minWords = 5
	}

	out := &model.MainPage{
		URL:             pageURL,
		Title:           CleanText(doc.Find("title").First().Text()),
		MetaDescription: metaDescription(doc),
		Headings:        []string{},
		Paragraphs:      []string{},
	}

	doc.Find(noiseSelector).Remove()

	seen := make(map[string]bool)
	doc.Find("h1, h2, h3, h4, h5, h6").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if cfg.MaxHeadings > 0 && len(out.Headings) >= cfg.MaxHeadings {
			return false
		}
		t := nodeText(s)
		if t != "" && !seen[t] {
			seen[t] = true
			out.Headings = append(out.Headings, t)
		}
		return true
	})

	out.Paragraphs = paragraphs(mainArea(doc), minChars, minWords, cfg.MaxParagraphs)
	if len(out.Paragraphs) == 0 {
		out.Paragraphs = readableParagraphs(pageURL, raw, minChars, minWords, cfg.MaxParagraphs)
	}
	out.Language = detectLanguage(out)
	return out, nil
}

func metaDescription(doc *goquery.Document) string {
	if d, ok := doc.Find(`meta[name="description"]`).First().Attr("content"); ok && CleanText(d) != "" {
		return CleanText(d)
	}
	if d, ok := doc.Find(`meta[property="og:description"]`).First().Attr("content"); ok {
		return CleanText(d)
	}
	return ""
}

func mainArea(doc *goquery.Document) *goquery.Selection {
	for _, sel := range mainAreaSelectors {
		if s := doc.Find(sel).First(); s.Length() > 0 {
			return s
		}
	}
	return doc.Find("body").First()
}

func isBoilerplate(text string) bool {
	if len(text) >= 150 {
		return false
	}
	lower := strings.ToLower(text)
	for _, bp := range boilerplate {
		if strings.Contains(lower, bp) {
			return true
		}
	}
	return false
}

type candidate struct {
	text  string
	order int
}

// paragraphs collects text blocks that carry their own text, drops blocks
// contained in a longer kept block and returns the survivors in document
// order.
func paragraphs(area *goquery.Selection, minChars, minWords, limit int) []string {
	var cands []candidate
	seen := make(map[string]bool)
	area.Find("p, li, div, span, td, blockquote").Each(func(i int, s *goquery.Selection) {
		text := nodeText(s)
		if len(text) < minChars || wordCount(text) < minWords {
			return
		}
		if s.Children().Length() > 0 && ownText(s) == "" {
			return
		}
		if isBoilerplate(text) || seen[text] {
			return
		}
		seen[text] = true
		cands = append(cands, candidate{text: text, order: i})
	})
	return dedupeSubsets(cands, limit)
}

func dedupeSubsets(cands []candidate, limit int) []string {
	byLen := make([]candidate, len(cands))
	copy(byLen, cands)
	sort.SliceStable(byLen, func(i, j int) bool { return len(byLen[i].text) > len(byLen[j].text) })

	var kept []candidate
	for _, c := range byLen {
		subset := false
		for _, k := range kept {
			if strings.Contains(k.text, c.text) {
				subset = true
				break
			}
		}
		if !subset {
			kept = append(kept, c)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].order < kept[j].order })
	if limit > 0 && len(kept) > limit {
		kept = kept[:limit]
	}
	out := make([]string, len(kept))
	for i, k := range kept {
		out[i] = k.text
	}
	return out
}

// readableParagraphs falls back to the readability article text when the
// structural pass finds nothing, which happens on div-soup layouts.
func readableParagraphs(pageURL, raw string, minChars, minWords, limit int) []string {
	u, err := url.Parse(pageURL)
	if err != nil {
		return []string{}
	}
	article, err := readability.FromReader(strings.NewReader(raw), u)
	if err != nil {
		return []string{}
	}
	var cands []candidate
	seen := make(map[string]bool)
	for i, line := range strings.Split(article.TextContent, "\n") {
		text := CleanText(line)
		if len(text) < minChars || wordCount(text) < minWords || isBoilerplate(text) || seen[text] {
			continue
		}
		seen[text] = true
		cands = append(cands, candidate{text: text, order: i})
	}
	return dedupeSubsets(cands, limit)
}

func detectLanguage(m *model.MainPage) string {
	var b strings.Builder
	b.WriteString(m.Title)
	b.WriteByte(' ')
	b.WriteString(m.MetaDescription)
	for i, p := range m.Paragraphs {
		if i >= 5 {
			break
		}
		b.WriteByte(' ')
		b.WriteString(p)
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return ""
	}
	info := whatlanggo.Detect(text)
	if !info.IsReliable() {
		return ""
	}
	return info.Lang.Iso6393()
}
