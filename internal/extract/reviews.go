package extract

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/sells-group/insight-cli/internal/config"
	"github.com/sells-group/insight-cli/internal/fetcher"
	"github.com/sells-group/insight-cli/internal/model"
	"github.com/sells-group/insight-cli/pkg/jina"
)

const (
	reviewSnippetChars  = 500
	websiteSource       = "website"
	maxTestimonials     = 5
	minTestimonialChars = 40
	searchConcurrency   = 3
)

var legalSuffixes = map[string]bool{
	"inc": true, "llc": true, "ltd": true, "corp": true, "corporation": true,
	"group": true, "co": true, "company": true, "plc": true, "gmbh": true,
	"the": true, "and": true,
}

var comparisonWords = []string{"vs", "versus", "compare", "comparison", "alternative", "alternatives", "competitor", "competitors"}

var nameSplit = regexp.MustCompile(`[\s,.&]+`)

const testimonialSelector = `blockquote, q, [class*="testimonial"], [class*="review"], [class*="quote"]`

// ReviewsPass gathers third-party review snippets through site-restricted
// search, plus testimonials from the company's own reviews page.
type ReviewsPass struct {
	src     pageSource
	cfg     config.ExtractConfig
	search  jina.Client
	limiter *rate.Limiter
}

// NewReviews creates the reviews pass. A nil search client limits the pass
// to on-site testimonials. searchRate <= 0 leaves searches unpaced.
func NewReviews(f fetcher.Fetcher, fetchCfg config.FetchConfig, cfg config.ExtractConfig, search jina.Client, searchRate float64) *ReviewsPass {
	limit := rate.Inf
	if searchRate > 0 {
		limit = rate.Limit(searchRate)
	}
	if len(cfg.ReviewSites) == 0 {
		cfg.ReviewSites = config.DefaultReviewSites()
	}
	if cfg.MaxReviewResults <= 0 {
		cfg.MaxReviewResults = 18
	}
	return &ReviewsPass{
		src:     pageSource{f: f, cfg: fetchCfg},
		cfg:     cfg,
		search:  search,
		limiter: rate.NewLimiter(limit, 1),
	}
}

// Kind implements Pass.
func (p *ReviewsPass) Kind() model.PassKind { return model.PassReviews }

type siteResult struct {
	snippets []model.ReviewSnippet
	err      error
}

// Extract implements Pass. Finding nothing is not an error; the pass fails
// only when every search failed and nothing else was found.
func (p *ReviewsPass) Extract(ctx context.Context, in Input) (model.PartialResult, error) {
	log := zap.L().With(zap.String("component", "extract.reviews"), zap.String("company", in.Request.CompanyName))
	out := model.PartialResult{Reviews: []model.ReviewSnippet{}}

	sites := p.sortedSites()
	results := make([]siteResult, len(sites))
	if p.search != nil && strings.TrimSpace(in.Request.CompanyName) != "" {
		query := strings.TrimSpace(in.Request.CompanyName + " " + in.Request.Location + " reviews")
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(searchConcurrency)
		for i, site := range sites {
			g.Go(func() error {
				results[i] = p.searchSite(gctx, query, in.Request.CompanyName, site)
				return nil
			})
		}
		_ = g.Wait()
	}

	seen := make(map[string]bool)
	failed := 0
	var lastErr error
	for i, r := range results {
		if r.err != nil {
			failed++
			lastErr = r.err
			out.Notes = append(out.Notes, fmt.Sprintf("reviews: %s search failed: %v", sites[i].Name, r.err))
			continue
		}
		for _, s := range r.snippets {
			if len(out.Reviews) >= p.cfg.MaxReviewResults {
				break
			}
			if seen[s.URL] {
				continue
			}
			seen[s.URL] = true
			out.Reviews = append(out.Reviews, s)
		}
	}

	if pageURL := in.Located.URL(model.PageTypeReviews); pageURL != "" {
		res, err := p.src.get(ctx, pageURL, model.FetchStatic)
		if err != nil {
			out.Notes = append(out.Notes, fmt.Sprintf("reviews: on-site page %s: %v", pageURL, err))
		} else {
			for _, t := range Testimonials(res.HTML, pageURL, maxTestimonials) {
				if len(out.Reviews) >= p.cfg.MaxReviewResults {
					break
				}
				out.Reviews = append(out.Reviews, t)
			}
		}
	}

	if len(sites) > 0 && failed == len(results) && p.search != nil && len(out.Reviews) == 0 && lastErr != nil {
		return model.PartialResult{}, eris.Wrap(lastErr, "reviews: all searches failed")
	}
	log.Debug("reviews collected", zap.Int("count", len(out.Reviews)), zap.Int("failed_sites", failed))
	return out, nil
}

func (p *ReviewsPass) sortedSites() []config.ReviewSite {
	sites := make([]config.ReviewSite, len(p.cfg.ReviewSites))
	copy(sites, p.cfg.ReviewSites)
	sort.SliceStable(sites, func(i, j int) bool { return sites[i].Priority < sites[j].Priority })
	return sites
}

func (p *ReviewsPass) searchSite(ctx context.Context, query, company string, site config.ReviewSite) siteResult {
	if err := p.limiter.Wait(ctx); err != nil {
		return siteResult{err: eris.Wrap(err, "reviews: rate limit wait")}
	}
	resp, err := p.search.Search(ctx, query, jina.WithSiteFilter(site.Domain))
	if err != nil {
		return siteResult{err: err}
	}
	match := NewReviewMatcher(company)
	var out []model.ReviewSnippet
	for _, r := range resp.Data {
		if site.MaxResults > 0 && len(out) >= site.MaxResults {
			break
		}
		if !match.Relevant(r.Title, r.URL) {
			continue
		}
		text := r.Description
		if text == "" {
			text = r.Content
		}
		out = append(out, model.ReviewSnippet{
			Source:  site.Name,
			Snippet: Truncate(CleanText(text), reviewSnippetChars),
			URL:     r.URL,
		})
	}
	return siteResult{snippets: out}
}

// ReviewMatcher decides whether search hits are about one company. It holds
// the compiled name patterns for the lifetime of a single search.
type ReviewMatcher struct {
	variants []*regexp.Regexp
}

// NewReviewMatcher compiles word-boundary patterns for the full company name
// and each significant token of it. An empty name matches every hit.
func NewReviewMatcher(company string) *ReviewMatcher {
	key := strings.ToLower(strings.TrimSpace(company))
	if key == "" {
		return &ReviewMatcher{}
	}
	variants := []string{key}
	for _, part := range nameSplit.Split(key, -1) {
		if len(part) > 2 && !legalSuffixes[part] {
			variants = append(variants, part)
		}
	}
	m := &ReviewMatcher{variants: make([]*regexp.Regexp, 0, len(variants))}
	for _, v := range variants {
		m.variants = append(m.variants, regexp.MustCompile(`\b`+regexp.QuoteMeta(v)+`\b`))
	}
	return m
}

// Relevant reports whether a search hit is about the company and is not a
// comparison page.
func (m *ReviewMatcher) Relevant(title, link string) bool {
	if len(m.variants) == 0 {
		return true
	}
	haystack := strings.ToLower(title + " " + link)
	matched := false
	for _, re := range m.variants {
		if re.MatchString(haystack) {
			matched = true
			break
		}
	}
	if !matched {
		return false
	}
	titleWords := " " + wordsOnly(title) + " "
	for _, w := range comparisonWords {
		if strings.Contains(titleWords, " "+w+" ") {
			return false
		}
	}
	return true
}

// RelevantReview is a one-shot form of ReviewMatcher.Relevant.
func RelevantReview(title, link, company string) bool {
	return NewReviewMatcher(company).Relevant(title, link)
}

// Testimonials harvests quote blocks from an on-site reviews page.
func Testimonials(raw, pageURL string, limit int) []model.ReviewSnippet {
	doc, err := parse(raw)
	if err != nil {
		return nil
	}
	doc.Find(noiseSelector).Remove()

	var out []model.ReviewSnippet
	seen := make(map[string]bool)
	doc.Find(testimonialSelector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if limit > 0 && len(out) >= limit {
			return false
		}
		text := nodeText(s)
		if len(text) < minTestimonialChars || seen[text] {
			return true
		}
		for k := range seen {
			if strings.Contains(k, text) || strings.Contains(text, k) {
				return true
			}
		}
		seen[text] = true
		out = append(out, model.ReviewSnippet{
			Source:  websiteSource,
			Snippet: Truncate(text, reviewSnippetChars),
			URL:     pageURL,
		})
		return true
	})
	return out
}
