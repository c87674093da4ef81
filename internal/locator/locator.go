// Package locator finds the company's leadership, careers, reviews and other
// secondary pages by fuzzy-matching the links on its home page.
package locator

import (
	"context"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/insight-cli/internal/config"
	"github.com/sells-group/insight-cli/internal/fetcher"
	"github.com/sells-group/insight-cli/internal/model"
)

// Link is a same-site anchor harvested from a page.
type Link struct {
	URL  string
	Text string
}

// Locator resolves page categories from a home page.
type Locator struct {
	fetcher   fetcher.Fetcher
	fetchCfg  config.FetchConfig
	threshold float64
	maxLinks  int
	vocab     map[model.PageType][]string
	log       *zap.Logger
}

// New creates a Locator. Vocabulary phrases are normalized once here.
func New(f fetcher.Fetcher, cfg config.LocatorConfig, fetchCfg config.FetchConfig) *Locator {
	vocabs := cfg.Vocabularies
	if len(vocabs) == 0 {
		vocabs = config.DefaultVocabularies()
	}
	vocab := make(map[model.PageType][]string, len(vocabs))
	for _, pt := range model.AllPageTypes() {
		for _, term := range vocabs[string(pt)] {
			if n := Normalize(term); n != "" {
				vocab[pt] = append(vocab[pt], n)
			}
		}
	}
	maxLinks := cfg.MaxLinks
	if maxLinks <= 0 {
		maxLinks = 500
	}
	return &Locator{
		fetcher:   f,
		fetchCfg:  fetchCfg,
		threshold: cfg.Threshold,
		maxLinks:  maxLinks,
		vocab:     vocab,
		log:       zap.L().With(zap.String("component", "locator")),
	}
}

// Locate fetches baseURL once and resolves each page category to at most one
// URL. The returned value is never nil: on a failed fetch it carries the
// failed FetchResult and no resolved pages, together with the fetch error.
// An unresolved category is not an error.
func (l *Locator) Locate(ctx context.Context, baseURL string, mode model.FetchMode) (*model.LocatedPages, error) {
	out := &model.LocatedPages{MainURL: baseURL, Pages: map[model.PageType]model.PageMatch{}}

	res, err := l.fetcher.Fetch(ctx, model.FetchRequest{
		URL:     baseURL,
		Mode:    mode,
		Timeout: l.fetchCfg.Timeout(),
		Retries: l.fetchCfg.Retries,
	})
	out.MainPage = res
	if err != nil {
		return out, eris.Wrapf(err, "locator: fetch %s", baseURL)
	}

	links, err := Harvest(res.BaseURL(), res.HTML, l.maxLinks)
	if err != nil {
		return out, eris.Wrap(err, "locator: harvest links")
	}

	out.Pages = l.Resolve(links)
	l.log.Debug("located pages",
		zap.String("url", baseURL),
		zap.Int("links", len(links)),
		zap.Int("resolved", len(out.Pages)),
	)
	return out, nil
}

// Resolve picks the best link per category. Ties keep the earliest link in
// document order; scores below the threshold leave the category unresolved.
func (l *Locator) Resolve(links []Link) map[model.PageType]model.PageMatch {
	pages := make(map[model.PageType]model.PageMatch)
	for _, pt := range model.AllPageTypes() {
		terms := l.vocab[pt]
		if len(terms) == 0 {
			continue
		}
		var best model.PageMatch
		for _, link := range links {
			if s := Score(link.Text, link.URL, terms); s > best.Score {
				best = model.PageMatch{URL: link.URL, Text: link.Text, Score: s}
			}
		}
		if best.URL != "" && best.Score >= l.threshold {
			pages[pt] = best
		}
	}
	return pages
}

// Harvest returns the same-site links of a page in document order. Fragment,
// mail, phone and script links are skipped, as are links back to the page
// itself. A leading "www." is ignored when comparing hosts.
func Harvest(baseURL, html string, limit int) ([]Link, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, eris.Wrap(err, "locator: parse base url")
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, eris.Wrap(err, "locator: parse html")
	}

	baseHost := siteHost(base.Hostname())
	self := canonical(base)
	seen := make(map[string]struct{})
	var links []Link

	doc.Find("a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href := strings.TrimSpace(s.AttrOr("href", ""))
		if skipHref(href) {
			return true
		}
		ref, err := url.Parse(href)
		if err != nil {
			return true
		}
		abs := base.ResolveReference(ref)
		if abs.Scheme != "http" && abs.Scheme != "https" {
			return true
		}
		if siteHost(abs.Hostname()) != baseHost {
			return true
		}
		abs.Fragment = ""
		key := canonical(abs)
		if key == self {
			return true
		}

		text := strings.Join(strings.Fields(s.Text()), " ")
		if text == "" {
			text = s.AttrOr("aria-label", s.AttrOr("title", ""))
		}
		dedup := key + "\x00" + strings.ToLower(text)
		if _, ok := seen[dedup]; ok {
			return true
		}
		seen[dedup] = struct{}{}

		links = append(links, Link{URL: abs.String(), Text: text})
		return limit <= 0 || len(links) < limit
	})
	return links, nil
}

func skipHref(href string) bool {
	if href == "" || strings.HasPrefix(href, "#") {
		return true
	}
	lower := strings.ToLower(href)
	for _, p := range []string{"mailto:", "tel:", "javascript:", "data:"} {
		if strings.HasPrefix(lower, p) {
			return true
		}
	}
	return false
}

func siteHost(host string) string {
	return strings.TrimPrefix(strings.ToLower(host), "www.")
}

func canonical(u *url.URL) string {
	p := strings.TrimSuffix(u.EscapedPath(), "/")
	key := siteHost(u.Hostname()) + p
	if u.RawQuery != "" {
		key += "?" + u.RawQuery
	}
	return key
}
