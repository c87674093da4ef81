package extract

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/insight-cli/internal/model"
	"github.com/sells-group/insight-cli/pkg/jina"
)

const careersPage = `<html><head><title>Careers at Acme</title></head><body>
<nav><a href="/">Home</a></nav>
<main>
<h1>Join Acme</h1>
<p>We are hiring machinists, quality engineers and <a href="/jobs/42">CNC programmers</a> across our three plants.
Our teams value craftsmanship, safety and continuous improvement, and we invest in apprenticeships.</p>
<ul><li>Competitive pay</li><li>401(k) match</li></ul>
</main>
<footer>Copyright Acme</footer>
</body></html>`

func TestSubPagesPass_ConvertsToMarkdown(t *testing.T) {
	site := &sitePages{pages: map[string]string{"https://acme.example.com/careers": careersPage}}
	p := NewSubPages(site.fetcher(), testFetchCfg, testExtractCfg(), nil)

	out := Run(context.Background(), p, Input{
		Located: located(nil, map[model.PageType]string{
			model.PageTypeCareers:    "https://acme.example.com/careers",
			model.PageTypeLeadership: "https://acme.example.com/team",
		}),
	})
	require.False(t, out.Failed())
	require.Len(t, out.Partial.SubPages, 1, "leadership has its own pass")

	sp := out.Partial.SubPages[model.PageTypeCareers]
	assert.Equal(t, "https://acme.example.com/careers", sp.URL)
	assert.Contains(t, sp.Title, "Acme")
	assert.Contains(t, sp.Content, "machinists")
	assert.Contains(t, sp.Content, "https://acme.example.com/jobs/42")
	assert.NotContains(t, sp.Content, "<p>")
	assert.Empty(t, out.Partial.Notes)
}

func TestSubPagesPass_Truncates(t *testing.T) {
	site := &sitePages{pages: map[string]string{"https://acme.example.com/careers": careersPage}}
	cfg := testExtractCfg()
	cfg.SubPageChars = 40
	p := NewSubPages(site.fetcher(), testFetchCfg, cfg, nil)

	out := Run(context.Background(), p, Input{
		Located: located(nil, map[model.PageType]string{model.PageTypeCareers: "https://acme.example.com/careers"}),
	})
	require.False(t, out.Failed())
	content := out.Partial.SubPages[model.PageTypeCareers].Content
	assert.LessOrEqual(t, len([]rune(content)), 40)
	assert.True(t, strings.HasSuffix(content, "..."))
}

func TestSubPagesPass_ReaderFallback(t *testing.T) {
	site := &sitePages{pages: map[string]string{}}
	reader := &fakeSearch{reads: map[string]*jina.ReadResponse{
		"https://acme.example.com/news": {Code: 200, Data: jina.ReadData{Title: "News", Content: "# Acme opens new plant"}},
	}}
	p := NewSubPages(site.fetcher(), testFetchCfg, testExtractCfg(), reader)

	out := Run(context.Background(), p, Input{
		Located: located(nil, map[model.PageType]string{
			model.PageTypeNews:    "https://acme.example.com/news",
			model.PageTypeContact: "https://acme.example.com/contact",
		}),
	})
	require.False(t, out.Failed())
	assert.Equal(t, model.SubPage{URL: "https://acme.example.com/news", Title: "News", Content: "# Acme opens new plant"},
		out.Partial.SubPages[model.PageTypeNews])
	assert.NotContains(t, out.Partial.SubPages, model.PageTypeContact)
	require.Len(t, out.Partial.Notes, 1)
	assert.Contains(t, out.Partial.Notes[0], "contact")
	assert.Contains(t, out.Partial.Notes[0], "reader fallback")
}

func TestSubPagesPass_NothingLocated(t *testing.T) {
	p := NewSubPages(nil, testFetchCfg, testExtractCfg(), nil)

	out := Run(context.Background(), p, Input{Located: located(nil, nil)})
	require.False(t, out.Failed())
	assert.NotNil(t, out.Partial.SubPages)
	assert.Empty(t, out.Partial.SubPages)
}
