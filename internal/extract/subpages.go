package extract

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	readability "github.com/go-shiori/go-readability"
	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/insight-cli/internal/config"
	"github.com/sells-group/insight-cli/internal/fetcher"
	"github.com/sells-group/insight-cli/internal/model"
	"github.com/sells-group/insight-cli/pkg/jina"
)

// minArticleChars is the shortest readability text accepted before falling
// back to converting the whole page.
const minArticleChars = 50

// SubPagesPass summarizes the careers, contact, news and investor pages as
// truncated Markdown.
type SubPagesPass struct {
	src    pageSource
	cfg    config.ExtractConfig
	reader jina.Client
	conv   *converter.Converter
}

// NewSubPages creates the sub-page pass. When reader is non-nil it is used as
// a fallback for pages the fetcher could not retrieve.
func NewSubPages(f fetcher.Fetcher, fetchCfg config.FetchConfig, cfg config.ExtractConfig, reader jina.Client) *SubPagesPass {
	if cfg.SubPageChars <= 0 {
		cfg.SubPageChars = 4000
	}
	return &SubPagesPass{
		src:    pageSource{f: f, cfg: fetchCfg},
		cfg:    cfg,
		reader: reader,
		conv:   newMarkdownConverter(),
	}
}

func newMarkdownConverter() *converter.Converter {
	return converter.NewConverter(
		converter.WithPlugins(
			base.NewBasePlugin(),
			commonmark.NewCommonmarkPlugin(),
			table.NewTablePlugin(table.WithCellPaddingBehavior(table.CellPaddingBehaviorMinimal)),
		),
	)
}

// Kind implements Pass.
func (p *SubPagesPass) Kind() model.PassKind { return model.PassSubPages }

// Extract implements Pass. Pages that cannot be retrieved are reported as
// notes; the pass itself only fails on cancellation.
func (p *SubPagesPass) Extract(ctx context.Context, in Input) (model.PartialResult, error) {
	out := model.PartialResult{SubPages: map[model.PageType]model.SubPage{}}

	var mu sync.Mutex
	notes := make(map[model.PageType]string)
	g, gctx := errgroup.WithContext(ctx)
	for _, pt := range model.SubPageTypes() {
		pageURL := in.Located.URL(pt)
		if pageURL == "" {
			continue
		}
		g.Go(func() error {
			sp, err := p.page(gctx, pageURL)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				notes[pt] = fmt.Sprintf("sub_pages: %s page %s: %v", pt, pageURL, err)
				return nil
			}
			out.SubPages[pt] = *sp
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil && len(out.SubPages) == 0 && len(notes) > 0 {
		return model.PartialResult{}, eris.Wrap(err, "sub_pages: cancelled")
	}
	for _, pt := range model.SubPageTypes() {
		if n, ok := notes[pt]; ok {
			out.Notes = append(out.Notes, n)
		}
	}
	return out, nil
}

func (p *SubPagesPass) page(ctx context.Context, pageURL string) (*model.SubPage, error) {
	res, err := p.src.get(ctx, pageURL, model.FetchStatic)
	if err != nil {
		if p.reader == nil || ctx.Err() != nil {
			return nil, err
		}
		return p.read(ctx, pageURL, err)
	}
	title, md, err := p.markdown(res.BaseURL(), res.HTML)
	if err != nil {
		return nil, err
	}
	return &model.SubPage{URL: pageURL, Title: title, Content: Truncate(md, p.cfg.SubPageChars)}, nil
}

// read retrieves a page through the reader service after a failed fetch.
func (p *SubPagesPass) read(ctx context.Context, pageURL string, fetchErr error) (*model.SubPage, error) {
	resp, err := p.reader.Read(ctx, pageURL)
	if err != nil {
		return nil, eris.Wrapf(fetchErr, "reader fallback also failed: %v", err)
	}
	content := strings.TrimSpace(resp.Data.Content)
	if content == "" {
		return nil, fetchErr
	}
	return &model.SubPage{
		URL:     pageURL,
		Title:   CleanText(resp.Data.Title),
		Content: Truncate(content, p.cfg.SubPageChars),
	}, nil
}

// markdown extracts the main content with readability and renders it as
// Markdown. Pages readability cannot handle are converted whole after noise
// removal.
func (p *SubPagesPass) markdown(pageURL, raw string) (string, string, error) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return "", "", eris.Wrap(err, "sub_pages: parse url")
	}
	domain := u.Scheme + "://" + u.Host

	article, rerr := readability.FromReader(strings.NewReader(raw), u)
	if rerr == nil && len(strings.TrimSpace(article.TextContent)) >= minArticleChars {
		md, err := p.conv.ConvertString(article.Content, converter.WithDomain(domain))
		if err == nil {
			return CleanText(article.Title), strings.TrimSpace(md), nil
		}
	}

	doc, err := parse(raw)
	if err != nil {
		return "", "", err
	}
	title := CleanText(doc.Find("title").First().Text())
	doc.Find(noiseSelector).Remove()
	body, err := doc.Find("body").Html()
	if err != nil {
		return "", "", eris.Wrap(err, "sub_pages: render body")
	}
	md, err := p.conv.ConvertString(body, converter.WithDomain(domain))
	if err != nil {
		return "", "", eris.Wrap(err, "sub_pages: convert markdown")
	}
	return title, strings.TrimSpace(md), nil
}
