package extract

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"

	wappalyzer "github.com/projectdiscovery/wappalyzergo"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/insight-cli/internal/config"
	"github.com/sells-group/insight-cli/internal/fetcher"
	"github.com/sells-group/insight-cli/internal/model"
)

const uncategorized = "Other"

// Profiler fingerprints technologies from response headers and body.
type Profiler interface {
	Profile(header http.Header, body []byte) (map[string][]string, error)
}

// wappalyzerProfiler wraps wappalyzergo. The fingerprint database is loaded
// once, on first use.
type wappalyzerProfiler struct {
	once sync.Once
	wap  *wappalyzer.Wappalyze
	cats map[int]string
	err  error
}

// NewProfiler returns the wappalyzergo-backed profiler.
func NewProfiler() Profiler {
	return &wappalyzerProfiler{}
}

func (w *wappalyzerProfiler) load() {
	w.wap, w.err = wappalyzer.New()
	if w.err != nil {
		w.err = eris.Wrap(w.err, "technology: load fingerprints")
		return
	}
	w.cats = make(map[int]string)
	for id, cat := range wappalyzer.GetCategoriesMapping() {
		w.cats[id] = cat.Name
	}
}

// Profile returns category name to sorted technology names.
func (w *wappalyzerProfiler) Profile(header http.Header, body []byte) (map[string][]string, error) {
	w.once.Do(w.load)
	if w.err != nil {
		return nil, w.err
	}
	fingerprints := w.wap.FingerprintWithCats(header, body)

	sets := make(map[string]map[string]bool)
	for tech, info := range fingerprints {
		names := make([]string, 0, len(info.Cats))
		for _, id := range info.Cats {
			if n, ok := w.cats[id]; ok {
				names = append(names, n)
			}
		}
		if len(names) == 0 {
			names = append(names, uncategorized)
		}
		for _, n := range names {
			if sets[n] == nil {
				sets[n] = make(map[string]bool)
			}
			sets[n][tech] = true
		}
	}
	return flatten(sets), nil
}

func flatten(sets map[string]map[string]bool) map[string][]string {
	out := make(map[string][]string, len(sets))
	for cat, techs := range sets {
		list := make([]string, 0, len(techs))
		for t := range techs {
			list = append(list, t)
		}
		sort.Strings(list)
		out[cat] = list
	}
	return out
}

// TechnologyPass fingerprints the technology stack of the main page.
type TechnologyPass struct {
	src      pageSource
	profiler Profiler
}

// NewTechnology creates the technology pass with the default profiler.
func NewTechnology(f fetcher.Fetcher, fetchCfg config.FetchConfig) *TechnologyPass {
	return NewTechnologyWith(f, fetchCfg, NewProfiler())
}

// NewTechnologyWith creates the technology pass with a custom profiler.
func NewTechnologyWith(f fetcher.Fetcher, fetchCfg config.FetchConfig, p Profiler) *TechnologyPass {
	return &TechnologyPass{src: pageSource{f: f, cfg: fetchCfg}, profiler: p}
}

// Kind implements Pass.
func (p *TechnologyPass) Kind() model.PassKind { return model.PassTechnology }

// Extract implements Pass. Profiling problems are reported through
// TechnologyInfo.Error and a note rather than failing the pass.
func (p *TechnologyPass) Extract(ctx context.Context, in Input) (model.PartialResult, error) {
	info := &model.TechnologyInfo{Categories: map[string][]string{}}
	out := model.PartialResult{Technology: info}

	res := p.page(ctx, in)
	if !res.OK() {
		info.Error = "main page unavailable"
		out.Notes = append(out.Notes, "technology: main page unavailable, nothing to profile")
		return out, nil
	}

	cats, err := p.profiler.Profile(res.Headers, []byte(res.HTML))
	if err != nil {
		info.Error = err.Error()
		out.Notes = append(out.Notes, fmt.Sprintf("technology: profiling failed: %v", err))
		return out, nil
	}
	info.Categories = cats
	return out, nil
}

// page returns the best page to profile. A rendered main page has no
// response headers, so a static copy is fetched for them; if that fails the
// rendered body is profiled alone.
func (p *TechnologyPass) page(ctx context.Context, in Input) *model.FetchResult {
	var main *model.FetchResult
	if in.Located != nil {
		main = in.Located.MainPage
	}
	if main.OK() && main.Mode != model.FetchDynamic && len(main.Headers) > 0 {
		return main
	}
	res, err := p.src.get(ctx, in.Request.URL, model.FetchStatic)
	if err == nil {
		return res
	}
	zap.L().Debug("technology: static refetch failed", zap.String("url", in.Request.URL), zap.Error(err))
	return main
}
