package extract

import (
	"context"
	"regexp"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/sells-group/insight-cli/internal/config"
	"github.com/sells-group/insight-cli/internal/fetcher"
	"github.com/sells-group/insight-cli/internal/model"
)

const maxTitleLen = 90

// roleKeywords identify an executive title. Matched on word boundaries.
var roleKeywords = []string{
	"ceo", "cfo", "coo", "cto", "cio", "cmo", "cro", "cpo", "ciso",
	"chief", "president", "founder", "co founder", "cofounder", "owner",
	"partner", "director", "vp", "svp", "evp", "head of", "manager",
	"chairman", "chairwoman", "chair", "officer", "principal", "general counsel",
	"treasurer", "secretary", "board", "executive", "managing", "lead",
}

// notNames are title-cased phrases common on team pages that are not people.
var notNames = map[string]bool{
	"our team": true, "leadership team": true, "meet the team": true,
	"board of directors": true, "executive team": true, "management team": true,
	"about us": true, "contact us": true, "learn more": true, "read more": true,
	"view profile": true, "our leadership": true, "our people": true,
}

var cardSelector = strings.Join([]string{
	`[class*="team-member"]`, `[class*="member"]`, `[class*="person"]`,
	`[class*="leader"]`, `[class*="executive"]`, `[class*="bio"]`,
	`[class*="profile"]`, `[class*="staff"]`, `[class*="card"]`,
}, ", ")

const (
	cardNameSelector  = `[class*="name"], h2, h3, h4, h5, strong, b`
	cardTitleSelector = `[class*="title"], [class*="position"], [class*="role"], [class*="job"], p, span, em, small`
)

// inlinePattern matches "Jane Doe, Chief Executive Officer" and dash or pipe
// separated variants.
var inlinePattern = regexp.MustCompile(`^(\p{Lu}[\p{L}'.\-]*(?:\s+\p{Lu}[\p{L}'.\-]*){1,3})\s*(?:,|–|—|-|\|)\s*(.{2,90})$`)

var titleCaser = cases.Title(language.English)

// LeadershipPass extracts executives from the located leadership page.
type LeadershipPass struct {
	src pageSource
	cfg config.ExtractConfig
}

// NewLeadership creates the leadership pass.
func NewLeadership(f fetcher.Fetcher, fetchCfg config.FetchConfig, cfg config.ExtractConfig) *LeadershipPass {
	return &LeadershipPass{src: pageSource{f: f, cfg: fetchCfg}, cfg: cfg}
}

// Kind implements Pass.
func (p *LeadershipPass) Kind() model.PassKind { return model.PassLeadership }

// Extract implements Pass. An unresolved leadership page is not an error.
func (p *LeadershipPass) Extract(ctx context.Context, in Input) (model.PartialResult, error) {
	pageURL := in.Located.URL(model.PageTypeLeadership)
	if pageURL == "" {
		return model.PartialResult{Leadership: []model.Executive{}}, nil
	}
	res, err := p.src.get(ctx, pageURL, model.FetchStatic)
	if err != nil {
		return model.PartialResult{}, err
	}
	execs, err := ParseLeadership(res.HTML, p.cfg.MaxLeaders)
	if err != nil {
		return model.PartialResult{}, err
	}
	zap.L().Debug("leadership extracted", zap.String("url", pageURL), zap.Int("count", len(execs)))
	return model.PartialResult{Leadership: execs}, nil
}

// ParseLeadership applies card, adjacent-text and inline heuristics in that
// order. Results are deduplicated by name and capped at limit.
func ParseLeadership(raw string, limit int) ([]model.Executive, error) {
	doc, err := parse(raw)
	if err != nil {
		return nil, err
	}
	doc.Find("script, style, noscript, nav, footer").Remove()

	c := newCollector(limit)

	doc.Find(cardSelector).EachWithBreak(func(_ int, card *goquery.Selection) bool {
		nameSel := card.Find(cardNameSelector).First()
		name := nodeText(nameSel)
		if name == "" {
			return !c.full()
		}
		var title string
		card.Find(cardTitleSelector).EachWithBreak(func(_ int, t *goquery.Selection) bool {
			txt := nodeText(t)
			if txt != "" && txt != name && isRole(txt) {
				title = txt
				return false
			}
			return true
		})
		c.add(name, title)
		return !c.full()
	})

	texts := textNodes(doc.Find("body"))
	for i := 0; i+1 < len(texts) && !c.full(); i++ {
		c.add(texts[i], texts[i+1])
	}

	for _, t := range texts {
		if c.full() {
			break
		}
		if m := inlinePattern.FindStringSubmatch(t); m != nil {
			c.add(m[1], m[2])
		}
	}
	return c.out, nil
}

type collector struct {
	limit int
	seen  map[string]bool
	out   []model.Executive
}

func newCollector(limit int) *collector {
	return &collector{limit: limit, seen: make(map[string]bool), out: []model.Executive{}}
}

func (c *collector) full() bool {
	return c.limit > 0 && len(c.out) >= c.limit
}

func (c *collector) add(name, title string) {
	name, title = CleanText(name), CleanText(title)
	if c.full() || !looksLikeName(name) || len(title) > maxTitleLen || !isRole(title) {
		return
	}
	name = normalizeName(name)
	key := strings.ToLower(name)
	if c.seen[key] {
		return
	}
	c.seen[key] = true
	c.out = append(c.out, model.Executive{Name: name, Title: title})
}

// normalizeName title-cases names written in all capitals.
func normalizeName(name string) string {
	if name == strings.ToUpper(name) {
		return titleCaser.String(strings.ToLower(name))
	}
	return name
}

func looksLikeName(s string) bool {
	if s == "" || len(s) > 40 || notNames[strings.ToLower(s)] || isRole(s) {
		return false
	}
	words := strings.Fields(s)
	if len(words) < 2 || len(words) > 4 {
		return false
	}
	for _, w := range words {
		r := []rune(w)
		if !unicode.IsUpper(r[0]) {
			return false
		}
		for _, ch := range r {
			if unicode.IsDigit(ch) || ch == '@' || ch == ':' {
				return false
			}
		}
	}
	return true
}

func isRole(s string) bool {
	if s == "" {
		return false
	}
	padded := " " + wordsOnly(s) + " "
	for _, kw := range roleKeywords {
		if strings.Contains(padded, " "+kw+" ") {
			return true
		}
	}
	return false
}

// wordsOnly lowercases s and replaces every non-letter with a space.
func wordsOnly(s string) string {
	return strings.Join(strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r)
	}), " ")
}
