package locator

import (
	"net/url"
	"path"
	"strings"
	"unicode"

	"github.com/hbollon/go-edlib"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Normalize folds s to lowercase ASCII-ish words: accents stripped,
// punctuation turned into single spaces.
func Normalize(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	folded = strings.ToLower(folded)

	var b strings.Builder
	space := true
	for _, r := range folded {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			space = false
			continue
		}
		if !space {
			b.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimSpace(b.String())
}

// Similarity is the normalized Levenshtein similarity of a and b in [0, 1].
func Similarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}
	s, err := edlib.StringsSimilarity(a, b, edlib.Levenshtein)
	if err != nil {
		return 0
	}
	return float64(s)
}

// containment scores a whole-phrase occurrence of term in text. An exact
// match scores 1; a phrase embedded in longer text scores slightly less so
// that "Team" beats "Join our team" for the same term.
func containment(text, term string) float64 {
	if text == term {
		return 1
	}
	if !strings.Contains(" "+text+" ", " "+term+" ") {
		return 0
	}
	return 0.9 + 0.1*float64(len(term))/float64(len(text))
}

// pathSegments returns the normalized, non-empty segments of a URL path with
// file extensions removed.
func pathSegments(rawURL string) []string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil
	}
	var segs []string
	for _, seg := range strings.Split(u.Path, "/") {
		seg = strings.TrimSuffix(seg, path.Ext(seg))
		if n := Normalize(seg); n != "" {
			segs = append(segs, n)
		}
	}
	return segs
}

// Score rates how well a link matches a vocabulary. Terms must already be
// normalized. The result is the maximum over every term of: whole-phrase
// containment in the link text, fuzzy similarity of the whole text, and
// fuzzy similarity of each path segment.
func Score(text, rawURL string, terms []string) float64 {
	text = Normalize(text)
	segs := pathSegments(rawURL)

	best := 0.0
	for _, term := range terms {
		if term == "" {
			continue
		}
		if text != "" {
			best = max(best, containment(text, term), Similarity(text, term))
		}
		for _, seg := range segs {
			best = max(best, containment(seg, term), Similarity(seg, term))
		}
		if best == 1 {
			return 1
		}
	}
	return best
}
