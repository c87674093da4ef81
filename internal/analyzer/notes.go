package analyzer

import (
	"fmt"
	"strings"

	"github.com/sells-group/insight-cli/internal/model"
)

// CompletenessNotes describes which parts of the document are missing, so a
// reader can judge confidence without reading the prose.
func CompletenessNotes(doc *model.ScrapeDocument) []string {
	if doc == nil {
		return []string{"No scraped data was available."}
	}
	var notes []string

	switch {
	case doc.MainPage.Empty():
		notes = append(notes, "Main page content unavailable.")
	case len(doc.MainPage.Paragraphs) == 0:
		notes = append(notes, "Main page yielded no substantial paragraphs.")
	}
	if len(doc.LeadershipTeam) == 0 {
		notes = append(notes, "No leadership team information found.")
	}
	if len(doc.ReviewSnippets) == 0 {
		notes = append(notes, "No review data found on third-party review sites.")
	}
	switch {
	case doc.TechnologyInfo.Error != "":
		notes = append(notes, fmt.Sprintf("Technology detection failed: %s.", doc.TechnologyInfo.Error))
	case len(doc.TechnologyInfo.Categories) == 0:
		notes = append(notes, "No technologies identified.")
	}

	var missing []string
	for _, pt := range model.SubPageTypes() {
		if _, ok := doc.SubPages[pt]; !ok {
			missing = append(missing, string(pt))
		}
	}
	if len(missing) > 0 {
		notes = append(notes, fmt.Sprintf("Sub-page content unavailable: %s.", strings.Join(missing, ", ")))
	}

	if n := len(doc.OverallErrors); n > 0 {
		notes = append(notes, fmt.Sprintf("%d scraping error(s) were logged.", n))
	}
	if len(notes) == 0 {
		notes = append(notes, "All scrape sections returned data.")
	}
	return notes
}

// mergeNotes returns computed notes followed by model notes not already
// present.
func mergeNotes(computed, fromModel []string) []string {
	out := make([]string, 0, len(computed)+len(fromModel))
	seen := make(map[string]bool, len(computed)+len(fromModel))
	for _, list := range [][]string{computed, fromModel} {
		for _, n := range list {
			n = strings.TrimSpace(n)
			if n == "" || seen[strings.ToLower(n)] {
				continue
			}
			seen[strings.ToLower(n)] = true
			out = append(out, n)
		}
	}
	return out
}
