package analyzer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/insight-cli/internal/model"
)

// wrapperKey is an optional envelope around the report object.
const wrapperKey = "llm_analysis"

// aliases maps legacy key names to report keys.
var aliases = map[string]string{
	"swot_analysis":                   "swot",
	"potential_transformation_angles": "transformation_angles",
	"key_executives_found":            "key_executives",
	"potential_contact_points":        "contact_points",
	"explicit_mna_funding_mentions":   "funding_mentions",
}

var stringListKeys = []string{
	"transformation_angles",
	"career_page_themes",
	"contact_points",
	"funding_mentions",
	"technology_flags",
	"data_completeness_notes",
}

// stripFences removes a surrounding markdown code fence.
func stripFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	if nl := strings.IndexByte(text, '\n'); nl >= 0 && !strings.ContainsAny(text[:nl], "{[") {
		text = text[nl+1:]
	}
	if idx := strings.LastIndex(text, "```"); idx >= 0 {
		text = text[:idx]
	}
	return strings.TrimSpace(text)
}

// Parse strictly validates model output against the report schema. Every
// key must be present with the right type; an llm_analysis wrapper and
// legacy key names are accepted.
func Parse(text string) (*model.InsightReport, error) {
	body := stripFences(text)
	if body == "" {
		return nil, eris.New("analyzer: empty response")
	}

	var top map[string]json.RawMessage
	if err := json.Unmarshal([]byte(body), &top); err != nil {
		return nil, eris.Wrap(err, "analyzer: response is not a JSON object")
	}
	if inner, ok := top[wrapperKey]; ok && len(top) == 1 {
		top = nil
		if err := json.Unmarshal(inner, &top); err != nil {
			return nil, eris.Wrap(err, "analyzer: llm_analysis is not an object")
		}
	}
	for legacy, key := range aliases {
		if v, ok := top[legacy]; ok {
			if _, exists := top[key]; !exists {
				top[key] = v
			}
		}
	}

	var (
		r        model.InsightReport
		problems []string
	)
	field := func(key string, dst any) {
		raw, ok := top[key]
		if !ok {
			problems = append(problems, fmt.Sprintf("missing %q", key))
			return
		}
		if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
			problems = append(problems, fmt.Sprintf("%q is null", key))
			return
		}
		if err := decodeStrict(raw, dst); err != nil {
			problems = append(problems, fmt.Sprintf("%q: %v", key, err))
		}
	}

	field("swot", &r.SWOT)
	field("key_executives", &r.KeyExecutives)
	lists := map[string]*[]string{
		"transformation_angles":   &r.TransformationAngles,
		"career_page_themes":      &r.CareerPageThemes,
		"contact_points":          &r.ContactPoints,
		"funding_mentions":        &r.FundingMentions,
		"technology_flags":        &r.TechnologyFlags,
		"data_completeness_notes": &r.DataCompletenessNotes,
	}
	for _, key := range stringListKeys {
		field(key, lists[key])
	}
	field("review_site_presence", &r.ReviewSitePresence)
	field("speculation_caveat", &r.SpeculationCaveat)

	if len(problems) == 0 {
		problems = swotProblems(top["swot"])
	}
	if len(problems) > 0 {
		sort.Strings(problems)
		return nil, eris.Errorf("analyzer: schema validation failed: %s", strings.Join(problems, "; "))
	}
	return r.Normalize(), nil
}

// swotProblems checks that every SWOT quadrant is present.
func swotProblems(raw json.RawMessage) []string {
	var quadrants map[string]json.RawMessage
	if err := json.Unmarshal(raw, &quadrants); err != nil {
		return []string{fmt.Sprintf("%q: %v", "swot", err)}
	}
	var problems []string
	for _, q := range []string{"strengths", "weaknesses", "opportunities", "threats"} {
		v, ok := quadrants[q]
		if !ok || bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
			problems = append(problems, fmt.Sprintf("missing %q", "swot."+q))
		}
	}
	return problems
}

func decodeStrict(raw json.RawMessage, dst any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// Salvage returns the largest well-formed JSON object embedded in text.
func Salvage(text string) (string, bool) {
	best := ""
	for i := 0; i < len(text); i++ {
		if text[i] != '{' {
			continue
		}
		dec := json.NewDecoder(strings.NewReader(text[i:]))
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			continue
		}
		if len(raw) > len(best) {
			best = string(raw)
		}
		i += int(dec.InputOffset()) - 1
	}
	return best, best != ""
}

// parseWithSalvage tries a strict parse, then a strict parse of the largest
// embedded object.
func parseWithSalvage(text string) (*model.InsightReport, bool, error) {
	r, err := Parse(text)
	if err == nil {
		return r, false, nil
	}
	if candidate, ok := Salvage(text); ok && candidate != stripFences(text) {
		if r, serr := Parse(candidate); serr == nil {
			return r, true, nil
		}
	}
	return nil, false, err
}
