package locator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := map[string]string{
		"Our Team":             "our team",
		"  Meet-the_Team!  ":   "meet the team",
		"Équipe Dirigeante":    "equipe dirigeante",
		"CAREERS @ Acme, Inc.": "careers acme inc",
		"":                     "",
	}
	for in, want := range tests {
		assert.Equal(t, want, Normalize(in), in)
	}
}

func TestSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, Similarity("team", "team"), 0.0001)
	assert.InDelta(t, 0.8, Similarity("team", "teams"), 0.0001)
	assert.Zero(t, Similarity("", "team"))
	assert.Less(t, Similarity("products", "leadership"), 0.5)
}

func TestScore(t *testing.T) {
	terms := []string{"leadership", "our team", "team"}

	tests := []struct {
		name string
		text string
		url  string
		min  float64
		max  float64
	}{
		{"exact text", "Leadership", "https://a.com/x", 1, 1},
		{"embedded phrase", "Meet our team", "https://a.com/x", 0.9, 0.99},
		{"path segment", "Learn more", "https://a.com/about/leadership", 1, 1},
		{"path with extension", "", "https://a.com/team.html", 1, 1},
		{"typo", "Leadrship", "https://a.com/x", 0.85, 0.95},
		{"unrelated", "Products", "https://a.com/products", 0, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Score(tt.text, tt.url, terms)
			assert.GreaterOrEqual(t, s, tt.min)
			assert.LessOrEqual(t, s, tt.max)
		})
	}
}
