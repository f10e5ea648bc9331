package fuzzy

import (
	"math"
	"testing"
)

func TestTitleSimilarity(t *testing.T) {
	tests := []struct {
		name    string
		subject string
		title   string
		want    float64
	}{
		{"exact match", "Budget approval", "Budget approval", 1.0},
		{"case insensitive match", "budget APPROVAL", "Budget approval", 1.0},
		{"whitespace collapsed", "Budget   approval", "Budget approval", 1.0},
		{"subject contains title", "Budget approval for Q3", "Budget approval", 0.8},
		{"title contains subject", "Budget", "Budget approval", 0.8},
		{"word overlap", "approve the budget", "review the budget", 0.5},
		{"no overlap", "lunch plans", "server migration", 0.0},
		{"empty subject", "", "Budget approval", 0.0},
		{"both empty", "", "", 1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TitleSimilarity(tt.subject, tt.title)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("TitleSimilarity(%q, %q) = %v, want %v", tt.subject, tt.title, got, tt.want)
			}
		})
	}
}

func TestJaccardSymmetry(t *testing.T) {
	a := "alpha beta gamma"
	b := "beta gamma delta epsilon"
	if TitleSimilarity(a, b) != TitleSimilarity(b, a) {
		t.Errorf("similarity should be symmetric for %q and %q", a, b)
	}
}
