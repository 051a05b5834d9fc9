package recipe

import "strings"

// Recipe is one content card. Immutable once created; persisted by id.
type Recipe struct {
	ID          string   `json:"id,omitempty"`
	Title       string   `json:"title"`
	Ingredients []string `json:"ingredients"`
	Steps       []string `json:"steps"`
	Nutrition   string   `json:"nutrition"`
	Poem        string   `json:"poem"`
	Sign        string   `json:"sign,omitempty"`
	Lang        string   `json:"lang,omitempty"`
	Notes       string   `json:"notes,omitempty"`
}

// Normalize coerces every expected field into its canonical shape: strings
// trimmed, list fields never nil. A normalized recipe is never missing a field.
func (r Recipe) Normalize() Recipe {
	r.Title = strings.TrimSpace(r.Title)
	r.Nutrition = strings.TrimSpace(r.Nutrition)
	r.Poem = strings.TrimSpace(r.Poem)
	r.Ingredients = trimAll(r.Ingredients)
	r.Steps = trimAll(r.Steps)
	return r
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		out = append(out, strings.TrimSpace(s))
	}
	return out
}
