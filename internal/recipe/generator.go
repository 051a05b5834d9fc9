package recipe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

// Params selects what the generator should produce.
type Params struct {
	Sign    string
	Meal    string
	Lang    string
	Count   int
	Context string
}

func (p Params) withDefaults() Params {
	if p.Sign == "" {
		p.Sign = "taurus"
	}
	if p.Meal == "" {
		p.Meal = "breakfast"
	}
	if p.Lang == "" {
		p.Lang = "fr"
	}
	if p.Count <= 0 {
		p.Count = 1
	}
	return p
}

// Generator produces recipe records from an OpenAI-compatible chat endpoint,
// falling back to the bundled static table whenever the upstream is not
// configured, fails, or returns something malformed. Generate never surfaces
// an upstream error to callers; the fallback is the recovery path.
type Generator struct {
	apiKey       string
	model        string
	baseURL      string
	fallbackFile string
	http         *http.Client
}

func NewGenerator(apiKey, model, baseURL, fallbackFile string) *Generator {
	return &Generator{
		apiKey:       apiKey,
		model:        model,
		baseURL:      strings.TrimRight(baseURL, "/"),
		fallbackFile: fallbackFile,
		http:         &http.Client{Timeout: 30 * time.Second},
	}
}

// Generate returns exactly Count normalized records. One upstream attempt,
// no retry; anything short of a well-shaped response pads from the fallback.
func (g *Generator) Generate(ctx context.Context, p Params) []Recipe {
	p = p.withDefaults()

	if g.apiKey == "" {
		return fallbackSet(g.fallbackFile, p.Sign, p.Meal, p.Lang, p.Count)
	}

	recs, err := g.callUpstream(ctx, p)
	if err != nil {
		log.Printf("[ChefAI] upstream failed, falling back: %v", err)
		return fallbackSet(g.fallbackFile, p.Sign, p.Meal, p.Lang, p.Count)
	}

	for i := range recs {
		recs[i] = recs[i].Normalize()
	}
	if len(recs) > p.Count {
		recs = recs[:p.Count]
	}
	if len(recs) < p.Count {
		pad := fallbackSet(g.fallbackFile, p.Sign, p.Meal, p.Lang, p.Count)
		for i := len(recs); i < p.Count; i++ {
			recs = append(recs, pad[i])
		}
	}
	return recs
}

const systemPrompt = `You are Chef-AI for AstroFood Premium Gold. Produce exactly a JSON object (no extra text) with a top-level key "recipes" which is an array of recipe objects.
Each recipe object must contain:
- "title": short title string,
- "ingredients": array of ingredient strings,
- "steps": array of short step strings (ordered),
- "nutrition": short nutrition summary string (kcal and macros if possible),
- "poem": a short poetic line (one sentence) suitable for the premium card.

Constraints:
- Return exactly valid JSON with no explanatory text.
- Provide 'count' recipes (use the requested count).
- Include at least one authentic African ingredient or variation when possible.
- Keep each string concise (ingredients <= 120 chars, steps <= 200 chars).
- Language must match the requested language code: fr/en/ar.`

func (g *Generator) callUpstream(ctx context.Context, p Params) ([]Recipe, error) {
	userPrompt := fmt.Sprintf(
		"Parameters:\nsign: %s\nmeal: %s\nlang: %s\ncount: %d\ncontext: %s\n\nProduce %d recipes adapted to the sign %q for the %q meal in language %q.",
		p.Sign, p.Meal, p.Lang, p.Count, p.Context, p.Count, p.Sign, p.Meal, p.Lang,
	)

	reqBody := map[string]any{
		"model": g.model,
		"messages": []map[string]string{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": userPrompt},
		},
		"max_tokens":  800,
		"temperature": 0.6,
		"n":           1,
	}
	b, _ := json.Marshal(reqBody)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/chat/completions", bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("create upstream request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+g.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call upstream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("upstream status %d: %s", resp.StatusCode, string(body))
	}

	var chat struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&chat); err != nil {
		return nil, fmt.Errorf("decode upstream response: %w", err)
	}
	if len(chat.Choices) == 0 || chat.Choices[0].Message.Content == "" {
		return nil, fmt.Errorf("no assistant content")
	}

	jsonText := stripFences(chat.Choices[0].Message.Content)

	var parsed struct {
		Recipes []map[string]any `json:"recipes"`
	}
	if err := json.Unmarshal([]byte(jsonText), &parsed); err != nil {
		return nil, fmt.Errorf("parse assistant JSON: %w", err)
	}
	if parsed.Recipes == nil {
		return nil, fmt.Errorf("response JSON missing recipes array")
	}

	out := make([]Recipe, 0, len(parsed.Recipes))
	for _, raw := range parsed.Recipes {
		out = append(out, Recipe{
			Title:       toStr(raw["title"]),
			Ingredients: toStrSlice(raw["ingredients"]),
			Steps:       toStrSlice(raw["steps"]),
			Nutrition:   toStr(raw["nutrition"]),
			Poem:        toStr(raw["poem"]),
			Sign:        p.Sign,
			Lang:        p.Lang,
		})
	}
	return out, nil
}

// stripFences unwraps a markdown code block around the assistant JSON, a
// failure mode the upstream exhibits despite the no-extra-text instruction.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	lines := strings.Split(s, "\n")
	start, end := -1, -1
	for i, l := range lines {
		if strings.HasPrefix(strings.TrimSpace(l), "```") {
			start = i
			break
		}
	}
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.TrimSpace(lines[i]) == "```" {
			end = i
			break
		}
	}
	if start != -1 && end != -1 && end > start {
		return strings.Join(lines[start+1:end], "\n")
	}
	return s
}

func toStr(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return fmt.Sprintf("%v", t)
	default:
		return ""
	}
}

func toStrSlice(v any) []string {
	arr, ok := v.([]any)
	if !ok {
		return []string{}
	}
	out := make([]string, 0, len(arr))
	for _, e := range arr {
		if s := toStr(e); s != "" {
			out = append(out, s)
		}
	}
	return out
}
