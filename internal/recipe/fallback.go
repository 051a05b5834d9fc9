package recipe

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
)

// loadFallback reads the bundled locale-keyed fallback table. The file is read
// on every call so edits land without a restart. Missing or unparseable files
// degrade to an empty slice; the caller synthesizes placeholders from there.
func loadFallback(path, lang string) []Recipe {
	raw, err := os.ReadFile(path)
	if err != nil {
		log.Printf("[ChefAI] could not load fallback file %s: %v", path, err)
		return nil
	}
	var table map[string][]Recipe
	if err := json.Unmarshal(raw, &table); err != nil {
		log.Printf("[ChefAI] bad fallback file %s: %v", path, err)
		return nil
	}
	if set, ok := table[lang]; ok && len(set) > 0 {
		return set
	}
	return table["fr"]
}

// fallbackSet returns exactly count records from the fallback table, cycling
// through the table when it is shorter and synthesizing placeholders when it
// is empty.
func fallbackSet(path, sign, meal, lang string, count int) []Recipe {
	set := loadFallback(path, lang)
	out := make([]Recipe, 0, count)
	if len(set) > 0 {
		for i := 0; i < count; i++ {
			out = append(out, set[i%len(set)].Normalize())
		}
		return out
	}
	for i := 0; i < count; i++ {
		out = append(out, placeholder(sign, meal, lang, i).Normalize())
	}
	return out
}

func placeholder(sign, meal, lang string, i int) Recipe {
	poem := "Un plat qui chante aux étoiles."
	switch lang {
	case "en":
		poem = "A dish that hums to the stars."
	case "ar":
		poem = "طبق يهمس للنجوم."
	}
	return Recipe{
		Title:       fmt.Sprintf("%s - Exemple recette %d (%s)", sign, i+1, meal),
		Ingredients: []string{"1 pincée d'amour", "200g d'ingrédients locaux", "Sel, poivre"},
		Steps:       []string{"Mélanger", "Cuire 10 minutes", "Servir avec un sourire"},
		Nutrition:   "~450 kcal • 18g protéines • 12g lipides • 60g glucides",
		Poem:        poem,
	}
}
