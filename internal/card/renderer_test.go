package card

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astrofood/Card-Fulfillment-Pipeline/internal/recipe"
)

func sampleRecipe() recipe.Recipe {
	return recipe.Recipe{
		ID:          "recipe_abc",
		Title:       "Mafé d'arachide aux légumes racines",
		Ingredients: []string{"300g de patate douce", "2 c.à.s de pâte d'arachide"},
		Steps:       []string{"Faire revenir l'oignon", "Mijoter 25 minutes"},
		Nutrition:   "~520 kcal • 14g protéines",
		Poem:        "Sous la terre patiente, le taureau trouve sa douceur.",
	}
}

func TestRenderProducesPDF(t *testing.T) {
	out, err := NewRenderer().Render(sampleRecipe())
	require.NoError(t, err)
	require.NotEmpty(t, out)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF-")), "output must be a PDF document")
}

func TestRenderIsDeterministic(t *testing.T) {
	r := NewRenderer()
	first, err := r.Render(sampleRecipe())
	require.NoError(t, err)
	second, err := r.Render(sampleRecipe())
	require.NoError(t, err)
	assert.Equal(t, first, second, "identical records must render identical bytes")
}

func TestRenderHandlesEmptyRecord(t *testing.T) {
	out, err := NewRenderer().Render(recipe.Recipe{})
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF-")))
}

func TestRenderNotesAddSecondPage(t *testing.T) {
	r := NewRenderer()
	rec := sampleRecipe()
	plain, err := r.Render(rec)
	require.NoError(t, err)

	rec.Notes = "Se conserve trois jours au frais."
	noted, err := r.Render(rec)
	require.NoError(t, err)

	assert.NotEqual(t, plain, noted)
	assert.Greater(t, len(noted), len(plain), "notes page adds content")
}
