// Package card renders a purchased recipe into a printable PDF card.
package card

import (
	"bytes"
	"fmt"
	"time"

	"github.com/go-pdf/fpdf"

	"github.com/astrofood/Card-Fulfillment-Pipeline/internal/recipe"
)

// Renderer converts one recipe record into A4 PDF bytes. Output is
// deterministic: identical records produce identical bytes, so document
// metadata dates are pinned rather than taken from the wall clock.
type Renderer struct{}

func NewRenderer() *Renderer { return &Renderer{} }

// pinnedDate keeps the embedded CreationDate/ModDate stable across runs.
var pinnedDate = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

// Render lays out the card: centered title, bulleted ingredients, numbered
// steps, and an extra page for notes when present. Inputs are bounded by the
// generation contract, so no reflow across pages is attempted.
func (Renderer) Render(rec recipe.Recipe) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetCreationDate(pinnedDate)
	pdf.SetModificationDate(pinnedDate)
	pdf.SetMargins(15, 15, 15)
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.AddPage()

	if rec.Title != "" {
		pdf.SetFont("Helvetica", "B", 20)
		pdf.SetTextColor(8, 16, 36)
		pdf.CellFormat(0, 12, tr(rec.Title), "", 1, "C", false, 0, "")
		pdf.Ln(4)
	}

	pdf.SetTextColor(0, 0, 0)
	pdf.SetFont("Helvetica", "U", 12)
	pdf.CellFormat(0, 8, tr("Ingrédients:"), "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 12)
	for _, ing := range rec.Ingredients {
		pdf.MultiCell(0, 6, tr("• "+ing), "", "L", false)
	}
	pdf.Ln(4)

	pdf.SetFont("Helvetica", "U", 12)
	pdf.CellFormat(0, 8, tr("Préparation:"), "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 12)
	for i, step := range rec.Steps {
		pdf.MultiCell(0, 6, tr(fmt.Sprintf("%d. %s", i+1, step)), "", "L", false)
	}

	if rec.Nutrition != "" {
		pdf.Ln(4)
		pdf.SetFont("Helvetica", "I", 10)
		pdf.MultiCell(0, 5, tr(rec.Nutrition), "", "L", false)
	}
	if rec.Poem != "" {
		pdf.Ln(2)
		pdf.SetFont("Helvetica", "I", 10)
		pdf.MultiCell(0, 5, tr(rec.Poem), "", "C", false)
	}

	if rec.Notes != "" {
		pdf.AddPage()
		pdf.SetFont("Helvetica", "", 10)
		pdf.CellFormat(0, 6, "Notes:", "", 1, "L", false, 0, "")
		pdf.Ln(4)
		pdf.MultiCell(0, 5, tr(rec.Notes), "", "L", false)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render card pdf: %w", err)
	}
	return buf.Bytes(), nil
}
