// Package prompt turns structured pattern attributes into the final text
// prompt sent to the image provider. Composition is pure: identical fields
// and free text always yield byte-identical prompts, which lets callers cache
// and deduplicate upstream.
package prompt

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/tbourn/go-pattern-backend/internal/domain"
)

// MaxFreeTextRunes caps the optional free-text suffix.
const MaxFreeTextRunes = 500

// NegativeClause lists artefacts the provider must avoid.
const NegativeClause = "Avoid text, lettering, watermarks, logos, signatures, photographic elements, human faces, blurry edges and broken or misaligned repeats."

const technicalClause = "Seamless tileable repeat, flat even lighting, crisp high-resolution detail, print-ready for textile and paper."

var complexityClauses = map[string]string{
	domain.ComplexitySimple:    "Keep the composition simple: few large motifs, generous negative space and bold clean outlines.",
	domain.ComplexityModerate:  "Use a moderately detailed composition: balanced motif density with secondary ornaments and clear rhythm.",
	domain.ComplexityIntricate: "Make the composition intricate: dense interlocking motifs, fine filigree linework and layered borders.",
}

var styleClauses = map[string]string{
	"traditional": "Follow traditional craft conventions of the region with hand-drawn irregularities and heritage proportions.",
	"modern":      "Reinterpret the heritage in a modern style with simplified shapes and contemporary spacing.",
	"abstract":    "Abstract the motif into expressive shapes while keeping its cultural silhouette recognizable.",
	"minimalist":  "Reduce the motif to a minimalist line-based form with a restrained palette.",
	"geometric":   "Construct the motif from precise geometric primitives on a strict grid.",
}

// Composer builds final prompts from request fields.
type Composer interface {
	Compose(fields domain.PromptFields, freeText string) (string, error)
}

// Standard is the stateless Composer backed by Compose.
type Standard struct{}

// Compose implements Composer.
func (Standard) Compose(fields domain.PromptFields, freeText string) (string, error) {
	return Compose(fields, freeText)
}

// Compose validates fields and assembles the prompt in a fixed order:
// subject, technical clause, complexity clause, style clause, negative
// clause and the optional free-text suffix.
//
// Every structured field is required. Complexity must be one of simple,
// moderate or intricate. Styles outside the recognized set get a generic
// clause naming the style verbatim.
func Compose(fields domain.PromptFields, freeText string) (string, error) {
	f := fields.Normalized()
	if err := Validate(f); err != nil {
		return "", err
	}
	complexity, ok := complexityClauses[f.Complexity]
	if !ok {
		return "", domain.NewValidationError("complexity", fmt.Sprintf("%q is not one of simple, moderate, intricate", f.Complexity))
	}
	freeText = strings.Join(strings.Fields(freeText), " ")
	if utf8.RuneCountInString(freeText) > MaxFreeTextRunes {
		return "", domain.NewValidationError("free_text", fmt.Sprintf("exceeds %d characters", MaxFreeTextRunes))
	}

	parts := []string{
		fmt.Sprintf("Create a cultural pattern featuring %s motifs inspired by the heritage of %s, rendered in a %s color palette.",
			f.Motif, f.Region, f.ColorPalette),
		technicalClause,
		complexity,
		styleClause(f.Style),
		NegativeClause,
	}
	if freeText != "" {
		parts = append(parts, "Additional details: "+strings.TrimRight(freeText, ".")+".")
	}
	return strings.Join(parts, " "), nil
}

// Validate reports the first missing structured field.
func Validate(f domain.PromptFields) error {
	required := []struct{ name, value string }{
		{"motif", f.Motif},
		{"style", f.Style},
		{"color_palette", f.ColorPalette},
		{"region", f.Region},
		{"complexity", f.Complexity},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return domain.NewValidationError(r.name, "is required")
		}
	}
	return nil
}

// Styles returns the recognized style keys in a stable order.
func Styles() []string {
	return []string{"abstract", "geometric", "minimalist", "modern", "traditional"}
}

func styleClause(style string) string {
	if c, ok := styleClauses[style]; ok {
		return c
	}
	return fmt.Sprintf("Render it in a %s style while keeping the repeat readable.", style)
}
