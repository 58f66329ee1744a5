package detect

import (
	"strings"
	"unicode"

	"github.com/paperlens/corpus-builder/internal/domain"
)

// Equation detection is best-effort: a fragment qualifies when enough of its
// glyphs are mathematical symbols and it stands apart from running prose.

const minMathDensity = 0.15

var mathOperators = "=+−-±×÷/^<>≤≥≈≠∝∼∑∏∫∂∇√∈∉⊂⊆∞→←↔·"

func (d *Detector) detectEquations(content *domain.PageContent, docID string) []domain.Element {
	var elements []domain.Element

	for _, frag := range content.Fragments {
		if !looksLikeEquation(frag.Text) {
			continue
		}
		if !isIsolated(frag, content.Fragments) {
			continue
		}

		elements = append(elements, domain.Element{
			Type:       domain.ElementEquation,
			Box:        frag.Box.Clip(content.Width, content.Height),
			Confidence: equationConfidence,
		})
	}

	return elements
}

func looksLikeEquation(text string) bool {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) < 3 {
		return false
	}

	math := 0
	hasOperator := false
	for _, r := range runes {
		if unicode.IsSpace(r) {
			continue
		}
		if strings.ContainsRune(mathOperators, r) {
			math++
			hasOperator = true
			continue
		}
		if unicode.In(r, unicode.Greek) || unicode.Is(unicode.Sm, r) {
			math++
		}
	}

	density := float64(math) / float64(len(runes))
	return hasOperator && density >= minMathDensity
}

// isIsolated reports whether frag sits on its own line: no other fragment
// overlaps its vertical band.
func isIsolated(frag domain.TextFragment, all []domain.TextFragment) bool {
	for _, other := range all {
		if other == frag {
			continue
		}
		if other.Box.Y1 < frag.Box.Y2 && other.Box.Y2 > frag.Box.Y1 {
			return false
		}
	}
	return true
}
