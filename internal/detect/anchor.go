package detect

import (
	"sort"
	"strings"

	"github.com/paperlens/corpus-builder/internal/domain"
)

const (
	// anchorMargin is how far beyond the element box anchor text is gathered,
	// wide enough to pick up captions sitting under figures.
	anchorMargin = 50.0

	maxAnchorLen = 300
)

// AnchorText gathers the page text in and around an element's box, in
// reading order. The annotation model must echo this text back; it pins the
// element to its source and lets validation reject drifted responses.
func AnchorText(content *domain.PageContent, box domain.BBox) string {
	search := box.Expand(anchorMargin)

	var nearby []domain.TextFragment
	for _, frag := range content.Fragments {
		if frag.Box.IoU(search) > 0 || contains(search, frag.Box) {
			nearby = append(nearby, frag)
		}
	}

	sort.SliceStable(nearby, func(i, j int) bool {
		if nearby[i].Box.Y1 != nearby[j].Box.Y1 {
			return nearby[i].Box.Y1 < nearby[j].Box.Y1
		}
		return nearby[i].Box.X1 < nearby[j].Box.X1
	})

	var parts []string
	for _, frag := range nearby {
		parts = append(parts, frag.Text)
	}

	anchor := strings.Join(parts, " ")
	if len(anchor) > maxAnchorLen {
		anchor = truncateOnRune(anchor, maxAnchorLen)
	}
	return strings.TrimSpace(anchor)
}

func contains(outer, inner domain.BBox) bool {
	return inner.X1 >= outer.X1 && inner.Y1 >= outer.Y1 &&
		inner.X2 <= outer.X2 && inner.Y2 <= outer.Y2
}

func truncateOnRune(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !isRuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
