package detect

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paperlens/corpus-builder/internal/domain"
	"github.com/paperlens/corpus-builder/internal/observability"
)

func newTestDetector() *Detector {
	return New(DefaultConfig(), observability.Nop())
}

func pageWith(images []domain.ImagePlacement, fragments []domain.TextFragment) *domain.PageContent {
	return &domain.PageContent{
		Index:     0,
		Width:     612,
		Height:    792,
		Fragments: fragments,
		Images:    images,
	}
}

func TestDetectPageEmpty(t *testing.T) {
	d := newTestDetector()

	elements, errs := d.DetectPage(pageWith(nil, nil), "doc1", 0)

	assert.Empty(t, elements)
	assert.Empty(t, errs)
}

func TestDetectFigures(t *testing.T) {
	d := newTestDetector()

	page := pageWith([]domain.ImagePlacement{
		// 100x80 = 8000 units^2: below the 10000 minimum, dropped.
		{Box: domain.BBox{X1: 50, Y1: 50, X2: 150, Y2: 130}},
		// 300x180 = 54000 units^2: kept.
		{Box: domain.BBox{X1: 100, Y1: 200, X2: 400, Y2: 380}},
		// Zero area: detection error, skipped.
		{Box: domain.BBox{X1: 10, Y1: 10, X2: 10, Y2: 10}},
	}, nil)

	elements, errs := d.DetectPage(page, "doc1", 0)

	require.Len(t, elements, 1)
	assert.Equal(t, domain.ElementFigure, elements[0].Type)
	assert.Equal(t, "doc1_p000_fig00", elements[0].ID)
	assert.Equal(t, 0.9, elements[0].Confidence)

	require.Len(t, errs, 1)
	assert.Equal(t, domain.KindDetection, domain.KindOf(errs[0]))
}

// tableFragments builds a clean rows x cols grid of aligned fragments.
func tableFragments(rows, cols int, x0, y0, cellW, cellH float64) []domain.TextFragment {
	var frags []domain.TextFragment
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			x := x0 + float64(c)*cellW
			y := y0 + float64(r)*cellH
			frags = append(frags, domain.TextFragment{
				Text: fmt.Sprintf("cell%d%d", r, c),
				Box:  domain.BBox{X1: x, Y1: y, X2: x + cellW - 10, Y2: y + cellH - 6},
			})
		}
	}
	return frags
}

func TestDetectTables(t *testing.T) {
	d := newTestDetector()

	page := pageWith(nil, tableFragments(4, 3, 100, 300, 120, 20))

	elements, errs := d.DetectPage(page, "doc1", 0)

	assert.Empty(t, errs)
	require.Len(t, elements, 1)

	table := elements[0]
	assert.Equal(t, domain.ElementTable, table.Type)
	assert.Equal(t, "doc1_p000_tab00", table.ID)
	assert.GreaterOrEqual(t, table.Confidence, 0.6)
	assert.LessOrEqual(t, table.Confidence, 0.85)

	// The table box covers the fragment grid.
	assert.LessOrEqual(t, table.Box.X1, 100.0)
	assert.LessOrEqual(t, table.Box.Y1, 300.0)
	assert.GreaterOrEqual(t, table.Box.X2, 100.0+2*120)
	assert.GreaterOrEqual(t, table.Box.Y2, 300.0+3*20)
}

func TestDetectTablesIgnoresProse(t *testing.T) {
	d := newTestDetector()

	// Ragged prose lines: shared left edge only, uneven rights and heights.
	frags := []domain.TextFragment{
		{Text: "This is the first line of a paragraph of prose", Box: domain.BBox{X1: 72, Y1: 100, X2: 520, Y2: 112}},
		{Text: "which continues here with a different length", Box: domain.BBox{X1: 72, Y1: 114, X2: 430, Y2: 126}},
		{Text: "and ends short.", Box: domain.BBox{X1: 72, Y1: 128, X2: 180, Y2: 140}},
	}

	elements, _ := d.DetectPage(pageWith(nil, frags), "doc1", 0)

	for _, el := range elements {
		assert.NotEqual(t, domain.ElementTable, el.Type)
	}
}

func TestDetectEquations(t *testing.T) {
	d := newTestDetector()

	frags := []domain.TextFragment{
		{Text: "The governing equation is shown below.", Box: domain.BBox{X1: 72, Y1: 100, X2: 400, Y2: 112}},
		{Text: "E = mc² + ∑ᵢ αᵢxᵢ", Box: domain.BBox{X1: 200, Y1: 140, X2: 340, Y2: 155}},
		{Text: "where m denotes mass.", Box: domain.BBox{X1: 72, Y1: 180, X2: 280, Y2: 192}},
	}

	elements, errs := d.DetectPage(pageWith(nil, frags), "doc1", 0)

	assert.Empty(t, errs)
	require.Len(t, elements, 1)
	assert.Equal(t, domain.ElementEquation, elements[0].Type)
	assert.Equal(t, 0.7, elements[0].Confidence)
	assert.Equal(t, "doc1_p000_eq00", elements[0].ID)
}

func TestDetectPageOrderAndAnchors(t *testing.T) {
	d := newTestDetector()

	page := pageWith(
		[]domain.ImagePlacement{
			{Box: domain.BBox{X1: 100, Y1: 100, X2: 400, Y2: 300}},
		},
		[]domain.TextFragment{
			{Text: "Figure 1: Sensor layout overview.", Box: domain.BBox{X1: 100, Y1: 310, X2: 380, Y2: 322}},
		},
	)

	elements, _ := d.DetectPage(page, "doc9", 7)

	require.Len(t, elements, 1)
	assert.Equal(t, 7, elements[0].Order)
	assert.Contains(t, elements[0].Anchor, "Figure 1: Sensor layout overview.")
}

func TestSuppressOverlaps(t *testing.T) {
	big := domain.Element{
		Type:       domain.ElementFigure,
		Box:        domain.BBox{X1: 100, Y1: 100, X2: 400, Y2: 400},
		Confidence: 0.9,
	}
	// Nearly identical to big: IoU above 0.9, smaller area, must go.
	shadow := domain.Element{
		Type:       domain.ElementFigure,
		Box:        domain.BBox{X1: 101, Y1: 101, X2: 400, Y2: 400},
		Confidence: 0.9,
	}
	// Elsewhere on the page: kept.
	other := domain.Element{
		Type:       domain.ElementFigure,
		Box:        domain.BBox{X1: 420, Y1: 500, X2: 560, Y2: 700},
		Confidence: 0.9,
	}

	kept := suppressOverlaps([]domain.Element{shadow, other, big}, 0.9)

	require.Len(t, kept, 2)
	assert.Equal(t, big.Box, kept[0].Box)
	assert.Equal(t, other.Box, kept[1].Box)
}

func TestSuppressOverlapsDeterministic(t *testing.T) {
	elements := []domain.Element{
		{Type: domain.ElementFigure, Box: domain.BBox{X1: 0, Y1: 0, X2: 100, Y2: 100}},
		{Type: domain.ElementFigure, Box: domain.BBox{X1: 1, Y1: 1, X2: 100, Y2: 100}},
		{Type: domain.ElementFigure, Box: domain.BBox{X1: 200, Y1: 0, X2: 320, Y2: 100}},
	}

	first := suppressOverlaps(elements, 0.9)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, suppressOverlaps(elements, 0.9))
	}
}
