package detect

import (
	"math"
	"sort"

	"github.com/paperlens/corpus-builder/internal/domain"
)

// Table detection works from text geometry alone: fragments are clustered
// into vertically contiguous blocks, each block is checked for a grid of
// aligned row and column boundaries, and a confidence score is blended from
// grid regularity, alignment quality, and cell occupancy.

const (
	tableBaseConfidence = 0.6
	tableConfidenceSpan = 0.25 // base + span at perfect structure = 0.85
	minTableQuality     = 0.35
)

func (d *Detector) detectTables(content *domain.PageContent, docID string) []domain.Element {
	if len(content.Fragments) == 0 {
		return nil
	}

	clusters := clusterFragments(content.Fragments, d.cfg.RowGap)

	var elements []domain.Element
	for _, cluster := range clusters {
		if el, ok := d.detectTableInCluster(cluster); ok {
			el.Box = el.Box.Clip(content.Width, content.Height)
			if el.Box.Area() >= d.cfg.MinTableArea {
				elements = append(elements, el)
			}
		}
	}

	return elements
}

// clusterFragments groups fragments that are vertically close. A gap larger
// than rowGap between consecutive fragments starts a new cluster.
func clusterFragments(fragments []domain.TextFragment, rowGap float64) [][]domain.TextFragment {
	if len(fragments) == 0 {
		return nil
	}

	sorted := make([]domain.TextFragment, len(fragments))
	copy(sorted, fragments)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Box.Y1 < sorted[j].Box.Y1
	})

	var clusters [][]domain.TextFragment
	current := []domain.TextFragment{sorted[0]}

	for i := 1; i < len(sorted); i++ {
		prev := current[len(current)-1].Box
		gap := sorted[i].Box.Y1 - prev.Y2

		if gap > rowGap {
			clusters = append(clusters, current)
			current = []domain.TextFragment{sorted[i]}
		} else {
			current = append(current, sorted[i])
		}
	}

	clusters = append(clusters, current)
	return clusters
}

func (d *Detector) detectTableInCluster(fragments []domain.TextFragment) (domain.Element, bool) {
	if len(fragments) < d.cfg.MinRows*d.cfg.MinCols {
		return domain.Element{}, false
	}

	grid := d.buildGrid(fragments)
	if grid == nil || grid.rowCount() < d.cfg.MinRows || grid.colCount() < d.cfg.MinCols {
		return domain.Element{}, false
	}

	quality := d.gridQuality(grid, fragments)
	if quality < minTableQuality {
		return domain.Element{}, false
	}

	box := domain.BBox{
		X1: grid.cols[0],
		Y1: grid.rows[0],
		X2: grid.cols[len(grid.cols)-1],
		Y2: grid.rows[len(grid.rows)-1],
	}

	return domain.Element{
		Type:       domain.ElementTable,
		Box:        box,
		Confidence: tableBaseConfidence + tableConfidenceSpan*quality,
	}, true
}

// tableGrid holds row and column boundary coordinates. Rows grow downward.
type tableGrid struct {
	rows []float64
	cols []float64
}

func (g *tableGrid) rowCount() int { return len(g.rows) - 1 }
func (g *tableGrid) colCount() int { return len(g.cols) - 1 }

func (d *Detector) buildGrid(fragments []domain.TextFragment) *tableGrid {
	yValues := make([]float64, 0, len(fragments)*2)
	xValues := make([]float64, 0, len(fragments)*2)
	for _, frag := range fragments {
		yValues = append(yValues, frag.Box.Y1, frag.Box.Y2)
		xValues = append(xValues, frag.Box.X1, frag.Box.X2)
	}

	sort.Float64s(yValues)
	sort.Float64s(xValues)

	rows := clusterValues(yValues, d.cfg.AlignmentTolerance)
	if len(rows) < d.cfg.MinRows+1 {
		return nil
	}

	cols := clusterValues(xValues, d.cfg.AlignmentTolerance)
	if len(cols) < d.cfg.MinCols+1 {
		return nil
	}

	return &tableGrid{rows: rows, cols: cols}
}

// clusterValues merges sorted values closer than tolerance, averaging merged
// values into the cluster center.
func clusterValues(values []float64, tolerance float64) []float64 {
	if len(values) == 0 {
		return nil
	}

	clustered := []float64{values[0]}
	for i := 1; i < len(values); i++ {
		diff := values[i] - clustered[len(clustered)-1]
		if diff > tolerance {
			clustered = append(clustered, values[i])
		} else {
			clustered[len(clustered)-1] = (clustered[len(clustered)-1] + values[i]) / 2
		}
	}

	return clustered
}

// gridQuality blends grid regularity (40%), alignment quality (35%), and
// cell occupancy (25%) into a single 0..1 score.
func (d *Detector) gridQuality(grid *tableGrid, fragments []domain.TextFragment) float64 {
	regularity := gridRegularity(grid)
	alignment := d.alignmentQuality(grid, fragments)
	occupancy := cellOccupancy(grid, fragments)

	return regularity*0.4 + alignment*0.35 + occupancy*0.25
}

// gridRegularity scores how uniform row heights and column widths are, via
// the coefficient of variation of each.
func gridRegularity(grid *tableGrid) float64 {
	if grid.rowCount() < 2 || grid.colCount() < 2 {
		return 0
	}

	rowHeights := make([]float64, grid.rowCount())
	for i := 0; i < grid.rowCount(); i++ {
		rowHeights[i] = grid.rows[i+1] - grid.rows[i]
	}

	colWidths := make([]float64, grid.colCount())
	for i := 0; i < grid.colCount(); i++ {
		colWidths[i] = grid.cols[i+1] - grid.cols[i]
	}

	rowCV := math.Sqrt(variance(rowHeights)) / mean(rowHeights)
	colCV := math.Sqrt(variance(colWidths)) / mean(colWidths)

	rowScore := math.Max(0, 1-rowCV)
	colScore := math.Max(0, 1-colCV)
	return (rowScore + colScore) / 2
}

// alignmentQuality is the fraction of fragments with at least two edges on
// grid boundaries.
func (d *Detector) alignmentQuality(grid *tableGrid, fragments []domain.TextFragment) float64 {
	if len(fragments) == 0 {
		return 0
	}

	aligned := 0
	for _, frag := range fragments {
		edges := 0
		if nearBoundary(frag.Box.X1, grid.cols, d.cfg.AlignmentTolerance*2) {
			edges++
		}
		if nearBoundary(frag.Box.X2, grid.cols, d.cfg.AlignmentTolerance*2) {
			edges++
		}
		if nearBoundary(frag.Box.Y1, grid.rows, d.cfg.AlignmentTolerance*2) {
			edges++
		}
		if nearBoundary(frag.Box.Y2, grid.rows, d.cfg.AlignmentTolerance*2) {
			edges++
		}
		if edges >= 2 {
			aligned++
		}
	}

	return float64(aligned) / float64(len(fragments))
}

func nearBoundary(value float64, boundaries []float64, tolerance float64) bool {
	for _, b := range boundaries {
		if math.Abs(value-b) < tolerance {
			return true
		}
	}
	return false
}

// cellOccupancy is the fraction of grid cells holding a fragment center.
func cellOccupancy(grid *tableGrid, fragments []domain.TextFragment) float64 {
	total := grid.rowCount() * grid.colCount()
	if total == 0 {
		return 0
	}

	occupied := make(map[int]bool)
	for _, frag := range fragments {
		cx := (frag.Box.X1 + frag.Box.X2) / 2
		cy := (frag.Box.Y1 + frag.Box.Y2) / 2
		row, col := findCell(grid, cx, cy)
		if row >= 0 && col >= 0 {
			occupied[row*grid.colCount()+col] = true
		}
	}

	return float64(len(occupied)) / float64(total)
}

func findCell(grid *tableGrid, cx, cy float64) (int, int) {
	row := -1
	for i := 0; i < grid.rowCount(); i++ {
		if cy >= grid.rows[i] && cy < grid.rows[i+1] {
			row = i
			break
		}
	}

	col := -1
	for i := 0; i < grid.colCount(); i++ {
		if cx >= grid.cols[i] && cx < grid.cols[i+1] {
			col = i
			break
		}
	}

	return row, col
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func variance(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	m := mean(values)
	sum := 0.0
	for _, v := range values {
		d := v - m
		sum += d * d
	}
	return sum / float64(len(values))
}
