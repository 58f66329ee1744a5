// Package detect finds structural elements (figures, tables, equations) in
// the content view of PDF pages. Detection is pure analysis over positioned
// text fragments and image placements; no rendering is involved.
package detect

import (
	"fmt"
	"sort"

	"github.com/paperlens/corpus-builder/internal/domain"
	"github.com/paperlens/corpus-builder/internal/observability"
)

// Config holds detection thresholds.
type Config struct {
	MinFigureArea       float64 // doc units squared
	MinTableArea        float64
	ConfidenceThreshold float64
	OverlapIoU          float64 // same-type candidates above this keep the larger
	AlignmentTolerance  float64
	RowGap              float64 // vertical gap that splits fragment clusters
	MinRows             int
	MinCols             int
}

// DefaultConfig returns the stock detection thresholds.
func DefaultConfig() Config {
	return Config{
		MinFigureArea:       10000,
		MinTableArea:        5000,
		ConfidenceThreshold: 0.5,
		OverlapIoU:          0.9,
		AlignmentTolerance:  3.0,
		RowGap:              50,
		MinRows:             2,
		MinCols:             2,
	}
}

const (
	figureConfidence   = 0.9
	equationConfidence = 0.7
)

// Detector finds elements on pages.
type Detector struct {
	cfg Config
	log *observability.Logger
}

// New creates a detector.
func New(cfg Config, log *observability.Logger) *Detector {
	if log == nil {
		log = observability.Nop()
	}
	return &Detector{cfg: cfg, log: log.WithComponent("detect")}
}

// DetectPage finds all elements on one page. startOrder is the document-wide
// detection order of the first element found here; the returned elements
// continue from it. Unit-scoped failures come back as errors without
// suppressing the surviving elements.
func (d *Detector) DetectPage(content *domain.PageContent, docID string, startOrder int) ([]domain.Element, []error) {
	var errs []error

	figures, figErrs := d.detectFigures(content, docID)
	errs = append(errs, figErrs...)

	tables := d.detectTables(content, docID)
	equations := d.detectEquations(content, docID)

	figures = suppressOverlaps(figures, d.cfg.OverlapIoU)
	tables = suppressOverlaps(tables, d.cfg.OverlapIoU)
	equations = suppressOverlaps(equations, d.cfg.OverlapIoU)

	elements := make([]domain.Element, 0, len(figures)+len(tables)+len(equations))
	elements = append(elements, figures...)
	elements = append(elements, tables...)
	elements = append(elements, equations...)

	// Drop low-confidence candidates.
	kept := elements[:0]
	for _, el := range elements {
		if el.Confidence < d.cfg.ConfidenceThreshold {
			d.log.Debug().Str("element", el.ID).Float64("confidence", el.Confidence).Msg("below confidence threshold")
			continue
		}
		kept = append(kept, el)
	}
	elements = kept

	// Stable ids and document-wide order: per-kind index within the page.
	idx := map[domain.ElementType]int{}
	for i := range elements {
		kind := elements[i].Type
		elements[i].ID = domain.ElementID(docID, content.Index, kind, idx[kind])
		elements[i].DocID = docID
		elements[i].PageIndex = content.Index
		elements[i].Order = startOrder + i
		elements[i].Anchor = AnchorText(content, elements[i].Box)
		idx[kind]++
	}

	return elements, errs
}

// detectFigures promotes embedded raster image placements to figure elements.
func (d *Detector) detectFigures(content *domain.PageContent, docID string) ([]domain.Element, []error) {
	var elements []domain.Element
	var errs []error

	for i, img := range content.Images {
		if img.Box.Area() <= 0 {
			unit := fmt.Sprintf("%s_p%03d_img%d", docID, content.Index, i)
			errs = append(errs, domain.DetectionError(unit, "image placement has no area", nil))
			continue
		}
		if img.Box.Area() < d.cfg.MinFigureArea {
			continue
		}

		elements = append(elements, domain.Element{
			Type:       domain.ElementFigure,
			Box:        img.Box.Clip(content.Width, content.Height),
			Confidence: figureConfidence,
		})
	}

	return elements, errs
}

// suppressOverlaps removes same-type candidates whose IoU with an already
// kept candidate meets the threshold, keeping the larger area. Candidates
// are visited in (area desc, position) order so the outcome is stable.
func suppressOverlaps(elements []domain.Element, iou float64) []domain.Element {
	if len(elements) < 2 {
		return elements
	}

	sorted := make([]domain.Element, len(elements))
	copy(sorted, elements)
	sort.SliceStable(sorted, func(i, j int) bool {
		ai, aj := sorted[i].Box.Area(), sorted[j].Box.Area()
		if ai != aj {
			return ai > aj
		}
		if sorted[i].Box.Y1 != sorted[j].Box.Y1 {
			return sorted[i].Box.Y1 < sorted[j].Box.Y1
		}
		return sorted[i].Box.X1 < sorted[j].Box.X1
	})

	var kept []domain.Element
	for _, cand := range sorted {
		dup := false
		for _, k := range kept {
			if cand.Box.IoU(k.Box) >= iou {
				dup = true
				break
			}
		}
		if !dup {
			kept = append(kept, cand)
		}
	}

	// Restore reading order.
	sort.SliceStable(kept, func(i, j int) bool {
		if kept[i].Box.Y1 != kept[j].Box.Y1 {
			return kept[i].Box.Y1 < kept[j].Box.Y1
		}
		return kept[i].Box.X1 < kept[j].Box.X1
	})

	return kept
}
