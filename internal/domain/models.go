package domain

import (
	"fmt"
	"strings"
)

// ElementType identifies the structural kind of a detected page element.
type ElementType string

const (
	ElementFigure   ElementType = "figure"
	ElementTable    ElementType = "table"
	ElementEquation ElementType = "equation"
)

// BBox is an axis-aligned box in document units (points, 72 per inch).
// Origin is the top-left page corner, y grows downward.
type BBox struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

func (b BBox) Width() float64  { return b.X2 - b.X1 }
func (b BBox) Height() float64 { return b.Y2 - b.Y1 }
func (b BBox) Area() float64   { return b.Width() * b.Height() }

// Valid reports whether the box has positive extent.
func (b BBox) Valid() bool {
	return b.X2 > b.X1 && b.Y2 > b.Y1
}

// Expand grows the box by m units on every side.
func (b BBox) Expand(m float64) BBox {
	return BBox{X1: b.X1 - m, Y1: b.Y1 - m, X2: b.X2 + m, Y2: b.Y2 + m}
}

// Clip constrains the box to [0,w]x[0,h].
func (b BBox) Clip(w, h float64) BBox {
	return BBox{
		X1: clamp(b.X1, 0, w),
		Y1: clamp(b.Y1, 0, h),
		X2: clamp(b.X2, 0, w),
		Y2: clamp(b.Y2, 0, h),
	}
}

// IoU computes intersection over union with another box.
func (b BBox) IoU(o BBox) float64 {
	ix1 := max64(b.X1, o.X1)
	iy1 := max64(b.Y1, o.Y1)
	ix2 := min64(b.X2, o.X2)
	iy2 := min64(b.Y2, o.Y2)
	if ix2 <= ix1 || iy2 <= iy1 {
		return 0
	}
	inter := (ix2 - ix1) * (iy2 - iy1)
	union := b.Area() + o.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func max64(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func min64(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

// PixelBox is an axis-aligned box in rendered-image pixel coordinates.
type PixelBox struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

func (p PixelBox) Width() int  { return p.X2 - p.X1 }
func (p PixelBox) Height() int { return p.Y2 - p.Y1 }

// TextFragment is a positioned run of text on a page.
type TextFragment struct {
	Text string
	Box  BBox
}

// ImagePlacement is an embedded raster image placed on a page.
type ImagePlacement struct {
	Box BBox
}

// PageContent is the structural view of one page that detection operates on.
type PageContent struct {
	Index     int // zero-based page index
	Width     float64
	Height    float64
	Fragments []TextFragment
	Images    []ImagePlacement
}

// Element is a detected structural element awaiting annotation.
type Element struct {
	ID         string      `json:"id"`
	DocID      string      `json:"doc_id"`
	PageIndex  int         `json:"page_index"`
	Type       ElementType `json:"type"`
	Box        BBox        `json:"bbox"`
	Confidence float64     `json:"confidence"`
	Order      int         `json:"order"` // detection order within the document
	Anchor     string      `json:"anchor,omitempty"`
	CropPath   string      `json:"crop_path,omitempty"`
	CropW      int         `json:"crop_width,omitempty"`
	CropH      int         `json:"crop_height,omitempty"`
	Pixel      PixelBox    `json:"pixel_bbox"` // at page render DPI
}

// ElementID builds the stable identifier for a detected element.
func ElementID(docID string, pageIndex int, kind ElementType, idx int) string {
	short := "fig"
	switch kind {
	case ElementTable:
		short = "tab"
	case ElementEquation:
		short = "eq"
	}
	return fmt.Sprintf("%s_p%03d_%s%02d", docID, pageIndex, short, idx)
}

// PageInfo records a rendered page.
type PageInfo struct {
	Index     int     `json:"index"`
	Width     float64 `json:"width"`  // doc units
	Height    float64 `json:"height"` // doc units
	ImagePath string  `json:"image_path"`
	PixelW    int     `json:"pixel_width"`
	PixelH    int     `json:"pixel_height"`
}

// Document is a source PDF together with its detected structure.
type Document struct {
	ID       string    `json:"id"`
	Path     string    `json:"path"`
	Pages    []PageInfo `json:"pages"`
	Elements []Element  `json:"elements"`
}

// Section is a document heading with its nesting level (1-6).
type Section struct {
	Title string `json:"title"`
	Level int    `json:"level"`
}

// DocumentAnnotation is the document-level annotation produced by the model.
type DocumentAnnotation struct {
	PaperID         string    `json:"paper_id"`
	Title           string    `json:"title"`
	Abstract        string    `json:"abstract"`
	Keywords        []string  `json:"keywords"`
	Topics          []string  `json:"topics,omitempty"`
	Sections        []Section `json:"sections"`
	Authors         []string  `json:"authors,omitempty"`
	Affiliations    []string  `json:"affiliations,omitempty"`
	DOI             string    `json:"doi,omitempty"`
	Journal         string    `json:"journal,omitempty"`
	PublicationDate string    `json:"publication_date,omitempty"`
}

// NormalizeKeywords lowercases, trims, and dedupes keywords, keeping at most 10.
func (a *DocumentAnnotation) NormalizeKeywords() {
	seen := make(map[string]bool)
	out := make([]string, 0, len(a.Keywords))
	for _, k := range a.Keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
		if len(out) == 10 {
			break
		}
	}
	a.Keywords = out
}

// Variable is a symbol appearing in a figure or table.
type Variable struct {
	Symbol  string `json:"symbol"`
	Meaning string `json:"meaning"`
	Unit    string `json:"unit,omitempty"`
}

// Axis holds figure axis labels.
type Axis struct {
	XLabel string `json:"x_label,omitempty"`
	YLabel string `json:"y_label,omitempty"`
}

// ElementAnnotation is the per-element annotation produced by the model.
type ElementAnnotation struct {
	ElementID   string     `json:"element_id"`
	Caption     string     `json:"caption"`
	FigureType  string     `json:"figure_type,omitempty"`
	Variables   []Variable `json:"variables,omitempty"`
	Axis        *Axis      `json:"axis,omitempty"`
	KeyFindings []string   `json:"key_findings,omitempty"`
	TableCSV    string     `json:"table_csv,omitempty"`
	Anchor      string     `json:"anchor"`
	Confidence  float64    `json:"confidence"`
}

// Turn is one conversation turn in a training sample.
type Turn struct {
	From  string `json:"from"` // "human" or "gpt"
	Value string `json:"value"`
}

// Sample is one JSONL record of the output corpus.
type Sample struct {
	ID            string `json:"id"`
	Image         []string `json:"image"`
	Conversations []Turn `json:"conversations"`
	Width         int    `json:"width"`
	Height        int    `json:"height"`
}

// TaskType identifies a training task family.
type TaskType string

const (
	TaskPageGrounding      TaskType = "page_grounding"
	TaskFigureCaption      TaskType = "figure_caption"
	TaskVariableExtraction TaskType = "variable_extraction"
	TaskTableReading       TaskType = "table_reading"
	TaskMultiFigure        TaskType = "multi_figure"
	TaskAbstractQA         TaskType = "abstract_qa"
)

// AllTasks lists every task type in stable order.
var AllTasks = []TaskType{
	TaskPageGrounding,
	TaskFigureCaption,
	TaskVariableExtraction,
	TaskTableReading,
	TaskMultiFigure,
	TaskAbstractQA,
}

// DefaultTaskWeights is the stock task mix.
func DefaultTaskWeights() map[TaskType]float64 {
	return map[TaskType]float64{
		TaskPageGrounding:      0.15,
		TaskFigureCaption:      0.40,
		TaskVariableExtraction: 0.15,
		TaskTableReading:       0.15,
		TaskMultiFigure:        0.10,
		TaskAbstractQA:         0.05,
	}
}
