// Package geometry maps document-unit coordinates onto rendered pixel grids.
package geometry

import (
	"fmt"
	"math"

	"github.com/paperlens/corpus-builder/internal/domain"
)

// PointsPerInch is the PDF user-space unit density.
const PointsPerInch = 72.0

// Scale returns the doc-unit to pixel scale factor at the given DPI.
func Scale(dpi float64) float64 {
	return dpi / PointsPerInch
}

// MapToPixels converts a doc-unit bbox to a pixel bbox at the given DPI,
// expands it by marginPx on every side, and clips it to the rendered page.
// It is a pure function: same inputs always yield the same box.
func MapToPixels(box domain.BBox, pageW, pageH, dpi float64, marginPx int) (domain.PixelBox, error) {
	if pageW <= 0 || pageH <= 0 {
		return domain.PixelBox{}, domain.CoordinateError("", fmt.Sprintf("invalid page size %gx%g", pageW, pageH), nil)
	}
	if dpi <= 0 {
		return domain.PixelBox{}, domain.CoordinateError("", fmt.Sprintf("invalid dpi %g", dpi), nil)
	}
	if !box.Valid() {
		return domain.PixelBox{}, domain.CoordinateError("", fmt.Sprintf("inverted or empty bbox %+v", box), nil)
	}
	if marginPx < 0 {
		return domain.PixelBox{}, domain.CoordinateError("", fmt.Sprintf("negative margin %d", marginPx), nil)
	}

	s := Scale(dpi)
	maxW := int(math.Round(pageW * s))
	maxH := int(math.Round(pageH * s))

	x1 := int(math.Floor(box.X1*s)) - marginPx
	y1 := int(math.Floor(box.Y1*s)) - marginPx
	x2 := int(math.Ceil(box.X2*s)) + marginPx
	y2 := int(math.Ceil(box.Y2*s)) + marginPx

	px := domain.PixelBox{
		X1: clampInt(x1, 0, maxW),
		Y1: clampInt(y1, 0, maxH),
		X2: clampInt(x2, 0, maxW),
		Y2: clampInt(y2, 0, maxH),
	}

	if px.X2 <= px.X1 || px.Y2 <= px.Y1 {
		return domain.PixelBox{}, domain.CoordinateError("", "bbox collapsed after clipping", nil)
	}

	return px, nil
}

// RenderedSize returns the pixel dimensions of a page rendered at the given DPI.
func RenderedSize(pageW, pageH, dpi float64) (int, int) {
	s := Scale(dpi)
	return int(math.Round(pageW * s)), int(math.Round(pageH * s))
}

// FitWithin downscales (w, h) proportionally so neither side exceeds maxDim.
// Returns the original size when already within bounds or maxDim <= 0.
func FitWithin(w, h, maxDim int) (int, int) {
	if maxDim <= 0 || (w <= maxDim && h <= maxDim) {
		return w, h
	}
	scale := float64(maxDim) / float64(w)
	if h > w {
		scale = float64(maxDim) / float64(h)
	}
	return int(math.Round(float64(w) * scale)), int(math.Round(float64(h) * scale))
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
