// Package pdf wraps go-fitz document access: page rendering, crop rendering,
// and the structural page view used by element detection.
package pdf

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"sync"

	"github.com/gen2brain/go-fitz"

	"github.com/paperlens/corpus-builder/internal/domain"
)

// Renderer renders pages and crops from a single open PDF document.
// go-fitz documents are not safe for concurrent use, so all access is
// serialized behind a mutex.
type Renderer struct {
	mu    sync.Mutex
	doc   *fitz.Document
	docID string
	path  string
}

// Open opens a PDF for rendering.
func Open(path, docID string) (*Renderer, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return nil, domain.RenderError(docID, "open document", err)
	}
	if doc.NumPage() == 0 {
		doc.Close()
		return nil, domain.RenderError(docID, "document has no pages", nil)
	}
	return &Renderer{doc: doc, docID: docID, path: path}, nil
}

// NumPages returns the page count.
func (r *Renderer) NumPages() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.doc.NumPage()
}

// PageContent returns the structural view of a page: positioned text
// fragments and embedded image placements, parsed from the page's
// structured markup.
func (r *Renderer) PageContent(pageIndex int) (*domain.PageContent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	bounds, err := r.doc.Bound(pageIndex)
	if err != nil {
		return nil, domain.RenderError(r.unit(pageIndex), "page bounds", err)
	}

	markup, err := r.doc.HTML(pageIndex, false)
	if err != nil {
		return nil, domain.RenderError(r.unit(pageIndex), "page markup", err)
	}

	content, err := ParsePageHTML(markup)
	if err != nil {
		return nil, domain.RenderError(r.unit(pageIndex), "parse page markup", err)
	}

	content.Index = pageIndex
	if content.Width == 0 || content.Height == 0 {
		content.Width = float64(bounds.Dx())
		content.Height = float64(bounds.Dy())
	}

	return content, nil
}

// Text returns the plain text of a page.
func (r *Renderer) Text(pageIndex int) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	text, err := r.doc.Text(pageIndex)
	if err != nil {
		return "", domain.RenderError(r.unit(pageIndex), "page text", err)
	}
	return text, nil
}

// RenderPage renders a full page at the given DPI and writes a PNG to outPath.
func (r *Renderer) RenderPage(ctx context.Context, pageIndex int, dpi float64, outPath string) (int, int, error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}

	r.mu.Lock()
	img, err := r.doc.ImageDPI(pageIndex, dpi)
	r.mu.Unlock()
	if err != nil {
		return 0, 0, domain.RenderError(r.unit(pageIndex), fmt.Sprintf("render at %g dpi", dpi), err)
	}

	if err := writePNG(outPath, img); err != nil {
		return 0, 0, err
	}

	b := img.Bounds()
	return b.Dx(), b.Dy(), nil
}

// RenderCrop renders the pixel region of a page at the given DPI and writes a
// PNG to outPath. The box is interpreted in pixel coordinates at that DPI.
func (r *Renderer) RenderCrop(ctx context.Context, pageIndex int, box domain.PixelBox, dpi float64, outPath string) (int, int, error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}

	r.mu.Lock()
	img, err := r.doc.ImageDPI(pageIndex, dpi)
	r.mu.Unlock()
	if err != nil {
		return 0, 0, domain.RenderError(r.unit(pageIndex), fmt.Sprintf("render at %g dpi", dpi), err)
	}

	bounds := img.Bounds()
	rect := image.Rect(box.X1, box.Y1, box.X2, box.Y2).Intersect(bounds)
	if rect.Empty() {
		return 0, 0, domain.RenderError(r.unit(pageIndex), fmt.Sprintf("crop %+v outside page render %v", box, bounds), nil)
	}

	crop := img.SubImage(rect)
	if err := writePNG(outPath, crop); err != nil {
		return 0, 0, err
	}

	return rect.Dx(), rect.Dy(), nil
}

// Close releases the underlying document.
func (r *Renderer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.doc != nil {
		r.doc.Close()
		r.doc = nil
	}
	return nil
}

func (r *Renderer) unit(pageIndex int) string {
	return fmt.Sprintf("%s_p%03d", r.docID, pageIndex)
}

func writePNG(outPath string, img image.Image) error {
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return domain.IOError("create output directory", err)
	}

	f, err := os.Create(outPath)
	if err != nil {
		return domain.IOError("create image file", err)
	}

	if err := png.Encode(f, img); err != nil {
		f.Close()
		return domain.IOError("encode png", err)
	}

	return f.Close()
}
