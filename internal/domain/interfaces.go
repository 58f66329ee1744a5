package domain

import "context"

// Renderer turns PDF pages into images and exposes page structure.
type Renderer interface {
	// NumPages returns the page count of the open document.
	NumPages() int

	// PageContent returns the structural view of a page for detection.
	PageContent(pageIndex int) (*PageContent, error)

	// Text returns the plain text of a page.
	Text(pageIndex int) (string, error)

	// RenderPage renders a full page at the given DPI and writes it to outPath.
	RenderPage(ctx context.Context, pageIndex int, dpi float64, outPath string) (w, h int, err error)

	// RenderCrop renders the pixel region of a page at the given DPI and
	// writes it to outPath. The pixel box is interpreted at that same DPI.
	RenderCrop(ctx context.Context, pageIndex int, box PixelBox, dpi float64, outPath string) (w, h int, err error)

	// Close releases the underlying document.
	Close() error
}

// AnnotationClient executes a single annotation request attempt. Retry policy
// belongs to the caller; the client classifies failures as transient or fatal.
type AnnotationClient interface {
	// AnnotateDocument sends first-page renders plus extracted front-matter
	// text and returns the raw JSON payload from the model.
	AnnotateDocument(ctx context.Context, req DocumentRequest) ([]byte, error)

	// AnnotateBatch sends one element batch and returns the raw JSON payload.
	AnnotateBatch(ctx context.Context, req BatchRequest) ([]byte, error)
}

// DocumentRequest carries the inputs of a document-level annotation pass.
type DocumentRequest struct {
	DocID      string
	ImagePaths []string // first-page renders
	FrontText  string   // extracted text of the leading pages
}

// BatchRequest carries one deterministic element batch.
type BatchRequest struct {
	DocID    string
	BatchID  string
	Elements []Element
}
