package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paperlens/corpus-builder/internal/cache"
	"github.com/paperlens/corpus-builder/internal/catalog"
	"github.com/paperlens/corpus-builder/internal/config"
	"github.com/paperlens/corpus-builder/internal/dataset"
	"github.com/paperlens/corpus-builder/internal/domain"
)

// fakeRenderer serves one synthetic page holding two embedded figures with
// caption fragments beneath them. It never touches the filesystem.
type fakeRenderer struct {
	docID string
}

func (f *fakeRenderer) NumPages() int { return 1 }

func (f *fakeRenderer) PageContent(pageIndex int) (*domain.PageContent, error) {
	return &domain.PageContent{
		Index:  pageIndex,
		Width:  612,
		Height: 792,
		Images: []domain.ImagePlacement{
			{Box: domain.BBox{X1: 100, Y1: 100, X2: 300, Y2: 260}},
			{Box: domain.BBox{X1: 100, Y1: 400, X2: 300, Y2: 560}},
		},
		Fragments: []domain.TextFragment{
			{Text: "Figure 1: Training loss.", Box: domain.BBox{X1: 100, Y1: 265, X2: 300, Y2: 277}},
			{Text: "Figure 2: Validation accuracy.", Box: domain.BBox{X1: 100, Y1: 565, X2: 300, Y2: 577}},
		},
	}, nil
}

func (f *fakeRenderer) Text(pageIndex int) (string, error) {
	return "A Paper About Scaling\nAbstract: we scale things.", nil
}

func (f *fakeRenderer) RenderPage(ctx context.Context, pageIndex int, dpi float64, outPath string) (int, int, error) {
	return 1700, 2200, nil
}

func (f *fakeRenderer) RenderCrop(ctx context.Context, pageIndex int, box domain.PixelBox, dpi float64, outPath string) (int, int, error) {
	return box.Width(), box.Height(), nil
}

func (f *fakeRenderer) Close() error { return nil }

// fakeClient answers annotation requests with schema-valid payloads and
// counts how many API calls were made.
type fakeClient struct {
	calls atomic.Int64
}

func (f *fakeClient) AnnotateDocument(ctx context.Context, req domain.DocumentRequest) ([]byte, error) {
	f.calls.Add(1)
	payload := map[string]interface{}{
		"paper_id": req.DocID,
		"title":    "A Paper About Scaling",
		"abstract": "We study scaling behavior of " + req.DocID + " and report consistent gains.",
		"keywords": []string{"scaling", "training"},
		"sections": []map[string]interface{}{
			{"title": "Introduction", "level": 1},
		},
	}
	return json.Marshal(payload)
}

func (f *fakeClient) AnnotateBatch(ctx context.Context, req domain.BatchRequest) ([]byte, error) {
	f.calls.Add(1)
	var anns []map[string]interface{}
	for i, el := range req.Elements {
		anns = append(anns, map[string]interface{}{
			"element_id": el.ID,
			"caption":    fmt.Sprintf("Curve %d measured on %s.", i, el.DocID),
			"anchor":     el.Anchor,
			"confidence": 0.9,
			"variables": []map[string]string{
				{"symbol": "L", "meaning": "loss"},
			},
		})
	}
	return json.Marshal(map[string]interface{}{"annotations": anns})
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Dataset.OutputDir = t.TempDir()
	cfg.Catalog.Path = filepath.Join(cfg.Dataset.OutputDir, "catalog.db")
	cfg.Observability.Workers = 2
	return cfg
}

func newTestPipeline(t *testing.T, cfg *config.Config, client domain.AnnotationClient, cat *catalog.Catalog) *Pipeline {
	t.Helper()

	p, err := New(cfg, Options{
		Client: client,
		OpenRenderer: func(path, docID string) (domain.Renderer, error) {
			if filepath.Base(path) == "broken.pdf" {
				return nil, domain.RenderError(docID, "open document", assert.AnError)
			}
			return &fakeRenderer{docID: docID}, nil
		},
		Cache:   cache.NewMemoryClient(100),
		Catalog: cat,
	})
	require.NoError(t, err)
	return p
}

func TestRunBuildsCorpus(t *testing.T) {
	cfg := testConfig(t)
	client := &fakeClient{}
	p := newTestPipeline(t, cfg, client, nil)

	report, err := p.Run(context.Background(), []string{"/papers/Alpha Paper.pdf", "/papers/beta-paper.pdf"})
	require.NoError(t, err)

	assert.Equal(t, 2, report.Documents)
	assert.Zero(t, report.DocumentsFailed)
	assert.Equal(t, 4, report.ElementsDetected)
	assert.Equal(t, 4, report.ElementsAnnotated)
	assert.NotEmpty(t, report.RunID)
	require.NotZero(t, report.Samples)

	samples, err := dataset.ReadJSONL(filepath.Join(cfg.Dataset.OutputDir, "corpus.jsonl"))
	require.NoError(t, err)
	assert.Len(t, samples, report.Samples)

	seen := map[string]bool{}
	for _, s := range samples {
		assert.False(t, seen[s.ID], "duplicate sample id %s", s.ID)
		seen[s.ID] = true
		assert.NotEmpty(t, s.Image)
		assert.Positive(t, s.Width)
	}
}

func TestRunCountsUnitFailuresWithoutAborting(t *testing.T) {
	cfg := testConfig(t)
	client := &fakeClient{}
	p := newTestPipeline(t, cfg, client, nil)

	report, err := p.Run(context.Background(), []string{"/papers/good.pdf", "/papers/broken.pdf"})
	require.NoError(t, err)

	assert.Equal(t, 2, report.Documents)
	assert.Equal(t, 1, report.DocumentsFailed)
	assert.GreaterOrEqual(t, report.Errors[domain.KindRender], 1)
	assert.NotZero(t, report.Samples, "healthy document still produces samples")
}

func TestRunResumeReplaysStoredAnnotations(t *testing.T) {
	cfg := testConfig(t)
	cat, err := catalog.Open(cfg.Catalog.Path)
	require.NoError(t, err)
	defer cat.Close()

	first := &fakeClient{}
	p1 := newTestPipeline(t, cfg, first, cat)
	r1, err := p1.Run(context.Background(), []string{"/papers/gamma.pdf"})
	require.NoError(t, err)
	require.NotZero(t, first.calls.Load())

	cfg.Catalog.Resume = true
	second := &fakeClient{}
	p2 := newTestPipeline(t, cfg, second, cat)
	r2, err := p2.Run(context.Background(), []string{"/papers/gamma.pdf"})
	require.NoError(t, err)

	assert.Zero(t, second.calls.Load(), "resumed run must not call the model")
	assert.Equal(t, r1.Samples, r2.Samples)
	assert.Equal(t, r1.ElementsAnnotated, r2.ElementsAnnotated)
}

func TestRejectDuplicatesKeepsHigherDetectionConfidence(t *testing.T) {
	cfg := testConfig(t)
	p := newTestPipeline(t, cfg, &fakeClient{}, nil)

	// The weaker detection carries the higher model confidence; detection
	// confidence must still decide which duplicate survives.
	sources := []dataset.Source{{
		Doc: &domain.Document{
			ID: "delta",
			Elements: []domain.Element{
				{ID: "delta_p000_fig00", Type: domain.ElementFigure, Confidence: 0.9},
				{ID: "delta_p001_fig00", Type: domain.ElementFigure, Confidence: 0.6},
			},
		},
		Elements: map[string]domain.ElementAnnotation{
			"delta_p000_fig00": {ElementID: "delta_p000_fig00", Caption: "Throughput versus batch size.", Confidence: 0.5},
			"delta_p001_fig00": {ElementID: "delta_p001_fig00", Caption: "Throughput versus batch size.", Confidence: 0.99},
		},
	}}

	rejected := p.rejectDuplicates(context.Background(), sources)

	require.Len(t, rejected, 1)
	assert.Equal(t, domain.KindDuplicateRejection, domain.KindOf(rejected[0]))
	assert.Contains(t, rejected[0].Error(), "delta_p001_fig00")

	assert.Contains(t, sources[0].Elements, "delta_p000_fig00")
	assert.NotContains(t, sources[0].Elements, "delta_p001_fig00")
}

func TestDocID(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/papers/Alpha Paper.pdf", "alpha_paper"},
		{"/papers/beta-paper.pdf", "beta_paper"},
		{"simple.pdf", "simple"},
		{"/a/b/2024 -- Results (final).PDF", "2024_results_final"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DocID(tt.path))
	}
}
