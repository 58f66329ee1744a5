// Package pipeline drives a full corpus build: render, detect, annotate,
// quality-filter, and assemble the training dataset. Unit failures are
// counted in the run report and never abort the run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/errgroup"

	"github.com/paperlens/corpus-builder/internal/annotate"
	"github.com/paperlens/corpus-builder/internal/cache"
	"github.com/paperlens/corpus-builder/internal/catalog"
	"github.com/paperlens/corpus-builder/internal/config"
	"github.com/paperlens/corpus-builder/internal/dataset"
	"github.com/paperlens/corpus-builder/internal/detect"
	"github.com/paperlens/corpus-builder/internal/domain"
	"github.com/paperlens/corpus-builder/internal/geometry"
	"github.com/paperlens/corpus-builder/internal/observability"
	"github.com/paperlens/corpus-builder/internal/pdf"
	"github.com/paperlens/corpus-builder/internal/quality"
	"github.com/paperlens/corpus-builder/internal/schema"
)

// frontPages is how many leading pages feed the document-level pass.
const frontPages = 2

// Options wires the pipeline's collaborators. Zero-value fields fall back to
// the production implementations.
type Options struct {
	Client       domain.AnnotationClient
	OpenRenderer func(path, docID string) (domain.Renderer, error)
	Cache        cache.Client
	Catalog      *catalog.Catalog
	Scorer       quality.Scorer
	Logger       *observability.Logger
	Progress     bool
}

// Pipeline executes corpus build runs.
type Pipeline struct {
	cfg      *config.Config
	opts     Options
	detector *detect.Detector
	checker  *quality.Checker
	dedup    *quality.Deduplicator
	orch     *annotate.Orchestrator
	log      *observability.Logger
}

// New creates a pipeline from configuration.
func New(cfg *config.Config, opts Options) (*Pipeline, error) {
	if opts.Client == nil {
		return nil, domain.ConfigError("annotation client is required", nil)
	}
	if opts.OpenRenderer == nil {
		opts.OpenRenderer = func(path, docID string) (domain.Renderer, error) {
			return pdf.Open(path, docID)
		}
	}
	log := opts.Logger
	if log == nil {
		log = observability.Nop()
	}

	validator, err := schema.New(cfg.Quality.StrictMode)
	if err != nil {
		return nil, err
	}

	detCfg := detect.DefaultConfig()
	detCfg.MinFigureArea = cfg.Detection.MinFigureArea
	detCfg.MinTableArea = cfg.Detection.MinTableArea
	detCfg.ConfidenceThreshold = cfg.Detection.ConfidenceThreshold
	detCfg.OverlapIoU = cfg.Detection.OverlapIoU
	detector := detect.New(detCfg, log)

	orch := annotate.New(opts.Client, validator, opts.Cache, annotate.Config{
		BatchSize:   cfg.Annotation.BatchSize,
		MaxInFlight: cfg.Annotation.MaxInFlight,
		Retry: annotate.RetryConfig{
			MaxRetries:     cfg.Annotation.MaxRetries,
			InitialBackoff: cfg.Annotation.InitialBackoff,
			MaxBackoff:     cfg.Annotation.MaxBackoff,
		},
		CacheTTL: cfg.Cache.TTL,
	}, log)

	return &Pipeline{
		cfg:      cfg,
		opts:     opts,
		detector: detector,
		checker:  quality.NewChecker(cfg.Quality.StrictMode),
		dedup:    quality.NewDeduplicator(cfg.Quality.SimilarityThreshold, opts.Scorer),
		orch:     orch,
		log:      log.WithComponent("pipeline"),
	}, nil
}

// Report is the per-run summary written alongside the corpus.
type Report struct {
	RunID             string                   `json:"run_id"`
	StartedAt         time.Time                `json:"started_at"`
	FinishedAt        time.Time                `json:"finished_at"`
	Documents         int                      `json:"documents"`
	DocumentsFailed   int                      `json:"documents_failed"`
	ElementsDetected  int                      `json:"elements_detected"`
	ElementsAnnotated int                      `json:"elements_annotated"`
	Samples           int                      `json:"samples"`
	SamplesRejected   int                      `json:"samples_rejected"`
	Allocation        *dataset.Allocation      `json:"allocation,omitempty"`
	Errors            map[domain.ErrorKind]int `json:"errors"`
}

func (r *Report) count(errs ...error) {
	for _, err := range errs {
		if err == nil {
			continue
		}
		r.Errors[domain.KindOf(err)]++
	}
}

// Run builds the corpus from the given PDF paths and writes corpus.jsonl and
// report.json into the configured output directory.
func (p *Pipeline) Run(ctx context.Context, paths []string) (*Report, error) {
	report := &Report{
		RunID:     uuid.New().String(),
		StartedAt: time.Now().UTC(),
		Errors:    make(map[domain.ErrorKind]int),
	}

	p.log.Info().
		Str("run_id", report.RunID).
		Int("documents", len(paths)).
		Msg("starting corpus build")

	if p.opts.Catalog != nil {
		if err := p.opts.Catalog.BeginRun(ctx, report.RunID, p.cfg); err != nil {
			return nil, fmt.Errorf("begin run: %w", err)
		}
	}

	var bar *progressbar.ProgressBar
	if p.opts.Progress {
		bar = progressbar.Default(int64(len(paths)), "documents")
	}

	var mu sync.Mutex
	var sources []dataset.Source

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Observability.Workers)

	for _, path := range paths {
		g.Go(func() error {
			src, errs := p.processDocument(gctx, report.RunID, path)

			mu.Lock()
			defer mu.Unlock()
			report.Documents++
			report.count(errs...)
			if src == nil {
				report.DocumentsFailed++
			} else {
				report.ElementsDetected += len(src.Doc.Elements)
				report.ElementsAnnotated += len(src.Elements)
				sources = append(sources, *src)
			}
			if bar != nil {
				bar.Add(1)
			}
			return nil
		})
	}
	// Document failures are unit-scoped; workers never return errors.
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	report.count(p.rejectDuplicates(ctx, sources)...)

	samples, alloc, errs := p.assemble(sources)
	report.count(errs...)
	report.SamplesRejected = len(errs)
	report.Samples = len(samples)
	report.Allocation = alloc

	outDir := p.cfg.Dataset.OutputDir
	if err := dataset.WriteJSONL(filepath.Join(outDir, "corpus.jsonl"), samples); err != nil {
		return nil, err
	}

	report.FinishedAt = time.Now().UTC()
	if err := dataset.WriteJSON(filepath.Join(outDir, "report.json"), report); err != nil {
		return nil, err
	}

	if p.opts.Catalog != nil {
		if err := p.opts.Catalog.FinishRun(ctx, report.RunID, report); err != nil {
			p.log.Warn().Err(err).Msg("record run report")
		}
	}

	p.log.Info().
		Str("run_id", report.RunID).
		Int("samples", report.Samples).
		Int("documents_failed", report.DocumentsFailed).
		Msg("corpus build finished")

	return report, nil
}

// processDocument takes one PDF through render, detection, and annotation.
// The returned errors are unit-scoped; a nil source means the document
// produced nothing usable.
func (p *Pipeline) processDocument(ctx context.Context, runID, path string) (*dataset.Source, []error) {
	docID := DocID(path)
	log := p.log.WithDocument(docID)

	r, err := p.opts.OpenRenderer(path, docID)
	if err != nil {
		log.Error().Err(err).Msg("open document")
		p.markFailed(ctx, docID, err)
		return nil, []error{err}
	}
	defer r.Close()

	doc, frontText, errs := p.buildStructure(ctx, r, docID, path)
	if len(doc.Pages) == 0 {
		log.Error().Msg("no pages rendered")
		err := domain.RenderError(docID, "no pages rendered", nil)
		p.markFailed(ctx, docID, err)
		return nil, append(errs, err)
	}

	if p.opts.Catalog != nil {
		if err := p.opts.Catalog.UpsertDocument(ctx, runID, doc); err != nil {
			log.Warn().Err(err).Msg("register document")
		}
	}

	outcome := p.annotateDocument(ctx, doc, frontText)
	errs = append(errs, outcome.Errors...)

	for _, violation := range p.checker.CheckAnnotations(doc, outcome.Document, outcome.Elements) {
		errs = append(errs, violation)
		var de *domain.DomainError
		if errors.As(violation, &de) {
			delete(outcome.Elements, de.Unit)
		}
	}

	if outcome.Document == nil && len(outcome.Elements) == 0 {
		p.markFailed(ctx, docID, domain.AnnotationFatalError(docID, "no annotations resolved", nil))
		return nil, errs
	}

	if p.opts.Catalog != nil {
		stored := &catalog.StoredAnnotations{Document: outcome.Document, Elements: outcome.Elements}
		if err := p.opts.Catalog.SaveAnnotations(ctx, docID, stored); err != nil {
			log.Warn().Err(err).Msg("persist annotations")
		}
	}

	return &dataset.Source{
		Doc:        doc,
		Annotation: outcome.Document,
		Elements:   outcome.Elements,
	}, errs
}

// buildStructure renders pages, detects elements, maps their coordinates,
// and renders element crops.
func (p *Pipeline) buildStructure(ctx context.Context, r domain.Renderer, docID, path string) (*domain.Document, string, []error) {
	doc := &domain.Document{ID: docID, Path: path}
	var errs []error
	var front []string

	outDir := p.cfg.Dataset.OutputDir
	order := 0

	for i := 0; i < r.NumPages(); i++ {
		content, err := r.PageContent(i)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		pageDPI := p.effectiveDPI(content.Width, content.Height, p.cfg.Render.DPI)
		pagePath := filepath.Join(outDir, "pages", fmt.Sprintf("%s_p%03d.png", docID, i))
		pw, ph, err := r.RenderPage(ctx, i, pageDPI, pagePath)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		doc.Pages = append(doc.Pages, domain.PageInfo{
			Index:     i,
			Width:     content.Width,
			Height:    content.Height,
			ImagePath: pagePath,
			PixelW:    pw,
			PixelH:    ph,
		})

		if i < frontPages {
			if text, err := r.Text(i); err == nil {
				front = append(front, text)
			}
		}

		elements, detErrs := p.detector.DetectPage(content, docID, order)
		errs = append(errs, detErrs...)

		for _, el := range elements {
			prepared, err := p.prepareElement(ctx, r, content, el, pageDPI, outDir)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			doc.Elements = append(doc.Elements, prepared)
		}
		order += len(elements)
	}

	return doc, strings.Join(front, "\n\n"), errs
}

// effectiveDPI lowers the render DPI when the page would exceed the
// configured maximum dimension on either side.
func (p *Pipeline) effectiveDPI(pageW, pageH, dpi float64) float64 {
	w, h := geometry.RenderedSize(pageW, pageH, dpi)
	if fw, _ := geometry.FitWithin(w, h, p.cfg.Render.MaxDimension); fw != w {
		return dpi * float64(fw) / float64(w)
	}
	return dpi
}

// prepareElement maps an element's box to page pixels and renders its crop.
func (p *Pipeline) prepareElement(ctx context.Context, r domain.Renderer, content *domain.PageContent, el domain.Element, pageDPI float64, outDir string) (domain.Element, error) {
	pixel, err := geometry.MapToPixels(el.Box, content.Width, content.Height, pageDPI, p.cfg.Render.ExpandMargin)
	if err != nil {
		return el, domain.CoordinateError(el.ID, "map to page pixels", err)
	}
	el.Pixel = pixel

	cropDPI := p.cfg.Render.CropDPI
	cropBox, err := geometry.MapToPixels(el.Box, content.Width, content.Height, cropDPI, p.cfg.Render.ExpandMargin)
	if err != nil {
		return el, domain.CoordinateError(el.ID, "map to crop pixels", err)
	}

	// Oversized crops are rendered at a reduced DPI instead of being
	// downscaled afterwards.
	if fw, _ := geometry.FitWithin(cropBox.Width(), cropBox.Height(), p.cfg.Render.MaxDimension); fw != cropBox.Width() {
		cropDPI = cropDPI * float64(fw) / float64(cropBox.Width())
		cropBox, err = geometry.MapToPixels(el.Box, content.Width, content.Height, cropDPI, p.cfg.Render.ExpandMargin)
		if err != nil {
			return el, domain.CoordinateError(el.ID, "map to reduced crop pixels", err)
		}
	}

	cropPath := filepath.Join(outDir, "crops", el.ID+".png")
	cw, ch, err := r.RenderCrop(ctx, el.PageIndex, cropBox, cropDPI, cropPath)
	if err != nil {
		return el, err
	}

	el.CropPath = cropPath
	el.CropW = cw
	el.CropH = ch
	return el, nil
}

// annotateDocument resolves annotations, replaying the catalog's stored
// payload when resuming instead of calling the model again.
func (p *Pipeline) annotateDocument(ctx context.Context, doc *domain.Document, frontText string) *annotate.Outcome {
	if p.cfg.Catalog.Resume && p.opts.Catalog != nil {
		status, err := p.opts.Catalog.DocumentStatus(ctx, doc.ID)
		if err == nil && status == catalog.StatusAnnotated {
			if stored, err := p.opts.Catalog.LoadAnnotations(ctx, doc.ID); err == nil {
				p.log.WithDocument(doc.ID).Info().Msg("replaying stored annotations")
				return &annotate.Outcome{Document: stored.Document, Elements: stored.Elements}
			}
		}
	}

	var pageImages []string
	for i, page := range doc.Pages {
		if i >= frontPages {
			break
		}
		pageImages = append(pageImages, page.ImagePath)
	}

	return p.orch.Annotate(ctx, doc, frontText, pageImages)
}

// rejectDuplicates removes near-duplicate element annotations across the
// whole run, keeping the member whose element has the higher detection
// confidence.
func (p *Pipeline) rejectDuplicates(ctx context.Context, sources []dataset.Source) []error {
	var items []quality.Item
	owner := make(map[string]int)

	for i, src := range sources {
		detected := make(map[string]float64, len(src.Doc.Elements))
		for _, el := range src.Doc.Elements {
			detected[el.ID] = el.Confidence
		}

		for id, ann := range src.Elements {
			text := ann.Caption
			if len(ann.KeyFindings) > 0 {
				text += " " + strings.Join(ann.KeyFindings, " ")
			}
			items = append(items, quality.Item{ID: id, Text: text, Confidence: detected[id]})
			owner[id] = i
		}
	}

	_, rejected := p.dedup.Filter(ctx, items)
	for _, err := range rejected {
		var de *domain.DomainError
		if errors.As(err, &de) {
			if i, ok := owner[de.Unit]; ok {
				delete(sources[i].Elements, de.Unit)
			}
		}
	}
	return rejected
}

// assemble builds samples and drops any that fail consistency checks.
func (p *Pipeline) assemble(sources []dataset.Source) ([]domain.Sample, *dataset.Allocation, []error) {
	builder, err := dataset.NewBuilder(dataset.Config{
		Weights:          p.cfg.Dataset.TaskWeights,
		Seed:             p.cfg.Dataset.Seed,
		MaxSamplesPerDoc: p.cfg.Dataset.MaxSamplesPerDoc,
	})
	if err != nil {
		return nil, nil, []error{domain.ConfigError("dataset builder", err)}
	}

	built, alloc := builder.Build(sources)

	var samples []domain.Sample
	var errs []error
	for _, sample := range built {
		if violations := p.checker.Check(sample); len(violations) > 0 {
			errs = append(errs, violations...)
			continue
		}
		samples = append(samples, sample)
	}
	return samples, alloc, errs
}

func (p *Pipeline) markFailed(ctx context.Context, docID string, cause error) {
	if p.opts.Catalog == nil {
		return
	}
	if err := p.opts.Catalog.MarkFailed(ctx, docID, cause); err != nil {
		p.log.Warn().Err(err).Str("doc_id", docID).Msg("record document failure")
	}
}

// DocID derives a document identifier from a PDF path: the base name without
// extension, lowercased, with runs of non-alphanumerics collapsed to one
// underscore.
func DocID(path string) string {
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	name = strings.ToLower(name)

	var b strings.Builder
	lastUnderscore := false
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore && b.Len() > 0 {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}
