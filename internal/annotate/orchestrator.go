// Package annotate runs the model annotation passes over a detected
// document: one document-level pass, then element passes in deterministic
// batches. Failures stay scoped to their unit (document pass, batch, or
// single element) and never abort the surrounding run.
package annotate

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/paperlens/corpus-builder/internal/cache"
	"github.com/paperlens/corpus-builder/internal/domain"
	"github.com/paperlens/corpus-builder/internal/observability"
	"github.com/paperlens/corpus-builder/internal/schema"
)

// Config holds orchestration settings.
type Config struct {
	BatchSize   int
	MaxInFlight int
	Retry       RetryConfig
	CacheTTL    time.Duration
}

// Orchestrator drives annotation passes for documents.
type Orchestrator struct {
	client    domain.AnnotationClient
	validator *schema.Validator
	cache     cache.Client // nil disables response caching
	cacheTTL  time.Duration
	batchSize int
	retry     RetryConfig
	log       *observability.Logger

	// inflight is the annotation budget shared by every document in a run.
	inflight chan struct{}
}

// New creates an orchestrator.
func New(client domain.AnnotationClient, validator *schema.Validator, respCache cache.Client, cfg Config, log *observability.Logger) *Orchestrator {
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 5
	}
	if cfg.MaxInFlight < 1 {
		cfg.MaxInFlight = 5
	}
	if cfg.Retry.MaxBackoff == 0 {
		cfg.Retry = DefaultRetryConfig()
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 24 * time.Hour
	}
	if log == nil {
		log = observability.Nop()
	}

	return &Orchestrator{
		client:    client,
		validator: validator,
		cache:     respCache,
		cacheTTL:  cfg.CacheTTL,
		batchSize: cfg.BatchSize,
		retry:     cfg.Retry,
		log:       log.WithComponent("annotate"),
		inflight:  make(chan struct{}, cfg.MaxInFlight),
	}
}

// Outcome is the resolved annotation state of one document. A document's
// samples may only be built once both the document pass and every batch have
// resolved, successfully or fatally; Outcome represents exactly that point.
type Outcome struct {
	Document *domain.DocumentAnnotation            // nil if the document pass failed
	Elements map[string]domain.ElementAnnotation   // accepted element annotations by id
	Errors   []error                               // every unit-scoped failure
}

// Batch is one deterministic slice of a document's elements.
type Batch struct {
	ID       string
	Elements []domain.Element
}

// Batches splits elements into annotation batches. Composition is
// deterministic: elements are ordered by page index then detection order and
// chunked in that order, so the same detection output always produces the
// same batches.
func Batches(docID string, elements []domain.Element, size int) []Batch {
	if size < 1 {
		size = 1
	}

	sorted := make([]domain.Element, len(elements))
	copy(sorted, elements)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].PageIndex != sorted[j].PageIndex {
			return sorted[i].PageIndex < sorted[j].PageIndex
		}
		return sorted[i].Order < sorted[j].Order
	})

	var batches []Batch
	for i := 0; i < len(sorted); i += size {
		end := i + size
		if end > len(sorted) {
			end = len(sorted)
		}
		batches = append(batches, Batch{
			ID:       fmt.Sprintf("%s_b%02d", docID, len(batches)),
			Elements: sorted[i:end:end],
		})
	}

	return batches
}

// Annotate runs the document pass and all element batches for one document
// and returns only once every unit has resolved.
func (o *Orchestrator) Annotate(ctx context.Context, doc *domain.Document, frontText string, pageImages []string) *Outcome {
	outcome := &Outcome{
		Elements: make(map[string]domain.ElementAnnotation),
	}

	log := o.log.WithDocument(doc.ID)

	docAnn, err := o.documentPass(ctx, doc.ID, frontText, pageImages)
	if err != nil {
		log.Error().Err(err).Msg("document pass failed")
		outcome.Errors = append(outcome.Errors, err)
	} else {
		outcome.Document = docAnn
	}

	batches := Batches(doc.ID, doc.Elements, o.batchSize)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)

	for _, batch := range batches {
		g.Go(func() error {
			accepted, errs := o.batchPass(gctx, batch)

			mu.Lock()
			defer mu.Unlock()
			for _, ann := range accepted {
				outcome.Elements[ann.ElementID] = ann
			}
			outcome.Errors = append(outcome.Errors, errs...)
			return nil
		})
	}

	// Workers never return errors; unit failures are collected per batch.
	_ = g.Wait()

	log.Info().
		Int("elements", len(doc.Elements)).
		Int("batches", len(batches)).
		Int("accepted", len(outcome.Elements)).
		Int("failures", len(outcome.Errors)).
		Msg("document annotation resolved")

	return outcome
}

// documentPass runs the document-level annotation with retries.
func (o *Orchestrator) documentPass(ctx context.Context, docID, frontText string, pageImages []string) (*domain.DocumentAnnotation, error) {
	req := domain.DocumentRequest{
		DocID:      docID,
		ImagePaths: pageImages,
		FrontText:  frontText,
	}
	cacheKey := cache.ResponseKey("doc", docID, frontText)

	var result *domain.DocumentAnnotation
	err := o.withRetry(ctx, docID, func() error {
		payload, err := o.fetch(ctx, cacheKey, func() ([]byte, error) {
			return o.client.AnnotateDocument(ctx, req)
		})
		if err != nil {
			return err
		}

		ann, errs := o.validator.ValidateDocument(docID, payload)
		if len(errs) > 0 {
			o.dropCached(ctx, cacheKey)
			return errs[0]
		}

		o.store(ctx, cacheKey, payload)
		result = ann
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// batchPass runs one element batch with retries. Whole-batch validation
// failures are retried; per-element rejections are final and returned as
// unit errors alongside the accepted siblings.
func (o *Orchestrator) batchPass(ctx context.Context, batch Batch) ([]domain.ElementAnnotation, []error) {
	keyParts := []string{"batch", batch.ID}
	for _, el := range batch.Elements {
		keyParts = append(keyParts, el.ID, el.Anchor)
	}
	cacheKey := cache.ResponseKey(keyParts...)

	var result *schema.BatchResult
	err := o.withRetry(ctx, batch.ID, func() error {
		payload, err := o.fetch(ctx, cacheKey, func() ([]byte, error) {
			return o.client.AnnotateBatch(ctx, domain.BatchRequest{
				DocID:    batch.Elements[0].DocID,
				BatchID:  batch.ID,
				Elements: batch.Elements,
			})
		})
		if err != nil {
			return err
		}

		res, err := o.validator.ValidateBatch(batch.ID, batch.Elements, payload)
		if err != nil {
			o.dropCached(ctx, cacheKey)
			return err
		}

		o.store(ctx, cacheKey, payload)
		result = res
		return nil
	})
	if err != nil {
		return nil, []error{err}
	}

	return result.Accepted, result.Rejected
}

// fetch returns a cached response or calls the API under the shared
// in-flight budget.
func (o *Orchestrator) fetch(ctx context.Context, key string, call func() ([]byte, error)) ([]byte, error) {
	if o.cache != nil {
		if payload, err := o.cache.Get(ctx, key); err == nil {
			return payload, nil
		}
	}

	select {
	case o.inflight <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-o.inflight }()

	return call()
}

func (o *Orchestrator) store(ctx context.Context, key string, payload []byte) {
	if o.cache == nil {
		return
	}
	if err := o.cache.Set(ctx, key, payload, o.cacheTTL); err != nil {
		o.log.Warn().Err(err).Msg("cache response")
	}
}

// dropCached removes a cached payload that failed validation so the retry
// reaches the API instead of replaying the bad response.
func (o *Orchestrator) dropCached(ctx context.Context, key string) {
	if o.cache == nil {
		return
	}
	_ = o.cache.Delete(ctx, key)
}
