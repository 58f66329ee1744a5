package quality

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/paperlens/corpus-builder/internal/domain"
	"github.com/paperlens/corpus-builder/internal/embedding"
)

// Scorer computes text similarity in [0,1].
type Scorer interface {
	Similarity(ctx context.Context, a, b string) (float64, error)
}

// Item is a dedup candidate: an annotation text with its detection confidence.
type Item struct {
	ID         string
	Text       string
	Confidence float64
}

// Deduplicator rejects near-duplicate annotation texts. At or above the
// similarity threshold the lower-confidence member of a pair is rejected.
// Filtering is idempotent: the surviving set is pairwise below the
// threshold, so re-running it rejects nothing.
type Deduplicator struct {
	threshold float64
	scorer    Scorer
}

// NewDeduplicator creates a deduplicator.
func NewDeduplicator(threshold float64, scorer Scorer) *Deduplicator {
	if scorer == nil {
		scorer = TokenScorer{}
	}
	return &Deduplicator{threshold: threshold, scorer: scorer}
}

// Filter returns the surviving items and one DuplicateRejection per removed
// item. Items are visited in (confidence desc, id asc) order and kept
// greedily, which makes the outcome deterministic.
func (d *Deduplicator) Filter(ctx context.Context, items []Item) ([]Item, []error) {
	sorted := make([]Item, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Confidence != sorted[j].Confidence {
			return sorted[i].Confidence > sorted[j].Confidence
		}
		return sorted[i].ID < sorted[j].ID
	})

	var kept []Item
	var rejected []error

	for _, cand := range sorted {
		dupOf := ""
		for _, k := range kept {
			sim, err := d.scorer.Similarity(ctx, cand.Text, k.Text)
			if err != nil {
				// Scoring failure must not silently admit duplicates; fall
				// back to exact-match comparison for this pair.
				if normalizeTokensKey(cand.Text) == normalizeTokensKey(k.Text) {
					sim = 1.0
				} else {
					sim = 0
				}
			}
			if sim >= d.threshold {
				dupOf = k.ID
				break
			}
		}

		if dupOf != "" {
			rejected = append(rejected, domain.DuplicateRejection(cand.ID,
				fmt.Sprintf("near-duplicate of %s", dupOf)))
			continue
		}
		kept = append(kept, cand)
	}

	return kept, rejected
}

// TokenScorer scores similarity as Jaccard overlap of normalized token sets.
type TokenScorer struct{}

// Similarity computes token-set Jaccard similarity.
func (TokenScorer) Similarity(_ context.Context, a, b string) (float64, error) {
	ta := tokenSet(a)
	tb := tokenSet(b)
	if len(ta) == 0 && len(tb) == 0 {
		return 1.0, nil
	}
	if len(ta) == 0 || len(tb) == 0 {
		return 0, nil
	}

	inter := 0
	for tok := range ta {
		if tb[tok] {
			inter++
		}
	}
	union := len(ta) + len(tb) - inter
	return float64(inter) / float64(union), nil
}

// EmbeddingScorer scores similarity as cosine distance between embeddings.
// Vectors are cached per text so repeated comparisons embed each text once.
type EmbeddingScorer struct {
	embedder embedding.Embedder
	vectors  map[string][]float32
}

// NewEmbeddingScorer creates an embedding-backed scorer.
func NewEmbeddingScorer(embedder embedding.Embedder) *EmbeddingScorer {
	return &EmbeddingScorer{
		embedder: embedder,
		vectors:  make(map[string][]float32),
	}
}

// Similarity computes cosine similarity between the texts' embeddings.
func (s *EmbeddingScorer) Similarity(ctx context.Context, a, b string) (float64, error) {
	va, err := s.vector(ctx, a)
	if err != nil {
		return 0, err
	}
	vb, err := s.vector(ctx, b)
	if err != nil {
		return 0, err
	}
	return embedding.Cosine(va, vb), nil
}

func (s *EmbeddingScorer) vector(ctx context.Context, text string) ([]float32, error) {
	key := normalizeTokensKey(text)
	if v, ok := s.vectors[key]; ok {
		return v, nil
	}

	v, err := s.embedder.EmbedSingle(ctx, key)
	if err != nil {
		return nil, err
	}
	s.vectors[key] = v
	return v, nil
}

func tokenSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, tok := range strings.Fields(strings.ToLower(s)) {
		tok = strings.Trim(tok, ".,;:!?()[]{}\"'")
		if tok != "" {
			set[tok] = true
		}
	}
	return set
}

func normalizeTokensKey(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
