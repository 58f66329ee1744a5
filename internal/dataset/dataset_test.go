package dataset

import (
	"fmt"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paperlens/corpus-builder/internal/domain"
	"github.com/paperlens/corpus-builder/internal/quality"
)

// makeSource builds a synthetic annotated document with one page, four
// captioned figures carrying variables, and one table with a CSV rendering.
func makeSource(docID string) Source {
	doc := &domain.Document{
		ID:   docID,
		Path: "/papers/" + docID + ".pdf",
		Pages: []domain.PageInfo{
			{
				Index:     0,
				Width:     612,
				Height:    792,
				ImagePath: fmt.Sprintf("pages/%s_p000.png", docID),
				PixelW:    1700,
				PixelH:    2200,
			},
		},
	}

	elements := map[string]domain.ElementAnnotation{}
	for i := 0; i < 4; i++ {
		id := domain.ElementID(docID, 0, domain.ElementFigure, i)
		doc.Elements = append(doc.Elements, domain.Element{
			ID:        id,
			DocID:     docID,
			PageIndex: 0,
			Type:      domain.ElementFigure,
			Order:     i,
			CropPath:  fmt.Sprintf("crops/%s_p000_fig%02d.png", docID, i),
			CropW:     900,
			CropH:     600,
			Pixel:     domain.PixelBox{X1: 100, Y1: 100 + 400*i, X2: 700, Y2: 400 + 400*i},
		})
		elements[id] = domain.ElementAnnotation{
			ElementID: id,
			Caption:   fmt.Sprintf("Training curve %d for %s.", i, docID),
			Variables: []domain.Variable{{Symbol: "L", Meaning: "training loss"}},
			Anchor:    "Figure",
		}
	}

	tabID := domain.ElementID(docID, 0, domain.ElementTable, 0)
	doc.Elements = append(doc.Elements, domain.Element{
		ID:        tabID,
		DocID:     docID,
		PageIndex: 0,
		Type:      domain.ElementTable,
		Order:     4,
		CropPath:  fmt.Sprintf("crops/%s_p000_tab00.png", docID),
		CropW:     1100,
		CropH:     500,
		Pixel:     domain.PixelBox{X1: 800, Y1: 100, X2: 1600, Y2: 600},
	})
	elements[tabID] = domain.ElementAnnotation{
		ElementID: tabID,
		Caption:   "Benchmark results for " + docID + ".",
		TableCSV:  "model,accuracy\nbase,0.81\nlarge,0.87",
		Anchor:    "Table",
	}

	return Source{
		Doc: doc,
		Annotation: &domain.DocumentAnnotation{
			PaperID:  docID,
			Title:    "A Study of " + docID,
			Abstract: "We study scaling behavior and report consistent gains on all benchmarks.",
		},
		Elements: elements,
	}
}

func manySources(n int) []Source {
	sources := make([]Source, n)
	for i := range sources {
		sources[i] = makeSource(fmt.Sprintf("paper%02d", i))
	}
	return sources
}

func TestNewBuilderValidatesWeights(t *testing.T) {
	_, err := NewBuilder(Config{Weights: map[domain.TaskType]float64{"bogus_task": 1.0}})
	assert.ErrorContains(t, err, "unknown task")

	_, err = NewBuilder(Config{Weights: map[domain.TaskType]float64{
		domain.TaskFigureCaption: 1.2,
		domain.TaskAbstractQA:    -0.2,
	}})
	assert.ErrorContains(t, err, "negative weight")

	_, err = NewBuilder(Config{Weights: map[domain.TaskType]float64{
		domain.TaskFigureCaption: 0.5,
	}})
	assert.ErrorContains(t, err, "sum")

	_, err = NewBuilder(Config{})
	assert.NoError(t, err)
}

func TestBuildRealizedMixMatchesWeights(t *testing.T) {
	const total = 200
	weights := domain.DefaultTaskWeights()

	b, err := NewBuilder(Config{Weights: weights, Seed: 42, TotalSamples: total})
	require.NoError(t, err)

	samples, alloc := b.Build(manySources(40))
	require.Len(t, samples, total)

	for task, w := range weights {
		got := float64(alloc.Realized[task]) / float64(total)
		assert.InDeltaf(t, w, got, 0.02, "task %s realized %v, want %v +/- 0.02", task, got, w)
	}
}

func TestBuildDeterministicUnderSeed(t *testing.T) {
	cfg := Config{Seed: 7, TotalSamples: 50}

	b1, err := NewBuilder(cfg)
	require.NoError(t, err)
	b2, err := NewBuilder(cfg)
	require.NoError(t, err)

	s1, _ := b1.Build(manySources(10))
	s2, _ := b2.Build(manySources(10))
	assert.Equal(t, s1, s2)

	b3, err := NewBuilder(Config{Seed: 8, TotalSamples: 50})
	require.NoError(t, err)
	s3, _ := b3.Build(manySources(10))
	assert.NotEqual(t, s1, s3)
}

func TestBuildSamplesPassConsistencyChecks(t *testing.T) {
	b, err := NewBuilder(Config{Seed: 1})
	require.NoError(t, err)

	samples, _ := b.Build(manySources(3))
	require.NotEmpty(t, samples)

	checker := quality.NewChecker(true)
	for _, s := range samples {
		assert.Emptyf(t, checker.Check(s), "sample %s failed consistency checks", s.ID)
	}
}

func TestMultiFigureNeedsTwoFigures(t *testing.T) {
	b, err := NewBuilder(Config{Seed: 1})
	require.NoError(t, err)

	src := makeSource("solo")
	src.Doc.Elements = src.Doc.Elements[:1] // one figure left
	for id := range src.Elements {
		if id != src.Doc.Elements[0].ID {
			delete(src.Elements, id)
		}
	}

	samples, alloc := b.Build([]Source{src})
	assert.Zero(t, alloc.Realized[domain.TaskMultiFigure])
	for _, s := range samples {
		assert.Len(t, s.Image, 1)
	}
}

func TestAbstractQARequiresAbstract(t *testing.T) {
	b, err := NewBuilder(Config{Seed: 1})
	require.NoError(t, err)

	src := makeSource("noabs")
	src.Annotation.Abstract = ""

	_, alloc := b.Build([]Source{src})
	assert.Zero(t, alloc.Available[domain.TaskAbstractQA])
}

func TestMaxSamplesPerDocCapsContribution(t *testing.T) {
	b, err := NewBuilder(Config{Seed: 1, MaxSamplesPerDoc: 3})
	require.NoError(t, err)

	_, alloc := b.Build([]Source{makeSource("capped")})

	supply := 0
	for _, n := range alloc.Available {
		supply += n
	}
	assert.Equal(t, 3, supply)
}

func TestAllocateShortfallRedistribution(t *testing.T) {
	weights := domain.DefaultTaskWeights()
	available := map[domain.TaskType]int{
		domain.TaskPageGrounding:      100,
		domain.TaskFigureCaption:      5, // starved of its 40% share
		domain.TaskVariableExtraction: 100,
		domain.TaskTableReading:       100,
		domain.TaskMultiFigure:        100,
		domain.TaskAbstractQA:         100,
	}

	alloc := allocate(weights, available, 100)

	assert.Equal(t, 5, alloc.Target[domain.TaskFigureCaption])
	total := 0
	for _, n := range alloc.Target {
		total += n
	}
	assert.Equal(t, 100, total)
}

func TestWriteReadJSONLRoundTrip(t *testing.T) {
	b, err := NewBuilder(Config{Seed: 3})
	require.NoError(t, err)
	samples, _ := b.Build(manySources(2))
	require.NotEmpty(t, samples)

	path := filepath.Join(t.TempDir(), "corpus.jsonl")
	require.NoError(t, WriteJSONL(path, samples))

	back, err := ReadJSONL(path)
	require.NoError(t, err)
	assert.Equal(t, samples, back)
}

func TestAllocateExactWithAmpleSupply(t *testing.T) {
	weights := domain.DefaultTaskWeights()
	available := map[domain.TaskType]int{}
	for _, task := range domain.AllTasks {
		available[task] = 1000
	}

	alloc := allocate(weights, available, 1000)
	for task, w := range weights {
		want := w * 1000
		assert.LessOrEqualf(t, math.Abs(float64(alloc.Target[task])-want), 1.0,
			"task %s target %d, want about %v", task, alloc.Target[task], want)
	}
}
