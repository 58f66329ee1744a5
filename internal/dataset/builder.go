// Package dataset assembles annotated documents into the multi-task JSONL
// training corpus, apportioning samples across tasks by configured weights.
package dataset

import (
	"fmt"
	"math/rand"
	"sort"
	"strings"

	"github.com/paperlens/corpus-builder/internal/domain"
	"github.com/paperlens/corpus-builder/internal/quality"
)

// Config holds corpus assembly settings.
type Config struct {
	Weights          map[domain.TaskType]float64
	Seed             int64
	MaxSamplesPerDoc int // 0 means unlimited
	TotalSamples     int // 0 means take everything available
}

// Source is one annotated document ready for sample assembly.
type Source struct {
	Doc        *domain.Document
	Annotation *domain.DocumentAnnotation
	Elements   map[string]domain.ElementAnnotation
}

// Builder turns annotated documents into training samples.
type Builder struct {
	cfg Config
	rng *rand.Rand
}

// NewBuilder creates a builder. Weights must cover known tasks and sum to 1.
func NewBuilder(cfg Config) (*Builder, error) {
	if len(cfg.Weights) == 0 {
		cfg.Weights = domain.DefaultTaskWeights()
	}

	sum := 0.0
	for task, w := range cfg.Weights {
		known := false
		for _, t := range domain.AllTasks {
			if t == task {
				known = true
				break
			}
		}
		if !known {
			return nil, fmt.Errorf("unknown task %q in weights", task)
		}
		if w < 0 {
			return nil, fmt.Errorf("task %q has negative weight %v", task, w)
		}
		sum += w
	}
	if sum < 1-1e-6 || sum > 1+1e-6 {
		return nil, fmt.Errorf("task weights sum to %v, want 1.0", sum)
	}

	return &Builder{cfg: cfg, rng: rand.New(rand.NewSource(cfg.Seed))}, nil
}

// Build assembles samples from all sources and apportions them per the task
// weights. Allocation records the target and realized per-task counts.
func (b *Builder) Build(sources []Source) ([]domain.Sample, *Allocation) {
	candidates := make(map[domain.TaskType][]domain.Sample)
	for _, src := range sources {
		b.collect(src, candidates)
	}

	available := make(map[domain.TaskType]int, len(candidates))
	for task, list := range candidates {
		available[task] = len(list)
	}

	alloc := allocate(b.cfg.Weights, available, b.cfg.TotalSamples)

	var out []domain.Sample
	for _, task := range domain.AllTasks {
		list := candidates[task]
		b.rng.Shuffle(len(list), func(i, j int) { list[i], list[j] = list[j], list[i] })

		n := alloc.Target[task]
		if n > len(list) {
			n = len(list)
		}
		out = append(out, list[:n]...)
		alloc.Realized[task] = n
		alloc.Total += n
	}

	b.rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out, alloc
}

// collect generates every candidate sample a source can supply, respecting
// the per-document cap.
func (b *Builder) collect(src Source, candidates map[domain.TaskType][]domain.Sample) {
	if src.Doc == nil {
		return
	}

	taken := 0
	add := func(task domain.TaskType, sample domain.Sample) bool {
		if b.cfg.MaxSamplesPerDoc > 0 && taken >= b.cfg.MaxSamplesPerDoc {
			return false
		}
		candidates[task] = append(candidates[task], sample)
		taken++
		return true
	}

	for _, s := range b.pageGrounding(src) {
		if !add(domain.TaskPageGrounding, s) {
			return
		}
	}
	for _, s := range b.figureCaptions(src) {
		if !add(domain.TaskFigureCaption, s) {
			return
		}
	}
	for _, s := range b.variableExtraction(src) {
		if !add(domain.TaskVariableExtraction, s) {
			return
		}
	}
	for _, s := range b.tableReading(src) {
		if !add(domain.TaskTableReading, s) {
			return
		}
	}
	for _, s := range b.multiFigure(src) {
		if !add(domain.TaskMultiFigure, s) {
			return
		}
	}
	for _, s := range b.abstractQA(src) {
		if !add(domain.TaskAbstractQA, s) {
			return
		}
	}
}

func (b *Builder) pick(templates []string) string {
	return templates[b.rng.Intn(len(templates))]
}

// pageGrounding emits one sample per page that has at least one detected
// element, grounding every element in page-render pixel coordinates.
func (b *Builder) pageGrounding(src Source) []domain.Sample {
	byPage := make(map[int][]domain.Element)
	for _, el := range src.Doc.Elements {
		byPage[el.PageIndex] = append(byPage[el.PageIndex], el)
	}

	var out []domain.Sample
	for _, page := range src.Doc.Pages {
		elements := byPage[page.Index]
		if len(elements) == 0 || page.ImagePath == "" {
			continue
		}
		sort.Slice(elements, func(i, j int) bool { return elements[i].Order < elements[j].Order })

		var lines []string
		for _, el := range elements {
			lines = append(lines, fmt.Sprintf("There is a %s at %s.", el.Type, quality.FormatBox(el.Pixel)))
		}

		out = append(out, domain.Sample{
			ID:    fmt.Sprintf("%s_p%03d_%s", src.Doc.ID, page.Index, domain.TaskPageGrounding),
			Image: []string{page.ImagePath},
			Conversations: []domain.Turn{
				{From: "human", Value: b.pick(pageGroundingQuestions)},
				{From: "gpt", Value: strings.Join(lines, " ")},
			},
			Width:  page.PixelW,
			Height: page.PixelH,
		})
	}
	return out
}

// figureCaptions emits one captioning sample per annotated figure or table
// crop.
func (b *Builder) figureCaptions(src Source) []domain.Sample {
	var out []domain.Sample
	for _, el := range src.Doc.Elements {
		ann, ok := src.Elements[el.ID]
		if !ok || ann.Caption == "" || el.CropPath == "" {
			continue
		}
		if el.Type != domain.ElementFigure && el.Type != domain.ElementTable {
			continue
		}

		question := figureCaptionQuestions
		if el.Type == domain.ElementTable {
			question = tableCaptionQuestions
		}

		answer := ann.Caption
		if len(ann.KeyFindings) > 0 {
			answer += " Key findings: " + strings.Join(ann.KeyFindings, " ")
		}

		out = append(out, domain.Sample{
			ID:    fmt.Sprintf("%s_%s", el.ID, domain.TaskFigureCaption),
			Image: []string{el.CropPath},
			Conversations: []domain.Turn{
				{From: "human", Value: b.pick(question)},
				{From: "gpt", Value: answer},
			},
			Width:  el.CropW,
			Height: el.CropH,
		})
	}
	return out
}

// variableExtraction emits a sample per element whose annotation names at
// least one variable.
func (b *Builder) variableExtraction(src Source) []domain.Sample {
	var out []domain.Sample
	for _, el := range src.Doc.Elements {
		ann, ok := src.Elements[el.ID]
		if !ok || len(ann.Variables) == 0 || el.CropPath == "" {
			continue
		}

		var lines []string
		for _, v := range ann.Variables {
			line := fmt.Sprintf("%s: %s", v.Symbol, v.Meaning)
			if v.Unit != "" {
				line += fmt.Sprintf(" (%s)", v.Unit)
			}
			lines = append(lines, line)
		}

		out = append(out, domain.Sample{
			ID:    fmt.Sprintf("%s_%s", el.ID, domain.TaskVariableExtraction),
			Image: []string{el.CropPath},
			Conversations: []domain.Turn{
				{From: "human", Value: b.pick(variableQuestions)},
				{From: "gpt", Value: strings.Join(lines, "\n")},
			},
			Width:  el.CropW,
			Height: el.CropH,
		})
	}
	return out
}

// tableReading emits a transcription sample per table with a CSV rendering.
func (b *Builder) tableReading(src Source) []domain.Sample {
	var out []domain.Sample
	for _, el := range src.Doc.Elements {
		if el.Type != domain.ElementTable || el.CropPath == "" {
			continue
		}
		ann, ok := src.Elements[el.ID]
		if !ok || strings.TrimSpace(ann.TableCSV) == "" {
			continue
		}

		out = append(out, domain.Sample{
			ID:    fmt.Sprintf("%s_%s", el.ID, domain.TaskTableReading),
			Image: []string{el.CropPath},
			Conversations: []domain.Turn{
				{From: "human", Value: b.pick(tableReadingQuestions)},
				{From: "gpt", Value: strings.TrimSpace(ann.TableCSV)},
			},
			Width:  el.CropW,
			Height: el.CropH,
		})
	}
	return out
}

// multiFigure pairs consecutive annotated figures from the same document.
// Documents with fewer than two annotated figures supply nothing.
func (b *Builder) multiFigure(src Source) []domain.Sample {
	var figures []domain.Element
	for _, el := range src.Doc.Elements {
		if el.Type != domain.ElementFigure || el.CropPath == "" {
			continue
		}
		if ann, ok := src.Elements[el.ID]; ok && ann.Caption != "" {
			figures = append(figures, el)
		}
	}
	if len(figures) < 2 {
		return nil
	}

	var out []domain.Sample
	for i := 0; i+1 < len(figures); i += 2 {
		a, c := figures[i], figures[i+1]
		annA := src.Elements[a.ID]
		annC := src.Elements[c.ID]

		answer := fmt.Sprintf("The first figure: %s The second figure: %s", annA.Caption, annC.Caption)

		out = append(out, domain.Sample{
			ID:    fmt.Sprintf("%s_mf%02d_%s", src.Doc.ID, i/2, domain.TaskMultiFigure),
			Image: []string{a.CropPath, c.CropPath},
			Conversations: []domain.Turn{
				{From: "human", Value: b.pick(multiFigureQuestions)},
				{From: "gpt", Value: answer},
			},
			Width:  a.CropW,
			Height: a.CropH,
		})
	}
	return out
}

// abstractQA emits one question-answer sample over the first page render,
// answered from the document abstract.
func (b *Builder) abstractQA(src Source) []domain.Sample {
	if src.Annotation == nil || strings.TrimSpace(src.Annotation.Abstract) == "" {
		return nil
	}
	if len(src.Doc.Pages) == 0 || src.Doc.Pages[0].ImagePath == "" {
		return nil
	}

	page := src.Doc.Pages[0]
	return []domain.Sample{{
		ID:    fmt.Sprintf("%s_%s", src.Doc.ID, domain.TaskAbstractQA),
		Image: []string{page.ImagePath},
		Conversations: []domain.Turn{
			{From: "human", Value: b.pick(abstractQuestions)},
			{From: "gpt", Value: strings.TrimSpace(src.Annotation.Abstract)},
		},
		Width:  page.PixelW,
		Height: page.PixelH,
	}}
}
