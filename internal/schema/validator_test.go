package schema

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paperlens/corpus-builder/internal/domain"
)

func newValidator(t *testing.T) *Validator {
	t.Helper()
	v, err := New(false)
	require.NoError(t, err)
	return v
}

func TestValidateDocument(t *testing.T) {
	v := newValidator(t)

	payload := []byte(`{
		"paper_id": "doc1",
		"title": "Deep Learning for Climate Models",
		"abstract": "We study things.",
		"keywords": ["Climate", "climate", "DEEP LEARNING"],
		"sections": [{"title": "Introduction", "level": 1}, {"title": "Methods", "level": 2}]
	}`)

	ann, errs := v.ValidateDocument("doc1", payload)

	require.Empty(t, errs)
	require.NotNil(t, ann)
	assert.Equal(t, "Deep Learning for Climate Models", ann.Title)
	// Keywords lowercased and deduped.
	assert.Equal(t, []string{"climate", "deep learning"}, ann.Keywords)
	assert.Len(t, ann.Sections, 2)
}

func TestValidateDocumentRejections(t *testing.T) {
	v := newValidator(t)

	tests := []struct {
		name    string
		payload string
	}{
		{"not json", `this is not json`},
		{"missing title", `{"paper_id":"doc1","abstract":"","keywords":[],"sections":[]}`},
		{"section level out of range", `{"paper_id":"doc1","title":"T","abstract":"","keywords":[],"sections":[{"title":"X","level":7}]}`},
		{"wrong paper id", `{"paper_id":"other","title":"T","abstract":"","keywords":[],"sections":[]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ann, errs := v.ValidateDocument("doc1", []byte(tt.payload))

			assert.Nil(t, ann)
			require.NotEmpty(t, errs)
			assert.Equal(t, domain.KindValidation, domain.KindOf(errs[0]))
		})
	}
}

func batchElements() []domain.Element {
	return []domain.Element{
		{ID: "doc1_p000_fig00", Type: domain.ElementFigure, Anchor: "Figure 1: Sensor layout overview."},
		{ID: "doc1_p001_tab00", Type: domain.ElementTable, Anchor: "Table 1: Summary of results."},
	}
}

func annotationJSON(elementID, anchor string, extra string) string {
	return fmt.Sprintf(`{"element_id":%q,"caption":"A caption","anchor":%q,"confidence":0.8%s}`,
		elementID, anchor, extra)
}

func TestValidateBatchAccepts(t *testing.T) {
	v := newValidator(t)
	elements := batchElements()

	payload := fmt.Sprintf(`{"annotations":[%s,%s]}`,
		annotationJSON("doc1_p000_fig00", "Figure 1: Sensor layout overview.", `,"figure_type":"diagram"`),
		annotationJSON("doc1_p001_tab00", "Table 1: Summary of results.", `,"table_csv":"a,b\n1,2"`))

	result, err := v.ValidateBatch("doc1_b00", elements, []byte(payload))

	require.NoError(t, err)
	assert.Empty(t, result.Rejected)
	require.Len(t, result.Accepted, 2)
	assert.Equal(t, "a,b\n1,2", result.Accepted[1].TableCSV)
}

func TestValidateBatchWholeBatchRejections(t *testing.T) {
	v := newValidator(t)
	elements := batchElements()

	tests := []struct {
		name    string
		payload string
	}{
		{
			"unparseable payload",
			`{"annotations": [`,
		},
		{
			"missing element id",
			fmt.Sprintf(`{"annotations":[%s]}`,
				annotationJSON("doc1_p000_fig00", "Figure 1: Sensor layout overview.", "")),
		},
		{
			"unknown element id",
			fmt.Sprintf(`{"annotations":[%s,%s,%s]}`,
				annotationJSON("doc1_p000_fig00", "Figure 1: Sensor layout overview.", ""),
				annotationJSON("doc1_p001_tab00", "Table 1: Summary of results.", ""),
				annotationJSON("doc9_p000_fig00", "whatever", "")),
		},
		{
			"duplicate element id",
			fmt.Sprintf(`{"annotations":[%s,%s]}`,
				annotationJSON("doc1_p000_fig00", "Figure 1: Sensor layout overview.", ""),
				annotationJSON("doc1_p000_fig00", "Figure 1: Sensor layout overview.", "")),
		},
		{
			"confidence out of range",
			`{"annotations":[{"element_id":"doc1_p000_fig00","caption":"c","anchor":"a","confidence":1.5}]}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := v.ValidateBatch("doc1_b00", elements, []byte(tt.payload))

			assert.Nil(t, result)
			require.Error(t, err)
			assert.Equal(t, domain.KindValidation, domain.KindOf(err))
		})
	}
}

func TestValidateBatchAnchorMismatchRejectsOnlyThatElement(t *testing.T) {
	v := newValidator(t)
	elements := batchElements()

	payload := fmt.Sprintf(`{"annotations":[%s,%s]}`,
		annotationJSON("doc1_p000_fig00", "Completely different text about turbines.", ""),
		annotationJSON("doc1_p001_tab00", "Table 1: Summary of results.", ""))

	result, err := v.ValidateBatch("doc1_b00", elements, []byte(payload))

	require.NoError(t, err)
	require.Len(t, result.Accepted, 1)
	assert.Equal(t, "doc1_p001_tab00", result.Accepted[0].ElementID)
	require.Len(t, result.Rejected, 1)
	assert.Equal(t, domain.KindValidation, domain.KindOf(result.Rejected[0]))
}

func TestValidateBatchAnchorNormalization(t *testing.T) {
	v := newValidator(t)
	elements := []domain.Element{
		{ID: "e1", Type: domain.ElementFigure, Anchor: "Figure 1:  Sensor   layout overview."},
	}

	// Case and whitespace differences are tolerated; partial echo is fine.
	payload := fmt.Sprintf(`{"annotations":[%s]}`,
		annotationJSON("e1", "figure 1: sensor layout", ""))

	result, err := v.ValidateBatch("b", elements, []byte(payload))

	require.NoError(t, err)
	assert.Len(t, result.Accepted, 1)
	assert.Empty(t, result.Rejected)
}

func TestValidateAnnotationCleansFields(t *testing.T) {
	v := newValidator(t)
	elements := []domain.Element{
		{ID: "e1", Type: domain.ElementFigure, Anchor: "Figure 3: Training curves."},
	}

	payload := `{"annotations":[{
		"element_id": "e1",
		"caption": "Figure 3: Training curves.",
		"anchor": "Figure 3: Training curves.",
		"key_findings": [
			"Loss drops by 40% after warmup",
			"The model might overfit on small data",
			"` + longFinding() + `"
		],
		"table_csv": "should,be,cleared",
		"confidence": 0.9
	}]}`

	result, err := v.ValidateBatch("b", elements, []byte(payload))

	require.NoError(t, err)
	require.Len(t, result.Accepted, 1)
	ann := result.Accepted[0]

	// Caption label stripped.
	assert.Equal(t, "Training curves.", ann.Caption)
	// Hedged and over-long findings filtered out.
	assert.Equal(t, []string{"Loss drops by 40% after warmup"}, ann.KeyFindings)
	// table_csv cleared for non-tables.
	assert.Empty(t, ann.TableCSV)
}

func TestValidateAnnotationStrictMode(t *testing.T) {
	v, err := New(true)
	require.NoError(t, err)

	elements := []domain.Element{
		{ID: "e1", Type: domain.ElementFigure, Anchor: "Figure 3: Training curves."},
	}

	payload := `{"annotations":[{
		"element_id": "e1",
		"caption": "c",
		"anchor": "Figure 3: Training curves.",
		"key_findings": ["The model might overfit"],
		"confidence": 0.9
	}]}`

	result, err := v.ValidateBatch("b", elements, []byte(payload))

	require.NoError(t, err)
	assert.Empty(t, result.Accepted)
	assert.Len(t, result.Rejected, 1)
}

func longFinding() string {
	s := ""
	for i := 0; i < 12; i++ {
		s += "very long "
	}
	return s + "finding"
}
