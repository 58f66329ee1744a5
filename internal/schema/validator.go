// Package schema validates raw model payloads against JSON Schemas and the
// cross-field rules the schemas cannot express. Validation is total and
// side-effect free: any input yields either a typed annotation or a list of
// validation errors, never a panic and never partial mutation of inputs.
package schema

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/paperlens/corpus-builder/internal/domain"
)

// Validator checks model output payloads.
type Validator struct {
	document *jsonschema.Schema
	batch    *jsonschema.Schema
	strict   bool
}

// New compiles the payload schemas.
func New(strict bool) (*Validator, error) {
	doc, err := jsonschema.CompileString("document.json", documentSchema)
	if err != nil {
		return nil, fmt.Errorf("compile document schema: %w", err)
	}

	batch, err := jsonschema.CompileString("batch.json", batchSchema)
	if err != nil {
		return nil, fmt.Errorf("compile batch schema: %w", err)
	}

	return &Validator{document: doc, batch: batch, strict: strict}, nil
}

// ValidateDocument validates a document-pass payload. A nil annotation means
// the payload was rejected; the errors say why.
func (v *Validator) ValidateDocument(docID string, payload []byte) (*domain.DocumentAnnotation, []error) {
	var raw interface{}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, []error{domain.ValidationError(docID, "payload is not valid JSON", err)}
	}

	if err := v.document.Validate(raw); err != nil {
		return nil, []error{domain.ValidationError(docID, "payload violates document schema", err)}
	}

	var ann domain.DocumentAnnotation
	if err := json.Unmarshal(payload, &ann); err != nil {
		return nil, []error{domain.ValidationError(docID, "decode document annotation", err)}
	}

	var errs []error
	if ann.PaperID != docID {
		errs = append(errs, domain.ValidationError(docID,
			fmt.Sprintf("paper_id %q does not match document %q", ann.PaperID, docID), nil))
	}

	if len(errs) > 0 {
		return nil, errs
	}

	ann.NormalizeKeywords()
	return &ann, nil
}

// BatchResult is the outcome of validating one element-batch payload.
type BatchResult struct {
	Accepted []domain.ElementAnnotation
	Rejected []error // per-element validation errors; siblings stay accepted
}

// ValidateBatch validates an element-batch payload against the elements the
// batch was issued for. A non-nil error rejects the whole batch: the payload
// was unparseable, violated the schema, named an unknown element id, or
// failed to cover every element. Whole-batch rejection is retryable by the
// orchestrator. Per-element failures land in Rejected without affecting
// sibling annotations.
func (v *Validator) ValidateBatch(batchID string, elements []domain.Element, payload []byte) (*BatchResult, error) {
	var raw interface{}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, domain.ValidationError(batchID, "payload is not valid JSON", err)
	}

	if err := v.batch.Validate(raw); err != nil {
		return nil, domain.ValidationError(batchID, "payload violates batch schema", err)
	}

	var parsed struct {
		Annotations []domain.ElementAnnotation `json:"annotations"`
	}
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return nil, domain.ValidationError(batchID, "decode batch annotations", err)
	}

	byID := make(map[string]domain.Element, len(elements))
	for _, el := range elements {
		byID[el.ID] = el
	}

	seen := make(map[string]bool, len(parsed.Annotations))
	for _, ann := range parsed.Annotations {
		if _, ok := byID[ann.ElementID]; !ok {
			return nil, domain.ValidationError(batchID,
				fmt.Sprintf("annotation references unknown element id %q", ann.ElementID), nil)
		}
		if seen[ann.ElementID] {
			return nil, domain.ValidationError(batchID,
				fmt.Sprintf("duplicate annotation for element id %q", ann.ElementID), nil)
		}
		seen[ann.ElementID] = true
	}

	for _, el := range elements {
		if !seen[el.ID] {
			return nil, domain.ValidationError(batchID,
				fmt.Sprintf("missing annotation for element id %q", el.ID), nil)
		}
	}

	result := &BatchResult{}
	for _, ann := range parsed.Annotations {
		el := byID[ann.ElementID]
		cleaned, err := v.validateAnnotation(el, ann)
		if err != nil {
			result.Rejected = append(result.Rejected, err)
			continue
		}
		result.Accepted = append(result.Accepted, cleaned)
	}

	return result, nil
}

// hedgeWords are disallowed in key findings; findings must be stated as fact.
var hedgeWords = []string{"might", "maybe", "possibly", "perhaps", "could be", "may be"}

var captionLabel = regexp.MustCompile(`(?i)^(figure|fig\.?|table|equation|eq\.?)\s*\d+[.:]?\s*`)

// validateAnnotation applies per-element rules and returns the cleaned
// annotation. Failing the anchoring check rejects only this element.
func (v *Validator) validateAnnotation(el domain.Element, ann domain.ElementAnnotation) (domain.ElementAnnotation, error) {
	if !anchorMatches(el.Anchor, ann.Anchor) {
		return domain.ElementAnnotation{}, domain.ValidationError(el.ID,
			"anchoring text not found in source", nil)
	}

	ann.Caption = captionLabel.ReplaceAllString(strings.TrimSpace(ann.Caption), "")

	kept := ann.KeyFindings[:0]
	for _, finding := range ann.KeyFindings {
		finding = strings.TrimSpace(finding)
		if finding == "" || len(finding) > 100 || containsHedge(finding) {
			if v.strict {
				return domain.ElementAnnotation{}, domain.ValidationError(el.ID,
					fmt.Sprintf("key finding rejected: %q", finding), nil)
			}
			continue
		}
		kept = append(kept, finding)
	}
	ann.KeyFindings = kept

	if el.Type != domain.ElementTable {
		ann.TableCSV = ""
	}

	return ann, nil
}

// anchorMatches reports whether the echoed anchor is found in the source
// anchor text, compared case-insensitively with collapsed whitespace. An
// element without source anchor text (e.g. a bare image page) accepts any
// echo; an empty echo when the source has text is a mismatch.
func anchorMatches(source, echoed string) bool {
	src := normalizeText(source)
	echo := normalizeText(echoed)

	if src == "" {
		return true
	}
	if echo == "" {
		return false
	}
	return strings.Contains(src, echo) || strings.Contains(echo, src)
}

func normalizeText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func containsHedge(s string) bool {
	lower := strings.ToLower(s)
	for _, w := range hedgeWords {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}
