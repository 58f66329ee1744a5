package llm

import (
	"fmt"
	"strings"

	"github.com/paperlens/corpus-builder/internal/domain"
)

// documentPrompt builds the document-level annotation prompt. The model sees
// the first page renders plus the extracted front-matter text.
func documentPrompt(docID, frontText string) string {
	return fmt.Sprintf(`You are a scientific paper metadata extraction expert. Analyze the attached page images of a research paper together with its extracted text.

Extracted text of the leading pages:
---
%s
---

Return ONLY a JSON object with this exact structure:
{
  "paper_id": "%s",
  "title": "full paper title",
  "abstract": "complete abstract text",
  "keywords": ["keyword1", "keyword2"],
  "topics": ["broad research area"],
  "sections": [{"title": "Introduction", "level": 1}],
  "authors": ["First Author", "Second Author"],
  "affiliations": ["University of Example"],
  "doi": "10.xxxx/xxxxx or empty string",
  "journal": "journal or venue name or empty string",
  "publication_date": "YYYY-MM-DD or empty string"
}

RULES:
- paper_id MUST be exactly "%s"
- Copy the title and abstract verbatim from the paper; do not paraphrase
- keywords: at most 10, lowercase
- topics: 1-3 broad research areas the paper belongs to
- sections: headings in reading order with nesting level 1-6
- Use empty strings or empty arrays for anything not present
- Output valid JSON only, no markdown fences, no commentary`, frontText, docID, docID)
}

// batchPrompt builds the element batch annotation prompt. Images follow the
// prompt in the same order as the element list; each element's anchor text
// must be echoed back so validation can reject drifted answers.
func batchPrompt(elements []domain.Element) string {
	var sb strings.Builder

	sb.WriteString(`You are a scientific figure and table annotation expert. You will receive cropped images of elements from a research paper, in the exact order listed below.

Elements in this batch:
`)

	for i, el := range elements {
		fmt.Fprintf(&sb, "%d. id=%q type=%s page=%d\n   anchor text: %q\n",
			i+1, el.ID, el.Type, el.PageIndex, el.Anchor)
	}

	sb.WriteString(`
Return ONLY a JSON object with this exact structure:
{
  "annotations": [
    {
      "element_id": "the id given above",
      "caption": "the element's caption text without the 'Figure N:' or 'Table N:' label",
      "figure_type": "line_plot | bar_chart | scatter_plot | heatmap | diagram | photo | other",
      "variables": [{"symbol": "x", "meaning": "what it denotes", "unit": "SI unit or empty"}],
      "axis": {"x_label": "...", "y_label": "..."},
      "key_findings": ["short factual statement"],
      "table_csv": "CSV content for tables, empty string otherwise",
      "anchor": "echo the anchor text you were given for this element, verbatim",
      "confidence": 0.0
    }
  ]
}

RULES:
- Produce EXACTLY one annotation per listed element, using the given element_id values
- anchor MUST repeat the anchor text supplied above for that element; if you cannot match an image to its anchor, still echo the anchor verbatim
- key_findings: each under 100 characters, stated as fact; never use hedging words such as "might", "maybe", "possibly", "perhaps"
- table_csv only for type=table; reproduce the cell grid faithfully
- figure_type and axis only for type=figure; use empty values otherwise
- confidence in [0,1] reflecting how certain you are about the annotation
- Output valid JSON only, no markdown fences, no commentary`)

	return sb.String()
}
