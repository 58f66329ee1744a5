// Package quality guards assembled training samples: structural consistency
// checks plus near-duplicate rejection over annotation texts.
package quality

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/paperlens/corpus-builder/internal/domain"
)

// boxTag matches the coordinate tag emitted in grounding answers:
// <box>[x1, y1, x2, y2]</box>.
var boxTag = regexp.MustCompile(`<box>\[\s*(\d+)\s*,\s*(\d+)\s*,\s*(\d+)\s*,\s*(\d+)\s*\]</box>`)

const imageTag = "<image>"

// Checker validates sample structure.
type Checker struct {
	strict bool
}

// NewChecker creates a consistency checker.
func NewChecker(strict bool) *Checker {
	return &Checker{strict: strict}
}

// Check validates one sample. An empty result means the sample is
// consistent; otherwise every violation comes back as a ConsistencyError and
// the sample must be dropped.
func (c *Checker) Check(sample domain.Sample) []error {
	var errs []error

	fail := func(format string, args ...interface{}) {
		errs = append(errs, domain.ConsistencyError(sample.ID, fmt.Sprintf(format, args...), nil))
	}

	if sample.ID == "" {
		fail("sample has no id")
	}
	if len(sample.Image) == 0 {
		fail("sample has no images")
	}
	if sample.Width <= 0 || sample.Height <= 0 {
		fail("invalid image size %dx%d", sample.Width, sample.Height)
	}

	c.checkConversations(sample, fail)
	c.checkImageTags(sample, fail)
	c.checkBoxes(sample, fail)

	return errs
}

// checkConversations enforces the turn structure: non-empty, strictly
// alternating starting with human, ending with gpt.
func (c *Checker) checkConversations(sample domain.Sample, fail func(string, ...interface{})) {
	turns := sample.Conversations
	if len(turns) == 0 {
		fail("sample has no conversations")
		return
	}

	if len(turns)%2 != 0 {
		fail("conversations must pair human and gpt turns, got %d turns", len(turns))
	}

	for i, turn := range turns {
		want := "human"
		if i%2 == 1 {
			want = "gpt"
		}
		if turn.From != want {
			fail("turn %d is from %q, want %q", i, turn.From, want)
		}
		if strings.TrimSpace(turn.Value) == "" {
			fail("turn %d is empty", i)
		}
	}

	if turns[len(turns)-1].From != "gpt" {
		fail("conversation must end with a gpt turn")
	}
}

// checkImageTags requires exactly one <image> placeholder per image.
func (c *Checker) checkImageTags(sample domain.Sample, fail func(string, ...interface{})) {
	count := 0
	for _, turn := range sample.Conversations {
		count += strings.Count(turn.Value, imageTag)
	}

	if count != len(sample.Image) {
		fail("found %d %s tags for %d images", count, imageTag, len(sample.Image))
	}
}

// checkBoxes validates every coordinate tag against the sample's image size:
// 0 <= x1 < x2 <= width and 0 <= y1 < y2 <= height.
func (c *Checker) checkBoxes(sample domain.Sample, fail func(string, ...interface{})) {
	for _, turn := range sample.Conversations {
		for _, m := range boxTag.FindAllStringSubmatch(turn.Value, -1) {
			x1, _ := strconv.Atoi(m[1])
			y1, _ := strconv.Atoi(m[2])
			x2, _ := strconv.Atoi(m[3])
			y2, _ := strconv.Atoi(m[4])

			if x1 < 0 || x1 >= x2 || x2 > sample.Width {
				fail("box x range [%d,%d] out of bounds for width %d", x1, x2, sample.Width)
			}
			if y1 < 0 || y1 >= y2 || y2 > sample.Height {
				fail("box y range [%d,%d] out of bounds for height %d", y1, y2, sample.Height)
			}
		}
	}
}

// CheckAnnotations validates cross-references between a document's detected
// elements and its accepted annotations. Annotations referencing ids outside
// the element set come back as violations and must be discarded; in strict
// mode every figure and table additionally requires a captioned annotation.
func (c *Checker) CheckAnnotations(doc *domain.Document, docAnn *domain.DocumentAnnotation, anns map[string]domain.ElementAnnotation) []error {
	var errs []error

	known := make(map[string]domain.ElementType, len(doc.Elements))
	for _, el := range doc.Elements {
		known[el.ID] = el.Type
	}

	for id := range anns {
		if _, ok := known[id]; !ok {
			errs = append(errs, domain.ConsistencyError(id, "annotation references unknown element", nil))
		}
	}

	if len(doc.Elements) > 0 && docAnn != nil && len(docAnn.Keywords) == 0 && len(docAnn.Topics) == 0 {
		errs = append(errs, domain.ConsistencyError(doc.ID, "document with elements has neither keywords nor topics", nil))
	}

	if c.strict {
		for _, el := range doc.Elements {
			if el.Type == domain.ElementEquation {
				continue
			}
			if ann, ok := anns[el.ID]; !ok || strings.TrimSpace(ann.Caption) == "" {
				errs = append(errs, domain.ConsistencyError(el.ID, "element has no accepted annotation", nil))
			}
		}
	}

	return errs
}

// FormatBox renders a pixel box as the coordinate tag used in answers.
func FormatBox(box domain.PixelBox) string {
	return fmt.Sprintf("<box>[%d, %d, %d, %d]</box>", box.X1, box.Y1, box.X2, box.Y2)
}
