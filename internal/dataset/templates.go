package dataset

// Question templates per task. Template choice is driven by the seeded rng
// so two runs with the same seed produce identical conversations.

var pageGroundingQuestions = []string{
	"<image>\nLocate every figure, table, and equation on this page.",
	"<image>\nWhere are the structural elements on this page? Give their bounding boxes.",
	"<image>\nIdentify the figures, tables, and equations visible on this page and their positions.",
}

var figureCaptionQuestions = []string{
	"<image>\nProvide a caption for this figure.",
	"<image>\nWrite a concise caption describing this figure.",
	"<image>\nWhat does this figure show?",
}

var tableCaptionQuestions = []string{
	"<image>\nProvide a caption for this table.",
	"<image>\nWhat does this table present?",
}

var variableQuestions = []string{
	"<image>\nList the variables shown here and explain what each one means.",
	"<image>\nWhat symbols appear in this element, and what do they stand for?",
}

var tableReadingQuestions = []string{
	"<image>\nTranscribe this table as CSV.",
	"<image>\nRead out the contents of this table in CSV form.",
}

var multiFigureQuestions = []string{
	"<image>\n<image>\nCompare these two figures from the same paper.",
	"<image>\n<image>\nWhat does each of these two figures show, and how do they relate?",
}

var abstractQuestions = []string{
	"<image>\nBased on the first page of this paper, summarize what it is about.",
	"<image>\nWhat problem does this paper address and what does it contribute?",
}
