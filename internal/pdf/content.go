package pdf

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/net/html"

	"github.com/paperlens/corpus-builder/internal/domain"
)

// MuPDF structured output positions every paragraph and image with absolute
// pt offsets in inline styles. ParsePageHTML turns that markup into the
// PageContent view detection runs on. Fragment widths are estimated from
// font size and glyph count since the markup carries no explicit extents.
func ParsePageHTML(markup string) (*domain.PageContent, error) {
	root, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		return nil, fmt.Errorf("parse markup: %w", err)
	}

	content := &domain.PageContent{}
	walk(root, content)
	return content, nil
}

func walk(n *html.Node, content *domain.PageContent) {
	if n.Type == html.ElementNode {
		switch n.Data {
		case "div":
			style := parseStyle(attr(n, "style"))
			if w, ok := style["width"]; ok && content.Width == 0 {
				content.Width = w
			}
			if h, ok := style["height"]; ok && content.Height == 0 {
				content.Height = h
			}
		case "p":
			if frag, ok := textFragment(n); ok {
				content.Fragments = append(content.Fragments, frag)
			}
		case "img":
			if img, ok := imagePlacement(n); ok {
				content.Images = append(content.Images, img)
			}
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, content)
	}
}

// avgGlyphWidth approximates glyph advance as a fraction of font size.
const avgGlyphWidth = 0.5

func textFragment(n *html.Node) (domain.TextFragment, bool) {
	style := parseStyle(attr(n, "style"))
	top, hasTop := style["top"]
	left, hasLeft := style["left"]
	if !hasTop || !hasLeft {
		return domain.TextFragment{}, false
	}

	text, fontSize := collectText(n)
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.TextFragment{}, false
	}
	if fontSize == 0 {
		fontSize = 10
	}

	width := float64(len([]rune(text))) * fontSize * avgGlyphWidth
	return domain.TextFragment{
		Text: text,
		Box: domain.BBox{
			X1: left,
			Y1: top,
			X2: left + width,
			Y2: top + fontSize*1.2,
		},
	}, true
}

func imagePlacement(n *html.Node) (domain.ImagePlacement, bool) {
	style := parseStyle(attr(n, "style"))
	top, hasTop := style["top"]
	left, hasLeft := style["left"]
	w, hasW := style["width"]
	h, hasH := style["height"]
	if !hasTop || !hasLeft || !hasW || !hasH {
		return domain.ImagePlacement{}, false
	}

	return domain.ImagePlacement{
		Box: domain.BBox{X1: left, Y1: top, X2: left + w, Y2: top + h},
	}, true
}

// collectText concatenates text under n and returns the first span font size.
func collectText(n *html.Node) (string, float64) {
	var sb strings.Builder
	var fontSize float64

	var rec func(*html.Node)
	rec = func(node *html.Node) {
		if node.Type == html.TextNode {
			sb.WriteString(node.Data)
		}
		if node.Type == html.ElementNode && node.Data == "span" && fontSize == 0 {
			style := parseStyle(attr(node, "style"))
			if fs, ok := style["font-size"]; ok {
				fontSize = fs
			}
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			rec(c)
		}
	}
	rec(n)

	return sb.String(), fontSize
}

// parseStyle extracts pt-valued properties from an inline style attribute.
func parseStyle(style string) map[string]float64 {
	props := make(map[string]float64)
	for _, decl := range strings.Split(style, ";") {
		key, val, ok := strings.Cut(decl, ":")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		val = strings.TrimSpace(val)
		if !strings.HasSuffix(val, "pt") {
			continue
		}
		f, err := strconv.ParseFloat(strings.TrimSuffix(val, "pt"), 64)
		if err != nil {
			continue
		}
		props[key] = f
	}
	return props
}

func attr(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val
		}
	}
	return ""
}
