package pdf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePageMarkup = `
<div id="page0" style="position:relative;width:612pt;height:792pt;background-color:white">
<p style="position:absolute;white-space:pre;margin:0;padding:0;top:71.2pt;left:108pt"><span style="font-family:Times;font-size:14pt">Deep Learning for Climate Models</span></p>
<p style="position:absolute;white-space:pre;margin:0;padding:0;top:120pt;left:72pt"><span style="font-family:Times;font-size:10pt">Abstract text goes here.</span></p>
<img style="position:absolute;top:200pt;left:100pt;width:300pt;height:180pt" src="data:image/png;base64,iVBOR"/>
<p style="position:absolute;white-space:pre;margin:0;padding:0;top:400pt;left:100pt"><span style="font-family:Times;font-size:9pt">Figure 1: Model architecture.</span></p>
<p style="margin:0">no position, skipped</p>
<p style="position:absolute;top:500pt;left:72pt"><span style="font-size:10pt">   </span></p>
</div>
`

func TestParsePageHTML(t *testing.T) {
	content, err := ParsePageHTML(samplePageMarkup)
	require.NoError(t, err)

	assert.Equal(t, 612.0, content.Width)
	assert.Equal(t, 792.0, content.Height)

	// Unpositioned and whitespace-only paragraphs are dropped.
	require.Len(t, content.Fragments, 3)

	title := content.Fragments[0]
	assert.Equal(t, "Deep Learning for Climate Models", title.Text)
	assert.InDelta(t, 108.0, title.Box.X1, 1e-9)
	assert.InDelta(t, 71.2, title.Box.Y1, 1e-9)
	assert.Greater(t, title.Box.Width(), 0.0)
	assert.InDelta(t, 14*1.2, title.Box.Height(), 1e-9)

	caption := content.Fragments[2]
	assert.Equal(t, "Figure 1: Model architecture.", caption.Text)
	assert.InDelta(t, 400.0, caption.Box.Y1, 1e-9)

	require.Len(t, content.Images, 1)
	img := content.Images[0]
	assert.InDelta(t, 100.0, img.Box.X1, 1e-9)
	assert.InDelta(t, 200.0, img.Box.Y1, 1e-9)
	assert.InDelta(t, 300.0, img.Box.Width(), 1e-9)
	assert.InDelta(t, 180.0, img.Box.Height(), 1e-9)
}

func TestParsePageHTMLEmptyPage(t *testing.T) {
	content, err := ParsePageHTML(`<div id="page3" style="position:relative;width:612pt;height:792pt"></div>`)
	require.NoError(t, err)

	assert.Empty(t, content.Fragments)
	assert.Empty(t, content.Images)
	assert.Equal(t, 612.0, content.Width)
}

func TestParseStyle(t *testing.T) {
	props := parseStyle("position:absolute;top:71.2pt;left:108pt;width:300pt;color:red")

	assert.InDelta(t, 71.2, props["top"], 1e-9)
	assert.InDelta(t, 108.0, props["left"], 1e-9)
	assert.InDelta(t, 300.0, props["width"], 1e-9)

	// Non-pt values are ignored.
	_, ok := props["position"]
	assert.False(t, ok)
	_, ok = props["color"]
	assert.False(t, ok)
}
