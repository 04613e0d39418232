// Package overlay draws overlay models onto display canvases and runs the
// presentation window.
package overlay

import (
	"image"
	"math"
	"strings"

	"PostkasseVision/guidance"
	iface "PostkasseVision/interface"

	"github.com/lucasb-eyer/go-colorful"
	"gocv.io/x/gocv"
)

const (
	outlineThickness = 3
	labelGap         = 5
	labelPad         = 4
	labelAlpha       = 0.6
)

var labelText = guidance.Attention

// Renderer draws an overlay model. It keeps no per-frame state: every call
// draws exactly the annotations of the given model.
type Renderer struct {
	lang      string
	font      gocv.HersheyFont
	labelSize float64
	textSize  float64
}

func NewRenderer(lang string) *Renderer {
	return &Renderer{
		lang:      lang,
		font:      gocv.FontHersheySimplex,
		labelSize: 0.45,
		textSize:  0.8,
	}
}

// Draw composes frame onto a new display canvas and renders m on it. The
// caller owns the returned Mat.
func (r *Renderer) Draw(frame *iface.Frame, m *iface.OverlayModel) gocv.Mat {
	canvas := Compose(frame, m.Display)
	r.Render(&canvas, m)
	return canvas
}

// Render draws outlines, labels and the guidance line of m onto canvas.
// canvas must be freshly composed; Render never erases.
func (r *Renderer) Render(canvas *gocv.Mat, m *iface.OverlayModel) {
	if canvas.Empty() || m == nil {
		return
	}
	accent := guidance.RGBA(guidance.Accent(m.Guidance), 255)
	for _, a := range m.Annotations {
		gocv.Rectangle(canvas, toImageRect(a.DisplayRect), accent, outlineThickness)
	}
	for _, a := range m.Annotations {
		r.drawLabel(canvas, a)
	}
	r.drawGuidance(canvas, m.Guidance)
}

// RenderStatus draws a one-line banner at the top of canvas.
func (r *Renderer) RenderStatus(canvas *gocv.Mat, text string, c colorful.Color) {
	if canvas.Empty() || text == "" {
		return
	}
	text = foldASCII(text)
	sz := gocv.GetTextSize(text, r.font, r.textSize, 2)
	x := (canvas.Cols() - sz.X) / 2
	box := image.Rect(x-labelPad*2, 10, x+sz.X+labelPad*2, 10+sz.Y+labelPad*4)
	shade(canvas, box)
	gocv.PutText(canvas, text, image.Pt(x, box.Max.Y-labelPad*2), r.font, r.textSize, guidance.RGBA(c, 255), 2)
}

// drawLabel places the size label centered above the annotation.
func (r *Renderer) drawLabel(canvas *gocv.Mat, a iface.OverlayAnnotation) {
	lines := strings.Split(foldASCII(a.Label), "\n")
	lineH, width := 0, 0
	for _, l := range lines {
		sz := gocv.GetTextSize(l, r.font, r.labelSize, 1)
		width = max(width, sz.X)
		lineH = max(lineH, sz.Y)
	}
	boxW := width + labelPad*2
	boxH := len(lines)*(lineH+labelPad) + labelPad
	x := int(math.Round(a.DisplayRect.MidX())) - boxW/2
	y := int(math.Round(a.DisplayRect.Y)) - boxH - labelGap
	if y < 0 {
		y = 0
	}
	box := image.Rect(x, y, x+boxW, y+boxH)
	shade(canvas, box)

	fg := guidance.RGBA(labelText, 255)
	for i, l := range lines {
		base := image.Pt(x+labelPad, y+(i+1)*(lineH+labelPad))
		gocv.PutText(canvas, l, base, r.font, r.labelSize, fg, 1)
	}
}

func (r *Renderer) drawGuidance(canvas *gocv.Mat, state iface.GuidanceState) {
	text := foldASCII(guidance.Text(state, r.lang))
	sz := gocv.GetTextSize(text, r.font, r.textSize, 2)
	x := (canvas.Cols() - sz.X) / 2
	y := canvas.Rows() - 40
	shade(canvas, image.Rect(x-labelPad*2, y-sz.Y-labelPad*2, x+sz.X+labelPad*2, y+labelPad*2))
	gocv.PutText(canvas, text, image.Pt(x, y), r.font, r.textSize, guidance.RGBA(guidance.Accent(state), 255), 2)
}

// shade darkens box on canvas to a translucent black background.
func shade(canvas *gocv.Mat, box image.Rectangle) {
	box = box.Intersect(image.Rect(0, 0, canvas.Cols(), canvas.Rows()))
	if box.Empty() {
		return
	}
	roi := canvas.Region(box)
	defer roi.Close()
	bg := guidance.BGRA(colorful.Color{}, 255)
	fill := gocv.NewMatWithSizeFromScalar(
		gocv.NewScalar(float64(bg.R), float64(bg.G), float64(bg.B), 0),
		box.Dy(), box.Dx(), roi.Type())
	defer fill.Close()
	gocv.AddWeighted(roi, 1-labelAlpha, fill, labelAlpha, 0, &roi)
}

func toImageRect(r iface.Rect) image.Rectangle {
	return image.Rect(
		int(math.Round(r.X)), int(math.Round(r.Y)),
		int(math.Round(r.MaxX())), int(math.Round(r.MaxY())))
}

var asciiFold = strings.NewReplacer(
	"—", "-", "–", "-",
	"å", "aa", "Å", "Aa",
	"æ", "ae", "Æ", "Ae",
	"ø", "o", "Ø", "O",
)

// foldASCII maps the characters Hershey fonts cannot draw.
func foldASCII(s string) string {
	return asciiFold.Replace(s)
}

// Colors used by the presenter status banner.
var (
	StatusInfo  = guidance.Info
	StatusError = colorful.Color{R: 1, G: 0.23, B: 0.19}
)
