package overlay

import (
	"image"
	"image/color"
	"testing"

	"PostkasseVision/engine"
	"PostkasseVision/guidance"
	iface "PostkasseVision/interface"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gocv.io/x/gocv"
)

var display = iface.Size{Width: 400, Height: 300}

func solidFrame(t *testing.T, rows, cols int) *iface.Frame {
	t.Helper()
	img := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(40, 90, 200, 0), rows, cols, gocv.MatTypeCV8UC3)
	defer img.Close()
	return engine.MatToFrame(img)
}

func model(rect iface.Rect, state iface.GuidanceState) *iface.OverlayModel {
	return &iface.OverlayModel{
		Display: display,
		Annotations: []iface.OverlayAnnotation{{
			DisplayRect:       rect,
			EstimatedWidthCm:  12,
			EstimatedHeightCm: 8,
			Label:             "W: 12.0 cm\nH: 8.0 cm",
		}},
		Guidance: state,
	}
}

func pixel(m gocv.Mat, x, y int) []uint8 {
	return []uint8(m.GetVecbAt(y, x))
}

func TestRender_Idempotent(t *testing.T) {
	r := NewRenderer(guidance.LangEnglish)
	f := solidFrame(t, 300, 400)
	m := model(iface.Rect{X: 100, Y: 100, Width: 120, Height: 80}, iface.Found)

	a := r.Draw(f, m)
	defer a.Close()
	b := r.Draw(f, m)
	defer b.Close()

	require.Equal(t, 400, a.Cols())
	require.Equal(t, 300, a.Rows())
	assert.Equal(t, a.ToBytes(), b.ToBytes())
}

func TestRender_ReplacesPreviousAnnotations(t *testing.T) {
	r := NewRenderer(guidance.LangEnglish)
	f := solidFrame(t, 300, 400)
	first := model(iface.Rect{X: 20, Y: 150, Width: 60, Height: 60}, iface.Found)
	second := model(iface.Rect{X: 250, Y: 150, Width: 60, Height: 60}, iface.Found)

	a := r.Draw(f, first)
	defer a.Close()
	b := r.Draw(f, second)
	defer b.Close()

	green := []uint8{0, 255, 0}
	// left edge of the first outline
	assert.Equal(t, green, pixel(a, 20, 180))
	assert.Equal(t, []uint8{40, 90, 200}, pixel(b, 20, 180))
	assert.Equal(t, green, pixel(b, 250, 180))
}

func TestRender_OutlineFollowsGuidance(t *testing.T) {
	r := NewRenderer(guidance.LangNorwegian)
	f := solidFrame(t, 300, 400)
	c := r.Draw(f, model(iface.Rect{X: 150, Y: 120, Width: 30, Height: 20}, iface.TooFar))
	defer c.Close()

	// yellow in BGR order
	assert.Equal(t, []uint8{0, 255, 255}, pixel(c, 150, 130))
}

func TestRender_NilFrameAndEmptyModel(t *testing.T) {
	r := NewRenderer("xx")
	m := &iface.OverlayModel{Display: display, Guidance: iface.Searching}
	c := r.Draw(nil, m)
	defer c.Close()
	assert.Equal(t, 400, c.Cols())
	assert.Equal(t, []uint8{0, 0, 0}, pixel(c, 0, 0))
}

func TestCompose_AspectFillCropsCenter(t *testing.T) {
	img := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(255, 255, 255, 0), 200, 400, gocv.MatTypeCV8UC3)
	defer img.Close()
	black := color.RGBA{A: 255}
	gocv.Rectangle(&img, image.Rect(0, 0, 100, 200), black, -1)
	gocv.Rectangle(&img, image.Rect(300, 0, 400, 200), black, -1)

	out := Compose(engine.MatToFrame(img), iface.Size{Width: 100, Height: 200})
	defer out.Close()
	require.Equal(t, 100, out.Cols())
	require.Equal(t, 200, out.Rows())
	white := []uint8{255, 255, 255}
	assert.Equal(t, white, pixel(out, 0, 0))
	assert.Equal(t, white, pixel(out, 99, 199))
}

func TestCompose_MatchingAspectScales(t *testing.T) {
	f := solidFrame(t, 150, 200)
	out := Compose(f, display)
	defer out.Close()
	assert.Equal(t, 400, out.Cols())
	assert.Equal(t, 300, out.Rows())
	assert.Equal(t, []uint8{40, 90, 200}, pixel(out, 200, 150))
}

func TestKeyAction(t *testing.T) {
	assert.Equal(t, ActionCapture, KeyAction(' '))
	assert.Equal(t, ActionCapture, KeyAction('c'))
	assert.Equal(t, ActionReset, KeyAction('r'))
	assert.Equal(t, ActionQuit, KeyAction(27))
	assert.Equal(t, ActionQuit, KeyAction('q'))
	assert.Equal(t, ActionNone, KeyAction(-1))
	assert.Equal(t, "capture", ActionCapture.String())
}

func TestFoldASCII(t *testing.T) {
	assert.Equal(t, "Object found - ready to capture", foldASCII("Object found — ready to capture"))
	assert.Equal(t, "Gaa naermere", foldASCII("Gå nærmere"))
	assert.Equal(t, "Aasen Oya Aerfugl", foldASCII("Åsen Øya Ærfugl"))
}

func TestPresenter_FrameAndPost(t *testing.T) {
	m := model(iface.Rect{X: 100, Y: 100, Width: 50, Height: 50}, iface.Found)
	p := NewPresenter("test", NewRenderer(guidance.LangEnglish), func() *iface.OverlayModel { return m }, zaptest.NewLogger(t))
	p.SetFrame(solidFrame(t, 300, 400))

	ran := false
	p.Post(func() {
		ran = true
		p.SetStatus("3 mailboxes", StatusInfo)
	})
	p.drain()
	assert.True(t, ran)

	c := p.Frame()
	defer c.Close()
	assert.Equal(t, 400, c.Cols())
	assert.Equal(t, 300, c.Rows())
}
