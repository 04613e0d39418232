package guidance

import (
	"testing"

	"PostkasseVision/geometry"
	iface "PostkasseVision/interface"

	"github.com/stretchr/testify/assert"
)

func det(h float64) iface.Detection {
	return iface.Detection{BoundingBox: iface.NormRect{X: 0.1, Y: 0.1, Width: 0.2, Height: h}, Confidence: 0.9}
}

func TestClassify(t *testing.T) {
	tr := geometry.NewTransform(iface.Size{Width: 1000, Height: 1000}, iface.Size{})

	t.Run("empty is Searching", func(t *testing.T) {
		assert.Equal(t, iface.Searching, Classify(nil, tr))
		assert.Equal(t, iface.Searching, Classify([]iface.Detection{}, tr))
	})
	t.Run("small box is TooFar", func(t *testing.T) {
		assert.Equal(t, iface.TooFar, Classify([]iface.Detection{det(0.10)}, tr))
	})
	t.Run("large box is Found", func(t *testing.T) {
		assert.Equal(t, iface.Found, Classify([]iface.Detection{det(0.20)}, tr))
	})
	t.Run("threshold is inclusive for Found", func(t *testing.T) {
		assert.Equal(t, iface.Found, Classify([]iface.Detection{det(0.15)}, tr))
	})
	t.Run("largest detection decides", func(t *testing.T) {
		assert.Equal(t, iface.Found, Classify([]iface.Detection{det(0.05), det(0.30)}, tr))
		assert.Equal(t, iface.Found, Classify([]iface.Detection{det(0.30), det(0.05)}, tr))
	})
}

func TestClassify_UsesDisplaySpace(t *testing.T) {
	// a portrait display filled by a landscape camera stretches heights
	tr := geometry.NewTransform(iface.Size{Width: 100, Height: 200}, iface.Size{Width: 400, Height: 100})
	// content is 800x200, so fractions equal normalized heights
	assert.Equal(t, iface.TooFar, Classify([]iface.Detection{det(0.12)}, tr))

	// a landscape display filled by a portrait camera overhangs vertically
	tr = geometry.NewTransform(iface.Size{Width: 200, Height: 100}, iface.Size{Width: 100, Height: 200})
	// content is 200x400, a 0.1 box is 40px of a 100px display
	assert.Equal(t, iface.Found, Classify([]iface.Detection{det(0.1)}, tr))
}

func TestText(t *testing.T) {
	assert.Equal(t, "No objects found", Text(iface.Searching, LangEnglish))
	assert.Equal(t, "Move closer", Text(iface.TooFar, LangEnglish))
	assert.Equal(t, "Object found — ready to capture", Text(iface.Found, LangEnglish))
	assert.Equal(t, "Gå nærmere", Text(iface.TooFar, LangNorwegian))
	assert.Equal(t, Text(iface.Found, LangEnglish), Text(iface.Found, "xx"))
	for _, lang := range Languages() {
		for _, s := range []iface.GuidanceState{iface.Searching, iface.TooFar, iface.Found} {
			assert.NotEmpty(t, Text(s, lang))
		}
	}
}

func TestAccent(t *testing.T) {
	assert.Equal(t, "#ffa500", Accent(iface.Searching).Hex())
	assert.Equal(t, "#ffff00", Accent(iface.TooFar).Hex())
	assert.Equal(t, "#00ff00", Accent(iface.Found).Hex())
}

func TestCapacityColor(t *testing.T) {
	assert.Equal(t, Success, CapacityColor("STOR"))
	assert.Equal(t, Info, CapacityColor("STANDARD"))
	assert.Equal(t, Warning, CapacityColor("LITEN"))
	assert.Equal(t, Neutral, CapacityColor("UKJENT"))
}

func TestBGRA(t *testing.T) {
	c := BGRA(Warning, 255)
	assert.Equal(t, uint8(0), c.R)
	assert.Equal(t, uint8(165), c.G)
	assert.Equal(t, uint8(255), c.B)
}
