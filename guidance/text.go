package guidance

import (
	"image/color"

	iface "PostkasseVision/interface"

	"github.com/lucasb-eyer/go-colorful"
)

const (
	LangEnglish   = "en"
	LangNorwegian = "nb"
)

var texts = map[string]map[iface.GuidanceState]string{
	LangEnglish: {
		iface.Searching: "No objects found",
		iface.TooFar:    "Move closer",
		iface.Found:     "Object found — ready to capture",
	},
	LangNorwegian: {
		iface.Searching: "Ingen postkasser funnet",
		iface.TooFar:    "Gå nærmere",
		iface.Found:     "Postkasse funnet! (Ta bilde)",
	},
}

// Text returns the display string for state. Unknown languages fall back to
// English.
func Text(state iface.GuidanceState, lang string) string {
	table, ok := texts[lang]
	if !ok {
		table = texts[LangEnglish]
	}
	return table[state]
}

// Languages lists the supported language codes.
func Languages() []string {
	return []string{LangEnglish, LangNorwegian}
}

var (
	Warning   = colorful.Color{R: 1, G: 0.647, B: 0}
	Attention = colorful.Color{R: 1, G: 1, B: 0}
	Success   = colorful.Color{R: 0, G: 1, B: 0}
	Neutral   = colorful.Color{R: 0.5, G: 0.5, B: 0.5}
	Info      = colorful.Color{R: 0, G: 0.478, B: 1}
)

// Accent is the color used for outlines and guidance text in state.
func Accent(state iface.GuidanceState) colorful.Color {
	switch state {
	case iface.Searching:
		return Warning
	case iface.TooFar:
		return Attention
	default:
		return Success
	}
}

// CapacityColor is the badge color for a remote capacity class.
func CapacityColor(klasse string) colorful.Color {
	switch klasse {
	case "STOR":
		return Success
	case "STANDARD":
		return Info
	case "LITEN":
		return Warning
	default:
		return Neutral
	}
}

// RGBA converts c for drawing APIs that take color.RGBA.
func RGBA(c colorful.Color, alpha uint8) color.RGBA {
	r, g, b := c.Clamped().RGB255()
	return color.RGBA{R: r, G: g, B: b, A: alpha}
}

// BGRA is RGBA with red and blue swapped, for BGR frame buffers.
func BGRA(c colorful.Color, alpha uint8) color.RGBA {
	r, g, b := c.Clamped().RGB255()
	return color.RGBA{R: b, G: g, B: r, A: alpha}
}
