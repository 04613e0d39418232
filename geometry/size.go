package geometry

import iface "PostkasseVision/interface"

// DefaultReferenceWidthCm is the assumed real-world width of a mailbox.
const DefaultReferenceWidthCm = 40.0

// Estimate converts a display rect into a physical size, assuming the full
// display width spans referenceWidthCm. The result is a linear estimate.
// Zero widths yield zero instead of NaN.
func Estimate(r iface.Rect, displayWidth, referenceWidthCm float64) (widthCm, heightCm float64) {
	if displayWidth > 0 {
		widthCm = (r.Width / displayWidth) * referenceWidthCm
	}
	if r.Width != 0 {
		heightCm = widthCm * (r.Height / r.Width)
	}
	return widthCm, heightCm
}
