package overlay

import (
	"image"
	"math"

	"PostkasseVision/engine"
	"PostkasseVision/geometry"
	iface "PostkasseVision/interface"

	"gocv.io/x/gocv"
)

// Compose lays a camera frame onto a fresh display-sized canvas the same
// way the detector geometry assumes: aspect-fill, centered, overflow
// cropped. A nil or malformed frame yields a black canvas.
func Compose(frame *iface.Frame, display iface.Size) gocv.Mat {
	dw, dh := int(display.Width), int(display.Height)
	if frame == nil {
		return blank(dw, dh)
	}
	src, err := engine.FrameToMat(frame)
	if err != nil {
		src.Close()
		return blank(dw, dh)
	}
	defer src.Close()
	return ComposeMat(src, display)
}

// ComposeMat is Compose for a Mat that is already decoded.
func ComposeMat(src gocv.Mat, display iface.Size) gocv.Mat {
	dw, dh := int(display.Width), int(display.Height)
	if src.Empty() {
		return blank(dw, dh)
	}
	bgr := gocv.NewMat()
	defer bgr.Close()
	switch src.Channels() {
	case 1:
		gocv.CvtColor(src, &bgr, gocv.ColorGrayToBGR)
	case 4:
		gocv.CvtColor(src, &bgr, gocv.ColorBGRAToBGR)
	default:
		src.CopyTo(&bgr)
	}

	t := geometry.NewTransform(display, iface.Size{Width: float64(bgr.Cols()), Height: float64(bgr.Rows())})
	content, offX, offY := t.Content()
	cw := int(math.Ceil(content.Width))
	ch := int(math.Ceil(content.Height))

	scaled := gocv.NewMat()
	defer scaled.Close()
	gocv.Resize(bgr, &scaled, image.Pt(cw, ch), 0, 0, gocv.InterpolationLinear)

	crop := image.Rect(int(-offX), int(-offY), int(-offX)+dw, int(-offY)+dh).
		Intersect(image.Rect(0, 0, scaled.Cols(), scaled.Rows()))
	region := scaled.Region(crop)
	defer region.Close()

	out := gocv.NewMat()
	if crop.Dx() == dw && crop.Dy() == dh {
		region.CopyTo(&out)
	} else {
		gocv.Resize(region, &out, image.Pt(dw, dh), 0, 0, gocv.InterpolationLinear)
	}
	return out
}

func blank(w, h int) gocv.Mat {
	if w <= 0 || h <= 0 {
		return gocv.NewMat()
	}
	return gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), h, w, gocv.MatTypeCV8UC3)
}
