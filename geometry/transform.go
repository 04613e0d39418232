// Package geometry maps detector-normalized boxes into display space and
// derives size estimates from display-space boxes.
package geometry

import iface "PostkasseVision/interface"

// Transform describes how the camera preview is laid onto the display.
// A zero Camera size means the preview is stretched to the display, so no
// aspect-fill crop is applied.
type Transform struct {
	Display iface.Size
	Camera  iface.Size
}

func NewTransform(display, camera iface.Size) Transform {
	return Transform{Display: display, Camera: camera}
}

// Filled reports whether the preview is cropped by an aspect-fill.
func (t Transform) Filled() bool {
	if t.Camera.Empty() || t.Display.Empty() {
		return false
	}
	return t.Camera.Width*t.Display.Height != t.Camera.Height*t.Display.Width
}

// Content returns the size of the scaled camera image and its offset from
// the display origin. With aspect-fill the content overhangs the display,
// so the offsets are zero or negative.
func (t Transform) Content() (size iface.Size, offX, offY float64) {
	if !t.Filled() {
		return t.Display, 0, 0
	}
	scale := t.Display.Width / t.Camera.Width
	if s := t.Display.Height / t.Camera.Height; s > scale {
		scale = s
	}
	size = iface.Size{Width: t.Camera.Width * scale, Height: t.Camera.Height * scale}
	offX = (t.Display.Width - size.Width) / 2
	offY = (t.Display.Height - size.Height) / 2
	return size, offX, offY
}

// Convert maps a normalized box (origin bottom-left) to a display rect
// (origin top-left). The box's top edge is what gets flipped.
func (t Transform) Convert(nb iface.NormRect) iface.Rect {
	content, offX, offY := t.Content()
	top := 1 - nb.Y - nb.Height
	return iface.Rect{
		X:      nb.X*content.Width + offX,
		Y:      top*content.Height + offY,
		Width:  nb.Width * content.Width,
		Height: nb.Height * content.Height,
	}
}

// Inverse maps a display rect back to detector-normalized coordinates.
func (t Transform) Inverse(r iface.Rect) iface.NormRect {
	content, offX, offY := t.Content()
	if content.Empty() {
		return iface.NormRect{}
	}
	h := r.Height / content.Height
	top := (r.Y - offY) / content.Height
	return iface.NormRect{
		X:      (r.X - offX) / content.Width,
		Y:      1 - top - h,
		Width:  r.Width / content.Width,
		Height: h,
	}
}

// VisibleRegion is the normalized box of the camera frame that is actually
// shown on the display.
func (t Transform) VisibleRegion() iface.NormRect {
	return t.Inverse(iface.Rect{Width: t.Display.Width, Height: t.Display.Height})
}

// HeightFraction is the display-space height of nb relative to the display.
func (t Transform) HeightFraction(nb iface.NormRect) float64 {
	if t.Display.Height <= 0 {
		return 0
	}
	return t.Convert(nb).Height / t.Display.Height
}
