// Package guidance classifies a frame's detections into framing guidance for
// the operator, and supplies the localized strings and accent colors shown
// for each state.
package guidance

import (
	"PostkasseVision/geometry"
	iface "PostkasseVision/interface"
)

// TooFarFraction is the display-height fraction below which the largest
// detection is considered too far away.
const TooFarFraction = 0.15

// Classify picks the detection with the tallest bounding box (first one wins
// on ties) and grades its display-space height. It keeps no state between
// frames, so consecutive frames may flip between states.
func Classify(dets []iface.Detection, t geometry.Transform) iface.GuidanceState {
	if len(dets) == 0 {
		return iface.Searching
	}
	largest := dets[0]
	for _, d := range dets[1:] {
		if d.BoundingBox.Height > largest.BoundingBox.Height {
			largest = d
		}
	}
	if t.HeightFraction(largest.BoundingBox) < TooFarFraction {
		return iface.TooFar
	}
	return iface.Found
}
