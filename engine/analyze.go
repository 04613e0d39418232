package engine

import (
	"errors"
	"fmt"
	"image"
	"sort"

	iface "PostkasseVision/interface"

	"gocv.io/x/gocv"
)

// Still-image analysis thresholds, in pixels of the uploaded image.
const (
	StillThreshold = 200
	MinBoxSide     = 20
	LitenMaxHeight = 100
	StorMinHeight  = 140
)

var ErrEmptyImage = errors.New("decoded image is empty or unsupported format")

// Mailbox is one mailbox outline found in a still image.
type Mailbox struct {
	ID              string
	KapasitetKlasse string
	Box             image.Rectangle
}

// ClassifyHeight maps a bounding height in pixels to a capacity class.
func ClassifyHeight(h int) string {
	switch {
	case h < LitenMaxHeight:
		return iface.KapasitetLiten
	case h < StorMinHeight:
		return iface.KapasitetStandard
	default:
		return iface.KapasitetStor
	}
}

// AnalyzeStill finds dark mailbox outlines on a light background and
// classifies each by height. Results are ordered by top edge, boxes on the
// same edge keep contour order, and are numbered PK-1..n in that order.
func AnalyzeStill(img gocv.Mat) ([]Mailbox, error) {
	if img.Empty() {
		return nil, ErrEmptyImage
	}
	gray := gocv.NewMat()
	defer gray.Close()
	thresh := gocv.NewMat()
	defer thresh.Close()

	toGray(img, &gray)
	gocv.Threshold(gray, &thresh, StillThreshold, 255, gocv.ThresholdBinaryInv)
	contours := gocv.FindContours(thresh, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	boxes := make([]image.Rectangle, 0, contours.Size())
	for i := 0; i < contours.Size(); i++ {
		boxes = append(boxes, gocv.BoundingRect(contours.At(i)))
	}
	sort.SliceStable(boxes, func(i, j int) bool { return boxes[i].Min.Y < boxes[j].Min.Y })

	var out []Mailbox
	for _, b := range boxes {
		if b.Dx() < MinBoxSide || b.Dy() < MinBoxSide {
			continue
		}
		out = append(out, Mailbox{
			ID:              fmt.Sprintf("PK-%d", len(out)+1),
			KapasitetKlasse: ClassifyHeight(b.Dy()),
			Box:             b,
		})
	}
	return out, nil
}

// AnalyzeBytes decodes an encoded image (JPEG, PNG) and analyses it.
func AnalyzeBytes(data []byte) ([]Mailbox, error) {
	img, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		return nil, err
	}
	defer img.Close()
	return AnalyzeStill(img)
}

// AnalyzeFile reads an image from disk and analyses it.
func AnalyzeFile(path string) ([]Mailbox, error) {
	img := gocv.IMRead(path, gocv.IMReadColor)
	defer img.Close()
	if img.Empty() {
		return nil, fmt.Errorf("read %s: %w", path, ErrEmptyImage)
	}
	return AnalyzeStill(img)
}

// Results converts mailboxes to the wire form of the analysis service.
func Results(boxes []Mailbox) []iface.PostkasseResult {
	out := make([]iface.PostkasseResult, 0, len(boxes))
	for _, b := range boxes {
		out = append(out, iface.PostkasseResult{ID: b.ID, KapasitetKlasse: b.KapasitetKlasse})
	}
	return out
}
