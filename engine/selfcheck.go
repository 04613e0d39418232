package engine

import (
	"fmt"
	"image"
	"image/color"
	"strconv"

	iface "PostkasseVision/interface"

	"gocv.io/x/gocv"
)

// shelfClasses is what AnalyzeStill must find on ShelfImage.
var shelfClasses = map[string]int{
	iface.KapasitetLiten:    3,
	iface.KapasitetStandard: 6,
	iface.KapasitetStor:     2,
}

// SelfCheck runs the still analysis on an encoded ShelfImage and compares
// the classes found with the drawn ones.
func SelfCheck() error {
	img := ShelfImage(0, 0)
	defer img.Close()
	buf, err := gocv.IMEncode(gocv.PNGFileExt, img)
	if err != nil {
		return fmt.Errorf("self-check: encode shelf: %w", err)
	}
	data := append([]byte(nil), buf.GetBytes()...)
	buf.Close()

	boxes, err := AnalyzeBytes(data)
	if err != nil {
		return fmt.Errorf("self-check: %w", err)
	}
	got := map[string]int{}
	for _, b := range boxes {
		got[b.KapasitetKlasse]++
	}
	for klasse, want := range shelfClasses {
		if got[klasse] != want {
			return fmt.Errorf("self-check: found %d %s mailboxes, want %d", got[klasse], klasse, want)
		}
	}
	return nil
}

// ShelfImage draws a synthetic mailbox shelf: four rows of 150px wide
// boxes with heights 80, 120, 120 and 160, three per row, stopping after
// eleven boxes. SelfCheck analyses it at analysis server startup.
func ShelfImage(shiftX, shiftY int) gocv.Mat {
	img := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(255, 255, 255, 0), 600, 800, gocv.MatTypeCV8UC3)
	black := color.RGBA{A: 255}
	rowHeights := []int{80, 120, 120, 160}
	const width, margin = 150, 10

	y := 50 + shiftY
	n := 0
	for _, h := range rowHeights {
		x := 50 + shiftX
		for c := 0; c < 3 && n < 11; c++ {
			n++
			gocv.Rectangle(&img, image.Rect(x, y, x+width, y+h), black, 2)
			gocv.PutText(&img, strconv.Itoa(n), image.Pt(x+10, y+30), gocv.FontHersheySimplex, 0.8, black, 2)
			x += width + margin
		}
		y += h + margin
	}
	return img
}
