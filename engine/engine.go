// Package engine finds mailbox-like rectangles in camera frames and
// classifies mailbox capacity in still images. Both run on gocv.
package engine

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sort"
	"sync"

	iface "PostkasseVision/interface"

	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

const UNREGISTERED = 0x0001
const REGISTERED = 0x0002
const IDLE = 0x0003
const BUSY = 0x0004

var (
	ErrNotConfigured = errors.New("detector not configured")
	ErrBusy          = errors.New("detector is busy")
	ErrBadFrame      = errors.New("frame is empty or has an unsupported layout")
)

// Config holds the observation filters applied to every frame.
type Config struct {
	MinConfidence   float64
	MinSize         float64
	MaxObservations int
	// OverlapIoU suppresses a rectangle that overlaps an already kept one by
	// more than this ratio. Inner and outer edge contours of the same
	// object land here.
	OverlapIoU float64
}

func DefaultConfig() Config {
	return Config{
		MinConfidence:   0.5,
		MinSize:         0.1,
		MaxObservations: 20,
		OverlapIoU:      0.8,
	}
}

func (c Config) validate() error {
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		return fmt.Errorf("confidence must be between 0.0 and 1.0, got %f", c.MinConfidence)
	}
	if c.MinSize < 0 || c.MinSize > 1 {
		return fmt.Errorf("minimum size must be between 0.0 and 1.0, got %f", c.MinSize)
	}
	if c.MaxObservations <= 0 {
		return fmt.Errorf("max observations must be positive, got %d", c.MaxObservations)
	}
	return nil
}

// Detector is a contour-based rectangle detector. It serves one frame at a
// time; a concurrent call gets ErrBusy.
type Detector struct {
	mu    sync.Mutex
	cfg   Config
	State int
	log   *zap.Logger
}

func New(log *zap.Logger) *Detector {
	if log == nil {
		log = zap.NewNop()
	}
	return &Detector{State: REGISTERED, log: log}
}

// Configure validates cfg and makes the detector ready.
func (d *Detector) Configure(cfg Config) error {
	if cfg.OverlapIoU <= 0 {
		cfg.OverlapIoU = DefaultConfig().OverlapIoU
	}
	if err := cfg.validate(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.State == BUSY {
		return ErrBusy
	}
	d.cfg = cfg
	d.State = IDLE
	return nil
}

// StateName is the printable form of a detector state.
func StateName(state int) string {
	switch state {
	case UNREGISTERED:
		return "UNREGISTERED"
	case REGISTERED:
		return "REGISTERED"
	case IDLE:
		return "IDLE"
	case BUSY:
		return "BUSY"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", state)
	}
}

func (d *Detector) Status() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.State
}

func (d *Detector) CheckConfig() Config {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg
}

func (d *Detector) Destroy() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cfg = Config{}
	d.State = UNREGISTERED
}

func (d *Detector) acquire() (Config, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch d.State {
	case UNREGISTERED, REGISTERED:
		return Config{}, ErrNotConfigured
	case BUSY:
		return Config{}, ErrBusy
	}
	d.State = BUSY
	return d.cfg, nil
}

func (d *Detector) release() {
	d.mu.Lock()
	if d.State == BUSY {
		d.State = IDLE
	}
	d.mu.Unlock()
}

// Detect runs the detector over a raw frame.
func (d *Detector) Detect(ctx context.Context, frame *iface.Frame) ([]iface.Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mat, err := FrameToMat(frame)
	if err != nil {
		return nil, err
	}
	defer mat.Close()
	return d.DetectMat(mat)
}

// DetectMat runs the detector over a BGR, BGRA or grayscale Mat.
func (d *Detector) DetectMat(img gocv.Mat) ([]iface.Detection, error) {
	cfg, err := d.acquire()
	if err != nil {
		return nil, err
	}
	defer d.release()
	if img.Empty() {
		return nil, ErrBadFrame
	}
	rects := findRectangles(img)
	dets := filter(rects, img.Cols(), img.Rows(), cfg)
	d.log.Debug("frame analysed",
		zap.Int("candidates", len(rects)),
		zap.Int("detections", len(dets)))
	return dets, nil
}

// FrameToMat copies a packed frame into a Mat of matching channel count.
func FrameToMat(frame *iface.Frame) (gocv.Mat, error) {
	if frame == nil || frame.Width <= 0 || frame.Height <= 0 {
		return gocv.NewMat(), ErrBadFrame
	}
	var mt gocv.MatType
	switch frame.Channels {
	case 1:
		mt = gocv.MatTypeCV8UC1
	case 3:
		mt = gocv.MatTypeCV8UC3
	case 4:
		mt = gocv.MatTypeCV8UC4
	default:
		return gocv.NewMat(), fmt.Errorf("%w: %d channels", ErrBadFrame, frame.Channels)
	}
	if len(frame.Data) != frame.Width*frame.Height*frame.Channels {
		return gocv.NewMat(), fmt.Errorf("%w: %d bytes for %dx%dx%d", ErrBadFrame,
			len(frame.Data), frame.Width, frame.Height, frame.Channels)
	}
	return gocv.NewMatFromBytes(frame.Height, frame.Width, mt, frame.Data)
}

// MatToFrame packs a Mat into a frame. The Mat is not closed.
func MatToFrame(img gocv.Mat) *iface.Frame {
	return &iface.Frame{
		Width:    img.Cols(),
		Height:   img.Rows(),
		Channels: img.Channels(),
		Data:     img.ToBytes(),
	}
}

func toGray(src gocv.Mat, dst *gocv.Mat) {
	switch src.Channels() {
	case 1:
		src.CopyTo(dst)
	case 4:
		gocv.CvtColor(src, dst, gocv.ColorBGRAToGray)
	default:
		gocv.CvtColor(src, dst, gocv.ColorBGRToGray)
	}
}

type candidate struct {
	box        image.Rectangle
	confidence float64
}

// findRectangles returns convex quadrilateral contours with their
// fill ratio as confidence.
func findRectangles(img gocv.Mat) []candidate {
	gray := gocv.NewMat()
	defer gray.Close()
	blurred := gocv.NewMat()
	defer blurred.Close()
	edges := gocv.NewMat()
	defer edges.Close()
	dilated := gocv.NewMat()
	defer dilated.Close()

	toGray(img, &gray)
	gocv.GaussianBlur(gray, &blurred, image.Pt(5, 5), 0, 0, gocv.BorderDefault)
	gocv.Canny(blurred, &edges, 50, 150)
	kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Pt(3, 3))
	defer kernel.Close()
	gocv.Dilate(edges, &dilated, kernel)

	contours := gocv.FindContours(dilated, gocv.RetrievalList, gocv.ChainApproxSimple)
	defer contours.Close()

	var out []candidate
	for i := 0; i < contours.Size(); i++ {
		contour := contours.At(i)
		peri := gocv.ArcLength(contour, true)
		approx := gocv.ApproxPolyDP(contour, 0.02*peri, true)
		quad := approx.Size() == 4 && gocv.IsContourConvex(approx)
		approx.Close()
		if !quad {
			continue
		}
		box := gocv.BoundingRect(contour)
		boxArea := float64(box.Dx() * box.Dy())
		if boxArea <= 0 {
			continue
		}
		conf := gocv.ContourArea(contour) / boxArea
		if conf > 1 {
			conf = 1
		}
		out = append(out, candidate{box: box, confidence: conf})
	}
	return out
}

// filter normalizes candidates into detector space (origin bottom-left)
// and applies the confidence, size, overlap and count limits.
func filter(cands []candidate, cols, rows int, cfg Config) []iface.Detection {
	if cols <= 0 || rows <= 0 {
		return nil
	}
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].confidence != cands[j].confidence {
			return cands[i].confidence > cands[j].confidence
		}
		return area(cands[i].box) > area(cands[j].box)
	})

	w, h := float64(cols), float64(rows)
	var kept []candidate
	dets := make([]iface.Detection, 0, len(cands))
	for _, c := range cands {
		if len(dets) >= cfg.MaxObservations {
			break
		}
		if c.confidence < cfg.MinConfidence {
			continue
		}
		nw := float64(c.box.Dx()) / w
		nh := float64(c.box.Dy()) / h
		if nw < cfg.MinSize && nh < cfg.MinSize {
			continue
		}
		if overlaps(c.box, kept, cfg.OverlapIoU) {
			continue
		}
		kept = append(kept, c)
		dets = append(dets, iface.Detection{
			BoundingBox: iface.NormRect{
				X:      float64(c.box.Min.X) / w,
				Y:      1 - float64(c.box.Max.Y)/h,
				Width:  nw,
				Height: nh,
			},
			Confidence: c.confidence,
		})
	}
	return dets
}

func area(r image.Rectangle) int {
	return r.Dx() * r.Dy()
}

func overlaps(r image.Rectangle, kept []candidate, limit float64) bool {
	for _, k := range kept {
		if iou(r, k.box) > limit {
			return true
		}
	}
	return false
}

func iou(a, b image.Rectangle) float64 {
	inter := area(a.Intersect(b))
	if inter == 0 {
		return 0
	}
	union := area(a) + area(b) - inter
	return float64(inter) / float64(union)
}
