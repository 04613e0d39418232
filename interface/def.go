package iface

import "time"

// NormRect is a detector-normalized box. Origin is bottom-left, y grows upward.
type NormRect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Rect is a display-space box. Origin is top-left, y grows downward.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

func (r Rect) MaxX() float64 { return r.X + r.Width }
func (r Rect) MaxY() float64 { return r.Y + r.Height }
func (r Rect) MidX() float64 { return r.X + r.Width/2 }

type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

func (s Size) Empty() bool { return s.Width <= 0 || s.Height <= 0 }

// Detection is one detector observation for one frame.
type Detection struct {
	BoundingBox NormRect `json:"boundingBox"`
	Confidence  float64  `json:"confidence"`
}

// Frame is a raw camera frame handed from the frame-producing context.
// Data is tightly packed, Channels bytes per pixel (BGR for 3 channels).
type Frame struct {
	Seq       uint64
	Timestamp time.Time
	Width     int
	Height    int
	Channels  int
	Data      []byte
}

func (f *Frame) Size() Size {
	return Size{Width: float64(f.Width), Height: float64(f.Height)}
}

type OverlayAnnotation struct {
	DisplayRect       Rect    `json:"displayRect"`
	EstimatedWidthCm  float64 `json:"estimatedWidthCm"`
	EstimatedHeightCm float64 `json:"estimatedHeightCm"`
	Label             string  `json:"label"`
}

// OverlayModel is published once per analyzed frame and never mutated after.
type OverlayModel struct {
	Seq         uint64              `json:"seq"`
	FrameSeq    uint64              `json:"frameSeq"`
	Display     Size                `json:"display"`
	Annotations []OverlayAnnotation `json:"annotations"`
	Guidance    GuidanceState       `json:"guidance"`
}

// CapturedFrame is the still produced by one user-triggered capture.
type CapturedFrame struct {
	ID        string
	Format    string
	Width     int
	Height    int
	Data      []byte
	Timestamp time.Time
}

type AnalysisResult struct {
	Success    bool              `json:"success"`
	Filename   string            `json:"filename,omitempty"`
	Postkasser []PostkasseResult `json:"postkasser"`
	Count      int               `json:"count"`
}

type PostkasseResult struct {
	ID              string `json:"id"`
	KapasitetKlasse string `json:"kapasitet_klasse"`
}
