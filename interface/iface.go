package iface

import (
	"context"
	"encoding/json"
	"fmt"
)

type GuidanceState int

const (
	Searching GuidanceState = iota
	TooFar
	Found
)

func (g GuidanceState) String() string {
	switch g {
	case Searching:
		return "Searching"
	case TooFar:
		return "TooFar"
	case Found:
		return "Found"
	default:
		return fmt.Sprintf("GuidanceState(%d)", int(g))
	}
}

func (g GuidanceState) MarshalJSON() ([]byte, error) {
	return json.Marshal(g.String())
}

func (g *GuidanceState) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	switch s {
	case "Searching":
		*g = Searching
	case "TooFar":
		*g = TooFar
	case "Found":
		*g = Found
	default:
		return fmt.Errorf("unknown guidance state %q", s)
	}
	return nil
}

const (
	FormatJPEG = "jpeg"
	FormatPNG  = "png"
)

// Detector finds rectangular regions in a frame. Implementations may block
// for longer than one frame interval.
type Detector interface {
	Detect(ctx context.Context, frame *Frame) ([]Detection, error)
}

// StillSource produces one high-quality still from the streaming camera and
// halts frame delivery.
type StillSource interface {
	Still(ctx context.Context) (*CapturedFrame, error)
	Stop()
}

// Analyzer hands a captured still to the remote classification service.
type Analyzer interface {
	Analyze(ctx context.Context, frame *CapturedFrame) (*AnalysisResult, error)
}

// Capacity classes reported by the analysis service.
const (
	KapasitetLiten    = "LITEN"
	KapasitetStandard = "STANDARD"
	KapasitetStor     = "STOR"
)

// KapasitetRank orders capacity classes by the largest parcel volume that
// fits: LITEN 1, STANDARD 2, STOR 3. Unknown classes rank 0.
func KapasitetRank(klasse string) int {
	switch klasse {
	case KapasitetLiten:
		return 1
	case KapasitetStandard:
		return 2
	case KapasitetStor:
		return 3
	default:
		return 0
	}
}
