package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	iface "PostkasseVision/interface"
	"PostkasseVision/monitor"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrCaptureInProgress = errors.New("capture already in progress")
	ErrNotStreaming      = errors.New("session is not streaming")
	ErrNoData            = errors.New("camera produced no image data")
)

// CaptureError reports a failed still capture. It is distinct from a
// capture that succeeded on a frame without detections.
type CaptureError struct {
	Err error
}

func (e *CaptureError) Error() string {
	return fmt.Sprintf("capture failed: %v", e.Err)
}

func (e *CaptureError) Unwrap() error {
	return e.Err
}

type CaptureResult struct {
	Frame *iface.CapturedFrame
	Err   error
}

// Capturer takes one still from the streaming camera and ends the session.
type Capturer struct {
	session *Session
	source  iface.StillSource
	log     *zap.Logger
	busy    atomic.Bool
}

func NewCapturer(session *Session, source iface.StillSource, log *zap.Logger) *Capturer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Capturer{session: session, source: source, log: log}
}

// Capture requests a still. Concurrent calls get ErrCaptureInProgress.
// On failure the session goes back to Streaming and a *CaptureError is
// returned; on success the session is Stopped and the source halted.
func (c *Capturer) Capture(ctx context.Context) (*iface.CapturedFrame, error) {
	if !c.busy.CompareAndSwap(false, true) {
		return nil, ErrCaptureInProgress
	}
	defer c.busy.Store(false)

	if !c.session.transition(Streaming, Capturing) {
		if c.session.State() == Capturing {
			return nil, ErrCaptureInProgress
		}
		return nil, ErrNotStreaming
	}

	frame, err := c.source.Still(ctx)
	if err == nil && (frame == nil || len(frame.Data) == 0) {
		err = ErrNoData
	}
	if err != nil {
		c.session.transition(Capturing, Streaming)
		monitor.CapturesTotal.WithLabelValues("error").Inc()
		c.log.Error("still capture failed", zap.String("session", c.session.ID()), zap.Error(err))
		return nil, &CaptureError{Err: err}
	}
	if frame.ID == "" {
		frame.ID = uuid.New().String()
	}
	c.session.transition(Capturing, Stopped)
	c.source.Stop()
	monitor.CapturesTotal.WithLabelValues("ok").Inc()
	c.log.Info("still captured",
		zap.String("session", c.session.ID()),
		zap.String("capture", frame.ID),
		zap.Int("bytes", len(frame.Data)))
	return frame, nil
}

// Go runs Capture in the background and delivers the outcome once.
func (c *Capturer) Go(ctx context.Context) <-chan CaptureResult {
	out := make(chan CaptureResult, 1)
	go func() {
		f, err := c.Capture(ctx)
		out <- CaptureResult{Frame: f, Err: err}
	}()
	return out
}
