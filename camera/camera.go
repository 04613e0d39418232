// Package camera streams frames from a gocv capture device and serves
// one-shot still requests from the same device.
package camera

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	iface "PostkasseVision/interface"

	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

const maxReadFailures = 50

var (
	ErrStopped    = errors.New("camera stopped")
	ErrNoFrame    = errors.New("camera returned no frame")
	ErrReadFailed = errors.New("camera read failed repeatedly")
)

// Device is the part of gocv.VideoCapture the source needs.
type Device interface {
	Read(m *gocv.Mat) bool
	Close() error
}

type Options struct {
	Device      int
	URL         string
	Width       int
	Height      int
	JpegQuality int
}

type stillReply struct {
	frame *iface.CapturedFrame
	err   error
}

// Source owns a capture device. Run is the only goroutine touching the
// device, so streaming reads and still captures never overlap.
type Source struct {
	dev     Device
	quality int
	log     *zap.Logger

	stills   chan chan stillReply
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	seq      uint64

	started   atomic.Bool
	closeOnce sync.Once
}

// Open opens a camera by URL when set, otherwise by device index.
func Open(opts Options, log *zap.Logger) (*Source, error) {
	var (
		vc  *gocv.VideoCapture
		err error
	)
	if opts.URL != "" {
		vc, err = gocv.OpenVideoCapture(opts.URL)
	} else {
		vc, err = gocv.OpenVideoCapture(opts.Device)
	}
	if err != nil {
		return nil, fmt.Errorf("open camera: %w", err)
	}
	if !vc.IsOpened() {
		_ = vc.Close()
		return nil, fmt.Errorf("open camera: device %d / %q not available", opts.Device, opts.URL)
	}
	vc.Set(gocv.VideoCaptureBufferSize, 1)
	if opts.Width > 0 && opts.Height > 0 {
		vc.Set(gocv.VideoCaptureFrameWidth, float64(opts.Width))
		vc.Set(gocv.VideoCaptureFrameHeight, float64(opts.Height))
	}
	return NewSource(vc, opts.JpegQuality, log), nil
}

func NewSource(dev Device, jpegQuality int, log *zap.Logger) *Source {
	if log == nil {
		log = zap.NewNop()
	}
	if jpegQuality <= 0 || jpegQuality > 100 {
		jpegQuality = 80
	}
	s := &Source{
		dev:      dev,
		quality:  jpegQuality,
		log:      log,
		stills:   make(chan chan stillReply),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	return s
}

// Run reads frames and hands each to sink until Stop, ctx cancellation, or
// repeated read failures. sink must not block. The device is closed on
// return.
func (s *Source) Run(ctx context.Context, sink func(*iface.Frame)) error {
	s.started.Store(true)
	defer close(s.done)
	defer s.closeDevice()

	img := gocv.NewMat()
	defer img.Close()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.stop:
			s.log.Info("camera stopped", zap.Uint64("frames", s.seq))
			return nil
		case reply := <-s.stills:
			reply <- s.still(&img)
			continue
		default:
		}

		if ok := s.dev.Read(&img); !ok || img.Empty() {
			failures++
			if failures >= maxReadFailures {
				s.log.Error("camera read failed", zap.Int("attempts", failures))
				return ErrReadFailed
			}
			time.Sleep(10 * time.Millisecond)
			continue
		}
		failures = 0
		s.seq++
		sink(&iface.Frame{
			Seq:       s.seq,
			Timestamp: time.Now(),
			Width:     img.Cols(),
			Height:    img.Rows(),
			Channels:  img.Channels(),
			Data:      img.ToBytes(),
		})
	}
}

func (s *Source) still(img *gocv.Mat) stillReply {
	if ok := s.dev.Read(img); !ok || img.Empty() {
		return stillReply{err: ErrNoFrame}
	}
	data, err := EncodeJPEG(*img, s.quality)
	if err != nil {
		return stillReply{err: err}
	}
	return stillReply{frame: &iface.CapturedFrame{
		Format:    iface.FormatJPEG,
		Width:     img.Cols(),
		Height:    img.Rows(),
		Data:      data,
		Timestamp: time.Now(),
	}}
}

// Still takes one fresh frame from the running source and returns it
// JPEG-encoded.
func (s *Source) Still(ctx context.Context) (*iface.CapturedFrame, error) {
	reply := make(chan stillReply, 1)
	select {
	case s.stills <- reply:
	case <-s.stop:
		return nil, ErrStopped
	case <-s.done:
		return nil, ErrStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case r := <-reply:
		return r.frame, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Stop halts frame delivery. It is safe to call more than once.
func (s *Source) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// Close stops the source and releases the device of a source whose Run
// never started. A running source releases it when Run returns.
func (s *Source) Close() error {
	s.Stop()
	if s.started.Load() {
		return nil
	}
	return s.closeDevice()
}

func (s *Source) closeDevice() (err error) {
	s.closeOnce.Do(func() {
		if err = s.dev.Close(); err != nil {
			s.log.Warn("closing camera", zap.Error(err))
		}
	})
	return err
}

// Done is closed when Run has returned.
func (s *Source) Done() <-chan struct{} {
	return s.done
}

// EncodeJPEG encodes a BGR Mat at the given quality (1-100).
func EncodeJPEG(img gocv.Mat, quality int) ([]byte, error) {
	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, img, []int{int(gocv.IMWriteJpegQuality), quality})
	if err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	defer buf.Close()
	return append([]byte(nil), buf.GetBytes()...), nil
}
