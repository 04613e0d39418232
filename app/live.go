// Package app wires the live session together: camera, pipeline,
// presenter, capture, upload and the control API.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"PostkasseVision/camera"
	"PostkasseVision/config"
	"PostkasseVision/engine"
	proto "PostkasseVision/gRPC"
	"PostkasseVision/guidance"
	iface "PostkasseVision/interface"
	"PostkasseVision/overlay"
	"PostkasseVision/pipeline"
	"PostkasseVision/remote"
	"PostkasseVision/server"

	"go.uber.org/zap"
)

// FrameSource is a running camera that feeds frames to a sink and serves
// stills.
type FrameSource interface {
	iface.StillSource
	Run(ctx context.Context, sink func(*iface.Frame)) error
	Done() <-chan struct{}
	Close() error
}

// healthChecker is implemented by analyzers that can check their endpoint.
type healthChecker interface {
	Health(ctx context.Context) error
}

type Options struct {
	Config     config.Config
	Detector   iface.Detector
	Analyzer   iface.Analyzer
	OpenCamera func() (FrameSource, error)
	Out        io.Writer
}

// Live is one operator session. It implements server.Controller.
type Live struct {
	cfg      config.Config
	log      *zap.Logger
	out      io.Writer
	open     func() (FrameSource, error)
	analyzer iface.Analyzer

	session   *pipeline.Session
	pipe      *pipeline.Pipeline
	presenter *overlay.Presenter

	// resetMu serializes session start and reset.
	resetMu sync.Mutex

	mu       sync.Mutex
	ctx      context.Context
	source   FrameSource
	capturer *pipeline.Capturer
}

func NewLive(opts Options, log *zap.Logger) *Live {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	cfg := opts.Config
	display := iface.Size{Width: float64(cfg.Display.Width), Height: float64(cfg.Display.Height)}
	session := pipeline.NewSession()
	pipe := pipeline.New(opts.Detector, session, pipeline.Options{
		Display:          display,
		ReferenceWidthCm: cfg.ReferenceWidthCm,
	}, log.Named("pipeline"))
	l := &Live{
		cfg:      cfg,
		log:      log,
		out:      opts.Out,
		open:     opts.OpenCamera,
		analyzer: opts.Analyzer,
		ctx:      context.Background(),
		session:  session,
		pipe:     pipe,
	}
	l.presenter = overlay.NewPresenter("Postkasse Vision",
		overlay.NewRenderer(cfg.Display.Language), pipe.Latest, log.Named("presenter"))
	return l
}

func (l *Live) sink(f *iface.Frame) {
	l.pipe.Submit(f)
	l.presenter.SetFrame(f)
}

// startSession opens the camera and moves a fresh session to Streaming.
func (l *Live) startSession() error {
	src, err := l.open()
	if err != nil {
		return err
	}
	if err := l.session.Start(); err != nil {
		if cerr := src.Close(); cerr != nil {
			l.log.Warn("closing camera", zap.Error(cerr))
		}
		return err
	}
	l.pipe.Clear()

	l.mu.Lock()
	l.source = src
	l.capturer = pipeline.NewCapturer(l.session, src, l.log.Named("capture"))
	ctx := l.ctx
	l.mu.Unlock()

	go func() {
		if err := src.Run(ctx, l.sink); err != nil && !errors.Is(err, context.Canceled) {
			l.log.Error("camera stopped with error", zap.Error(err))
		}
	}()
	l.log.Info("session started", zap.String("session", l.session.ID()))
	return nil
}

// Run starts the session, the control API and, when enabled, the window.
// It returns when ctx is done or the operator quits.
func (l *Live) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	l.mu.Lock()
	l.ctx = ctx
	l.mu.Unlock()

	l.resetMu.Lock()
	err := l.startSession()
	l.resetMu.Unlock()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer l.pipe.Close()
	l.checkAnalyzer(ctx)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", l.cfg.Server.ControlPort),
		Handler:           server.NewControlRouter(l, l.log.Named("server")),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.log.Error("control server stopped", zap.Error(err))
		}
	}()
	defer func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
		defer done()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if l.cfg.Display.Window {
		l.presenter.Run(ctx, func(a overlay.Action) { l.handleAction(ctx, a, cancel) })
	} else {
		<-ctx.Done()
	}
	l.mu.Lock()
	src := l.source
	l.mu.Unlock()
	_ = src.Close()
	return nil
}

// checkAnalyzer warns when the analysis endpoint does not answer. Capture
// still works once it comes up.
func (l *Live) checkAnalyzer(ctx context.Context) {
	hc, ok := l.analyzer.(healthChecker)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := hc.Health(ctx); err != nil {
		l.log.Warn("analysis service not reachable", zap.Error(err))
		return
	}
	l.log.Info("analysis service reachable")
}

// handleAction runs on the presentation context.
func (l *Live) handleAction(ctx context.Context, a overlay.Action, quit context.CancelFunc) {
	switch a {
	case overlay.ActionCapture:
		l.presenter.SetStatus("Capturing...", overlay.StatusInfo)
		go func() {
			res, err := l.CaptureAndAnalyze(ctx)
			l.presenter.Post(func() {
				if err != nil {
					l.presenter.SetStatus(err.Error(), overlay.StatusError)
					return
				}
				l.presenter.SetStatus(Summary(res), guidance.Success)
			})
		}()
	case overlay.ActionReset:
		if err := l.Reset(); err != nil {
			l.presenter.SetStatus(err.Error(), overlay.StatusError)
			return
		}
		l.presenter.SetStatus("", guidance.Neutral)
	case overlay.ActionQuit:
		quit()
	}
}

// CaptureAndAnalyze takes the still, ends the session and uploads the
// still for classification.
func (l *Live) CaptureAndAnalyze(ctx context.Context) (*iface.AnalysisResult, error) {
	l.mu.Lock()
	c := l.capturer
	l.mu.Unlock()
	if c == nil {
		return nil, pipeline.ErrNotStreaming
	}
	frame, err := c.Capture(ctx)
	if err != nil {
		return nil, err
	}
	res, err := l.analyzer.Analyze(ctx, frame)
	if err != nil {
		return nil, err
	}
	PrintResult(l.out, res)
	return res, nil
}

// Reset ends the current session and starts a new one on a reopened
// camera.
func (l *Live) Reset() error {
	l.resetMu.Lock()
	defer l.resetMu.Unlock()
	if err := l.session.Reset(); err != nil {
		return err
	}
	l.mu.Lock()
	old := l.source
	l.mu.Unlock()
	if old != nil {
		old.Stop()
		<-old.Done()
	}
	return l.startSession()
}

func (l *Live) Snapshot() server.SessionState {
	m := l.pipe.Latest()
	return server.SessionState{
		SessionID:   l.session.ID(),
		State:       l.session.State().String(),
		Guidance:    m.Guidance,
		Annotations: len(m.Annotations),
		FrameSeq:    m.FrameSeq,
	}
}

func (l *Live) Latest() *iface.OverlayModel {
	return l.pipe.Latest()
}

func (l *Live) Subscribe() (<-chan *iface.OverlayModel, func()) {
	return l.pipe.Subscribe()
}

// NewDetector builds the detector backend named in cfg. The returned
// closer releases it.
func NewDetector(cfg config.Config, log *zap.Logger) (iface.Detector, func(), error) {
	ecfg := engine.DefaultConfig()
	ecfg.MinConfidence = cfg.Detector.MinConfidence
	ecfg.MinSize = cfg.Detector.MinSize
	ecfg.MaxObservations = cfg.Detector.MaxObservations
	switch cfg.Detector.Backend {
	case config.BackendGRPC:
		rd, err := proto.Dial(cfg.Detector.Address)
		if err != nil {
			return nil, nil, err
		}
		rd.SetFrameQuality(cfg.Detector.FrameQuality)
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if info, err := rd.CheckEngine(ctx); err != nil {
			log.Warn("detector backend not reachable", zap.String("address", cfg.Detector.Address), zap.Error(err))
		} else {
			log.Info("detector backend ready",
				zap.String("address", cfg.Detector.Address),
				zap.Int("workers", info.Workers),
				zap.String("state", info.State))
		}
		return rd, func() { _ = rd.Close() }, nil
	default:
		d := engine.New(log.Named("engine"))
		if err := d.Configure(ecfg); err != nil {
			return nil, nil, err
		}
		return d, d.Destroy, nil
	}
}

// NewAnalyzer builds the remote analysis client from cfg.
func NewAnalyzer(cfg config.Config, log *zap.Logger) *remote.Client {
	return remote.New(remote.Options{
		Endpoint:    cfg.Remote.Endpoint,
		Timeout:     time.Duration(cfg.Remote.TimeoutSeconds) * time.Second,
		JpegQuality: cfg.Camera.JpegQuality,
	}, log.Named("remote"))
}

// OpenCamera returns an opener for the camera named in cfg.
func OpenCamera(cfg config.Config, log *zap.Logger) func() (FrameSource, error) {
	return func() (FrameSource, error) {
		src, err := camera.Open(camera.Options{
			Device:      cfg.Camera.Device,
			URL:         cfg.Camera.URL,
			Width:       cfg.Camera.Width,
			Height:      cfg.Camera.Height,
			JpegQuality: cfg.Camera.JpegQuality,
		}, log.Named("camera"))
		if err != nil {
			return nil, err
		}
		return src, nil
	}
}
