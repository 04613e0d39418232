package overlay

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"

	iface "PostkasseVision/interface"

	"github.com/lucasb-eyer/go-colorful"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

type Action int

const (
	ActionNone Action = iota
	ActionCapture
	ActionReset
	ActionQuit
)

func (a Action) String() string {
	switch a {
	case ActionCapture:
		return "capture"
	case ActionReset:
		return "reset"
	case ActionQuit:
		return "quit"
	default:
		return "none"
	}
}

// KeyAction maps a gocv.WaitKey code to a presenter action.
func KeyAction(key int) Action {
	switch key {
	case ' ', 'c', 'C':
		return ActionCapture
	case 'r', 'R':
		return ActionReset
	case 'q', 'Q', 27:
		return ActionQuit
	default:
		return ActionNone
	}
}

type status struct {
	text  string
	color colorful.Color
}

// Presenter is the presentation context. Everything that touches the
// window runs inside Run on one locked OS thread; other goroutines hand
// work over with SetFrame and Post.
type Presenter struct {
	title    string
	renderer *Renderer
	latest   func() *iface.OverlayModel
	log      *zap.Logger

	frame  atomic.Pointer[iface.Frame]
	posted chan func()

	mu     sync.Mutex
	status status
}

func NewPresenter(title string, r *Renderer, latest func() *iface.OverlayModel, log *zap.Logger) *Presenter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Presenter{
		title:    title,
		renderer: r,
		latest:   latest,
		log:      log,
		posted:   make(chan func(), 16),
	}
}

// SetFrame replaces the camera frame shown under the overlay. It is a
// frame sink and never blocks.
func (p *Presenter) SetFrame(f *iface.Frame) {
	p.frame.Store(f)
}

// Post runs fn on the presentation context before the next redraw.
func (p *Presenter) Post(fn func()) {
	select {
	case p.posted <- fn:
	default:
		p.log.Warn("presenter queue full, dropping update")
	}
}

// SetStatus sets the banner text. Call it from a posted func or Run's
// action handler.
func (p *Presenter) SetStatus(text string, c colorful.Color) {
	p.mu.Lock()
	p.status = status{text: text, color: c}
	p.mu.Unlock()
}

// Frame draws the current camera frame, overlay model and banner.
func (p *Presenter) Frame() gocv.Mat {
	canvas := p.renderer.Draw(p.frame.Load(), p.latest())
	p.mu.Lock()
	st := p.status
	p.mu.Unlock()
	p.renderer.RenderStatus(&canvas, st.text, st.color)
	return canvas
}

func (p *Presenter) drain() {
	for {
		select {
		case fn := <-p.posted:
			fn()
		default:
			return
		}
	}
}

// Run opens the window and redraws until ctx is done or the user quits.
// onAction is called on the presentation context for every key action.
func (p *Presenter) Run(ctx context.Context, onAction func(Action)) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	window := gocv.NewWindow(p.title)
	defer window.Close()
	p.log.Info("presenter started", zap.String("window", p.title))

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		p.drain()

		canvas := p.Frame()
		if !canvas.Empty() {
			window.IMShow(canvas)
		}
		canvas.Close()

		action := KeyAction(window.WaitKey(15))
		if action == ActionNone {
			continue
		}
		p.log.Debug("key action", zap.Stringer("action", action))
		if onAction != nil {
			onAction(action)
		}
		if action == ActionQuit {
			return
		}
	}
}
