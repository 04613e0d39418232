package pipeline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"PostkasseVision/geometry"
	"PostkasseVision/guidance"
	iface "PostkasseVision/interface"
	"PostkasseVision/monitor"

	"go.uber.org/zap"
)

// LabelFormat renders the two-line size label of an annotation.
const LabelFormat = "W: %.1f cm\nH: %.1f cm"

type Options struct {
	Display          iface.Size
	ReferenceWidthCm float64
}

// Pipeline forwards at most one frame at a time to the detector. Frames
// that arrive while a detection is in flight are dropped, never queued.
type Pipeline struct {
	detector iface.Detector
	session  *Session
	opts     Options
	log      *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	inFlight atomic.Bool
	seq      atomic.Uint64
	model    atomic.Pointer[iface.OverlayModel]
	dropped  atomic.Uint64

	// pubMu orders the session check of a result against Clear.
	pubMu sync.Mutex

	subMu   sync.Mutex
	subs    map[int]chan *iface.OverlayModel
	nextSub int
}

func New(detector iface.Detector, session *Session, opts Options, log *zap.Logger) *Pipeline {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.ReferenceWidthCm <= 0 {
		opts.ReferenceWidthCm = geometry.DefaultReferenceWidthCm
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pipeline{
		detector: detector,
		session:  session,
		opts:     opts,
		log:      log,
		ctx:      ctx,
		cancel:   cancel,
		subs:     make(map[int]chan *iface.OverlayModel),
	}
	p.model.Store(p.emptyModel())
	return p
}

func (p *Pipeline) emptyModel() *iface.OverlayModel {
	return &iface.OverlayModel{
		Display:     p.opts.Display,
		Annotations: []iface.OverlayAnnotation{},
		Guidance:    iface.Searching,
	}
}

// Submit hands a frame to the detector if the session is streaming and no
// detection is in flight. It never blocks on the detector.
func (p *Pipeline) Submit(frame *iface.Frame) bool {
	monitor.FramesReceived.Inc()
	if p.session.State() != Streaming {
		p.drop(frame, "not streaming")
		return false
	}
	if !p.inFlight.CompareAndSwap(false, true) {
		p.drop(frame, "detection in flight")
		return false
	}
	// a capture may have started between the two checks
	if p.session.State() != Streaming {
		p.inFlight.Store(false)
		p.drop(frame, "not streaming")
		return false
	}
	monitor.FramesSubmitted.Inc()
	p.wg.Add(1)
	go p.analyze(frame, p.session.ID())
	return true
}

func (p *Pipeline) drop(frame *iface.Frame, reason string) {
	p.dropped.Add(1)
	monitor.FramesDropped.Inc()
	p.log.Debug("frame dropped", zap.Uint64("frame", frame.Seq), zap.String("reason", reason))
}

func (p *Pipeline) analyze(frame *iface.Frame, sessionID string) {
	defer p.wg.Done()
	defer p.inFlight.Store(false)

	start := time.Now()
	dets, err := p.detect(frame)
	monitor.DetectLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		monitor.DetectorErrors.Inc()
		p.log.Warn("detector failed, keeping previous overlay",
			zap.Uint64("frame", frame.Seq), zap.Error(err))
		return
	}
	m := p.buildModel(frame, dets)

	p.pubMu.Lock()
	defer p.pubMu.Unlock()
	if p.session.State() != Streaming || p.session.ID() != sessionID {
		p.log.Debug("discarding result for inactive session", zap.Uint64("frame", frame.Seq))
		return
	}
	p.publish(m)
}

func (p *Pipeline) detect(frame *iface.Frame) (dets []iface.Detection, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("detector panic: %v", r)
		}
	}()
	return p.detector.Detect(p.ctx, frame)
}

func (p *Pipeline) buildModel(frame *iface.Frame, dets []iface.Detection) *iface.OverlayModel {
	t := geometry.NewTransform(p.opts.Display, frame.Size())
	return &iface.OverlayModel{
		Seq:         p.seq.Add(1),
		FrameSeq:    frame.Seq,
		Display:     p.opts.Display,
		Annotations: Annotate(dets, t, p.opts.ReferenceWidthCm),
		Guidance:    guidance.Classify(dets, t),
	}
}

// Annotate maps each detection to display space and attaches its size
// estimate and label.
func Annotate(dets []iface.Detection, t geometry.Transform, referenceWidthCm float64) []iface.OverlayAnnotation {
	out := make([]iface.OverlayAnnotation, 0, len(dets))
	for _, d := range dets {
		r := t.Convert(d.BoundingBox)
		w, h := geometry.Estimate(r, t.Display.Width, referenceWidthCm)
		out = append(out, iface.OverlayAnnotation{
			DisplayRect:       r,
			EstimatedWidthCm:  w,
			EstimatedHeightCm: h,
			Label:             fmt.Sprintf(LabelFormat, w, h),
		})
	}
	return out
}

func (p *Pipeline) publish(m *iface.OverlayModel) {
	p.model.Store(m)
	monitor.GuidanceTotal.WithLabelValues(m.Guidance.String()).Inc()

	p.subMu.Lock()
	defer p.subMu.Unlock()
	for _, ch := range p.subs {
		select {
		case ch <- m:
			continue
		default:
		}
		// replace the stale model nobody has read yet
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- m:
		default:
		}
	}
}

// Latest returns the most recently published model. It is never nil and
// must not be modified.
func (p *Pipeline) Latest() *iface.OverlayModel {
	return p.model.Load()
}

// Subscribe delivers published models. Slow readers only see the newest
// one. The returned func unsubscribes and closes the channel.
func (p *Pipeline) Subscribe() (<-chan *iface.OverlayModel, func()) {
	ch := make(chan *iface.OverlayModel, 1)
	p.subMu.Lock()
	id := p.nextSub
	p.nextSub++
	p.subs[id] = ch
	p.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			p.subMu.Lock()
			delete(p.subs, id)
			p.subMu.Unlock()
			close(ch)
		})
	}
}

// Clear publishes an empty model, used when a new session starts.
func (p *Pipeline) Clear() {
	p.pubMu.Lock()
	defer p.pubMu.Unlock()
	p.publish(p.emptyModel())
}

// Run submits frames until the channel closes or ctx is done.
func (p *Pipeline) Run(ctx context.Context, frames <-chan *iface.Frame) {
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-frames:
			if !ok {
				return
			}
			p.Submit(f)
		}
	}
}

func (p *Pipeline) InFlight() bool {
	return p.inFlight.Load()
}

func (p *Pipeline) Dropped() uint64 {
	return p.dropped.Load()
}

// Wait blocks until in-flight detections have finished.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

// Close cancels the detector context and waits for the in-flight call.
func (p *Pipeline) Close() {
	p.cancel()
	p.wg.Wait()
}
