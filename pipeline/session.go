// Package pipeline runs the live frame analysis loop: it gates frames into
// the detector one at a time, turns detections into an overlay model and
// publishes it, and owns the capture path that ends a session.
package pipeline

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

type State int32

const (
	Idle State = iota
	Streaming
	Capturing
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Streaming:
		return "Streaming"
	case Capturing:
		return "Capturing"
	case Stopped:
		return "Stopped"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

var ErrInvalidTransition = errors.New("invalid session transition")

// Session is the camera session lifecycle shared by the pipeline and the
// capture controller. Each Reset starts a new session id.
type Session struct {
	mu    sync.RWMutex
	id    string
	state atomic.Int32
}

func NewSession() *Session {
	return &Session{id: uuid.New().String()}
}

func (s *Session) ID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.id
}

func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) transition(from, to State) bool {
	return s.state.CompareAndSwap(int32(from), int32(to))
}

// Start moves a fresh session to Streaming.
func (s *Session) Start() error {
	if !s.transition(Idle, Streaming) {
		return fmt.Errorf("%w: start from %s", ErrInvalidTransition, s.State())
	}
	return nil
}

// Reset returns the session to Idle under a new id. A capture in flight
// cannot be reset.
func (s *Session) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		cur := s.State()
		if cur == Capturing {
			return ErrCaptureInProgress
		}
		if s.state.CompareAndSwap(int32(cur), int32(Idle)) {
			break
		}
	}
	s.id = uuid.New().String()
	return nil
}
