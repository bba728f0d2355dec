package render

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// State is the lifecycle position of one render session
type State string

const (
	StateIdle      State = "idle"
	StateLoading   State = "loading"
	StateRendering State = "rendering"
	StateDone      State = "done"
	StateFailed    State = "failed"
)

// ErrInvalidTransition is returned when a session is moved along an edge the lifecycle does not allow
var ErrInvalidTransition = errors.New("invalid render state transition")

// IsTerminal reports whether the state is final.
func IsTerminal(s State) bool {
	return s == StateDone || s == StateFailed
}

func isAllowedTransition(from, to State) bool {
	switch from {
	case StateIdle:
		return to == StateLoading
	case StateLoading:
		return to == StateRendering || to == StateFailed
	case StateRendering:
		return to == StateDone || to == StateFailed
	default:
		return false
	}
}

// Step is one recorded transition
type Step struct {
	From State
	To   State
	At   time.Time
}

// Session tracks a single render attempt. Safe for concurrent reads.
type Session struct {
	URL string

	mu      sync.Mutex
	state   State
	history []Step
	err     error
}

// NewSession starts a session in the idle state
func NewSession(url string) *Session {
	return &Session{URL: url, state: StateIdle}
}

// State returns the current state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// History returns a copy of every transition taken so far
func (s *Session) History() []Step {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Step, len(s.history))
	copy(out, s.history)
	return out
}

// Err returns the failure cause once the session has failed
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Transition moves the session from -> to. The caller supplies the expected
// prior state so a stale caller gets an error instead of silently clobbering.
func (s *Session) Transition(from, to State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != from {
		return fmt.Errorf("%w: expected %s, got %s", ErrInvalidTransition, from, s.state)
	}
	if !isAllowedTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	s.state = to
	s.history = append(s.history, Step{From: from, To: to, At: time.Now()})
	return nil
}

// Fail moves a loading or rendering session to failed and records cause.
func (s *Session) Fail(cause error) error {
	s.mu.Lock()
	from := s.state
	s.mu.Unlock()
	if err := s.Transition(from, StateFailed); err != nil {
		return err
	}
	s.mu.Lock()
	s.err = cause
	s.mu.Unlock()
	return nil
}
