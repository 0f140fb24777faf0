package selection

import (
	"log/slog"
	"sync"
	"time"

	"github.com/zombor/regionlens/internal/capture"
)

// MinSize is the exclusive lower bound, in CSS pixels, for both sides of a
// selection that proceeds to capture
const MinSize = 10

// DefaultEmitDelay lets the overlay removal paint before the viewport is rasterized
const DefaultEmitDelay = 100 * time.Millisecond

// State is a selection session state
type State int

const (
	StateIdle State = iota
	StateArmed
	StateDragging
	StateCompleted
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateArmed:
		return "armed"
	case StateDragging:
		return "dragging"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	}
	return "unknown"
}

// Active reports whether a session is in progress
func (s State) Active() bool {
	return s == StateArmed || s == StateDragging
}

// Overlay is the in-page UI the selector drives
type Overlay interface {
	// Show injects the full-viewport overlay and an empty selection box
	Show() error
	// UpdateBox redraws the selection box
	UpdateBox(box capture.Rect) error
	// Remove takes all injected UI away
	Remove() error
}

// Result is what a completed session emits
type Result struct {
	Selection capture.Rect     `json:"selection"`
	Viewport  capture.Viewport `json:"viewport"`
}

// DoneFunc receives the single emission of a completed session
type DoneFunc func(Result)

// Listener is invoked on every state transition
type Listener func(prev, next State)

type transition struct{ prev, next State }

// Selector turns pointer and keyboard input into a selection rectangle.
// Only one session is active at a time.
type Selector struct {
	mu        sync.Mutex
	state     State
	seq       uint64
	startX    float64
	startY    float64
	box       capture.Rect
	onDone    DoneFunc
	overlay   Overlay
	emitDelay time.Duration
	logger    *slog.Logger
	listeners []Listener
	pending   []transition
}

// NewSelector creates a selector that draws through overlay and waits
// emitDelay between completion and emission
func NewSelector(logger *slog.Logger, overlay Overlay, emitDelay time.Duration) *Selector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Selector{state: StateIdle, overlay: overlay, emitDelay: emitDelay, logger: logger}
}

// AddListener registers a listener for state transitions
func (s *Selector) AddListener(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

// State returns the current state
func (s *Selector) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Begin starts a new session, cancelling any session still in progress.
// onDone is called at most once, only if the session completes.
func (s *Selector) Begin(onDone DoneFunc) State {
	s.mu.Lock()
	if s.state.Active() {
		s.logger.Info("Cancelling active selection for a new session", "state", s.state)
		s.cancelLocked()
	}
	s.seq++
	s.onDone = onDone
	s.box = capture.Rect{}
	s.transition(StateArmed)
	if err := s.overlay.Show(); err != nil {
		s.logger.Error("Failed to show selection overlay", "error", err)
		s.cancelLocked()
	}
	return s.unlock()
}

// Press records the drag start point
func (s *Selector) Press(x, y float64) State {
	s.mu.Lock()
	if s.state != StateArmed {
		s.logger.Debug("Ignoring press", "state", s.state)
		return s.unlock()
	}
	s.startX, s.startY = x, y
	s.box = capture.Rect{Left: x, Top: y}
	s.transition(StateDragging)
	s.draw()
	return s.unlock()
}

// Move recomputes the selection box from the drag start and the pointer
func (s *Selector) Move(x, y float64) State {
	s.mu.Lock()
	if s.state != StateDragging {
		return s.unlock()
	}
	s.box = boxFrom(s.startX, s.startY, x, y)
	s.draw()
	return s.unlock()
}

// Release finalizes the rectangle. viewport is the page geometry read at
// the instant the pointer was released.
func (s *Selector) Release(x, y float64, viewport capture.Viewport) State {
	s.mu.Lock()
	if s.state != StateDragging {
		s.logger.Debug("Ignoring release", "state", s.state)
		return s.unlock()
	}

	// snapshot before anything can suspend
	vp := viewport.Normalize()
	rect := boxFrom(s.startX, s.startY, x, y)
	if vp.Valid() {
		rect = rect.Clamp(vp)
	}

	if err := s.overlay.Remove(); err != nil {
		s.logger.Error("Failed to remove selection overlay", "error", err)
		s.finish(StateCancelled)
		return s.unlock()
	}

	switch {
	case !vp.Valid():
		s.logger.Warn("Discarding selection with unusable viewport", "viewport", vp)
		s.finish(StateCancelled)
	case rect.Width > MinSize && rect.Height > MinSize:
		s.box = rect
		s.finish(StateCompleted)
		s.scheduleEmit(Result{Selection: rect, Viewport: vp})
	default:
		s.logger.Debug("Selection too small", "width", rect.Width, "height", rect.Height)
		s.finish(StateCancelled)
	}
	return s.unlock()
}

// Escape cancels the session without emitting anything
func (s *Selector) Escape() State {
	s.mu.Lock()
	if s.state.Active() {
		s.cancelLocked()
	}
	return s.unlock()
}

func (s *Selector) scheduleEmit(res Result) {
	seq := s.seq
	onDone := s.onDone
	s.onDone = nil
	if onDone == nil {
		return
	}
	time.AfterFunc(s.emitDelay, func() {
		s.mu.Lock()
		stale := s.seq != seq
		s.mu.Unlock()
		if stale {
			s.logger.Info("Dropping emission of superseded selection")
			return
		}
		onDone(res)
	})
}

func (s *Selector) draw() {
	if err := s.overlay.UpdateBox(s.box); err != nil {
		s.logger.Error("Failed to draw selection box", "error", err)
		s.cancelLocked()
	}
}

// cancelLocked removes the UI and moves to Cancelled. Removal failures are
// only logged since the session is already ending.
func (s *Selector) cancelLocked() {
	if err := s.overlay.Remove(); err != nil {
		s.logger.Warn("Failed to remove selection overlay", "error", err)
	}
	s.finish(StateCancelled)
}

func (s *Selector) finish(next State) {
	if next == StateCancelled {
		s.onDone = nil
	}
	s.transition(next)
}

func (s *Selector) transition(next State) {
	if s.state == next {
		return
	}
	s.pending = append(s.pending, transition{prev: s.state, next: next})
	s.state = next
}

// unlock releases the lock and then notifies listeners, so listeners may
// call back into the selector
func (s *Selector) unlock() State {
	state := s.state
	pending := s.pending
	s.pending = nil
	listeners := append([]Listener(nil), s.listeners...)
	s.mu.Unlock()

	for _, t := range pending {
		for _, l := range listeners {
			l(t.prev, t.next)
		}
	}
	return state
}

func boxFrom(startX, startY, x, y float64) capture.Rect {
	return capture.Rect{
		Left:   min(startX, x),
		Top:    min(startY, y),
		Width:  abs(x - startX),
		Height: abs(y - startY),
	}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
