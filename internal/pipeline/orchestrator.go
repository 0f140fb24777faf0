package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zombor/regionlens/internal/capture"
	"github.com/zombor/regionlens/internal/crop"
	"github.com/zombor/regionlens/internal/events"
	"github.com/zombor/regionlens/internal/failure"
	"github.com/zombor/regionlens/internal/provider"
	"github.com/zombor/regionlens/internal/selection"
	"github.com/zombor/regionlens/internal/store"
)

// ErrBusy is returned when a run is already in progress
var ErrBusy = errors.New("a capture is already being processed")

// ErrEmptyPrompt is returned when Ask receives no question
var ErrEmptyPrompt = errors.New("prompt is empty")

// Store is the durable state the orchestrator reads and writes
type Store interface {
	TakePendingCapture() (*capture.Bundle, error)
	SavePreviewImage(png []byte) error
	SaveExtractedText(text string) error
	SaveAIResponse(text string) error
	ServiceConfig(purpose provider.Purpose) (provider.Config, error)
}

// Selector arms a region selection session
type Selector interface {
	Begin(onDone selection.DoneFunc) selection.State
}

// Capturer hands a completed selection to the capture context
type Capturer interface {
	RequestCapture(ctx context.Context, req capture.Request) (capture.Handle, error)
}

// Services talks to the configured OCR and AI providers
type Services interface {
	ExtractText(ctx context.Context, image []byte, cfg provider.Config) (string, error)
	Query(ctx context.Context, prompt string, image []byte, cfg provider.Config) (string, error)
}

// Publisher sends fire-and-forget notifications
type Publisher interface {
	Publish(typ string, data any) int
}

// Subscriber receives bus notifications
type Subscriber interface {
	Subscribe(types ...string) (<-chan events.Event, func())
}

// Orchestrator drives a capture from selection to extracted text
type Orchestrator struct {
	store    Store
	selector Selector
	capturer Capturer
	services Services
	bus      Publisher
	timeout  time.Duration
	logger   *slog.Logger

	mu         sync.Mutex
	state      State
	runID      string
	intent     capture.Intent
	lastErr    *failure.Error
	attachment []byte
	listeners  []Listener

	// kick wakes Run to look at the pending slot again
	kick chan struct{}
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithRequestTimeout bounds each provider call. Zero waits indefinitely.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.timeout = d }
}

// NewOrchestrator creates an idle Orchestrator
func NewOrchestrator(logger *slog.Logger, st Store, selector Selector, capturer Capturer, services Services, bus Publisher, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	o := &Orchestrator{
		store:    st,
		selector: selector,
		capturer: capturer,
		services: services,
		bus:      bus,
		logger:   logger,
		state:    StateIdle,
		kick:     make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// OnEvent registers a listener for state transitions
func (o *Orchestrator) OnEvent(l Listener) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.listeners = append(o.listeners, l)
}

// Status returns the current state
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return Status{
		State:    o.state,
		RunID:    o.runID,
		Intent:   o.intent,
		Error:    o.lastErr,
		Attached: len(o.attachment) > 0,
	}
}

// ClearAttachment drops an AI capture kept for the next question
func (o *Orchestrator) ClearAttachment() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.attachment = nil
}

// Run consumes bundles as they become ready until ctx is done. Bundles left
// pending by a previous process are picked up first.
func (o *Orchestrator) Run(ctx context.Context, sub Subscriber) error {
	ch, cancel := sub.Subscribe(events.TypeBundleReady)
	defer cancel()

	o.Resume(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-o.kick:
			o.Resume(ctx)
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			if ev.Type == events.TypeBundleReady {
				o.Resume(ctx)
			}
		}
	}
}

// BeginSelection arms the selector. When the selection completes the
// capture is requested with intent.
func (o *Orchestrator) BeginSelection(intent capture.Intent) error {
	if err := validateIntent(intent); err != nil {
		return err
	}
	o.mu.Lock()
	busy := o.state.busy()
	o.mu.Unlock()
	if busy {
		return ErrBusy
	}

	state := o.selector.Begin(func(res selection.Result) {
		o.requestCapture(intent, res)
	})
	o.logger.Info("Selection started", "intent", intent.Kind, "selector_state", state)
	return nil
}

func (o *Orchestrator) requestCapture(intent capture.Intent, res selection.Result) {
	if err := o.claim(StateCaptureRequested, "", intent); err != nil {
		o.logger.Warn("Dropping selection", "error", err)
		return
	}

	handle, err := o.capturer.RequestCapture(context.Background(), capture.Request{
		Selection: res.Selection,
		Viewport:  res.Viewport,
		Intent:    intent,
	})
	if err != nil {
		o.fail(failure.From(err, failure.CaptureFailed))
		return
	}
	o.logger.Info("Capture requested", "id", handle.ID)
}

// Resume processes the pending bundle, if any. It returns false when there
// was nothing to do or another run is in progress.
func (o *Orchestrator) Resume(ctx context.Context) bool {
	o.mu.Lock()
	if o.state.busy() && o.state != StateCaptureRequested {
		o.mu.Unlock()
		return false
	}
	// read-and-clear under the lock so a concurrent Ask cannot interleave
	bundle, err := o.store.TakePendingCapture()
	if errors.Is(err, store.ErrNoPending) {
		o.mu.Unlock()
		return false
	}
	if err != nil {
		ev := o.setLocked(StateFailed, o.runID, o.intent, failure.New(failure.CaptureFailed, "reading pending capture: %v", err))
		listeners := o.snapshotLocked()
		o.mu.Unlock()

		o.logger.Error("Failed to read pending capture", "error", err)
		o.notify(listeners, ev)
		return true
	}
	intent := bundle.Intent
	if intent.Kind == "" {
		intent.Kind = capture.IntentOCR
	}
	ev := o.setLocked(StateCaptureReady, bundle.ID, intent, nil)
	listeners := o.snapshotLocked()
	o.mu.Unlock()

	o.notify(listeners, ev)
	o.process(ctx, bundle, intent)
	return true
}

func (o *Orchestrator) process(ctx context.Context, bundle *capture.Bundle, intent capture.Intent) {
	img, err := crop.Crop(bundle.Raster, bundle.Viewport, bundle.Selection)
	if err != nil {
		o.fail(failure.From(err, failure.InvalidRegion))
		return
	}
	if err := o.store.SavePreviewImage(img.PNG); err != nil {
		o.logger.Warn("Failed to save preview image", "error", err)
	}
	o.advance(StateCropped, nil)

	if intent.Kind == capture.IntentAI && intent.Prompt == "" {
		o.mu.Lock()
		o.attachment = img.PNG
		o.mu.Unlock()
		o.finish("", true)
		return
	}

	text, err := o.extract(ctx, intent, img.PNG)
	if err != nil {
		o.fail(failure.From(err, failure.ServiceError))
		return
	}
	o.finish(text, false)
}

// Ask sends a text prompt to the AI provider. An AI capture kept from an
// earlier selection is attached and then cleared.
func (o *Orchestrator) Ask(ctx context.Context, prompt string) (string, error) {
	if prompt == "" {
		return "", ErrEmptyPrompt
	}
	intent := capture.Intent{Kind: capture.IntentAI, Prompt: prompt}
	if err := o.claim(StateExtracting, uuid.NewString(), intent); err != nil {
		return "", err
	}

	o.mu.Lock()
	image := o.attachment
	o.attachment = nil
	o.mu.Unlock()

	text, err := o.query(ctx, prompt, image)
	if err != nil {
		fe := failure.From(err, failure.ServiceError)
		o.fail(fe)
		return "", fe
	}
	o.finish(text, false)
	return text, nil
}

func (o *Orchestrator) extract(ctx context.Context, intent capture.Intent, image []byte) (string, error) {
	if intent.Kind == capture.IntentAI {
		o.advance(StateExtracting, nil)
		return o.query(ctx, intent.Prompt, image)
	}

	cfg, err := o.serviceConfig(provider.PurposeOCR)
	if err != nil {
		return "", err
	}
	o.advance(StateExtracting, nil)

	ctx, cancel := o.withTimeout(ctx)
	defer cancel()
	text, err := o.services.ExtractText(ctx, image, cfg)
	if err != nil {
		return "", timeoutError(ctx, err)
	}
	if err := o.store.SaveExtractedText(text); err != nil {
		o.logger.Warn("Failed to save extracted text", "error", err)
	}
	return text, nil
}

func (o *Orchestrator) query(ctx context.Context, prompt string, image []byte) (string, error) {
	cfg, err := o.serviceConfig(provider.PurposeAI)
	if err != nil {
		return "", err
	}

	ctx, cancel := o.withTimeout(ctx)
	defer cancel()
	text, err := o.services.Query(ctx, prompt, image, cfg)
	if err != nil {
		return "", timeoutError(ctx, err)
	}
	if err := o.store.SaveAIResponse(text); err != nil {
		o.logger.Warn("Failed to save AI response", "error", err)
	}
	return text, nil
}

func (o *Orchestrator) serviceConfig(purpose provider.Purpose) (provider.Config, error) {
	cfg, err := o.store.ServiceConfig(purpose)
	if errors.Is(err, store.ErrNotFound) {
		return cfg, failure.New(failure.ConfigMissing, "no %s service configured", purpose)
	}
	if err != nil {
		return cfg, failure.New(failure.ConfigInvalid, "loading %s service config: %v", purpose, err)
	}
	return cfg, nil
}

func (o *Orchestrator) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, o.timeout)
}

func timeoutError(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return failure.New(failure.ServiceError, "request timed out: %v", err)
	}
	return err
}

func validateIntent(intent capture.Intent) error {
	switch intent.Kind {
	case capture.IntentOCR, capture.IntentAI:
		return nil
	}
	return failure.New(failure.ConfigInvalid, "unknown intent %q", intent.Kind)
}

// claim starts a run unless one is already in progress
func (o *Orchestrator) claim(next State, runID string, intent capture.Intent) error {
	o.mu.Lock()
	if o.state.busy() {
		o.mu.Unlock()
		return ErrBusy
	}
	ev := o.setLocked(next, runID, intent, nil)
	listeners := o.snapshotLocked()
	o.mu.Unlock()

	o.notify(listeners, ev)
	return nil
}

// advance moves the current run forward
func (o *Orchestrator) advance(next State, mutate func(*Event)) {
	o.mu.Lock()
	ev := o.setLocked(next, o.runID, o.intent, nil)
	if mutate != nil {
		mutate(&ev)
	}
	listeners := o.snapshotLocked()
	o.mu.Unlock()

	o.notify(listeners, ev)
}

func (o *Orchestrator) finish(text string, attached bool) {
	o.advance(StateDone, func(ev *Event) {
		ev.Text = text
		ev.Attached = attached
		o.logger.Info("Run finished", "run_id", ev.RunID, "intent", ev.Intent.Kind, "attached", attached)
	})
	o.wake()
}

func (o *Orchestrator) fail(fe *failure.Error) {
	o.mu.Lock()
	ev := o.setLocked(StateFailed, o.runID, o.intent, fe)
	listeners := o.snapshotLocked()
	o.mu.Unlock()

	o.logger.Error("Run failed", "run_id", ev.RunID, "kind", fe.Kind, "error", fe)
	o.notify(listeners, ev)
	o.wake()
}

func (o *Orchestrator) setLocked(next State, runID string, intent capture.Intent, fe *failure.Error) Event {
	ev := Event{
		RunID:  runID,
		Prev:   o.state,
		State:  next,
		Intent: intent,
		Error:  fe,
		At:     time.Now(),
	}
	o.state = next
	o.runID = runID
	o.intent = intent
	o.lastErr = fe
	return ev
}

func (o *Orchestrator) snapshotLocked() []Listener {
	return append([]Listener(nil), o.listeners...)
}

func (o *Orchestrator) notify(listeners []Listener, ev Event) {
	o.logger.Debug("Pipeline transition", "run_id", ev.RunID, "from", ev.Prev, "to", ev.State)
	for _, l := range listeners {
		l(ev)
	}
	if o.bus != nil {
		o.bus.Publish(events.TypePipeline, ev)
	}
}

// wake asks Run to check for a bundle that arrived during the last run
func (o *Orchestrator) wake() {
	select {
	case o.kick <- struct{}{}:
	default:
	}
}
