package capture

import (
	"context"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/zombor/regionlens/internal/events"
	"github.com/zombor/regionlens/internal/failure"
	"github.com/zombor/regionlens/internal/raster"
)

// DefaultRate matches the browser quota for visible-tab captures
const DefaultRate = rate.Limit(2)

// Slot is the durable single-bundle handoff. Only the coordinator writes it.
type Slot interface {
	PutPendingCapture(bundle *Bundle) error
}

// Publisher sends fire-and-forget notifications
type Publisher interface {
	Publish(typ string, data any) int
}

// IDGenerator generates bundle handles
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type uuidGenerator struct{}

func (uuidGenerator) Generate() string { return uuid.NewString() }

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Handle identifies a stored bundle
type Handle struct {
	ID string `json:"id"`
}

// Coordinator captures the viewport and hands the bundle to the consumer
type Coordinator struct {
	host    Rasterizer
	slot    Slot
	bus     Publisher
	limiter *rate.Limiter
	ids     IDGenerator
	clock   TimeSource
	logger  *slog.Logger
}

// Option configures a Coordinator
type Option func(*Coordinator)

// WithRateLimit bounds how often the host primitive may be called
func WithRateLimit(limit rate.Limit, burst int) Option {
	return func(c *Coordinator) { c.limiter = rate.NewLimiter(limit, burst) }
}

// WithIDGenerator replaces the uuid handle generator
func WithIDGenerator(ids IDGenerator) Option {
	return func(c *Coordinator) { c.ids = ids }
}

// WithTimeSource replaces the system clock
func WithTimeSource(clock TimeSource) Option {
	return func(c *Coordinator) { c.clock = clock }
}

// NewCoordinator creates a Coordinator. host may be nil when every request
// arrives with an uploaded raster.
func NewCoordinator(logger *slog.Logger, host Rasterizer, slot Slot, bus Publisher, opts ...Option) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Coordinator{
		host:    host,
		slot:    slot,
		bus:     bus,
		limiter: rate.NewLimiter(DefaultRate, int(DefaultRate)),
		ids:     uuidGenerator{},
		clock:   systemClock{},
		logger:  logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RequestCapture rasterizes the viewport with the host primitive and stores
// the bundle in the pending slot
func (c *Coordinator) RequestCapture(ctx context.Context, req Request) (Handle, error) {
	return c.capture(ctx, c.host, req)
}

// Submit stores a bundle for a raster the host captured itself
func (c *Coordinator) Submit(ctx context.Context, req Request, data []byte) (Handle, error) {
	return c.capture(ctx, StaticRasterizer(data), req)
}

func (c *Coordinator) capture(ctx context.Context, src Rasterizer, req Request) (Handle, error) {
	vp := req.Viewport.Normalize()
	if !vp.Valid() {
		return Handle{}, failure.New(failure.InvalidRegion, "viewport %vx%v is not usable", vp.Width, vp.Height)
	}
	if req.Selection.Width <= 0 || req.Selection.Height <= 0 {
		return Handle{}, failure.New(failure.InvalidRegion, "selection %vx%v is empty", req.Selection.Width, req.Selection.Height)
	}
	if src == nil {
		return Handle{}, failure.New(failure.CaptureFailed, "no capture source configured")
	}
	if !c.limiter.Allow() {
		return Handle{}, failure.New(failure.CaptureFailed, "capture rate exceeded")
	}

	data, err := src.Capture(ctx)
	if err != nil {
		c.logger.Error("Viewport capture failed", "error", err)
		return Handle{}, failure.New(failure.CaptureFailed, "capturing viewport: %v", err)
	}
	png, size, err := raster.Normalize(data, "")
	if err != nil {
		return Handle{}, failure.New(failure.CaptureFailed, "decoding capture: %v", err)
	}

	bundle := &Bundle{
		ID:         c.ids.Generate(),
		Raster:     png,
		Selection:  req.Selection,
		Viewport:   vp,
		Intent:     req.Intent,
		CapturedAt: c.clock.Now(),
	}
	if err := c.slot.PutPendingCapture(bundle); err != nil {
		return Handle{}, failure.New(failure.CaptureFailed, "storing capture: %v", err)
	}

	c.logger.Info("Capture stored",
		"id", bundle.ID,
		"raster_width", size.X,
		"raster_height", size.Y,
		"raster_size", humanize.Bytes(uint64(len(png))),
		"intent", req.Intent.Kind,
	)
	if c.bus != nil && c.bus.Publish(events.TypeBundleReady, Handle{ID: bundle.ID}) == 0 {
		c.logger.Debug("No consumer listening for bundle", "id", bundle.ID)
	}
	return Handle{ID: bundle.ID}, nil
}
