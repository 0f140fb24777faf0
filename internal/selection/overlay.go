package selection

import (
	"errors"

	"github.com/zombor/regionlens/internal/capture"
	"github.com/zombor/regionlens/internal/events"
)

// ErrNoPage is returned when no page is attached to render the overlay
var ErrNoPage = errors.New("no page attached")

// Overlay actions sent to the page
const (
	ActionShow   = "show"
	ActionBox    = "box"
	ActionRemove = "remove"
)

// Publisher is the slice of the event bus the overlay needs
type Publisher interface {
	Publish(typ string, data any) int
}

// OverlayCommand tells the in-page script what to render
type OverlayCommand struct {
	Action string        `json:"action"`
	Box    *capture.Rect `json:"box,omitempty"`
}

// BusOverlay renders the overlay by publishing commands to the page
type BusOverlay struct {
	bus Publisher
}

// NewBusOverlay creates an overlay that publishes on bus
func NewBusOverlay(bus Publisher) *BusOverlay {
	return &BusOverlay{bus: bus}
}

// Show fails when no page receives the command
func (o *BusOverlay) Show() error {
	if o.bus.Publish(events.TypeOverlay, OverlayCommand{Action: ActionShow}) == 0 {
		return ErrNoPage
	}
	return nil
}

func (o *BusOverlay) UpdateBox(box capture.Rect) error {
	o.bus.Publish(events.TypeOverlay, OverlayCommand{Action: ActionBox, Box: &box})
	return nil
}

func (o *BusOverlay) Remove() error {
	o.bus.Publish(events.TypeOverlay, OverlayCommand{Action: ActionRemove})
	return nil
}
