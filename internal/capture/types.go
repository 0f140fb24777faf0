package capture

import (
	"math"
	"time"
)

// Rect is a selection rectangle in viewport CSS pixels
type Rect struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Viewport is the page geometry snapshot taken when a selection completes
type Viewport struct {
	DevicePixelRatio float64 `json:"devicePixelRatio"`
	ScrollX          float64 `json:"scrollX"`
	ScrollY          float64 `json:"scrollY"`
	Width            float64 `json:"viewportWidth"`
	Height           float64 `json:"viewportHeight"`
}

// Valid reports whether the viewport has usable dimensions
func (v Viewport) Valid() bool {
	return v.Width > 0 && v.Height > 0
}

// Normalize returns the viewport with a device pixel ratio of at least 1
func (v Viewport) Normalize() Viewport {
	if v.DevicePixelRatio < 1 {
		v.DevicePixelRatio = 1
	}
	return v
}

// Clamp restricts the rectangle to the visible viewport
func (r Rect) Clamp(v Viewport) Rect {
	left := math.Max(0, r.Left)
	top := math.Max(0, r.Top)
	right := math.Min(v.Width, r.Left+r.Width)
	bottom := math.Min(v.Height, r.Top+r.Height)
	return Rect{
		Left:   left,
		Top:    top,
		Width:  math.Max(0, right-left),
		Height: math.Max(0, bottom-top),
	}
}

// IntentKind tells the consumer what to do with the cropped image
type IntentKind string

const (
	IntentOCR IntentKind = "ocr"
	IntentAI  IntentKind = "ai"
)

// Intent travels with a bundle so a restarted consumer can finish the run
type Intent struct {
	Kind   IntentKind `json:"kind"`
	Prompt string     `json:"prompt,omitempty"`
}

// Request is the capture request a completed selection emits
type Request struct {
	Selection Rect     `json:"selection"`
	Viewport  Viewport `json:"viewport"`
	Intent    Intent   `json:"intent"`
}

// Bundle is a full-viewport raster plus the metadata needed to crop it
type Bundle struct {
	ID         string    `json:"id"`
	Raster     []byte    `json:"raster"` // PNG
	Selection  Rect      `json:"selection"`
	Viewport   Viewport  `json:"viewport"`
	Intent     Intent    `json:"intent"`
	CapturedAt time.Time `json:"captured_at"`
}
