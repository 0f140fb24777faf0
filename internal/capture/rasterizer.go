package capture

import (
	"context"
	"errors"
	"fmt"

	"github.com/vova616/screenshot"

	"github.com/zombor/regionlens/internal/raster"
)

// Rasterizer is the host primitive that captures the full visible viewport
type Rasterizer interface {
	Capture(ctx context.Context) ([]byte, error)
}

// ScreenRasterizer grabs the primary screen
type ScreenRasterizer struct{}

func (ScreenRasterizer) Capture(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	img, err := screenshot.CaptureScreen()
	if err != nil {
		return nil, fmt.Errorf("capturing screen: %w", err)
	}
	return raster.EncodePNG(img)
}

// StaticRasterizer returns bytes the host already captured, such as a tab
// capture uploaded with the request
type StaticRasterizer []byte

func (s StaticRasterizer) Capture(ctx context.Context) ([]byte, error) {
	if len(s) == 0 {
		return nil, errors.New("no raster uploaded")
	}
	return append([]byte(nil), s...), nil
}
