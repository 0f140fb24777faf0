//go:build !tesseract

package tesseract

import (
	"context"

	"github.com/zombor/regionlens/internal/failure"
	"github.com/zombor/regionlens/internal/provider"
)

// Available reports whether the binary was built with tesseract support
const Available = false

// New returns an engine that explains how to enable local OCR
func New(cfg *provider.Fixed) provider.Engine {
	return provider.EngineFunc(func(context.Context, provider.Input) (string, error) {
		return "", failure.New(failure.ConfigInvalid, "this binary was built without tesseract support (rebuild with -tags tesseract)")
	})
}
