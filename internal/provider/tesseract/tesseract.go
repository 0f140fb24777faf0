//go:build tesseract

// Package tesseract runs OCR on the host with libtesseract.
// Build with -tags tesseract; the library and its headers must be installed.
package tesseract

import (
	"context"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"github.com/zombor/regionlens/internal/failure"
	"github.com/zombor/regionlens/internal/provider"
)

// Available reports whether the binary was built with tesseract support
const Available = true

// Engine recognizes text locally with a fresh gosseract client per call
type Engine struct {
	languages []string
}

// New creates an Engine from a fixed provider config. The "language" extra
// parameter takes OCR.space style codes ("eng") or a "+" separated list.
func New(cfg *provider.Fixed) provider.Engine {
	return &Engine{languages: strings.Split(cfg.Param("language", "eng"), "+")}
}

// Run recognizes the text in the PNG image
func (e *Engine) Run(ctx context.Context, in provider.Input) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetLanguage(e.languages...); err != nil {
		return "", failure.New(failure.ConfigInvalid, "tesseract language: %v", err)
	}
	if err := client.SetImageFromBytes(in.Image); err != nil {
		return "", failure.New(failure.ServiceError, "tesseract image: %v", err)
	}
	text, err := client.Text()
	if err != nil {
		return "", failure.New(failure.ServiceError, "tesseract: %v", err)
	}
	return text, nil
}
