package provider

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/zombor/regionlens/internal/failure"
)

// NoTextDetected replaces empty or whitespace-only results
const NoTextDetected = "No text detected."

// Input is what a single provider call receives
type Input struct {
	Prompt string
	Image  []byte // PNG, optional for AI queries
}

// Engine performs one round trip against a provider family
type Engine interface {
	Run(ctx context.Context, in Input) (string, error)
}

// EngineFunc adapts a function to the Engine interface
type EngineFunc func(ctx context.Context, in Input) (string, error)

// Run calls f
func (f EngineFunc) Run(ctx context.Context, in Input) (string, error) { return f(ctx, in) }

// LocalOCRFactory builds an on-host OCR engine for a fixed config
type LocalOCRFactory func(cfg *Fixed) Engine

// Adapter drives every configured provider through one code path
type Adapter struct {
	client    *http.Client
	localOCR  LocalOCRFactory
	newGemini GeminiFactory
}

// Option configures an Adapter
type Option func(*Adapter)

// WithHTTPClient sets the client used for every HTTP provider
func WithHTTPClient(c *http.Client) Option {
	return func(a *Adapter) { a.client = c }
}

// WithLocalOCR enables the tesseract family
func WithLocalOCR(f LocalOCRFactory) Option {
	return func(a *Adapter) { a.localOCR = f }
}

// WithGeminiFactory replaces how Gemini clients are created
func WithGeminiFactory(f GeminiFactory) Option {
	return func(a *Adapter) { a.newGemini = f }
}

// NewAdapter creates an Adapter. The default HTTP client has no timeout;
// callers bound calls through the context.
func NewAdapter(opts ...Option) *Adapter {
	a := &Adapter{
		client:    &http.Client{},
		newGemini: newGeminiGenerator,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ExtractText sends an image to an OCR provider and returns the recognized text
func (a *Adapter) ExtractText(ctx context.Context, image []byte, cfg Config) (string, error) {
	if len(image) == 0 {
		return "", failure.New(failure.InvalidRegion, "no image to extract text from")
	}
	return a.run(ctx, PurposeOCR, Input{Image: image}, cfg)
}

// Query sends a prompt, and optionally an image, to an AI provider
func (a *Adapter) Query(ctx context.Context, prompt string, image []byte, cfg Config) (string, error) {
	return a.run(ctx, PurposeAI, Input{Prompt: prompt, Image: image}, cfg)
}

func (a *Adapter) run(ctx context.Context, purpose Purpose, in Input, cfg Config) (string, error) {
	if err := cfg.Validate(purpose); err != nil {
		return "", err
	}
	engine, name, err := a.engineFor(cfg, purpose)
	if err != nil {
		return "", err
	}

	start := time.Now()
	text, err := engine.Run(ctx, in)
	if err != nil {
		slog.Warn("Provider call failed",
			"purpose", purpose,
			"provider", name,
			"duration", time.Since(start),
			"error", err,
		)
		return "", err
	}
	slog.Debug("Provider call finished", "purpose", purpose, "provider", name, "duration", time.Since(start))

	if strings.TrimSpace(text) == "" {
		return NoTextDetected, nil
	}
	return text, nil
}

func (a *Adapter) engineFor(cfg Config, purpose Purpose) (Engine, string, error) {
	if cfg.Custom != nil {
		return &httpEngine{client: a.client, provider: &customProvider{cfg: cfg.Custom, purpose: purpose}}, "custom", nil
	}
	f := cfg.Fixed
	switch f.Name {
	case NameOCRSpace:
		return &httpEngine{client: a.client, provider: &ocrSpace{cfg: f}}, f.Name, nil
	case NameOpenAI:
		return &httpEngine{client: a.client, provider: &openAIChat{cfg: f}}, f.Name, nil
	case NameOllama:
		return &httpEngine{client: a.client, provider: &ollamaChat{cfg: f}}, f.Name, nil
	case NameGemini:
		return &geminiEngine{cfg: f, newGenerator: a.newGemini}, f.Name, nil
	case NameTesseract:
		if a.localOCR == nil {
			return nil, f.Name, failure.New(failure.ConfigInvalid, "tesseract support is not enabled")
		}
		return a.localOCR(f), f.Name, nil
	}
	return nil, f.Name, failure.New(failure.ConfigInvalid, "unknown fixed provider %q", f.Name)
}
