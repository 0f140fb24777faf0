package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/zombor/regionlens/internal/failure"
)

const geminiModel = "gemini-2.5-flash"

// ContentGenerator is the slice of the Gemini SDK the adapter needs
type ContentGenerator interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
	Close() error
}

// GeminiFactory creates a generator for one call
type GeminiFactory func(ctx context.Context, cfg *Fixed) (ContentGenerator, error)

type geminiGenerator struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

func (g *geminiGenerator) GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error) {
	return g.model.GenerateContent(ctx, parts...)
}

func (g *geminiGenerator) Close() error { return g.client.Close() }

func newGeminiGenerator(ctx context.Context, cfg *Fixed) (ContentGenerator, error) {
	opts := []option.ClientOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	return &geminiGenerator{
		client: client,
		model:  client.GenerativeModel(cfg.Param("model", geminiModel)),
	}, nil
}

// geminiEngine is the fixed Google Gemini integration
type geminiEngine struct {
	cfg          *Fixed
	newGenerator GeminiFactory
}

func (g *geminiEngine) Run(ctx context.Context, in Input) (string, error) {
	gen, err := g.newGenerator(ctx, g.cfg)
	if err != nil {
		return "", failure.New(failure.ServiceError, "%v", err)
	}
	defer gen.Close()

	// genai.ImageData wants the format suffix, not the MIME type
	var parts []genai.Part
	if len(in.Image) > 0 {
		parts = append(parts, genai.ImageData("png", in.Image))
	}
	parts = append(parts, genai.Text(in.Prompt))

	resp, err := gen.GenerateContent(ctx, parts...)
	if err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) {
			return "", failure.Service(apiErr.Code, apiErr.Message)
		}
		return "", failure.New(failure.ServiceError, "generating content: %v", err)
	}

	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", failure.New(failure.PathNotFound, "no candidates in gemini response")
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			text.WriteString(string(t))
		}
	}
	return text.String(), nil
}
