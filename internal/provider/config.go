package provider

import (
	"strings"

	"github.com/zombor/regionlens/internal/failure"
	"github.com/zombor/regionlens/internal/provider/respath"
)

// Purpose distinguishes text extraction from AI queries
type Purpose string

const (
	PurposeOCR Purpose = "ocr"
	PurposeAI  Purpose = "ai"
)

// Fixed provider family names
const (
	NameOCRSpace  = "ocrspace"
	NameTesseract = "tesseract"
	NameOpenAI    = "openai"
	NameGemini    = "gemini"
	NameOllama    = "ollama"
)

// ImageEncoding selects how a custom provider receives the image
type ImageEncoding string

const (
	EncodingBase64    ImageEncoding = "base64"
	EncodingMultipart ImageEncoding = "multipart"
)

// Template placeholders substituted into custom body templates
const (
	TextPlaceholder  = "{{text}}"
	ImagePlaceholder = "{{image}}"
)

// Config is a tagged union: exactly one of Fixed or Custom is set
type Config struct {
	Fixed  *Fixed  `json:"fixed,omitempty"`
	Custom *Custom `json:"custom,omitempty"`
}

// Fixed describes a service with a request/response shape built into the adapter
type Fixed struct {
	Name        string            `json:"name"`
	Endpoint    string            `json:"endpoint,omitempty"`
	APIKey      string            `json:"api_key,omitempty"`
	ExtraParams map[string]string `json:"extra_params,omitempty"`
}

// Custom describes a service entirely through user configuration
type Custom struct {
	Endpoint         string            `json:"endpoint"`
	Method           string            `json:"method,omitempty"`
	Headers          map[string]string `json:"headers,omitempty"`
	ImageEncoding    ImageEncoding     `json:"image_encoding,omitempty"`
	RequestParamName string            `json:"request_param_name,omitempty"`
	BodyTemplate     string            `json:"body_template,omitempty"`
	ResponsePath     string            `json:"response_path"`
	SupportsImages   bool              `json:"supports_images,omitempty"`
}

// Param returns an extra parameter or def when unset
func (f *Fixed) Param(name, def string) string {
	if v := strings.TrimSpace(f.ExtraParams[name]); v != "" {
		return v
	}
	return def
}

// Validate checks the configuration is usable for the given purpose
func (c Config) Validate(purpose Purpose) error {
	switch {
	case c.Fixed == nil && c.Custom == nil:
		return failure.New(failure.ConfigMissing, "no %s service configured", purpose)
	case c.Fixed != nil && c.Custom != nil:
		return failure.New(failure.ConfigInvalid, "%s service config sets both fixed and custom", purpose)
	case c.Fixed != nil:
		return c.Fixed.validate(purpose)
	default:
		return c.Custom.validate(purpose)
	}
}

func (f *Fixed) validate(purpose Purpose) error {
	switch f.Name {
	case NameOCRSpace, NameTesseract:
		if purpose != PurposeOCR {
			return failure.New(failure.ConfigInvalid, "%s is a text extraction service", f.Name)
		}
	case NameOpenAI, NameGemini, NameOllama:
		if purpose != PurposeAI {
			return failure.New(failure.ConfigInvalid, "%s is an AI service", f.Name)
		}
	case "":
		return failure.New(failure.ConfigMissing, "fixed provider name is required")
	default:
		return failure.New(failure.ConfigInvalid, "unknown fixed provider %q", f.Name)
	}
	if !f.keyless() && strings.TrimSpace(f.APIKey) == "" {
		return failure.New(failure.ConfigMissing, "%s api key is required", f.Name)
	}
	return nil
}

// keyless reports whether the service runs on the host without credentials
func (f *Fixed) keyless() bool {
	return f.Name == NameTesseract || f.Name == NameOllama
}

func (c *Custom) validate(purpose Purpose) error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return failure.New(failure.ConfigMissing, "custom provider endpoint is required")
	}
	if strings.TrimSpace(c.ResponsePath) == "" {
		return failure.New(failure.ConfigMissing, "custom provider response path is required")
	}
	if _, err := respath.Parse(c.ResponsePath); err != nil {
		return err
	}
	switch c.ImageEncoding {
	case "", EncodingBase64, EncodingMultipart:
	default:
		return failure.New(failure.ConfigInvalid, "unknown image encoding %q", c.ImageEncoding)
	}
	if purpose == PurposeAI && !strings.Contains(c.BodyTemplate, TextPlaceholder) {
		return failure.New(failure.ConfigInvalid, "custom AI body template must contain %s", TextPlaceholder)
	}
	if purpose == PurposeOCR && c.ImageEncoding != EncodingMultipart && strings.TrimSpace(c.BodyTemplate) != "" {
		if _, err := templateObject(renderTemplate(c.BodyTemplate, "", "")); err != nil {
			return failure.New(failure.ConfigInvalid, "custom OCR %v", err)
		}
	}
	return nil
}

func (c *Custom) method() string {
	if m := strings.TrimSpace(c.Method); m != "" {
		return strings.ToUpper(m)
	}
	return "POST"
}

func (c *Custom) paramName() string {
	if n := strings.TrimSpace(c.RequestParamName); n != "" {
		return n
	}
	return "image"
}
