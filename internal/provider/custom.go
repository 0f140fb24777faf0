package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/zombor/regionlens/internal/failure"
	"github.com/zombor/regionlens/internal/provider/respath"
)

// customProvider is driven entirely by a user-supplied Custom config
type customProvider struct {
	cfg     *Custom
	purpose Purpose
}

func (c *customProvider) BuildRequest(ctx context.Context, in Input) (*http.Request, error) {
	var (
		body        io.Reader
		contentType string
		err         error
	)
	switch {
	case c.purpose == PurposeOCR && c.cfg.ImageEncoding == EncodingMultipart:
		body, contentType, err = buildMultipart([]formField{
			{name: c.cfg.paramName(), filename: "capture.png", data: in.Image},
		})
	case c.purpose == PurposeOCR:
		body, err = c.base64Body(in.Image)
		contentType = "application/json"
	default:
		body, contentType = c.templateBody(in)
	}
	if err != nil {
		return nil, failure.New(failure.ConfigInvalid, "building custom request: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, c.cfg.method(), c.cfg.Endpoint, body)
	if err != nil {
		return nil, failure.New(failure.ConfigInvalid, "creating request: %v", err)
	}
	for k, v := range c.cfg.Headers {
		req.Header.Set(k, v)
	}
	if strings.HasPrefix(contentType, "multipart/") {
		// the boundary lives in the derived content type, so a configured
		// JSON content type would corrupt the body
		req.Header.Del("Content-Type")
		req.Header.Set("Content-Type", contentType)
	} else if req.Header.Get("Content-Type") == "" && contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return req, nil
}

// base64Body embeds the encoded image under the configured parameter name.
// A body template that is a JSON object supplies the remaining fields.
func (c *customProvider) base64Body(image []byte) (io.Reader, error) {
	encoded := base64.StdEncoding.EncodeToString(image)
	doc := map[string]any{}
	if strings.TrimSpace(c.cfg.BodyTemplate) != "" {
		var err error
		if doc, err = templateObject(renderTemplate(c.cfg.BodyTemplate, "", encoded)); err != nil {
			return nil, err
		}
	}
	doc[c.cfg.paramName()] = encoded

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(doc); err != nil {
		return nil, err
	}
	return &buf, nil
}

// templateObject decodes a rendered template that must be a JSON object
func templateObject(rendered string) (map[string]any, error) {
	dec := json.NewDecoder(strings.NewReader(rendered))
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("body template is not a JSON object: %w", err)
	}
	if doc == nil {
		return nil, errors.New("body template is not a JSON object")
	}
	return doc, nil
}

// templateBody renders the AI body template. The image is only injected
// when the provider declares image support.
func (c *customProvider) templateBody(in Input) (io.Reader, string) {
	var encoded string
	if c.cfg.SupportsImages && len(in.Image) > 0 {
		encoded = base64.StdEncoding.EncodeToString(in.Image)
	}
	body, isJSON := normalizeBody(renderTemplate(c.cfg.BodyTemplate, in.Prompt, encoded))
	if isJSON {
		return bytes.NewReader(body), "application/json"
	}
	return bytes.NewReader(body), "text/plain; charset=utf-8"
}

func (c *customProvider) ExtractResponse(body []byte) (string, error) {
	path, err := respath.Parse(c.cfg.ResponsePath)
	if err != nil {
		return "", err
	}
	return path.Lookup(body)
}
