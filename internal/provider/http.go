package provider

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/zombor/regionlens/internal/failure"
)

// maxErrorBody bounds how much of a failed response ends up in an error
const maxErrorBody = 512

// requestBuilder is implemented once per HTTP provider family
type requestBuilder interface {
	BuildRequest(ctx context.Context, in Input) (*http.Request, error)
	ExtractResponse(body []byte) (string, error)
}

// httpEngine performs exactly one round trip for a requestBuilder
type httpEngine struct {
	client   *http.Client
	provider requestBuilder
}

func (e *httpEngine) Run(ctx context.Context, in Input) (string, error) {
	req, err := e.provider.BuildRequest(ctx, in)
	if err != nil {
		return "", err
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return "", failure.New(failure.ServiceError, "calling %s: %v", req.URL.Host, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", failure.Service(resp.StatusCode, fmt.Sprintf("reading response: %v", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", failure.Service(resp.StatusCode, truncate(strings.TrimSpace(string(body)), maxErrorBody))
	}

	return e.provider.ExtractResponse(body)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// formField is one part of a multipart body
type formField struct {
	name     string
	value    string
	filename string
	data     []byte
}

// buildMultipart encodes fields and returns the body and its content type,
// which carries the boundary token
func buildMultipart(fields []formField) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, f := range fields {
		if f.filename != "" {
			part, err := w.CreateFormFile(f.name, f.filename)
			if err != nil {
				return nil, "", fmt.Errorf("creating form file %s: %w", f.name, err)
			}
			if _, err := part.Write(f.data); err != nil {
				return nil, "", fmt.Errorf("writing form file %s: %w", f.name, err)
			}
			continue
		}
		if err := w.WriteField(f.name, f.value); err != nil {
			return nil, "", fmt.Errorf("writing form field %s: %w", f.name, err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("closing multipart writer: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}
