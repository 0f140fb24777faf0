package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/zombor/regionlens/internal/failure"
	"github.com/zombor/regionlens/internal/provider/respath"
)

const (
	ollamaBaseURL = "http://localhost:11434"
	ollamaModel   = "llava"
)

var ollamaContentPath = respath.MustParse("message.content")

// ollamaChat is the fixed integration for a local Ollama server.
// Recommended vision models: llava:1.6, qwen2-vl:7b, llava-phi3.
type ollamaChat struct {
	cfg *Fixed
}

// ollamaChatRequest is the body of Ollama's /api/chat
type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
}

type ollamaMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

func (o *ollamaChat) BuildRequest(ctx context.Context, in Input) (*http.Request, error) {
	model := o.cfg.Param("model", ollamaModel)

	var messages []ollamaMessage
	if system := o.cfg.Param("system_prompt", ""); system != "" {
		messages = append(messages, ollamaMessage{Role: "system", Content: system})
	}
	user := ollamaMessage{Role: "user", Content: in.Prompt}
	if len(in.Image) > 0 {
		user.Images = []string{base64.StdEncoding.EncodeToString(in.Image)}
	}
	messages = append(messages, user)

	payload, err := json.Marshal(ollamaChatRequest{Model: model, Messages: messages, Stream: false})
	if err != nil {
		return nil, failure.New(failure.ConfigInvalid, "marshaling request: %v", err)
	}

	baseURL := o.cfg.Endpoint
	if baseURL == "" {
		baseURL = ollamaBaseURL
	}
	url := strings.TrimSuffix(baseURL, "/") + "/api/chat"
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(payload))
	if err != nil {
		return nil, failure.New(failure.ConfigInvalid, "creating request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if o.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+o.cfg.APIKey)
	}
	return req, nil
}

func (o *ollamaChat) ExtractResponse(body []byte) (string, error) {
	return ollamaContentPath.Lookup(body)
}
