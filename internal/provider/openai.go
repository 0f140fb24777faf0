package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"regexp"
	"strconv"

	"github.com/zombor/regionlens/internal/failure"
	"github.com/zombor/regionlens/internal/provider/respath"
)

const (
	openAIEndpoint  = "https://api.openai.com/v1/chat/completions"
	openAIModel     = "gpt-4o-mini"
	openAIMaxTokens = 1000
)

// unsupportedImageNote is appended when the model cannot take images
const unsupportedImageNote = "\n\n[An image was attached, but the selected model does not support image input.]"

// visionModels matches model names known to accept image input
var visionModels = regexp.MustCompile(`(?i)(gpt-4o|gpt-4\.1|gpt-4-turbo|gpt-4-vision|gpt-5|vision|claude-3|claude-(sonnet|opus|haiku)-4|gemini|llava|pixtral|qwen[0-9.]*-?vl)`)

var openAIContentPath = respath.MustParse("choices[0].message.content")

// SupportsImages reports whether a chat model is known to accept image input
func SupportsImages(model string) bool {
	return visionModels.MatchString(model)
}

// openAIChat is the fixed chat-completions integration
type openAIChat struct {
	cfg *Fixed
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"` // string or []contentPart
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

func (o *openAIChat) BuildRequest(ctx context.Context, in Input) (*http.Request, error) {
	model := o.cfg.Param("model", openAIModel)
	maxTokens := openAIMaxTokens
	if v := o.cfg.Param("max_tokens", ""); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, failure.New(failure.ConfigInvalid, "max_tokens %q is not a positive integer", v)
		}
		maxTokens = n
	}

	var messages []chatMessage
	if system := o.cfg.Param("system_prompt", ""); system != "" {
		messages = append(messages, chatMessage{Role: "system", Content: system})
	}
	messages = append(messages, chatMessage{Role: "user", Content: userContent(model, in)})

	payload, err := json.Marshal(chatRequest{Model: model, Messages: messages, MaxTokens: maxTokens})
	if err != nil {
		return nil, failure.New(failure.ConfigInvalid, "marshaling request: %v", err)
	}

	endpoint := o.cfg.Endpoint
	if endpoint == "" {
		endpoint = openAIEndpoint
	}
	req, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, failure.New(failure.ConfigInvalid, "creating request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.cfg.APIKey)
	return req, nil
}

func userContent(model string, in Input) any {
	if len(in.Image) == 0 {
		return in.Prompt
	}
	if !SupportsImages(model) {
		return in.Prompt + unsupportedImageNote
	}
	return []contentPart{
		{Type: "text", Text: in.Prompt},
		{Type: "image_url", ImageURL: &imageURL{URL: "data:image/png;base64," + base64.StdEncoding.EncodeToString(in.Image)}},
	}
}

func (o *openAIChat) ExtractResponse(body []byte) (string, error) {
	return openAIContentPath.Lookup(body)
}
