package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/zombor/regionlens/internal/failure"
)

const ocrSpaceEndpoint = "https://api.ocr.space/parse/image"

// ocrSpace is the fixed OCR.space integration
type ocrSpace struct {
	cfg *Fixed
}

type ocrSpaceResponse struct {
	IsErroredOnProcessing bool            `json:"IsErroredOnProcessing"`
	ErrorMessage          json.RawMessage `json:"ErrorMessage"`
	ParsedResults         []struct {
		ParsedText string `json:"ParsedText"`
	} `json:"ParsedResults"`
}

func (o *ocrSpace) BuildRequest(ctx context.Context, in Input) (*http.Request, error) {
	body, contentType, err := buildMultipart([]formField{
		{name: "language", value: o.cfg.Param("language", "eng")},
		{name: "isOverlayRequired", value: "false"},
		{name: "file", filename: "capture.png", data: in.Image},
		{name: "scale", value: "true"},
		{name: "OCREngine", value: o.cfg.Param("engine", "2")},
	})
	if err != nil {
		return nil, err
	}

	endpoint := o.cfg.Endpoint
	if endpoint == "" {
		endpoint = ocrSpaceEndpoint
	}
	req, err := http.NewRequestWithContext(ctx, "POST", endpoint, body)
	if err != nil {
		return nil, failure.New(failure.ConfigInvalid, "creating request: %v", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("apikey", o.cfg.APIKey)
	return req, nil
}

func (o *ocrSpace) ExtractResponse(body []byte) (string, error) {
	var resp ocrSpaceResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", failure.New(failure.ServiceError, "decoding OCR.space response: %v", err)
	}
	if resp.IsErroredOnProcessing {
		return "", &failure.Error{Kind: failure.ServiceError, Detail: ocrSpaceMessage(resp.ErrorMessage)}
	}

	texts := make([]string, 0, len(resp.ParsedResults))
	for _, r := range resp.ParsedResults {
		texts = append(texts, r.ParsedText)
	}
	return strings.Join(texts, "\n"), nil
}

// ocrSpaceMessage flattens ErrorMessage, which the API sends either as a
// string or as an array of strings
func ocrSpaceMessage(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return "OCR processing failed"
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil && single != "" {
		return single
	}
	var many []string
	if err := json.Unmarshal(raw, &many); err == nil && len(many) > 0 {
		return strings.Join(many, "; ")
	}
	return fmt.Sprintf("OCR processing failed: %s", string(raw))
}
