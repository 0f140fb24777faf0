package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/zombor/regionlens/internal/capture"
	"github.com/zombor/regionlens/internal/failure"
	"github.com/zombor/regionlens/internal/pipeline"
	"github.com/zombor/regionlens/internal/provider"
	"github.com/zombor/regionlens/internal/store"
)

// maxBodySize bounds request bodies; uploaded rasters of a 4K viewport fit
const maxBodySize = int64(32 << 20)

// redactedKey replaces stored API keys in responses. Sending it back on a
// PUT keeps the stored key.
const redactedKey = "********"

// Pointer event types the page forwards
const (
	pointerPress   = "press"
	pointerMove    = "move"
	pointerRelease = "release"
	keyEscape      = "escape"
)

type beginSelectionRequest struct {
	Intent capture.IntentKind `json:"intent"`
	Prompt string             `json:"prompt,omitempty"`
}

type selectionEventRequest struct {
	Type     string           `json:"type"`
	X        float64          `json:"x"`
	Y        float64          `json:"y"`
	Viewport capture.Viewport `json:"viewport"`
}

type captureRequest struct {
	Selection capture.Rect     `json:"selection"`
	Viewport  capture.Viewport `json:"viewport"`
	Intent    capture.Intent   `json:"intent"`
	// Raster is a base64 viewport capture taken by the page host
	Raster []byte `json:"raster,omitempty"`
}

type askRequest struct {
	Prompt string `json:"prompt"`
}

type stateResponse struct {
	Pipeline      pipeline.Status `json:"pipeline"`
	Selection     string          `json:"selection"`
	ExtractedText string          `json:"last_extracted_text,omitempty"`
	AIResponse    string          `json:"last_ai_response,omitempty"`
	HasPreview    bool            `json:"has_preview"`
}

// writeJSON encodes v with the given status
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// writeError maps err onto a status code and a structured error body
func writeError(w http.ResponseWriter, err error) {
	var (
		code int
		fe   *failure.Error
	)
	switch {
	case errors.Is(err, pipeline.ErrBusy):
		code, fe = http.StatusConflict, &failure.Error{Kind: "busy", Detail: err.Error()}
	case errors.Is(err, pipeline.ErrEmptyPrompt):
		code, fe = http.StatusBadRequest, &failure.Error{Kind: "bad_request", Detail: err.Error()}
	default:
		fe = failure.From(err, failure.ServiceError)
		code = statusFor(fe.Kind)
	}
	if code >= 500 {
		slog.Error("Request failed", "kind", fe.Kind, "error", fe)
	}
	writeJSON(w, code, map[string]*failure.Error{"error": fe})
}

func statusFor(kind failure.Kind) int {
	switch kind {
	case failure.InvalidRegion:
		return http.StatusUnprocessableEntity
	case failure.ConfigMissing:
		return http.StatusPreconditionFailed
	case failure.ConfigInvalid:
		return http.StatusBadRequest
	case failure.ServiceError, failure.PathNotFound:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func badRequest(w http.ResponseWriter, detail string) {
	writeJSON(w, http.StatusBadRequest, map[string]*failure.Error{"error": {Kind: "bad_request", Detail: detail}})
}

// decodeBody decodes a bounded JSON body into v
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		slog.Warn("Error decoding request body", "path", r.URL.Path, "error", err)
		badRequest(w, "invalid JSON body")
		return false
	}
	return true
}

// handleBeginSelection arms the selector for a new run
func (s *Server) handleBeginSelection(w http.ResponseWriter, r *http.Request) {
	var req beginSelectionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.deps.Pipeline.BeginSelection(capture.Intent{Kind: req.Intent, Prompt: req.Prompt}); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"selection": s.deps.Selector.State().String()})
}

// handleSelectionEvent forwards a pointer or keyboard event to the selector
func (s *Server) handleSelectionEvent(w http.ResponseWriter, r *http.Request) {
	var req selectionEventRequest
	if !decodeBody(w, r, &req) {
		return
	}

	sel := s.deps.Selector
	switch req.Type {
	case pointerPress:
		sel.Press(req.X, req.Y)
	case pointerMove:
		sel.Move(req.X, req.Y)
	case pointerRelease:
		sel.Release(req.X, req.Y, req.Viewport)
	case keyEscape:
		sel.Escape()
	default:
		badRequest(w, "unknown event type "+req.Type)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"selection": sel.State().String()})
}

// handleCapture stores a bundle directly, either from an uploaded raster or
// from the host capture source
func (s *Server) handleCapture(w http.ResponseWriter, r *http.Request) {
	var req captureRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Intent.Kind == "" {
		req.Intent.Kind = capture.IntentOCR
	}

	creq := capture.Request{Selection: req.Selection, Viewport: req.Viewport, Intent: req.Intent}
	var (
		handle capture.Handle
		err    error
	)
	if len(req.Raster) > 0 {
		handle, err = s.deps.Capturer.Submit(r.Context(), creq, req.Raster)
	} else {
		handle, err = s.deps.Capturer.RequestCapture(r.Context(), creq)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, handle)
}

// handleAsk runs a text query, attaching a kept AI capture if there is one
func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if !decodeBody(w, r, &req) {
		return
	}
	text, err := s.deps.Pipeline.Ask(r.Context(), req.Prompt)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"text": text})
}

func (s *Server) handleClearAttachment(w http.ResponseWriter, r *http.Request) {
	s.deps.Pipeline.ClearAttachment()
	w.WriteHeader(http.StatusNoContent)
}

// handleState returns the pipeline state and the last results
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	resp := stateResponse{
		Pipeline:  s.deps.Pipeline.Status(),
		Selection: s.deps.Selector.State().String(),
	}
	var err error
	if resp.ExtractedText, err = s.deps.Store.LastExtractedText(); err != nil && !errors.Is(err, store.ErrNotFound) {
		slog.Error("Error reading last extracted text", "error", err)
	}
	if resp.AIResponse, err = s.deps.Store.LastAIResponse(); err != nil && !errors.Is(err, store.ErrNotFound) {
		slog.Error("Error reading last AI response", "error", err)
	}
	if preview, err := s.deps.Store.LastPreviewImage(); err == nil && len(preview) > 0 {
		resp.HasPreview = true
	}
	writeJSON(w, http.StatusOK, resp)
}

// handlePreview returns the last cropped image
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	data, err := s.deps.Store.LastPreviewImage()
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "No preview available", http.StatusNotFound)
			return
		}
		slog.Error("Error reading preview", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Write(data)
}

func purposeFrom(r *http.Request) (provider.Purpose, bool) {
	switch p := provider.Purpose(r.PathValue("purpose")); p {
	case provider.PurposeOCR, provider.PurposeAI:
		return p, true
	}
	return "", false
}

// handleGetConfig returns a service config with its API key redacted
func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	purpose, ok := purposeFrom(r)
	if !ok {
		http.Error(w, "Unknown service", http.StatusNotFound)
		return
	}
	cfg, err := s.deps.Store.ServiceConfig(purpose)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, failure.New(failure.ConfigMissing, "no %s service configured", purpose))
			return
		}
		slog.Error("Error reading service config", "purpose", purpose, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, redact(cfg))
}

// handlePutConfig validates and stores a service config
func (s *Server) handlePutConfig(w http.ResponseWriter, r *http.Request) {
	purpose, ok := purposeFrom(r)
	if !ok {
		http.Error(w, "Unknown service", http.StatusNotFound)
		return
	}
	var cfg provider.Config
	if !decodeBody(w, r, &cfg) {
		return
	}

	if cfg.Fixed != nil && cfg.Fixed.APIKey == redactedKey {
		existing, err := s.deps.Store.ServiceConfig(purpose)
		if err == nil && existing.Fixed != nil && existing.Fixed.Name == cfg.Fixed.Name {
			cfg.Fixed.APIKey = existing.Fixed.APIKey
		} else {
			cfg.Fixed.APIKey = ""
		}
	}

	if err := cfg.Validate(purpose); err != nil {
		writeError(w, err)
		return
	}
	if err := s.deps.Store.SaveServiceConfig(purpose, cfg); err != nil {
		slog.Error("Error saving service config", "purpose", purpose, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	slog.Info("Service config updated", "purpose", purpose)
	writeJSON(w, http.StatusOK, redact(cfg))
}

func redact(cfg provider.Config) provider.Config {
	if cfg.Fixed != nil && cfg.Fixed.APIKey != "" {
		fixed := *cfg.Fixed
		fixed.APIKey = redactedKey
		cfg.Fixed = &fixed
	}
	return cfg
}
