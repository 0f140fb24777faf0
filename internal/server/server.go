package server

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/zombor/regionlens/internal/capture"
	"github.com/zombor/regionlens/internal/events"
	"github.com/zombor/regionlens/internal/pipeline"
	"github.com/zombor/regionlens/internal/provider"
	"github.com/zombor/regionlens/internal/selection"
)

// Pipeline is the consumer context
type Pipeline interface {
	BeginSelection(intent capture.Intent) error
	Ask(ctx context.Context, prompt string) (string, error)
	Status() pipeline.Status
	ClearAttachment()
}

// Selector receives the pointer events the page forwards
type Selector interface {
	Press(x, y float64) selection.State
	Move(x, y float64) selection.State
	Release(x, y float64, viewport capture.Viewport) selection.State
	Escape() selection.State
	State() selection.State
}

// Capturer is the capture context
type Capturer interface {
	RequestCapture(ctx context.Context, req capture.Request) (capture.Handle, error)
	Submit(ctx context.Context, req capture.Request, data []byte) (capture.Handle, error)
}

// Store holds the last results and the service configs
type Store interface {
	LastExtractedText() (string, error)
	LastAIResponse() (string, error)
	LastPreviewImage() ([]byte, error)
	ServiceConfig(purpose provider.Purpose) (provider.Config, error)
	SaveServiceConfig(purpose provider.Purpose, cfg provider.Config) error
}

// Subscriber streams bus events
type Subscriber interface {
	Subscribe(types ...string) (<-chan events.Event, func())
}

// Deps are the components the server exposes
type Deps struct {
	Pipeline Pipeline
	Selector Selector
	Capturer Capturer
	Store    Store
	Events   Subscriber
}

// Server handles HTTP requests from the page and the consumer UI
type Server struct {
	deps      Deps
	basicAuth BasicAuth
	mux       *http.ServeMux
}

// BasicAuth holds basic authentication credentials
type BasicAuth struct {
	Username string
	Password string
}

// NewServer creates a new Server with default mux
func NewServer(deps Deps, basicAuth BasicAuth) *Server {
	return NewServerWithMux(deps, basicAuth, http.NewServeMux())
}

// NewServerWithMux creates a new Server with a custom mux for testing
func NewServerWithMux(deps Deps, basicAuth BasicAuth, mux *http.ServeMux) *Server {
	s := &Server{
		deps:      deps,
		basicAuth: basicAuth,
		mux:       mux,
	}
	s.registerRoutes()
	return s
}

// authenticate checks basic auth credentials
func (s *Server) authenticate(r *http.Request) bool {
	if s.basicAuth.Username == "" && s.basicAuth.Password == "" {
		return true // No auth required if not configured
	}

	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Basic ") {
		return false
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(auth, "Basic "))
	if err != nil {
		return false
	}

	credentials := strings.SplitN(string(decoded), ":", 2)
	if len(credentials) != 2 {
		return false
	}

	return credentials[0] == s.basicAuth.Username && credentials[1] == s.basicAuth.Password
}

// corsMiddleware adds CORS headers to every response and answers preflights
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w)
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireAuth middleware
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authenticate(r) {
			w.Header().Set("WWW-Authenticate", `Basic realm="regionlens"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// setCORSHeaders sets CORS headers on a response. The page script runs on
// arbitrary origins.
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// registerRoutes registers all API routes on the server's mux
func (s *Server) registerRoutes() {
	// page context
	s.mux.HandleFunc("POST /api/selection/events", s.requireAuth(s.handleSelectionEvent))
	s.mux.HandleFunc("GET /api/events", s.requireAuth(s.handleEvents))

	// capture context
	s.mux.HandleFunc("POST /api/captures", s.requireAuth(s.handleCapture))

	// consumer context
	s.mux.HandleFunc("POST /api/selection", s.requireAuth(s.handleBeginSelection))
	s.mux.HandleFunc("DELETE /api/ask/attachment", s.requireAuth(s.handleClearAttachment))
	s.mux.HandleFunc("POST /api/ask", s.requireAuth(s.handleAsk))
	s.mux.HandleFunc("GET /api/state", s.requireAuth(s.handleState))
	s.mux.HandleFunc("GET /api/preview", s.requireAuth(s.handlePreview))
	s.mux.HandleFunc("GET /api/config/{purpose}", s.requireAuth(s.handleGetConfig))
	s.mux.HandleFunc("PUT /api/config/{purpose}", s.requireAuth(s.handlePutConfig))
}

// Handler returns the mux wrapped with the CORS middleware
func (s *Server) Handler() http.Handler {
	return corsMiddleware(s.mux)
}

// Start starts the HTTP server and shuts it down when ctx is done
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Handler()}
	go func() {
		<-ctx.Done()
		srv.Close()
	}()

	slog.Info("Starting server", "address", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ServeHTTP implements http.Handler for testing
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Handler().ServeHTTP(w, r)
}
