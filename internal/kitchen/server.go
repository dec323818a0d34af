package kitchen

import (
	"context"
	"encoding/base64"
	"log/slog"
	"net/http"
	"strings"

	"github.com/zombor/fridgecheck/internal/pipeline"
)

// Pinger checks whether a model provider accepts an API key
type Pinger interface {
	Ping(ctx context.Context, apiKey string) error
}

// Server handles HTTP requests for the scan pipeline and the kitchen records
type Server struct {
	service   *Service
	scan      *pipeline.Pipeline
	pinger    Pinger
	apiKey    string
	basicAuth BasicAuth
	metrics   http.Handler
	mux       *http.ServeMux
}

// BasicAuth holds basic authentication credentials
type BasicAuth struct {
	Username string
	Password string
}

// ServerConfig carries the server's collaborators and credentials
type ServerConfig struct {
	BasicAuth BasicAuth
	// APIKey is used when the stored preferences carry no key
	APIKey  string
	Pinger  Pinger
	Metrics http.Handler
}

// NewServer creates a new Server with default mux
func NewServer(service *Service, scan *pipeline.Pipeline, cfg ServerConfig) *Server {
	return NewServerWithMux(service, scan, cfg, http.NewServeMux())
}

// NewServerWithMux creates a new Server with a custom mux for testing
func NewServerWithMux(service *Service, scan *pipeline.Pipeline, cfg ServerConfig, mux *http.ServeMux) *Server {
	s := &Server{
		service:   service,
		scan:      scan,
		pinger:    cfg.Pinger,
		apiKey:    cfg.APIKey,
		basicAuth: cfg.BasicAuth,
		metrics:   cfg.Metrics,
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

	user, pass, ok := strings.Cut(string(decoded), ":")
	return ok && user == s.basicAuth.Username && pass == s.basicAuth.Password
}

// corsMiddleware adds CORS headers to responses and answers preflight requests
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w)
		if r.Method == http.MethodOptions {
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
			setCORSHeaders(w)
			w.Header().Set("WWW-Authenticate", `Basic realm="FridgeCheck"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// registerRoutes registers all API routes on the server's mux
func (s *Server) registerRoutes() {
	// Scan pipeline
	s.mux.HandleFunc("GET /api/scan", s.requireAuth(s.handleGetScan))
	s.mux.HandleFunc("DELETE /api/scan", s.requireAuth(s.handleResetScan))
	s.mux.HandleFunc("POST /api/scan/images", s.requireAuth(s.handleCaptureImages))
	s.mux.HandleFunc("POST /api/scan/analyze", s.requireAuth(s.handleStartAnalysis))
	s.mux.HandleFunc("POST /api/scan/ingredients/{id}/toggle", s.requireAuth(s.handleToggleIngredient))
	s.mux.HandleFunc("POST /api/scan/generate", s.requireAuth(s.handleStartGeneration))
	s.mux.HandleFunc("POST /api/scan/pantry", s.requireAuth(s.handleCommitPantry))
	s.mux.HandleFunc("POST /api/scan/recipes/{id}/save", s.requireAuth(s.handleSaveScanRecipe))
	s.mux.HandleFunc("POST /api/scan/history", s.requireAuth(s.handleSaveScanRecord))

	// Pantry
	s.mux.HandleFunc("GET /api/pantry", s.requireAuth(s.handleListPantry))
	s.mux.HandleFunc("DELETE /api/pantry/{id}", s.requireAuth(s.handleDeletePantryItem))

	// Recipes
	s.mux.HandleFunc("GET /api/recipes", s.requireAuth(s.handleListRecipes))
	s.mux.HandleFunc("POST /api/recipes/{id}/favorite", s.requireAuth(s.handleToggleFavorite))
	s.mux.HandleFunc("DELETE /api/recipes/{id}", s.requireAuth(s.handleDeleteRecipe))

	// Scan history
	s.mux.HandleFunc("GET /api/scans/{id}/images/{n}", s.requireAuth(s.handleGetScanImage))
	s.mux.HandleFunc("DELETE /api/scans/{id}", s.requireAuth(s.handleDeleteScan))
	s.mux.HandleFunc("GET /api/scans", s.requireAuth(s.handleListScans))

	// Preferences
	s.mux.HandleFunc("GET /api/preferences", s.requireAuth(s.handleGetPreferences))
	s.mux.HandleFunc("PUT /api/preferences", s.requireAuth(s.handleSavePreferences))
	s.mux.HandleFunc("POST /api/preferences/test", s.requireAuth(s.handleTestAPIKey))

	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics)
	}
}

// Handler returns the mux wrapped with CORS handling
func (s *Server) Handler() http.Handler {
	return s.corsMiddleware(s.mux)
}

// Start starts the HTTP server
func (s *Server) Start(addr string) error {
	slog.Info("Starting server", "address", addr)
	return http.ListenAndServe(addr, s.Handler())
}

// ServeHTTP implements http.Handler for testing
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}
