package jobs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const shutdownTimeout = 10 * time.Second

// Server handles HTTP requests for extraction jobs
type Server struct {
	service   *Service
	basicAuth BasicAuth
	version   string
	mux       *http.ServeMux
}

// BasicAuth holds basic authentication credentials
type BasicAuth struct {
	Username string
	Password string
}

// NewServer creates a new Server with default mux
func NewServer(service *Service, basicAuth BasicAuth, version string) *Server {
	return NewServerWithMux(service, basicAuth, version, http.NewServeMux())
}

// NewServerWithMux creates a new Server with a custom mux for testing
func NewServerWithMux(service *Service, basicAuth BasicAuth, version string, mux *http.ServeMux) *Server {
	s := &Server{
		service:   service,
		basicAuth: basicAuth,
		version:   version,
		mux:       mux,
	}
	s.registerRoutes()
	return s
}

// credentials returns the basic auth username of a request and whether it may proceed
func (s *Server) credentials(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Basic ") {
		return "", s.basicAuth.Username == "" && s.basicAuth.Password == ""
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(auth, "Basic "))
	if err != nil {
		return "", false
	}

	credentials := strings.SplitN(string(decoded), ":", 2)
	if len(credentials) != 2 {
		return "", false
	}

	if s.basicAuth.Username == "" && s.basicAuth.Password == "" {
		return credentials[0], true // No auth required if not configured
	}
	ok := credentials[0] == s.basicAuth.Username && credentials[1] == s.basicAuth.Password
	return credentials[0], ok
}

// corsMiddleware adds CORS headers to responses
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
		if _, ok := s.credentials(r); !ok {
			w.Header().Set("WWW-Authenticate", `Basic realm="Invoice Importer"`)
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "Unauthorized"})
			return
		}
		next(w, r)
	}
}

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// registerRoutes registers all API routes on the server's mux
func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)

	s.mux.HandleFunc("GET /api/pdf-extract/status", s.requireAuth(s.handleStatus))
	s.mux.HandleFunc("GET /api/pdf-extract/document", s.requireAuth(s.handleDocument))
	s.mux.HandleFunc("POST /api/pdf-extract/import", s.requireAuth(s.handleImport))
	s.mux.HandleFunc("POST /api/pdf-extract", s.requireAuth(s.handleExtract))

	s.mux.HandleFunc("GET /api/inventory", s.requireAuth(s.handleInventory))
}

// Start serves HTTP on addr until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Starting server", "address", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	slog.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// ServeHTTP wraps the mux with CORS handling
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.corsMiddleware(s.mux).ServeHTTP(w, r)
}

// errorResponse is the JSON body of every error reply
type errorResponse struct {
	Success *bool  `json:"success,omitempty"`
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// failure builds an error body that reports success=false
func failure(message, details string) errorResponse {
	f := false
	return errorResponse{Success: &f, Error: message, Details: details}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}
