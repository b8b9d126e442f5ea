package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"panplay/cache"
	"panplay/internal"
	"panplay/resolver"
)

const (
	// ServiceName is reported by the health endpoint
	ServiceName = "baidu-pan-player"
	// Version is reported by the info endpoint
	Version = "1.0.0"

	shutdownTimeout = 10 * time.Second
)

// Options wires the HTTP front end to the resolution core
type Options struct {
	Pipeline *resolver.Pipeline
	Cache    *cache.TTLCache

	// Application identity used when a request carries a refresh token
	// but no client id/secret of its own.
	ClientID     string
	ClientSecret string
}

// Server exposes the resolution pipeline over HTTP
type Server struct {
	pipeline     *resolver.Pipeline
	cache        *cache.TTLCache
	clientID     string
	clientSecret string
	startedAt    time.Time
}

// New creates a Server
func New(opts Options) *Server {
	return &Server{
		pipeline:     opts.Pipeline,
		cache:        opts.Cache,
		clientID:     opts.ClientID,
		clientSecret: opts.ClientSecret,
		startedAt:    time.Now(),
	}
}

// Router returns the bare route table
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.Health).Methods("GET")
	r.HandleFunc("/info", s.Info).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	r.HandleFunc("/play", s.Play).Methods("GET", "POST")
	r.HandleFunc("/play/advanced", s.PlayAdvanced).Methods("POST")
	r.HandleFunc("/list", s.List).Methods("GET", "POST")
	r.HandleFunc("/search", s.Search).Methods("POST")

	r.HandleFunc("/cache/clear", s.ClearCache).Methods("POST")
	r.HandleFunc("/cache/cleanup", s.CleanupCache).Methods("POST")

	r.Use(Metrics(DefaultMetricsConfig()))

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSONError(w, http.StatusNotFound, "endpoint not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	return r
}

// Handler returns the route table wrapped in the request id and logging middleware
func (s *Server) Handler() http.Handler {
	var handler http.Handler = s.Router()
	handler = Logger()(handler)
	handler = RequestID(handler)
	return handler
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down gracefully
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		internal.LogInfo("listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	internal.LogInfo("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
