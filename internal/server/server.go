// Package server serves the cached forecast over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/iyulab/threat-forecaster/internal/cache"
	"github.com/iyulab/threat-forecaster/internal/forecast"
	"github.com/iyulab/threat-forecaster/internal/reporter"
)

// RefreshFunc runs the pipeline and returns the new forecast document.
type RefreshFunc func(ctx context.Context) (forecast.Document, error)

// RenderFunc renders a forecast to an HTML page.
type RenderFunc func(f forecast.Forecast) (string, error)

// Server is a local HTTP server over the forecast cache.
type Server struct {
	store   cache.Store
	refresh RefreshFunc
	render  RenderFunc
	logger  *zap.Logger
	now     func() time.Time

	refreshing sync.Mutex
	httpServer *http.Server
}

// New creates a Server. refresh may be nil, in which case refreshing is
// reported as not implemented.
func New(store cache.Store, refresh RefreshFunc, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		store:   store,
		refresh: refresh,
		logger:  logger.Named("server"),
		now:     time.Now,
	}
}

// SetRenderFunc sets the function used to render the HTML page at /.
func (s *Server) SetRenderFunc(fn RenderFunc) {
	s.render = fn
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors)

	r.Get("/health", s.handleHealth)
	r.Get("/", s.handleReport)
	r.Route("/api/forecast", func(r chi.Router) {
		r.Get("/latest", s.handleLatest)
		r.Get("/charts", s.handleCharts)
		r.Post("/refresh", s.handleRefresh)
	})
	return r
}

// Start begins listening on the given port (0 = OS-assigned). Returns "host:port".
func (s *Server) Start(ctx context.Context, port int) (string, error) {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return "", fmt.Errorf("listen: %w", err)
	}

	s.httpServer = &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	go s.httpServer.Serve(ln) //nolint:errcheck

	s.logger.Info("serving forecasts", zap.String("addr", ln.Addr().String()))
	return ln.Addr().String(), nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() {
	if s.httpServer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.httpServer.Close()
	}
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprint(w, `{"status":"ok"}`)
}

// latest loads and decodes the cached forecast. It writes the error response
// itself and returns ok=false when there is nothing to serve.
func (s *Server) latest(w http.ResponseWriter, r *http.Request) ([]byte, forecast.Document, bool) {
	raw, err := s.store.Latest(r.Context())
	if err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no forecast available yet")
			return nil, nil, false
		}
		s.logger.Error("read cache", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "cache unavailable")
		return nil, nil, false
	}
	var doc forecast.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		s.logger.Error("cached forecast is not valid JSON", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "cached forecast is corrupt")
		return nil, nil, false
	}
	return raw, doc, true
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	raw, _, ok := s.latest(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(raw) //nolint:errcheck
}

func (s *Server) handleCharts(w http.ResponseWriter, r *http.Request) {
	_, doc, ok := s.latest(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, reporter.BuildCharts(forecast.Parse(doc), s.now()))
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	if s.render == nil {
		http.Error(w, "report rendering not configured", http.StatusServiceUnavailable)
		return
	}
	raw, err := s.store.Latest(r.Context())
	if err != nil {
		http.Error(w, "forecast not ready", http.StatusServiceUnavailable)
		return
	}
	var doc forecast.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		http.Error(w, "cached forecast is corrupt", http.StatusInternalServerError)
		return
	}
	html, err := s.render(forecast.Parse(doc))
	if err != nil {
		http.Error(w, fmt.Sprintf("render failed: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, html)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if s.refresh == nil {
		writeError(w, http.StatusNotImplemented, "refresh not configured")
		return
	}
	if !s.refreshing.TryLock() {
		writeError(w, http.StatusConflict, "a refresh is already running")
		return
	}
	defer s.refreshing.Unlock()

	doc, err := s.refresh(r.Context())
	if err != nil {
		s.logger.Error("refresh failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, fmt.Sprintf("refresh failed: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
