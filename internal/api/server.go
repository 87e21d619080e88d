package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	noderesmw "github.com/aaronlmathis/noderes/internal/middleware"
	"github.com/aaronlmathis/noderes/internal/presenter"
	"github.com/aaronlmathis/noderes/internal/report"
	"github.com/aaronlmathis/noderes/internal/version"
	"github.com/aaronlmathis/noderes/internal/ws"
)

const (
	nodesStream     = "nodes"
	shutdownTimeout = 10 * time.Second
)

// Options configures the HTTP surface
type Options struct {
	Addr string
	// WithTotals includes cluster totals in served documents
	WithTotals bool
}

// Server exposes the latest report over HTTP and streams new reports over a
// websocket. It is a report publisher for the cycle runner.
type Server struct {
	logger     *zap.Logger
	addr       string
	withTotals bool
	router     chi.Router
	hub        *ws.Hub

	mu     sync.RWMutex
	latest *presenter.Document
}

// NewServer creates the HTTP surface
func NewServer(logger *zap.Logger, opts Options) *Server {
	s := &Server{
		logger:     logger,
		addr:       opts.Addr,
		withTotals: opts.WithTotals,
		router:     chi.NewRouter(),
		hub:        ws.NewHub(logger.Named("ws")),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Publish stores r as the latest report and pushes it to stream subscribers
func (s *Server) Publish(r *report.Report) {
	doc := presenter.NewDocument(r, s.withTotals)

	s.mu.Lock()
	s.latest = &doc
	s.mu.Unlock()

	s.hub.Broadcast(nodesStream, "report", doc)
}

func (s *Server) current() *presenter.Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest
}

// Run serves until ctx is cancelled and then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	go s.hub.Run(hubCtx)

	server := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server starting", zap.String("addr", s.addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("HTTP server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server forced to shutdown", zap.Error(err))
		return err
	}
	return nil
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(noderesmw.RequestIDResponseMiddleware)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)
	s.router.Use(noderesmw.PrometheusMiddleware)
}

func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)
	s.router.Get("/readyz", s.handleReady)
	s.router.Get("/version", s.handleVersion)
	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/nodes", s.handleListNodes)
		r.Get("/nodes/{name}", s.handleGetNode)
		r.Get("/stream/nodes", s.handleNodesWebSocket)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReady reports ready once the first cycle has completed
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.current() == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "waiting for first report"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, version.Get())
}

func (s *Server) handleListNodes(w http.ResponseWriter, r *http.Request) {
	doc := s.current()
	if doc == nil {
		writeError(w, http.StatusServiceUnavailable, "no report collected yet")
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleGetNode(w http.ResponseWriter, r *http.Request) {
	doc := s.current()
	if doc == nil {
		writeError(w, http.StatusServiceUnavailable, "no report collected yet")
		return
	}

	name := chi.URLParam(r, "name")
	for _, node := range doc.Nodes {
		if node.Name == name {
			writeJSON(w, http.StatusOK, node)
			return
		}
	}
	writeError(w, http.StatusNotFound, "node not found in the latest report")
}

func (s *Server) handleNodesWebSocket(w http.ResponseWriter, r *http.Request) {
	s.hub.ServeWS(w, r, nodesStream)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error":  message,
		"status": status,
	})
}
