package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lorekeep/lorekeep/internal/agent"
	"github.com/lorekeep/lorekeep/internal/auth"
	"github.com/lorekeep/lorekeep/internal/config"
	"github.com/lorekeep/lorekeep/internal/convstore"
	"github.com/lorekeep/lorekeep/internal/observability"
)

// Server is the HTTP front of the assistant: compose/approve SSE endpoints,
// conversation CRUD, health, and metrics.
type Server struct {
	config   *config.Config
	logger   *observability.Logger
	metrics  *observability.Metrics
	auth     *auth.Service
	sessions *agent.Sessions
	store    convstore.Store
	janitor  *Janitor

	httpServer    *http.Server
	metricsServer *http.Server
}

// NewServer wires the gateway over an already-constructed session layer.
func NewServer(
	cfg *config.Config,
	logger *observability.Logger,
	metrics *observability.Metrics,
	authService *auth.Service,
	sessions *agent.Sessions,
	store convstore.Store,
) *Server {
	s := &Server{
		config:   cfg,
		logger:   logger,
		metrics:  metrics,
		auth:     authService,
		sessions: sessions,
		store:    store,
	}
	s.janitor = NewJanitor(cfg.Retention, store, logger, metrics)
	return s
}

// handler assembles the API routes with the middleware chain.
func (s *Server) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/assistant/compose", s.handleCompose)
	mux.HandleFunc("POST /api/assistant/approve", s.handleApprove)
	mux.HandleFunc("GET /api/conversations", s.handleListConversations)
	mux.HandleFunc("GET /api/conversations/{id}", s.handleGetConversation)
	mux.HandleFunc("DELETE /api/conversations/{id}", s.handleDeleteConversation)
	mux.HandleFunc("GET /healthz", s.handleHealthz)

	var handler http.Handler = mux
	handler = s.withRequestID(handler)
	handler = auth.Middleware(s.auth, s.logger)(handler)
	handler = s.withHTTPMetrics(handler)
	return handler
}

// Start begins serving HTTP. It returns once the listeners are running;
// serving errors are logged from the serve goroutines.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.HTTPPort)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error(ctx, "http server error", "error", err)
		}
	}()
	s.logger.Info(ctx, "starting http server", "addr", addr)

	if s.config.Server.MetricsPort != 0 && s.config.Server.MetricsPort != s.config.Server.HTTPPort {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		metricsMux.HandleFunc("/healthz", s.handleHealthz)

		metricsAddr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.MetricsPort)
		s.metricsServer = &http.Server{
			Addr:              metricsAddr,
			Handler:           metricsMux,
			ReadHeaderTimeout: 5 * time.Second,
		}

		go func() {
			if err := s.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.logger.Error(ctx, "metrics server error", "error", err)
			}
		}()
		s.logger.Info(ctx, "starting metrics server", "addr", metricsAddr)
	}

	if err := s.janitor.Start(ctx); err != nil {
		return fmt.Errorf("retention janitor: %w", err)
	}

	return nil
}

// Shutdown drains in-flight requests within the configured timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.Server.ShutdownTimeout)
	defer cancel()

	s.janitor.Stop()

	var firstErr error
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			firstErr = err
		}
	}
	if s.metricsServer != nil {
		if err := s.metricsServer.Shutdown(shutdownCtx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// withRequestID assigns a request id and threads it through the context for
// log correlation.
func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(observability.AddRequestID(r.Context(), requestID)))
	})
}

// statusRecorder captures the response code for metrics. WriteHeader may
// never be called on streaming paths, so it defaults to 200.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush preserves streaming support through the recorder.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *Server) withHTTPMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		if s.metrics != nil {
			s.metrics.RecordHTTPRequest(r.Method, r.URL.Path, strconv.Itoa(rec.status), time.Since(start).Seconds())
		}
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
