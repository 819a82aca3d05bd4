// Package health serves the single /healthz probe spec.md §1 keeps of the
// teacher's dashboard: engine liveness, the last completed cycle's
// timestamp, and whether the loop has entered its degraded state. It
// narrows internal/dashboard/server.go's chi.Mux + middleware stack +
// Start/Shutdown(ctx) lifecycle down to one route, dropping the
// HTML-rendering, position/stat APIs, and token auth the teacher needed for
// a human-facing dashboard that spec.md's Non-goals exclude.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

// Status mirrors engine.Status's fields consumed by the health probe.
type Status struct {
	Alive        bool
	Degraded     bool
	LastCycleEnd time.Time
	OpenCount    int
}

// StatusFunc adapts engine.TradingLoop.Status (or any equivalent snapshot)
// into the shape this package consumes, avoiding an import of
// internal/engine from internal/health.
type StatusFunc func() Status

// Config configures the health server. Port is bound on loopback only
// (127.0.0.1), per spec.md §1's "no remote control surface" Non-goal: the
// probe is for a local process supervisor, not a network-facing API.
type Config struct {
	Port int
}

// Server is the minimal HTTP server exposing GET /healthz.
type Server struct {
	router *chi.Mux
	server *http.Server
	source StatusFunc
	log    *logrus.Logger
	port   int
}

// NewServer builds a Server bound to cfg.Port on loopback, reporting source's
// status at /healthz.
func NewServer(cfg Config, source StatusFunc, log *logrus.Logger) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &Server{
		router: chi.NewRouter(),
		source: source,
		log:    log,
		port:   cfg.Port,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(5 * time.Second))
	s.router.Get("/healthz", s.handleHealthz)
}

type healthzResponse struct {
	Status       string    `json:"status"`
	Degraded     bool      `json:"degraded"`
	LastCycleEnd time.Time `json:"last_cycle_end,omitempty"`
	OpenCount    int       `json:"open_count"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	st := s.source()

	resp := healthzResponse{
		Degraded:     st.Degraded,
		LastCycleEnd: st.LastCycleEnd,
		OpenCount:    st.OpenCount,
	}

	code := http.StatusOK
	switch {
	case !st.Alive:
		resp.Status = "starting"
	case st.Degraded:
		resp.Status = "degraded"
		code = http.StatusServiceUnavailable
	default:
		resp.Status = "ok"
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.log.WithError(err).Error("failed to encode healthz response")
	}
}

// Start blocks serving on 127.0.0.1:port until Shutdown is called, returning
// nil on a clean shutdown.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf("127.0.0.1:%d", s.port),
		Handler:           s.router,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      5 * time.Second,
		IdleTimeout:       30 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.log.WithField("port", s.port).Info("starting health server")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server, honoring ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
