// Package httpserver exposes metrics, health and the live fix stream.
package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/signalsfoundry/gpsfix/internal/logging"
	"github.com/signalsfoundry/gpsfix/internal/observability"
	"github.com/signalsfoundry/gpsfix/internal/sink"
	"github.com/signalsfoundry/gpsfix/model"
)

// Health is the /healthz document.
type Health struct {
	Status    string     `json:"status"`
	SessionID string     `json:"session_id"`
	Console   string     `json:"console"`
	Mode      string     `json:"mode"`
	Fixes     int        `json:"fixes"`
	LastFix   *model.Fix `json:"last_fix,omitempty"`
	Uptime    string     `json:"uptime"`
}

// Options wires the handlers. Nil members disable their routes.
type Options struct {
	SessionID string
	Console   string
	Mode      string
	Metrics   *observability.FixCollector
	Stream    http.Handler
	Latest    *sink.Latest
	Logger    logging.Logger
}

// Server is the optional HTTP surface of a run.
type Server struct {
	httpServer *http.Server
	log        logging.Logger
	started    time.Time
	opts       Options
}

// New builds the router for addr.
func New(addr string, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = logging.Noop()
	}
	s := &Server{log: opts.Logger, started: time.Now(), opts: opts}

	router := mux.NewRouter()
	router.Handle("/healthz", opts.Metrics.Middleware("/healthz", http.HandlerFunc(s.handleHealth))).Methods(http.MethodGet)
	if opts.Latest != nil {
		router.Handle("/fixes/latest", opts.Metrics.Middleware("/fixes/latest", http.HandlerFunc(s.handleLatest))).Methods(http.MethodGet)
	}
	if opts.Stream != nil {
		router.Handle("/fixes", opts.Metrics.Middleware("/fixes", opts.Stream)).Methods(http.MethodGet)
	}
	if opts.Metrics != nil {
		router.Handle("/metrics", opts.Metrics.Handler()).Methods(http.MethodGet)
	}

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Handler returns the router, for tests.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start listens and serves in the background. It returns the bound address
// once the listener is open.
func (s *Server) Start(ctx context.Context) (string, error) {
	lis, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return "", fmt.Errorf("listen %s: %w", s.httpServer.Addr, err)
	}
	addr := lis.Addr().String()
	s.log.Info(ctx, "serving http", logging.String("addr", addr))
	go func() {
		if err := s.httpServer.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Warn(context.Background(), "http server exited", logging.Err(err))
		}
	}()
	return addr, nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	h := Health{
		Status:    "ok",
		SessionID: s.opts.SessionID,
		Console:   s.opts.Console,
		Mode:      s.opts.Mode,
		Uptime:    time.Since(s.started).Round(time.Second).String(),
	}
	if s.opts.Latest != nil {
		h.LastFix, h.Fixes = s.opts.Latest.Snapshot()
	}
	writeJSON(w, http.StatusOK, h)
}

func (s *Server) handleLatest(w http.ResponseWriter, _ *http.Request) {
	fix, _ := s.opts.Latest.Snapshot()
	if fix == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no fix acknowledged yet"})
		return
	}
	writeJSON(w, http.StatusOK, fix)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
