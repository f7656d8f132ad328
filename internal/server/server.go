// Package server binds a runtime to HTTP. Cells are read and written over a
// small JSON API and every WebSocket connection is a component subscriber that
// receives the changed keys of each flush.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/AnatoleLucet/ripple/internal"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Config struct {
	Addr string

	// FlushInterval is how often pending commits are pushed to subscribers. Zero disables the ticker.
	FlushInterval time.Duration

	Logger   *slog.Logger
	Gatherer prometheus.Gatherer
}

type Server struct {
	runtime *internal.Runtime
	config  Config
	logger  *slog.Logger
	router  chi.Router

	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*client]struct{}
}

func New(rt *internal.Runtime, cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		runtime: rt,
		config:  cfg,
		logger:  cfg.Logger,
		clients: make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
	s.router = s.routes()

	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/cells", s.listCells)
	r.Get("/cells/{name}", s.getCell)
	r.Put("/cells/{name}", s.putCell)
	r.Post("/flush", s.flush)
	r.Get("/ws", s.handleWebSocket)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.config.Gatherer, promhttp.HandlerOpts{}))

	return r
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, flushing the runtime every FlushInterval.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.config.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if s.config.FlushInterval > 0 {
		go s.flushLoop(ctx)
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", s.config.Addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	s.closeClients()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) flushLoop(ctx context.Context) {
	ticker := time.NewTicker(s.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.runtime.Pending() > 0 {
				s.runtime.Flush()
			}
		}
	}
}

type cellView struct {
	Name     string `json:"name"`
	Value    any    `json:"value"`
	Previous any    `json:"previous,omitempty"`
	Derived  bool   `json:"derived"`
}

func view(c internal.Cell) cellView {
	v := cellView{Name: c.Name(), Value: c.Value()}
	if p, ok := c.(interface{ Previous() any }); ok {
		v.Previous = p.Previous()
	}
	_, v.Derived = c.(*internal.Computed)
	return v
}

func (s *Server) listCells(w http.ResponseWriter, r *http.Request) {
	cells := s.runtime.Cells()
	views := make([]cellView, 0, len(cells))
	for _, c := range cells {
		if c.Name() != "" {
			views = append(views, view(c))
		}
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) getCell(w http.ResponseWriter, r *http.Request) {
	c, ok := s.runtime.Lookup(chi.URLParam(r, "name"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown cell")
		return
	}
	writeJSON(w, http.StatusOK, view(c))
}

func (s *Server) putCell(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	c, ok := s.runtime.Lookup(name)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown cell")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var value any
	if err := json.Unmarshal(body, &value); err != nil {
		writeError(w, http.StatusBadRequest, "body must be a JSON value")
		return
	}

	if err := s.runtime.Ingest(c, value); err != nil {
		s.logger.Error("ingest failed", "cell", name, "error", err, "request_id", middleware.GetReqID(r.Context()))
		status := http.StatusInternalServerError
		if errors.Is(err, internal.ErrCellDisposed) {
			status = http.StatusGone
		} else if errors.Is(err, internal.ErrDrainBudget) {
			status = http.StatusUnprocessableEntity
		}
		writeError(w, status, err.Error())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) flush(w http.ResponseWriter, r *http.Request) {
	s.runtime.Flush()
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
