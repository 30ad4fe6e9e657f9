package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/uhyunpark/mbp10/pkg/mbp"
	"github.com/uhyunpark/mbp10/pkg/replay"
	"github.com/uhyunpark/mbp10/pkg/storage"
)

// SnapshotStore is the read side of the snapshot archive.
type SnapshotStore interface {
	Get(seq uint64) (mbp.Snapshot, error)
}

type Options struct {
	RunID string
	// Store serves /api/v1/snapshots/{seq}; nil disables the route.
	Store SnapshotStore
	// Metrics serves /metrics; nil disables the route.
	Metrics        http.Handler
	AllowedOrigins []string
	Logger         *zap.SugaredLogger
}

// Server handles REST API and WebSocket connections. It only ever sees
// emitted snapshots and final stats, never the live book.
type Server struct {
	opts   Options
	router *mux.Router
	hub    *Hub
	feed   *Feed
	stats  atomic.Pointer[replay.Stats]
	log    *zap.SugaredLogger
}

func NewServer(opts Options) *Server {
	lg := opts.Logger
	if lg == nil {
		lg = zap.NewNop().Sugar()
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	hub := NewHub(lg)
	s := &Server{
		opts:   opts,
		router: mux.NewRouter(),
		hub:    hub,
		feed:   &Feed{hub: hub},
		log:    lg,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/book", s.handleGetBook).Methods("GET")
	api.HandleFunc("/snapshots/{seq:[0-9]+}", s.handleGetSnapshot).Methods("GET")
	api.HandleFunc("/stats", s.handleGetStats).Methods("GET")

	if s.opts.Metrics != nil {
		s.router.Handle("/metrics", s.opts.Metrics).Methods("GET")
	}
	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Feed is the sink to add to the replay fan-out.
func (s *Server) Feed() *Feed { return s.feed }

// SetStats publishes the final run statistics and marks the replay done.
func (s *Server) SetStats(st replay.Stats) { s.stats.Store(&st) }

func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: s.opts.AllowedOrigins,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
	})
	return c.Handler(s.router)
}

// Serve runs the hub and listens on addr until ctx is done.
func (s *Server) Serve(ctx context.Context, addr string) error {
	go s.hub.Run(ctx)

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	s.log.Infow("api_listening", "addr", addr, "run_id", s.opts.RunID)

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.log.Infow("api_stopped", "addr", addr)
	return nil
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleGetBook(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.feed.Latest()
	if !ok {
		respondError(w, http.StatusNotFound, "no snapshot yet", "")
		return
	}
	respondJSON(w, newBookSnapshot(snap))
}

func (s *Server) handleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	if s.opts.Store == nil {
		respondError(w, http.StatusNotImplemented, "archive disabled", "set MBP_STORE_DIR to keep snapshots")
		return
	}
	seq, err := strconv.ParseUint(mux.Vars(r)["seq"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid seq", err.Error())
		return
	}
	snap, err := s.opts.Store.Get(seq)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		respondError(w, http.StatusNotFound, "snapshot not found", "")
		return
	case err != nil:
		respondError(w, http.StatusInternalServerError, "archive read failed", err.Error())
		return
	}
	respondJSON(w, newBookSnapshot(snap))
}

func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	st := s.stats.Load()
	if st == nil {
		respondError(w, http.StatusServiceUnavailable, "replay in progress", "")
		return
	}
	respondJSON(w, st)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok", RunID: s.opts.RunID, Done: s.stats.Load() != nil}
	if snap, ok := s.feed.Latest(); ok {
		resp.LastSeq = snap.Seq
	}
	respondJSON(w, resp)
}

// ==============================
// Helper Functions
// ==============================

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   error,
		Message: message,
	})
}
