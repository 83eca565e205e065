package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zde37/ringstore/pkg"
	"github.com/zde37/ringstore/pkg/chord"
	"github.com/zde37/ringstore/pkg/hash"
)

// maxValueSize bounds request bodies.
const maxValueSize = 1 << 20

// Server represents the HTTP API of a node.
type Server struct {
	node       *chord.Node
	hub        *EventHub
	httpServer *http.Server
	logger     *pkg.Logger
	addr       string
}

// Config holds the HTTP server configuration.
type Config struct {
	Host     string
	HTTPPort int
}

// NodeStatus is the reply of GET /api/node.
type NodeStatus struct {
	ID          hash.ID          `json:"id"`
	Address     string           `json:"address"`
	Predecessor *chord.NodeInfo  `json:"predecessor,omitempty"`
	Successors  []chord.NodeInfo `json:"successors"`
	Fingers     []chord.NodeInfo `json:"fingers"`
	Entries     int              `json:"entries"`
	Stats       chord.EntryStats `json:"stats"`
	Transaction uint64           `json:"transaction"`
}

// EntryResponse is the reply of the entry routes.
type EntryResponse struct {
	Key    string         `json:"key"`
	ID     hash.ID        `json:"id"`
	Node   chord.NodeInfo `json:"node"`
	Values []string       `json:"values,omitempty"`
}

// BroadcastRequest is the body of POST /api/broadcast.
type BroadcastRequest struct {
	Target hash.ID `json:"target"`
	Hit    bool    `json:"hit"`
}

// BroadcastResponse is the reply of POST /api/broadcast.
type BroadcastResponse struct {
	Transaction uint64 `json:"transaction"`
}

// NewServer creates the HTTP API for node. Events of hub are served on
// /api/ws.
func NewServer(node *chord.Node, hub *EventHub, cfg *Config, logger *pkg.Logger) (*Server, error) {
	if node == nil {
		return nil, fmt.Errorf("%w: node cannot be nil", pkg.ErrConfiguration)
	}
	if hub == nil {
		return nil, fmt.Errorf("%w: event hub cannot be nil", pkg.ErrConfiguration)
	}
	if cfg == nil {
		return nil, fmt.Errorf("%w: config cannot be nil", pkg.ErrConfiguration)
	}
	if logger == nil {
		return nil, fmt.Errorf("%w: logger cannot be nil", pkg.ErrConfiguration)
	}

	return &Server{
		node:   node,
		hub:    hub,
		logger: logger.WithComponent("http_api"),
		addr:   net.JoinHostPort(cfg.Host, fmt.Sprint(cfg.HTTPPort)),
	}, nil
}

// Handler returns the routes of the API.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	r.Get("/health", s.healthHandler)
	r.Route("/api", func(r chi.Router) {
		r.Get("/node", s.nodeHandler)
		r.Put("/entries/{key}", s.putEntryHandler)
		r.Get("/entries/{key}", s.getEntryHandler)
		r.Delete("/entries/{key}", s.deleteEntryHandler)
		r.Post("/broadcast", s.broadcastHandler)
		r.Get("/ws", s.hub.HandleWebSocket)
	})

	return r
}

// Start starts the HTTP server and the event hub.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	go s.hub.Run()

	s.httpServer = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info().
		Str("address", listener.Addr().String()).
		Msg("Starting HTTP API server")

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("HTTP server error")
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server.
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping HTTP API server")

	// websocket connections are hijacked, Shutdown does not close them
	s.hub.Stop()

	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := s.httpServer.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shutdown HTTP server: %w", err)
		}
	}

	s.logger.Info().Msg("HTTP API server stopped")
	return nil
}

// healthHandler handles health check requests.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) nodeHandler(w http.ResponseWriter, r *http.Request) {
	refs := s.node.References()
	status := NodeStatus{
		ID:          s.node.ID(),
		Address:     s.node.Address(),
		Successors:  chord.InfosOf(refs.GetSuccessors()),
		Fingers:     chord.InfosOf(refs.GetFingerTable()),
		Entries:     s.node.Entries().GetNumberOfStoredEntries(),
		Stats:       s.node.Entries().Stats(),
		Transaction: s.node.Transaction(),
	}
	if pred := refs.GetPredecessor(); pred != nil {
		info := chord.InfoOf(pred)
		status.Predecessor = &info
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) putEntryHandler(w http.ResponseWriter, r *http.Request) {
	key, id := entryKey(r)
	value, err := readValue(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	ref := s.node.Responsible(id)
	if err := ref.InsertEntry(r.Context(), chord.NewEntry(id, value)); err != nil {
		s.logger.Debug().Err(err).Str("key", key).Msg("Insert failed")
		writeError(w, errorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, EntryResponse{Key: key, ID: id, Node: chord.InfoOf(ref)})
}

func (s *Server) getEntryHandler(w http.ResponseWriter, r *http.Request) {
	key, id := entryKey(r)

	ref := s.node.Responsible(id)
	entries, err := ref.RetrieveEntries(r.Context(), id)
	if err != nil {
		s.logger.Debug().Err(err).Str("key", key).Msg("Retrieve failed")
		writeError(w, errorStatus(err), err)
		return
	}
	if len(entries) == 0 {
		writeError(w, http.StatusNotFound, fmt.Errorf("no entries for key %q", key))
		return
	}

	values := make([]string, 0, len(entries))
	for _, e := range entries {
		values = append(values, string(e.Value))
	}
	writeJSON(w, http.StatusOK, EntryResponse{Key: key, ID: id, Node: chord.InfoOf(ref), Values: values})
}

func (s *Server) deleteEntryHandler(w http.ResponseWriter, r *http.Request) {
	key, id := entryKey(r)
	value, err := readValue(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	ref := s.node.Responsible(id)
	if err := ref.RemoveEntry(r.Context(), chord.NewEntry(id, value)); err != nil {
		s.logger.Debug().Err(err).Str("key", key).Msg("Remove failed")
		writeError(w, errorStatus(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) broadcastHandler(w http.ResponseWriter, r *http.Request) {
	var req BroadcastRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxValueSize)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid broadcast request: %w", err))
		return
	}

	txn := s.node.StartBroadcast(r.Context(), req.Target, req.Hit)
	writeJSON(w, http.StatusAccepted, BroadcastResponse{Transaction: txn})
}

func entryKey(r *http.Request) (string, hash.ID) {
	key := chi.URLParam(r, "key")
	return key, hash.HashString(key)
}

func readValue(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	value, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxValueSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read value: %w", err)
	}
	return value, nil
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, pkg.ErrNotAcceptingEntries):
		return http.StatusServiceUnavailable
	case errors.Is(err, pkg.ErrCommunication):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

// corsMiddleware adds CORS headers to responses.
func corsMiddleware(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		h.ServeHTTP(w, r)
	})
}
