// Package server wires the HTTP/WebSocket transport to the DocumentSession
// registry: accepting sockets, running the per-connection protocol, serving
// a plain-text snapshot endpoint, and exposing basic stats. Generalized
// from the teacher's Server/ServerState (pkg/server/server.go) from a
// single in-process Rustpad map to pkg/registry's DocumentSession registry,
// and from the teacher's pkg/database persistence to pkg/store.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"nhooyr.io/websocket"

	"github.com/kolabsync/otserver/pkg/logger"
	"github.com/kolabsync/otserver/pkg/registry"
	"github.com/kolabsync/otserver/pkg/store"
)

// Config holds the tunables a Server needs at construction, factored out of
// main so both the real binary and tests can build a Server directly.
type Config struct {
	MaxDocumentSize    int // runes; 0 means unlimited
	OutboundBufferSize int
	IdleTimeout        time.Duration
	SweepInterval      time.Duration
	PersistInterval    time.Duration
}

// Stats mirrors the teacher's Stats shape, extended with the persistence
// backend's document count when enabled.
type Stats struct {
	StartTime    int64 `json:"startTime"`
	NumDocuments int   `json:"numDocuments"`
	StoreSize    int   `json:"storeSize"`
}

// Server is the main HTTP server.
type Server struct {
	registry  *registry.Registry
	store     *store.Store // optional
	startTime time.Time
	cfg       Config
	mux       *http.ServeMux
}

// NewServer builds a Server. st may be nil to run fully in-memory.
func NewServer(st *store.Store, cfg Config) *Server {
	var loader registry.Loader
	if st != nil {
		loader = func(ctx context.Context, docID string) (string, uint64, bool, error) {
			snap, err := st.Load(docID)
			if err != nil {
				return "", 0, false, err
			}
			if snap == nil {
				return "", 0, false, nil
			}
			return snap.Text, snap.ServerSeq, true, nil
		}
	}

	s := &Server{
		registry:  registry.New(cfg.OutboundBufferSize, cfg.MaxDocumentSize, cfg.IdleTimeout, loader),
		store:     st,
		startTime: time.Now(),
		cfg:       cfg,
		mux:       http.NewServeMux(),
	}

	s.mux.HandleFunc("/api/socket/", s.handleSocket)
	s.mux.HandleFunc("/api/text/", s.handleText)
	s.mux.HandleFunc("/api/stats", s.handleStats)

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// handleSocket upgrades to a WebSocket and runs the per-connection protocol
// for one document. Route: /api/socket/{docId}.
func (s *Server) handleSocket(w http.ResponseWriter, r *http.Request) {
	docID := strings.TrimPrefix(r.URL.Path, "/api/socket/")
	if docID == "" {
		http.Error(w, "document id required", http.StatusBadRequest)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionDisabled,
	})
	if err != nil {
		logger.Error("server: websocket upgrade failed: %v", err)
		return
	}
	defer ws.Close(websocket.StatusInternalError, "")

	if s.cfg.PersistInterval > 0 && s.store != nil {
		go s.persister(r.Context(), docID)
	}

	if err := s.Handle(r.Context(), docID, ws); err != nil {
		logger.Error("server: connection error for doc %s: %v", docID, err)
	}

	ws.Close(websocket.StatusNormalClosure, "")
}

// handleText returns the current document text as plain UTF-8. Route:
// /api/text/{docId}.
func (s *Server) handleText(w http.ResponseWriter, r *http.Request) {
	docID := strings.TrimPrefix(r.URL.Path, "/api/text/")
	if docID == "" {
		http.Error(w, "document id required", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	if doc, ok := s.registry.Get(docID); ok {
		w.Write([]byte(doc.Text()))
		return
	}

	if s.store != nil {
		if snap, err := s.store.Load(docID); err == nil && snap != nil {
			w.Write([]byte(snap.Text))
			return
		}
	}

	w.Write([]byte(""))
}

// handleStats returns basic server statistics. Route: /api/stats.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := Stats{
		StartTime:    s.startTime.Unix(),
		NumDocuments: s.registry.Count(),
	}
	if s.store != nil {
		if n, err := s.store.Count(); err == nil {
			stats.StoreSize = n
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

// StartSweeper runs the registry's idle-session reclamation on an interval
// until ctx is canceled. Ported from the teacher's StartCleaner.
func (s *Server) StartSweeper(ctx context.Context) {
	if s.cfg.SweepInterval <= 0 {
		return
	}
	s.registry.StartSweeper(ctx, s.cfg.SweepInterval)
}

// persister periodically snapshots a document to the store while it exists,
// ported from the teacher's persister goroutine, adapted to save
// (text, server_seq) pairs and to stop once the registry no longer tracks
// the document (reclaimed or never created).
func (s *Server) persister(ctx context.Context, docID string) {
	ticker := time.NewTicker(s.cfg.PersistInterval)
	defer ticker.Stop()

	var lastSeq uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		doc, ok := s.registry.Get(docID)
		if !ok {
			return
		}
		seq := doc.ServerSeq()
		if seq <= lastSeq {
			continue
		}

		snap := store.Snapshot{DocID: docID, Text: doc.Text(), ServerSeq: seq}
		if err := s.store.Store(snap); err != nil {
			logger.Error("server: persist %s failed: %v", docID, err)
			continue
		}
		lastSeq = seq
	}
}

// ListenAndServe starts the HTTP server on addr.
func (s *Server) ListenAndServe(addr string) error {
	logger.Info("server: listening on %s", addr)
	return http.ListenAndServe(addr, s)
}
