// Package registry owns the process-wide map from document id to its
// DocumentSession, creating sessions lazily on first join and reclaiming
// ones that go idle, the way the teacher's ServerState tracks its documents
// (pkg/server/server.go).
package registry

import (
	"context"
	"sync"
	"time"

	"github.com/kolabsync/otserver/pkg/logger"
	"github.com/kolabsync/otserver/pkg/session"
)

// Loader loads a persisted snapshot for docID, if one exists. Returning
// ok=false means no snapshot is on record and a fresh empty session should
// be created.
type Loader func(ctx context.Context, docID string) (text string, serverSeq uint64, ok bool, err error)

// Registry is the process-wide DocId -> *DocumentSession map.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*session.DocumentSession

	outboundBufferSize int
	maxDocumentSize    int
	idleTimeout        time.Duration
	load               Loader
}

// New creates an empty Registry. load may be nil, in which case sessions
// always start empty (no persistence backing).
func New(outboundBufferSize, maxDocumentSize int, idleTimeout time.Duration, load Loader) *Registry {
	return &Registry{
		sessions:           make(map[string]*session.DocumentSession),
		outboundBufferSize: outboundBufferSize,
		maxDocumentSize:    maxDocumentSize,
		idleTimeout:        idleTimeout,
		load:               load,
	}
}

// GetOrCreate returns the DocumentSession for docID, creating (and, if a
// Loader is configured, hydrating from a snapshot) one on first access.
// Ported from the teacher's getOrCreateDocument, generalized to the new
// DocumentSession type and the snapshot-hydration step the teacher's
// in-memory-only registry didn't need.
func (r *Registry) GetOrCreate(ctx context.Context, docID string) (*session.DocumentSession, error) {
	r.mu.Lock()
	if s, ok := r.sessions[docID]; ok {
		r.mu.Unlock()
		return s, nil
	}
	r.mu.Unlock()

	var s *session.DocumentSession
	if r.load != nil {
		text, serverSeq, ok, err := r.load(ctx, docID)
		if err != nil {
			return nil, err
		}
		if ok {
			s = session.FromSnapshot(text, serverSeq, r.outboundBufferSize, r.maxDocumentSize)
		}
	}
	if s == nil {
		s = session.New(r.outboundBufferSize, r.maxDocumentSize)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.sessions[docID]; ok {
		// Lost the race to create; use the winner.
		return existing, nil
	}
	r.sessions[docID] = s
	logger.Info("registry: created session for doc=%s", docID)
	return s, nil
}

// Get returns the session for docID if it already exists, without creating
// one.
func (r *Registry) Get(docID string) (*session.DocumentSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[docID]
	return s, ok
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// DocIDs returns a snapshot of the currently tracked document ids.
func (r *Registry) DocIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Sweep removes sessions that are both empty (no connected clients) and
// idle for at least r.idleTimeout, returning the ids it reclaimed. Ported
// from the teacher's cleanupExpiredDocuments.
func (r *Registry) Sweep() []string {
	if r.idleTimeout <= 0 {
		return nil
	}
	now := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	var reclaimed []string
	for id, s := range r.sessions {
		if !s.IsEmpty() {
			continue
		}
		if now.Sub(s.LastActivity()) < r.idleTimeout {
			continue
		}
		delete(r.sessions, id)
		reclaimed = append(reclaimed, id)
	}
	if len(reclaimed) > 0 {
		logger.Info("registry: swept %d idle sessions", len(reclaimed))
	}
	return reclaimed
}

// StartSweeper runs Sweep on interval until ctx is canceled. Ported from the
// teacher's StartCleaner goroutine shape.
func (r *Registry) StartSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.Sweep()
			}
		}
	}()
}
