// Package session implements the authoritative server-side document state:
// DocumentSession owns a rope-backed document, a monotonic server sequence,
// an append-only operation log, and the roster of connected clients. It
// applies operations under a single per-document lock, stamps them with a
// server sequence, acknowledges the originator, and broadcasts to everyone
// else. Ported from the teacher's Kolabpad/State (pkg/server/kolabpad.go)
// from the Retain/Insert/Delete OperationSeq model to this spec's
// pos/client_id/client_seq operation algebra.
package session

import (
	"errors"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/kolabsync/otserver/pkg/logger"
	"github.com/kolabsync/otserver/pkg/ot"
	"github.com/kolabsync/otserver/pkg/rope"
)

// ErrInvalidRevision is returned when a client's reported base_server_seq
// is greater than the session's current server_seq.
var ErrInvalidRevision = errors.New("session: invalid revision")

// ErrUnknownClient names a client that is not on the session's roster. No
// DocumentSession method returns it: Apply from a client missing from the
// roster still applies, logs and broadcasts the op, and sends no ack.
var ErrUnknownClient = errors.New("session: unknown client")

// ErrSlowConsumer names an outbound queue overflow. No DocumentSession
// method returns it: deliver runs Disconnect for the overflowing client
// itself.
var ErrSlowConsumer = errors.New("session: slow consumer")

// ErrHistoryTruncated is returned when a client's base_server_seq predates
// the oldest operation this session has retained (e.g. a client rejoining
// with a base from before a snapshot reload started a fresh log window).
var ErrHistoryTruncated = errors.New("session: base revision predates retained history")

// ClientInfo is a connected client's presence metadata.
type ClientInfo struct {
	ClientID string
	Name     string
	Color    string
}

// Event is something the session wants delivered to a specific client's
// transport. Events are enqueued under the session's lock with non-blocking
// channel sends; the network writes that consume them happen outside it,
// per spec.md §5.
type Event struct {
	Kind       EventKind
	Ack        *AckEvent
	Op         *ot.ServerOperation
	Join       *ClientInfo
	Disconnect string // client id that disconnected
	Cursor     *CursorEvent
	Metadata   *MetadataEvent
}

// EventKind tags an Event's payload.
type EventKind int

const (
	EventAck EventKind = iota
	EventOp
	EventJoin
	EventDisconnect
	EventCursor
	EventMetadata
)

// AckEvent acknowledges a client's own operation.
type AckEvent struct {
	ClientSeq uint64
	ServerSeq uint64
}

// CursorEvent is an opaque cursor payload pass-through (spec.md §4.4).
type CursorEvent struct {
	FromClientID string
	Payload      any
}

// MetadataEvent is the supplemented language/mode broadcast (SPEC_FULL.md §9).
type MetadataEvent struct {
	Key      string
	Value    string
	ClientID string
}

// client is the server-side handle for one connected client.
type client struct {
	info    ClientInfo
	outbox  chan Event
	lastSeq uint64 // last acknowledged client_seq
}

// DocumentSession is the authoritative state for one document.
type DocumentSession struct {
	mu sync.Mutex

	rope      *rope.Rope
	serverSeq uint64
	ops       []ot.ServerOperation
	clients   map[string]*client

	outboundBufferSize int
	maxDocumentSize    int // in runes; 0 means unlimited
	lastActivity       time.Time
	metadata           map[string]string
}

// New creates an empty DocumentSession.
func New(outboundBufferSize, maxDocumentSize int) *DocumentSession {
	return &DocumentSession{
		rope:               rope.New(""),
		clients:            make(map[string]*client),
		outboundBufferSize: outboundBufferSize,
		maxDocumentSize:    maxDocumentSize,
		lastActivity:       time.Now(),
		metadata:           make(map[string]string),
	}
}

// FromSnapshot creates a DocumentSession seeded with previously persisted
// text, as a single system-authored entry in the operation log (teacher:
// FromPersistedDocument).
func FromSnapshot(text string, serverSeq uint64, outboundBufferSize, maxDocumentSize int) *DocumentSession {
	s := New(outboundBufferSize, maxDocumentSize)
	if text != "" {
		s.rope = rope.New(text)
		s.serverSeq = serverSeq
		s.ops = []ot.ServerOperation{
			{
				Operation: ot.NewInsert(0, text, systemClientID, 0),
				ServerSeq: serverSeq,
			},
		}
	}
	return s
}

const systemClientID = "\x00system"

// ServerSeq returns the current server sequence number.
func (s *DocumentSession) ServerSeq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serverSeq
}

// Text returns the current document text.
func (s *DocumentSession) Text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rope.String()
}

// ClientCount returns the number of connected clients.
func (s *DocumentSession) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// LastActivity returns the time of the most recent Apply.
func (s *DocumentSession) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// Join registers a new client, returning its outbound event channel plus
// the snapshot it needs to initialize: the current server_seq and document
// text, captured atomically with the roster update (spec.md §4.4, §9
// "Snapshot atomicity on join"). A join notification is pushed to every
// other already-connected client.
func (s *DocumentSession) Join(clientID, name, color string) (events <-chan Event, serverSeq uint64, text string, roster []ClientInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan Event, s.outboundBufferSize)
	info := ClientInfo{ClientID: clientID, Name: name, Color: color}

	for _, c := range s.clients {
		roster = append(roster, c.info)
		s.deliver(c, Event{Kind: EventJoin, Join: &info})
	}

	s.clients[clientID] = &client{info: info, outbox: ch}
	return ch, s.serverSeq, s.rope.String(), roster
}

// Apply validates, applies, logs, acknowledges, and broadcasts an edit from
// clientID. baseServerSeq is the server_seq the client had last observed;
// op.Pos/op.Len are interpreted against that base and rebased against every
// op logged since. Returns the stamped ServerOperation.
//
// The critical section (validate, rope-mutate, log-append, stamp) is
// strictly bounded by s.mu; ack/broadcast enqueueing happens inside the
// same lock (cheap, non-blocking channel sends) but the actual network
// I/O happens entirely outside it, per spec.md §5.
func (s *DocumentSession) Apply(clientID string, baseServerSeq uint64, op ot.Operation) (ot.ServerOperation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if baseServerSeq > s.serverSeq {
		return ot.ServerOperation{}, fmt.Errorf("%w: got %d, current is %d", ErrInvalidRevision, baseServerSeq, s.serverSeq)
	}

	transformed := s.clampToBounds(op)

	// s.ops is a trailing window of the log, not an absolute server_seq
	// index: after FromSnapshot it holds a single synthetic entry whose
	// ServerSeq equals the persisted serverSeq, not len(ops). Compute the
	// rebase window from the seq delta instead of indexing by
	// baseServerSeq directly, which would assume a full, un-truncated log.
	delta := s.serverSeq - baseServerSeq
	if delta > uint64(len(s.ops)) {
		return ot.ServerOperation{}, fmt.Errorf("%w: base %d, oldest retained is %d", ErrHistoryTruncated, baseServerSeq, s.serverSeq-uint64(len(s.ops)))
	}
	off := len(s.ops) - int(delta)
	since := s.ops[off:]
	if len(since) > 0 {
		batch := make([]ot.Operation, len(since))
		for i, h := range since {
			batch[i] = h.Operation
		}
		transformed = ot.TransformAgainst(transformed, batch)
		transformed = s.clampToBounds(transformed)
	}

	// Validate the resulting size before mutating the rope: applyToRope has
	// no bound of its own, so the check must happen first or the rope and
	// the op log can desynchronize (rope mutated, op never logged/stamped).
	transformed = s.clampToDocumentSize(transformed)

	if err := s.applyToRope(transformed); err != nil {
		return ot.ServerOperation{}, err
	}

	s.serverSeq++
	stamped := ot.ServerOperation{Operation: transformed, ServerSeq: s.serverSeq}
	stamped.Operation.ClientID = clientID
	s.ops = append(s.ops, stamped)
	s.lastActivity = time.Now()

	logger.Debug("session: apply client=%s base=%d server_seq=%d pos=%d", clientID, baseServerSeq, s.serverSeq, stamped.Pos)

	if originator, ok := s.clients[clientID]; ok {
		originator.lastSeq = op.ClientSeq
		s.deliver(originator, Event{Kind: EventAck, Ack: &AckEvent{ClientSeq: op.ClientSeq, ServerSeq: s.serverSeq}})
	}

	for id, c := range s.clients {
		if id == clientID {
			continue
		}
		s.deliver(c, Event{Kind: EventOp, Op: &stamped})
	}

	return stamped, nil
}

// clampToBounds clamps op.Pos (and op.Len for deletes) into the current
// rope's valid range, per spec.md §7's InvalidPosition policy: clamp rather
// than reject.
func (s *DocumentSession) clampToBounds(op ot.Operation) ot.Operation {
	length := uint32(s.rope.Len())
	if op.Pos > length {
		op.Pos = length
	}
	if op.Kind == ot.KindDelete && op.Pos+op.Len > length {
		op.Len = length - op.Pos
	}
	return op
}

// clampToDocumentSize shrinks an insert's text so the rope never grows past
// maxDocumentSize, per spec.md §7's clamp-rather-than-reject policy. Deletes
// never grow the document so they pass through unchanged.
func (s *DocumentSession) clampToDocumentSize(op ot.Operation) ot.Operation {
	if s.maxDocumentSize <= 0 || op.Kind != ot.KindInsert || op.Text == "" {
		return op
	}

	room := s.maxDocumentSize - s.rope.Len()
	if room <= 0 {
		op.Text = ""
		return op
	}
	if n := utf8.RuneCountInString(op.Text); n > room {
		runes := []rune(op.Text)
		op.Text = string(runes[:room])
	}
	return op
}

func (s *DocumentSession) applyToRope(op ot.Operation) error {
	switch op.Kind {
	case ot.KindInsert:
		if op.Text == "" {
			return nil
		}
		return s.rope.Insert(int(op.Pos), op.Text)
	case ot.KindDelete:
		if op.Len == 0 {
			return nil
		}
		return s.rope.Delete(int(op.Pos), int(op.Len))
	}
	return nil
}

// Cursor fans out an opaque cursor payload to every other client, per
// spec.md §4.4: the session does not validate or transform it.
func (s *DocumentSession) Cursor(clientID string, payload any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, c := range s.clients {
		if id == clientID {
			continue
		}
		s.deliver(c, Event{Kind: EventCursor, Cursor: &CursorEvent{FromClientID: clientID, Payload: payload}})
	}
}

// SetMetadata broadcasts a generic key/value (language, mode, ...) to every
// other client. See SPEC_FULL.md §9.
func (s *DocumentSession) SetMetadata(clientID, key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.metadata[key] = value
	for id, c := range s.clients {
		if id == clientID {
			continue
		}
		s.deliver(c, Event{Kind: EventMetadata, Metadata: &MetadataEvent{Key: key, Value: value, ClientID: clientID}})
	}
}

// Metadata returns the current value for key, and whether it is set.
func (s *DocumentSession) Metadata(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.metadata[key]
	return v, ok
}

// Disconnect removes clientID from the roster and notifies the rest.
func (s *DocumentSession) Disconnect(clientID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.clients[clientID]
	if !ok {
		return
	}
	delete(s.clients, clientID)
	close(c.outbox)

	for _, other := range s.clients {
		s.deliver(other, Event{Kind: EventDisconnect, Disconnect: clientID})
	}
}

// deliver enqueues an event on c's outbound channel without blocking. A
// full channel means the client is a slow consumer (spec.md §5); the
// session disconnects it rather than buffering unboundedly.
func (s *DocumentSession) deliver(c *client, ev Event) {
	select {
	case c.outbox <- ev:
	default:
		logger.Error("session: slow consumer %s, disconnecting", c.info.ClientID)
		go s.Disconnect(c.info.ClientID)
	}
}

// History returns the log entries with server_seq > since, clamped to
// whatever this session has retained. Like Apply's rebase window, this
// indexes s.ops by its seq delta from s.serverSeq rather than by since
// directly: s.ops is a trailing window, not an absolute server_seq index
// (see FromSnapshot).
func (s *DocumentSession) History(since uint64) []ot.ServerOperation {
	s.mu.Lock()
	defer s.mu.Unlock()

	if since >= s.serverSeq {
		return nil
	}
	delta := s.serverSeq - since
	if delta > uint64(len(s.ops)) {
		delta = uint64(len(s.ops))
	}
	off := len(s.ops) - int(delta)
	out := make([]ot.ServerOperation, len(s.ops)-off)
	copy(out, s.ops[off:])
	return out
}

// Roster returns the currently connected clients.
func (s *DocumentSession) Roster() []ClientInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]ClientInfo, 0, len(s.clients))
	for _, c := range s.clients {
		out = append(out, c.info)
	}
	return out
}

// IsEmpty reports whether the session has no connected clients, making it
// eligible for reclamation (spec.md §4.4 state machine: Active -> Empty).
func (s *DocumentSession) IsEmpty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients) == 0
}
