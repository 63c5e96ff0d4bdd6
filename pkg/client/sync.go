// Package client implements ClientSync, the client-side counterpart to
// pkg/session's DocumentSession: optimistic local apply, an outbox of
// unacknowledged operations, and the rebase/ack bookkeeping that keeps a
// client's view converging with the server's per spec.md §4.5. No teacher
// analog exists (the teacher's client lives in TypeScript, outside this
// retrieval pack's Go surface); built in the idiom of the rest of this
// module (exported methods, mutex-guarded state) so it reads as the twin
// of pkg/session rather than an outside style.
package client

import (
	"fmt"
	"sync"

	"github.com/kolabsync/otserver/pkg/ot"
	"github.com/kolabsync/otserver/pkg/rope"
)

// SendFunc transmits an operation to the server. ClientSync calls it with
// the outbox's head under strict send discipline (see Open Question in
// DESIGN.md: this implementation chooses strict, one outstanding op at a
// time, matching the teacher's ApplyEdit contract which assumes the client
// advances its base one ack at a time).
type SendFunc func(baseServerSeq uint64, op ot.Operation) error

// ClientSync is the per-connection client-side OT state machine.
type ClientSync struct {
	mu sync.Mutex

	clientID      string
	nextClientSeq uint64
	baseServerSeq uint64

	local  *rope.Rope
	outbox []ot.Operation // unacknowledged local ops, oldest first

	send        SendFunc
	pendingSend bool // true when an outbox entry has been sent but not yet acked
}

// New constructs a ClientSync seeded with the document snapshot and
// server_seq returned by a Join, per spec.md §4.4 "the snapshot+seq pair is
// the client's base".
func New(clientID string, snapshotText string, baseServerSeq uint64, send SendFunc) *ClientSync {
	return &ClientSync{
		clientID:      clientID,
		baseServerSeq: baseServerSeq,
		local:         rope.New(snapshotText),
		send:          send,
	}
}

// Text returns the client's current local view of the document.
func (c *ClientSync) Text() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.local.String()
}

// BaseServerSeq returns the server_seq this client has fully caught up to.
func (c *ClientSync) BaseServerSeq() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.baseServerSeq
}

// OutboxLen returns the number of unacknowledged local operations.
func (c *ClientSync) OutboxLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.outbox)
}

// Insert performs a local insert: applies it optimistically, enqueues it,
// and (if nothing else is outstanding) sends it immediately.
func (c *ClientSync) Insert(pos uint32, text string) error {
	return c.localEdit(ot.NewInsert(pos, text, c.clientID, 0))
}

// Delete performs a local delete.
func (c *ClientSync) Delete(pos, length uint32) error {
	return c.localEdit(ot.NewDelete(pos, length, c.clientID, 0))
}

func (c *ClientSync) localEdit(op ot.Operation) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	op.ClientSeq = c.nextClientSeq
	c.nextClientSeq++

	if err := c.applyLocal(op); err != nil {
		return fmt.Errorf("client: local apply: %w", err)
	}

	c.outbox = append(c.outbox, op)
	c.maybeSendLocked()
	return nil
}

func (c *ClientSync) applyLocal(op ot.Operation) error {
	switch op.Kind {
	case ot.KindInsert:
		if op.Text == "" {
			return nil
		}
		return c.local.Insert(int(op.Pos), op.Text)
	case ot.KindDelete:
		if op.Len == 0 {
			return nil
		}
		return c.local.Delete(int(op.Pos), int(op.Len))
	}
	return nil
}

// maybeSendLocked sends the oldest unacked outbox entry if the strict send
// discipline currently allows it (nothing else outstanding).
func (c *ClientSync) maybeSendLocked() {
	if c.send == nil || c.pendingSend || len(c.outbox) == 0 {
		return
	}
	c.pendingSend = true
	head := c.outbox[0]
	base := c.baseServerSeq
	go func() {
		if err := c.send(base, head); err != nil {
			c.mu.Lock()
			c.pendingSend = false
			c.mu.Unlock()
		}
	}()
}

// HandleAck pops outbox entries with client_seq <= ack and, under strict
// send discipline, triggers the next pending send (spec.md §4.5 "Inbound
// ack").
func (c *ClientSync) HandleAck(clientSeq uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	i := 0
	for i < len(c.outbox) && c.outbox[i].ClientSeq <= clientSeq {
		i++
	}
	c.outbox = c.outbox[i:]
	if i > 0 {
		c.baseServerSeq++
	}
	c.pendingSend = false
	c.maybeSendLocked()
}

// HandleServerOp applies an inbound server operation authored by another
// client, rebasing it past our own unacknowledged outbox and rewriting the
// outbox so it stays consistent with the new local base (spec.md §4.5
// "Inbound server op").
func (c *ClientSync) HandleServerOp(op ot.ServerOperation) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if op.ClientID == c.clientID {
		// Already applied locally when originally sent; just advance base.
		c.baseServerSeq = op.ServerSeq
		return nil
	}

	rebased := ot.TransformAgainst(op.Operation, c.outbox)

	if err := c.applyLocal(rebased); err != nil {
		return fmt.Errorf("client: apply inbound: %w", err)
	}

	rewritten := make([]ot.Operation, len(c.outbox))
	accumulator := op.Operation
	for i, l := range c.outbox {
		rewritten[i] = ot.Transform(l, accumulator)
		accumulator = ot.Transform(accumulator, l)
	}
	c.outbox = rewritten
	c.baseServerSeq = op.ServerSeq

	return nil
}

// Reconnect discards the outbox and adopts a fresh snapshot and server_seq
// from a new Join, per spec.md §4.5's documented reconnect policy (see
// DESIGN.md: outbox discarded, not re-issued).
func (c *ClientSync) Reconnect(snapshotText string, baseServerSeq uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.local = rope.New(snapshotText)
	c.baseServerSeq = baseServerSeq
	c.outbox = nil
	c.pendingSend = false
}

// ClientID returns this client's id.
func (c *ClientSync) ClientID() string {
	return c.clientID
}
