package session

import (
	"testing"

	"github.com/kolabsync/otserver/pkg/ot"
)

func drain(t *testing.T, ch <-chan Event, n int) []Event {
	t.Helper()
	var out []Event
	for i := 0; i < n; i++ {
		select {
		case ev := <-ch:
			out = append(out, ev)
		default:
			t.Fatalf("expected %d events, got %d", n, i)
		}
	}
	return out
}

func TestJoinReturnsSnapshot(t *testing.T) {
	s := New(16, 0)
	ch, serverSeq, text, roster := s.Join("A", "Alice", "#ff0000")
	if serverSeq != 0 {
		t.Fatalf("expected serverSeq 0, got %d", serverSeq)
	}
	if text != "" {
		t.Fatalf("expected empty text, got %q", text)
	}
	if len(roster) != 0 {
		t.Fatalf("expected empty roster, got %v", roster)
	}
	if ch == nil {
		t.Fatal("expected non-nil channel")
	}
}

func TestApplyStampsAndAcks(t *testing.T) {
	s := New(16, 0)
	chA, _, _, _ := s.Join("A", "Alice", "#fff")

	op := ot.NewInsert(0, "hello", "A", 1)
	stamped, err := s.Apply("A", 0, op)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if stamped.ServerSeq != 1 {
		t.Fatalf("expected serverSeq 1, got %d", stamped.ServerSeq)
	}
	if s.Text() != "hello" {
		t.Fatalf("expected text %q, got %q", "hello", s.Text())
	}

	events := drain(t, chA, 1)
	if events[0].Kind != EventAck {
		t.Fatalf("expected ack event, got %v", events[0].Kind)
	}
	if events[0].Ack.ClientSeq != 1 || events[0].Ack.ServerSeq != 1 {
		t.Fatalf("unexpected ack payload: %+v", events[0].Ack)
	}
}

func TestApplyBroadcastsToOtherClients(t *testing.T) {
	s := New(16, 0)
	chA, _, _, _ := s.Join("A", "Alice", "#fff")
	chB, _, _, _ := s.Join("B", "Bob", "#000")

	// B's join notifies the clients already present: A was alone when B
	// joined, so A gets the join notice.
	joinEvents := drain(t, chA, 1)
	if joinEvents[0].Kind != EventJoin || joinEvents[0].Join.ClientID != "B" {
		t.Fatalf("expected join event for B, got %+v", joinEvents[0])
	}

	op := ot.NewInsert(0, "hi", "A", 1)
	if _, err := s.Apply("A", 0, op); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	aEvents := drain(t, chA, 1)
	if aEvents[0].Kind != EventAck {
		t.Fatalf("expected ack for A, got %v", aEvents[0].Kind)
	}

	bEvents := drain(t, chB, 1)
	if bEvents[0].Kind != EventOp {
		t.Fatalf("expected op broadcast to B, got %v", bEvents[0].Kind)
	}
	if bEvents[0].Op.ServerSeq != 1 || bEvents[0].Op.Text != "hi" {
		t.Fatalf("unexpected broadcast payload: %+v", bEvents[0].Op)
	}
}

func TestApplyRebasesAgainstHistorySinceBase(t *testing.T) {
	s := New(16, 0)
	s.Join("A", "Alice", "#fff")
	s.Join("B", "Bob", "#000")

	// Both start from server_seq 0 against "".
	if _, err := s.Apply("A", 0, ot.NewInsert(0, "hello", "A", 1)); err != nil {
		t.Fatalf("Apply A: %v", err)
	}
	// B's op was authored against base 0 too, concurrently.
	stamped, err := s.Apply("B", 0, ot.NewInsert(0, "!!!", "B", 1))
	if err != nil {
		t.Fatalf("Apply B: %v", err)
	}

	// A's client id < B's, so A's insert wins the tie at pos 0 and B's
	// rebased op must land after it.
	if stamped.Pos != 5 {
		t.Fatalf("expected B's rebased pos 5, got %d", stamped.Pos)
	}
	if s.Text() != "hello!!!" {
		t.Fatalf("got text %q", s.Text())
	}
}

func TestApplyRejectsFutureRevision(t *testing.T) {
	s := New(16, 0)
	s.Join("A", "Alice", "#fff")
	_, err := s.Apply("A", 5, ot.NewInsert(0, "x", "A", 1))
	if err == nil {
		t.Fatal("expected error for future revision")
	}
}

func TestDisconnectNotifiesRosterAndClosesChannel(t *testing.T) {
	s := New(16, 0)
	chA, _, _, _ := s.Join("A", "Alice", "#fff")
	chB, _, _, _ := s.Join("B", "Bob", "#000")
	drain(t, chB, 0)

	s.Disconnect("A")

	events := drain(t, chB, 1)
	if events[0].Kind != EventDisconnect || events[0].Disconnect != "A" {
		t.Fatalf("expected disconnect event for A, got %+v", events[0])
	}
	drain(t, chA, 1) // join notice for B, queued before the close
	if _, ok := <-chA; ok {
		t.Fatal("expected A's event channel to be closed after disconnect")
	}
	if s.ClientCount() != 1 {
		t.Fatalf("expected 1 client remaining, got %d", s.ClientCount())
	}
}

func TestFromSnapshotSeedsLogAndText(t *testing.T) {
	s := FromSnapshot("existing text", 7, 16, 0)
	if s.Text() != "existing text" {
		t.Fatalf("got %q", s.Text())
	}
	if s.ServerSeq() != 7 {
		t.Fatalf("expected serverSeq 7, got %d", s.ServerSeq())
	}
	hist := s.History(0)
	if len(hist) != 1 || hist[0].ServerSeq != 7 {
		t.Fatalf("unexpected history: %+v", hist)
	}
}

func TestApplyAfterSnapshotReloadDoesNotPanic(t *testing.T) {
	// Regression: before fixing the rebase window, a client rejoining a
	// session reloaded from a snapshot with serverSeq >= 2 and sending its
	// first op with BaseServerSeq == serverSeq indexed s.ops (len 1) by the
	// absolute serverSeq and panicked with a slice-bounds-out-of-range.
	s := FromSnapshot("existing text", 7, 16, 0)
	s.Join("A", "Alice", "#fff")

	stamped, err := s.Apply("A", 7, ot.NewInsert(13, "!", "A", 1))
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if stamped.ServerSeq != 8 {
		t.Fatalf("expected serverSeq 8, got %d", stamped.ServerSeq)
	}
	if s.Text() != "existing text!" {
		t.Fatalf("got %q", s.Text())
	}
}

func TestApplyRejectsBaseOlderThanRetainedHistory(t *testing.T) {
	s := FromSnapshot("existing text", 7, 16, 0)
	s.Join("A", "Alice", "#fff")

	// base 5 predates the single synthetic entry retained after reload
	// (which only covers up to serverSeq 7); this must be a controlled
	// error, not a panic or a silently wrong rebase.
	_, err := s.Apply("A", 5, ot.NewInsert(0, "x", "A", 1))
	if err == nil {
		t.Fatal("expected an error for a base older than retained history")
	}
}

func TestApplyClampsInsertAtMaxDocumentSizeWithoutCorruptingLog(t *testing.T) {
	s := New(16, 5)
	s.Join("A", "Alice", "#fff")

	if _, err := s.Apply("A", 0, ot.NewInsert(0, "hello", "A", 1)); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if s.Text() != "hello" {
		t.Fatalf("got %q", s.Text())
	}

	// The document is already at the 5-rune limit; this insert must be
	// clamped to a no-op rather than growing the rope past the bound.
	stamped, err := s.Apply("A", 1, ot.NewInsert(5, " world", "A", 2))
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if s.Text() != "hello" {
		t.Fatalf("expected document unchanged at the size bound, got %q", s.Text())
	}

	// The op log must still have advanced in lockstep with serverSeq, or a
	// future rebase would index into a log missing this entry.
	hist := s.History(0)
	if len(hist) != 2 || hist[1].ServerSeq != stamped.ServerSeq {
		t.Fatalf("expected op log to include the clamped op, got %+v", hist)
	}
}

func TestClampToBoundsOutOfRangeInsert(t *testing.T) {
	s := New(16, 0)
	s.Join("A", "Alice", "#fff")
	if _, err := s.Apply("A", 0, ot.NewInsert(0, "hi", "A", 1)); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	// pos 999 should clamp to the current length (2).
	stamped, err := s.Apply("A", 1, ot.NewInsert(999, "!", "A", 2))
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if stamped.Pos != 2 {
		t.Fatalf("expected clamped pos 2, got %d", stamped.Pos)
	}
	if s.Text() != "hi!" {
		t.Fatalf("got %q", s.Text())
	}
}

func TestCursorFansOutToOthersOnly(t *testing.T) {
	s := New(16, 0)
	chA, _, _, _ := s.Join("A", "Alice", "#fff")
	chB, _, _, _ := s.Join("B", "Bob", "#000")
	drain(t, chA, 1) // join notice for B

	s.Cursor("A", map[string]int{"line": 3})

	events := drain(t, chB, 1)
	if events[0].Kind != EventCursor || events[0].Cursor.FromClientID != "A" {
		t.Fatalf("unexpected cursor event: %+v", events[0])
	}
	select {
	case ev := <-chA:
		t.Fatalf("A should not receive its own cursor event, got %+v", ev)
	default:
	}
}

func TestIsEmpty(t *testing.T) {
	s := New(16, 0)
	if !s.IsEmpty() {
		t.Fatal("expected new session to be empty")
	}
	s.Join("A", "Alice", "#fff")
	if s.IsEmpty() {
		t.Fatal("expected session to be non-empty after join")
	}
	s.Disconnect("A")
	if !s.IsEmpty() {
		t.Fatal("expected session to be empty after disconnect")
	}
}
