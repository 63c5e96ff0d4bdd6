package registry

import (
	"context"
	"testing"
	"time"
)

func TestGetOrCreateIsIdempotent(t *testing.T) {
	r := New(16, 0, 0, nil)
	ctx := context.Background()

	s1, err := r.GetOrCreate(ctx, "doc-1")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	s2, err := r.GetOrCreate(ctx, "doc-1")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if s1 != s2 {
		t.Fatal("expected the same session for the same doc id")
	}
	if r.Count() != 1 {
		t.Fatalf("expected 1 session, got %d", r.Count())
	}
}

func TestGetOrCreateHydratesFromLoader(t *testing.T) {
	load := func(ctx context.Context, docID string) (string, uint64, bool, error) {
		return "saved text", 3, true, nil
	}
	r := New(16, 0, 0, load)
	s, err := r.GetOrCreate(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if s.Text() != "saved text" {
		t.Fatalf("got text %q", s.Text())
	}
	if s.ServerSeq() != 3 {
		t.Fatalf("got serverSeq %d", s.ServerSeq())
	}
}

func TestGetReturnsFalseForUnknownDoc(t *testing.T) {
	r := New(16, 0, 0, nil)
	if _, ok := r.Get("missing"); ok {
		t.Fatal("expected Get to report not found")
	}
}

func TestSweepReclaimsOnlyIdleEmptySessions(t *testing.T) {
	r := New(16, 0, time.Millisecond, nil)
	ctx := context.Background()

	empty, err := r.GetOrCreate(ctx, "empty-doc")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	_ = empty

	busy, err := r.GetOrCreate(ctx, "busy-doc")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	busy.Join("A", "Alice", "#fff")

	time.Sleep(5 * time.Millisecond)

	reclaimed := r.Sweep()
	if len(reclaimed) != 1 || reclaimed[0] != "empty-doc" {
		t.Fatalf("expected only empty-doc reclaimed, got %v", reclaimed)
	}
	if r.Count() != 1 {
		t.Fatalf("expected 1 session remaining, got %d", r.Count())
	}
	if _, ok := r.Get("busy-doc"); !ok {
		t.Fatal("expected busy-doc to remain")
	}
}

func TestSweepNoopWhenIdleTimeoutZero(t *testing.T) {
	r := New(16, 0, 0, nil)
	r.GetOrCreate(context.Background(), "doc-1")
	if reclaimed := r.Sweep(); reclaimed != nil {
		t.Fatalf("expected no reclamation with zero idle timeout, got %v", reclaimed)
	}
}
