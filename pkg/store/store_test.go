package store

import "testing"

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestLoadMissingReturnsNilNoError(t *testing.T) {
	s := openTestStore(t)
	snap, err := s.Load("missing-doc")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if snap != nil {
		t.Fatalf("expected nil snapshot, got %+v", snap)
	}
}

func TestStoreThenLoadRoundtrips(t *testing.T) {
	s := openTestStore(t)
	want := Snapshot{DocID: "doc-1", Text: "hello world", ServerSeq: 7}

	if err := s.Store(want); err != nil {
		t.Fatalf("Store: %v", err)
	}

	got, err := s.Load("doc-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got == nil || got.Text != want.Text || got.ServerSeq != want.ServerSeq {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestStoreUpsertsOnConflict(t *testing.T) {
	s := openTestStore(t)
	if err := s.Store(Snapshot{DocID: "doc-1", Text: "v1", ServerSeq: 1}); err != nil {
		t.Fatalf("Store v1: %v", err)
	}
	if err := s.Store(Snapshot{DocID: "doc-1", Text: "v2", ServerSeq: 2}); err != nil {
		t.Fatalf("Store v2: %v", err)
	}

	got, err := s.Load("doc-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Text != "v2" || got.ServerSeq != 2 {
		t.Fatalf("expected upsert to v2, got %+v", got)
	}

	count, err := s.Count()
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 document after upsert, got %d", count)
	}
}

func TestDeleteRemovesSnapshot(t *testing.T) {
	s := openTestStore(t)
	s.Store(Snapshot{DocID: "doc-1", Text: "x", ServerSeq: 1})

	if err := s.Delete("doc-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	got, err := s.Load("doc-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil after delete, got %+v", got)
	}
}
