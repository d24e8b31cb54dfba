package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"offline-contest/internal/domain"
	"offline-contest/internal/storage"
)

func TestOpenCreatesDirectory(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "nested", "dir", "contest.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestKVStoreUpsertAndRemove(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "contest.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()
	ctx := context.Background()

	if _, err := s.Get(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	if err := s.Set(ctx, storage.SessionKey("c1"), []byte(`{"timeLeftSeconds":10}`)); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.Set(ctx, storage.SessionKey("c1"), []byte(`{"timeLeftSeconds":9}`)); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	var state domain.ContestSessionState
	found, err := storage.GetJSON(ctx, s, storage.SessionKey("c1"), &state)
	if err != nil || !found {
		t.Fatalf("expected state, found=%v err=%v", found, err)
	}
	if state.TimeLeftSeconds != 9 {
		t.Fatalf("expected upserted value 9, got %d", state.TimeLeftSeconds)
	}

	if err := s.Set(ctx, storage.ResultsKey("c1"), []byte(`[]`)); err != nil {
		t.Fatalf("set results: %v", err)
	}
	if err := s.Remove(ctx, storage.SessionKey("c1"), storage.ResultsKey("c1"), "missing"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := s.Get(ctx, storage.ResultsKey("c1")); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected removed, got %v", err)
	}
}

func TestKVStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "contest.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.Set(context.Background(), storage.PreparedKey("c1"), []byte("true")); err != nil {
		t.Fatalf("set: %v", err)
	}
	s.Close()

	s, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	got, err := s.Get(context.Background(), storage.PreparedKey("c1"))
	if err != nil || string(got) != "true" {
		t.Fatalf("expected durable value, got %q err=%v", got, err)
	}
}
