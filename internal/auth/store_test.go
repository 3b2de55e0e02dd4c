package auth

import (
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/uznikturbo/service/pkg/protocol"
)

func TestMemStoreLifecycle(t *testing.T) {
	store := NewMemStore()

	if _, ok := store.Get(); ok {
		t.Error("fresh store should hold no session")
	}

	creds := protocol.Credentials{AccessToken: "acc", RefreshToken: "ref"}
	store.Set(creds)

	got, ok := store.Get()
	if !ok {
		t.Fatal("expected a session after Set")
	}
	if got != creds {
		t.Errorf("got %+v, want %+v", got, creds)
	}

	store.Clear()
	if _, ok := store.Get(); ok {
		t.Error("expected no session after Clear")
	}
}

func TestSQLiteStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.db")
	logger := slog.Default()

	store, err := NewSQLiteStore(path, logger)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	creds := protocol.Credentials{AccessToken: "acc-1", RefreshToken: "ref-1"}
	store.Set(creds)
	store.Close()

	reopened, err := NewSQLiteStore(path, logger)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer reopened.Close()

	got, ok := reopened.Get()
	if !ok {
		t.Fatal("expected session to survive reopen")
	}
	if got != creds {
		t.Errorf("got %+v, want %+v", got, creds)
	}
}

func TestSQLiteStoreSetOverwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.db")
	store, err := NewSQLiteStore(path, slog.Default())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	store.Set(protocol.Credentials{AccessToken: "old", RefreshToken: "old-r"})
	store.Set(protocol.Credentials{AccessToken: "new", RefreshToken: "new-r"})

	got, ok := store.Get()
	if !ok {
		t.Fatal("expected a session")
	}
	if got.AccessToken != "new" || got.RefreshToken != "new-r" {
		t.Errorf("expected latest pair, got %+v", got)
	}
}

func TestSQLiteStoreClear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.db")
	store, err := NewSQLiteStore(path, slog.Default())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	store.Set(protocol.Credentials{AccessToken: "acc", RefreshToken: "ref"})
	store.Clear()
	store.Close()

	reopened, err := NewSQLiteStore(path, slog.Default())
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer reopened.Close()
	if _, ok := reopened.Get(); ok {
		t.Error("expected Clear to remove the persisted session")
	}
}
