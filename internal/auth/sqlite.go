package auth

import (
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/uznikturbo/service/pkg/protocol"
)

// SQLiteStore is a Store persisted in SQLite so a restart does not
// force re-login. The in-memory copy is authoritative for reads; the
// database write is best-effort — a storage failure degrades the
// session to in-memory-only credentials, never a hard error.
type SQLiteStore struct {
	mu     sync.Mutex
	db     *sql.DB
	creds  protocol.Credentials
	held   bool
	logger *slog.Logger
}

// NewSQLiteStore opens (or creates) the credential database and loads
// any persisted session.
func NewSQLiteStore(path string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("credential store: open: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("credential store: wal: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS credentials (
			id            INTEGER PRIMARY KEY CHECK (id = 1),
			access_token  TEXT NOT NULL,
			refresh_token TEXT NOT NULL,
			updated_at    TEXT NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("credential store: migrate: %w", err)
	}

	s := &SQLiteStore{db: db, logger: logger}

	row := db.QueryRow(`SELECT access_token, refresh_token FROM credentials WHERE id = 1`)
	var creds protocol.Credentials
	switch err := row.Scan(&creds.AccessToken, &creds.RefreshToken); err {
	case nil:
		s.creds = creds
		s.held = true
	case sql.ErrNoRows:
		// no persisted session
	default:
		logger.Warn("credential store: load failed, starting without session", "error", err)
	}

	return s, nil
}

func (s *SQLiteStore) Get() (protocol.Credentials, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creds, s.held
}

func (s *SQLiteStore) Set(creds protocol.Credentials) {
	s.mu.Lock()
	s.creds = creds
	s.held = true
	s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO credentials (id, access_token, refresh_token, updated_at)
		VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			access_token=excluded.access_token,
			refresh_token=excluded.refresh_token,
			updated_at=excluded.updated_at
	`, creds.AccessToken, creds.RefreshToken, time.Now().Format(time.RFC3339))
	if err != nil {
		s.logger.Warn("credential store: persist failed, session is in-memory only", "error", err)
	}
}

func (s *SQLiteStore) Clear() {
	s.mu.Lock()
	s.creds = protocol.Credentials{}
	s.held = false
	s.mu.Unlock()

	if _, err := s.db.Exec(`DELETE FROM credentials WHERE id = 1`); err != nil {
		s.logger.Warn("credential store: clear failed", "error", err)
	}
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error { return s.db.Close() }
