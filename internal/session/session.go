// Package session persists conversations in SQLite.
//
// A session is identified by a caller-held opaque ID and expires after a
// configurable inactivity window. Expired sessions behave exactly like
// unknown ones: GetOrCreate mints a fresh ID and History reports not found.
package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/docquery/docquery/internal/log"
)

// ErrNotFound indicates an unknown or expired session.
var ErrNotFound = errors.New("session not found")

// Role identifies the author of a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Source is a citation attached to an assistant turn.
type Source struct {
	DocPath string  `json:"doc_path"`
	Title   string  `json:"title"`
	Snippet string  `json:"snippet"`
	Score   float32 `json:"score"`
	URL     string  `json:"url"`
}

// Turn is one message in a conversation.
type Turn struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Sources   []Source  `json:"sources,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Store manages sessions in a SQLite database. The *sql.DB is owned by the
// caller; Store never closes it.
//
// Store is safe for concurrent use. SQLite serializes writers, and Append
// additionally computes sequence numbers inside a transaction so interleaved
// appends to one session keep a gapless order.
type Store struct {
	db     *sql.DB
	ttl    time.Duration
	logger log.Logger
	now    func() time.Time
}

// Open opens (creating if needed) the SQLite database at dbPath.
func Open(dbPath string) (*sql.DB, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	return db, nil
}

// NewStore creates a Store. ttl is the inactivity window after which a
// session expires.
func NewStore(db *sql.DB, ttl time.Duration, logger log.Logger) *Store {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Store{
		db:     db,
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
	}
}

// GetOrCreate resolves id to a live session and returns its history. An
// empty, unknown or expired id mints a new session; the caller learns the
// effective id from the first return value.
func (s *Store) GetOrCreate(ctx context.Context, id string) (string, []Turn, error) {
	if id != "" {
		live, err := s.isLive(ctx, id)
		if err != nil {
			return "", nil, err
		}
		if live {
			turns, err := s.history(ctx, id)
			if err != nil {
				return "", nil, err
			}
			return id, turns, nil
		}
	}

	newID := uuid.NewString()
	now := s.now().Unix()
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO sessions (id, created_at, updated_at) VALUES (?, ?, ?)",
		newID, now, now)
	if err != nil {
		return "", nil, fmt.Errorf("creating session: %w", err)
	}

	s.logger.Debug("created session", "session_id", newID, "replaced", id != "")
	return newID, nil, nil
}

// Append adds a turn to a live session and refreshes its activity timestamp.
// Appending to an unknown or expired session returns ErrNotFound.
func (s *Store) Append(ctx context.Context, id string, turn Turn) error {
	live, err := s.isLive(ctx, id)
	if err != nil {
		return err
	}
	if !live {
		return fmt.Errorf("%w: %q", ErrNotFound, id)
	}

	var sources any
	if len(turn.Sources) > 0 {
		data, err := json.Marshal(turn.Sources)
		if err != nil {
			return fmt.Errorf("marshaling sources: %w", err)
		}
		sources = string(data)
	}

	createdAt := turn.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (session_id, seq, role, content, sources, created_at)
		VALUES (?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE session_id = ?), ?, ?, ?, ?)`,
		id, id, string(turn.Role), turn.Content, sources, createdAt.Unix())
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE sessions SET updated_at = ? WHERE id = ?", s.now().Unix(), id)
	if err != nil {
		return fmt.Errorf("touching session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing append: %w", err)
	}
	return nil
}

// History returns a live session's turns in append order, or ErrNotFound.
func (s *Store) History(ctx context.Context, id string) ([]Turn, error) {
	live, err := s.isLive(ctx, id)
	if err != nil {
		return nil, err
	}
	if !live {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return s.history(ctx, id)
}

// EvictExpired deletes sessions idle longer than the TTL, with their
// messages, and reports how many were removed.
func (s *Store) EvictExpired(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.ttl).Unix()
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM sessions WHERE updated_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("evicting sessions: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting evicted sessions: %w", err)
	}
	if n > 0 {
		s.logger.Info("evicted expired sessions", "count", n)
	}
	return int(n), nil
}

// StartSweeper evicts expired sessions every interval until ctx is done.
func (s *Store) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.EvictExpired(ctx); err != nil {
					s.logger.Warn("session sweep failed", "error", err)
				}
			}
		}
	}()
}

// isLive reports whether id exists and is within the TTL window.
func (s *Store) isLive(ctx context.Context, id string) (bool, error) {
	var updatedAt int64
	err := s.db.QueryRowContext(ctx,
		"SELECT updated_at FROM sessions WHERE id = ?", id).Scan(&updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("looking up session: %w", err)
	}
	return s.now().Sub(time.Unix(updatedAt, 0)) <= s.ttl, nil
}

// history loads turns without a liveness check.
func (s *Store) history(ctx context.Context, id string) ([]Turn, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT role, content, sources, created_at
		FROM messages WHERE session_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var turns []Turn
	for rows.Next() {
		var (
			role      string
			content   string
			sources   sql.NullString
			createdAt int64
		)
		if err := rows.Scan(&role, &content, &sources, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}

		turn := Turn{
			Role:      Role(role),
			Content:   content,
			CreatedAt: time.Unix(createdAt, 0).UTC(),
		}
		if sources.Valid && sources.String != "" {
			if err := json.Unmarshal([]byte(sources.String), &turn.Sources); err != nil {
				// A corrupt sources blob should not hide the message itself.
				s.logger.Warn("dropping unparseable sources", "session_id", id, "error", err)
			}
		}
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading history: %w", err)
	}
	return turns, nil
}
