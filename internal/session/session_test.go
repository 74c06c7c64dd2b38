package session

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/docquery/docquery/internal/log"
)

// newTestStore opens a fresh database with a controllable clock.
func newTestStore(t *testing.T, ttl time.Duration) (*Store, *time.Time) {
	t.Helper()

	db, err := Open(filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := Migrate(db); err != nil {
		t.Fatalf("Migrate() error: %v", err)
	}

	store := NewStore(db, ttl, log.NewNop())
	now := time.Now()
	store.now = func() time.Time { return now }
	return store, &now
}

func TestGetOrCreateMintsNewSession(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t, time.Hour)

	id, turns, err := store.GetOrCreate(ctx, "")
	if err != nil {
		t.Fatalf("GetOrCreate() error: %v", err)
	}
	if id == "" {
		t.Fatal("GetOrCreate() returned empty id")
	}
	if len(turns) != 0 {
		t.Errorf("new session has %d turns, want 0", len(turns))
	}

	// Unknown id also mints, with a different id.
	id2, _, err := store.GetOrCreate(ctx, "no-such-session")
	if err != nil {
		t.Fatal(err)
	}
	if id2 == "no-such-session" || id2 == id {
		t.Errorf("unknown id must mint a fresh session, got %q", id2)
	}
}

func TestGetOrCreateReturnsExistingHistory(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t, time.Hour)

	id, _, err := store.GetOrCreate(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Append(ctx, id, Turn{Role: RoleUser, Content: "hello"}); err != nil {
		t.Fatalf("Append() error: %v", err)
	}

	got, turns, err := store.GetOrCreate(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if got != id {
		t.Errorf("GetOrCreate() id = %q, want %q", got, id)
	}
	if len(turns) != 1 || turns[0].Content != "hello" {
		t.Errorf("turns = %+v, want the appended message", turns)
	}
}

func TestAppendOrdering(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t, time.Hour)

	id, _, err := store.GetOrCreate(ctx, "")
	if err != nil {
		t.Fatal(err)
	}

	contents := []string{"first", "second", "third", "fourth"}
	for i, c := range contents {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		if err := store.Append(ctx, id, Turn{Role: role, Content: c}); err != nil {
			t.Fatalf("Append(%q) error: %v", c, err)
		}
	}

	turns, err := store.History(ctx, id)
	if err != nil {
		t.Fatalf("History() error: %v", err)
	}
	if len(turns) != len(contents) {
		t.Fatalf("got %d turns, want %d", len(turns), len(contents))
	}
	for i, c := range contents {
		if turns[i].Content != c {
			t.Errorf("turn %d = %q, want %q", i, turns[i].Content, c)
		}
	}
}

func TestAppendSources(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t, time.Hour)

	id, _, err := store.GetOrCreate(ctx, "")
	if err != nil {
		t.Fatal(err)
	}

	sources := []Source{{
		DocPath: "guides/setup.md",
		Title:   "Setup Guide",
		Snippet: "Run the installer",
		Score:   0.91,
		URL:     "../guides/setup/",
	}}
	err = store.Append(ctx, id, Turn{Role: RoleAssistant, Content: "answer", Sources: sources})
	if err != nil {
		t.Fatal(err)
	}

	turns, err := store.History(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if len(turns) != 1 || len(turns[0].Sources) != 1 {
		t.Fatalf("turns = %+v, want one turn with one source", turns)
	}
	if turns[0].Sources[0] != sources[0] {
		t.Errorf("source round-trip = %+v, want %+v", turns[0].Sources[0], sources[0])
	}
}

func TestAppendUnknownSession(t *testing.T) {
	store, _ := newTestStore(t, time.Hour)
	err := store.Append(context.Background(), "nope", Turn{Role: RoleUser, Content: "x"})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Append() = %v, want ErrNotFound", err)
	}
}

func TestHistoryUnknownSession(t *testing.T) {
	store, _ := newTestStore(t, time.Hour)
	_, err := store.History(context.Background(), "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("History() = %v, want ErrNotFound", err)
	}
}

func TestExpiryOnAccess(t *testing.T) {
	ctx := context.Background()
	store, clock := newTestStore(t, time.Hour)

	id, _, err := store.GetOrCreate(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Append(ctx, id, Turn{Role: RoleUser, Content: "hello"}); err != nil {
		t.Fatal(err)
	}

	*clock = clock.Add(2 * time.Hour)

	if _, err := store.History(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Errorf("History() after expiry = %v, want ErrNotFound", err)
	}
	if err := store.Append(ctx, id, Turn{Role: RoleUser, Content: "late"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("Append() after expiry = %v, want ErrNotFound", err)
	}

	newID, turns, err := store.GetOrCreate(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if newID == id {
		t.Error("GetOrCreate() reused an expired session id")
	}
	if len(turns) != 0 {
		t.Errorf("expired session leaked %d turns into replacement", len(turns))
	}
}

func TestActivityExtendsSession(t *testing.T) {
	ctx := context.Background()
	store, clock := newTestStore(t, time.Hour)

	id, _, err := store.GetOrCreate(ctx, "")
	if err != nil {
		t.Fatal(err)
	}

	// Keep appending just inside the window; the session must stay live far
	// beyond the original TTL.
	for i := 0; i < 4; i++ {
		*clock = clock.Add(50 * time.Minute)
		if err := store.Append(ctx, id, Turn{Role: RoleUser, Content: "ping"}); err != nil {
			t.Fatalf("Append() at step %d: %v", i, err)
		}
	}

	turns, err := store.History(ctx, id)
	if err != nil {
		t.Fatalf("History() error: %v", err)
	}
	if len(turns) != 4 {
		t.Errorf("got %d turns, want 4", len(turns))
	}
}

func TestEvictExpired(t *testing.T) {
	ctx := context.Background()
	store, clock := newTestStore(t, time.Hour)

	stale, _, err := store.GetOrCreate(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Append(ctx, stale, Turn{Role: RoleUser, Content: "old"}); err != nil {
		t.Fatal(err)
	}

	*clock = clock.Add(2 * time.Hour)
	fresh, _, err := store.GetOrCreate(ctx, "")
	if err != nil {
		t.Fatal(err)
	}

	n, err := store.EvictExpired(ctx)
	if err != nil {
		t.Fatalf("EvictExpired() error: %v", err)
	}
	if n != 1 {
		t.Errorf("EvictExpired() = %d, want 1", n)
	}

	if _, _, err := store.GetOrCreate(ctx, fresh); err != nil {
		t.Errorf("fresh session evicted: %v", err)
	}

	// Cascade removed the stale session's messages.
	var count int
	err = store.db.QueryRowContext(ctx,
		"SELECT count(*) FROM messages WHERE session_id = ?", stale).Scan(&count)
	if err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("stale session still has %d messages", count)
	}
}

func TestSweeperEvictsAndStops(t *testing.T) {
	// The database/sql pool keeps its opener goroutine until db.Close, which
	// runs in t.Cleanup after this check.
	defer goleak.VerifyNone(t,
		goleak.IgnoreTopFunction("database/sql.(*DB).connectionOpener"))

	store, clock := newTestStore(t, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stale, _, err := store.GetOrCreate(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	*clock = clock.Add(2 * time.Hour)

	store.StartSweeper(ctx, 5*time.Millisecond)

	deadline := time.Now().Add(2 * time.Second)
	for {
		var count int
		err := store.db.QueryRowContext(ctx,
			"SELECT count(*) FROM sessions WHERE id = ?", stale).Scan(&count)
		if err != nil {
			t.Fatal(err)
		}
		if count == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("sweeper did not evict the expired session in time")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
}
