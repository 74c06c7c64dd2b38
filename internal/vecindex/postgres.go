package vecindex

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5" // pgx5:// migrate driver
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/docquery/docquery/internal/log"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Postgres is the pgvector-backed Index.
//
// The pool is owned by the caller; Postgres never closes it. All queries are
// parameterized through pgx.
type Postgres struct {
	pool   *pgxpool.Pool
	dim    int
	logger log.Logger
}

// NewPostgres creates a Postgres index over an existing pool. dim must match
// the vector column dimension provisioned by the migrations.
func NewPostgres(pool *pgxpool.Pool, dim int, logger log.Logger) *Postgres {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Postgres{pool: pool, dim: dim, logger: logger}
}

// Migrate applies the embedded schema migrations against the database at
// postgresURL (a postgres:// connection string). Safe to call on every start.
func Migrate(postgresURL string) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("loading embedded migrations: %w", err)
	}

	// golang-migrate selects its pgx/v5 driver by URL scheme.
	url := strings.Replace(postgresURL, "postgres://", "pgx5://", 1)

	m, err := migrate.NewWithSourceInstance("iofs", src, url)
	if err != nil {
		return fmt.Errorf("creating migrator: %w", err)
	}
	defer func() { _, _ = m.Close() }()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("applying migrations: %w", err)
	}
	return nil
}

const upsertChunkSQL = `
INSERT INTO chunks (doc_path, ordinal, title, section, content, embedding)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (doc_path, ordinal) DO UPDATE SET
    title = EXCLUDED.title,
    section = EXCLUDED.section,
    content = EXCLUDED.content,
    embedding = EXCLUDED.embedding,
    updated_at = now()`

// Upsert implements Index. Entries are written in one batch round-trip.
func (p *Postgres) Upsert(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	for _, e := range entries {
		if len(e.Embedding) != p.dim {
			return fmt.Errorf("%w: entry %s:%d has dimension %d, index expects %d",
				ErrDimensionMismatch, e.DocPath, e.Ordinal, len(e.Embedding), p.dim)
		}
	}

	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(upsertChunkSQL,
			e.DocPath, e.Ordinal, e.Title, e.Section, e.Text,
			pgvector.NewVector(e.Embedding))
	}

	results := p.pool.SendBatch(ctx, batch)
	defer func() { _ = results.Close() }()

	for i := range entries {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("upserting chunk %s:%d: %w",
				entries[i].DocPath, entries[i].Ordinal, err)
		}
	}

	p.logger.Debug("upserted chunks", "count", len(entries))
	return nil
}

const queryChunksSQL = `
SELECT doc_path, ordinal, title, section, content,
       1 - (embedding <=> $1) AS similarity
FROM chunks
ORDER BY embedding <=> $1, doc_path, ordinal
LIMIT $2`

// Query implements Index.
func (p *Postgres) Query(ctx context.Context, vec []float32, k int) ([]Match, error) {
	if len(vec) != p.dim {
		return nil, fmt.Errorf("%w: query has dimension %d, index expects %d",
			ErrDimensionMismatch, len(vec), p.dim)
	}
	if k < 1 {
		return []Match{}, nil
	}

	rows, err := p.pool.Query(ctx, queryChunksSQL, pgvector.NewVector(vec), k)
	if err != nil {
		return nil, fmt.Errorf("querying chunks: %w", err)
	}
	defer rows.Close()

	matches := make([]Match, 0, k)
	for rows.Next() {
		var m Match
		var sim float64
		if err := rows.Scan(&m.DocPath, &m.Ordinal, &m.Title, &m.Section, &m.Text, &sim); err != nil {
			return nil, fmt.Errorf("scanning chunk row: %w", err)
		}
		m.Similarity = float32(sim)
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading chunk rows: %w", err)
	}
	return matches, nil
}

// Clear implements Index.
func (p *Postgres) Clear(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, "TRUNCATE chunks"); err != nil {
		return fmt.Errorf("clearing index: %w", err)
	}
	return nil
}

// Count implements Index.
func (p *Postgres) Count(ctx context.Context) (int, error) {
	var count int
	if err := p.pool.QueryRow(ctx, "SELECT count(*) FROM chunks").Scan(&count); err != nil {
		return 0, fmt.Errorf("counting chunks: %w", err)
	}
	return count, nil
}
