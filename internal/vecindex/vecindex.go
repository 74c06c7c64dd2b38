// Package vecindex stores chunk embeddings and answers nearest-neighbour
// queries by cosine similarity.
//
// Two implementations share the Index contract: Postgres (pgvector) for
// production and Memory for tests and single-process setups. Both order
// results by similarity descending with (doc_path, ordinal) as the
// deterministic tie-break.
package vecindex

import (
	"context"
	"errors"
)

// ErrDimensionMismatch indicates an embedding whose dimension differs from
// the index schema. This is a configuration fault (wrong embedder model for
// the provisioned index), not a data error.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// Entry is one indexed chunk. (DocPath, Ordinal) is the identity; upserting
// an existing identity replaces the stored entry.
type Entry struct {
	DocPath   string
	Title     string
	Section   string
	Ordinal   int
	Text      string
	Embedding []float32
}

// Match is a query result.
type Match struct {
	DocPath    string
	Title      string
	Section    string
	Ordinal    int
	Text       string
	Similarity float32 // cosine similarity in [-1, 1]
}

// Index is the vector store contract the ingestion pipeline and retriever
// depend on.
type Index interface {
	// Upsert inserts or replaces entries by (DocPath, Ordinal).
	Upsert(ctx context.Context, entries []Entry) error

	// Query returns up to k entries nearest to vec, best first.
	// An empty index yields an empty slice and no error.
	Query(ctx context.Context, vec []float32, k int) ([]Match, error)

	// Clear removes all entries.
	Clear(ctx context.Context) error

	// Count reports the number of indexed entries.
	Count(ctx context.Context) (int, error)
}
