// Package ingest rebuilds the vector index from the documentation corpus.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/firebase/genkit/go/ai"

	"github.com/docquery/docquery/internal/chunker"
	"github.com/docquery/docquery/internal/corpus"
	"github.com/docquery/docquery/internal/log"
	"github.com/docquery/docquery/internal/vecindex"
)

// ErrReindexInProgress indicates a reindex was requested while another one
// is still running. Reindexes are serialized; the caller should retry later.
var ErrReindexInProgress = errors.New("reindex already in progress")

// embedBatchSize bounds texts per embedding call, under the provider's
// per-request limit.
const embedBatchSize = 100

// Pipeline rebuilds the index: load corpus, chunk, embed, swap.
//
// Embedding happens before the old index is cleared, so an embedding failure
// leaves the previous index fully intact and queryable.
type Pipeline struct {
	loader   *corpus.Loader
	chunker  *chunker.Chunker
	embedder ai.Embedder
	index    vecindex.Index
	logger   log.Logger

	mu sync.Mutex // serializes Reindex
}

// New creates a Pipeline.
func New(loader *corpus.Loader, ck *chunker.Chunker, embedder ai.Embedder, index vecindex.Index, logger log.Logger) *Pipeline {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Pipeline{
		loader:   loader,
		chunker:  ck,
		embedder: embedder,
		index:    index,
		logger:   logger,
	}
}

// Reindex rebuilds the index from scratch and returns the number of chunks
// indexed. A concurrent call returns ErrReindexInProgress immediately.
func (p *Pipeline) Reindex(ctx context.Context) (int, error) {
	if !p.mu.TryLock() {
		return 0, ErrReindexInProgress
	}
	defer p.mu.Unlock()

	loaded, err := p.loader.Load()
	if err != nil {
		return 0, fmt.Errorf("loading corpus: %w", err)
	}

	var chunks []chunker.Chunk
	for _, doc := range loaded.Documents {
		chunks = append(chunks, p.chunker.Chunk(doc)...)
	}
	p.logger.Info("corpus chunked",
		"documents", len(loaded.Documents),
		"skipped", loaded.Skipped,
		"chunks", len(chunks))

	// Embed everything before touching the index. If the provider fails
	// halfway, the old index stays queryable.
	entries, err := p.embedChunks(ctx, chunks)
	if err != nil {
		return 0, err
	}

	if err := p.index.Clear(ctx); err != nil {
		return 0, fmt.Errorf("clearing index: %w", err)
	}
	for start := 0; start < len(entries); start += embedBatchSize {
		end := min(start+embedBatchSize, len(entries))
		if err := p.index.Upsert(ctx, entries[start:end]); err != nil {
			return 0, fmt.Errorf("writing index: %w", err)
		}
	}

	p.logger.Info("reindex complete", "chunks", len(entries))
	return len(entries), nil
}

// embedChunks embeds all chunks in batches and pairs each chunk with its
// vector.
func (p *Pipeline) embedChunks(ctx context.Context, chunks []chunker.Chunk) ([]vecindex.Entry, error) {
	entries := make([]vecindex.Entry, 0, len(chunks))

	for start := 0; start < len(chunks); start += embedBatchSize {
		end := min(start+embedBatchSize, len(chunks))
		batch := chunks[start:end]

		docs := make([]*ai.Document, len(batch))
		for i, c := range batch {
			docs[i] = ai.DocumentFromText(c.Text, nil)
		}

		resp, err := p.embedder.Embed(ctx, &ai.EmbedRequest{Input: docs})
		if err != nil {
			return nil, fmt.Errorf("embedding chunks %d-%d: %w", start, end-1, err)
		}
		if len(resp.Embeddings) != len(batch) {
			return nil, fmt.Errorf("embedding chunks %d-%d: got %d embeddings for %d texts",
				start, end-1, len(resp.Embeddings), len(batch))
		}

		for i, c := range batch {
			entries = append(entries, vecindex.Entry{
				DocPath:   c.DocPath,
				Title:     c.Title,
				Section:   c.Section,
				Ordinal:   c.Ordinal,
				Text:      c.Text,
				Embedding: resp.Embeddings[i].Embedding,
			})
		}

		p.logger.Info("embedded chunks", "done", end, "total", len(chunks))
	}
	return entries, nil
}
