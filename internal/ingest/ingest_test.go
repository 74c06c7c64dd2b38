package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/docquery/docquery/internal/chunker"
	"github.com/docquery/docquery/internal/corpus"
	"github.com/docquery/docquery/internal/log"
	"github.com/docquery/docquery/internal/testutil"
	"github.com/docquery/docquery/internal/vecindex"
)

const testDim = 8

func writeDoc(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func newPipeline(t *testing.T, root string) (*Pipeline, *testutil.MockEmbedder, *vecindex.Memory) {
	t.Helper()
	embedder := testutil.NewMockEmbedder(testDim)
	index := vecindex.NewMemory(testDim)
	p := New(
		corpus.NewLoader(root, log.NewNop()),
		chunker.New(chunker.Config{MaxChunkLen: 2000, Overlap: 200}),
		embedder,
		index,
		log.NewNop(),
	)
	return p, embedder, index
}

func TestReindex(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	writeDoc(t, root, "setup.md",
		"# Install\n"+strings.Repeat("install the service using the provided script. ", 3)+
			"\n# Configure\n"+strings.Repeat("edit the configuration file before first start. ", 3))
	writeDoc(t, root, "faq.md",
		strings.Repeat("frequently asked questions and their answers live here. ", 3))

	p, _, index := newPipeline(t, root)

	n, err := p.Reindex(ctx)
	if err != nil {
		t.Fatalf("Reindex() error: %v", err)
	}
	if n != 3 {
		t.Errorf("Reindex() = %d chunks, want 3", n)
	}

	count, err := index.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if count != n {
		t.Errorf("index Count() = %d, want %d", count, n)
	}
}

func TestReindexReplacesOldIndex(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	writeDoc(t, root, "a.md", strings.Repeat("original content of document a, long enough to index. ", 2))
	writeDoc(t, root, "b.md", strings.Repeat("original content of document b, long enough to index. ", 2))

	p, _, index := newPipeline(t, root)
	if _, err := p.Reindex(ctx); err != nil {
		t.Fatal(err)
	}

	// Shrink the corpus; a full reindex must drop the removed document.
	if err := os.Remove(filepath.Join(root, "b.md")); err != nil {
		t.Fatal(err)
	}

	n, err := p.Reindex(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("Reindex() = %d, want 1", n)
	}
	count, err := index.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("index Count() = %d after shrink, want 1", count)
	}
}

func TestReindexEmbedFailureKeepsOldIndex(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	writeDoc(t, root, "a.md", strings.Repeat("content that will be indexed on the first pass. ", 2))

	p, embedder, index := newPipeline(t, root)
	if _, err := p.Reindex(ctx); err != nil {
		t.Fatal(err)
	}
	before, err := index.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}

	embedder.FailWith(errors.New("provider down"))
	if _, err := p.Reindex(ctx); err == nil {
		t.Fatal("Reindex() succeeded despite embedding failure")
	}

	after, err := index.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if after != before {
		t.Errorf("index Count() = %d after failed reindex, want untouched %d", after, before)
	}
}

func TestReindexEmptyCorpus(t *testing.T) {
	ctx := context.Background()
	p, _, index := newPipeline(t, t.TempDir())

	n, err := p.Reindex(ctx)
	if err != nil {
		t.Fatalf("Reindex() error: %v", err)
	}
	if n != 0 {
		t.Errorf("Reindex() = %d, want 0", n)
	}
	count, err := index.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("Count() = %d, want 0", count)
	}
}

func TestReindexSerialized(t *testing.T) {
	root := t.TempDir()
	writeDoc(t, root, "a.md", strings.Repeat("some indexable content for the concurrency test. ", 2))

	p, _, _ := newPipeline(t, root)

	// Hold the pipeline lock and verify a concurrent call refuses to run.
	if !p.mu.TryLock() {
		t.Fatal("fresh pipeline lock already held")
	}

	var wg sync.WaitGroup
	wg.Add(1)
	var gotErr error
	go func() {
		defer wg.Done()
		_, gotErr = p.Reindex(context.Background())
	}()
	wg.Wait()
	p.mu.Unlock()

	if !errors.Is(gotErr, ErrReindexInProgress) {
		t.Errorf("concurrent Reindex() = %v, want ErrReindexInProgress", gotErr)
	}

	// After the lock is released, reindexing works again.
	if _, err := p.Reindex(context.Background()); err != nil {
		t.Fatalf("Reindex() after unlock: %v", err)
	}
}

func TestReindexBatchesEmbedding(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()

	// Enough sections to exceed one embedding batch.
	var sb strings.Builder
	for i := 0; i < embedBatchSize+20; i++ {
		sb.WriteString("# Section heading number goes here\n")
		sb.WriteString(strings.Repeat("body text that clears the minimum chunk length filter. ", 2))
		sb.WriteString("\n")
	}
	writeDoc(t, root, "big.md", sb.String())

	p, embedder, _ := newPipeline(t, root)
	n, err := p.Reindex(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != embedBatchSize+20 {
		t.Errorf("Reindex() = %d chunks, want %d", n, embedBatchSize+20)
	}
	if calls := embedder.Calls(); calls != 2 {
		t.Errorf("embedder called %d times, want 2 batches", calls)
	}
}
