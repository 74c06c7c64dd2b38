package vecindex

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
)

// Memory is an in-process Index. It holds every entry in a map and scans
// linearly on Query, which is fine for test corpora and small deployments.
//
// Memory is safe for concurrent use.
type Memory struct {
	dim int

	mu      sync.RWMutex
	entries map[entryKey]Entry
}

type entryKey struct {
	docPath string
	ordinal int
}

// NewMemory creates an empty in-memory index for vectors of the given
// dimension.
func NewMemory(dim int) *Memory {
	return &Memory{
		dim:     dim,
		entries: make(map[entryKey]Entry),
	}
}

// Upsert implements Index.
func (m *Memory) Upsert(_ context.Context, entries []Entry) error {
	for _, e := range entries {
		if len(e.Embedding) != m.dim {
			return fmt.Errorf("%w: entry %s:%d has dimension %d, index expects %d",
				ErrDimensionMismatch, e.DocPath, e.Ordinal, len(e.Embedding), m.dim)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entries {
		m.entries[entryKey{e.DocPath, e.Ordinal}] = e
	}
	return nil
}

// Query implements Index.
func (m *Memory) Query(_ context.Context, vec []float32, k int) ([]Match, error) {
	if len(vec) != m.dim {
		return nil, fmt.Errorf("%w: query has dimension %d, index expects %d",
			ErrDimensionMismatch, len(vec), m.dim)
	}
	if k < 1 {
		return []Match{}, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	matches := make([]Match, 0, len(m.entries))
	for _, e := range m.entries {
		matches = append(matches, Match{
			DocPath:    e.DocPath,
			Title:      e.Title,
			Section:    e.Section,
			Ordinal:    e.Ordinal,
			Text:       e.Text,
			Similarity: cosine(vec, e.Embedding),
		})
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		if matches[i].DocPath != matches[j].DocPath {
			return matches[i].DocPath < matches[j].DocPath
		}
		return matches[i].Ordinal < matches[j].Ordinal
	})

	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// Clear implements Index.
func (m *Memory) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[entryKey]Entry)
	return nil
}

// Count implements Index.
func (m *Memory) Count(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries), nil
}

// cosine computes cosine similarity. A zero vector on either side yields 0.
func cosine(a, b []float32) float32 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
