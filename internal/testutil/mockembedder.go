// Package testutil provides deterministic fakes for the AI seams.
package testutil

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
	"sync"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core/api"
)

// MockEmbedder implements ai.Embedder with deterministic vectors: each text
// hashes to a unit vector, so identical texts always embed identically and
// different texts almost never collide. Specific texts can be pinned to
// chosen vectors with SetVector to make similarity ordering explicit.
//
// Thread-safe for concurrent use.
type MockEmbedder struct {
	dim int

	mu     sync.Mutex
	pinned map[string][]float32
	err    error
	calls  int
}

// NewMockEmbedder creates a MockEmbedder producing vectors of dimension dim.
func NewMockEmbedder(dim int) *MockEmbedder {
	return &MockEmbedder{
		dim:    dim,
		pinned: make(map[string][]float32),
	}
}

// SetVector pins an exact vector for a text.
func (m *MockEmbedder) SetVector(text string, vec []float32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pinned[text] = vec
}

// FailWith makes every subsequent Embed call return err. Pass nil to heal.
func (m *MockEmbedder) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Calls reports how many Embed calls were made.
func (m *MockEmbedder) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Name implements ai.Embedder.
func (m *MockEmbedder) Name() string { return "mock-embedder" }

// Register implements ai.Embedder. No-op for testing.
func (m *MockEmbedder) Register(_ api.Registry) {}

// Embed implements ai.Embedder.
func (m *MockEmbedder) Embed(_ context.Context, req *ai.EmbedRequest) (*ai.EmbedResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++

	if m.err != nil {
		return nil, m.err
	}

	resp := &ai.EmbedResponse{}
	for _, doc := range req.Input {
		text := ""
		if len(doc.Content) > 0 {
			text = doc.Content[0].Text
		}

		vec, ok := m.pinned[text]
		if !ok {
			vec = hashVector(text, m.dim)
		}
		resp.Embeddings = append(resp.Embeddings, &ai.Embedding{Embedding: vec})
	}
	return resp, nil
}

// hashVector derives a unit vector from text via repeated SHA-256.
func hashVector(text string, dim int) []float32 {
	vec := make([]float32, dim)
	var norm float64

	sum := sha256.Sum256([]byte(text))
	buf := sum[:]
	for i := 0; i < dim; i++ {
		if len(buf) < 4 {
			sum = sha256.Sum256(sum[:])
			buf = sum[:]
		}
		bits := binary.BigEndian.Uint32(buf[:4])
		buf = buf[4:]

		// Map to [-1, 1).
		v := float64(int32(bits)) / float64(math.MaxInt32)
		vec[i] = float32(v)
		norm += v * v
	}

	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
	}
	return vec
}
