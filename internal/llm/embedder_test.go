package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core/api"
)

// flakyEmbedder fails a fixed number of times before succeeding.
type flakyEmbedder struct {
	failures    int
	err         error
	calls       int
	hadDeadline bool
}

func (f *flakyEmbedder) Name() string            { return "flaky-embedder" }
func (f *flakyEmbedder) Register(_ api.Registry) {}

func (f *flakyEmbedder) Embed(ctx context.Context, req *ai.EmbedRequest) (*ai.EmbedResponse, error) {
	f.calls++
	_, f.hadDeadline = ctx.Deadline()
	if f.calls <= f.failures {
		return nil, f.err
	}

	resp := &ai.EmbedResponse{}
	for range req.Input {
		resp.Embeddings = append(resp.Embeddings, &ai.Embedding{Embedding: []float32{1, 0}})
	}
	return resp, nil
}

func newTestRetryingEmbedder(inner ai.Embedder) *RetryingEmbedder {
	re := NewRetryingEmbedder(inner, nil)
	re.retry = RetryConfig{
		MaxRetries:      3,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
	}
	return re
}

func embedOne(t *testing.T, re *RetryingEmbedder) (*ai.EmbedResponse, error) {
	t.Helper()
	return re.Embed(context.Background(), &ai.EmbedRequest{
		Input: []*ai.Document{ai.DocumentFromText("how do I restore a backup?", nil)},
	})
}

func TestRetryingEmbedderRetriesTransientErrors(t *testing.T) {
	inner := &flakyEmbedder{failures: 2, err: errors.New("429 rate limit exceeded")}
	re := newTestRetryingEmbedder(inner)

	resp, err := embedOne(t, re)
	if err != nil {
		t.Fatalf("Embed() error: %v", err)
	}
	if len(resp.Embeddings) != 1 {
		t.Fatalf("got %d embeddings, want 1", len(resp.Embeddings))
	}
	if inner.calls != 3 {
		t.Errorf("inner calls = %d, want 3", inner.calls)
	}
	if !inner.hadDeadline {
		t.Error("inner Embed ran without a deadline")
	}
}

func TestRetryingEmbedderNonTransientFailsFast(t *testing.T) {
	wantErr := errors.New("invalid argument")
	inner := &flakyEmbedder{failures: 10, err: wantErr}
	re := newTestRetryingEmbedder(inner)

	if _, err := embedOne(t, re); !errors.Is(err, wantErr) {
		t.Fatalf("Embed() = %v, want %v", err, wantErr)
	}
	if inner.calls != 1 {
		t.Errorf("inner calls = %d, want 1", inner.calls)
	}
}

func TestRetryingEmbedderExhaustsRetries(t *testing.T) {
	transient := errors.New("service unavailable")
	inner := &flakyEmbedder{failures: 10, err: transient}
	re := newTestRetryingEmbedder(inner)

	if _, err := embedOne(t, re); !errors.Is(err, transient) {
		t.Fatalf("Embed() = %v, want the last transient error", err)
	}
	// First try plus MaxRetries.
	if inner.calls != 4 {
		t.Errorf("inner calls = %d, want 4", inner.calls)
	}
}

func TestRetryingEmbedderDelegates(t *testing.T) {
	re := NewRetryingEmbedder(&flakyEmbedder{}, nil)
	if got := re.Name(); got != "flaky-embedder" {
		t.Errorf("Name() = %q", got)
	}
}
