package llm

import (
	"context"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core/api"

	"github.com/docquery/docquery/internal/log"
)

// defaultEmbedTimeout bounds a single embedding call including its retries.
const defaultEmbedTimeout = 60 * time.Second

// RetryingEmbedder wraps an ai.Embedder with the bounded timeout and
// transient-error backoff the generation path already has. Embedding calls go
// to the same provider and share its failure modes, so they share the policy.
type RetryingEmbedder struct {
	inner   ai.Embedder
	timeout time.Duration
	retry   RetryConfig
	logger  log.Logger
}

// NewRetryingEmbedder wraps inner with retry and timeout handling.
func NewRetryingEmbedder(inner ai.Embedder, logger log.Logger) *RetryingEmbedder {
	if logger == nil {
		logger = log.NewNop()
	}
	return &RetryingEmbedder{
		inner:   inner,
		timeout: defaultEmbedTimeout,
		retry:   DefaultRetryConfig(),
		logger:  logger,
	}
}

// Name implements ai.Embedder.
func (re *RetryingEmbedder) Name() string { return re.inner.Name() }

// Register implements ai.Embedder.
func (re *RetryingEmbedder) Register(r api.Registry) { re.inner.Register(r) }

// Embed implements ai.Embedder. Transient provider errors are retried with
// backoff; the whole call, retries included, is bounded by the timeout.
func (re *RetryingEmbedder) Embed(ctx context.Context, req *ai.EmbedRequest) (*ai.EmbedResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, re.timeout)
	defer cancel()

	start := time.Now()
	resp, err := withRetry(ctx, re.retry, func(ctx context.Context) (*ai.EmbedResponse, error) {
		return re.inner.Embed(ctx, req)
	})
	if err != nil {
		re.logger.Error("embedding failed",
			"embedder", re.inner.Name(),
			"texts", len(req.Input),
			"elapsed", time.Since(start),
			"error", err)
		return nil, err
	}
	return resp, nil
}
