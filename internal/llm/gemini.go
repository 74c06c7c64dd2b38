package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/docquery/docquery/internal/log"
)

// defaultGenerateTimeout bounds a single provider call including retries'
// individual attempts; the surrounding context may be tighter.
const defaultGenerateTimeout = 60 * time.Second

// GenkitGenerator runs generation through a Genkit-registered model.
type GenkitGenerator struct {
	g         *genkit.Genkit
	modelName string // full Genkit model name, e.g. "googleai/gemini-2.5-flash"
	timeout   time.Duration
	retry     RetryConfig
	logger    log.Logger
}

// NewGenkitGenerator creates a generator for the given Genkit model name.
func NewGenkitGenerator(g *genkit.Genkit, modelName string, logger log.Logger) *GenkitGenerator {
	if logger == nil {
		logger = log.NewNop()
	}
	return &GenkitGenerator{
		g:         g,
		modelName: modelName,
		timeout:   defaultGenerateTimeout,
		retry:     DefaultRetryConfig(),
		logger:    logger,
	}
}

// Name implements Generator.
func (gg *GenkitGenerator) Name() string {
	return gg.modelName
}

// Generate implements Generator. Transient provider errors are retried with
// backoff; the final failure is wrapped in ErrGenerationFailed.
func (gg *GenkitGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, gg.timeout)
	defer cancel()

	start := time.Now()
	text, err := withRetry(ctx, gg.retry, func(ctx context.Context) (string, error) {
		resp, err := genkit.Generate(ctx, gg.g,
			ai.WithModelName(gg.modelName),
			ai.WithPrompt(prompt),
		)
		if err != nil {
			return "", err
		}

		answer := strings.TrimSpace(resp.Text())
		if answer == "" {
			return "", ErrEmptyResponse
		}
		return answer, nil
	})
	if err != nil {
		gg.logger.Error("generation failed",
			"model", gg.modelName,
			"elapsed", time.Since(start),
			"error", err)
		return "", fmt.Errorf("%w: %s: %v", ErrGenerationFailed, gg.modelName, err)
	}

	gg.logger.Debug("generation complete",
		"model", gg.modelName,
		"elapsed", time.Since(start),
		"response_length", len(text))
	return text, nil
}
