package config

import (
	"fmt"
	"os"
)

// Validate checks the configuration for consistency. Fail-fast: the first
// violation is returned, wrapped around its sentinel error.
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	if c.ChunkSize <= 0 {
		return fmt.Errorf("%w: chunk_size must be positive, got %d", ErrInvalidChunking, c.ChunkSize)
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("%w: chunk_overlap %d must be in [0, chunk_size)", ErrInvalidChunking, c.ChunkOverlap)
	}

	if c.TopK < 1 || c.TopK > 50 {
		return fmt.Errorf("%w: top_k %d must be in [1, 50]", ErrInvalidTopK, c.TopK)
	}
	if c.RelevanceFloor < 0 || c.RelevanceFloor > 1 {
		return fmt.Errorf("%w: relevance_floor %v must be in [0, 1]", ErrInvalidRelevanceFloor, c.RelevanceFloor)
	}

	if c.EmbedderDimension < 1 || c.EmbedderDimension > 4096 {
		return fmt.Errorf("%w: embedder_dimension %d must be in [1, 4096]", ErrInvalidEmbedderDimension, c.EmbedderDimension)
	}

	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPostgresPort, c.PostgresPort)
	}

	if c.SessionTTL <= 0 {
		return fmt.Errorf("%w: %v", ErrInvalidSessionTTL, c.SessionTTL)
	}
	if c.MaxHistoryMessages < 0 || c.MaxHistoryMessages > 1000 {
		return fmt.Errorf("%w: %d must be in [0, 1000]", ErrInvalidHistoryLimit, c.MaxHistoryMessages)
	}

	return nil
}

// ValidateServe performs additional checks required before starting the API
// server or running ingestion: provider credentials and corpus accessibility.
// Kept separate from Validate so commands like `version` work offline.
func (c *Config) ValidateServe() error {
	if err := c.Validate(); err != nil {
		return err
	}

	if os.Getenv("GEMINI_API_KEY") == "" {
		return fmt.Errorf("%w: GEMINI_API_KEY is not set", ErrMissingAPIKey)
	}

	info, err := os.Stat(c.DocsRoot)
	if err != nil {
		return fmt.Errorf("%w: %q: %v", ErrInvalidDocsRoot, c.DocsRoot, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %q is not a directory", ErrInvalidDocsRoot, c.DocsRoot)
	}

	return nil
}
