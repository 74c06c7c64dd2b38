package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/docquery/docquery/internal/app"
	"github.com/docquery/docquery/internal/config"
	"github.com/docquery/docquery/internal/log"
)

func newReindexCmd() *cobra.Command {
	var docs string

	cmd := &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild the vector index from the documentation corpus",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runReindex(docs)
		},
	}
	cmd.Flags().StringVar(&docs, "docs", "", "documentation root (overrides config)")
	return cmd
}

func runReindex(docs string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if docs != "" {
		cfg.DocsRoot = docs
	}
	if err := cfg.ValidateServe(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := log.New(log.Config{})

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			logger.Warn("shutdown error", "error", closeErr)
		}
	}()

	n, err := a.Pipeline.Reindex(ctx)
	if err != nil {
		return fmt.Errorf("reindexing: %w", err)
	}

	fmt.Printf("Indexed %d chunks from %s\n", n, cfg.DocsRoot)
	return nil
}
