package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/docquery/docquery/internal/answer"
	"github.com/docquery/docquery/internal/app"
	"github.com/docquery/docquery/internal/config"
	"github.com/docquery/docquery/internal/log"
)

func newAskCmd() *cobra.Command {
	var model string

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a one-shot question from the terminal",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAsk(strings.Join(args, " "), model)
		},
	}
	cmd.Flags().StringVar(&model, "model", "", "model selector (default from config)")
	return cmd
}

func runAsk(question, model string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.ValidateServe(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Warnings only; the answer itself goes to stdout.
	logger := log.New(log.Config{Level: slog.LevelWarn})

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			logger.Warn("shutdown error", "error", closeErr)
		}
	}()

	resp, err := a.Answerer.Answer(ctx, answer.Request{Question: question, Model: model})
	if err != nil {
		return fmt.Errorf("answering: %w", err)
	}

	fmt.Println(resp.Answer)
	if len(resp.Sources) > 0 {
		fmt.Println("\nSources:")
		for i, src := range resp.Sources {
			fmt.Printf("  [%d] %s (%s, score %.2f)\n", i+1, src.Title, src.DocPath, src.Score)
		}
	}
	return nil
}
