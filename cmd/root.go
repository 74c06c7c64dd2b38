// Package cmd implements the docquery command line interface.
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "docquery",
	Short: "Documentation question answering service",
	Long: `docquery answers questions about a markdown documentation corpus.

It chunks and embeds the corpus into a pgvector index, retrieves the most
relevant chunks per question, and asks a generation model for a cited answer.

Run "docquery serve" to start the HTTP API, "docquery reindex" to rebuild
the index, or "docquery ask" for a one-shot question from the terminal.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newReindexCmd())
	rootCmd.AddCommand(newAskCmd())
	rootCmd.AddCommand(newVersionCmd())
}
