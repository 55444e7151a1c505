// Package main provides the notes CLI for ingesting and querying notes.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/bull/notes-rag-server/internal/app"
	"github.com/bull/notes-rag-server/internal/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "notes",
	Short: "Personal notes retrieval tool",
	Long: `CLI tool for storing notes and asking questions about them.

Notes are split into overlapping chunks, embedded and kept in a vector index.
Questions retrieve the closest chunks and, when an OpenAI key is available,
an answer grounded in them.

Environment variables:
  INDEX_DIR       Index directory (default: data/index)
  TEXT_DIR        Extracted text directory (default: data/processed_text)
  INDEX_BACKEND   file or qdrant (default: file)
  QDRANT_HOST     Qdrant hostname (default: localhost)
  QDRANT_PORT     Qdrant gRPC port (default: 6334)
  EMBEDDER        openai or hash (default: openai)
  OPENAI_API_KEY  OpenAI API key for embeddings and answers
  OCR_COMMAND     Command that prints the text of an image ({file} is the input)
  ASR_COMMAND     Command that prints the transcript of an audio file
  NOTES_CONFIG    YAML configuration file`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML configuration file")
	rootCmd.AddCommand(ingestCmd, reindexCmd, queryCmd, statusCmd)
}

func main() {
	// Load .env file if present (local development), ignore if missing (production)
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	err := rootCmd.ExecuteContext(ctx)
	cancel()
	if err != nil {
		printError(err)
		os.Exit(1)
	}
}

// setup loads the configuration and wires the components.
// override may adjust the configuration before it is validated.
func setup(override func(*config.Config)) (*app.App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if override != nil {
		override(cfg)
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return app.New(cfg, cfg.NewLogger())
}

func printError(err error) {
	fmt.Fprintf(os.Stderr, "Error (%s): %v\n", app.ErrorCode(err), err)
	if hint := app.Hint(err); hint != "" {
		fmt.Fprintln(os.Stderr, hint)
	}
}
