package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/bull/notes-rag-server/internal/app"
	"github.com/bull/notes-rag-server/internal/config"
	"github.com/bull/notes-rag-server/internal/ingest"
	"github.com/bull/notes-rag-server/internal/source"
)

var (
	ingestMode string
	noteName   string
	githubPath string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Store a note and add it to the index",
	Long: `Stores the note text under TEXT_DIR, then chunks, embeds and indexes it.

In append mode (the default) the note's chunks are added after the existing
entries. In replace mode the index is rebuilt from this note alone. The text
is always kept, so "notes reindex" can rebuild the full index later.`,
}

var ingestTextCmd = &cobra.Command{
	Use:   "text <note text>",
	Short: "Ingest text given on the command line",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return ingestOne(cmd.Context(), func(ctx context.Context, a *app.App) (source.Document, error) {
			return source.FromText(noteName, strings.Join(args, " ")), nil
		})
	},
}

var ingestFileCmd = &cobra.Command{
	Use:   "file <path>",
	Short: "Ingest a plain text file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return ingestOne(cmd.Context(), func(ctx context.Context, a *app.App) (source.Document, error) {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return source.Document{}, err
			}
			return source.FromText(nameOr(args[0]), string(data)), nil
		})
	},
}

var ingestMarkdownCmd = &cobra.Command{
	Use:   "markdown <path>",
	Short: "Ingest a markdown file as plain text",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return ingestOne(cmd.Context(), func(ctx context.Context, a *app.App) (source.Document, error) {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return source.Document{}, err
			}
			return source.FromMarkdown(nameOr(args[0]), data)
		})
	},
}

var ingestImageCmd = &cobra.Command{
	Use:   "image <path>",
	Short: "Ingest a photo of handwritten notes through OCR_COMMAND",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return ingestExtracted(cmd.Context(), source.OriginImage, args[0])
	},
}

var ingestAudioCmd = &cobra.Command{
	Use:   "audio <path>",
	Short: "Ingest a voice memo through ASR_COMMAND",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return ingestExtracted(cmd.Context(), source.OriginAudio, args[0])
	},
}

var ingestGitHubCmd = &cobra.Command{
	Use:   "github <owner/repo>",
	Short: "Ingest every .md and .txt note in a GitHub repository",
	Long: `Fetches the notes under --path in the repository, stores each text and
appends them all to the index in a single build. A note that fails is
reported and the rest continue.

Environment variables:
  GITHUB_TOKEN   GitHub token for higher rate limits (optional)`,
	Args: cobra.ExactArgs(1),
	RunE: runIngestGitHub,
}

func init() {
	ingestCmd.PersistentFlags().StringVar(&ingestMode, "mode", "", "append or replace (default: INGEST_MODE)")
	ingestTextCmd.Flags().StringVar(&noteName, "name", "", "name for the stored note")
	ingestGitHubCmd.Flags().StringVar(&githubPath, "path", "", "directory inside the repository")

	ingestCmd.AddCommand(ingestTextCmd, ingestFileCmd, ingestMarkdownCmd, ingestImageCmd, ingestAudioCmd, ingestGitHubCmd)
}

func withMode(mode string) func(*config.Config) {
	return func(cfg *config.Config) {
		if mode != "" {
			cfg.IngestMode = mode
		}
	}
}

func nameOr(path string) string {
	if noteName != "" {
		return noteName
	}
	return filepath.Base(path)
}

func ingestOne(ctx context.Context, load func(context.Context, *app.App) (source.Document, error)) error {
	a, err := setup(withMode(ingestMode))
	if err != nil {
		return err
	}
	defer a.Close()

	doc, err := load(ctx, a)
	if err != nil {
		return err
	}
	return ingestAndReport(ctx, a, doc)
}

func ingestExtracted(ctx context.Context, origin source.Origin, path string) error {
	return ingestOne(ctx, func(ctx context.Context, a *app.App) (source.Document, error) {
		extractor, err := a.Extractor(origin)
		if err != nil {
			return source.Document{}, err
		}
		fmt.Printf("Extracting text from %s...\n", path)
		return source.ExtractDocument(ctx, extractor, origin, path)
	})
}

func ingestAndReport(ctx context.Context, a *app.App, doc source.Document) error {
	fmt.Printf("Indexing %s note %s (%d characters)...\n", doc.Origin, doc.ID, len([]rune(doc.Text)))

	result, err := a.Pipeline.Ingest(ctx, doc, a.Location)
	if err != nil {
		return err
	}
	printResult(result)
	return nil
}

func printResult(result *ingest.Result) {
	fmt.Println()
	fmt.Println("Ingest complete!")
	fmt.Printf("  Document: %s\n", result.DocumentID)
	fmt.Printf("  Text: %s\n", result.TextPath)
	fmt.Printf("  Chunks: %d", result.Chunks)
	if result.OversizedCount > 0 {
		fmt.Printf(" (%d oversized)", result.OversizedCount)
	}
	fmt.Println()
	fmt.Printf("  Index entries: %d (%s)\n", result.TotalEntries, result.Mode)
	fmt.Printf("  Build: %s\n", result.BuildID)
	fmt.Printf("  Duration: %s\n", result.Duration.Round(time.Millisecond))
}

type failedNote struct {
	Path   string
	Reason string
}

func runIngestGitHub(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	start := time.Now()

	owner, repo, ok := strings.Cut(args[0], "/")
	if !ok || owner == "" || repo == "" {
		return fmt.Errorf("repository must be owner/repo, got %q", args[0])
	}

	a, err := setup(withMode(string(ingest.ModeAppend)))
	if err != nil {
		return err
	}
	defer a.Close()

	client, err := source.NewGitHubClient()
	if err != nil {
		return fmt.Errorf("Failed to create GitHub client: %w", err)
	}
	notes := source.NewGitHubSource(client, owner, repo, githubPath)

	fmt.Printf("Listing notes in %s/%s...\n", owner, repo)
	paths, err := notes.List(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Found %d notes\n", len(paths))

	var (
		failed []failedNote
		docs   []source.Document
	)
	pathOf := make(map[string]string, len(paths))
	for _, p := range paths {
		doc, err := notes.Fetch(ctx, p)
		if err != nil {
			failed = append(failed, failedNote{Path: p, Reason: err.Error()})
			continue
		}
		pathOf[doc.ID] = p
		docs = append(docs, doc)
	}

	fmt.Printf("Indexing %d notes...\n", len(docs))
	batch, err := a.Pipeline.IngestBatch(ctx, docs, a.Location)
	if err != nil {
		return err
	}
	chunks := 0
	for _, r := range batch.Documents {
		chunks += r.Chunks
		fmt.Printf("  %s: %d chunks\n", pathOf[r.DocumentID], r.Chunks)
	}
	for id, err := range batch.Failed {
		failed = append(failed, failedNote{Path: pathOf[id], Reason: err.Error()})
	}
	slices.SortFunc(failed, func(x, y failedNote) int { return strings.Compare(x.Path, y.Path) })

	fmt.Println()
	fmt.Println("GitHub ingest complete!")
	fmt.Printf("  Notes: %d/%d\n", len(paths)-len(failed), len(paths))
	fmt.Printf("  Chunks: %d\n", chunks)
	if batch.BuildID != "" {
		fmt.Printf("  Index entries: %d\n", batch.TotalEntries)
		fmt.Printf("  Build: %s\n", batch.BuildID)
	}
	fmt.Printf("  Duration: %s\n", time.Since(start).Round(time.Second))

	if len(failed) > 0 {
		fmt.Println()
		fmt.Println("Failed notes:")
		for _, f := range failed {
			fmt.Printf("  - %s: %s\n", f.Path, f.Reason)
		}
	}
	return nil
}
