package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/bull/notes-rag-server/internal/answer"
	"github.com/bull/notes-rag-server/internal/app"
	"github.com/bull/notes-rag-server/internal/index"
)

// sourcePreviewLen is how many characters of each source chunk are printed.
const sourcePreviewLen = 150

var (
	queryK   int
	noAnswer bool
)

var queryCmd = &cobra.Command{
	Use:   "query [question]",
	Short: "Ask questions about your notes",
	Long: `Retrieves the note chunks closest to each question and prints an answer
grounded in them, followed by the sources.

With no arguments the command reads questions from stdin until "exit" or
"quit". Blank lines are ignored.`,
	RunE: runQuery,
}

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Rebuild the index from every stored note text",
	Long: `Re-chunks and re-embeds every text under TEXT_DIR with the current
embedding model and replaces the index. Use it after changing models or
chunk settings.`,
	Args: cobra.NoArgs,
	RunE: runReindex,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the index model, build and size",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	queryCmd.Flags().IntVarP(&queryK, "k", "k", 0, "number of chunks to retrieve (default: TOP_K)")
	queryCmd.Flags().BoolVar(&noAnswer, "no-answer", false, "print sources only")
}

// asker answers one question by writing to out.
type asker func(ctx context.Context, question string, out io.Writer) error

func runQuery(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := setup(nil)
	if err != nil {
		return err
	}
	defer a.Close()

	// Fail before prompting when there is nothing to search.
	if _, err := a.Retrieval.Status(ctx); err != nil {
		return err
	}

	k := queryK
	if k <= 0 {
		k = a.Config.TopK
	}
	generator := a.Answers
	if noAnswer {
		generator = nil
	}
	ask := newAsker(a, generator, k)

	if len(args) > 0 {
		return ask(ctx, strings.Join(args, " "), os.Stdout)
	}
	return queryLoop(ctx, os.Stdin, os.Stdout, ask)
}

func newAsker(a *app.App, generator *answer.Generator, k int) asker {
	return func(ctx context.Context, question string, out io.Writer) error {
		results, err := a.Retrieval.Search(ctx, question, k)
		if err != nil {
			return err
		}

		if generator != nil {
			text, err := generator.Answer(ctx, question, results)
			switch {
			case errors.Is(err, answer.ErrNoContext):
				fmt.Fprintln(out, "Answer: no relevant notes found.")
			case err != nil:
				fmt.Fprintf(out, "Answer unavailable: %v\n", err)
			default:
				fmt.Fprintf(out, "Answer: %s\n", text)
			}
			fmt.Fprintln(out)
		}

		printSources(out, results)
		return nil
	}
}

// queryLoop reads questions from in until EOF, "exit" or "quit".
// Errors for a single question are printed and the loop continues.
func queryLoop(ctx context.Context, in io.Reader, out io.Writer, ask asker) error {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "Ask a question (or 'exit' to quit): ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}

		question := strings.TrimSpace(scanner.Text())
		if question == "" {
			continue
		}
		if q := strings.ToLower(question); q == "exit" || q == "quit" {
			fmt.Fprintln(out, "Goodbye!")
			return nil
		}

		if err := ask(ctx, question, out); err != nil {
			fmt.Fprintf(out, "Error (%s): %v\n", app.ErrorCode(err), err)
		}
		fmt.Fprintln(out)
	}
}

func printSources(out io.Writer, results []index.Result) {
	fmt.Fprintln(out, "Sources:")
	for i, r := range results {
		fmt.Fprintf(out, "  [%d] %s\n", i+1, preview(r.Entry.Chunk.Text, sourcePreviewLen))
	}
}

// preview shortens text to n characters, adding "..." when cut.
func preview(text string, n int) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return string(runes[:n]) + "..."
}

func runReindex(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := setup(nil)
	if err != nil {
		return err
	}
	defer a.Close()

	fmt.Printf("Rebuilding index at %s from %s...\n", a.Location, a.Texts.Dir())
	result, err := a.Pipeline.Reindex(ctx, a.Location)
	if err != nil {
		return err
	}

	fmt.Println()
	fmt.Println("Reindex complete!")
	fmt.Printf("  Documents: %d\n", result.Documents)
	fmt.Printf("  Entries: %d\n", result.TotalEntries)
	fmt.Printf("  Build: %s\n", result.BuildID)
	fmt.Printf("  Duration: %s\n", result.Duration.Round(time.Millisecond))
	if len(result.Skipped) > 0 {
		fmt.Println()
		fmt.Println("Skipped empty texts:")
		for _, p := range result.Skipped {
			fmt.Printf("  - %s\n", p)
		}
	}
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := setup(nil)
	if err != nil {
		return err
	}
	defer a.Close()

	status, err := a.Retrieval.Status(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Location:  %s (%s)\n", status.Location, a.Backend())
	fmt.Printf("Model:     %s\n", status.ModelID)
	fmt.Printf("Dimension: %d\n", status.Dimension)
	fmt.Printf("Entries:   %d\n", status.Entries)
	fmt.Printf("Build:     %s\n", status.BuildID)
	return nil
}
