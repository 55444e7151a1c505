package main

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/notes-rag-server/internal/app"
	"github.com/bull/notes-rag-server/internal/config"
	"github.com/bull/notes-rag-server/internal/index"
	"github.com/bull/notes-rag-server/internal/source"
)

func TestQueryLoop(t *testing.T) {
	var asked []string
	ask := func(ctx context.Context, question string, out io.Writer) error {
		asked = append(asked, question)
		if question == "broken" {
			return index.ErrIndexNotFound
		}
		return nil
	}

	var out bytes.Buffer
	in := strings.NewReader("first question\n\n   \nbroken\nQUIT\nnever asked\n")
	require.NoError(t, queryLoop(context.Background(), in, &out, ask))

	assert.Equal(t, []string{"first question", "broken"}, asked)
	assert.Contains(t, out.String(), "Error (index_not_found)")
	assert.Contains(t, out.String(), "Goodbye!")
}

func TestQueryLoop_EOF(t *testing.T) {
	calls := 0
	ask := func(ctx context.Context, question string, out io.Writer) error {
		calls++
		return nil
	}
	require.NoError(t, queryLoop(context.Background(), strings.NewReader("one"), io.Discard, ask))
	assert.Equal(t, 1, calls)
}

func TestPreview(t *testing.T) {
	long := strings.Repeat("é", 200)
	got := preview(long, sourcePreviewLen)
	assert.Equal(t, sourcePreviewLen+3, len([]rune(got)))
	assert.True(t, strings.HasSuffix(got, "..."))

	assert.Equal(t, "two lines", preview("two\n  lines", sourcePreviewLen))
}

func TestAsker_SourcesOnly(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Embedder = config.EmbedderHash
	cfg.IndexDir = filepath.Join(dir, "index")
	cfg.TextDir = filepath.Join(dir, "texts")

	a, err := app.New(cfg, nil)
	require.NoError(t, err)
	defer a.Close()

	ctx := context.Background()
	_, err = a.Pipeline.Ingest(ctx, source.FromText("dentist", "Dentist appointment on Tuesday at 9am."), a.Location)
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, newAsker(a, nil, 3)(ctx, "when is the dentist", &out))
	assert.Contains(t, out.String(), "Sources:")
	assert.Contains(t, out.String(), "[1] Dentist appointment")
	assert.NotContains(t, out.String(), "Answer")
}
