package answer

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/bull/notes-rag-server/internal/chunker"
	"github.com/bull/notes-rag-server/internal/index"
)

func results(texts ...string) []index.Result {
	out := make([]index.Result, len(texts))
	for i, t := range texts {
		out[i] = index.Result{Entry: index.Entry{Chunk: chunker.Chunk{Text: t}}, Ordinal: i}
	}
	return out
}

// TestBuildPrompt verifies chunks appear in rank order before the question.
func TestBuildPrompt(t *testing.T) {
	g := NewGenerator(nil, "", 0, nil)

	prompt := g.buildPrompt("when is the review?", results("Review moved to Friday.", " Bring the slides. "))

	want := "Notes:\n[1] Review moved to Friday.\n\n[2] Bring the slides.\n\n\nQuestion: when is the review?"
	if prompt != want {
		t.Errorf("Expected prompt %q, got %q", want, prompt)
	}
}

// TestAnswer_NoContext verifies the model is not called without chunks.
func TestAnswer_NoContext(t *testing.T) {
	g := NewGenerator(nil, "", 0, nil)

	_, err := g.Answer(context.Background(), "anything", nil)
	if !errors.Is(err, ErrNoContext) {
		t.Errorf("Expected ErrNoContext, got %v", err)
	}
}

// TestNewGenerator_Defaults verifies default model and token budget.
func TestNewGenerator_Defaults(t *testing.T) {
	g := NewGenerator(nil, "", -1, nil)
	if g.model != DefaultModel {
		t.Errorf("Expected model %q, got %q", DefaultModel, g.model)
	}
	if g.maxTokens != DefaultMaxTokens {
		t.Errorf("Expected max tokens %d, got %d", DefaultMaxTokens, g.maxTokens)
	}
}

// TestTruncateContent verifies truncation works correctly for very long content.
func TestTruncateContent(t *testing.T) {
	g := NewGenerator(nil, "", DefaultMaxTokens, nil)

	longContent := strings.Repeat("This is a test content. ", 4000) // ~100k chars

	truncated := g.truncateContent(longContent)

	expectedMaxChars := DefaultMaxTokens * 4
	if len(truncated) != expectedMaxChars {
		t.Errorf("Expected truncated length %d, got %d", expectedMaxChars, len(truncated))
	}
	if !strings.HasPrefix(longContent, truncated) {
		t.Error("Truncated content should be a prefix of original content")
	}
}

// TestTruncateContent_Short verifies short content is not truncated.
func TestTruncateContent_Short(t *testing.T) {
	g := NewGenerator(nil, "", DefaultMaxTokens, nil)

	shortContent := strings.Repeat("Short. ", 140)

	if truncated := g.truncateContent(shortContent); truncated != shortContent {
		t.Error("Short content should not be truncated")
	}
}

// TestTruncateContent_Runes verifies truncation counts characters, not bytes.
func TestTruncateContent_Runes(t *testing.T) {
	g := NewGenerator(nil, "", 2, nil)

	truncated := g.truncateContent(strings.Repeat("é", 20))

	if truncated != strings.Repeat("é", 8) {
		t.Errorf("Expected 8 runes, got %q", truncated)
	}
}
