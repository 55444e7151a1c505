package app

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/bull/notes-rag-server/internal/chunker"
	"github.com/bull/notes-rag-server/internal/config"
	"github.com/bull/notes-rag-server/internal/embedding"
	"github.com/bull/notes-rag-server/internal/index"
	"github.com/bull/notes-rag-server/internal/source"
	"github.com/bull/notes-rag-server/internal/tasks"
)

func TestErrorCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{fmt.Errorf("load: %w", config.ErrInvalidConfig), CodeConfig},
		{fmt.Errorf("chunk: %w", chunker.ErrConfig), CodeConfig},
		{fmt.Errorf("document x: %w", index.ErrEmptyInput), CodeEmptyInput},
		{index.ErrIndexNotFound, CodeIndexNotFound},
		{&index.ModelMismatchError{Expected: "a", Found: "b"}, CodeModelMismatch},
		{fmt.Errorf("document x: %w", &embedding.FailureError{Start: 0, End: 2, Err: errors.New("429")}), CodeEmbeddingFailure},
		{index.ErrDimensionMismatch, CodeInvalidArgument},
		{index.ErrCorruptIndex, CodeCorruptIndex},
		{source.ErrExtractorUnavailable, CodeExtractorUnavailable},
		{tasks.ErrTaskNotFound, CodeTaskNotFound},
		{context.Canceled, CodeCanceled},
		{errors.New("disk full"), CodeInternal},
	}
	for _, tt := range tests {
		if got := ErrorCode(tt.err); got != tt.want {
			t.Errorf("ErrorCode(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestHint(t *testing.T) {
	if Hint(index.ErrIndexNotFound) == "" {
		t.Error("expected a hint for a missing index")
	}
	if Hint(errors.New("disk full")) != "" {
		t.Error("expected no hint for an unknown error")
	}
}
