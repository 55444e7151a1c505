package app

import (
	"context"
	"errors"

	"github.com/bull/notes-rag-server/internal/chunker"
	"github.com/bull/notes-rag-server/internal/config"
	"github.com/bull/notes-rag-server/internal/embedding"
	"github.com/bull/notes-rag-server/internal/index"
	"github.com/bull/notes-rag-server/internal/source"
	"github.com/bull/notes-rag-server/internal/storage"
	"github.com/bull/notes-rag-server/internal/tasks"
)

// Error codes reported to CLI and MCP callers.
const (
	CodeConfig               = "config_error"
	CodeEmptyInput           = "empty_input"
	CodeIndexNotFound        = "index_not_found"
	CodeModelMismatch        = "model_mismatch"
	CodeEmbeddingFailure     = "embedding_failure"
	CodeInvalidArgument      = "invalid_argument"
	CodeCorruptIndex         = "corrupt_index"
	CodeExtractorUnavailable = "extractor_unavailable"
	CodeBackendUnavailable   = "backend_unavailable"
	CodeTaskNotFound         = "task_not_found"
	CodeCanceled             = "canceled"
	CodeInternal             = "internal_error"
)

// ErrorCode classifies err. Unknown errors are internal_error.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, config.ErrInvalidConfig), errors.Is(err, chunker.ErrConfig):
		return CodeConfig
	case errors.Is(err, index.ErrEmptyInput):
		return CodeEmptyInput
	case errors.Is(err, index.ErrIndexNotFound):
		return CodeIndexNotFound
	case errors.Is(err, index.ErrModelMismatch):
		return CodeModelMismatch
	case errors.Is(err, embedding.ErrEmbedding):
		return CodeEmbeddingFailure
	case errors.Is(err, index.ErrInvalidArgument):
		return CodeInvalidArgument
	case errors.Is(err, index.ErrCorruptIndex):
		return CodeCorruptIndex
	case errors.Is(err, source.ErrExtractorUnavailable):
		return CodeExtractorUnavailable
	case errors.Is(err, storage.ErrQdrantUnreachable):
		return CodeBackendUnavailable
	case errors.Is(err, tasks.ErrTaskNotFound):
		return CodeTaskNotFound
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return CodeCanceled
	}
	return CodeInternal
}

// Hint returns a short suggestion for the error kind, or "" when there is none.
func Hint(err error) string {
	switch ErrorCode(err) {
	case CodeIndexNotFound:
		return "No notes have been indexed yet. Add a note or run reindex first."
	case CodeModelMismatch:
		return "The index was built with a different embedding model. Run reindex with the current model."
	case CodeEmptyInput:
		return "The note contains no text to index."
	case CodeEmbeddingFailure:
		return "The embedding provider failed. The stored index was left unchanged; retry later."
	case CodeExtractorUnavailable:
		return "Configure OCR_COMMAND or ASR_COMMAND and make sure the program is installed."
	case CodeCorruptIndex:
		return "The stored index is damaged. Run reindex to rebuild it from the saved texts."
	}
	return ""
}
