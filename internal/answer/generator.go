// Package answer writes grounded answers from retrieved note chunks.
package answer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/openai/openai-go"

	"github.com/bull/notes-rag-server/internal/index"
)

// DefaultMaxTokens is the maximum context length before truncation (in tokens).
const DefaultMaxTokens = 16000

// DefaultModel is the chat model used when none is configured.
const DefaultModel = string(openai.ChatModelGPT4oMini)

// ErrNoContext is returned when there are no chunks to answer from.
var ErrNoContext = errors.New("no context to answer from")

// Generator answers questions from retrieved chunks with an OpenAI chat model.
type Generator struct {
	client    *openai.Client
	model     string
	maxTokens int
	logger    *slog.Logger
}

// NewGenerator creates an answer generator with the given OpenAI client.
// Empty model means DefaultModel; maxTokens <= 0 means DefaultMaxTokens.
func NewGenerator(client *openai.Client, model string, maxTokens int, logger *slog.Logger) *Generator {
	if model == "" {
		model = DefaultModel
	}
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		client:    client,
		model:     model,
		maxTokens: maxTokens,
		logger:    logger,
	}
}

// Answer asks the model to answer question using only the retrieved chunks.
func (g *Generator) Answer(ctx context.Context, question string, results []index.Result) (string, error) {
	if len(results) == 0 {
		return "", ErrNoContext
	}
	prompt := g.buildPrompt(question, results)

	var resp *openai.ChatCompletion
	operation := func() error {
		var err error
		resp, err = g.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
			Messages: []openai.ChatCompletionMessageParamUnion{
				openai.SystemMessage("You answer questions about the user's personal notes. Use only the provided notes. If they do not contain the answer, say so."),
				openai.UserMessage(prompt),
			},
			Model: openai.ChatModel(g.model),
		})
		if err != nil && !isRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 30 * time.Second

	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func isRetryable(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}
	return false
}

// buildPrompt lists the chunks in rank order, then the question.
func (g *Generator) buildPrompt(question string, results []index.Result) string {
	var notes strings.Builder
	for i, r := range results {
		fmt.Fprintf(&notes, "[%d] %s\n\n", i+1, strings.TrimSpace(r.Entry.Chunk.Text))
	}
	return fmt.Sprintf("Notes:\n%s\nQuestion: %s", g.truncateContent(notes.String()), question)
}

// truncateContent truncates content to fit within token limits.
// Uses rough estimate of 4 characters per token.
func (g *Generator) truncateContent(content string) string {
	maxChars := g.maxTokens * 4

	runes := []rune(content)
	if len(runes) <= maxChars {
		return content
	}

	g.logger.Warn("Truncating answer context",
		"from_chars", len(runes),
		"to_chars", maxChars,
		"max_tokens", g.maxTokens,
	)
	return string(runes[:maxChars])
}
