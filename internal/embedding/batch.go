package embedding

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency is the number of batches embedded at once.
const DefaultConcurrency = 4

// EmbedAll embeds texts in batches, running up to concurrency batches at a time.
// The result is in the same order as texts. The first failing batch aborts the
// rest and is reported as a *FailureError.
func EmbedAll(ctx context.Context, e Embedder, texts []string, batchSize, concurrency int) ([][]float32, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	vectors := make([][]float32, len(texts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for start := 0; start < len(texts); start += batchSize {
		end := min(start+batchSize, len(texts))
		g.Go(func() error {
			batch, err := e.Embed(gctx, texts[start:end])
			if err != nil {
				return &FailureError{Start: start, End: end, Err: err}
			}
			if len(batch) != end-start {
				return &FailureError{Start: start, End: end,
					Err: fmt.Errorf("expected %d vectors, got %d", end-start, len(batch))}
			}
			for i, v := range batch {
				if len(v) != e.Dimension() {
					return &FailureError{Start: start + i, End: start + i + 1,
						Err: fmt.Errorf("vector has %d dimensions, expected %d", len(v), e.Dimension())}
				}
				vectors[start+i] = v
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vectors, nil
}
