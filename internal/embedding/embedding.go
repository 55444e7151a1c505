// Package embedding maps chunk texts to fixed-dimension vectors.
package embedding

import (
	"context"
	"errors"
	"fmt"
)

// ErrEmbedding marks a failed embedding call.
var ErrEmbedding = errors.New("embedding failed")

// Embedder converts texts to vectors.
// The same text always yields the same vector, and every vector has Dimension() entries.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	ModelID() string
	Dimension() int
	Close() error
}

// FailureError reports which chunks could not be embedded.
// Start and End are chunk positions, End exclusive.
type FailureError struct {
	Start int
	End   int
	Err   error
}

func (e *FailureError) Error() string {
	if e.End-e.Start == 1 {
		return fmt.Sprintf("embedding failed for chunk %d: %v", e.Start, e.Err)
	}
	return fmt.Sprintf("embedding failed for chunks %d-%d: %v", e.Start, e.End-1, e.Err)
}

func (e *FailureError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrEmbedding) match any FailureError.
func (e *FailureError) Is(target error) bool {
	return target == ErrEmbedding
}
