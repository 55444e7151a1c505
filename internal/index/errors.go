package index

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyInput      = errors.New("no chunks to index")
	ErrIndexNotFound   = errors.New("index not found")
	ErrModelMismatch   = errors.New("embedding model mismatch")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrCorruptIndex    = errors.New("corrupt index")

	ErrDimensionMismatch = fmt.Errorf("%w: embedding dimension mismatch", ErrInvalidArgument)
)

// ModelMismatchError reports an index built with a different embedding model.
type ModelMismatchError struct {
	Expected string
	Found    string
}

func (e *ModelMismatchError) Error() string {
	return fmt.Sprintf("embedding model mismatch: index was built with %q, expected %q", e.Found, e.Expected)
}

// Is makes errors.Is(err, ErrModelMismatch) match.
func (e *ModelMismatchError) Is(target error) bool {
	return target == ErrModelMismatch
}
