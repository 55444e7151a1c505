package storage

import "errors"

var (
	ErrQdrantUnreachable = errors.New("qdrant server unreachable")
	ErrAliasSwap         = errors.New("failed to switch index alias")
)
