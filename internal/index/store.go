package index

import "context"

// Store persists indexes at named locations.
//
// At most one build runs per location: Persist and the handle returned by
// Lock hold the location's exclusive lock. Load and Version take the shared
// lock, so they never observe a half-replaced index.
type Store interface {
	// Lock acquires the exclusive build lock for loc.
	Lock(ctx context.Context, loc string) (Locked, error)

	// Persist replaces whatever is stored at loc with idx.
	Persist(ctx context.Context, idx *Index, loc string) error

	// Load reads the index at loc. It fails with ErrIndexNotFound when loc
	// holds no index and with ErrModelMismatch when it was built with a
	// model other than expectedModelID.
	Load(ctx context.Context, loc, expectedModelID string) (*Index, error)

	// Version returns the build ID stored at loc without loading the index.
	Version(ctx context.Context, loc string) (string, error)
}

// Locked is a held build lock. Its methods act on the locked location.
type Locked interface {
	Load(ctx context.Context, expectedModelID string) (*Index, error)
	Persist(ctx context.Context, idx *Index) error
	Unlock() error
}
