// Package retrieval answers similarity queries against the latest persisted index.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/bull/notes-rag-server/internal/embedding"
	"github.com/bull/notes-rag-server/internal/index"
)

// Status describes the index a service currently serves.
type Status struct {
	Location  string
	ModelID   string
	BuildID   string
	Entries   int
	Dimension int
}

// Service embeds questions with the build-time embedder and queries a cached snapshot.
// The snapshot is reloaded whenever the stored build ID changes.
type Service struct {
	embedder embedding.Embedder
	store    index.Store
	loc      string
	logger   *slog.Logger

	mu       sync.Mutex
	snapshot *index.Index
}

// NewService creates a retrieval service for the index at loc.
func NewService(embedder embedding.Embedder, store index.Store, loc string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		embedder: embedder,
		store:    store,
		loc:      loc,
		logger:   logger,
	}
}

// Search returns the k chunks nearest to question.
func (s *Service) Search(ctx context.Context, question string, k int) ([]index.Result, error) {
	if strings.TrimSpace(question) == "" {
		return nil, fmt.Errorf("%w: empty question", index.ErrInvalidArgument)
	}
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", index.ErrInvalidArgument, k)
	}

	idx, err := s.current(ctx)
	if err != nil {
		return nil, err
	}

	vectors, err := s.embedder.Embed(ctx, []string{question})
	if err != nil {
		return nil, &embedding.FailureError{Start: 0, End: 1, Err: err}
	}
	if len(vectors) != 1 {
		return nil, &embedding.FailureError{Start: 0, End: 1,
			Err: fmt.Errorf("expected 1 vector, got %d", len(vectors))}
	}

	return idx.Query(vectors[0], k)
}

// Status reports the index at the location, loading it if needed.
func (s *Service) Status(ctx context.Context) (*Status, error) {
	idx, err := s.current(ctx)
	if err != nil {
		return nil, err
	}
	return &Status{
		Location:  s.loc,
		ModelID:   idx.ModelID(),
		BuildID:   idx.BuildID(),
		Entries:   idx.Len(),
		Dimension: idx.Dimension(),
	}, nil
}

// current returns the cached snapshot, reloading it when a newer build was persisted.
func (s *Service) current(ctx context.Context) (*index.Index, error) {
	version, err := s.store.Version(ctx, s.loc)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.snapshot != nil && s.snapshot.BuildID() == version {
		return s.snapshot, nil
	}

	idx, err := s.store.Load(ctx, s.loc, s.embedder.ModelID())
	if err != nil {
		return nil, err
	}

	if s.snapshot != nil {
		s.logger.Info("Index changed, reloaded snapshot",
			"location", s.loc,
			"previous", s.snapshot.BuildID(),
			"build_id", idx.BuildID(),
		)
	} else {
		s.logger.Debug("Loaded index snapshot", "location", s.loc, "build_id", idx.BuildID())
	}
	s.snapshot = idx
	return idx, nil
}
