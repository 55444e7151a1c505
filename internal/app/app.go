// Package app assembles the notes components from a configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/bull/notes-rag-server/internal/answer"
	"github.com/bull/notes-rag-server/internal/config"
	"github.com/bull/notes-rag-server/internal/embedding"
	"github.com/bull/notes-rag-server/internal/index"
	"github.com/bull/notes-rag-server/internal/ingest"
	"github.com/bull/notes-rag-server/internal/retrieval"
	"github.com/bull/notes-rag-server/internal/source"
	"github.com/bull/notes-rag-server/internal/storage"
	"github.com/bull/notes-rag-server/internal/textstore"
)

// App holds the wired components shared by the CLI and the MCP server.
type App struct {
	Config    *config.Config
	Logger    *slog.Logger
	Embedder  embedding.Embedder
	Store     index.Store
	Texts     *textstore.Store
	Pipeline  *ingest.Pipeline
	Retrieval *retrieval.Service

	// Answers is nil when no OpenAI key is available.
	Answers *answer.Generator

	// Location is the index location: a directory for the file backend, an
	// alias for Qdrant.
	Location string

	qdrant *storage.QdrantStore
}

// New builds every component described by cfg.
func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, Logger: logger}

	mode, err := ingest.ParseMode(cfg.IngestMode)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", config.ErrInvalidConfig, err)
	}

	openaiClient, err := embedding.NewClient(cfg.OpenAIAPIKey)
	if err != nil && cfg.Embedder == config.EmbedderOpenAI {
		return nil, fmt.Errorf("%w: %w", config.ErrInvalidConfig, err)
	}

	switch cfg.Embedder {
	case config.EmbedderOpenAI:
		a.Embedder, err = embedding.NewOpenAIEmbedder(openaiClient, cfg.EmbeddingModel)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", config.ErrInvalidConfig, err)
		}
	case config.EmbedderHash:
		a.Embedder = embedding.NewHashEmbedder(cfg.HashDimension)
	default:
		return nil, fmt.Errorf("%w: unknown embedder %q", config.ErrInvalidConfig, cfg.Embedder)
	}

	if openaiClient != nil {
		a.Answers = answer.NewGenerator(openaiClient.Client(), cfg.AnswerModel, answer.DefaultMaxTokens, logger)
	} else {
		logger.Debug("No OpenAI key, answers disabled")
	}

	switch cfg.IndexBackend {
	case config.BackendFile:
		a.Store = index.NewFileStore(logger)
		a.Location = cfg.IndexDir
	case config.BackendQdrant:
		qs, err := storage.NewQdrantStore(cfg.QdrantHost, cfg.QdrantPort,
			storage.WithLockDir(filepath.Join(cfg.IndexDir, "locks")),
			storage.WithLogger(logger),
		)
		if err != nil {
			return nil, err
		}
		a.qdrant = qs
		a.Store = qs
		a.Location = cfg.Collection
	default:
		return nil, fmt.Errorf("%w: unknown index backend %q", config.ErrInvalidConfig, cfg.IndexBackend)
	}

	a.Texts, err = textstore.New(cfg.TextDir)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Pipeline = ingest.NewPipeline(a.Texts, cfg.Chunker(), a.Embedder, a.Store, ingest.Config{
		Mode:             mode,
		EmbedBatchSize:   cfg.EmbedBatchSize,
		EmbedConcurrency: cfg.EmbedConcurrency,
	}, logger)
	a.Retrieval = retrieval.NewService(a.Embedder, a.Store, a.Location, logger)

	return a, nil
}

// Extractor returns the OCR or ASR extractor for origin.
func (a *App) Extractor(origin source.Origin) (source.Extractor, error) {
	switch origin {
	case source.OriginImage:
		return source.NewCommandExtractor(origin, a.Config.OCRCommand)
	case source.OriginAudio:
		return source.NewCommandExtractor(origin, a.Config.ASRCommand)
	}
	return nil, fmt.Errorf("%w: no extractor for %s notes", source.ErrExtractorUnavailable, origin)
}

// Health checks that the index backend is reachable.
func (a *App) Health(ctx context.Context) error {
	if a.qdrant != nil {
		return a.qdrant.Health(ctx)
	}
	_, err := a.Store.Version(ctx, a.Location)
	if errors.Is(err, index.ErrIndexNotFound) {
		return checkWritable(filepath.Dir(a.Location))
	}
	return err
}

// Backend names the index backend for health reports.
func (a *App) Backend() string {
	return a.Config.IndexBackend
}

// Close releases the embedder and the Qdrant connection.
func (a *App) Close() error {
	var errs []error
	if a.Embedder != nil {
		errs = append(errs, a.Embedder.Close())
	}
	if a.qdrant != nil {
		errs = append(errs, a.qdrant.Close())
	}
	return errors.Join(errs...)
}

func checkWritable(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".health-*")
	if err != nil {
		return err
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}
