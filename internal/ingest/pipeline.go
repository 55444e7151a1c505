// Package ingest turns documents into index entries and persists them.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bull/notes-rag-server/internal/chunker"
	"github.com/bull/notes-rag-server/internal/embedding"
	"github.com/bull/notes-rag-server/internal/index"
	"github.com/bull/notes-rag-server/internal/source"
	"github.com/bull/notes-rag-server/internal/textstore"
)

// Mode selects how a new document combines with the stored index.
type Mode string

const (
	// ModeAppend adds the document's entries after the existing ones.
	ModeAppend Mode = "append"
	// ModeReplace builds the index from the new document alone.
	ModeReplace Mode = "replace"
)

// ParseMode validates a mode name. Empty means append.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeAppend:
		return ModeAppend, nil
	case ModeReplace:
		return ModeReplace, nil
	}
	return "", fmt.Errorf("unknown ingest mode %q", s)
}

// Result contains statistics about one ingestion.
type Result struct {
	DocumentID     string
	TextPath       string
	Chunks         int
	OversizedCount int
	TotalEntries   int
	BuildID        string
	Mode           Mode
	Duration       time.Duration
}

// ReindexResult contains statistics about a full rebuild.
type ReindexResult struct {
	Documents    int
	Skipped      []string
	TotalEntries int
	BuildID      string
	Duration     time.Duration
}

// Config tunes embedding batches.
type Config struct {
	Mode             Mode
	EmbedBatchSize   int
	EmbedConcurrency int
}

// Pipeline orchestrates chunk, embed, build and persist for each document.
type Pipeline struct {
	texts    *textstore.Store
	chunker  *chunker.Chunker
	embedder embedding.Embedder
	store    index.Store
	cfg      Config
	logger   *slog.Logger
}

// NewPipeline creates a new ingestion pipeline with the given components.
func NewPipeline(
	texts *textstore.Store,
	chunker *chunker.Chunker,
	embedder embedding.Embedder,
	store index.Store,
	cfg Config,
	logger *slog.Logger,
) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeAppend
	}
	return &Pipeline{
		texts:    texts,
		chunker:  chunker,
		embedder: embedder,
		store:    store,
		cfg:      cfg,
		logger:   logger,
	}
}

// Mode returns the configured ingest mode.
func (p *Pipeline) Mode() Mode { return p.cfg.Mode }

// Ingest stores doc's text, then indexes it at loc.
// The text is saved first so nothing is lost when embedding fails; a failed
// embedding leaves the persisted index as it was.
func (p *Pipeline) Ingest(ctx context.Context, doc source.Document, loc string) (*Result, error) {
	doc, textPath, err := p.Save(doc)
	if err != nil {
		return nil, err
	}
	return p.Index(ctx, doc, textPath, loc)
}

// Save writes doc's text to the text store and returns the document as saved
// together with its path. Pass both to Index.
func (p *Pipeline) Save(doc source.Document) (source.Document, string, error) {
	if doc.Origin == "" {
		doc.Origin = source.OriginText
	}
	textPath, err := p.texts.Save(doc)
	if err != nil {
		return doc, "", fmt.Errorf("document %s: %w", doc.ID, err)
	}
	p.logger.Debug("Saved text", "document", doc.ID, "path", textPath)
	return doc, textPath, nil
}

// Index chunks and embeds a document already saved at textPath and adds it
// to the index at loc according to the ingest mode.
func (p *Pipeline) Index(ctx context.Context, doc source.Document, textPath, loc string) (*Result, error) {
	start := time.Now()

	entries, oversized, err := p.embedDocument(ctx, doc)
	if err != nil {
		return nil, err
	}
	added := len(entries)

	idx, err := p.commit(ctx, entries, loc)
	if err != nil {
		return nil, err
	}

	result := &Result{
		DocumentID:     doc.ID,
		TextPath:       textPath,
		Chunks:         added,
		OversizedCount: oversized,
		TotalEntries:   idx.Len(),
		BuildID:        idx.BuildID(),
		Mode:           p.cfg.Mode,
		Duration:       time.Since(start),
	}
	p.logger.Info("Indexed document",
		"document", doc.ID,
		"origin", doc.Origin,
		"chunks", result.Chunks,
		"oversized", oversized,
		"total", result.TotalEntries,
		"mode", p.cfg.Mode,
		"duration", result.Duration,
	)
	return result, nil
}

// BatchResult contains statistics about IngestBatch.
type BatchResult struct {
	Documents    []*Result
	Failed       map[string]error
	TotalEntries int
	BuildID      string
	Duration     time.Duration
}

// IngestBatch saves and embeds every document, then adds the successful ones
// to loc with a single build. A document that fails to save or embed is
// recorded in Failed and the rest continue. When every document fails no
// build happens and the index is left as it was.
func (p *Pipeline) IngestBatch(ctx context.Context, docs []source.Document, loc string) (*BatchResult, error) {
	start := time.Now()
	result := &BatchResult{Failed: make(map[string]error)}

	var entries []index.Entry
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		doc, textPath, err := p.Save(doc)
		if err != nil {
			result.Failed[doc.ID] = err
			continue
		}
		docEntries, oversized, err := p.embedDocument(ctx, doc)
		if err != nil {
			result.Failed[doc.ID] = err
			continue
		}
		entries = append(entries, docEntries...)
		result.Documents = append(result.Documents, &Result{
			DocumentID:     doc.ID,
			TextPath:       textPath,
			Chunks:         len(docEntries),
			OversizedCount: oversized,
			Mode:           p.cfg.Mode,
		})
	}
	if len(entries) == 0 {
		result.Duration = time.Since(start)
		return result, nil
	}

	idx, err := p.commit(ctx, entries, loc)
	if err != nil {
		return nil, err
	}
	result.TotalEntries = idx.Len()
	result.BuildID = idx.BuildID()
	result.Duration = time.Since(start)
	for _, r := range result.Documents {
		r.TotalEntries = result.TotalEntries
		r.BuildID = result.BuildID
	}
	p.logger.Info("Indexed batch",
		"documents", len(result.Documents),
		"failed", len(result.Failed),
		"total", result.TotalEntries,
		"mode", p.cfg.Mode,
		"duration", result.Duration,
	)
	return result, nil
}

// commit builds and persists the index at loc from entries, appending them to
// the stored entries in append mode. The load and persist share one lock.
func (p *Pipeline) commit(ctx context.Context, entries []index.Entry, loc string) (*index.Index, error) {
	locked, err := p.store.Lock(ctx, loc)
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", loc, err)
	}
	defer locked.Unlock()

	if p.cfg.Mode == ModeAppend {
		existing, err := locked.Load(ctx, p.embedder.ModelID())
		switch {
		case errors.Is(err, index.ErrIndexNotFound):
			p.logger.Info("No existing index, starting a new one", "location", loc)
		case err != nil:
			return nil, fmt.Errorf("load existing index: %w", err)
		default:
			entries = append(existing.Entries(), entries...)
		}
	}

	idx, err := index.BuildEntries(p.embedder.ModelID(), entries)
	if err != nil {
		return nil, fmt.Errorf("build index: %w", err)
	}
	if err := locked.Persist(ctx, idx); err != nil {
		return nil, fmt.Errorf("persist index: %w", err)
	}
	return idx, nil
}

// embedDocument chunks and embeds doc. Entries carry the document ID.
func (p *Pipeline) embedDocument(ctx context.Context, doc source.Document) ([]index.Entry, int, error) {
	chunks, err := p.chunker.Chunk(doc.Text)
	if err != nil {
		return nil, 0, fmt.Errorf("document %s: chunk: %w", doc.ID, err)
	}
	if len(chunks) == 0 {
		return nil, 0, fmt.Errorf("document %s: %w", doc.ID, index.ErrEmptyInput)
	}
	p.logger.Debug("Chunked document", "document", doc.ID, "chunks", len(chunks))

	texts := make([]string, len(chunks))
	oversized := 0
	for i, c := range chunks {
		texts[i] = c.Text
		if c.Oversized {
			oversized++
		}
	}

	vectors, err := embedding.EmbedAll(ctx, p.embedder, texts, p.cfg.EmbedBatchSize, p.cfg.EmbedConcurrency)
	if err != nil {
		return nil, 0, fmt.Errorf("document %s: %w", doc.ID, err)
	}

	entries := make([]index.Entry, len(chunks))
	for i, c := range chunks {
		entries[i] = index.Entry{DocumentID: doc.ID, Chunk: c, Vector: vectors[i]}
	}
	return entries, oversized, nil
}

// Reindex rebuilds loc from every document in the text store.
// Documents without chunks are skipped; any embedding failure aborts the rebuild.
func (p *Pipeline) Reindex(ctx context.Context, loc string) (*ReindexResult, error) {
	start := time.Now()
	result := &ReindexResult{}

	records, err := p.texts.List()
	if err != nil {
		return nil, err
	}
	p.logger.Info("Starting reindex", "location", loc, "documents", len(records))

	var entries []index.Entry
	for _, rec := range records {
		doc, err := p.texts.Load(rec.Path)
		if err != nil {
			return nil, err
		}

		docEntries, _, err := p.embedDocument(ctx, doc)
		if errors.Is(err, index.ErrEmptyInput) {
			p.logger.Warn("Skipping empty document", "document", doc.ID, "path", rec.Path)
			result.Skipped = append(result.Skipped, rec.Path)
			continue
		}
		if err != nil {
			return nil, err
		}
		entries = append(entries, docEntries...)
		result.Documents++
	}

	if len(entries) == 0 {
		return nil, fmt.Errorf("reindex %s: %w", loc, index.ErrEmptyInput)
	}

	idx, err := index.BuildEntries(p.embedder.ModelID(), entries)
	if err != nil {
		return nil, fmt.Errorf("build index: %w", err)
	}
	if err := p.store.Persist(ctx, idx, loc); err != nil {
		return nil, fmt.Errorf("persist index: %w", err)
	}

	result.TotalEntries = idx.Len()
	result.BuildID = idx.BuildID()
	result.Duration = time.Since(start)
	p.logger.Info("Reindex complete",
		"location", loc,
		"documents", result.Documents,
		"skipped", len(result.Skipped),
		"entries", result.TotalEntries,
		"duration", result.Duration,
	)
	return result, nil
}
