package ingest

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/notes-rag-server/internal/chunker"
	"github.com/bull/notes-rag-server/internal/embedding"
	"github.com/bull/notes-rag-server/internal/index"
	"github.com/bull/notes-rag-server/internal/source"
	"github.com/bull/notes-rag-server/internal/textstore"
)

// failingEmbedder wraps an embedder and fails any batch containing poison.
type failingEmbedder struct {
	embedding.Embedder
	poison string
}

func (f *failingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	for _, t := range texts {
		if strings.Contains(t, f.poison) {
			return nil, errors.New("provider unavailable")
		}
	}
	return f.Embedder.Embed(ctx, texts)
}

type fixture struct {
	texts *textstore.Store
	store *index.FileStore
	loc   string
}

func newFixture(t *testing.T) *fixture {
	dir := t.TempDir()
	texts, err := textstore.New(filepath.Join(dir, "texts"))
	require.NoError(t, err)
	return &fixture{
		texts: texts,
		store: index.NewFileStore(nil),
		loc:   filepath.Join(dir, "index"),
	}
}

func (f *fixture) pipeline(e embedding.Embedder, mode Mode) *Pipeline {
	c := chunker.New(chunker.WithTargetSize(60), chunker.WithOverlap(10))
	return NewPipeline(f.texts, c, e, f.store, Config{Mode: mode, EmbedBatchSize: 2, EmbedConcurrency: 2}, nil)
}

const (
	noteA = "Met with the storage team. We agreed to keep the manifest small. Follow up on Friday."
	noteB = "Grocery list: apples, oat milk, coffee beans. Remember the reusable bags."
)

func TestIngest_NewIndex(t *testing.T) {
	f := newFixture(t)
	p := f.pipeline(embedding.NewHashEmbedder(32), ModeAppend)
	ctx := context.Background()

	doc := source.FromText("meeting", noteA)
	result, err := p.Ingest(ctx, doc, f.loc)
	require.NoError(t, err)

	assert.Equal(t, doc.ID, result.DocumentID)
	assert.Greater(t, result.Chunks, 1)
	assert.Equal(t, result.Chunks, result.TotalEntries)
	assert.Equal(t, ModeAppend, result.Mode)
	assert.FileExists(t, result.TextPath)

	idx, err := f.store.Load(ctx, f.loc, "hash/v1-32")
	require.NoError(t, err)
	assert.Equal(t, result.BuildID, idx.BuildID())
	for _, e := range idx.Entries() {
		assert.Equal(t, doc.ID, e.DocumentID)
	}
}

func TestIngest_AppendKeepsOrder(t *testing.T) {
	f := newFixture(t)
	p := f.pipeline(embedding.NewHashEmbedder(32), ModeAppend)
	ctx := context.Background()

	a := source.FromText("a", noteA)
	b := source.FromText("b", noteB)
	first, err := p.Ingest(ctx, a, f.loc)
	require.NoError(t, err)
	second, err := p.Ingest(ctx, b, f.loc)
	require.NoError(t, err)

	assert.Equal(t, first.Chunks+second.Chunks, second.TotalEntries)

	idx, err := f.store.Load(ctx, f.loc, "hash/v1-32")
	require.NoError(t, err)
	entries := idx.Entries()
	require.Len(t, entries, second.TotalEntries)
	for i, e := range entries {
		if i < first.Chunks {
			assert.Equal(t, a.ID, e.DocumentID)
		} else {
			assert.Equal(t, b.ID, e.DocumentID)
		}
	}
}

func TestIngest_ReplaceMode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.pipeline(embedding.NewHashEmbedder(32), ModeAppend).Ingest(ctx, source.FromText("a", noteA), f.loc)
	require.NoError(t, err)

	b := source.FromText("b", noteB)
	result, err := f.pipeline(embedding.NewHashEmbedder(32), ModeReplace).Ingest(ctx, b, f.loc)
	require.NoError(t, err)
	assert.Equal(t, result.Chunks, result.TotalEntries)

	idx, err := f.store.Load(ctx, f.loc, "hash/v1-32")
	require.NoError(t, err)
	for _, e := range idx.Entries() {
		assert.Equal(t, b.ID, e.DocumentID)
	}
}

func TestIngest_EmptyText(t *testing.T) {
	f := newFixture(t)
	p := f.pipeline(embedding.NewHashEmbedder(32), ModeAppend)

	_, err := p.Ingest(context.Background(), source.FromText("blank", ""), f.loc)
	assert.ErrorIs(t, err, index.ErrEmptyInput)

	// The text is saved before chunking.
	records, err := f.texts.List()
	require.NoError(t, err)
	assert.Len(t, records, 1)

	_, err = f.store.Version(context.Background(), f.loc)
	assert.ErrorIs(t, err, index.ErrIndexNotFound)
}

func TestIngest_EmbeddingFailureLeavesIndex(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	hash := embedding.NewHashEmbedder(32)

	_, err := f.pipeline(hash, ModeAppend).Ingest(ctx, source.FromText("a", noteA), f.loc)
	require.NoError(t, err)
	before, err := f.store.Version(ctx, f.loc)
	require.NoError(t, err)

	doc := source.FromText("b", noteB)
	p := f.pipeline(&failingEmbedder{Embedder: hash, poison: "coffee"}, ModeAppend)
	_, err = p.Ingest(ctx, doc, f.loc)
	require.Error(t, err)
	assert.ErrorIs(t, err, embedding.ErrEmbedding)
	assert.Contains(t, err.Error(), doc.ID)

	var failure *embedding.FailureError
	require.ErrorAs(t, err, &failure)
	assert.Less(t, failure.Start, failure.End)

	after, err := f.store.Version(ctx, f.loc)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	records, err := f.texts.List()
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestIngest_ModelMismatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.pipeline(embedding.NewHashEmbedder(32), ModeAppend).Ingest(ctx, source.FromText("a", noteA), f.loc)
	require.NoError(t, err)

	_, err = f.pipeline(embedding.NewHashEmbedder(64), ModeAppend).Ingest(ctx, source.FromText("b", noteB), f.loc)
	assert.ErrorIs(t, err, index.ErrModelMismatch)
}

func TestIngest_ConcurrentAppends(t *testing.T) {
	f := newFixture(t)
	p := f.pipeline(embedding.NewHashEmbedder(32), ModeAppend)
	ctx := context.Background()

	const n = 6
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		total int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := p.Ingest(ctx, source.FromText(fmt.Sprintf("n%d", i), fmt.Sprintf("note %d: %s", i, noteA)), f.loc)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			total += res.Chunks
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	idx, err := f.store.Load(ctx, f.loc, "hash/v1-32")
	require.NoError(t, err)
	assert.Equal(t, total, idx.Len())
}

func TestSaveThenIndex(t *testing.T) {
	f := newFixture(t)
	p := f.pipeline(embedding.NewHashEmbedder(32), ModeAppend)
	ctx := context.Background()

	doc, textPath, err := p.Save(source.Document{ID: "n1", Name: "call", Text: noteA})
	require.NoError(t, err)
	assert.Equal(t, source.OriginText, doc.Origin)
	assert.FileExists(t, textPath)

	// Saved but not yet indexed.
	_, err = f.store.Version(ctx, f.loc)
	assert.ErrorIs(t, err, index.ErrIndexNotFound)

	result, err := p.Index(ctx, doc, textPath, f.loc)
	require.NoError(t, err)
	assert.Equal(t, textPath, result.TextPath)
	assert.Equal(t, result.Chunks, result.TotalEntries)
}

func TestIngestBatch_SingleBuild(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	hash := embedding.NewHashEmbedder(32)

	first, err := f.pipeline(hash, ModeAppend).Ingest(ctx, source.FromText("a", noteA), f.loc)
	require.NoError(t, err)

	docs := []source.Document{
		source.FromText("b", noteB),
		source.FromText("blank", ""),
		source.FromText("c", "Coffee with Ana next week."),
	}
	p := f.pipeline(&failingEmbedder{Embedder: hash, poison: "Ana"}, ModeAppend)
	batch, err := p.IngestBatch(ctx, docs, f.loc)
	require.NoError(t, err)

	require.Len(t, batch.Documents, 1)
	assert.Equal(t, docs[0].ID, batch.Documents[0].DocumentID)
	require.Len(t, batch.Failed, 2)
	assert.ErrorIs(t, batch.Failed[docs[1].ID], index.ErrEmptyInput)
	assert.ErrorIs(t, batch.Failed[docs[2].ID], embedding.ErrEmbedding)

	assert.Equal(t, first.Chunks+batch.Documents[0].Chunks, batch.TotalEntries)
	assert.Equal(t, batch.BuildID, batch.Documents[0].BuildID)
	idx, err := f.store.Load(ctx, f.loc, "hash/v1-32")
	require.NoError(t, err)
	assert.Equal(t, batch.BuildID, idx.BuildID())

	// Every text is kept, including the ones that failed to index.
	records, err := f.texts.List()
	require.NoError(t, err)
	assert.Len(t, records, 4)
}

func TestIngestBatch_AllFailedLeavesIndex(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.pipeline(embedding.NewHashEmbedder(32), ModeAppend)

	_, err := p.Ingest(ctx, source.FromText("a", noteA), f.loc)
	require.NoError(t, err)
	before, err := f.store.Version(ctx, f.loc)
	require.NoError(t, err)

	batch, err := p.IngestBatch(ctx, []source.Document{source.FromText("blank", "")}, f.loc)
	require.NoError(t, err)
	assert.Empty(t, batch.Documents)
	assert.Empty(t, batch.BuildID)

	after, err := f.store.Version(ctx, f.loc)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestReindex(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, doc := range []source.Document{
		source.FromText("a", noteA),
		source.FromText("b", noteB),
		source.FromText("empty", ""),
	} {
		_, err := f.texts.Save(doc)
		require.NoError(t, err)
	}

	p := f.pipeline(embedding.NewHashEmbedder(32), ModeReplace)
	result, err := p.Reindex(ctx, f.loc)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Documents)
	assert.Len(t, result.Skipped, 1)

	idx, err := f.store.Load(ctx, f.loc, "hash/v1-32")
	require.NoError(t, err)
	assert.Equal(t, result.TotalEntries, idx.Len())
	assert.Equal(t, result.BuildID, idx.BuildID())
}

func TestReindex_Empty(t *testing.T) {
	f := newFixture(t)
	_, err := f.pipeline(embedding.NewHashEmbedder(32), ModeAppend).Reindex(context.Background(), f.loc)
	assert.ErrorIs(t, err, index.ErrEmptyInput)
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeAppend, m)

	m, err = ParseMode("replace")
	require.NoError(t, err)
	assert.Equal(t, ModeReplace, m)

	_, err = ParseMode("merge")
	assert.Error(t, err)
}
