//go:build integration

package storage

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/notes-rag-server/internal/chunker"
	"github.com/bull/notes-rag-server/internal/index"
)

// setupTestStore creates a test store. Skips test if Qdrant is not running.
func setupTestStore(t *testing.T) *QdrantStore {
	store, err := NewQdrantStore("localhost", 6334, WithLockDir(t.TempDir()))
	if err != nil {
		t.Skipf("Qdrant not available: %v", err)
	}
	return store
}

func testIndex(t *testing.T, n int) *index.Index {
	chunks := make([]chunker.Chunk, n)
	vectors := make([][]float32, n)
	for i := range chunks {
		chunks[i] = chunker.Chunk{Text: fmt.Sprintf("chunk %d", i), Start: i * 10, End: i*10 + 7, Index: i}
		vectors[i] = []float32{float32(i + 1), 1, 0, 0}
	}
	idx, err := index.Build("hash/v1-4", chunks, vectors)
	require.NoError(t, err)
	return idx
}

func TestQdrantStore_RoundTrip(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()
	loc := "test_notes_" + uuid.New().String()[:8]

	// More entries than one scroll page.
	idx := testIndex(t, scrollBatchSize*2+3)
	require.NoError(t, store.Persist(ctx, idx, loc))

	loaded, err := store.Load(ctx, loc, "hash/v1-4")
	require.NoError(t, err)
	assert.Equal(t, idx.BuildID(), loaded.BuildID())
	assert.Equal(t, idx.Entries(), loaded.Entries())

	version, err := store.Version(ctx, loc)
	require.NoError(t, err)
	assert.Equal(t, idx.BuildID(), version)
}

func TestQdrantStore_ReplaceDropsPrevious(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()
	loc := "test_notes_" + uuid.New().String()[:8]

	require.NoError(t, store.Persist(ctx, testIndex(t, 3), loc))
	second := testIndex(t, 1)
	require.NoError(t, store.Persist(ctx, second, loc))

	loaded, err := store.Load(ctx, loc, "hash/v1-4")
	require.NoError(t, err)
	assert.Equal(t, 1, loaded.Len())

	collections, err := store.Collections(ctx, loc)
	require.NoError(t, err)
	assert.Equal(t, []string{collectionName(loc, second.BuildID())}, collections)
}

func TestQdrantStore_Errors(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()
	loc := "test_notes_" + uuid.New().String()[:8]

	_, err := store.Load(ctx, loc, "hash/v1-4")
	assert.ErrorIs(t, err, index.ErrIndexNotFound)

	require.NoError(t, store.Persist(ctx, testIndex(t, 2), loc))
	_, err = store.Load(ctx, loc, "openai/text-embedding-3-small")
	assert.ErrorIs(t, err, index.ErrModelMismatch)
}
