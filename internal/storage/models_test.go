package storage

import (
	"testing"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/notes-rag-server/internal/chunker"
	"github.com/bull/notes-rag-server/internal/index"
)

func TestCollectionName(t *testing.T) {
	name := collectionName("notes", "0f8fad5b-d9cb-469f-a165-70867728950e")
	assert.Equal(t, "notes_0f8fad5bd9cb", name)
	assert.Equal(t, "notes_abc", collectionName("notes", "abc"))
}

func TestManifestPayload(t *testing.T) {
	m := index.Manifest{
		FormatVersion: index.FormatVersion,
		ModelID:       "hash/v1-8",
		Dimension:     8,
		Count:         3,
		BuildID:       "build-1",
		CreatedAt:     time.Date(2026, 3, 1, 12, 0, 0, 5, time.UTC),
		Metric:        index.MetricCosine,
	}

	point := manifestPoint(m)
	assert.Equal(t, manifestPointID, point.GetId().GetUuid())

	decoded, err := manifestFromPayload(point.GetPayload())
	require.NoError(t, err)
	assert.Equal(t, m.ModelID, decoded.ModelID)
	assert.Equal(t, m.Count, decoded.Count)
	assert.True(t, m.CreatedAt.Equal(decoded.CreatedAt))
}

func TestManifestPayload_WrongType(t *testing.T) {
	_, err := manifestFromPayload(qdrant.NewValueMap(map[string]any{"type": "chunk"}))
	assert.ErrorIs(t, err, index.ErrCorruptIndex)
}

func TestEntryFromPoint(t *testing.T) {
	e := index.Entry{
		ID:         "7c9e6679-7425-40de-944b-e07fc1f90ae7",
		DocumentID: "doc-1",
		Chunk:      chunker.Chunk{Text: "hello", Start: 4, End: 9, Index: 1, Oversized: true},
		Vector:     []float32{0.5, 0.5},
	}
	point := entryPoint(7, e)

	retrieved := &qdrant.RetrievedPoint{
		Id:      point.GetId(),
		Payload: point.GetPayload(),
		Vectors: &qdrant.VectorsOutput{
			VectorsOptions: &qdrant.VectorsOutput_Vectors{
				Vectors: &qdrant.NamedVectorsOutput{
					Vectors: map[string]*qdrant.VectorOutput{
						VectorName: {Data: e.Vector},
					},
				},
			},
		},
	}

	got, ordinal, err := entryFromPoint(retrieved)
	require.NoError(t, err)
	assert.Equal(t, 7, ordinal)
	assert.Equal(t, e, got)
}

func TestEntryFromPoint_MissingVector(t *testing.T) {
	point := entryPoint(0, index.Entry{ID: "7c9e6679-7425-40de-944b-e07fc1f90ae7", Vector: []float32{1}})
	_, _, err := entryFromPoint(&qdrant.RetrievedPoint{Id: point.GetId(), Payload: point.GetPayload()})
	assert.ErrorIs(t, err, index.ErrCorruptIndex)
}

func TestAliasSwap(t *testing.T) {
	ops := aliasSwap("notes", "", "notes_b2")
	require.Len(t, ops, 1)
	assert.Equal(t, "notes", ops[0].GetCreateAlias().GetAliasName())
	assert.Equal(t, "notes_b2", ops[0].GetCreateAlias().GetCollectionName())

	// Delete and create travel in one request so the alias is never missing.
	ops = aliasSwap("notes", "notes_b1", "notes_b2")
	require.Len(t, ops, 2)
	assert.Equal(t, "notes", ops[0].GetDeleteAlias().GetAliasName())
	assert.Nil(t, ops[0].GetCreateAlias())
	assert.Equal(t, "notes", ops[1].GetCreateAlias().GetAliasName())
	assert.Equal(t, "notes_b2", ops[1].GetCreateAlias().GetCollectionName())
}
