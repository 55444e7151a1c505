package storage

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/bull/notes-rag-server/internal/chunker"
	"github.com/bull/notes-rag-server/internal/index"
)

// VectorName is the named vector holding chunk embeddings.
// The manifest point carries no vector.
const VectorName = "content"

// Point types stored in the "type" payload field.
const (
	pointTypeManifest = "manifest"
	pointTypeChunk    = "chunk"
)

// manifestPointID is the fixed ID of the manifest point in every collection.
var manifestPointID = uuid.NewSHA1(uuid.NameSpaceURL, []byte("notes-rag-server/manifest")).String()

// collectionName returns the collection holding one build of alias loc.
func collectionName(loc, buildID string) string {
	id := strings.ReplaceAll(buildID, "-", "")
	if len(id) > 12 {
		id = id[:12]
	}
	return loc + "_" + id
}

func manifestPoint(m index.Manifest) *qdrant.PointStruct {
	return &qdrant.PointStruct{
		Id:      qdrant.NewIDUUID(manifestPointID),
		Vectors: qdrant.NewVectorsMap(map[string]*qdrant.Vector{}),
		Payload: qdrant.NewValueMap(map[string]any{
			"type":           pointTypeManifest,
			"format_version": m.FormatVersion,
			"model_id":       m.ModelID,
			"dimension":      m.Dimension,
			"count":          m.Count,
			"build_id":       m.BuildID,
			"created_at":     m.CreatedAt.Format(time.RFC3339Nano),
			"metric":         m.Metric,
		}),
	}
}

func manifestFromPayload(payload map[string]*qdrant.Value) (index.Manifest, error) {
	if payload["type"].GetStringValue() != pointTypeManifest {
		return index.Manifest{}, fmt.Errorf("%w: manifest point has type %q",
			index.ErrCorruptIndex, payload["type"].GetStringValue())
	}
	createdAt, err := time.Parse(time.RFC3339Nano, payload["created_at"].GetStringValue())
	if err != nil {
		createdAt = time.Time{}
	}
	return index.Manifest{
		FormatVersion: int(payload["format_version"].GetIntegerValue()),
		ModelID:       payload["model_id"].GetStringValue(),
		Dimension:     int(payload["dimension"].GetIntegerValue()),
		Count:         int(payload["count"].GetIntegerValue()),
		BuildID:       payload["build_id"].GetStringValue(),
		CreatedAt:     createdAt,
		Metric:        payload["metric"].GetStringValue(),
	}, nil
}

func entryPoint(ordinal int, e index.Entry) *qdrant.PointStruct {
	return &qdrant.PointStruct{
		Id: qdrant.NewIDUUID(e.ID),
		Vectors: qdrant.NewVectorsMap(map[string]*qdrant.Vector{
			VectorName: qdrant.NewVector(e.Vector...),
		}),
		Payload: qdrant.NewValueMap(map[string]any{
			"type":        pointTypeChunk,
			"ordinal":     ordinal,
			"document_id": e.DocumentID,
			"chunk_index": e.Chunk.Index,
			"start":       e.Chunk.Start,
			"end":         e.Chunk.End,
			"oversized":   e.Chunk.Oversized,
			"content":     e.Chunk.Text,
		}),
	}
}

// entryFromPoint decodes a chunk point and returns it with its ordinal.
func entryFromPoint(p *qdrant.RetrievedPoint) (index.Entry, int, error) {
	payload := p.GetPayload()
	if payload["type"].GetStringValue() != pointTypeChunk {
		return index.Entry{}, 0, fmt.Errorf("%w: point %s is not a chunk", index.ErrCorruptIndex, p.GetId().GetUuid())
	}

	vec := p.GetVectors().GetVectors().GetVectors()[VectorName]
	if vec == nil {
		return index.Entry{}, 0, fmt.Errorf("%w: point %s has no %q vector",
			index.ErrCorruptIndex, p.GetId().GetUuid(), VectorName)
	}
	data := vec.GetDense().GetData()
	if len(data) == 0 {
		data = vec.GetData()
	}

	return index.Entry{
		ID:         p.GetId().GetUuid(),
		DocumentID: payload["document_id"].GetStringValue(),
		Chunk: chunker.Chunk{
			Text:      payload["content"].GetStringValue(),
			Index:     int(payload["chunk_index"].GetIntegerValue()),
			Start:     int(payload["start"].GetIntegerValue()),
			End:       int(payload["end"].GetIntegerValue()),
			Oversized: payload["oversized"].GetBoolValue(),
		},
		Vector: data,
	}, int(payload["ordinal"].GetIntegerValue()), nil
}
