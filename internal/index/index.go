// Package index builds, queries and persists nearest-neighbor indexes over chunk vectors.
package index

import (
	"fmt"
	"math/rand"
	"slices"
	"time"

	"github.com/coder/hnsw"
	"github.com/google/uuid"

	"github.com/bull/notes-rag-server/internal/chunker"
)

const (
	// DefaultExactSearchLimit is the largest index size that is scanned exactly.
	// Larger indexes take candidates from the HNSW graph.
	DefaultExactSearchLimit = 2048

	// MetricCosine is the only supported distance metric.
	MetricCosine = "cosine"

	// graphSeed fixes HNSW level generation so equal entries build equal graphs.
	graphSeed = 42
)

// Entry is one indexed chunk and its vector.
type Entry struct {
	ID         string // UUID
	DocumentID string // Source document, empty when unknown
	Chunk      chunker.Chunk
	Vector     []float32
}

// Result is a query hit. Ordinal is the entry's position in the index.
type Result struct {
	Entry    Entry
	Ordinal  int
	Distance float32
}

// Index is an immutable set of entries plus a search graph over their vectors.
// It is safe for concurrent queries.
type Index struct {
	modelID    string
	dimension  int
	buildID    string
	createdAt  time.Time
	entries    []Entry
	graph      *hnsw.Graph[uint64]
	exactLimit int
}

// BuildOption configures index construction.
type BuildOption func(*Index)

// WithExactSearchLimit sets the size up to which queries scan every entry.
func WithExactSearchLimit(n int) BuildOption {
	return func(idx *Index) {
		idx.exactLimit = n
	}
}

// Build creates an index from parallel chunk and vector slices.
func Build(modelID string, chunks []chunker.Chunk, vectors [][]float32, opts ...BuildOption) (*Index, error) {
	if len(chunks) == 0 || len(chunks) != len(vectors) {
		return nil, fmt.Errorf("%w: %d chunks, %d vectors", ErrEmptyInput, len(chunks), len(vectors))
	}
	entries := make([]Entry, len(chunks))
	for i := range chunks {
		entries[i] = Entry{Chunk: chunks[i], Vector: vectors[i]}
	}
	return BuildEntries(modelID, entries, opts...)
}

// BuildEntries creates an index from entries in retrieval order.
// Entries without an ID get a fresh UUID. Vectors are copied.
func BuildEntries(modelID string, entries []Entry, opts ...BuildOption) (*Index, error) {
	if len(entries) == 0 {
		return nil, ErrEmptyInput
	}
	if modelID == "" {
		return nil, fmt.Errorf("%w: empty model id", ErrInvalidArgument)
	}

	dim := len(entries[0].Vector)
	if dim == 0 {
		return nil, fmt.Errorf("%w: entry 0 has an empty vector", ErrInvalidArgument)
	}

	owned := make([]Entry, len(entries))
	for i, e := range entries {
		if len(e.Vector) != dim {
			return nil, fmt.Errorf("%w: entry %d has %d dimensions, expected %d",
				ErrDimensionMismatch, i, len(e.Vector), dim)
		}
		if isZero(e.Vector) {
			return nil, fmt.Errorf("%w: entry %d has a zero vector", ErrInvalidArgument, i)
		}
		if e.ID == "" {
			e.ID = uuid.New().String()
		}
		e.Vector = slices.Clone(e.Vector)
		owned[i] = e
	}

	idx := &Index{
		modelID:    modelID,
		dimension:  dim,
		buildID:    uuid.New().String(),
		createdAt:  time.Now().UTC(),
		entries:    owned,
		exactLimit: DefaultExactSearchLimit,
	}
	for _, opt := range opts {
		opt(idx)
	}

	idx.graph = newGraph()
	nodes := make([]hnsw.Node[uint64], len(owned))
	for i, e := range owned {
		nodes[i] = hnsw.MakeNode(uint64(i), e.Vector)
	}
	idx.graph.Add(nodes...)

	return idx, nil
}

// Restore rebuilds a persisted index from its manifest and entries in retrieval order.
// The graph is rebuilt; the build ID and creation time come from m.
func Restore(m Manifest, entries []Entry, opts ...BuildOption) (*Index, error) {
	if len(entries) != m.Count {
		return nil, fmt.Errorf("%w: manifest lists %d entries, found %d", ErrCorruptIndex, m.Count, len(entries))
	}
	for i, e := range entries {
		if len(e.Vector) != m.Dimension {
			return nil, fmt.Errorf("%w: vector %d has %d dimensions, expected %d",
				ErrCorruptIndex, i, len(e.Vector), m.Dimension)
		}
	}
	idx, err := BuildEntries(m.ModelID, entries, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptIndex, err)
	}
	idx.buildID = m.BuildID
	idx.createdAt = m.CreatedAt
	return idx, nil
}

func newGraph() *hnsw.Graph[uint64] {
	g := hnsw.NewGraph[uint64]()
	g.Distance = hnsw.CosineDistance
	g.M = 16
	g.EfSearch = 20
	g.Ml = 0.25
	g.Rng = rand.New(rand.NewSource(graphSeed))
	return g
}

// ModelID returns the embedding model the index was built with.
func (idx *Index) ModelID() string { return idx.modelID }

// Dimension returns the vector size.
func (idx *Index) Dimension() int { return idx.dimension }

// BuildID identifies this build. It changes every time an index is rebuilt.
func (idx *Index) BuildID() string { return idx.buildID }

// CreatedAt returns the build time.
func (idx *Index) CreatedAt() time.Time { return idx.createdAt }

// Manifest describes idx for persistence.
func (idx *Index) Manifest() Manifest {
	return Manifest{
		FormatVersion: FormatVersion,
		ModelID:       idx.modelID,
		Dimension:     idx.dimension,
		Count:         len(idx.entries),
		BuildID:       idx.buildID,
		CreatedAt:     idx.createdAt,
		Metric:        MetricCosine,
	}
}

// Len returns the number of entries.
func (idx *Index) Len() int { return len(idx.entries) }

// Entries returns a copy of the entries in retrieval order.
func (idx *Index) Entries() []Entry {
	return slices.Clone(idx.entries)
}

// Query returns the k entries nearest to vector by cosine distance, ascending,
// with ties broken by ordinal. k larger than the index is clamped.
func (idx *Index) Query(vector []float32, k int) ([]Result, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", ErrInvalidArgument, k)
	}
	if len(vector) != idx.dimension {
		return nil, fmt.Errorf("%w: query has %d dimensions, expected %d",
			ErrDimensionMismatch, len(vector), idx.dimension)
	}
	if isZero(vector) {
		return nil, fmt.Errorf("%w: zero query vector", ErrInvalidArgument)
	}
	k = min(k, len(idx.entries))

	var results []Result
	if len(idx.entries) > idx.exactLimit {
		results = idx.approximate(vector, k)
	}
	if len(results) < k {
		results = idx.exact(vector)
	}

	sortResults(results)
	return results[:k], nil
}

func (idx *Index) exact(vector []float32) []Result {
	results := make([]Result, len(idx.entries))
	for i, e := range idx.entries {
		results[i] = Result{Entry: e, Ordinal: i, Distance: hnsw.CosineDistance(vector, e.Vector)}
	}
	return results
}

// approximate re-ranks HNSW candidates by exact distance.
func (idx *Index) approximate(vector []float32, k int) []Result {
	nodes := idx.graph.Search(vector, max(4*k, idx.graph.EfSearch))
	results := make([]Result, 0, len(nodes))
	for _, n := range nodes {
		ord := int(n.Key)
		if ord < 0 || ord >= len(idx.entries) {
			continue
		}
		e := idx.entries[ord]
		results = append(results, Result{Entry: e, Ordinal: ord, Distance: hnsw.CosineDistance(vector, e.Vector)})
	}
	return results
}

func sortResults(results []Result) {
	slices.SortStableFunc(results, func(a, b Result) int {
		switch {
		case a.Distance < b.Distance:
			return -1
		case a.Distance > b.Distance:
			return 1
		default:
			return a.Ordinal - b.Ordinal
		}
	})
}

func isZero(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}
