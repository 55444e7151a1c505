package index

import (
	"bufio"
	"context"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bull/notes-rag-server/internal/chunker"
)

// FormatVersion is the on-disk layout version written to manifest.json.
const FormatVersion = 1

const (
	manifestFile = "manifest.json"
	chunksFile   = "chunks.json"
	vectorsFile  = "vectors.gob"
	graphFile    = "graph.hnsw"
)

// Manifest describes a persisted index. It is read before anything else.
type Manifest struct {
	FormatVersion int       `json:"format_version"`
	ModelID       string    `json:"model_id"`
	Dimension     int       `json:"dimension"`
	Count         int       `json:"count"`
	BuildID       string    `json:"build_id"`
	CreatedAt     time.Time `json:"created_at"`
	Metric        string    `json:"metric"`
}

// persistedEntry is the chunks.json record. Vectors live in vectors.gob.
type persistedEntry struct {
	ID         string `json:"id"`
	DocumentID string `json:"document_id,omitempty"`
	Index      int    `json:"index"`
	Start      int    `json:"start"`
	End        int    `json:"end"`
	Oversized  bool   `json:"oversized,omitempty"`
	Text       string `json:"text"`
}

// FileStore keeps each index in its own directory.
//
// Persist writes into a staging directory beside the target and renames it
// into place, so a crash never leaves the target half-written. The lock file
// for a location "notes/index" is "notes/.index.lock".
type FileStore struct {
	locker *Locker
	logger *slog.Logger
}

// NewFileStore creates a file-backed index store.
func NewFileStore(logger *slog.Logger) *FileStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileStore{
		locker: NewLocker(),
		logger: logger,
	}
}

func (s *FileStore) lockPath(loc string) string {
	dir, base := filepath.Split(filepath.Clean(loc))
	return filepath.Join(dir, "."+base+".lock")
}

// Lock acquires the exclusive build lock for loc.
func (s *FileStore) Lock(ctx context.Context, loc string) (Locked, error) {
	loc = filepath.Clean(loc)
	unlock, err := s.locker.Lock(ctx, s.lockPath(loc))
	if err != nil {
		return nil, err
	}
	return &fileLocked{store: s, loc: loc, unlock: unlock}, nil
}

// Persist replaces the index at loc under the exclusive lock.
func (s *FileStore) Persist(ctx context.Context, idx *Index, loc string) error {
	locked, err := s.Lock(ctx, loc)
	if err != nil {
		return err
	}
	defer locked.Unlock()
	return locked.Persist(ctx, idx)
}

// Load reads the index at loc under the shared lock.
func (s *FileStore) Load(ctx context.Context, loc, expectedModelID string) (*Index, error) {
	loc = filepath.Clean(loc)
	unlock, err := s.locker.RLock(ctx, s.lockPath(loc))
	if err != nil {
		return nil, err
	}
	defer unlock()
	return s.load(loc, expectedModelID)
}

// Version returns the build ID recorded in the manifest at loc.
func (s *FileStore) Version(ctx context.Context, loc string) (string, error) {
	loc = filepath.Clean(loc)
	unlock, err := s.locker.RLock(ctx, s.lockPath(loc))
	if err != nil {
		return "", err
	}
	defer unlock()

	m, err := readManifest(loc)
	if err != nil {
		return "", err
	}
	return m.BuildID, nil
}

type fileLocked struct {
	store  *FileStore
	loc    string
	unlock func() error
}

func (l *fileLocked) Load(ctx context.Context, expectedModelID string) (*Index, error) {
	return l.store.load(l.loc, expectedModelID)
}

func (l *fileLocked) Persist(ctx context.Context, idx *Index) error {
	return l.store.persist(l.loc, idx)
}

func (l *fileLocked) Unlock() error {
	return l.unlock()
}

// persist writes idx to a staging directory and swaps it in. Caller holds the lock.
func (s *FileStore) persist(loc string, idx *Index) error {
	if idx == nil || idx.Len() == 0 {
		return ErrEmptyInput
	}

	parent, base := filepath.Split(loc)
	if parent == "" {
		parent = "."
	}
	if err := os.MkdirAll(parent, 0755); err != nil {
		return fmt.Errorf("create index parent directory: %w", err)
	}

	s.recoverInterrupted(parent, base, loc)

	suffix := uuid.New().String()
	staging := filepath.Join(parent, "."+base+".staging-"+suffix)
	if err := os.Mkdir(staging, 0755); err != nil {
		return fmt.Errorf("create staging directory: %w", err)
	}

	if err := writeIndexFiles(staging, idx); err != nil {
		os.RemoveAll(staging)
		return err
	}

	var old string
	if _, err := os.Stat(loc); err == nil {
		old = filepath.Join(parent, "."+base+".old-"+suffix)
		if err := os.Rename(loc, old); err != nil {
			os.RemoveAll(staging)
			return fmt.Errorf("move previous index aside: %w", err)
		}
	}

	if err := os.Rename(staging, loc); err != nil {
		if old != "" {
			if restoreErr := os.Rename(old, loc); restoreErr != nil {
				s.logger.Error("Failed to restore previous index", "location", loc, "error", restoreErr)
			}
		}
		os.RemoveAll(staging)
		return fmt.Errorf("move staged index into place: %w", err)
	}

	if old != "" {
		if err := os.RemoveAll(old); err != nil {
			s.logger.Warn("Failed to remove previous index", "path", old, "error", err)
		}
	}

	s.logger.Info("Persisted index",
		"location", loc,
		"entries", idx.Len(),
		"model", idx.ModelID(),
		"build_id", idx.BuildID(),
	)
	return nil
}

// recoverInterrupted removes staging directories left by a crashed persist and
// restores a moved-aside index when the target is missing.
func (s *FileStore) recoverInterrupted(parent, base, loc string) {
	dirEntries, err := os.ReadDir(parent)
	if err != nil {
		return
	}

	_, statErr := os.Stat(loc)
	missing := errors.Is(statErr, os.ErrNotExist)

	stagingPrefix := "." + base + ".staging-"
	oldPrefix := "." + base + ".old-"
	for _, de := range dirEntries {
		name := de.Name()
		path := filepath.Join(parent, name)
		switch {
		case strings.HasPrefix(name, stagingPrefix):
			s.logger.Warn("Removing stale staging directory", "path", path)
			os.RemoveAll(path)
		case strings.HasPrefix(name, oldPrefix):
			if missing {
				s.logger.Warn("Restoring index from interrupted replace", "path", path, "location", loc)
				if err := os.Rename(path, loc); err == nil {
					missing = false
					continue
				}
			}
			os.RemoveAll(path)
		}
	}
}

func writeIndexFiles(dir string, idx *Index) error {
	manifest := idx.Manifest()

	entries := make([]persistedEntry, len(idx.entries))
	vectors := make([][]float32, len(idx.entries))
	for i, e := range idx.entries {
		entries[i] = persistedEntry{
			ID:         e.ID,
			DocumentID: e.DocumentID,
			Index:      e.Chunk.Index,
			Start:      e.Chunk.Start,
			End:        e.Chunk.End,
			Oversized:  e.Chunk.Oversized,
			Text:       e.Chunk.Text,
		}
		vectors[i] = e.Vector
	}

	if err := writeFile(filepath.Join(dir, chunksFile), func(w io.Writer) error {
		return json.NewEncoder(w).Encode(entries)
	}); err != nil {
		return fmt.Errorf("write chunks: %w", err)
	}
	if err := writeFile(filepath.Join(dir, vectorsFile), func(w io.Writer) error {
		return gob.NewEncoder(w).Encode(vectors)
	}); err != nil {
		return fmt.Errorf("write vectors: %w", err)
	}
	if err := writeFile(filepath.Join(dir, graphFile), idx.graph.Export); err != nil {
		return fmt.Errorf("export graph: %w", err)
	}
	// Manifest last: a directory with a manifest has every other file.
	if err := writeFile(filepath.Join(dir, manifestFile), func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(manifest)
	}); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

func writeFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(f)
	if err := write(bw); err != nil {
		f.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func readManifest(loc string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(loc, manifestFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrIndexNotFound, loc)
		}
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: decode manifest: %v", ErrCorruptIndex, err)
	}
	if m.FormatVersion != FormatVersion {
		return nil, fmt.Errorf("%w: unsupported format version %d", ErrCorruptIndex, m.FormatVersion)
	}
	return &m, nil
}

// load reads an index directory. The model is checked before the payload files are opened.
func (s *FileStore) load(loc, expectedModelID string) (*Index, error) {
	m, err := readManifest(loc)
	if err != nil {
		return nil, err
	}
	if m.ModelID != expectedModelID {
		return nil, &ModelMismatchError{Expected: expectedModelID, Found: m.ModelID}
	}

	var entries []persistedEntry
	if err := readFile(filepath.Join(loc, chunksFile), func(r *bufio.Reader) error {
		return json.NewDecoder(r).Decode(&entries)
	}); err != nil {
		return nil, fmt.Errorf("%w: read chunks: %v", ErrCorruptIndex, err)
	}

	var vectors [][]float32
	if err := readFile(filepath.Join(loc, vectorsFile), func(r *bufio.Reader) error {
		return gob.NewDecoder(r).Decode(&vectors)
	}); err != nil {
		return nil, fmt.Errorf("%w: read vectors: %v", ErrCorruptIndex, err)
	}

	if len(entries) != m.Count || len(vectors) != m.Count {
		return nil, fmt.Errorf("%w: manifest lists %d entries, found %d chunks and %d vectors",
			ErrCorruptIndex, m.Count, len(entries), len(vectors))
	}

	graph := newGraph()
	if err := readFile(filepath.Join(loc, graphFile), func(r *bufio.Reader) error {
		// coder/hnsw Import requires an io.ByteReader.
		return graph.Import(r)
	}); err != nil {
		return nil, fmt.Errorf("%w: import graph: %v", ErrCorruptIndex, err)
	}
	if graph.Len() != m.Count {
		return nil, fmt.Errorf("%w: graph has %d nodes, expected %d", ErrCorruptIndex, graph.Len(), m.Count)
	}

	out := make([]Entry, len(entries))
	for i, pe := range entries {
		if len(vectors[i]) != m.Dimension {
			return nil, fmt.Errorf("%w: vector %d has %d dimensions, expected %d",
				ErrCorruptIndex, i, len(vectors[i]), m.Dimension)
		}
		out[i] = Entry{
			ID:         pe.ID,
			DocumentID: pe.DocumentID,
			Chunk: chunker.Chunk{
				Text:      pe.Text,
				Start:     pe.Start,
				End:       pe.End,
				Index:     pe.Index,
				Oversized: pe.Oversized,
			},
			Vector: vectors[i],
		}
	}

	s.logger.Debug("Loaded index", "location", loc, "entries", len(out), "build_id", m.BuildID)

	return &Index{
		modelID:    m.ModelID,
		dimension:  m.Dimension,
		buildID:    m.BuildID,
		createdAt:  m.CreatedAt,
		entries:    out,
		graph:      graph,
		exactLimit: DefaultExactSearchLimit,
	}, nil
}

func readFile(path string, read func(*bufio.Reader) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return read(bufio.NewReader(f))
}

var _ Store = (*FileStore)(nil)
