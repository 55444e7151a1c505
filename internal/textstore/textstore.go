// Package textstore keeps extracted note text on disk so indexes can be rebuilt.
package textstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/google/renameio"
	"github.com/google/uuid"

	"github.com/bull/notes-rag-server/internal/source"
)

const fileExt = ".txt"

// ErrInvalidName is returned for files that do not follow the store's naming scheme.
var ErrInvalidName = errors.New("not a text store file name")

var unsafeChars = regexp.MustCompile(`[^\p{L}\p{N}._\-]+`)

// Store writes one file per document, named <origin>_<name>_<document id>.txt.
type Store struct {
	dir string
}

// Record locates a stored document.
type Record struct {
	Path       string
	Origin     source.Origin
	Name       string
	DocumentID string
}

// New creates a store rooted at dir, creating the directory if needed.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create text directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the store directory.
func (s *Store) Dir() string { return s.dir }

// Save writes doc's text atomically and returns the file path.
func (s *Store) Save(doc source.Document) (string, error) {
	if doc.ID == "" {
		return "", fmt.Errorf("save text: document has no id")
	}
	path := filepath.Join(s.dir, fileName(doc))
	if err := renameio.WriteFile(path, []byte(doc.Text), 0644); err != nil {
		return "", fmt.Errorf("save text: %w", err)
	}
	return path, nil
}

// Load reads a document back from a path returned by Save or List.
func (s *Store) Load(path string) (source.Document, error) {
	rec, err := parseName(path)
	if err != nil {
		return source.Document{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return source.Document{}, fmt.Errorf("load text: %w", err)
	}
	return source.Document{
		ID:     rec.DocumentID,
		Origin: rec.Origin,
		Name:   rec.Name,
		Text:   string(data),
	}, nil
}

// List returns every stored document in file name order. Unrecognized files are skipped.
func (s *Store) List() ([]Record, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list texts: %w", err)
	}

	var records []Record
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), fileExt) {
			continue
		}
		rec, err := parseName(filepath.Join(s.dir, e.Name()))
		if err != nil {
			continue
		}
		records = append(records, rec)
	}
	slices.SortFunc(records, func(a, b Record) int { return strings.Compare(a.Path, b.Path) })
	return records, nil
}

func fileName(doc source.Document) string {
	name := strings.TrimSuffix(filepath.Base(doc.Name), filepath.Ext(doc.Name))
	name = strings.Trim(unsafeChars.ReplaceAllString(name, "-"), "-.")
	if name == "" {
		name = uuid.New().String()
	}
	return fmt.Sprintf("%s_%s_%s%s", doc.Origin, name, doc.ID, fileExt)
}

// parseName splits <origin>_<name>_<id>.txt. Origins have no underscore and
// IDs are UUIDs, so names may contain underscores.
func parseName(path string) (Record, error) {
	base := strings.TrimSuffix(filepath.Base(path), fileExt)

	originPart, rest, ok := strings.Cut(base, "_")
	if !ok {
		return Record{}, fmt.Errorf("%w: %s", ErrInvalidName, path)
	}
	i := strings.LastIndex(rest, "_")
	if i < 0 {
		return Record{}, fmt.Errorf("%w: %s", ErrInvalidName, path)
	}
	name, id := rest[:i], rest[i+1:]

	origin, err := source.ParseOrigin(originPart)
	if err != nil {
		return Record{}, fmt.Errorf("%w: %s", ErrInvalidName, path)
	}
	if _, err := uuid.Parse(id); err != nil {
		return Record{}, fmt.Errorf("%w: %s", ErrInvalidName, path)
	}

	return Record{Path: path, Origin: origin, Name: name, DocumentID: id}, nil
}
