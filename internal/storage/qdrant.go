// Package storage keeps indexes in Qdrant, one collection per build behind an alias.
package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/qdrant/go-client/qdrant"

	"github.com/bull/notes-rag-server/internal/index"
)

const (
	upsertBatchSize = 100
	scrollBatchSize = 256
)

// QdrantStore implements index.Store on a Qdrant server.
//
// A location is a Qdrant alias. Persist writes a fresh collection and then
// points the alias at it, so readers see either the old build or the new one.
type QdrantStore struct {
	client  *qdrant.Client
	host    string
	port    int
	lockDir string
	locker  *index.Locker
	logger  *slog.Logger
}

// Option configures a QdrantStore.
type Option func(*QdrantStore)

// WithLockDir sets the directory holding build lock files.
func WithLockDir(dir string) Option {
	return func(s *QdrantStore) {
		s.lockDir = dir
	}
}

// WithLogger sets the store logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *QdrantStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewQdrantStore creates a Qdrant client with health validation.
// It performs health check with retry on startup and fails fast if Qdrant is unreachable.
func NewQdrantStore(host string, port int, opts ...Option) (*QdrantStore, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host: host,
		Port: port,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	s := &QdrantStore{
		client:  client,
		host:    host,
		port:    port,
		lockDir: filepath.Join(os.TempDir(), "notes-rag-locks"),
		locker:  index.NewLocker(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.healthCheckWithRetry(context.Background()); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %v", ErrQdrantUnreachable, err)
	}

	return s, nil
}

func newRetryBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 30 * time.Second
	return b
}

// healthCheckWithRetry performs health check with exponential backoff.
func (s *QdrantStore) healthCheckWithRetry(ctx context.Context) error {
	return backoff.Retry(func() error {
		return s.Health(ctx)
	}, backoff.WithContext(newRetryBackOff(), ctx))
}

// Health performs a single health check against Qdrant.
func (s *QdrantStore) Health(ctx context.Context) error {
	result, err := s.client.HealthCheck(ctx)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if result == nil || result.Title == "" {
		return fmt.Errorf("health check returned invalid response")
	}
	return nil
}

// Close closes the Qdrant client connection.
func (s *QdrantStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

func (s *QdrantStore) lockPath(loc string) string {
	return filepath.Join(s.lockDir, fmt.Sprintf("qdrant-%s-%d-%s.lock", s.host, s.port, loc))
}

// Lock acquires the exclusive build lock for loc. It serializes builders on this host.
func (s *QdrantStore) Lock(ctx context.Context, loc string) (index.Locked, error) {
	unlock, err := s.locker.Lock(ctx, s.lockPath(loc))
	if err != nil {
		return nil, err
	}
	return &qdrantLocked{store: s, loc: loc, unlock: unlock}, nil
}

// Persist writes idx to a new collection and points alias loc at it.
func (s *QdrantStore) Persist(ctx context.Context, idx *index.Index, loc string) error {
	locked, err := s.Lock(ctx, loc)
	if err != nil {
		return err
	}
	defer locked.Unlock()
	return locked.Persist(ctx, idx)
}

// Load reads every point of the collection behind alias loc.
// Alias switches are atomic on the server, so Load takes no lock.
func (s *QdrantStore) Load(ctx context.Context, loc, expectedModelID string) (*index.Index, error) {
	return s.load(ctx, loc, expectedModelID)
}

// Version returns the build ID of the collection behind alias loc.
func (s *QdrantStore) Version(ctx context.Context, loc string) (string, error) {
	collection, err := s.aliasTarget(ctx, loc)
	if err != nil {
		return "", err
	}
	m, err := s.readManifest(ctx, collection)
	if err != nil {
		return "", err
	}
	return m.BuildID, nil
}

type qdrantLocked struct {
	store  *QdrantStore
	loc    string
	unlock func() error
}

func (l *qdrantLocked) Load(ctx context.Context, expectedModelID string) (*index.Index, error) {
	return l.store.load(ctx, l.loc, expectedModelID)
}

func (l *qdrantLocked) Persist(ctx context.Context, idx *index.Index) error {
	return l.store.persist(ctx, l.loc, idx)
}

func (l *qdrantLocked) Unlock() error {
	return l.unlock()
}

// aliasTarget returns the collection alias loc points at.
func (s *QdrantStore) aliasTarget(ctx context.Context, loc string) (string, error) {
	aliases, err := s.client.ListAliases(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to list aliases: %w", err)
	}
	for _, a := range aliases {
		if a.GetAliasName() == loc {
			return a.GetCollectionName(), nil
		}
	}
	return "", fmt.Errorf("%w: qdrant alias %s", index.ErrIndexNotFound, loc)
}

func (s *QdrantStore) persist(ctx context.Context, loc string, idx *index.Index) error {
	if idx == nil || idx.Len() == 0 {
		return index.ErrEmptyInput
	}

	previous, err := s.aliasTarget(ctx, loc)
	if err != nil && !errors.Is(err, index.ErrIndexNotFound) {
		return err
	}

	collection := collectionName(loc, idx.BuildID())
	if err := s.createCollection(ctx, collection, idx.Dimension()); err != nil {
		return err
	}

	if err := s.writePoints(ctx, collection, idx); err != nil {
		s.dropCollection(collection)
		return err
	}

	if err := s.swapAlias(ctx, loc, previous, collection); err != nil {
		s.dropCollection(collection)
		return err
	}

	if previous != "" && previous != collection {
		if err := s.client.DeleteCollection(ctx, previous); err != nil {
			s.logger.Warn("Failed to delete previous collection", "collection", previous, "error", err)
		}
	}

	s.logger.Info("Persisted index",
		"location", loc,
		"collection", collection,
		"entries", idx.Len(),
		"model", idx.ModelID(),
		"build_id", idx.BuildID(),
	)
	return nil
}

// createCollection creates a collection with the named "content" vector and payload indexes.
func (s *QdrantStore) createCollection(ctx context.Context, name string, dimension int) error {
	err := s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfigMap(map[string]*qdrant.VectorParams{
			VectorName: {
				Size:     uint64(dimension),
				Distance: qdrant.Distance_Cosine,
			},
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to create collection %s: %w", name, err)
	}

	for _, field := range []string{"type", "document_id"} {
		_, err := s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: name,
			FieldName:      field,
			FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
		})
		if err != nil {
			s.dropCollection(name)
			return fmt.Errorf("failed to create index for field %s: %w", field, err)
		}
	}
	return nil
}

// dropCollection removes a partially written collection.
func (s *QdrantStore) dropCollection(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.client.DeleteCollection(ctx, name); err != nil {
		s.logger.Warn("Failed to drop collection", "collection", name, "error", err)
	}
}

func (s *QdrantStore) writePoints(ctx context.Context, collection string, idx *index.Index) error {
	if err := s.upsertWithRetry(ctx, collection, []*qdrant.PointStruct{manifestPoint(idx.Manifest())}); err != nil {
		return fmt.Errorf("failed to upsert manifest: %w", err)
	}

	entries := idx.Entries()
	for i := 0; i < len(entries); i += upsertBatchSize {
		end := min(i+upsertBatchSize, len(entries))
		points := make([]*qdrant.PointStruct, 0, end-i)
		for j := i; j < end; j++ {
			points = append(points, entryPoint(j, entries[j]))
		}
		if err := s.upsertWithRetry(ctx, collection, points); err != nil {
			return fmt.Errorf("failed to upsert batch %d-%d: %w", i, end, err)
		}
	}
	return nil
}

// upsertWithRetry performs upsert operation with exponential backoff retry.
func (s *QdrantStore) upsertWithRetry(ctx context.Context, collection string, points []*qdrant.PointStruct) error {
	operation := func() error {
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: collection,
			Wait:           qdrant.PtrOf(true),
			Points:         points,
		})
		return err
	}
	return backoff.Retry(operation, backoff.WithContext(newRetryBackOff(), ctx))
}

// swapAlias points loc at collection in one request, so readers see either
// the previous collection or the new one.
func (s *QdrantStore) swapAlias(ctx context.Context, loc, previous, collection string) error {
	if err := s.client.UpdateAliases(ctx, aliasSwap(loc, previous, collection)); err != nil {
		return fmt.Errorf("%w: %s -> %s: %v", ErrAliasSwap, loc, collection, err)
	}
	return nil
}

// aliasSwap returns the alias operations that move loc to collection.
func aliasSwap(loc, previous, collection string) []*qdrant.AliasOperations {
	if previous == "" {
		return []*qdrant.AliasOperations{qdrant.NewAliasCreate(loc, collection)}
	}
	return []*qdrant.AliasOperations{
		qdrant.NewAliasDelete(loc),
		qdrant.NewAliasCreate(loc, collection),
	}
}

func (s *QdrantStore) readManifest(ctx context.Context, collection string) (index.Manifest, error) {
	points, err := s.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: collection,
		Ids:            []*qdrant.PointId{qdrant.NewIDUUID(manifestPointID)},
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return index.Manifest{}, fmt.Errorf("failed to get manifest: %w", err)
	}
	if len(points) == 0 {
		return index.Manifest{}, fmt.Errorf("%w: collection %s has no manifest", index.ErrCorruptIndex, collection)
	}
	return manifestFromPayload(points[0].GetPayload())
}

func (s *QdrantStore) load(ctx context.Context, loc, expectedModelID string) (*index.Index, error) {
	collection, err := s.aliasTarget(ctx, loc)
	if err != nil {
		return nil, err
	}

	m, err := s.readManifest(ctx, collection)
	if err != nil {
		return nil, err
	}
	if m.ModelID != expectedModelID {
		return nil, &index.ModelMismatchError{Expected: expectedModelID, Found: m.ModelID}
	}

	entries, err := s.scrollEntries(ctx, collection, m.Count)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("Loaded index", "location", loc, "collection", collection, "entries", len(entries))
	return index.Restore(m, entries)
}

// scrollEntries reads every chunk point in ordinal order.
func (s *QdrantStore) scrollEntries(ctx context.Context, collection string, expected int) ([]index.Entry, error) {
	type ordered struct {
		ordinal int
		entry   index.Entry
	}
	items := make([]ordered, 0, expected)

	filter := &qdrant.Filter{
		Must: []*qdrant.Condition{qdrant.NewMatch("type", pointTypeChunk)},
	}

	var offset *qdrant.PointId
	for {
		// One extra point per page marks where the next page starts.
		points, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: collection,
			Filter:         filter,
			Limit:          qdrant.PtrOf(uint32(scrollBatchSize + 1)),
			Offset:         offset,
			WithPayload:    qdrant.NewWithPayload(true),
			WithVectors:    qdrant.NewWithVectors(true),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to scroll points: %w", err)
		}

		page := points
		if len(points) > scrollBatchSize {
			page = points[:scrollBatchSize]
		}
		for _, p := range page {
			e, ord, err := entryFromPoint(p)
			if err != nil {
				return nil, err
			}
			items = append(items, ordered{ordinal: ord, entry: e})
		}

		if len(points) <= scrollBatchSize {
			break
		}
		offset = points[scrollBatchSize].GetId()
	}

	slices.SortFunc(items, func(a, b ordered) int { return a.ordinal - b.ordinal })

	entries := make([]index.Entry, len(items))
	for i, it := range items {
		if it.ordinal != i {
			return nil, fmt.Errorf("%w: missing chunk at ordinal %d", index.ErrCorruptIndex, i)
		}
		entries[i] = it.entry
	}
	return entries, nil
}

// Collections lists the build collections named after alias loc.
func (s *QdrantStore) Collections(ctx context.Context, loc string) ([]string, error) {
	names, err := s.client.ListCollections(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list collections: %w", err)
	}
	var out []string
	for _, name := range names {
		if strings.HasPrefix(name, loc+"_") {
			out = append(out, name)
		}
	}
	slices.Sort(out)
	return out, nil
}

var _ index.Store = (*QdrantStore)(nil)
