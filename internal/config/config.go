// Package config loads settings for the notes CLI and MCP server.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/bull/notes-rag-server/internal/chunker"
	"github.com/bull/notes-rag-server/internal/embedding"
)

// ErrInvalidConfig is returned when settings fail validation.
var ErrInvalidConfig = errors.New("invalid configuration")

// Backends and embedders accepted by Validate.
const (
	BackendFile   = "file"
	BackendQdrant = "qdrant"

	EmbedderOpenAI = "openai"
	EmbedderHash   = "hash"
)

// Config holds every tunable of the notes tools.
type Config struct {
	IndexDir     string `yaml:"index_dir"`
	TextDir      string `yaml:"text_dir"`
	IndexBackend string `yaml:"index_backend"`
	QdrantHost   string `yaml:"qdrant_host"`
	QdrantPort   int    `yaml:"qdrant_port"`
	Collection   string `yaml:"collection"`

	Embedder       string `yaml:"embedder"`
	EmbeddingModel string `yaml:"embedding_model"`
	HashDimension  int    `yaml:"hash_dimension"`
	OpenAIAPIKey   string `yaml:"openai_api_key"`

	ChunkSize        int    `yaml:"chunk_size"`
	ChunkOverlap     int    `yaml:"chunk_overlap"`
	IngestMode       string `yaml:"ingest_mode"`
	EmbedConcurrency int    `yaml:"embed_concurrency"`
	EmbedBatchSize   int    `yaml:"embed_batch_size"`

	TopK        int    `yaml:"top_k"`
	AnswerModel string `yaml:"answer_model"`

	Workers    int    `yaml:"workers"`
	Port       string `yaml:"port"`
	ServerMode bool   `yaml:"server_mode"`

	OCRCommand string `yaml:"ocr_command"`
	ASRCommand string `yaml:"asr_command"`

	LogLevel string `yaml:"log_level"`
}

// Default returns 500/100 character chunks, three results per question and a
// local file index.
func Default() *Config {
	return &Config{
		IndexDir:         "data/index",
		TextDir:          "data/processed_text",
		IndexBackend:     BackendFile,
		QdrantHost:       "localhost",
		QdrantPort:       6334,
		Collection:       "notes",
		Embedder:         EmbedderOpenAI,
		EmbeddingModel:   embedding.DefaultModel,
		HashDimension:    embedding.DefaultHashDimension,
		ChunkSize:        chunker.DefaultTargetSize,
		ChunkOverlap:     chunker.DefaultOverlap,
		IngestMode:       "append",
		EmbedConcurrency: embedding.DefaultConcurrency,
		EmbedBatchSize:   embedding.DefaultBatchSize,
		TopK:             3,
		AnswerModel:      "gpt-4o-mini",
		Workers:          1,
		Port:             "8080",
		OCRCommand:       "tesseract {file} stdout",
		LogLevel:         "info",
	}
}

// Load builds the configuration: defaults, then the YAML file at path (or
// NOTES_CONFIG when path is empty), then environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("NOTES_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := cfg.decode(data); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrInvalidConfig, path, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) decode(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// applyEnv overrides fields from environment variables. Unset variables leave
// the field alone.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"INDEX_DIR":         &c.IndexDir,
		"TEXT_DIR":          &c.TextDir,
		"INDEX_BACKEND":     &c.IndexBackend,
		"QDRANT_HOST":       &c.QdrantHost,
		"QDRANT_COLLECTION": &c.Collection,
		"EMBEDDER":          &c.Embedder,
		"EMBEDDING_MODEL":   &c.EmbeddingModel,
		"OPENAI_API_KEY":    &c.OpenAIAPIKey,
		"INGEST_MODE":       &c.IngestMode,
		"ANSWER_MODEL":      &c.AnswerModel,
		"PORT":              &c.Port,
		"OCR_COMMAND":       &c.OCRCommand,
		"ASR_COMMAND":       &c.ASRCommand,
		"LOG_LEVEL":         &c.LogLevel,
	}
	for key, field := range strs {
		if v, ok := lookup(key); ok && v != "" {
			*field = v
		}
	}

	ints := map[string]*int{
		"QDRANT_PORT":       &c.QdrantPort,
		"HASH_DIMENSION":    &c.HashDimension,
		"CHUNK_SIZE":        &c.ChunkSize,
		"CHUNK_OVERLAP":     &c.ChunkOverlap,
		"EMBED_CONCURRENCY": &c.EmbedConcurrency,
		"EMBED_BATCH_SIZE":  &c.EmbedBatchSize,
		"TOP_K":             &c.TopK,
		"WORKERS":           &c.Workers,
	}
	for key, field := range ints {
		v, ok := lookup(key)
		if !ok || v == "" {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%w: %s=%q is not an integer", ErrInvalidConfig, key, v)
		}
		*field = n
	}

	if v, ok := lookup("SERVER_MODE"); ok && v != "" {
		c.ServerMode = v == "true"
	}
	return nil
}

// Validate checks the settings and reports the first problem found.
func (c *Config) Validate() error {
	switch c.IndexBackend {
	case BackendFile:
		if c.IndexDir == "" {
			return fmt.Errorf("%w: index_dir is required", ErrInvalidConfig)
		}
	case BackendQdrant:
		if c.QdrantHost == "" || c.QdrantPort <= 0 || c.Collection == "" {
			return fmt.Errorf("%w: qdrant host, port and collection are required", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown index backend %q", ErrInvalidConfig, c.IndexBackend)
	}

	switch c.Embedder {
	case EmbedderOpenAI:
	case EmbedderHash:
		if c.HashDimension <= 0 {
			return fmt.Errorf("%w: hash_dimension must be positive", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown embedder %q", ErrInvalidConfig, c.Embedder)
	}

	if c.TextDir == "" {
		return fmt.Errorf("%w: text_dir is required", ErrInvalidConfig)
	}
	if err := c.Chunker().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if c.IngestMode != "append" && c.IngestMode != "replace" {
		return fmt.Errorf("%w: unknown ingest mode %q", ErrInvalidConfig, c.IngestMode)
	}
	if c.EmbedConcurrency <= 0 || c.EmbedBatchSize <= 0 {
		return fmt.Errorf("%w: embed concurrency and batch size must be positive", ErrInvalidConfig)
	}
	if c.TopK <= 0 {
		return fmt.Errorf("%w: top_k must be positive", ErrInvalidConfig)
	}
	if c.Workers <= 0 {
		return fmt.Errorf("%w: workers must be positive", ErrInvalidConfig)
	}
	if _, err := strconv.Atoi(c.Port); err != nil {
		return fmt.Errorf("%w: port %q is not a number", ErrInvalidConfig, c.Port)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// Chunker returns a chunker configured with the chunk size and overlap.
func (c *Config) Chunker() *chunker.Chunker {
	return chunker.New(chunker.WithTargetSize(c.ChunkSize), chunker.WithOverlap(c.ChunkOverlap))
}

// Level parses LogLevel.
func (c *Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("%w: log level %q", ErrInvalidConfig, c.LogLevel)
	}
	return level, nil
}

// NewLogger returns a text logger on stderr at the configured level.
// Stdout stays free for command output and the stdio MCP transport.
func (c *Config) NewLogger() *slog.Logger {
	level, err := c.Level()
	if err != nil {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
