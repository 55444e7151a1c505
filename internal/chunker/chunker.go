// Package chunker splits plain text into bounded, overlapping, order-preserving chunks.
package chunker

import (
	"errors"
	"fmt"
)

const (
	// DefaultTargetSize is the upper bound on characters per chunk.
	DefaultTargetSize = 500

	// DefaultOverlap is the number of characters carried from one chunk into the next.
	DefaultOverlap = 100
)

// ErrConfig is returned for invalid chunking parameters.
var ErrConfig = errors.New("invalid chunking parameters")

// DefaultSeparators are tried coarsest first: paragraphs, lines, sentences,
// clauses, words.
var DefaultSeparators = []string{"\n\n", "\n", ". ", "? ", "! ", "; ", ", ", " "}

// Chunk is a contiguous substring of a document.
// Start and End are offsets in characters (Unicode code points), not bytes.
type Chunk struct {
	Text      string
	Start     int
	End       int
	Index     int  // Sequence position (0, 1, 2...)
	Oversized bool // Longer than the target size because of an unsplittable unit
}

// Len returns the chunk length in characters.
func (c Chunk) Len() int {
	return c.End - c.Start
}

// Chunker splits text using recursive separator splitting followed by a
// greedy merge with character overlap.
type Chunker struct {
	targetSize    int
	overlap       int
	separators    []string
	charFallback  bool
	validationErr error
}

// Option configures a Chunker.
type Option func(*Chunker)

// WithTargetSize sets the maximum chunk length in characters.
func WithTargetSize(size int) Option {
	return func(c *Chunker) {
		c.targetSize = size
	}
}

// WithOverlap sets the number of characters shared between consecutive chunks.
func WithOverlap(overlap int) Option {
	return func(c *Chunker) {
		c.overlap = overlap
	}
}

// WithSeparators replaces the separator list. Order is coarsest first.
func WithSeparators(seps ...string) Option {
	return func(c *Chunker) {
		c.separators = append([]string(nil), seps...)
	}
}

// WithCharacterFallback splits units that contain no separator into raw
// character runs instead of emitting them oversized.
func WithCharacterFallback() Option {
	return func(c *Chunker) {
		c.charFallback = true
	}
}

// New creates a Chunker. Invalid parameters are reported by Chunk and Validate.
func New(opts ...Option) *Chunker {
	c := &Chunker{
		targetSize: DefaultTargetSize,
		overlap:    DefaultOverlap,
		separators: DefaultSeparators,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.validationErr = validate(c.targetSize, c.overlap, c.separators)
	return c
}

// Split chunks text with the default separators.
func Split(text string, targetSize, overlap int) ([]Chunk, error) {
	return New(WithTargetSize(targetSize), WithOverlap(overlap)).Chunk(text)
}

// TargetSize returns the configured target size.
func (c *Chunker) TargetSize() int { return c.targetSize }

// Overlap returns the configured overlap.
func (c *Chunker) Overlap() int { return c.overlap }

// Validate reports whether the chunker parameters are usable.
func (c *Chunker) Validate() error {
	return c.validationErr
}

func validate(targetSize, overlap int, seps []string) error {
	if targetSize <= 0 {
		return fmt.Errorf("%w: target size must be positive, got %d", ErrConfig, targetSize)
	}
	if overlap < 0 {
		return fmt.Errorf("%w: overlap must not be negative, got %d", ErrConfig, overlap)
	}
	if overlap >= targetSize {
		return fmt.Errorf("%w: overlap %d must be smaller than target size %d", ErrConfig, overlap, targetSize)
	}
	for _, sep := range seps {
		if sep == "" {
			return fmt.Errorf("%w: empty separator", ErrConfig)
		}
	}
	return nil
}

// Chunk splits text into ordered chunks.
// Every character of text appears in at least one chunk.
func (c *Chunker) Chunk(text string) ([]Chunk, error) {
	if c.validationErr != nil {
		return nil, c.validationErr
	}

	runes := []rune(text)
	if len(runes) == 0 {
		return []Chunk{}, nil
	}

	if len(runes) <= c.targetSize {
		return []Chunk{{Text: text, Start: 0, End: len(runes), Index: 0}}, nil
	}

	// Pieces are bounded by the step so that carry + piece fits the target.
	step := c.targetSize - c.overlap
	pieces := c.splitRecursive(runes, 0, len(runes), step, c.separators, nil)

	return c.merge(runes, pieces), nil
}

// span is a half-open rune range [start, end).
type span struct {
	start, end int
}

// splitRecursive splits runes[start:end] on the first separator present and
// recurses into pieces that are still longer than limit.
func (c *Chunker) splitRecursive(runes []rune, start, end, limit int, seps []string, out []span) []span {
	if end-start <= limit {
		return append(out, span{start, end})
	}

	for i, sep := range seps {
		parts := splitKeep(runes, start, end, []rune(sep))
		if len(parts) < 2 {
			continue
		}
		finer := seps[i+1:]
		for _, p := range parts {
			out = c.splitRecursive(runes, p.start, p.end, limit, finer, out)
		}
		return out
	}

	if c.charFallback {
		for s := start; s < end; s += limit {
			out = append(out, span{s, min(s+limit, end)})
		}
		return out
	}

	// Atomic unit longer than the bound: keep it whole.
	return append(out, span{start, end})
}

// splitKeep splits runes[start:end] after every occurrence of sep, keeping the
// separator attached to the left piece.
func splitKeep(runes []rune, start, end int, sep []rune) []span {
	var parts []span
	pieceStart := start
	for i := start; i+len(sep) <= end; {
		if matchAt(runes, i, sep) {
			cut := i + len(sep)
			parts = append(parts, span{pieceStart, cut})
			pieceStart = cut
			i = cut
			continue
		}
		i++
	}
	if pieceStart < end {
		parts = append(parts, span{pieceStart, end})
	}
	return parts
}

func matchAt(runes []rune, at int, sep []rune) bool {
	for j, r := range sep {
		if runes[at+j] != r {
			return false
		}
	}
	return true
}

// merge packs contiguous pieces into chunks no longer than the target size,
// starting each new chunk with the trailing overlap of the previous one.
// The carry is shortened when the next piece would not fit beside it; a piece
// longer than the target size gets no carry and forms an oversized chunk.
func (c *Chunker) merge(runes []rune, pieces []span) []Chunk {
	var chunks []Chunk

	curStart, curEnd := 0, 0
	// fresh is the offset where content not yet emitted begins.
	fresh := 0

	emit := func() {
		chunks = append(chunks, Chunk{
			Text:      string(runes[curStart:curEnd]),
			Start:     curStart,
			End:       curEnd,
			Index:     len(chunks),
			Oversized: curEnd-curStart > c.targetSize,
		})
		fresh = curEnd
		if curEnd-curStart > c.overlap {
			curStart = curEnd - c.overlap
		} else {
			curStart = curEnd
		}
	}

	for _, p := range pieces {
		hasFresh := curEnd > fresh
		if hasFresh && (p.end-curStart) > c.targetSize {
			emit()
		}
		if p.end-curStart > c.targetSize {
			curStart = max(curStart, min(p.start, p.end-c.targetSize))
		}
		curEnd = p.end
	}
	if curEnd > fresh {
		emit()
	}

	return chunks
}
