package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
)

// ErrExtractorUnavailable is returned when no OCR or ASR command is configured or installed.
var ErrExtractorUnavailable = errors.New("text extractor unavailable")

// FilePlaceholder is replaced by the input path in extractor command templates.
const FilePlaceholder = "{file}"

// Extractor turns a media file into plain text.
type Extractor interface {
	Extract(ctx context.Context, path string) (string, error)
}

// CommandExtractor runs an external program and reads the text from its stdout,
// for example "tesseract {file} -" for handwriting or "whisper-cli -f {file}" for audio.
type CommandExtractor struct {
	origin Origin
	args   []string
}

// NewCommandExtractor parses a command template. The input path is appended
// when the template has no {file} placeholder.
func NewCommandExtractor(origin Origin, command string) (*CommandExtractor, error) {
	args := strings.Fields(command)
	if len(args) == 0 {
		return nil, fmt.Errorf("%w: no command configured for %s notes", ErrExtractorUnavailable, origin)
	}
	if !strings.Contains(command, FilePlaceholder) {
		args = append(args, FilePlaceholder)
	}
	return &CommandExtractor{origin: origin, args: args}, nil
}

// Origin returns the origin of documents this extractor produces.
func (c *CommandExtractor) Origin() Origin { return c.origin }

// Extract runs the command on path.
func (c *CommandExtractor) Extract(ctx context.Context, path string) (string, error) {
	name, err := exec.LookPath(c.args[0])
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrExtractorUnavailable, err)
	}

	args := make([]string, len(c.args)-1)
	for i, a := range c.args[1:] {
		args[i] = strings.ReplaceAll(a, FilePlaceholder, path)
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return "", fmt.Errorf("%s extraction failed: %w", c.origin, err)
		}
		return "", fmt.Errorf("%s extraction failed: %w: %s", c.origin, err, msg)
	}
	return strings.TrimSpace(stdout.String()), nil
}

// ExtractDocument runs e on path and wraps the text in a document named after the file.
func ExtractDocument(ctx context.Context, e Extractor, origin Origin, path string) (Document, error) {
	text, err := e.Extract(ctx, path)
	if err != nil {
		return Document{}, err
	}
	return New(origin, filepath.Base(path), text), nil
}
