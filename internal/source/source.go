// Package source turns raw inputs into documents ready for ingestion.
package source

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Origin records where a document's text came from. It is informational only.
type Origin string

const (
	OriginImage    Origin = "image"
	OriginAudio    Origin = "audio"
	OriginText     Origin = "text"
	OriginMarkdown Origin = "markdown"
)

// Origins lists every known origin.
var Origins = []Origin{OriginImage, OriginAudio, OriginText, OriginMarkdown}

// ParseOrigin validates an origin name.
func ParseOrigin(s string) (Origin, error) {
	for _, o := range Origins {
		if string(o) == strings.ToLower(s) {
			return o, nil
		}
	}
	return "", fmt.Errorf("unknown origin %q", s)
}

// Document is one note's extracted text.
type Document struct {
	ID     string // UUID
	Origin Origin
	Name   string // Source file name or label, may be empty
	Text   string
}

// New creates a document with a fresh ID.
func New(origin Origin, name, text string) Document {
	return Document{
		ID:     uuid.New().String(),
		Origin: origin,
		Name:   name,
		Text:   text,
	}
}

// FromText creates a text-origin document.
func FromText(name, text string) Document {
	return New(OriginText, name, text)
}
