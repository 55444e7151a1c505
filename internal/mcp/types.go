// Package mcp exposes note ingestion and search as MCP tools.
package mcp

import "time"

// AddNoteInput defines the input parameters for the add_note tool.
type AddNoteInput struct {
	// Text is the note content.
	Text string `json:"text" jsonschema:"the note text to store and index"`
	// Name labels the note in the text store.
	Name string `json:"name,omitempty" jsonschema:"optional short name for the note"`
	// Format is text or markdown.
	Format string `json:"format,omitempty" jsonschema:"text (default) or markdown"`
}

// AddNoteOutput acknowledges a queued ingestion.
type AddNoteOutput struct {
	// TaskID identifies the background ingestion for task_status.
	TaskID string `json:"task_id"`
	// DocumentID is the ID assigned to the note.
	DocumentID string `json:"document_id"`
	// TextPath is where the note text was stored.
	TextPath string `json:"text_path"`
	// Status is always "queued" on success.
	Status string `json:"status"`
}

// TaskStatusInput defines the input parameters for the task_status tool.
type TaskStatusInput struct {
	TaskID string `json:"task_id" jsonschema:"the task id returned by add_note"`
}

// TaskStatusOutput reports a background ingestion.
type TaskStatusOutput struct {
	TaskID     string         `json:"task_id"`
	State      string         `json:"state"`
	Error      string         `json:"error,omitempty"`
	Result     *IngestSummary `json:"result,omitempty"`
	EnqueuedAt time.Time      `json:"enqueued_at"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
}

// IngestSummary is the outcome of a finished ingestion.
type IngestSummary struct {
	DocumentID   string `json:"document_id"`
	Chunks       int    `json:"chunks"`
	TotalEntries int    `json:"total_entries"`
	BuildID      string `json:"build_id"`
	Mode         string `json:"mode"`
}

// SearchNotesInput defines the input parameters for the search_notes tool.
type SearchNotesInput struct {
	// Query is the question or phrase to match.
	Query string `json:"query" jsonschema:"the question or phrase to search the notes for"`
	// MaxResults is the number of chunks to return.
	MaxResults int `json:"max_results,omitempty" jsonschema:"number of note chunks to return, default 3"`
}

// SearchNotesOutput contains the matching chunks, nearest first.
type SearchNotesOutput struct {
	Results []SearchResult `json:"results"`
	Message string         `json:"message,omitempty"`
}

// SearchResult is a single matching chunk.
type SearchResult struct {
	// DocumentID is the note the chunk came from.
	DocumentID string `json:"document_id"`
	// Text is the chunk text.
	Text string `json:"text"`
	// Distance is the cosine distance to the query (0 is identical).
	Distance float32 `json:"distance"`
	// Position is the chunk's ordinal in the index.
	Position int `json:"position"`
}

// IndexStatusInput takes no parameters.
type IndexStatusInput struct{}

// IndexStatusOutput describes the served index.
type IndexStatusOutput struct {
	Found     bool   `json:"found"`
	Location  string `json:"location"`
	ModelID   string `json:"model_id,omitempty"`
	BuildID   string `json:"build_id,omitempty"`
	Entries   int    `json:"entries"`
	Dimension int    `json:"dimension,omitempty"`
	Message   string `json:"message,omitempty"`
}
