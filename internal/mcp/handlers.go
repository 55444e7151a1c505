package mcp

import (
	"context"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/bull/notes-rag-server/internal/app"
	"github.com/bull/notes-rag-server/internal/index"
	"github.com/bull/notes-rag-server/internal/ingest"
	"github.com/bull/notes-rag-server/internal/source"
	"github.com/bull/notes-rag-server/internal/tasks"
)

// toolError prefixes err with its error code so callers can tell kinds apart.
func toolError(err error) error {
	return fmt.Errorf("%s: %w", app.ErrorCode(err), err)
}

// makeAddNoteHandler creates the add_note tool handler.
// The text is stored before the reply and indexed on the task queue; the
// reply carries the task ID to poll.
func makeAddNoteHandler(ingester Ingester, queue *tasks.Queue, loc string) func(
	context.Context, *mcp.CallToolRequest, AddNoteInput,
) (*mcp.CallToolResult, AddNoteOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input AddNoteInput) (
		*mcp.CallToolResult, AddNoteOutput, error,
	) {
		var doc source.Document
		switch input.Format {
		case "", "text":
			doc = source.FromText(input.Name, input.Text)
		case "markdown":
			var err error
			doc, err = source.FromMarkdown(input.Name, []byte(input.Text))
			if err != nil {
				return nil, AddNoteOutput{}, toolError(fmt.Errorf("%w: %v", index.ErrInvalidArgument, err))
			}
		default:
			return nil, AddNoteOutput{}, toolError(fmt.Errorf("%w: unknown format %q", index.ErrInvalidArgument, input.Format))
		}

		doc, textPath, err := ingester.Save(doc)
		if err != nil {
			return nil, AddNoteOutput{}, toolError(err)
		}

		taskID, err := queue.Submit("add_note "+doc.ID, func(ctx context.Context) (any, error) {
			result, err := ingester.Index(ctx, doc, textPath, loc)
			if err != nil {
				return nil, toolError(err)
			}
			return result, nil
		})
		if err != nil {
			return nil, AddNoteOutput{}, toolError(err)
		}

		return nil, AddNoteOutput{
			TaskID:     taskID,
			DocumentID: doc.ID,
			TextPath:   textPath,
			Status:     string(tasks.StateQueued),
		}, nil
	}
}

// makeTaskStatusHandler creates the task_status tool handler.
func makeTaskStatusHandler(queue *tasks.Queue) func(
	context.Context, *mcp.CallToolRequest, TaskStatusInput,
) (*mcp.CallToolResult, TaskStatusOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input TaskStatusInput) (
		*mcp.CallToolResult, TaskStatusOutput, error,
	) {
		task, err := queue.Get(input.TaskID)
		if err != nil {
			return nil, TaskStatusOutput{}, toolError(err)
		}

		out := TaskStatusOutput{
			TaskID:     task.ID,
			State:      string(task.State),
			Error:      task.Error,
			EnqueuedAt: task.EnqueuedAt,
		}
		if task.Done() {
			finished := task.FinishedAt
			out.FinishedAt = &finished
		}
		if res, ok := task.Result.(*ingest.Result); ok && res != nil {
			out.Result = &IngestSummary{
				DocumentID:   res.DocumentID,
				Chunks:       res.Chunks,
				TotalEntries: res.TotalEntries,
				BuildID:      res.BuildID,
				Mode:         string(res.Mode),
			}
		}
		return nil, out, nil
	}
}

// makeSearchHandler creates the search_notes tool handler.
func makeSearchHandler(searcher Searcher, defaultK int) func(
	context.Context, *mcp.CallToolRequest, SearchNotesInput,
) (*mcp.CallToolResult, SearchNotesOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input SearchNotesInput) (
		*mcp.CallToolResult, SearchNotesOutput, error,
	) {
		k := input.MaxResults
		if k <= 0 {
			k = defaultK
		}

		results, err := searcher.Search(ctx, input.Query, k)
		if err != nil {
			return nil, SearchNotesOutput{}, toolError(err)
		}

		out := SearchNotesOutput{Results: make([]SearchResult, 0, len(results))}
		for _, r := range results {
			out.Results = append(out.Results, SearchResult{
				DocumentID: r.Entry.DocumentID,
				Text:       r.Entry.Chunk.Text,
				Distance:   r.Distance,
				Position:   r.Ordinal,
			})
		}
		if len(out.Results) == 0 {
			out.Message = "No matching notes found."
		}
		return nil, out, nil
	}
}

// makeStatusHandler creates the index_status tool handler.
// A missing index is reported as found=false rather than an error.
func makeStatusHandler(searcher Searcher, loc string) func(
	context.Context, *mcp.CallToolRequest, IndexStatusInput,
) (*mcp.CallToolResult, IndexStatusOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input IndexStatusInput) (
		*mcp.CallToolResult, IndexStatusOutput, error,
	) {
		status, err := searcher.Status(ctx)
		if errors.Is(err, index.ErrIndexNotFound) {
			return nil, IndexStatusOutput{
				Found:    false,
				Location: loc,
				Message:  app.Hint(err),
			}, nil
		}
		if err != nil {
			return nil, IndexStatusOutput{}, toolError(err)
		}

		return nil, IndexStatusOutput{
			Found:     true,
			Location:  status.Location,
			ModelID:   status.ModelID,
			BuildID:   status.BuildID,
			Entries:   status.Entries,
			Dimension: status.Dimension,
		}, nil
	}
}
