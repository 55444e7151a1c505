package mcp

import "net/http"

const landingHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Notes RAG Server</title>
<style>
  body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, sans-serif; background: #f8fafc; color: #0f172a; max-width: 640px; margin: 3rem auto; padding: 0 1rem; }
  h1 { font-size: 1.6rem; margin-bottom: 0.25rem; }
  .subtitle { color: #475569; margin-top: 0; }
  h2 { font-size: 0.8rem; text-transform: uppercase; letter-spacing: 0.08em; color: #64748b; margin-top: 2rem; }
  code, pre { font-family: "SF Mono", Menlo, monospace; font-size: 0.85rem; }
  pre { background: #e2e8f0; border-radius: 6px; padding: 0.75rem 1rem; overflow-x: auto; }
  li { margin: 0.3rem 0; }
</style>
</head>
<body>
  <h1>Notes RAG Server</h1>
  <p class="subtitle">Store notes and ask questions about them over the Model Context Protocol.</p>

  <h2>Connect</h2>
  <pre><code>claude mcp add notes --transport http http://localhost:8080/mcp</code></pre>

  <h2>Tools</h2>
  <ul>
    <li><code>add_note</code>: store a note and index it in the background</li>
    <li><code>task_status</code>: check whether an added note is searchable yet</li>
    <li><code>search_notes</code>: find the note chunks closest to a question</li>
    <li><code>index_status</code>: show the embedding model and entry count</li>
  </ul>

  <h2>Endpoints</h2>
  <ul>
    <li><a href="/mcp">/mcp</a>: MCP Streamable HTTP</li>
    <li><a href="/health">/health</a>: health check</li>
  </ul>
</body>
</html>`

// NewLandingHandler returns an HTTP handler that serves the landing page at /.
func NewLandingHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(landingHTML))
	}
}
