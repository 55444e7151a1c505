// Package main provides the MCP server entry point for the notes index.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/bull/notes-rag-server/internal/app"
	"github.com/bull/notes-rag-server/internal/config"
	mcpserver "github.com/bull/notes-rag-server/internal/mcp"
	"github.com/bull/notes-rag-server/internal/tasks"
)

func main() {
	// Load .env file if present (local development), ignore if missing (production)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	// Create context that cancels on SIGTERM/SIGINT
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	logger := cfg.NewLogger()

	notes, err := app.New(cfg, logger)
	if err != nil {
		log.Fatalf("failed to initialize (%s): %v", app.ErrorCode(err), err)
	}
	defer notes.Close()

	// Ingestions run in the background so add_note replies right away.
	queue := tasks.NewQueue(ctx, cfg.Workers, 64, logger)
	defer queue.Close()

	server := mcpserver.NewServer(&mcpserver.Config{
		Ingester: notes.Pipeline,
		Searcher: notes.Retrieval,
		Queue:    queue,
		Location: notes.Location,
		TopK:     cfg.TopK,
		Logger:   logger,
	})

	mux := mcpserver.NewMux(server, notes, notes.Backend())
	httpServer := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if cfg.ServerMode {
		// HTTP mode: serve MCP over HTTP for remote clients
		go func() {
			<-ctx.Done()
			shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
			defer stop()
			httpServer.Shutdown(shutdownCtx)
		}()

		log.Printf("Starting HTTP server on %s (MCP at /mcp, health at /health)", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("HTTP server error: %v", err)
			os.Exit(1)
		}
		return
	}

	// Stdio mode: run MCP server over stdin/stdout for local clients
	// Also start HTTP health endpoint in background for local testing
	go func() {
		log.Printf("Starting health server on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("Health server error: %v", err)
		}
	}()

	log.Println("Starting notes MCP server (stdio mode)...")
	if err := server.Run(ctx); err != nil {
		log.Printf("server error: %v", err)
		os.Exit(1)
	}
}
