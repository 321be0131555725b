/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the offline budget engine server. Handles
  configuration, dependency injection, journal rehydration and graceful
  shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags
  2. Initialize SQLite store
  3. Rehydrate the pending-change ledger from the journal
  4. Wire the ledger, local client, sync dispatcher and API handler
  5. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port        HTTP server port (default: 8080)
  -db          SQLite database path (default: budget.db)
               Use ":memory:" for in-memory database
  -budget-dirs Comma-separated budget discovery roots (default: the
               usual Dropbox/Documents locations)
  -log-level   debug, info, warn or error (default: info)

JOURNAL PERSISTENCE:
  Every ledger mutation rewrites the journal table, so pending edits
  survive a restart. The journal is small by construction - at most one
  entry per touched entity.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close database connection
  4. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/budget.db"

  # Run with in-memory database
  ./server -db=":memory:"

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/harbor/budget-engine/api"
	"github.com/harbor/budget-engine/client"
	"github.com/harbor/budget-engine/ledger"
	"github.com/harbor/budget-engine/store/sqlite"
	"github.com/harbor/budget-engine/syncer"
)

func main() {
	// Flags
	port := flag.Int("port", 8080, "HTTP server port")
	dbPath := flag.String("db", "budget.db", "SQLite database path")
	budgetDirs := flag.String("budget-dirs", "", "comma-separated budget discovery roots")
	logLevel := flag.String("log-level", "info", "debug, info, warn or error")
	flag.Parse()

	log := newLogger(*logLevel)

	// Initialize store
	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Error("failed to initialize database", slog.Any("error", err))
		os.Exit(1)
	}
	defer store.Close()

	// Rehydrate the ledger from the journal, then keep the journal in sync
	// with every subsequent mutation.
	led := ledger.New()
	journaled, err := store.LoadJournal(context.Background())
	if err != nil {
		log.Error("failed to load pending-change journal", slog.Any("error", err))
		os.Exit(1)
	}
	led.Restore(journaled)
	if len(journaled) > 0 {
		log.Info("restored pending changes from journal", slog.Int("count", len(journaled)))
	}
	led.Subscribe(func(ev ledger.Event) {
		if err := store.SyncJournal(context.Background(), ev.Snapshot); err != nil {
			log.Error("failed to persist pending-change journal", slog.Any("error", err))
		}
	})

	// Wire the local client and sync dispatcher
	local := client.NewLocal(store)
	dispatcher := syncer.New(led, local, log)

	// Initialize handler
	handler := api.NewHandler(led, dispatcher, local)
	if *budgetDirs != "" {
		handler.SearchPaths = splitDirs(*budgetDirs)
	}

	// Create router
	router := api.NewRouter(handler, log)

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info("server starting", slog.String("addr", fmt.Sprintf("http://localhost:%d", *port)))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server failed", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error("server forced to shutdown", slog.Any("error", err))
		os.Exit(1)
	}

	log.Info("server stopped")
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func splitDirs(s string) []string {
	var out []string
	for _, dir := range strings.Split(s, ",") {
		if dir = strings.TrimSpace(dir); dir != "" {
			out = append(out, dir)
		}
	}
	return out
}
