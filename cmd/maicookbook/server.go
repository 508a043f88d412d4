package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/depie/maicookbook/internal/api"
	"github.com/depie/maicookbook/internal/config"
	"github.com/depie/maicookbook/internal/conversation"
	"github.com/depie/maicookbook/internal/corpus"
	"github.com/depie/maicookbook/internal/ingest"
	"github.com/depie/maicookbook/internal/llm"
	"github.com/depie/maicookbook/internal/query"
	"github.com/depie/maicookbook/internal/retrieval"
	"github.com/depie/maicookbook/internal/storage"
	"github.com/depie/maicookbook/internal/synthesis"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the maicookbook server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show maicookbook system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "maicookbook version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Initialize structured logging.
	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Open storage.
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	// Load and embed the corpus. Unchanged documents are served from the
	// embedding cache, so restarts only pay for new or edited text.
	docs, err := loadCorpus(cfg.Corpus)
	if err != nil {
		return err
	}

	client := llm.New(cfg.API.BaseURL, cfg.API.Key, cfg.API.ChatModel, cfg.API.EmbedModel)

	recipes := corpus.NewStore()
	if len(docs) == 0 {
		slog.Warn("corpus is empty; chat requests will fail until corpus.dataset or corpus.extras_dir is set")
	} else {
		embedded, err := ingest.New(client, store, cfg.API.EmbedModel, cfg.Corpus.EmbedBatch).Run(ctx, docs)
		if err != nil {
			return fmt.Errorf("embedding corpus: %w", err)
		}
		if err := recipes.Ingest(embedded); err != nil {
			return fmt.Errorf("ingesting corpus: %w", err)
		}
		slog.Info("corpus ready", "documents", recipes.Len())
	}

	// Warm the conversation store from archived sessions.
	sessions := conversation.NewStore(cfg.Conversations.MaxActive, store)
	snaps, err := store.LoadConversations()
	if err != nil {
		return fmt.Errorf("loading conversations: %w", err)
	}
	sessions.Restore(snaps)
	if len(snaps) > 0 {
		slog.Info("conversations restored", "archived", len(snaps), "active", sessions.Len())
	}

	// Assemble the answer pipeline.
	timeout, err := time.ParseDuration(cfg.Server.RequestTimeout)
	if err != nil {
		slog.Warn("invalid request timeout, using default 90s", "value", cfg.Server.RequestTimeout, "error", err)
		timeout = 90 * time.Second
	}
	retriever := retrieval.New(client, recipes)
	synthesizer := synthesis.New(client, cfg.Synthesis.HistoryTurns, cfg.Synthesis.MaxContextTokens)
	svc := query.New(sessions, retriever, synthesizer, cfg.Retrieval.TopK, timeout)

	deps := api.Deps{Query: svc, Sessions: sessions, Corpus: recipes}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: api.NewHandler(deps),
	}

	// Start MCP server when enabled (stdio transport in a goroutine).
	if cfg.MCP.Enabled {
		stdioSrv := server.NewStdioServer(api.NewMCPServer(deps))
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
		}()
		slog.Info("MCP server started (stdio transport)")
	}

	// Start server in a goroutine.
	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "maicookbook listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for signal or server error.
	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	// Graceful shutdown with timeout.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func loadCorpus(cfg config.CorpusConfig) ([]corpus.Document, error) {
	var docs []corpus.Document

	if cfg.Dataset != "" {
		fromDataset, err := corpus.LoadDataset(cfg.Dataset)
		if err != nil {
			return nil, fmt.Errorf("loading dataset: %w", err)
		}
		docs = append(docs, fromDataset...)
	}
	if cfg.ExtrasDir != "" {
		extra, err := corpus.LoadDir(cfg.ExtrasDir, cfg.ChunkChars)
		if err != nil {
			return nil, fmt.Errorf("loading extra documents: %w", err)
		}
		docs = append(docs, extra...)
	}
	return docs, nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}

	// Check server health.
	serverURL := fmt.Sprintf("http://%s:%d", cfg.Server.Host, cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		var health struct {
			Status    string `json:"status"`
			Documents int    `json:"documents"`
		}
		decodeErr := json.NewDecoder(resp.Body).Decode(&health)
		resp.Body.Close()
		if resp.StatusCode == 200 && decodeErr == nil {
			printStatus("Server", "running on port %d", cfg.Server.Port)
			printStatus("Recipes", "%d", health.Documents)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	// Show models.
	printStatus("Chat model", "%s", cfg.API.ChatModel)
	printStatus("Embed model", "%s", cfg.API.EmbedModel)

	// Show conversation count if server is running.
	if resp != nil && resp.StatusCode == 200 {
		convResp, err := client.Get(serverURL + "/conversations")
		if err == nil {
			var listing struct {
				Conversations []json.RawMessage `json:"conversations"`
			}
			if json.NewDecoder(convResp.Body).Decode(&listing) == nil {
				printStatus("Conversations", "%d", len(listing.Conversations))
			}
			convResp.Body.Close()
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
