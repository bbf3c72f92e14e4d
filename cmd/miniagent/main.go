// miniagent — conversational agent runtime. Runs as an HTTP server, or as an
// interactive chat REPL with -chat.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/codeready-toolchain/miniagent/pkg/api"
	"github.com/codeready-toolchain/miniagent/pkg/config"
	"github.com/codeready-toolchain/miniagent/pkg/database"
	"github.com/codeready-toolchain/miniagent/pkg/events"
	"github.com/codeready-toolchain/miniagent/pkg/registry"
	"github.com/codeready-toolchain/miniagent/pkg/services"
	"github.com/codeready-toolchain/miniagent/pkg/store"
	"github.com/codeready-toolchain/miniagent/pkg/turn"
	"github.com/codeready-toolchain/miniagent/pkg/version"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "miniagent.yaml", "Path to configuration file")
	chatSession := flag.String("chat", "", "Run an interactive chat REPL against the named session")
	offline := flag.Bool("offline", false, "Use the scripted offline turn service (no provider credentials needed)")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file, continuing with existing environment", "error", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		return 1
	}

	ctx := context.Background()

	// Event store backend.
	var (
		st       store.Store
		dbClient *database.Client
	)
	switch cfg.Storage {
	case config.StoragePostgres:
		dbConfig, err := database.LoadConfigFromEnv()
		if err != nil {
			slog.Error("failed to load database config", "error", err)
			return 1
		}
		dbClient, err = database.NewClient(ctx, dbConfig)
		if err != nil {
			slog.Error("failed to connect to database", "error", err)
			return 1
		}
		defer func() {
			if err := dbClient.Close(); err != nil {
				slog.Error("error closing database client", "error", err)
			}
		}()
		st = store.NewPGStore(dbClient.DB())
		slog.Info("using PostgreSQL event store")
	default:
		fs, err := store.NewFileStore(cfg.DataRoot)
		if err != nil {
			slog.Error("failed to open file store", "data_root", cfg.DataRoot, "error", err)
			return 1
		}
		defer func() { _ = fs.Close() }()
		st = fs
		slog.Info("using file event store", "data_root", cfg.DataRoot)
	}

	// Turn service.
	var turns turn.Service
	if *offline {
		turns = turn.NewScripted()
		slog.Info("using scripted offline turn service")
	} else {
		turns = turn.NewRouter(turn.Options{
			Default:        cfg.DefaultLLM(),
			Attempts:       cfg.Turn.Attempts,
			AttemptTimeout: cfg.TurnTimeout(),
		})
	}

	reg := registry.New(registry.Options{
		Store:            st,
		Turns:            turns,
		Debounce:         cfg.Debounce(),
		MailboxSize:      cfg.MailboxSize,
		SubscriberBuffer: cfg.SubscriberBuffer,
	})
	svc := services.NewSessionService(reg, st, services.Options{
		IdleTimeout: cfg.IdleTimeout(),
	})

	var code int
	if *chatSession != "" {
		code = runChat(ctx, svc, *chatSession)
	} else {
		code = runServer(ctx, svc, dbClient, cfg)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := reg.ShutdownAll(shutdownCtx); err != nil {
		slog.Error("error shutting down sessions", "error", err)
	}
	return code
}

// runServer runs the HTTP gateway until a signal or a fatal server error.
func runServer(ctx context.Context, svc *services.SessionService, dbClient *database.Client, cfg *config.Config) int {
	var srv *api.Server
	if dbClient != nil {
		srv = api.NewServer(svc, dbClient.DB(), nil)
	} else {
		srv = api.NewServer(svc, nil, nil)
	}

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler: srv.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", httpServer.Addr, "version", version.Full())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	code := 0
	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("server error triggered shutdown", "error", err)
		code = 1
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}
	return code
}

// runChat is the interactive front-end: each line becomes a user message and
// the turn's deltas stream to stdout. Ctrl-C (or EOF) ends the session
// cleanly with exit code 0.
func runChat(ctx context.Context, svc *services.SessionService, session string) int {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	fmt.Printf("session %s — type a message, Ctrl-C to quit\n", session)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		fmt.Print("> ")
		var line string
		var ok bool
		select {
		case line, ok = <-lines:
			if !ok {
				fmt.Println()
				return 0
			}
		case <-ctx.Done():
			fmt.Println()
			return 0
		}
		if line == "" {
			continue
		}

		stream, err := svc.AddAndStreamUntilIdle(ctx, session,
			[]events.Payload{&events.UserMessage{Content: line}}, 0)
		if err != nil {
			slog.Error("failed to submit message", "error", err)
			return 1
		}
		for e := range stream {
			switch p := e.Payload.(type) {
			case *events.TextDelta:
				fmt.Print(p.Delta)
			case *events.TurnFailed:
				fmt.Printf("[turn failed: %s]", p.Error)
			}
		}
		fmt.Println()
		if ctx.Err() != nil {
			return 0
		}
	}
}
