package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pairpad/server/api"
	"github.com/pairpad/server/auth"
	"github.com/pairpad/server/codeforces"
	"github.com/pairpad/server/config"
	"github.com/pairpad/server/execute"
	"github.com/pairpad/server/logger"
	"github.com/pairpad/server/mcp"
	"github.com/pairpad/server/middleware"
	"github.com/pairpad/server/session"
	"github.com/pairpad/server/ws"
)

var version = "dev"

const shutdownTimeout = 10 * time.Second

type app struct {
	registry *session.Registry
	editor   *ws.Handler
	handler  http.Handler
}

func newApp(cfg *config.Config, keys auth.KeySource, store session.Store, backend execute.Backend) *app {
	verifier := auth.NewVerifier(keys)

	registry := session.NewRegistry(session.Options{
		Retention:       cfg.Session.Retention,
		QueueSize:       cfg.Session.QueueSize,
		DefaultCode:     cfg.Session.DefaultCode,
		DefaultLanguage: cfg.Session.DefaultLanguage,
		Store:           store,
		Logger:          slog.Default(),
	})

	editor := ws.NewHandler(auth.NewGate(verifier, registry), registry, ws.Options{
		DevMode:        cfg.Server.DevMode,
		OriginPatterns: cfg.Server.AllowedOrigins,
		SendQueue:      cfg.Session.SendQueue,
		ReadLimit:      cfg.Session.MaxDocumentBytes,
	})

	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	// Editor websocket (handles its own auth so rejections carry close codes)
	mux.Handle("GET /ws/editor/", editor)
	mux.Handle("GET /ws/editor", editor)

	mux.Handle("GET /rpc", ws.NewRPCHandler(version, cfg.Server.DevMode, verifier, registry, backend))

	api.NewSessionHandler(registry, backend).Register(mux)
	mux.Handle("GET /api/stats", api.NewStatsHandler(registry))
	mux.Handle("POST /api/codeforces/fetch/{$}", api.NewProblemHandler(codeforces.NewClient(cfg.Problems.URL, cfg.Problems.Timeout)))

	mux.Handle("/mcp", mcp.NewServer(registry, backend, version).Handler())

	handler := middleware.Logging(middleware.Auth(verifier)(mux))

	return &app{registry: registry, editor: editor, handler: handler}
}

// shutdown closes editor connections before flushing sessions so every
// session's final edit is in the snapshot the store receives.
func (a *app) shutdown() {
	a.editor.Shutdown()
	a.registry.Shutdown()
}

func loadKeys(cfg config.AuthConfig) (auth.KeySource, func(), error) {
	if cfg.SecretFile != "" {
		k, err := auth.NewFileKey(cfg.SecretFile)
		if err != nil {
			return nil, nil, err
		}
		return k, func() { k.Close() }, nil
	}
	return auth.StaticKey(cfg.Secret), func() {}, nil
}

func loadStore(dir string) (session.Store, error) {
	if dir == "" {
		return session.NopStore{}, nil
	}
	return session.NewFileStore(dir)
}

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	closeLog := logger.Init(logger.Config{
		DataDir: cfg.DataDir,
		DevMode: cfg.Server.DevMode,
		Level:   cfg.Log.Level,
		Format:  cfg.Log.Format,
		File:    cfg.Log.File,
	})
	defer closeLog()

	keys, closeKeys, err := loadKeys(cfg.Auth)
	if err != nil {
		slog.Error("failed to load signing key", "error", err)
		os.Exit(1)
	}
	defer closeKeys()

	store, err := loadStore(cfg.Session.PersistDir)
	if err != nil {
		slog.Error("failed to open session store", "dir", cfg.Session.PersistDir, "error", err)
		os.Exit(1)
	}

	a := newApp(cfg, keys, store, execute.NewPistonClient(cfg.Execute.URL, cfg.Execute.Timeout))

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server starting", "addr", srv.Addr, "version", version, "devMode", cfg.Server.DevMode, "persistDir", cfg.Session.PersistDir)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
			a.shutdown()
			os.Exit(1)
		}
	case <-ctx.Done():
		slog.Info("shutting down")
	}

	// Hijacked websocket connections are not tracked by srv.Shutdown.
	a.editor.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown incomplete", "error", err)
	}

	a.registry.Shutdown()
	slog.Info("server stopped")
}
