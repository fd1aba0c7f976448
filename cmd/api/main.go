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

	"github.com/codewatch/control-room/internal/auth"
	"github.com/codewatch/control-room/internal/config"
	"github.com/codewatch/control-room/internal/handler"
	hubService "github.com/codewatch/control-room/internal/service/hub"
	"github.com/codewatch/control-room/internal/service/notify"
	"github.com/codewatch/control-room/internal/service/upstream"
	"github.com/codewatch/control-room/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	if !cfg.Upstream.Enabled() {
		log.Fatal("UPSTREAM_BASE_URL and UPSTREAM_API_TOKEN are required")
	}
	if cfg.Auth.StreamSecret == "" {
		log.Fatal("AUTH_STREAM_SECRET is required")
	}

	client := upstream.NewClient(cfg.Upstream.BaseURL, cfg.Upstream.Token,
		upstream.WithTimeout(cfg.Upstream.Timeout))

	// The store only buys warm starts and durability; a failure to open it
	// must never refuse boot.
	st, err := store.Open(ctx, cfg.Store.Path)
	if err != nil {
		log.Printf("warning: failed to open store at %s: %v", cfg.Store.Path, err)
		log.Println("continuing without persistence")
		st = nil
	} else {
		defer st.Close()
	}

	notifier := notify.New(cfg.Notify.WebhookURL)
	if cfg.Notify.WebhookURL != "" {
		log.Println("webhook notifier enabled")
	}

	h := hubService.New(client, hubPersister(st), notifier, hubService.Options{
		PollInterval:      cfg.Hub.PollInterval,
		HeartbeatInterval: cfg.Hub.HeartbeatInterval,
		MaxBufferedBytes:  cfg.Hub.MaxBufferedBytes,
	})
	h.Start()
	defer h.Stop()

	admitter := auth.NewAdmitter(cfg.Auth.StreamSecret, cfg.Auth.AllowedPrefixes,
		auth.NewRateLimiter(cfg.Auth.RateWindow, cfg.Auth.RateMax))

	router := handler.NewRouter(client, h, admitter, sessionWriter(st))

	startServer(ctx, cfg.Server, router)
}

// hubPersister converts a possibly-nil *store.Store into the hub's interface
// without producing a non-nil interface wrapping a nil pointer.
func hubPersister(st *store.Store) hubService.Persister {
	if st == nil {
		return nil
	}
	return st
}

func sessionWriter(st *store.Store) handler.SessionWriter {
	if st == nil {
		return nil
	}
	return st
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("control-room backend listening on %s", addr)
	if err := runServer(ctx, srv); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
