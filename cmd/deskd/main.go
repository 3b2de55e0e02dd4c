package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/uznikturbo/service/internal/auth"
	"github.com/uznikturbo/service/internal/channel"
	"github.com/uznikturbo/service/internal/client"
	"github.com/uznikturbo/service/internal/collection"
	"github.com/uznikturbo/service/internal/config"
	"github.com/uznikturbo/service/internal/events"
	"github.com/uznikturbo/service/internal/notify"
	"github.com/uznikturbo/service/internal/resync"
	"github.com/uznikturbo/service/pkg/protocol"
)

func main() {
	configPath := flag.String("config", "", "Path to config JSON file")
	verbose := flag.Bool("v", false, "Verbose logging")
	flag.Parse()

	logLevel := slog.LevelInfo
	if *verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))

	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.Load(*configPath)
	} else {
		cfg, err = config.LoadFromEnv()
	}
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("deskd starting", "backend", cfg.Backend.BaseURL)

	// 1. Credential store (durable; falls back to memory on failure)
	os.MkdirAll(cfg.DataDir, 0o755)
	var store auth.Store
	sqlStore, err := auth.NewSQLiteStore(filepath.Join(cfg.DataDir, "credentials.db"), logger)
	if err != nil {
		logger.Warn("credential store unavailable, session will not survive restarts", "error", err)
		store = auth.NewMemStore()
	} else {
		defer sqlStore.Close()
		store = sqlStore
	}

	// 2. Advisory bus + refresh coordinator + request pipeline
	bus := events.NewBus(0)
	coordinator := auth.NewCoordinator(store, cfg.Backend.BaseURL, bus, logger.With("component", "auth"))
	api := client.New(cfg.Backend.BaseURL, store, coordinator, bus, logger.With("component", "client"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Log advisories so operators see coalesced rate-limit and
	// session-expiry notices.
	advisories, unsubscribe := bus.Subscribe()
	defer unsubscribe()
	go safeGo(logger, "advisories", func() {
		for ev := range advisories {
			logger.Warn("advisory", "kind", ev.Kind, "message", ev.Message)
		}
	})

	// 3. Establish a session
	if _, ok := store.Get(); !ok {
		email := os.Getenv("DESK_EMAIL")
		password := os.Getenv("DESK_PASSWORD")
		if email == "" || password == "" {
			logger.Error("no stored session and DESK_EMAIL/DESK_PASSWORD not set")
			os.Exit(1)
		}
		if err := api.Login(ctx, email, password); err != nil {
			logger.Error("login failed", "error", err)
			os.Exit(1)
		}
		logger.Info("logged in", "email", email)
	}

	viewer := &viewerCache{api: api}
	if _, err := viewer.refresh(ctx); err != nil {
		logger.Error("failed to load profile", "error", err)
		os.Exit(1)
	}

	// 4. Ticket mirror: initial fetch, then push events + cron resync
	tickets := collection.New()
	sched := resync.New(api.ListTickets, tickets, logger.With("component", "resync"))
	if err := sched.Now(ctx); err != nil {
		logger.Warn("initial ticket fetch failed", "error", err)
	}
	if cfg.Resync.Schedule != "" {
		if err := sched.Schedule(ctx, cfg.Resync.Schedule); err != nil {
			logger.Error("invalid resync schedule", "error", err)
			os.Exit(1)
		}
		go safeGo(logger, "resync", func() { sched.Start(ctx) })
	}

	router := notify.New(notify.Config{
		WSBaseURL:   cfg.Backend.WSURL,
		Store:       store,
		Viewer:      viewer.get,
		Tickets:     tickets,
		BaseDelay:   time.Duration(cfg.Channel.BaseDelaySeconds) * time.Second,
		MaxAttempts: cfg.Channel.MaxAttempts,
		Logger:      logger.With("component", "notify"),
	})
	go safeGo(logger, "notifications", func() {
		router.Run(ctx)
		if state, _ := router.State(); state == channel.GivenUp || state == channel.ClosedByPolicy {
			logger.Warn("notification channel stopped, relying on periodic resync", "state", state.String())
		}
	})

	logger.Info("deskd running", "tickets", tickets.Len())

	// 5. Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received signal, shutting down", "signal", sig)
	cancel()
	logger.Info("deskd stopped")
}

// safeGo runs fn with panic recovery.
func safeGo(logger *slog.Logger, name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("goroutine panicked", "name", name, "panic", fmt.Sprintf("%v", r))
		}
	}()
	fn()
}

// viewerCache holds the authenticated user's profile for the
// notification router's authorization checks.
type viewerCache struct {
	api *client.Client

	mu   sync.Mutex
	user protocol.User
	ok   bool
}

func (v *viewerCache) refresh(ctx context.Context) (protocol.User, error) {
	user, err := v.api.Profile(ctx)
	if err != nil {
		return protocol.User{}, err
	}
	v.mu.Lock()
	v.user = user
	v.ok = true
	v.mu.Unlock()
	return user, nil
}

func (v *viewerCache) get() (protocol.User, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.user, v.ok
}
