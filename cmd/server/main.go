// Command server is the range exchange host.
//
// Subcommands:
//
//	init       create the database schema
//	status     print record counts
//	server     run the HTTP host (default)
//	user add   create a participant
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/atmx/range-exchange/internal/config"
	"github.com/atmx/range-exchange/internal/market"
	"github.com/atmx/range-exchange/internal/metrics"
	"github.com/atmx/range-exchange/internal/store"
)

func main() {
	configPath := flag.String("config", "", "path to config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	setupLogging(cfg.Logging)

	args := flag.Args()
	cmd := "server"
	if len(args) > 0 {
		cmd = args[0]
	}

	ctx := context.Background()
	switch cmd {
	case "init":
		runInit(ctx, cfg)
	case "status":
		runStatus(ctx, cfg)
	case "server":
		runServer(cfg)
	case "user":
		if len(args) < 3 || args[1] != "add" {
			fmt.Fprintln(os.Stderr, "usage: server user add NAME")
			os.Exit(2)
		}
		runUserAdd(ctx, cfg, args[2])
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", cmd)
		os.Exit(2)
	}
}

func setupLogging(cfg config.LoggingConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// openStore builds the configured store stack: Postgres if a database
// URL is set (optionally behind the Redis cache), in-memory otherwise.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, func(), error) {
	if cfg.Storage.DatabaseURL == "" {
		slog.Warn("no database configured, using in-memory store (data will not persist)")
		return store.NewMemoryStore(), func() {}, nil
	}

	pool, err := pgxpool.New(ctx, cfg.Storage.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("database connection: %w", err)
	}
	var st store.Store = store.NewPostgresStore(pool)
	cleanup := []func(){pool.Close}
	slog.Info("connected to PostgreSQL")

	if cfg.Storage.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.Storage.RedisURL)
		if err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("invalid redis url: %w", err)
		}
		rdb := redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
		st = store.NewCachedStore(st, rdb, cfg.Storage.CacheTTL)
		slog.Info("Redis cache enabled", "ttl", cfg.Storage.CacheTTL)
	}

	return st, func() {
		for _, fn := range cleanup {
			fn()
		}
	}, nil
}

func runInit(ctx context.Context, cfg *config.Config) {
	if cfg.Storage.DatabaseURL == "" {
		fmt.Fprintln(os.Stderr, "init requires storage.database_url")
		os.Exit(1)
	}
	pool, err := pgxpool.New(ctx, cfg.Storage.DatabaseURL)
	if err != nil {
		slog.Error("database connection failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := store.NewPostgresStore(pool).InitSchema(ctx); err != nil {
		slog.Error("schema init failed", "err", err)
		os.Exit(1)
	}
	fmt.Println("schema created")
}

func runStatus(ctx context.Context, cfg *config.Config) {
	st, cleanup, err := openStore(ctx, cfg)
	if err != nil {
		slog.Error("store init failed", "err", err)
		os.Exit(1)
	}
	defer cleanup()

	counts, err := st.Counts(ctx)
	if err != nil {
		slog.Error("status failed", "err", err)
		os.Exit(1)
	}
	tables := make([]string, 0, len(counts))
	for t := range counts {
		tables = append(tables, t)
	}
	sort.Strings(tables)
	for _, t := range tables {
		fmt.Printf("%-14s %d\n", t, counts[t])
	}
}

func runUserAdd(ctx context.Context, cfg *config.Config, name string) {
	st, cleanup, err := openStore(ctx, cfg)
	if err != nil {
		slog.Error("store init failed", "err", err)
		os.Exit(1)
	}
	defer cleanup()

	m := market.New(st)
	if err := m.Hydrate(ctx); err != nil {
		slog.Error("hydrate failed", "err", err)
		os.Exit(1)
	}
	id, err := m.CreateParticipant(ctx, name)
	if err != nil {
		slog.Error("user add failed", "err", err)
		os.Exit(1)
	}
	fmt.Println(id)
}

func runServer(cfg *config.Config) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, cleanup, err := openStore(ctx, cfg)
	if err != nil {
		slog.Error("store init failed", "err", err)
		os.Exit(1)
	}
	defer cleanup()

	m := market.New(st)
	if err := m.Hydrate(ctx); err != nil {
		slog.Error("hydrate failed", "err", err)
		os.Exit(1)
	}

	hub := market.NewHub()
	go hub.Run()

	worker := market.NewWorker(m, hub, cfg.Server.WorkerQueue)
	go worker.Run(ctx)

	svc := market.NewService(worker)

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"range-exchange"}`))
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/ws", hub.HandleWS)
		r.Post("/requests", svc.HandleRequest)
	})

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("range-exchange listening", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	slog.Info("shutting down range-exchange...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("range-exchange stopped")
}
