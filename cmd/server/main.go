package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/errgroup"

	"github.com/kentomson01/stacksbet/internal/api"
	"github.com/kentomson01/stacksbet/internal/cache/redis"
	"github.com/kentomson01/stacksbet/internal/clock"
	"github.com/kentomson01/stacksbet/internal/config"
	"github.com/kentomson01/stacksbet/internal/db"
	"github.com/kentomson01/stacksbet/internal/engine"
	"github.com/kentomson01/stacksbet/internal/ledger"
	"github.com/kentomson01/stacksbet/internal/logging"
	"github.com/kentomson01/stacksbet/internal/sweeper"
	"github.com/kentomson01/stacksbet/internal/ws"
)

// backend is the value ledger plus journal; Postgres or in-memory.
type backend interface {
	engine.Ledger
	engine.Journal
	api.Wallets
}

type userStore interface {
	api.Users
	UpsertUser(ctx context.Context, handle, hash string) error
}

func main() {
	cfgPath := flag.String("config", "stacksbet.toml", "path to TOML config (optional)")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log, err := logging.New(cfg.LogLevel, "json")
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal("server exited", zap.Error(err))
	}
	log.Info("shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	// Ledger
	var (
		store backend
		users userStore
	)
	if cfg.Database.DSN != "" {
		pg, err := db.Open(cfg.Database.DSN)
		if err != nil {
			return fmt.Errorf("db open: %w", err)
		}
		defer pg.Close()
		log.Info("connected to database")
		if cfg.Database.RunMigrations {
			if err := pg.Migrate(cfg.Database.MigrationsDir); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			log.Info("migrations applied", zap.String("dir", cfg.Database.MigrationsDir))
		}
		store, users = pg, pg
	} else {
		log.Warn("no database configured; using in-memory ledger")
		store, users = ledger.NewMemory(), db.NewMemoryUsers()
	}

	if err := seedUsers(ctx, users, cfg.Platform, log); err != nil {
		return err
	}

	// WS Hub, optionally fed through Redis
	hub := ws.NewHub(log)
	publish := engine.PublishFunc(hub.Publish)

	g, ctx := errgroup.WithContext(ctx)

	var limiter api.Limiter
	if cfg.Redis.Enabled {
		rc, err := redis.New(ctx, redis.ClientConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err != nil {
			return err
		}
		defer rc.Close()
		bus := redis.NewEventBus(rc, cfg.Redis.EventChannel, log)
		publish = bus.Publish
		limiter = redis.NewRateLimiter(rc, "stacksbet:")
		g.Go(func() error { return bus.Relay(ctx, hub) })
		log.Info("redis enabled", zap.String("addr", cfg.Redis.Addr))
	}

	// Engine. Instances sharing a database follow each other through the
	// journal; the in-memory ledger has a single writer and never polls.
	var syncEvery time.Duration
	if cfg.Database.DSN != "" {
		syncEvery = cfg.Database.SyncInterval.Duration
	}
	clk := clock.NewWall(cfg.Chain.Genesis, cfg.Chain.BlockInterval.Duration, cfg.Chain.StartHeight)
	eng, err := engine.New(engine.Options{
		Owner:        cfg.Platform.Owner,
		Oracle:       cfg.Platform.Oracle,
		Escrow:       cfg.Platform.Escrow,
		MinimumStake: cfg.Platform.MinimumStake,
		FeeRateBps:   cfg.Platform.FeeRateBps,
		SyncInterval: syncEvery,
	}, store, clk, publish, log)
	if err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	if err := eng.Boot(ctx, store); err != nil {
		return fmt.Errorf("engine boot: %w", err)
	}
	g.Go(func() error { return eng.Run(ctx) })

	if cfg.Sweeper.Enabled {
		sw, err := sweeper.New(cfg.Sweeper.Schedule, eng, publish, log)
		if err != nil {
			return fmt.Errorf("sweeper schedule: %w", err)
		}
		g.Go(func() error { return sw.Run(ctx) })
	}

	// HTTP
	srv := &http.Server{
		Addr: cfg.Server.Addr,
		Handler: api.NewServer(eng, users, store, hub, log, api.Options{
			Secret:         cfg.Auth.JWTSecret,
			TokenTTL:       cfg.Auth.TokenTTL.Duration,
			RequestTimeout: cfg.Server.RequestTimeout.Duration,
			Limiter:        limiter,
			RateLimit:      cfg.Redis.RateLimit,
			RateWindow:     cfg.Redis.RateWindow.Duration,
		}).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.Go(func() error {
		log.Info("listening", zap.String("addr", cfg.Server.Addr), zap.Uint64("height", eng.Height()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// seedUsers makes the owner and oracle able to log in. A principal with no
// configured password is left untouched.
func seedUsers(ctx context.Context, users userStore, p config.PlatformConfig, log *zap.Logger) error {
	for handle, password := range map[string]string{p.Owner: p.OwnerPassword, p.Oracle: p.OraclePassword} {
		if password == "" {
			log.Warn("no password configured; account cannot log in", zap.String("handle", handle))
			continue
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("hash %s password: %w", handle, err)
		}
		if err := users.UpsertUser(ctx, handle, string(hash)); err != nil {
			return fmt.Errorf("seed %s: %w", handle, err)
		}
	}
	return nil
}
