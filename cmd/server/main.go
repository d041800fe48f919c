package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/kjannette/botdash-backend/internal/api"
	"github.com/kjannette/botdash-backend/internal/config"
	"github.com/kjannette/botdash-backend/internal/db"
	"github.com/kjannette/botdash-backend/internal/devicesync"
	"github.com/kjannette/botdash-backend/internal/external"
	"github.com/kjannette/botdash-backend/internal/logging"
	"github.com/kjannette/botdash-backend/internal/notifications"
	"github.com/kjannette/botdash-backend/internal/observability"
	"github.com/kjannette/botdash-backend/internal/report"
	"github.com/kjannette/botdash-backend/internal/repository"
	"github.com/kjannette/botdash-backend/internal/scheduler"
)

const banner = `
╔══════════════════════════════════════╗
║      Bot P&L Dashboard Backend       ║
║                                      ║
╚══════════════════════════════════════╝
`

func main() {
	fmt.Print(banner)

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}
	logging.Setup(cfg.LogLevel, cfg.LogFormat)

	if err := cfg.Validate(); err != nil {
		log.Fatal(err)
	}
	cfg.Print()

	observability.Init(cfg.MetricsNamespace)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatal(err)
	}
	log.Info("shutdown complete")
}

func run(ctx context.Context, cfg *config.Config) error {
	// Database
	pool, err := db.Connect(ctx, cfg.DSN(), db.PoolOptions{MaxConns: cfg.DBMaxConns, AppName: "botdash"})
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer func() {
		pool.Close()
		log.Info("database pool closed")
	}()
	if _, err := db.ServerVersion(ctx, pool); err != nil {
		return err
	}
	if cfg.DBMigrate {
		if err := db.Migrate(ctx, pool); err != nil {
			return err
		}
	}

	reports, err := report.NewLoader(ctx, cfg.DSN())
	if err != nil {
		return err
	}
	defer reports.Close()

	// Watchlist sync: local file cache, Redis replica when configured
	var replica devicesync.Replica
	if cfg.RedisAddr != "" {
		rr, err := devicesync.NewRedisReplica(ctx, devicesync.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		defer rr.Close()
		replica = rr
	} else {
		replica = devicesync.NewMemoryReplica()
	}

	local := devicesync.NewFileStore(cfg.SyncCachePath)
	syncer, err := devicesync.NewSyncer(devicesync.SyncerConfig{
		DeviceID: cfg.DeviceID,
		Interval: cfg.SyncInterval,
		Local:    local,
		Remote:   replica,
	})
	if err != nil {
		return err
	}
	if err := local.Watch(ctx, func() {
		if err := syncer.ReloadLocal(); err != nil {
			log.Warnf("reload local snapshot: %v", err)
		}
	}); err != nil {
		log.Warnf("local cache watch disabled: %v", err)
	}

	// Price watcher
	notify := notifications.NewSender(cfg.WebhookURL, cfg.BotName)
	watcher := scheduler.NewPriceWatcher(external.NewPriceClient(cfg.PriceAPIURL), syncer, notify,
		scheduler.PriceWatcherConfig{Interval: cfg.PriceCheckInterval, NewID: uuid.NewString})

	// API
	deps := api.Deps{
		DB:       pool,
		BotTypes: repository.NewBotTypeRepo(pool),
		Updates:  repository.NewUpdateRepo(pool),
		Reports:  reports,
		Sync:     syncer,
	}
	if cfg.VisionAPIURL != "" {
		deps.Extractor = external.NewVisionClient(cfg.VisionAPIURL, cfg.VisionAPIKey, external.VisionOptions{})
	}
	srv := api.NewServer(deps, api.Options{
		Port:       cfg.APIPort,
		APIKey:     cfg.APIKey,
		CORSOrigin: cfg.CORSAllowOrigin,
		NewID:      uuid.NewString,
	})

	syncer.Start()
	watcher.Start()
	log.Info("all services started")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down gracefully")

		watcher.Stop()
		syncer.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("api shutdown: %w", err)
		}
		log.Info("API server closed")
		return nil
	})
	return g.Wait()
}
