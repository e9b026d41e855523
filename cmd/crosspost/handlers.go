package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"go.uber.org/zap"

	"github.com/elonfeng/crosspost/internal/bus"
	"github.com/elonfeng/crosspost/internal/config"
	"github.com/elonfeng/crosspost/internal/pipeline"
	"github.com/elonfeng/crosspost/internal/scheduler"
	"github.com/elonfeng/crosspost/internal/store"
	"github.com/elonfeng/crosspost/pkg/fetch"
	"github.com/elonfeng/crosspost/pkg/publish"
	"github.com/elonfeng/crosspost/pkg/server"
	"github.com/elonfeng/crosspost/pkg/translate"
)

func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}
	return config.Load(path)
}

func newLogger() (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func buildPublishers(cfg *config.Config) []publish.Publisher {
	var publishers []publish.Publisher

	if cfg.Platforms.XHS.Enabled {
		publishers = append(publishers, publish.NewXHS(cfg.Platforms.XHS.BridgeURL))
	}
	if cfg.Platforms.WeChat.Enabled {
		publishers = append(publishers, publish.NewWeChat(
			cfg.Platforms.WeChat.AppID,
			cfg.Platforms.WeChat.AppSecret,
			cfg.Platforms.WeChat.BaseURL,
		))
	}

	return publishers
}

func buildOrchestrator(cfg *config.Config, db store.Store, b *bus.Bus, logger *zap.Logger) *pipeline.Orchestrator {
	retry := pipeline.RetryPolicy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		Backoff:     cfg.Retry.ParseBackoff(),
	}
	callTimeout := cfg.Retry.ParseCallTimeout()

	fetcher := fetch.NewNitter(cfg.Twitter.NitterURL)
	translator := translate.NewLLM(
		cfg.Translator.Provider,
		cfg.Translator.Model,
		cfg.Translator.APIKey,
		cfg.Translator.BaseURL,
	)

	fetchStage := pipeline.NewFetchStage(db, fetcher, cfg.Twitter.Accounts, cfg.Sync.FetchLimit, callTimeout, logger)
	translateStage := pipeline.NewTranslateStage(db, translator, retry, callTimeout, logger)
	publishStage := pipeline.NewPublishStage(db, buildPublishers(cfg), retry, callTimeout, logger)

	return pipeline.NewOrchestrator(db, b, fetchStage, translateStage, publishStage, logger)
}

func runSync() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	db, err := store.New(cfg.Database.Path, cfg.EnabledPlatforms())
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	b := bus.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	defer b.Close()

	orch := buildOrchestrator(cfg, db, b, logger)

	synced, err := orch.SyncOnce(context.Background())
	if err != nil {
		return fmt.Errorf("sync: %w", err)
	}

	fmt.Printf("synced %d new items\n", synced)
	return nil
}

func runDaemon(port int) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if port == 0 {
		port = cfg.Server.Port
	}

	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	db, err := store.New(cfg.Database.Path, cfg.EnabledPlatforms())
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	b := bus.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	defer b.Close()

	orch := buildOrchestrator(cfg, db, b, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Re-enqueue anything stranded by a previous crash before the
	// workers start consuming.
	if err := orch.Recover(ctx); err != nil {
		return fmt.Errorf("recover stranded items: %w", err)
	}

	go func() {
		if err := orch.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("orchestrator stopped", zap.Error(err))
		}
	}()

	sched, err := scheduler.New(cfg.Sync.Cron, func(sctx context.Context) error {
		_, serr := orch.SyncOnce(sctx)
		return serr
	}, logger)
	if err != nil {
		return err
	}
	sched.Start()
	defer sched.Stop()

	// First sync immediately, then on schedule.
	go func() {
		if _, err := orch.SyncOnce(ctx); err != nil && ctx.Err() == nil {
			logger.Error("initial sync failed", zap.Error(err))
		}
	}()

	srv := server.New(db, orch.SyncOnce, port, logger)
	return srv.ListenAndServe(ctx)
}

func runServe(port int) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if port == 0 {
		port = cfg.Server.Port
	}

	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	db, err := store.New(cfg.Database.Path, cfg.EnabledPlatforms())
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	b := bus.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	defer b.Close()

	orch := buildOrchestrator(cfg, db, b, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	srv := server.New(db, orch.SyncOnce, port, logger)
	return srv.ListenAndServe(ctx)
}

func runStatus(jsonOutput bool, byStatus string, limit int) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := store.New(cfg.Database.Path, cfg.EnabledPlatforms())
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	items, err := db.List(context.Background(), store.ListOpts{
		Status: store.Status(byStatus),
		Limit:  limit,
	})
	if err != nil {
		return fmt.Errorf("list items: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(items)
	}

	if len(items) == 0 {
		fmt.Println("no items tracked (run: crosspost sync)")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ITEM\tAUTHOR\tSTATUS\tXHS\tWECHAT\tUPDATED")
	for _, it := range items {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			it.ItemID, it.AuthorID, it.Status,
			deref(it.XHSPostID), deref(it.WeChatArticleID),
			it.UpdatedAt.Format(time.RFC3339))
	}
	return w.Flush()
}

func deref(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}
