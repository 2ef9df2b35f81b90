package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"mobilemoney/config"
	"mobilemoney/internal/chat"
	"mobilemoney/internal/database"
	"mobilemoney/internal/retention"
	"mobilemoney/internal/syncengine"
	"mobilemoney/pkg/cache"
	"mobilemoney/pkg/logger"
	"mobilemoney/pkg/queue"

	"github.com/jinzhu/copier"
	"go.uber.org/zap"
)

var Cfg config.ApiConfig

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if err := logger.Init("development"); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync()

	_, filename, _, _ := runtime.Caller(0)
	root := filepath.Dir(filepath.Dir(filepath.Dir(filepath.Dir(filename))))
	configPath := config.Path(root).Join("config.toml")

	if err := config.Load(configPath, &Cfg); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger.Info("Starting retention worker...")

	var redisCfg cache.Config
	if err := copier.Copy(&redisCfg, &Cfg.Redis); err != nil {
		return fmt.Errorf("failed to copy cache config: %w", err)
	}
	if err := cache.Init(redisCfg); err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	defer cache.Close()

	var dbCfg database.Config
	if err := copier.Copy(&dbCfg, &Cfg.Database); err != nil {
		return fmt.Errorf("failed to copy database config: %w", err)
	}
	db, err := database.NewDB(dbCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize database connection: %w", err)
	}
	defer db.Close()

	nonces := syncengine.NewNonceRegistry(database.NewUsedNonceRepository())
	conflicts := syncengine.NewConflictStore(database.NewConflictRepository())
	memory := chat.NewMemory(
		database.NewConversationRepository(),
		database.NewMessageRepository(),
		time.Duration(Cfg.Chat.MemoryCacheTTLSecs)*time.Second,
		Cfg.Chat.MemoryMaxMessages,
	)

	loc, err := time.LoadLocation(Cfg.Retention.TimeZone)
	if err != nil {
		logger.Warn("retention: unknown time zone, falling back to local", zap.String("zone", Cfg.Retention.TimeZone))
		loc = time.Local
	}

	scheduler := retention.NewScheduler(db, nonces, conflicts, memory, retention.Config{
		NonceRetention:    time.Duration(Cfg.Sync.NonceRetentionDays) * 24 * time.Hour,
		ChatPruneAfter:    time.Duration(Cfg.Chat.PruneAfterDays) * 24 * time.Hour,
		ConflictRetention: time.Duration(Cfg.Retention.ConflictRetentionDays) * 24 * time.Hour,
		MessagePruneHour:  Cfg.Retention.MessagePruneHour,
		Location:          loc,
		TickInterval:      time.Hour,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sweeps := queue.NewStreamQueue(cache.Client)
	if err := sweeps.DeclareStream(ctx, "retention-sweeps", "ops-reporting"); err != nil {
		return fmt.Errorf("failed to declare retention-sweeps stream: %w", err)
	}
	scheduler.SetSweepReporter(sweeps)

	go scheduler.Run(ctx)

	logger.Info("Retention worker is running")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	logger.Info("Received shutdown signal", zap.String("signal", sig.String()))

	cancel()
	time.Sleep(3 * time.Second)
	logger.Info("Retention worker shut down gracefully")

	return nil
}
