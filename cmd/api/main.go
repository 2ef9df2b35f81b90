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
	"mobilemoney/internal/llm"
	"mobilemoney/internal/syncengine"
	"mobilemoney/internal/telemetry"
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
	if err := logger.Init(logger.GetEnv()); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync()

	_, filename, _, _ := runtime.Caller(0)
	root := filepath.Dir(filepath.Dir(filepath.Dir(filename)))
	configPath := config.Path(root).Join("config.toml")

	if err := config.Load(configPath, &Cfg); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger.Info("Starting mobile money API...")

	var redisCfg cache.Config
	if err := copier.Copy(&redisCfg, &Cfg.Redis); err != nil {
		return fmt.Errorf("failed to copy cache config: %w", err)
	}
	if err := cache.Init(redisCfg); err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	defer cache.Close()

	ctx := context.Background()
	if err := cache.Ping(ctx); err != nil {
		return fmt.Errorf("cache ping failed: %w", err)
	}

	var dbCfg database.Config
	if err := copier.Copy(&dbCfg, &Cfg.Database); err != nil {
		return fmt.Errorf("failed to copy database config: %w", err)
	}
	db, err := database.NewDB(dbCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize database connection: %w", err)
	}
	defer db.Close()

	if err := db.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	logger.Info("Database connected and verified successfully")

	if err := db.RunMigrations(); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	// Offline sync engine (C1-C9): repositories, then the collaborators
	// built on top of them, then the orchestrator tying it all together.
	offlineTxRepo := database.NewOfflineTxRepository()
	chainStateRepo := database.NewChainStateRepository()
	nonceRepo := database.NewUsedNonceRepository()
	conflictRepo := database.NewConflictRepository()
	ledgerRepo := database.NewLedgerRepository()

	chainStates := syncengine.NewChainStateStore(chainStateRepo)
	nonces := syncengine.NewNonceRegistry(nonceRepo)
	ledger := syncengine.NewLedger(ledgerRepo)
	conflicts := syncengine.NewConflictStore(conflictRepo)

	enrollment := syncengine.NewEnrollment(ledgerRepo)

	validator := syncengine.NewValidator(nonces, ledger, syncengine.ValidatorConfig{
		MaxAgeDays:             Cfg.Sync.MaxAgeDays,
		FutureToleranceMinutes: Cfg.Sync.FutureToleranceMinutes,
		MaxAmountMinor:         Cfg.Sync.MaxAmountMinor,
	})

	counters := telemetry.New()

	orchestrator := syncengine.NewOrchestrator(db, offlineTxRepo, chainStates, ledger, conflicts, nonces, validator)
	orchestrator.SetCounters(counters)

	alerts := queue.NewStreamQueue(cache.Client)
	if err := alerts.DeclareStream(ctx, "conflict-alerts", "ops-alerting"); err != nil {
		return fmt.Errorf("failed to declare conflict-alerts stream: %w", err)
	}
	orchestrator.SetAlertPublisher(alerts)

	// AI conversation memory and function-calling layer (C10-C15).
	memory := chat.NewMemory(
		database.NewConversationRepository(),
		database.NewMessageRepository(),
		time.Duration(Cfg.Chat.MemoryCacheTTLSecs)*time.Second,
		Cfg.Chat.MemoryMaxMessages,
	)
	adminMemory := chat.NewAdminMemory(
		database.NewAdminConversationRepository(),
		database.NewAdminMessageRepository(),
		Cfg.Chat.MemoryMaxMessages,
	)
	audit := chat.NewAuditLogger(database.NewAuditLogRepository())
	insights := chat.NewInsightsCache()
	rateLimiter := chat.NewRateLimiter(Cfg.Insights.RateMinute, Cfg.Insights.RateHour)
	registry := chat.NewDomainRegistry(db, ledgerRepo, ledger, conflicts, chainStates)

	orchestrator.SetEpochBumper(insights)

	provider, err := llm.NewProvider(Cfg.LLM.Provider, Cfg.LLM.BaseURL, Cfg.LLM.APIKey, nil)
	if err != nil {
		return fmt.Errorf("failed to initialize llm provider: %w", err)
	}
	retryCfg := llm.RetryConfig{
		Deadline:   time.Duration(Cfg.LLM.TimeoutSeconds) * time.Second,
		MaxRetries: Cfg.LLM.MaxRetries,
		BaseDelay:  time.Second,
		MaxDelay:   10 * time.Second,
	}

	session := chat.NewSession(memory, registry, provider, Cfg.LLM.Model, retryCfg, counters)
	adminSession := chat.NewAdminSession(adminMemory, registry, provider, Cfg.LLM.Model, retryCfg, insights, rateLimiter, audit, counters)

	// session, adminSession and orchestrator are the three request-facing
	// collaborators a transport layer dispatches onto; this process only
	// wires them, the same way the dependency set was wired and smoke
	// tested before any handlers existed.
	_ = session
	_ = adminSession
	_ = orchestrator
	_ = enrollment

	logger.Info("Mobile money API dependencies initialized successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	logger.Info("Received shutdown signal", zap.String("signal", sig.String()))

	return nil
}
