package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"tournament-rewards/internal/blockchain"
	"tournament-rewards/internal/config"
	"tournament-rewards/internal/database"
	"tournament-rewards/internal/handler"
	"tournament-rewards/internal/lock"
	"tournament-rewards/internal/repository"
	"tournament-rewards/internal/scheduler"
	"tournament-rewards/internal/service"
	"tournament-rewards/internal/vault"
	"tournament-rewards/pkg/logger"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Printf("Invalid config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output); err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}

	db, err := database.Open(cfg.Database)
	if err != nil {
		logger.Fatal("Failed to connect to database: ", err)
	}
	defer database.Close(db)

	if err := database.Migrate(db); err != nil {
		logger.Fatal("Failed to migrate database: ", err)
	}

	client, err := blockchain.NewClient(&cfg.Chain)
	if err != nil {
		logger.Fatal("Failed to create blockchain client: ", err)
	}
	defer client.Close()

	v, err := vault.New(cfg.Vault)
	if err != nil {
		logger.Fatal("Failed to init key vault: ", err)
	}
	signer, err := vault.NewCustodialSigner(v, cfg.Vault.EncryptedAdminKey)
	if err != nil {
		logger.Fatal("Failed to unlock custodial key: ", err)
	}
	logger.WithFields(map[string]interface{}{
		"custodial": signer.Address().Hex(),
		"contract":  client.ContractAddress().Hex(),
		"chain_id":  cfg.Chain.ChainID,
	}).Info("Custodial signer ready")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	locker, closeLocker := initLocker(ctx, cfg.Redis)
	defer closeLocker()

	settlementSvc := service.NewSettlementService(
		repository.NewTournamentRepository(db),
		repository.NewRewardTierRepository(db),
		repository.NewParticipantRepository(db),
		repository.NewLedgerRepository(db),
		client,
		signer,
		locker,
		cfg.Settlement,
		cfg.Chain,
	)
	defer settlementSvc.Close()

	if cfg.Settlement.AutoSettleCron != "" {
		settlementScheduler := scheduler.NewSettlementScheduler(settlementSvc, cfg.Settlement.AutoSettleCron)
		if err := settlementScheduler.Start(); err != nil {
			logger.Fatal("Failed to start scheduler: ", err)
		}
		defer settlementScheduler.Stop()
	}

	router := mux.NewRouter()
	handler.NewSettlementHandler(settlementSvc).RegisterRoutes(router)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("Server starting on port ", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed: ", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error: ", err)
	}

	logger.Info("Server stopped")
}

// initLocker always guards tournaments in-process and adds the Redis lock
// when several instances share one custodial account.
func initLocker(ctx context.Context, cfg config.RedisConfig) (lock.Locker, func()) {
	local := lock.NewLocal()
	if !cfg.Enabled {
		return local, func() {}
	}

	redisLock, err := lock.NewRedis(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to connect to redis: ", err)
	}
	logger.WithFields(map[string]interface{}{
		"addr": cfg.Addr,
	}).Info("Distributed settlement lock enabled")

	return lock.Chain{local, redisLock}, func() {
		if err := redisLock.Close(); err != nil {
			logger.Error("Failed to close redis: ", err)
		}
	}
}
