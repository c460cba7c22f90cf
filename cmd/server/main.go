package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/honeynil/payment-ledger/internal/api"
	"github.com/honeynil/payment-ledger/internal/config"
	"github.com/honeynil/payment-ledger/internal/conversion"
	"github.com/honeynil/payment-ledger/internal/handler"
	"github.com/honeynil/payment-ledger/internal/infrastructure/auth"
	"github.com/honeynil/payment-ledger/internal/infrastructure/kafka"
	"github.com/honeynil/payment-ledger/internal/infrastructure/redis"
	"github.com/honeynil/payment-ledger/internal/observability"
	"github.com/honeynil/payment-ledger/internal/repository"
	"github.com/honeynil/payment-ledger/internal/repository/memory"
	core "github.com/honeynil/payment-ledger/internal/repository/postgres"
	service "github.com/honeynil/payment-ledger/internal/services"
	"golang.org/x/crypto/bcrypt"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Инициализируем логи, метрики, трейсы
	shutdownTracing, metricsHandler, err := observability.Setup(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			slog.Error("failed to flush traces", "error", err)
		}
	}()

	userRepo, transactionRepo, closeStore, err := openLedger(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	var redisClient redis.RedisClient = redis.NopClient{}
	if cfg.RedisAddr != "" {
		client, err := redis.NewClient(ctx, cfg.RedisAddr)
		if err != nil {
			return err
		}
		redisClient = client
	}
	defer redisClient.Close()

	var kafkaProducer kafka.KafkaProducer = kafka.NopProducer{}
	if len(cfg.KafkaBrokers) > 0 {
		kafkaProducer = kafka.NewProducer(cfg.KafkaBrokers)
	}
	defer kafkaProducer.Close()

	rates, err := cfg.RateTable()
	if err != nil {
		return err
	}

	authService, err := service.NewAuthService(userRepo, auth.NewJWTManager(cfg.JWTSecret, cfg.TokenTTL()), kafkaProducer, bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	transactionService := service.NewTransactionService(transactionRepo, conversion.NewResolver(rates), redisClient, kafkaProducer)

	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: api.SetupRouter(handler.NewHandler(authService, transactionService), authService, metricsHandler),
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("starting server", "addr", cfg.HTTPAddr, "storage_driver", cfg.StorageDriver)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
	}

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	slog.Info("server stopped")
	return nil
}

func openLedger(ctx context.Context, cfg *config.Config) (repository.UserRepository, repository.TransactionRepository, func(), error) {
	if cfg.StorageDriver == config.StorageDriverMemory {
		slog.Warn("using in-memory ledger, data is lost on restart")
		store := memory.NewStore()
		return memory.NewUserRepository(store), memory.NewTransactionRepository(store), func() {}, nil
	}

	db, err := core.NewConnection(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, nil, nil, err
	}
	closeDB := func() {
		if err := db.Close(); err != nil {
			slog.Error("failed to close database", "error", err)
		}
	}
	return core.NewPostgresUserRepository(db), core.NewPostgresTransactionRepository(db), closeDB, nil
}
