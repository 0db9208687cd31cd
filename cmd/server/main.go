package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/honeynil/EscrowServiceTochka/internal/api"
	"github.com/honeynil/EscrowServiceTochka/internal/config"
	"github.com/honeynil/EscrowServiceTochka/internal/handler"
	"github.com/honeynil/EscrowServiceTochka/internal/infrastructure/auth"
	"github.com/honeynil/EscrowServiceTochka/internal/infrastructure/kafka"
	"github.com/honeynil/EscrowServiceTochka/internal/infrastructure/redis"
	"github.com/honeynil/EscrowServiceTochka/internal/models"
	"github.com/honeynil/EscrowServiceTochka/internal/observability"
	"github.com/honeynil/EscrowServiceTochka/internal/repository"
	"github.com/honeynil/EscrowServiceTochka/internal/repository/memory"
	core "github.com/honeynil/EscrowServiceTochka/internal/repository/postgres"
	service "github.com/honeynil/EscrowServiceTochka/internal/services"
	_ "github.com/lib/pq"
)

const serviceName = "escrow-service"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Инициализируем логи, метрики, трейсы
	shutdownTracing, metricsHandler, err := observability.Setup(ctx, serviceName, cfg.LogLevel, cfg.OTLPEndpoint)
	if err != nil {
		slog.Error("failed to init observability", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			slog.Error("failed to shut down tracing", "error", err)
		}
	}()

	store, err := openStore(ctx, cfg)
	if err != nil {
		slog.Error("failed to open store", "storage", cfg.Storage, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	// Redis и Kafka опциональны: без них нет кэша, идемпотентности и событий
	var cache redis.RedisClient
	if cfg.RedisAddr != "" {
		client, err := redis.NewClient(ctx, cfg.RedisAddr)
		if err != nil {
			slog.Error("failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		defer client.Close()
		cache = client
	}

	var producer kafka.KafkaProducer
	if len(cfg.KafkaBrokers) > 0 {
		p := kafka.NewProducer(cfg.KafkaBrokers)
		defer p.Close()
		producer = p
	}

	svc := service.NewOrderService(store, cache, producer, cfg.KafkaOrdersTopic)

	if len(cfg.KafkaBrokers) > 0 {
		depositConsumer := kafka.NewDepositConsumer(cfg.KafkaBrokers, cfg.KafkaDepositsTopic, cfg.KafkaGroupID, svc)
		defer depositConsumer.Close()
		go depositConsumer.Consume(ctx)
	}

	// Настраиваем роутер
	router := api.SetupRouter(handler.NewHandler(svc), auth.NewTokenService(cfg.JWTSecret), metricsHandler)

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	serverErr := make(chan error, 1)
	go func() {
		slog.Info("starting server", "addr", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Graceful shutdown
	select {
	case <-ctx.Done():
	case err := <-serverErr:
		slog.Error("server failed", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown failed", "error", err)
		return
	}
	slog.Info("server stopped")
}

func openStore(ctx context.Context, cfg *config.Config) (repository.Store, error) {
	if cfg.Storage == config.StorageMemory {
		store := memory.NewStore()
		seedDemo(store)
		return store, nil
	}

	db, err := sql.Open("postgres", cfg.PostgresDSN)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if err := core.Migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return core.NewPostgresStore(db), nil
}

// seedDemo gives a memory-backed server a buyer (id 1), a seller (id 2)
// and one purchasable tier (id 1) to click through.
func seedDemo(store *memory.Store) {
	buyer := store.AddUser("demo-buyer", 10_000)
	seller := store.AddUser("demo-seller", 0)
	listing := store.AddService(seller.ID, "Logo design")
	tier := store.AddPricingTier(models.PricingTier{
		ServiceID: listing.ID,
		Price:     2_500,
		Duration:  3 * 24 * 60,
		Variant:   models.VariantStandard,
	})
	slog.Info("memory store seeded", "buyer_id", buyer.ID, "seller_id", seller.ID, "pricing_tier_id", tier.ID)
}
