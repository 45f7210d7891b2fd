package app

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shop/internal/auth"
	"github.com/vladislavdragonenkov/shop/internal/domain"
	"github.com/vladislavdragonenkov/shop/internal/storage/memory"
	"github.com/vladislavdragonenkov/shop/internal/storage/postgres"
	redisstore "github.com/vladislavdragonenkov/shop/internal/storage/redis"
)

// Dependencies содержит инфраструктурные зависимости приложения.
type Dependencies struct {
	Store       domain.Store
	OutboxRepo  domain.OutboxRepository
	Idempotency domain.IdempotencyRepository
	Verifier    auth.Verifier
	Logger      *log.Entry

	postgresStore *postgres.Store
	redisClient   *goredis.Client
}

// NewDependencies инициализирует хранилище, idempotency-репозиторий и verifier
// согласно конфигурации. Memory-драйвер получает демо-каталог товаров.
func NewDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*Dependencies, error) {
	if logger == nil {
		logger = log.WithField("component", "app")
	}

	deps := &Dependencies{Logger: logger}

	switch cfg.StorageDriver {
	case StorageDriverPostgres:
		store, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		if cfg.PostgresAutoMigrate {
			if err := store.EnsureSchema(ctx); err != nil {
				_ = store.Close()
				return nil, fmt.Errorf("apply migrations: %w", err)
			}
		}
		deps.postgresStore = store
		deps.Store = store
		deps.OutboxRepo = postgres.NewOutboxRepository(store)
		deps.Idempotency = postgres.NewIdempotencyRepository(store)
		logger.Info("postgres storage initialized")
	case StorageDriverMemory, "":
		store := memory.NewStore()
		store.SeedProducts(demoCatalog())
		deps.Store = store
		deps.OutboxRepo = store.OutboxRepository()
		deps.Idempotency = memory.NewIdempotencyRepository()
		logger.Warn("using in-memory storage with demo catalog, data will not survive restart")
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
	}

	// Redis перекрывает дефолтный idempotency-репозиторий выбранного драйвера.
	if cfg.RedisAddr != "" {
		client := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			logger.WithError(err).Warn("redis unavailable, falling back to storage-backed idempotency")
			_ = client.Close()
		} else {
			deps.redisClient = client
			deps.Idempotency = redisstore.NewIdempotencyRepository(client)
			logger.WithField("addr", cfg.RedisAddr).Info("redis idempotency storage initialized")
		}
	}

	verifier, err := buildVerifier(cfg.AuthTokens, logger)
	if err != nil {
		deps.Close()
		return nil, err
	}
	deps.Verifier = verifier

	return deps, nil
}

// Close освобождает соединения с внешними хранилищами.
func (d *Dependencies) Close() {
	if d.redisClient != nil {
		if err := d.redisClient.Close(); err != nil {
			d.Logger.WithError(err).Warn("failed to close redis client")
		}
	}
	if d.postgresStore != nil {
		if err := d.postgresStore.Close(); err != nil {
			d.Logger.WithError(err).Warn("failed to close postgres store")
		}
	}
}

func buildVerifier(tokens string, logger *log.Entry) (auth.Verifier, error) {
	if tokens == "" {
		logger.Warn("SHOP_AUTH_TOKENS is empty, using demo token demo-token -> demo-user")
		tokens = "demo-token:demo-user"
	}
	tokenMap, err := auth.ParseTokenMap(tokens)
	if err != nil {
		return nil, fmt.Errorf("parse auth tokens: %w", err)
	}
	return auth.NewStaticVerifier(tokenMap), nil
}

func demoCatalog() []domain.Product {
	return []domain.Product{
		{ID: "laptop-15", Name: "Laptop 15\"", PriceMinor: 129_990, Stock: 25},
		{ID: "mouse-wireless", Name: "Wireless Mouse", PriceMinor: 2_490, Stock: 200},
		{ID: "keyboard-mech", Name: "Mechanical Keyboard", PriceMinor: 8_990, Stock: 80},
		{ID: "monitor-27", Name: "Monitor 27\"", PriceMinor: 32_490, Stock: 40},
	}
}
