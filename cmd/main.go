package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/go-sql-driver/mysql"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"pantry-service/internal/api"
	"pantry-service/internal/auth"
	"pantry-service/internal/config"
	"pantry-service/internal/consumer"
	"pantry-service/internal/events"
	"pantry-service/internal/idempotency"
	"pantry-service/internal/repository"
	"pantry-service/internal/service"
	"pantry-service/internal/sharding"
	"pantry-service/migrations"
)

func connectDBEnv(cfg *config.Config) (*sql.DB, error) {
	// parseTime so DATETIME columns scan into time.Time
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?parseTime=true", cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)

	var db *sql.DB
	var err error
	for i := 0; i < cfg.DBConnectRetries; i++ {
		db, err = sql.Open("mysql", dsn)
		if err == nil {
			err = db.Ping()
			if err == nil {
				log.Info().Msgf("Connected to DB %s", cfg.DBName)
				return db, nil
			}
		}
		log.Warn().Err(err).Msgf("Retry %d: Failed to connect to DB %s (%s:%s)", i+1, cfg.DBName, cfg.DBHost, cfg.DBPort)
		time.Sleep(3 * time.Second)
	}
	return nil, fmt.Errorf("failed to connect to DB %s at %s:%s after retries: %v", cfg.DBName, cfg.DBHost, cfg.DBPort, err)
}

func newStore(cfg *config.Config) (repository.Store, error) {
	if cfg.StoreDriver == "memory" {
		log.Warn().Msg("Using in-memory store, data is lost on restart")
		return repository.NewMemoryStore(), nil
	}

	db, err := connectDBEnv(cfg)
	if err != nil {
		return nil, err
	}
	if err := migrations.AutoMigrate(db, 3); err != nil {
		return nil, err
	}
	return repository.NewMySQLStore(db), nil
}

func main() {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := newStore(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open store")
	}

	var (
		carts   repository.CartStore = repository.NewMemoryCartStore()
		idem    idempotency.Store    = idempotency.NewMemoryStore()
		revoked auth.RevocationList  = auth.NewMemoryRevocationList()
	)
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr: cfg.RedisAddr,
		})
		carts = repository.NewRedisCartStore(rdb, 0)
		idem = idempotency.NewRedisStore(rdb, cfg.IdempotencyTTL)
		revoked = auth.NewRedisRevocationList(rdb)
	} else {
		log.Warn().Msg("REDIS_ADDR not set, carts and sessions are kept in memory")
	}

	ledger := service.NewLedgerService(store)
	cartService := service.NewCartService(carts, store, sharding.NewKeyedMutex(cfg.LockStripes))

	var publisher service.EventPublisher
	if cfg.KafkaEnabled {
		kafkaWriter := config.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer kafkaWriter.Close()
		publisher = events.NewKafkaPublisher(kafkaWriter)

		kafkaReader := config.NewKafkaReader(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaGroupID)
		defer kafkaReader.Close()
		go consumer.NewConsumer(kafkaReader, ledger).StartKafkaConsumer(ctx)
	}

	fulfillment := service.NewFulfillmentService(ledger, cartService, publisher)
	history := service.NewHistoryService(store)
	handler := api.NewPantryHandler(ledger, cartService, fulfillment, history, idem, revoked)

	e := echo.New()

	limiterConfig := middleware.RateLimiterConfig{
		Skipper: middleware.DefaultSkipper,
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(
			middleware.RateLimiterMemoryStoreConfig{
				Rate:      rate.Limit(cfg.RateLimit),
				Burst:     cfg.RateBurst,
				ExpiresIn: 3 * time.Minute,
			}),
		IdentifierExtractor: func(context echo.Context) (string, error) {
			return context.RealIP(), nil
		},
		ErrorHandler: func(context echo.Context, err error) error {
			return context.JSON(http.StatusTooManyRequests, map[string]string{"error": "rate limit exceeded"})
		},
		DenyHandler: func(context echo.Context, identifier string, err error) error {
			return context.JSON(http.StatusTooManyRequests, map[string]string{"error": "rate limit exceeded"})
		},
	}

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.RateLimiterWithConfig(limiterConfig))

	handler.RegisterRoutes(e, []byte(cfg.JWTSecret))

	if err := serve(ctx, e, cfg.HTTPAddr); err != nil {
		log.Error().Err(err).Msg("HTTP server stopped")
	}
}

// serve runs e until ctx is cancelled or the server fails, then shuts it
// down. Returning instead of exiting lets main run its deferred closes.
func serve(ctx context.Context, e *echo.Echo, addr string) error {
	serverErr := make(chan error, 1)
	go func() {
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	var err error
	select {
	case <-ctx.Done():
	case err = <-serverErr:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if serr := e.Shutdown(shutdownCtx); serr != nil {
		log.Error().Err(serr).Msg("Error shutting down HTTP server")
	}
	return err
}
