package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/iliyamo/habit-tracker/internal/config"
	"github.com/iliyamo/habit-tracker/internal/database"
	"github.com/iliyamo/habit-tracker/internal/handler"
	"github.com/iliyamo/habit-tracker/internal/kv"
	"github.com/iliyamo/habit-tracker/internal/middleware"
	"github.com/iliyamo/habit-tracker/internal/repository"
	"github.com/iliyamo/habit-tracker/internal/router"
	"github.com/iliyamo/habit-tracker/internal/service"
	"github.com/iliyamo/habit-tracker/internal/utils"
)

const shutdownTimeout = 10 * time.Second

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the REST API",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return oops.Code("CONFIG_INVALID").Wrap(err)
	}
	logger, err := setupLogging(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return oops.Code("CONFIG_INVALID").Wrap(err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	kv.RegisterMetrics(reg)

	store, rdb, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()
	if rdb != nil && cfg.Backend == config.BackendMySQL {
		defer func() { _ = rdb.Close() }()
	}

	secret := []byte(cfg.JWTSecret)
	if len(secret) == 0 {
		if secret, err = utils.NewSigningSecret(); err != nil {
			return oops.Code("SECRET_GENERATION_FAILED").Wrap(err)
		}
		slog.Warn("JWT_SECRET is not set; using a random secret, tokens will not survive a restart")
	}
	tokens, err := utils.NewTokenService(secret, cfg.TokenTTL)
	if err != nil {
		return oops.Code("CONFIG_INVALID").Wrap(err)
	}

	var events service.EventPublisher = service.NopPublisher{}
	if cfg.AMQPURL != "" {
		amqpPub := service.NewAMQPPublisher(cfg.AMQPURL)
		async := service.NewAsyncPublisher(amqpPub, 256, 5*time.Second)
		defer func() {
			_ = async.Close()
			_ = amqpPub.Close()
		}()
		events = async
	}

	accounts := repository.NewAccountRepo(store, utils.NewPasswordHasher(cfg.BcryptCost, cfg.PasswordPepper))
	habits := repository.NewHabitRepo(store)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomw.Recover())
	e.Use(middleware.RequestLogger(logger))
	e.Use(middleware.NewHTTPMetrics(reg).Middleware())

	router.RegisterRoutes(e, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	router.RegisterAuth(e,
		handler.NewAuthHandler(accounts, tokens, events, cfg.RequestTimeout),
		tokens,
		middleware.NewTokenBucket(cfg.RateLimit, rdb))
	router.RegisterHabits(e, handler.NewHabitHandler(habits, events, cfg.Location, cfg.RequestTimeout), tokens)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := ":" + cfg.Port
	errCh := make(chan error, 1)
	go func() { errCh <- e.Start(addr) }()
	slog.Info("listening", "addr", addr, "env", cfg.Env, "backend", cfg.Backend)

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return oops.Code("SERVER_FAILED").Wrap(err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		slog.Warn("error during shutdown", "error", err)
	}
	return nil
}

// openStore connects the configured kv backend.  The Redis client, when
// one is reachable, is also returned for the rate limiter; with the MySQL
// backend Redis is optional and its absence only disables rate limiting.
func openStore(cfg config.Config) (kv.Store, *redis.Client, error) {
	opts := []kv.Option{kv.WithMaxRetries(uint64(cfg.KVTxRetries))}

	switch cfg.Backend {
	case config.BackendMySQL:
		dsn := database.DSN(cfg.DB.User, cfg.DB.Pass, cfg.DB.Host, cfg.DB.Port, cfg.DB.Name)
		if err := database.Migrate(dsn); err != nil {
			return nil, nil, err
		}
		db, err := database.Open(dsn)
		if err != nil {
			return nil, nil, oops.Code("DB_CONNECT_FAILED").With("host", cfg.DB.Host).Wrap(err)
		}
		rdb, err := config.NewRedisClient(cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, rate limiting disabled", "addr", cfg.Redis.Addr, "error", err)
			rdb = nil
		}
		return kv.NewMySQLStore(db, opts...), rdb, nil
	default:
		rdb, err := config.NewRedisClient(cfg.Redis)
		if err != nil {
			return nil, nil, oops.Code("REDIS_CONNECT_FAILED").With("addr", cfg.Redis.Addr).Wrap(err)
		}
		return kv.NewRedisStore(rdb, opts...), rdb, nil
	}
}
