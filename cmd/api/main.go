package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/leapkore-12/journeys-tribe-sub000/internal/config"
	"github.com/leapkore-12/journeys-tribe-sub000/internal/db"
	"github.com/leapkore-12/journeys-tribe-sub000/internal/events"
	"github.com/leapkore-12/journeys-tribe-sub000/internal/server"
	"github.com/leapkore-12/journeys-tribe-sub000/internal/store/memory"
	"github.com/leapkore-12/journeys-tribe-sub000/internal/store/postgres"
)

var mainDepsProvider = defaultDeps
var mainRunner = realMain

func main() {
	mainRunner(mainDepsProvider())
}

type mainDeps struct {
	loadConfig      func() config.Config
	connectPostgres func(config.Config) (*pgxpool.Pool, error)
	connectRedis    func(config.Config) *redis.Client
	migrate         func(string, *slog.Logger) error
	dialAMQP        func(url, exchange string, log *slog.Logger) (*events.AMQPPublisher, error)
	notify          func(chan<- os.Signal, ...os.Signal)
	run             func(context.Context, config.Config, *pgxpool.Pool, *redis.Client, events.Publisher, <-chan os.Signal, ListenFunc) error
}

func defaultDeps() mainDeps {
	return mainDeps{
		loadConfig:      config.Load,
		connectPostgres: db.ConnectPostgres,
		connectRedis:    db.ConnectRedis,
		migrate:         db.Migrate,
		dialAMQP:        events.DialAMQP,
		notify:          signal.Notify,
		run:             Run,
	}
}

func realMain(deps mainDeps) {
	cfg := deps.loadConfig()
	log := config.NewLogger(cfg.LogLevel, os.Stdout)
	slog.SetDefault(log)

	var pg *pgxpool.Pool
	if cfg.StoreDriver != "memory" {
		if cfg.RunMigrations {
			if err := deps.migrate(cfg.PostgresURL, log); err != nil {
				log.Error("migrations_failed", "error", err)
			}
		}
		var err error
		pg, err = deps.connectPostgres(cfg)
		if err != nil {
			log.Error("postgres_connection_failed", "error", err)
		}
	}

	rdb := deps.connectRedis(cfg)

	var extra events.Publisher
	if cfg.RabbitMQURL != "" {
		amqpPub, err := deps.dialAMQP(cfg.RabbitMQURL, events.DefaultExchange, log)
		if err != nil {
			log.Warn("amqp_unavailable", "error", err)
		} else {
			defer amqpPub.Close()
			extra = amqpPub
		}
	}

	signals := make(chan os.Signal, 1)
	deps.notify(signals, syscall.SIGINT, syscall.SIGTERM)

	if err := deps.run(context.Background(), cfg, pg, rdb, extra, signals, nil); err != nil {
		log.Error("server_exited", "error", err)
	}
}

type ListenFunc func(app *fiber.App, addr string) error

var defaultListen ListenFunc = func(app *fiber.App, addr string) error {
	return app.Listen(addr)
}

var shutdownFn = func(app *fiber.App, ctx context.Context) error {
	return app.ShutdownWithContext(ctx)
}

// Run starts the HTTP server and waits for termination signals. Without a
// postgres pool the API runs on the in-memory store.
func Run(ctx context.Context, cfg config.Config, pg *pgxpool.Pool, rdb *redis.Client, extra events.Publisher, signals <-chan os.Signal, listen ListenFunc) error {
	log := slog.Default()

	var st server.Store
	if pg != nil {
		st = postgres.New(pg)
	} else {
		if cfg.StoreDriver != "memory" {
			log.Warn("store_fallback_memory", "driver", cfg.StoreDriver)
		}
		st = memory.New()
	}

	srv := server.NewServer(cfg, st, rdb, extra, log)
	defer srv.Close()

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	go srv.Presence.RunSweeper(sweepCtx, cfg.SweepInterval)

	if listen == nil {
		listen = defaultListen
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- listen(srv.App, cfg.ServerPort)
	}()

	select {
	case <-signals:
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := shutdownFn(srv.App, shutdownCtx); err != nil {
		return err
	}
	if pg != nil {
		pg.Close()
	}
	if rdb != nil {
		_ = rdb.Close()
	}
	log.Info("server_stopped")
	return nil
}
