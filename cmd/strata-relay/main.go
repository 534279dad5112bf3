// Command strata-relay delivers the eligible messages of an outbox table to
// RabbitMQ.
//
//	strata-relay -config strata.yaml
//
// The log level follows edits of the configuration file while the relay
// runs. Every other setting is read once at startup.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	_ "modernc.org/sqlite"

	"github.com/syssam/strata/config"
	"github.com/syssam/strata/dialect"
	mongodialect "github.com/syssam/strata/dialect/mongo"
	pgxdialect "github.com/syssam/strata/dialect/pgx"
	"github.com/syssam/strata/dialect/sql"
	"github.com/syssam/strata/log"
	"github.com/syssam/strata/outbox"
	amqppub "github.com/syssam/strata/outbox/amqp"
	"github.com/syssam/strata/outbox/redisdedupe"
)

func main() {
	path := flag.String("config", os.Getenv("STRATA_CONFIG"), "path of the YAML configuration file")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, *path); err != nil {
		fmt.Fprintln(os.Stderr, "strata-relay:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	logger, err := log.NewZap(log.ZapConfig{
		Level:       cfg.LogLevel(),
		Development: cfg.Log.Development,
		Name:        "strata-relay",
	})
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync(context.Background())

	if path != "" {
		go func() {
			err := config.Watch(ctx, path, func(c *config.Config) {
				logger.SetLevel(c.LogLevel())
				logger.Log(ctx, log.LevelInfo, "configuration reloaded", log.String("log_level", c.LogLevel().String()))
			}, config.OnError(func(err error) {
				logger.Log(ctx, log.LevelWarn, "configuration reload failed", log.Err(err))
			}))
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Log(ctx, log.LevelError, "configuration watch stopped", log.Err(err))
			}
		}()
	}

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	publisher, closePublisher, err := openPublisher(cfg)
	if err != nil {
		return err
	}
	defer closePublisher()

	relay, err := outbox.NewRelay(store, publisher,
		outbox.WithConfig(cfg.Relay()),
		outbox.WithLogger(logger),
		outbox.WithTracerProvider(otel.GetTracerProvider()),
	)
	if err != nil {
		return err
	}
	logger.Log(ctx, log.LevelInfo, "starting relay",
		log.String("driver", cfg.Database.Driver), log.String("table", cfg.Outbox.Table),
		log.Bool("dedupe", cfg.Redis.Addr != ""))
	return relay.Run(ctx)
}

// openStore opens the configured database and returns the outbox store on
// it, creating the table or indexes when configured to.
func openStore(ctx context.Context, cfg *config.Config) (outbox.Store, func(), error) {
	db := cfg.Database
	table := outbox.WithTable(cfg.Outbox.Table)
	var (
		adapter dialect.Adapter
		closer  func()
	)
	switch db.Driver {
	case config.DriverMongo:
		a, client, err := mongodialect.Open(ctx, db.DSN, db.Name)
		if err != nil {
			return nil, nil, err
		}
		closer = func() { _ = client.Disconnect(context.Background()) }
		s, err := outbox.NewMongoStore(a, table)
		if err != nil {
			closer()
			return nil, nil, err
		}
		if cfg.Outbox.CreateTable {
			if err := s.CreateIndexes(ctx); err != nil {
				closer()
				return nil, nil, err
			}
		}
		return s, closer, nil
	case config.DriverPgx:
		a, err := pgxdialect.Open(ctx, db.DSN, pgxdialect.WithSchema(db.Schema))
		if err != nil {
			return nil, nil, err
		}
		adapter, closer = a, a.Close
	default:
		a, err := sql.Open(db.Driver, db.DSN, sql.WithSchema(db.Schema))
		if err != nil {
			return nil, nil, err
		}
		adapter, closer = a, func() { _ = a.Close() }
	}
	s, err := outbox.NewSQLStore(adapter, table)
	if err != nil {
		closer()
		return nil, nil, err
	}
	if cfg.Outbox.CreateTable {
		if err := s.CreateTable(ctx); err != nil {
			closer()
			return nil, nil, err
		}
	}
	return s, closer, nil
}

// openPublisher dials the broker. With redis configured, messages already
// published are skipped on redelivery.
func openPublisher(cfg *config.Config) (outbox.Publisher, func(), error) {
	if cfg.AMQP.URL == "" {
		return nil, nil, errors.New("amqp.url is required")
	}
	p, conn, err := amqppub.Dial(cfg.AMQP.URL, amqppub.WithExchange(cfg.AMQP.Exchange))
	if err != nil {
		return nil, nil, err
	}
	closer := func() { _ = conn.Close() }
	if cfg.Redis.Addr == "" {
		return p, closer, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	guard := redisdedupe.New(client, redisdedupe.WithPrefix(cfg.Redis.Prefix), redisdedupe.WithTTL(cfg.Redis.TTL))
	return redisdedupe.NewPublisher(guard, p), func() {
		_ = client.Close()
		closer()
	}, nil
}
