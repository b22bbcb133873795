package server

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sakif/snippetvault/internal/changefeed"
	"github.com/sakif/snippetvault/internal/config"
	"github.com/sakif/snippetvault/internal/docstore"
	"github.com/sakif/snippetvault/internal/docstore/mongostore"
	"github.com/sakif/snippetvault/internal/repository"
	"github.com/sakif/snippetvault/internal/repository/memory"
	sqliteRepo "github.com/sakif/snippetvault/internal/repository/sqlite"
	"github.com/sakif/snippetvault/internal/service"
)

// backend is the storage a server runs on, picked by STORE_BACKEND:
//
//	sqlite → sqlite.DB for snippets and users, docstore + change feed on top
//	memory → memory.Repo, same wiring, nothing survives a restart
//	mongo  → mongostore for snippets (change streams), sqlite for users
type backend struct {
	snippets service.Collection
	users    repository.UserRepository
	ready    func(ctx context.Context) error
	closers  []func(ctx context.Context) error
}

// close runs the closers newest first, the reverse of the order things were
// opened in.
func (b *backend) close(ctx context.Context) {
	for i := len(b.closers) - 1; i >= 0; i-- {
		_ = b.closers[i](ctx)
	}
}

// openBackend connects the configured storage and wraps it so every write
// reaches the change feed.
//
// FEED vs PUBLISHER:
// feed is this instance's broker; subscriptions are always served from it.
// publisher is where writes announce themselves: the broker itself, or the
// Redis relay when several instances share one database. The relay publishes
// locally and to Redis, and re-publishes what other instances send.
//
// ON FAILURE:
// Whatever was opened before the failing step is closed again, so a
// half-built backend never leaks a database handle.
func openBackend(ctx context.Context, cfg config.Config, feed *changefeed.Broker, publisher changefeed.Publisher, logger *slog.Logger) (*backend, error) {
	b := &backend{}

	switch cfg.StoreBackend {
	case config.BackendMemory:
		repo := memory.New()
		b.snippets = docstore.New(repo, feed, logger, docstore.WithPublisher(publisher))
		b.users = repo
		b.ready = func(context.Context) error { return nil }

	case config.BackendSQLite:
		db, err := openSQLite(cfg.DBPath)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, func(context.Context) error { return db.Close() })
		b.snippets = docstore.New(db, feed, logger, docstore.WithPublisher(publisher))
		b.users = db
		b.ready = func(context.Context) error { return db.Ping() }

	case config.BackendMongo:
		// users are few and only read at login; they stay in SQLite
		db, err := openSQLite(cfg.DBPath)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, func(context.Context) error { return db.Close() })

		client, err := mongostore.Connect(ctx, cfg.MongoURI)
		if err != nil {
			b.close(ctx)
			return nil, fmt.Errorf("connecting to MongoDB: %w", err)
		}
		b.closers = append(b.closers, client.Disconnect)

		coll := mongostore.New(client.Database(cfg.MongoDatabase), logger)
		if err := coll.EnsureIndexes(ctx); err != nil {
			b.close(ctx)
			return nil, fmt.Errorf("creating MongoDB indexes: %w", err)
		}
		b.snippets = coll
		b.users = db
		b.ready = func(ctx context.Context) error {
			if err := db.Ping(); err != nil {
				return err
			}
			return client.Ping(ctx, nil)
		}

	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}

	logger.Info("store backend ready", slog.String("backend", cfg.StoreBackend))
	return b, nil
}

// openSQLite creates the data directory before opening the database.
func openSQLite(path string) (*sqliteRepo.DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}
	db, err := sqliteRepo.New(path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return db, nil
}

// connectRedis parses REDIS_URL and checks the server answers.
func connectRedis(ctx context.Context, rawURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parsing REDIS_URL: %w", err)
	}
	// the relay holds one subscriber connection and publishes on the pool
	opts.PoolSize = 10
	opts.MinIdleConns = 2
	opts.MaxRetries = 3
	opts.DialTimeout = 5 * time.Second

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to Redis: %w", err)
	}
	return client, nil
}
