package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/jmcleod/chorus/internal/config"
	"github.com/jmcleod/chorus/storage"
	bboltstorage "github.com/jmcleod/chorus/storage/bbolt"
	"github.com/jmcleod/chorus/storage/memory"
	mongostorage "github.com/jmcleod/chorus/storage/mongo"
	"github.com/jmcleod/chorus/storage/postgres"
	redisstorage "github.com/jmcleod/chorus/storage/redis"
)

// backend is the opened credential and session stores plus what is needed
// to shut them down.
type backend struct {
	users    storage.CredentialStore
	sessions storage.SessionStore
	closers  []func(context.Context) error
}

// openBackend connects the stores selected by cfg.
func openBackend(ctx context.Context, cfg *config.Config, logger *slog.Logger) (b *backend, err error) {
	b = &backend{}
	defer func() {
		if err != nil {
			b.close(context.Background()) //nolint:errcheck
		}
	}()

	switch cfg.Storage.Driver {
	case config.DriverMemory:
		s := memory.NewStore()
		b.users, b.sessions = s, s
		logger.Warn("using in-memory storage; accounts are lost on restart")

	case config.DriverBolt:
		if dir := filepath.Dir(cfg.Storage.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return b, fmt.Errorf("creating data directory: %w", err)
			}
		}
		s, err := bboltstorage.NewStoreFromFile(cfg.Storage.Path, nil)
		if err != nil {
			return b, fmt.Errorf("opening bbolt store: %w", err)
		}
		b.users, b.sessions = s, s
		b.closers = append(b.closers, func(context.Context) error { return s.Close() })

	case config.DriverMongo:
		s, err := mongostorage.Connect(ctx, cfg.Storage.MongoURI, cfg.Storage.MongoDatabase)
		if err != nil {
			return b, fmt.Errorf("connecting to mongodb: %w", err)
		}
		b.users, b.sessions = s, s
		b.closers = append(b.closers, s.Close)

	case config.DriverPostgres:
		s, err := postgres.NewStoreFromDSN(ctx, cfg.Storage.PostgresDSN)
		if err != nil {
			return b, fmt.Errorf("connecting to postgres: %w", err)
		}
		b.users, b.sessions = s, s
		b.closers = append(b.closers, func(context.Context) error { return s.Close() })

	default:
		return b, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}

	if cfg.Sessions.Driver == config.DriverRedis {
		s, err := redisstorage.Dial(ctx, cfg.Sessions.RedisAddr, cfg.Sessions.RedisPassword, cfg.Sessions.RedisDB,
			redisstorage.WithKeyPrefix(cfg.Sessions.RedisPrefix))
		if err != nil {
			return b, fmt.Errorf("connecting to redis: %w", err)
		}
		b.sessions = s
		b.closers = append(b.closers, func(context.Context) error { return s.Close() })
	}

	logger.Info("storage ready", "driver", cfg.Storage.Driver, "sessions", cfg.SessionDriver())
	return b, nil
}

// expirer returns the session store's bulk eviction hook, or nil when the
// backend expires sessions by itself.
func (b *backend) expirer() storage.Expirer {
	e, _ := b.sessions.(storage.Expirer)
	return e
}

// close releases everything in reverse order of opening.
func (b *backend) close(ctx context.Context) error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		errs = append(errs, b.closers[i](ctx))
	}
	b.closers = nil
	return errors.Join(errs...)
}
