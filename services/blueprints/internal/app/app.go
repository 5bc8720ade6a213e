// Package app opens the stores and clients shared by the blueprints server and CLI.
package app

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"catalogd/pkg/bus"
	"catalogd/pkg/db"
	"catalogd/pkg/s3"
	"catalogd/services/access"
	"catalogd/services/blueprints"
	"catalogd/services/blueprints/internal/config"
)

// Env is an opened set of collaborators. Bus and Objects are nil when not configured.
type Env struct {
	Pool      *pgxpool.Pool
	ORM       *gorm.DB
	Store     *blueprints.Store
	Catalog   *blueprints.Catalog
	Access    *access.Service
	Bus       *bus.Bus
	Objects   *s3.Client
	Publisher *blueprints.Publisher
}

// Options selects what Open does beyond connecting to the database.
type Options struct {
	Migrate bool
	Logger  zerolog.Logger
}

// NewLogger returns a zerolog logger at the configured level, with console output on a terminal.
func NewLogger(cfg config.Config) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	lvl, err := cfg.Level()
	if err != nil {
		lvl = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if fi, err := os.Stderr.Stat(); err == nil && fi.Mode()&os.ModeCharDevice != 0 {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		logger = zerolog.New(os.Stderr)
	}
	return logger.Level(lvl).With().Timestamp().Logger()
}

// Open connects to every configured backend. Callers must Close the returned Env.
func Open(ctx context.Context, cfg config.Config, opts Options) (_ *Env, err error) {
	env := &Env{}
	defer func() {
		if err != nil {
			env.Close()
		}
	}()

	if env.Pool, err = db.Open(ctx, cfg.DBDSN); err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if opts.Migrate {
		if err = db.Migrate(ctx, env.Pool); err != nil {
			return nil, fmt.Errorf("migrate database: %w", err)
		}
	}
	if env.ORM, err = db.OpenORM(env.Pool); err != nil {
		return nil, fmt.Errorf("open orm: %w", err)
	}
	if env.Store, err = blueprints.NewStore(env.ORM); err != nil {
		return nil, err
	}
	if env.Catalog, err = blueprints.NewCatalog(env.Pool); err != nil {
		return nil, err
	}
	if env.Access, err = access.New(env.ORM); err != nil {
		return nil, err
	}

	pubOpts := blueprints.PublisherOptions{Logger: opts.Logger}
	if cfg.NATSURL != "" {
		if env.Bus, err = bus.New(cfg.NATSURL); err != nil {
			return nil, fmt.Errorf("connect nats: %w", err)
		}
		if err = env.Bus.EnsureStream(blueprints.EventStream, blueprints.PublishedSubject); err != nil {
			return nil, fmt.Errorf("ensure stream: %w", err)
		}
		pubOpts.Events = env.Bus
	}
	if cfg.S3.Enabled() {
		if env.Objects, err = s3.New(ctx, cfg.S3); err != nil {
			return nil, fmt.Errorf("init s3: %w", err)
		}
		pubOpts.Objects = env.Objects
		pubOpts.Bucket = cfg.S3.Bucket
		if pubOpts.Recipients, err = cfg.Recipients(); err != nil {
			return nil, err
		}
	}

	if env.Publisher, err = blueprints.NewPublisher(env.Store, env.Catalog, pubOpts); err != nil {
		return nil, err
	}
	return env, nil
}

// Close releases every open connection. It is safe on a partially opened Env.
func (e *Env) Close() {
	if e == nil {
		return
	}
	if e.Bus != nil {
		e.Bus.Close()
	}
	if e.Pool != nil {
		e.Pool.Close()
	}
}

// Bootstrap seeds the default roles and, when configured, the bootstrap admin user.
func (e *Env) Bootstrap(ctx context.Context, cfg config.Config, logger zerolog.Logger) error {
	if err := e.Access.SeedRoles(ctx); err != nil {
		return fmt.Errorf("seed roles: %w", err)
	}
	if cfg.BootstrapAdminUser == "" {
		return nil
	}
	if _, err := e.Access.PutUser(ctx, cfg.BootstrapAdminUser, cfg.BootstrapAdminPassword, "admin"); err != nil {
		return fmt.Errorf("bootstrap admin: %w", err)
	}
	logger.Info().Str("user", cfg.BootstrapAdminUser).Msg("bootstrap admin ensured")
	return nil
}
