package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"launchledger/internal/config"
	"launchledger/internal/counter"
	"launchledger/internal/db"
	"launchledger/internal/engine"
	"launchledger/internal/events"
	"launchledger/internal/migrate"
	"launchledger/internal/notify"
	"launchledger/internal/repo"
	"launchledger/internal/scheduler"
	"launchledger/internal/server"
)

// Context is the wired service: both stores, the engine and, when cron is
// enabled, the scheduler.
type Context struct {
	Config    *config.Config
	DB        *sql.DB
	Counter   *counter.Store
	Engine    engine.Engine
	Scheduler *scheduler.Scheduler
	Log       *logrus.Logger
}

// NewLogger builds the root logger from the logging section.
func NewLogger(level, format string) (*logrus.Logger, error) {
	log := logrus.New()
	if level != "" {
		lvl, err := logrus.ParseLevel(level)
		if err != nil {
			return nil, fmt.Errorf("logging.level: %w", err)
		}
		log.SetLevel(lvl)
	}
	switch strings.ToLower(format) {
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	default:
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return log, nil
}

// Open connects both stores, applies migrations and builds the engine.
func Open(ctx context.Context, cfg *config.Config, log *logrus.Logger) (*Context, error) {
	if cfg == nil {
		return nil, errors.New("config required")
	}
	if log == nil {
		var err error
		if log, err = NewLogger(cfg.Logging.Level, cfg.Logging.Format); err != nil {
			return nil, err
		}
	}
	conn, err := db.Open(db.Config{
		Path:            cfg.Database.Path,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	applied, err := migrate.Migrate(ctx, conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if len(applied) > 0 {
		log.WithField("versions", applied).Info("migrations applied")
	}
	store, err := counter.Dial(ctx, cfg.Redis.URL, cfg.Redis.KeyPrefix)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	c := &Context{Config: cfg, DB: conn, Counter: store, Log: log}
	r := repo.Repo{DB: conn}
	audit := events.Writer{Store: r, Log: log.WithField("component", "audit")}
	e := engine.New(r, store, engine.Options{
		WindowTTL:       cfg.Launch.WindowTTL,
		FlushLockTTL:    cfg.Launch.FlushLockTTL,
		MarkerScanBatch: cfg.Launch.MarkerScanBatch,
		RevalidatePath:  cfg.Launch.RevalidatePath,
	})
	e.Log = log
	e.Audit = audit
	if cfg.Revalidation.Endpoint != "" {
		e.Notifier = notify.NewRevalidator(cfg.Revalidation.Endpoint, cfg.Revalidation.Timeout, audit, log)
	}
	if cfg.Cron.Enabled {
		sched, err := scheduler.New(cfg.Cron.Schedule, scheduler.CycleFunc(func(ctx context.Context, today string) engine.CycleResult {
			return c.Engine.RunDailyCycle(ctx, today)
		}), log)
		if err != nil {
			c.Close()
			return nil, err
		}
		e.NextRun = sched.Next
		c.Scheduler = sched
	}
	c.Engine = e
	return c, nil
}

// ServerConfig maps the loaded config onto the HTTP layer.
func (c *Context) ServerConfig() server.Config {
	cfg := c.Config
	return server.Config{
		Engine:   c.Engine,
		BasePath: cfg.Server.BasePath,
		Auth: server.AuthConfig{
			JWTSecret:        cfg.Auth.JWTSecret,
			VoterTokenSecret: cfg.Auth.VoterTokenSecret,
			CronSecret:       cfg.Cron.Secret,
		},
		CORSOrigins: cfg.Server.CORSOrigins,
		RateLimit: server.RateLimitConfig{
			VotesPerSecond: cfg.RateLimit.VotesPerSecond,
			Burst:          cfg.RateLimit.Burst,
		},
		Log: c.Log,
	}
}

func (c *Context) Close() error {
	var errs []error
	if c.Counter != nil {
		errs = append(errs, c.Counter.Close())
	}
	if c.DB != nil {
		errs = append(errs, c.DB.Close())
	}
	return errors.Join(errs...)
}
