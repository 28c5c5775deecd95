package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/MrEthical07/accountcore"
	"github.com/MrEthical07/accountcore/internal/appconfig"
	"github.com/MrEthical07/accountcore/mailer"
	"github.com/MrEthical07/accountcore/store"
	"github.com/MrEthical07/accountcore/store/memory"
	"github.com/MrEthical07/accountcore/store/postgres"
	"github.com/MrEthical07/accountcore/store/redisstore"
)

// app owns the engine and the connections behind it.
type app struct {
	cfg    *appconfig.Config
	log    *zap.Logger
	engine *accountcore.Engine
	pg     *postgres.Store
	rdb    redis.UniversalClient
}

type appOptions struct {
	migrate bool
	metrics bool
}

func openApp(ctx context.Context, cfg *appconfig.Config, log *zap.Logger, opts appOptions) (*app, error) {
	a := &app{cfg: cfg, log: log}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	var primary store.Store
	switch cfg.Storage.Driver {
	case "postgres":
		pg, err := postgres.Open(ctx, cfg.Storage.DSN, cfg.Storage.MaxConns)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		a.pg = pg
		if opts.migrate {
			if err := pg.Migrate(ctx); err != nil {
				return nil, fmt.Errorf("migrate: %w", err)
			}
		}
		primary = pg
	default:
		log.Warn("using in-memory storage; data is lost on restart")
		primary = memory.New()
	}

	if cfg.Redis.Addr != "" {
		a.rdb = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    []string{cfg.Redis.Addr},
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := a.rdb.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("redis: %w", err)
		}
	}

	st := primary
	if cfg.Redis.Sessions {
		rs := redisstore.New(a.rdb, redisstore.Options{Prefix: cfg.Redis.Prefix})
		st = store.Composite{
			UserStore:     primary,
			TokenStore:    rs,
			SessionStore:  rs,
			OAuthStore:    primary,
			ActivityStore: primary,
		}
	}

	engineCfg, err := cfg.Engine()
	if err != nil {
		return nil, err
	}
	m, err := newMailer(cfg, log)
	if err != nil {
		return nil, err
	}

	b := accountcore.New().
		WithConfig(engineCfg).
		WithStore(st).
		WithLogger(log).
		WithMailer(m).
		WithMetricsEnabled(opts.metrics).
		WithLatencyHistograms(opts.metrics)
	if a.rdb != nil {
		b = b.WithRedis(a.rdb)
	}
	engine, err := b.Build()
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	a.engine = engine
	ok = true
	return a, nil
}

func newMailer(cfg *appconfig.Config, log *zap.Logger) (*mailer.Mailer, error) {
	var sender mailer.Sender
	if cfg.SMTP.Host != "" {
		sender = mailer.NewSMTPSender(mailer.SMTPConfig{
			Host:               cfg.SMTP.Host,
			Port:               cfg.SMTP.Port,
			Username:           cfg.SMTP.Username,
			Password:           cfg.SMTP.Password,
			From:               cfg.SMTP.From,
			TLSMode:            cfg.SMTP.TLS,
			InsecureSkipVerify: cfg.SMTP.InsecureSkipVerify,
		}, log)
	} else {
		log.Warn("smtp.host not set; outgoing mail is only logged")
		sender = mailer.NewLogSender(log)
	}
	return mailer.New(mailer.Config{
		BaseURL:   cfg.Server.PublicURL,
		ResetTTL:  cfg.Security.ResetTTL,
		VerifyTTL: cfg.Security.VerifyTTL,
		AppName:   "Account",
	}, sender)
}

// Close releases the engine first so queued audit events reach the stores.
func (a *app) Close() {
	if a.engine != nil {
		a.engine.Close()
	}
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
			a.log.Warn("redis close", zap.Error(err))
		}
	}
	if a.pg != nil {
		a.pg.Close()
	}
}
