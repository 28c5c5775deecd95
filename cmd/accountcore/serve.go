package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/MrEthical07/accountcore"
	"github.com/MrEthical07/accountcore/httpapi"
	"github.com/MrEthical07/accountcore/internal/appconfig"
	"github.com/MrEthical07/accountcore/jwt"
	promexport "github.com/MrEthical07/accountcore/metrics/export/prometheus"
	"github.com/MrEthical07/accountcore/social"
)

func newServeCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := load(flags)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, log)
		},
	}
}

func serve(ctx context.Context, cfg *appconfig.Config, log *zap.Logger) error {
	a, err := openApp(ctx, cfg, log, appOptions{migrate: cfg.Storage.Migrate, metrics: true})
	if err != nil {
		return err
	}
	defer a.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if _, err := promexport.Register(reg, a.engine); err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	providers, err := buildProviders(ctx, cfg)
	if err != nil {
		return err
	}
	assertions, err := buildAssertions(cfg)
	if err != nil {
		return err
	}

	api, err := httpapi.New(httpapi.Config{
		CookieName:        cfg.Server.CookieName,
		CookieSecure:      cfg.Server.CookieSecure,
		TrustProxyHeaders: cfg.Server.TrustProxyHeaders,
	}, httpapi.Options{
		Engine:     a.engine,
		Providers:  providers,
		States:     social.NewStateStore(cfg.Providers.StateTTL),
		Assertions: assertions,
		Metrics:    promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		Logger:     log.Named("http"),
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("http listening", zap.String("addr", srv.Addr), zap.Strings("providers", providerNames(providers)))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		log.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		runGC(gctx, a.engine, cfg.GC.Interval, log)
		return nil
	})
	return g.Wait()
}

// runGC purges expired tokens and sessions every interval until ctx ends.
func runGC(ctx context.Context, engine *accountcore.Engine, interval time.Duration, log *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res, err := engine.PurgeExpired(ctx)
			if err != nil {
				log.Warn("purge expired", zap.Error(err))
				continue
			}
			if res.Tokens > 0 || res.Sessions > 0 {
				log.Debug("purged expired records", zap.Int("tokens", res.Tokens), zap.Int("sessions", res.Sessions))
			}
		}
	}
}

func buildProviders(ctx context.Context, cfg *appconfig.Config) (*social.Registry, error) {
	var list []social.Provider
	if p := cfg.Providers.Google; p.Enabled {
		g, err := social.NewGoogle(ctx, social.Config{
			ClientID:     p.ClientID,
			ClientSecret: p.ClientSecret,
			RedirectURL:  p.RedirectURL,
			Scopes:       p.Scopes,
		})
		if err != nil {
			return nil, fmt.Errorf("google: %w", err)
		}
		list = append(list, g)
	}
	if p := cfg.Providers.Facebook; p.Enabled {
		list = append(list, social.NewFacebook(social.Config{
			ClientID:     p.ClientID,
			ClientSecret: p.ClientSecret,
			RedirectURL:  p.RedirectURL,
			Scopes:       p.Scopes,
		}))
	}
	return social.NewRegistry(list...), nil
}

func providerNames(r *social.Registry) []string {
	names := r.Names()
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = string(n)
	}
	return out
}

// buildAssertions returns nil when no signing key is configured.
func buildAssertions(cfg *appconfig.Config) (*jwt.Manager, error) {
	key, err := cfg.JWTKey()
	if err != nil || key == nil {
		return nil, err
	}
	m, err := jwt.NewManager(jwt.Config{
		TTL:           cfg.JWT.TTL,
		SigningMethod: jwt.MethodHS256,
		PrivateKey:    key,
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		Leeway:        30 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("jwt: %w", err)
	}
	return m, nil
}
