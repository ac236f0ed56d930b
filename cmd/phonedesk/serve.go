package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/goatkit/phonedesk/internal/api"
	"github.com/goatkit/phonedesk/internal/auth"
	"github.com/goatkit/phonedesk/internal/config"
	"github.com/goatkit/phonedesk/internal/middleware"
	"github.com/goatkit/phonedesk/internal/report"
)

func serveCmd(env *runtimeEnv) *cobra.Command {
	var (
		rateLimit    int
		disabledJobs []string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the background scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), env, rateLimit, disabledJobs)
		},
	}
	cmd.Flags().IntVar(&rateLimit, "rate-limit", middleware.DefaultRateLimit, "Requests per hour per caller (0 disables)")
	cmd.Flags().StringSliceVar(&disabledJobs, "disable-job", nil, "Scheduler job slugs to skip")
	return cmd
}

func serve(ctx context.Context, env *runtimeEnv, rateLimit int, disabledJobs []string) error {
	cfg, logger := env.cfg, env.logger.Logger

	a, err := newApp(ctx, cfg, logger, disabledJobs...)
	if err != nil {
		return err
	}
	defer a.Close()

	config.Watch(env.viper, logger, func(next *config.Config) {
		if next.Log.Level == "" {
			return
		}
		if err := env.logger.SetLevel(next.Log.Level); err != nil {
			logger.Warn("ignoring log level change", zap.Error(err))
		}
	})

	if cfg.Auth.JWT.Secret == "" {
		logger.Warn("no jwt secret configured; issued tokens will not survive a restart")
	}
	secret, err := auth.SecretOrRandom(cfg.Auth.JWT.Secret, cfg.App.Env)
	if err != nil {
		return err
	}
	tokens, err := auth.NewJWTManager(secret, cfg.Auth.JWT.Issuer, cfg.Auth.JWT.TTL)
	if err != nil {
		return err
	}

	gin.SetMode(cfg.HTTP.Mode)
	var limiter *middleware.RateLimiter
	if rateLimit > 0 {
		limiter = middleware.NewRateLimiter(10 * time.Minute)
	}
	router := api.NewAPIRouter(api.Dependencies{
		Assets:    a.assets,
		Transfers: a.transfers,
		Inventory: a.inventory,
		Directory: a.dir,
		Exporter:  report.NewExporter(a.dir, cfg.Location()),
		Scheduler: a.scheduler,
		Tokens:    tokens,
		Limiter:   limiter,
		RateLimit: rateLimit,
		Logger:    logger,
		Ping:      a.ping,
	})
	srv := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      router.Engine(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server listening", zap.String("addr", cfg.HTTP.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		logger.Info("shutting down http server")
		return srv.Shutdown(shutdownCtx)
	})
	if limiter != nil {
		g.Go(func() error {
			limiter.Run(gctx)
			return nil
		})
	}
	if cfg.Scheduler.Enabled {
		g.Go(func() error {
			return a.scheduler.Run(gctx)
		})
	}
	return g.Wait()
}
