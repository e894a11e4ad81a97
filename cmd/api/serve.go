package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/gocrave/runner-api/internal/adapters/httpapi"
	"github.com/gocrave/runner-api/internal/app/reconcile"
	"github.com/gocrave/runner-api/internal/app/runners"
	"github.com/gocrave/runner-api/internal/domain"
	"github.com/gocrave/runner-api/internal/platform/auth/jwtverifier"
	platformclock "github.com/gocrave/runner-api/internal/platform/clock"
	"github.com/gocrave/runner-api/internal/platform/config"
	"github.com/gocrave/runner-api/internal/platform/logger"
	"github.com/gocrave/runner-api/internal/platform/metrics"
)

func newServeCmd(cfg *config.Config) *cobra.Command {
	var sweep bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), *cfg, sweep)
		},
	}
	cmd.Flags().BoolVar(&sweep, "sweep", true, "run the orphan reconciliation sweep in the background")
	return cmd
}

func serve(parent context.Context, cfg config.Config, sweep bool) error {
	log := logger.Named("api")

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// AUTH_MODE=dev bypasses JWT verification and uses X-Debug-Subject.
	var authMW func(http.Handler) http.Handler
	switch cfg.Server.AuthMode {
	case "dev":
		log.Warn("dev auth mode: bearer tokens are not verified")
		authMW = httpapi.NewDevAuthMiddleware(cfg.Server.DevSubject)
	default:
		authMW = httpapi.NewAuthMiddleware(jwtverifier.New(cfg.Auth.JWT))
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.New(reg)
	if err != nil {
		return err
	}

	b, err := openBackends(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.Close()

	clk := platformclock.NewSystemClock()

	svc := runners.NewService(b.idp, b.docs, clk)
	svc.Events = b.events
	svc.Hasher = domain.NewPIIHasher(cfg.Provisioning.PIIHashKey)
	svc.TermsVersion = cfg.Provisioning.TermsVersion
	svc.Metrics = m

	handler := httpapi.NewRouter(httpapi.NewServer(svc), httpapi.RouterOptions{
		AuthMiddleware: authMW,
		Metrics:        m,
		Logger:         logger.L(),
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("api listening", zap.String("addr", srv.Addr), zap.String("auth_mode", cfg.Server.AuthMode))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if sweep {
		sw := newSweeper(cfg, b, clk, m)
		g.Go(func() error {
			err := sw.RunEvery(logger.ToContext(gctx, log), cfg.Reconcile.Interval)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func newSweeper(cfg config.Config, b *backends, clk platformclock.SystemClock, m *metrics.Metrics) *reconcile.Sweeper {
	sw := reconcile.NewSweeper(b.idp, b.docs, clk)
	sw.GracePeriod = cfg.Reconcile.GracePeriod
	sw.Concurrency = cfg.Reconcile.Concurrency
	sw.Metrics = m
	return sw
}
