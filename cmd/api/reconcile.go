package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	platformclock "github.com/gocrave/runner-api/internal/platform/clock"
	"github.com/gocrave/runner-api/internal/platform/config"
	"github.com/gocrave/runner-api/internal/platform/logger"
)

func newReconcileCmd(cfg *config.Config) *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Finalize or delete identities left pending by interrupted provisioning",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runReconcile(cmd.Context(), *cfg, once)
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "sweep once and exit instead of looping")
	return cmd
}

func runReconcile(parent context.Context, cfg config.Config, once bool) error {
	log := logger.Named("reconcile")

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = logger.ToContext(ctx, log)

	b, err := openBackends(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.Close()

	sw := newSweeper(cfg, b, platformclock.NewSystemClock(), nil)
	if !once {
		err := sw.RunEvery(ctx, cfg.Reconcile.Interval)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}

	rep, err := sw.Run(ctx)
	log.Info("sweep complete",
		zap.Int("scanned", rep.Scanned),
		zap.Int("pending", rep.Pending),
		zap.Int("finalized", rep.Finalized),
		zap.Int("deleted", rep.Deleted),
		zap.Int("skipped", rep.Skipped),
		zap.Int("failed", rep.Failed),
	)
	return err
}
