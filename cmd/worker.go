package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/gramveda/claim-intake/internal/dispatch"
	"github.com/gramveda/claim-intake/internal/notify"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the stage worker pool and the review SLA checker",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		dispatcher := dispatch.New(cfg, env.Store, env.Engine, env.Notifier)
		checker := notify.NewSLAChecker(env.Store, env.Notifier, cfg.Review)

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return dispatcher.Run(gctx) })
		g.Go(func() error {
			checker.Run(gctx)
			return nil
		})

		zap.L().Info("worker started")
		return g.Wait()
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
}
