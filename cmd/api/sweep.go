package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fatflowers/fanpass/internal/app"
	"github.com/fatflowers/fanpass/internal/app/service/expiry"
)

func sweepCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one expiry pass and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				scanner *expiry.Scanner
				log     *zap.SugaredLogger
			)
			a := fx.New(app.Base, fx.NopLogger, fx.Populate(&scanner, &log))
			startCtx, cancel := context.WithTimeout(cmd.Context(), app.DefaultStartTimeout)
			defer cancel()
			if err := a.Start(startCtx); err != nil {
				return fmt.Errorf("failed to start app: %w", err)
			}
			defer func() {
				stopCtx, cancel := context.WithTimeout(context.Background(), app.DefaultStopTimeout)
				defer cancel()
				_ = a.Stop(stopCtx)
			}()

			res, err := scanner.Sweep(cmd.Context())
			if err != nil {
				return err
			}
			log.Infow("expiry sweep finished", "grace", res.Grace, "expired", res.Expired,
				"lost", res.Lost, "failed", res.Failed, "checkouts_expired", res.CheckoutsExpired)
			return nil
		},
	}
}
