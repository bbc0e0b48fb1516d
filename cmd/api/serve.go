package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"github.com/fatflowers/fanpass/internal/app"
)

func serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the expiry scanner",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := fx.New(app.Module)
			startCtx, cancel := context.WithTimeout(cmd.Context(), app.DefaultStartTimeout)
			defer cancel()
			if err := a.Start(startCtx); err != nil {
				return fmt.Errorf("failed to start app: %w", err)
			}

			// fx handles SIGINT/SIGTERM
			sig := <-a.Wait()

			stopCtx, cancel2 := context.WithTimeout(context.Background(), app.DefaultStopTimeout)
			defer cancel2()
			if err := a.Stop(stopCtx); err != nil {
				return fmt.Errorf("failed to stop app: %w", err)
			}
			if sig.ExitCode != 0 {
				return fmt.Errorf("exited with code %d", sig.ExitCode)
			}
			return nil
		},
	}
}
