package main

// @title           FanPass Billing API
// @version         1.0
// @description     Entitlement and billing reconciliation service.

// @host      localhost:8888
// @BasePath  /

import (
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	if err := rootCommand().Execute(); err != nil {
		zap.NewExample().Sugar().Errorf("fanpass: %v", err)
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	serve := serveCommand()
	root := &cobra.Command{
		Use:           "fanpass",
		Short:         "Entitlement and billing reconciliation service",
		SilenceUsage:  true,
		SilenceErrors: true,
		// serve is the default when no subcommand is given
		RunE: serve.RunE,
	}
	root.AddCommand(serve, sweepCommand())
	return root
}
