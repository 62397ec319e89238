// Command attachd stores, serves and compresses operation task attachments.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zynqcloud/go-attachments/internal/config"
	"github.com/zynqcloud/go-attachments/internal/logger"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configFile string

	root := &cobra.Command{
		Use:           "attachd",
		Short:         "Attachment storage service for operation tasks",
		SilenceUsage:  true,
		SilenceErrors: true,
		// Running the bare binary starts the server, as container images expect.
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), configFile)
		},
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (yaml, json or toml); ATTACHD_* env vars override it")

	root.AddCommand(
		newServeCmd(&configFile),
		newCompressCmd(&configFile),
		newResolveCmd(&configFile),
	)
	return root
}

// setup loads configuration and builds the logger every subcommand shares.
func setup(configFile string) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, nil, err
	}
	log, err := logger.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}
