// Package main is the entry point for the geftools command.
package main

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/atlasmap-sc/geftools/internal/config"
	"github.com/atlasmap-sc/geftools/internal/logging"
)

var (
	configPath string
	logLevel   string
	logFormat  string

	// cfg is loaded before any subcommand runs.
	cfg *config.Config
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "geftools",
		Short:         "Convert GEM spatial expression files to bGEF stores and serve them",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if cfg, err = config.Load(configPath); err != nil {
				return err
			}
			if cmd.Flags().Changed("log-level") {
				cfg.Log.Level = logLevel
			}
			if cmd.Flags().Changed("log-format") {
				cfg.Log.Format = logFormat
			}
			return logging.Setup(cfg.Log.Level, cfg.Log.Format, os.Stderr)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&configPath, "config", "config/geftools.yaml", "Path to configuration file")
	pf.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	pf.StringVar(&logFormat, "log-format", "text", "Log format (text or json)")

	root.AddCommand(newConvertCmd(), newGenesCmd(), newRenderCmd(), newServeCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		logrus.WithError(err).Error("geftools failed")
		os.Exit(1)
	}
}
