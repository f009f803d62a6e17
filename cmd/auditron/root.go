package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/upb/auditron/config"
	"github.com/upb/auditron/internal/observability"
)

type rootOptions struct {
	logLevel string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "auditron",
		Short: "Multi-cloud compliance audit engine",
		Long: `auditron runs named compliance controls against AWS, Azure and GCP
accounts and reports SUCCESS, FAILURE or ERROR with evidence for each one.

Configuration is read from the environment and an optional .env file.

Quick start:
  auditron tools                                     # List every control
  auditron audit aws --control AWS-S3-PUBLIC-ACCESS-V1
  auditron serve                                     # Start the HTTP API`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override LOG_LEVEL (debug, info, warn, error)")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newToolsCommand(opts))
	cmd.AddCommand(newAuditCommand(opts))

	return cmd
}

// bootstrap loads configuration and builds the logger shared by every
// subcommand
func bootstrap(cmd *cobra.Command, opts *rootOptions) (*config.Config, *zap.Logger, error) {
	cfg, err := config.New(cmd.Context())
	if err != nil {
		return nil, nil, err
	}
	if opts.logLevel != "" {
		cfg.Observability.LogLevel = opts.logLevel
	}

	logger, err := observability.NewLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, logger, nil
}
