package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/upb/auditron/app"
	"github.com/upb/auditron/models"
)

// errNotCompliant is returned when at least one control did not succeed
var errNotCompliant = errors.New("audit reported non-success results")

func newAuditCommand(root *rootOptions) *cobra.Command {
	var (
		controlIDs []string
		userID     string
		output     string
		noColor    bool
	)

	cmd := &cobra.Command{
		Use:   "audit <provider>",
		Short: "Run controls against one provider",
		Long: `Run the given controls against aws, azure or gcp in-process and print one
result per control, in the order given.

Credentials come from the credential store when --user-id is set and a
database is configured, otherwise from the environment.

The exit status is 0 when every control succeeded, 2 when any control
reported FAILURE or ERROR, and 1 on usage or configuration errors.`,
		Example: `  auditron audit aws --control AWS-S3-PUBLIC-ACCESS-V1 --control AWS-IAM-ROOT-MFA-V1
  auditron audit azure -c AZURE-SQL-TDE-V1 --user-id 8f5b7c2e-1111-4b7e-9d7a-2f1c3e4d5a6b -o yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			provider, ok := models.ParseProvider(args[0])
			if !ok {
				return fmt.Errorf("unsupported provider %q (want aws, azure or gcp)", args[0])
			}
			if len(controlIDs) == 0 {
				return errors.New("at least one --control is required")
			}
			if err := checkFormat(output, formatText, formatJSON, formatYAML); err != nil {
				return err
			}
			if noColor {
				color.NoColor = true
			}

			cfg, logger, err := bootstrap(cmd, root)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			if len(controlIDs) > cfg.Audit.MaxControls {
				return fmt.Errorf("at most %d controls per audit", cfg.Audit.MaxControls)
			}

			ctx := cmd.Context()
			deps, err := app.NewDependencies(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer func() {
				if err := deps.Close(context.Background()); err != nil {
					logger.Warn("failed to close dependencies", zap.Error(err))
				}
			}()

			resp := deps.Dispatcher.Run(ctx, provider, controlIDs, userID)

			if output == formatText {
				err = writeAuditText(cmd.OutOrStdout(), resp)
			} else {
				err = writeStructured(cmd.OutOrStdout(), output, resp)
			}
			if err != nil {
				return err
			}

			if !resp.AllSucceeded() {
				return errNotCompliant
			}
			return nil
		},
	}

	cmd.Flags().StringArrayVarP(&controlIDs, "control", "c", nil, "control ID to run (repeatable, order preserved)")
	cmd.Flags().StringVar(&userID, "user-id", "", "look up stored credentials for this user")
	cmd.Flags().StringVarP(&output, "output", "o", formatText, "output format: text, json or yaml")
	cmd.Flags().BoolVar(&noColor, "no-color", false, "disable colored status output")

	return cmd
}
