package main

import (
	"github.com/spf13/cobra"

	"github.com/upb/auditron/app"
)

func newToolsCommand(root *rootOptions) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List the supported controls",
		Long:  `List every registered control grouped by provider, as served by GET /tools.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(output, formatText, formatJSON, formatYAML); err != nil {
				return err
			}

			cfg, logger, err := bootstrap(cmd, root)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			registry, err := app.NewRegistry(cfg, logger)
			if err != nil {
				return err
			}

			tools := registry.Tools()
			if output == formatText {
				return writeToolsText(cmd.OutOrStdout(), tools)
			}
			return writeStructured(cmd.OutOrStdout(), output, tools)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", formatJSON, "output format: text, json or yaml")

	return cmd
}
