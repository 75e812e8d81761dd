package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Maiori44/tmatebot/cli"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check that tmate and the optional tools are installed",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadSettings()
		if err != nil {
			return err
		}
		prereqs := cli.DefaultPrerequisites(cfg.Binary)
		fmt.Fprint(cmd.OutOrStdout(), cli.FormatCheckResults(cli.CheckAll(cmd.Context(), prereqs)))
		return cli.ValidateRequired(cmd.Context(), prereqs)
	},
}
