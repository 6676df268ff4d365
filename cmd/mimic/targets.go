package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kroma-labs/mimic/httpclient"
)

var targetsCmd = &cobra.Command{
	Use:   "targets",
	Short: "List impersonation targets",
	Long: `List every name accepted by --impersonate. Family names such as "chrome"
select the newest known version of that browser.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		for _, t := range httpclient.Targets() {
			fmt.Fprintln(cmd.OutOrStdout(), t)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(targetsCmd)
}
