// tmatebot hands out short-lived tmate sessions to allow-listed chat users.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	debug      bool
)

var rootCmd = &cobra.Command{
	Use:   "tmatebot",
	Short: "Chat-triggered tmate session supervisor",
	Long: `tmatebot starts tmate sessions on request from allow-listed chat users,
streams each session's output to a live display surface and closes the
session when its deadline passes, its clients leave or someone asks.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default is the standard config location)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(serveCmd, checkCmd, hashPasswordCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
