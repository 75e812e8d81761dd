package main

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Maiori44/tmatebot/command"
)

var savePassword bool

var hashPasswordCmd = &cobra.Command{
	Use:   "hash-password",
	Short: "Hash a login password read from stdin",
	Long: `Reads a password from the first line of stdin and prints its bcrypt hash.
With --save the hash is written to the config file as password_hash.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil && line == "" {
			return errors.New("no password on stdin")
		}
		hash, err := command.HashPassword(strings.TrimRight(line, "\r\n"))
		if err != nil {
			return err
		}

		if !savePassword {
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		}
		cfg, err := loadSettings()
		if err != nil {
			return err
		}
		cfg.PasswordHash = hash
		if err := cfg.Save(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Password hash saved to %s\n", cfg.FilePath())
		return nil
	},
}

func init() {
	hashPasswordCmd.Flags().BoolVar(&savePassword, "save", false, "write the hash to the config file")
}
