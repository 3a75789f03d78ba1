package main

import (
	"bufio"
	"fmt"
	"strings"

	"cdnbox/internal/security"

	"github.com/spf13/cobra"
)

var hashCmd = &cobra.Command{
	Use:   "hash [PASSWORD]",
	Short: "Print the password_hash value for a password",
	Long: `Print the SHA-256 hex digest of a password, the value expected in
password_hash. The login page computes the same digest in the browser.

Without an argument the password is read from the first line of stdin,
which keeps it out of shell history.

Example:
  echo -n 'hunter2' | cdnbox hash`,
	Args: cobra.MaximumNArgs(1),
	RunE: runHash,
}

func runHash(cmd *cobra.Command, args []string) error {
	var password string
	if len(args) == 1 {
		password = args[0]
	} else {
		line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil && line == "" {
			return fmt.Errorf("failed to read password from stdin: %w", err)
		}
		password = strings.TrimRight(line, "\r\n")
	}

	if password == "" {
		return fmt.Errorf("password must not be empty")
	}

	fmt.Fprintln(cmd.OutOrStdout(), security.HashPassword(password))
	return nil
}
