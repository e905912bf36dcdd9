package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dhcgn/spam-report/config"
	"github.com/dhcgn/spam-report/credential"
)

// openKeyring is replaced in tests.
var openKeyring = credential.Open

func newCredentialsCommand() *cobra.Command {
	credentialsCmd := &cobra.Command{
		Use:   "credentials",
		Short: "Manage the IMAP password in the OS keyring",
	}

	setCmd := &cobra.Command{
		Use:   "set",
		Short: "Store the password of --imap-user at --imap-host, read from stdin",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cmd, config.ModeCredentials)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "IMAP password for %s: ", cfg.IMAPUser)
			password, err := readPassword(cmd.InOrStdin())
			fmt.Fprintln(cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			store, err := openKeyring()
			if err != nil {
				return err
			}
			if err := store.Set(credential.Key(cfg.IMAPUser, cfg.IMAPHost), password); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "stored password for %s at %s\n", cfg.IMAPUser, cfg.IMAPHost)
			return nil
		},
	}

	deleteCmd := &cobra.Command{
		Use:   "delete",
		Short: "Remove the stored password of --imap-user at --imap-host",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cmd, config.ModeCredentials)
			if err != nil {
				return err
			}
			store, err := openKeyring()
			if err != nil {
				return err
			}
			if err := store.Delete(credential.Key(cfg.IMAPUser, cfg.IMAPHost)); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted password for %s at %s\n", cfg.IMAPUser, cfg.IMAPHost)
			return nil
		},
	}

	credentialsCmd.AddCommand(setCmd, deleteCmd)
	return credentialsCmd
}

// readPassword returns the first line of r without its line ending.
func readPassword(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading password: %w", err)
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return "", fmt.Errorf("empty password")
	}
	return password, nil
}
