package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/dgnsrekt/readaloud/internal/config"
	"github.com/dgnsrekt/readaloud/internal/secret"
)

var keyCmd = &cobra.Command{
	Use:   "key",
	Short: "Manage the stored API key",
	Long:  paragraph(fmt.Sprintf("\n%s the API key for the speech server. Keys are encrypted before they are stored.", keyword("Manage"))),
}

var keySetCmd = &cobra.Command{
	Use:     "set [KEY]",
	Short:   "Store an API key",
	Example: paragraph("readaloud key set\nreadaloud key set not-needed"),
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var key string
		if len(args) == 1 {
			key = args[0]
		} else {
			var err error
			if key, err = readKey(); err != nil {
				return err
			}
		}

		db, cfg, err := openState()
		if err != nil {
			return err
		}
		defer db.Close() //nolint:errcheck

		if err := cfg.SetAPIKey(cmd.Context(), strings.TrimSpace(key)); err != nil {
			return err
		}
		fmt.Println("API key saved.")
		return nil
	},
}

var keyShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show how the API key is stored",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		db, cfg, err := openState()
		if err != nil {
			return err
		}
		defer db.Close() //nolint:errcheck

		res := cfg.APIKeyStatus(cmd.Context())
		switch res.Kind {
		case secret.Found:
			if res.Plaintext == "" {
				fmt.Println(faint("No API key set."))
				return nil
			}
			fmt.Println("API key:", secret.Mask(res.Plaintext))
		case secret.MigrationNeeded:
			fmt.Println("API key:", secret.Mask(res.Plaintext), faint("(legacy format, run 'readaloud key migrate')"))
		case secret.Absent:
			fmt.Println(faint("No API key set."))
		case secret.Failed:
			return fmt.Errorf("unable to read API key: %w", res.Err)
		}
		return nil
	},
}

var keyMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Re-encrypt a key stored in the legacy format",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		db, cfg, err := openState()
		if err != nil {
			return err
		}
		defer db.Close() //nolint:errcheck

		before := cfg.APIKeyStatus(cmd.Context()).Kind
		if _, err := cfg.Load(cmd.Context()); err != nil {
			return err
		}
		if before != secret.MigrationNeeded {
			fmt.Println(faint("Nothing to migrate."))
			return nil
		}
		if cfg.APIKeyStatus(cmd.Context()).Kind != secret.Found {
			return errors.New("migration failed")
		}
		fmt.Println("API key migrated.")
		return nil
	},
}

var keyClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove the stored API key",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		db, cfg, err := openState()
		if err != nil {
			return err
		}
		defer db.Close() //nolint:errcheck

		if err := cfg.Reset(cmd.Context(), config.KeyAPIKey); err != nil {
			return err
		}
		fmt.Println("API key removed.")
		return nil
	},
}

// readKey prompts without echo on a terminal and reads a line otherwise.
func readKey() (string, error) {
	fd := int(os.Stdin.Fd()) //nolint:gosec
	if term.IsTerminal(fd) {
		fmt.Fprint(os.Stderr, "API key: ")
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("unable to read key: %w", err)
		}
		return string(b), nil
	}

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("unable to read key: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func init() {
	keyCmd.AddCommand(keySetCmd, keyShowCmd, keyMigrateCmd, keyClearCmd)
}
