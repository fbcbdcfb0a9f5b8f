package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check the connection to the speech server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		settings, err := loadSettings(cmd.Context())
		if err != nil {
			return err
		}

		res := newClient().Check(cmd.Context(), settings.SynthOptions())
		if !res.OK {
			fmt.Println(failure("✗ " + res.Message))
			return errors.New("server check failed")
		}

		fmt.Printf("%s %s %s\n", keyword("✓"), settings.Endpoint, faint(fmt.Sprintf("(%s, %s)", res.Message, res.Latency.Round(time.Millisecond))))
		return nil
	},
}
