package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dgnsrekt/readaloud/internal/config"
)

// settingNames maps command line names to persisted keys.
var settingNames = map[string]string{
	"endpoint":   config.KeyEndpoint,
	"voice":      config.KeyVoice,
	"chunk_size": config.KeyChunkSize,
	"cache_size": config.KeyCacheSize,
}

var resetSetting bool

var setCmd = &cobra.Command{
	Use:   "set NAME [VALUE]",
	Short: "Persist a setting",
	Long: paragraph(fmt.Sprintf("\n%s a setting in the local database. Stored settings take precedence over the config file. Names: %s.",
		keyword("Persist"), strings.Join(settingList(), ", "))),
	Example: paragraph("readaloud set voice bf_emma\nreadaloud set endpoint https://tts.example.com/v1/audio\nreadaloud set --reset voice"),
	Args:    cobra.RangeArgs(1, 2),
	ValidArgsFunction: func(_ *cobra.Command, args []string, _ string) ([]string, cobra.ShellCompDirective) {
		if len(args) == 0 {
			return settingList(), cobra.ShellCompDirectiveNoFileComp
		}
		return nil, cobra.ShellCompDirectiveNoFileComp
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		key, ok := settingNames[args[0]]
		if !ok {
			return fmt.Errorf("unknown setting %q, expected one of %s", args[0], strings.Join(settingList(), ", "))
		}

		db, cfg, err := openState()
		if err != nil {
			return err
		}
		defer db.Close() //nolint:errcheck

		if resetSetting {
			if err := cfg.Reset(cmd.Context(), key); err != nil {
				return err
			}
			fmt.Println("Reset", keyword(args[0]))
			return nil
		}
		if len(args) != 2 {
			return fmt.Errorf("missing value for %s", args[0])
		}
		if err := cfg.Persist(cmd.Context(), key, args[1]); err != nil {
			return err
		}
		fmt.Printf("Set %s to %s\n", keyword(args[0]), args[1])
		return nil
	},
}

func settingList() []string {
	names := make([]string, 0, len(settingNames))
	for n := range settingNames {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func init() {
	setCmd.Flags().BoolVar(&resetSetting, "reset", false, "remove the stored value")
}
