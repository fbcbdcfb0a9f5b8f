package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dgnsrekt/readaloud/internal/audio"
	"github.com/dgnsrekt/readaloud/internal/config"
	"github.com/dgnsrekt/readaloud/internal/supervisor"
	"github.com/dgnsrekt/readaloud/internal/synth"
)

var previewCmd = &cobra.Command{
	Use:     "preview VOICE [TEXT]",
	Short:   "Play a short sample of a voice",
	Example: paragraph("readaloud preview af_bella\nreadaloud preview bf_emma \"Good morning.\""),
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		settings, err := loadSettings(ctx)
		if err != nil {
			return err
		}
		opts := settings.SynthOptions()
		opts.Voice = args[0]

		data, err := newClient().Synthesize(ctx, opts, synth.PreviewText(strings.Join(args[1:], " ")))
		if err != nil {
			return fmt.Errorf("%s: %w", supervisor.UserMessage(err), err)
		}

		playerCfg := audio.DefaultPlayerConfig()
		playerCfg.SampleRate = viper.GetInt(config.ViperSampleRate)
		player, err := audio.NewPlayer(playerCfg)
		if err != nil {
			return err
		}
		defer player.Close() //nolint:errcheck

		if err := player.Init(); err != nil {
			return fmt.Errorf("%s: %w", supervisor.MsgInitFailed, err)
		}
		return player.Play(ctx, data)
	},
}
