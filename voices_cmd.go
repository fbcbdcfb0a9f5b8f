package main

import (
	"fmt"
	"strings"

	"github.com/sahilm/fuzzy"
	"github.com/spf13/cobra"

	"github.com/dgnsrekt/readaloud/internal/config"
	"github.com/dgnsrekt/readaloud/internal/supervisor"
	"github.com/dgnsrekt/readaloud/internal/synth"
)

var selectVoice bool

var voicesCmd = &cobra.Command{
	Use:     "voices [FILTER]",
	Short:   "List the voices offered by the speech server",
	Long:    paragraph(fmt.Sprintf("\n%s the voices offered by the configured speech server, optionally fuzzy filtered. With --select the best match becomes the default voice.", keyword("List"))),
	Example: paragraph("readaloud voices\nreadaloud voices bella --select"),
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		db, cfg, err := openState()
		if err != nil {
			return err
		}
		defer db.Close() //nolint:errcheck

		settings, err := cfg.Load(ctx)
		if err != nil {
			return err
		}

		voices, err := newClient().Voices(ctx, settings.SynthOptions())
		if err != nil {
			return fmt.Errorf("%s: %w", supervisor.UserMessage(err), err)
		}

		if len(args) == 1 {
			voices = filterVoices(voices, args[0])
		}
		if len(voices) == 0 {
			fmt.Println(faint("No voices found."))
			return nil
		}

		if selectVoice {
			if err := cfg.Persist(ctx, config.KeyVoice, voices[0].ID); err != nil {
				return err
			}
			fmt.Println("Default voice set to", keyword(voices[0].ID))
			return nil
		}

		for _, v := range voices {
			fmt.Println(formatVoice(v, settings.Voice))
		}
		return nil
	},
}

type voiceSource []synth.Voice

func (v voiceSource) String(i int) string { return v[i].ID + " " + v[i].Name + " " + v[i].Language }
func (v voiceSource) Len() int            { return len(v) }

// filterVoices returns the voices matching pattern, best match first.
func filterVoices(voices []synth.Voice, pattern string) []synth.Voice {
	matches := fuzzy.FindFrom(pattern, voiceSource(voices))
	out := make([]synth.Voice, 0, len(matches))
	for _, m := range matches {
		out = append(out, voices[m.Index])
	}
	return out
}

func formatVoice(v synth.Voice, current string) string {
	marker := "  "
	id := v.ID
	if v.ID == current {
		marker = "* "
		id = keyword(v.ID)
	}

	var details []string
	if v.Name != "" && v.Name != v.ID {
		details = append(details, v.Name)
	}
	if v.Language != "" {
		details = append(details, v.Language)
	}
	if v.Gender != "" {
		details = append(details, v.Gender)
	}
	if len(details) == 0 {
		return marker + id
	}
	return marker + id + " " + faint(strings.Join(details, ", "))
}

func init() {
	voicesCmd.Flags().BoolVar(&selectVoice, "select", false, "make the best match the default voice")
}
