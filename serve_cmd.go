package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dgnsrekt/readaloud/internal/config"
	"github.com/dgnsrekt/readaloud/internal/server"
	"github.com/dgnsrekt/readaloud/internal/synth"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:     "serve",
	Short:   "Run the playback control server",
	Long:    paragraph(fmt.Sprintf("\n%s an HTTP server that reads posted text aloud. Status updates are streamed over a websocket and metrics are exported for Prometheus.", keyword("Run"))),
	Example: paragraph("readaloud serve\nreadaloud serve --addr :7421\ncurl -d '{\"text\":\"Hello.\"}' localhost:7421/play"),
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		// Settings are read per session, so edits apply to the next play.
		viper.OnConfigChange(func(e fsnotify.Event) {
			log.Info("Configuration changed", "file", e.Name, "op", e.Op.String())
		})
		if viper.ConfigFileUsed() != "" {
			viper.WatchConfig()
		}

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close() //nolint:errcheck

		srv := server.New(server.Config{
			Controller: a.sup,
			Voices: func(ctx context.Context) ([]synth.Voice, error) {
				s, err := a.config.Load(ctx)
				if err != nil {
					return nil, err
				}
				return a.client.Voices(ctx, s.SynthOptions())
			},
			Metrics: a.metrics.Handler(),
			Logger:  log.WithPrefix("server"),
		})

		addr := viper.GetString(config.ViperServeAddr)
		fmt.Fprintln(os.Stderr, "Listening on", keyword(addr))
		return srv.ListenAndServe(ctx, addr)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", config.DefaultAddr, "address to listen on")
	_ = viper.BindPFlag(config.ViperServeAddr, serveCmd.Flags().Lookup("addr"))
}
