package main

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	gap "github.com/muesli/go-app-paths"
	"github.com/spf13/viper"

	"github.com/dgnsrekt/readaloud/internal/audio"
	"github.com/dgnsrekt/readaloud/internal/bus"
	"github.com/dgnsrekt/readaloud/internal/config"
	"github.com/dgnsrekt/readaloud/internal/host"
	"github.com/dgnsrekt/readaloud/internal/metrics"
	"github.com/dgnsrekt/readaloud/internal/store"
	"github.com/dgnsrekt/readaloud/internal/supervisor"
	"github.com/dgnsrekt/readaloud/internal/synth"
)

const closeTimeout = 5 * time.Second

// app holds the wired components shared by the commands.
type app struct {
	state   *store.SQLite
	config  *config.Manager
	client  *synth.Client
	metrics *metrics.Metrics
	bus     *bus.Bus
	sup     *supervisor.Supervisor
}

func databasePath() (string, error) {
	if p := viper.GetString(config.ViperDatabase); p != "" {
		return p, nil
	}
	return gap.NewScope(gap.User, "readaloud").DataPath("readaloud.db")
}

// openState opens the state store and the settings manager on top of it.
func openState() (*store.SQLite, *config.Manager, error) {
	path, err := databasePath()
	if err != nil {
		return nil, nil, fmt.Errorf("unable to find data directory: %w", err)
	}
	db, err := store.Open(path)
	if err != nil {
		return nil, nil, err
	}
	log.Debug("Opened state store", "path", path)
	return db, config.NewManager(viper.GetViper(), db), nil
}

func newClient() *synth.Client {
	return synth.NewClient(
		synth.WithRequestsPerMinute(viper.GetInt(config.ViperRate)),
		synth.WithLogger(log.WithPrefix("synth")),
	)
}

// loadSettings reads the effective settings through a short-lived state store.
func loadSettings(ctx context.Context) (config.Settings, error) {
	db, cfg, err := openState()
	if err != nil {
		return config.Settings{}, err
	}
	defer db.Close() //nolint:errcheck
	return cfg.Load(ctx)
}

// newApp wires the playback stack. Start must be called before Play.
func newApp(ctx context.Context) (*app, error) {
	db, cfg, err := openState()
	if err != nil {
		return nil, err
	}

	playerCfg := audio.DefaultPlayerConfig()
	playerCfg.SampleRate = viper.GetInt(config.ViperSampleRate)
	if _, err := audio.NewPlayer(playerCfg); err != nil {
		_ = db.Close()
		return nil, err
	}

	a := &app{
		state:   db,
		config:  cfg,
		client:  newClient(),
		metrics: metrics.New(),
		bus:     bus.New(),
	}

	launcher := host.NewLauncher(func() *host.Host {
		// The config was validated above.
		player, _ := audio.NewPlayer(playerCfg)
		return host.New(host.Config{
			Bus:         a.bus,
			Synthesizer: a.client,
			Renderer:    player,
			Recorder:    a.metrics,
			Logger:      log.WithPrefix("host"),
			Timing:      host.DefaultTiming(),
		})
	})

	a.sup = supervisor.New(supervisor.Config{
		Bus:         a.bus,
		Environment: launcher,
		Settings:    cfg,
		Recorder:    a.metrics,
		Logger:      log.WithPrefix("supervisor"),
		Timing:      supervisor.DefaultTiming(),
		CloseOnStop: viper.GetBool(config.ViperCloseOnStop),
	})
	a.sup.Start(ctx)

	updates, _ := a.sup.Subscribe(16)
	go a.metrics.Watch(ctx, updates)

	return a, nil
}

// Close stops playback and releases everything newApp acquired.
func (a *app) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()

	if err := a.sup.Close(ctx); err != nil {
		log.Debug("Supervisor closed with error", "err", err)
	}
	a.bus.Close()
	return a.state.Close()
}
