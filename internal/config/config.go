// Package config resolves the effective settings from the config file, the
// environment and values persisted by the key and voice commands.
package config

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/spf13/viper"

	"github.com/dgnsrekt/readaloud/internal/bus"
	"github.com/dgnsrekt/readaloud/internal/secret"
	"github.com/dgnsrekt/readaloud/internal/store"
	"github.com/dgnsrekt/readaloud/internal/synth"
)

var (
	ErrInvalidEndpoint = errors.New("endpoint must be an http or https URL")
	ErrInvalidSize     = errors.New("size must be a positive number")
)

// Settings is the effective configuration of a session.
type Settings struct {
	Endpoint          string
	APIKey            string
	Voice             string
	Model             string
	Format            string
	ChunkSize         int
	CacheSize         int
	CloseOnStop       bool
	RequestsPerMinute int
}

// SynthOptions returns the request options for the synth client.
func (s Settings) SynthOptions() synth.Options {
	return synth.Options{
		Endpoint: s.Endpoint,
		APIKey:   s.APIKey,
		Voice:    s.Voice,
		Model:    s.Model,
		Format:   s.Format,
	}
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(ViperEndpoint, DefaultEndpoint)
	v.SetDefault(ViperAPIKey, "")
	v.SetDefault(ViperVoice, DefaultVoice)
	v.SetDefault(ViperModel, DefaultModel)
	v.SetDefault(ViperFormat, DefaultFormat)
	v.SetDefault(ViperChunkSize, DefaultChunkSize)
	v.SetDefault(ViperCacheSize, DefaultCacheSize)
	v.SetDefault(ViperCloseOnStop, true)
	v.SetDefault(ViperRate, DefaultRate)
	v.SetDefault(ViperServeAddr, DefaultAddr)
	v.SetDefault(ViperSampleRate, DefaultRateHz)
}

// Manager bridges viper and the persistent store.
type Manager struct {
	v       *viper.Viper
	state   store.StateStore
	secrets *secret.Store
	logger  *log.Logger

	overrides map[string]string
}

// NewManager creates a Manager. state may be nil, in which case only viper
// values are used.
func NewManager(v *viper.Viper, state store.StateStore) *Manager {
	m := &Manager{
		v:         v,
		state:     state,
		logger:    log.WithPrefix("config"),
		overrides: make(map[string]string),
	}
	if state != nil {
		m.secrets = secret.New(state)
	}
	return m
}

// Load returns the effective settings. A legacy credential is decrypted and
// re-saved in the current format.
func (m *Manager) Load(ctx context.Context) (Settings, error) {
	s := Settings{
		Endpoint:          m.getString(ctx, KeyEndpoint, m.v.GetString(ViperEndpoint)),
		APIKey:            m.v.GetString(ViperAPIKey),
		Voice:             m.getString(ctx, KeyVoice, m.v.GetString(ViperVoice)),
		Model:             m.v.GetString(ViperModel),
		Format:            m.v.GetString(ViperFormat),
		ChunkSize:         m.getInt(ctx, KeyChunkSize, m.v.GetInt(ViperChunkSize)),
		CacheSize:         m.getInt(ctx, KeyCacheSize, m.v.GetInt(ViperCacheSize)),
		CloseOnStop:       m.v.GetBool(ViperCloseOnStop),
		RequestsPerMinute: m.v.GetInt(ViperRate),
	}

	if m.secrets != nil {
		res := m.secrets.Get(ctx, KeyAPIKey)
		switch res.Kind {
		case secret.Found:
			s.APIKey = res.Plaintext
		case secret.MigrationNeeded:
			s.APIKey = res.Plaintext
			if err := m.secrets.Set(ctx, KeyAPIKey, res.Plaintext); err != nil {
				m.logger.Warn("Could not migrate stored API key", "err", err)
			} else {
				m.logger.Info("Migrated stored API key to the current format")
			}
		case secret.Failed:
			return s, fmt.Errorf("failed to read API key: %w", res.Err)
		case secret.Absent:
		}
	}

	if s.ChunkSize <= 0 {
		s.ChunkSize = DefaultChunkSize
	}
	if s.CacheSize <= 0 {
		s.CacheSize = DefaultCacheSize
	}
	return s, nil
}

// Settings implements supervisor.SettingsSource.
func (m *Manager) Settings(ctx context.Context) (bus.Settings, error) {
	s, err := m.Load(ctx)
	if err != nil {
		return bus.Settings{}, err
	}
	return bus.Settings{
		Options:   s.SynthOptions(),
		ChunkSize: s.ChunkSize,
		CacheSize: s.CacheSize,
	}, nil
}

// SetAPIKey validates and stores an API key.
func (m *Manager) SetAPIKey(ctx context.Context, key string) error {
	if m.secrets == nil {
		return errors.New("no state store configured")
	}
	if err := secret.Validate(key); err != nil {
		return err
	}
	return m.secrets.Set(ctx, KeyAPIKey, key)
}

// APIKeyStatus reports how the stored API key is kept.
func (m *Manager) APIKeyStatus(ctx context.Context) secret.Result {
	if m.secrets == nil {
		return secret.Result{Kind: secret.Absent}
	}
	return m.secrets.Get(ctx, KeyAPIKey)
}

// Persist validates and stores an override for one of the settings keys.
func (m *Manager) Persist(ctx context.Context, key, value string) error {
	if m.state == nil {
		return errors.New("no state store configured")
	}
	value = strings.TrimSpace(value)

	switch key {
	case KeyEndpoint:
		if err := ValidateEndpoint(value); err != nil {
			return err
		}
	case KeyChunkSize, KeyCacheSize:
		if n, err := strconv.Atoi(value); err != nil || n <= 0 {
			return fmt.Errorf("%s: %w", key, ErrInvalidSize)
		}
	case KeyVoice:
		if value == "" {
			return errors.New("voice must not be empty")
		}
	default:
		return fmt.Errorf("unknown setting %q", key)
	}
	return m.state.SetState(ctx, key, value)
}

// Reset removes a stored override.
func (m *Manager) Reset(ctx context.Context, key string) error {
	if m.state == nil {
		return nil
	}
	return m.state.DeleteState(ctx, key)
}

// Override sets a value for this process only, taking precedence over the
// store and the config file. Used for command line flags.
func (m *Manager) Override(key, value string) {
	m.overrides[key] = value
}

// ValidateEndpoint checks an endpoint URL.
func ValidateEndpoint(endpoint string) error {
	u, err := url.Parse(endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidEndpoint, endpoint)
	}
	return nil
}

func (m *Manager) getString(ctx context.Context, key, fallback string) string {
	if val, ok := m.overrides[key]; ok && val != "" {
		return val
	}
	if m.state != nil {
		if val, ok, err := m.state.GetState(ctx, key); err == nil && ok && val != "" {
			return val
		}
	}
	return fallback
}

func (m *Manager) getInt(ctx context.Context, key string, fallback int) int {
	if val, ok := m.overrides[key]; ok {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	if m.state != nil {
		if val, ok, err := m.state.GetState(ctx, key); err == nil && ok && val != "" {
			if i, err := strconv.Atoi(val); err == nil {
				return i
			}
		}
	}
	return fallback
}
