package config

import (
	"context"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgnsrekt/readaloud/internal/secret"
	"github.com/dgnsrekt/readaloud/internal/store"
)

func newViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	return v
}

func TestLoad_Defaults(t *testing.T) {
	s, err := NewManager(newViper(), nil).Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, DefaultEndpoint, s.Endpoint)
	assert.Equal(t, DefaultVoice, s.Voice)
	assert.Equal(t, DefaultModel, s.Model)
	assert.Equal(t, DefaultFormat, s.Format)
	assert.Equal(t, DefaultChunkSize, s.ChunkSize)
	assert.Equal(t, DefaultCacheSize, s.CacheSize)
	assert.True(t, s.CloseOnStop)
	assert.Equal(t, DefaultRate, s.RequestsPerMinute)
}

func TestLoad_StoreOverrides(t *testing.T) {
	ctx := context.Background()
	v := newViper()
	v.Set(ViperVoice, "from_file")
	v.Set(ViperChunkSize, 500)

	state := store.NewMemory()
	m := NewManager(v, state)
	require.NoError(t, m.Persist(ctx, KeyVoice, "bf_emma"))
	require.NoError(t, m.Persist(ctx, KeyEndpoint, "https://tts.example.com/v1/audio"))
	require.NoError(t, m.SetAPIKey(ctx, "sk-1234567890"))

	s, err := m.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "bf_emma", s.Voice)
	assert.Equal(t, "https://tts.example.com/v1/audio", s.Endpoint)
	assert.Equal(t, 500, s.ChunkSize)
	assert.Equal(t, "sk-1234567890", s.APIKey)

	raw, _, _ := state.GetState(ctx, KeyAPIKey)
	assert.True(t, strings.HasPrefix(raw, secret.Prefix))

	require.NoError(t, m.Reset(ctx, KeyVoice))
	s, err = m.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "from_file", s.Voice)
}

func TestLoad_MigratesLegacyKey(t *testing.T) {
	ctx := context.Background()
	state := store.NewMemory()
	legacy := base64.StdEncoding.EncodeToString([]byte("legacy-secret"))
	require.NoError(t, state.SetState(ctx, KeyAPIKey, legacy))

	m := NewManager(newViper(), state)
	s, err := m.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "legacy-secret", s.APIKey)

	raw, _, _ := state.GetState(ctx, KeyAPIKey)
	assert.True(t, strings.HasPrefix(raw, secret.Prefix), "stored value was not re-saved: %q", raw)
	assert.Equal(t, secret.Found, m.APIKeyStatus(ctx).Kind)
}

func TestLoad_CorruptKey(t *testing.T) {
	ctx := context.Background()
	state := store.NewMemory()
	require.NoError(t, state.SetState(ctx, KeyAPIKey, "%%%"))

	_, err := NewManager(newViper(), state).Load(ctx)
	assert.ErrorIs(t, err, secret.ErrCorrupt)
}

func TestSettingsSource(t *testing.T) {
	v := newViper()
	v.Set(ViperAPIKey, "not-needed")

	bs, err := NewManager(v, nil).Settings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DefaultEndpoint, bs.Endpoint)
	assert.Equal(t, "not-needed", bs.APIKey)
	assert.Equal(t, DefaultChunkSize, bs.ChunkSize)
	assert.Equal(t, DefaultCacheSize, bs.CacheSize)
}

func TestPersist_Validation(t *testing.T) {
	ctx := context.Background()
	m := NewManager(newViper(), store.NewMemory())

	assert.ErrorIs(t, m.Persist(ctx, KeyEndpoint, "ftp://x"), ErrInvalidEndpoint)
	assert.ErrorIs(t, m.Persist(ctx, KeyChunkSize, "0"), ErrInvalidSize)
	assert.ErrorIs(t, m.Persist(ctx, KeyCacheSize, "abc"), ErrInvalidSize)
	assert.Error(t, m.Persist(ctx, KeyVoice, " "))
	assert.Error(t, m.Persist(ctx, "settings.unknown", "x"))
	assert.ErrorIs(t, m.SetAPIKey(ctx, "short"), secret.ErrTooShort)
	assert.NoError(t, m.Persist(ctx, KeyCacheSize, "25"))
}

func TestOverride(t *testing.T) {
	ctx := context.Background()
	state := store.NewMemory()
	m := NewManager(newViper(), state)
	require.NoError(t, m.Persist(ctx, KeyVoice, "stored_voice"))

	m.Override(KeyVoice, "flag_voice")
	m.Override(KeyChunkSize, "250")

	s, err := m.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "flag_voice", s.Voice)
	assert.Equal(t, 250, s.ChunkSize)
}
