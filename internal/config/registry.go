package config

// Keys for values persisted in the state store. They override the config file.
const (
	KeyEndpoint  = "settings.endpoint"
	KeyVoice     = "settings.voice"
	KeyChunkSize = "settings.chunk_size"
	KeyCacheSize = "settings.cache_size"
	KeyAPIKey    = "secret.api_key"
)

// Viper keys.
const (
	ViperEndpoint    = "endpoint"
	ViperAPIKey      = "api_key"
	ViperVoice       = "voice"
	ViperModel       = "model"
	ViperFormat      = "format"
	ViperChunkSize   = "chunk_size"
	ViperCacheSize   = "cache_size"
	ViperCloseOnStop = "host.close_on_stop"
	ViperRate        = "rate_per_minute"
	ViperDatabase    = "database"
	ViperServeAddr   = "serve.addr"
	ViperSampleRate  = "audio.sample_rate"
)

// Defaults.
const (
	DefaultEndpoint  = "http://localhost:8880/v1/audio"
	DefaultVoice     = "af_bella"
	DefaultModel     = "kokoro"
	DefaultFormat    = "mp3"
	DefaultChunkSize = 1000
	DefaultCacheSize = 10
	DefaultRate      = 120
	DefaultAddr      = "127.0.0.1:7421"
	DefaultRateHz    = 44100
)
