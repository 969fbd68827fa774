// Package config provides the enumerated configuration schema and loader for
// the Driveline voice agent. There are no string-keyed option bags at runtime:
// every tunable is a named field, validated at startup.
package config

import "time"

// LogLevel controls log verbosity for the Driveline server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for Driveline.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Telephony     TelephonyConfig     `yaml:"telephony"`
	STT           STTConfig           `yaml:"stt"`
	TTS           TTSConfig           `yaml:"tts"`
	LLM           LLMConfig           `yaml:"llm"`
	Redis         RedisConfig         `yaml:"redis"`
	Database      DatabaseConfig      `yaml:"database"`
	Calendar      CalendarConfig      `yaml:"calendar"`
	VIN           VINConfig           `yaml:"vin"`
	BusinessHours BusinessHoursConfig `yaml:"business_hours"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// PublicHost is the externally reachable host used when building the
	// media-stream WebSocket URL in bootstrap responses.
	PublicHost string `yaml:"public_host"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// MaskPII enables phone-number masking in logs. Enabled in production.
	MaskPII bool `yaml:"mask_pii"`
}

// TelephonyConfig holds provider credentials and the POC outbound safety net.
type TelephonyConfig struct {
	AccountSID string `yaml:"account_sid"`
	AuthToken  string `yaml:"auth_token"`

	// OutboundTestNumber is the only destination outbound calls may dial.
	// Dialing any other number is refused.
	OutboundTestNumber string `yaml:"outbound_test_number"`
}

// STTConfig configures the streaming transcriber for phone audio.
type STTConfig struct {
	APIKey         string        `yaml:"api_key"`
	Model          string        `yaml:"model"`
	Encoding       string        `yaml:"encoding"`
	SampleRate     int           `yaml:"sample_rate"`
	Channels       int           `yaml:"channels"`
	InterimResults bool          `yaml:"interim_results"`
	SmartFormat    bool          `yaml:"smart_format"`
	EndpointingMs  int           `yaml:"endpointing_ms"`
	UtteranceEndMs int           `yaml:"utterance_end_ms"`
	Keepalive      time.Duration `yaml:"keepalive"`

	// BargeInMinChars is the minimum interim transcript length that counts
	// as a caller interruption. Default 1: any real text stops playback.
	BargeInMinChars int `yaml:"barge_in_min_chars"`
}

// TTSConfig configures the streaming synthesizer.
type TTSConfig struct {
	APIKey     string `yaml:"api_key"`
	Model      string `yaml:"model"`
	Encoding   string `yaml:"encoding"`
	SampleRate int    `yaml:"sample_rate"`
}

// LLMConfig configures the streaming chat backend.
type LLMConfig struct {
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

// RedisConfig configures the session/cache store connection.
type RedisConfig struct {
	// URL is a redis:// connection URL.
	URL string `yaml:"url"`

	// PoolSize caps the connection pool. Default 50.
	PoolSize int `yaml:"pool_size"`
}

// DatabaseConfig configures the PostgreSQL pool.
type DatabaseConfig struct {
	// URL is a postgres:// DSN.
	URL string `yaml:"url"`

	// MaxConns / MinConns bound the pgx pool.
	MaxConns int32 `yaml:"max_conns"`
	MinConns int32 `yaml:"min_conns"`
}

// CalendarConfig configures the external calendar integration
// (OAuth2 refresh-token flow).
type CalendarConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	RefreshToken string `yaml:"refresh_token"`
	CalendarID   string `yaml:"calendar_id"`

	// Timezone is the dealership's local IANA timezone. Calendar inputs and
	// outputs are UTC; conversion happens only at this boundary.
	Timezone string `yaml:"timezone"`
}

// VINConfig configures the external VIN decode endpoint.
type VINConfig struct {
	Endpoint string        `yaml:"endpoint"`
	Timeout  time.Duration `yaml:"timeout"`
}

// BusinessHoursConfig describes when the service department takes appointments.
// Hours are local to [CalendarConfig.Timezone].
type BusinessHoursConfig struct {
	// WeekdayOpen/WeekdayClose bound Monday–Friday (24h clock hours).
	WeekdayOpen  int `yaml:"weekday_open"`
	WeekdayClose int `yaml:"weekday_close"`

	// SaturdayOpen/SaturdayClose bound Saturday. Sunday is always closed.
	SaturdayOpen  int `yaml:"saturday_open"`
	SaturdayClose int `yaml:"saturday_close"`

	// LunchStart/LunchEnd is the daily window excluded from booking.
	LunchStart int `yaml:"lunch_start"`
	LunchEnd   int `yaml:"lunch_end"`
}

// applyDefaults fills zero-valued fields with the documented defaults.
func applyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.STT.Model == "" {
		cfg.STT.Model = "nova-2-phonecall"
	}
	if cfg.STT.Encoding == "" {
		cfg.STT.Encoding = "mulaw"
	}
	if cfg.STT.SampleRate == 0 {
		cfg.STT.SampleRate = 8000
	}
	if cfg.STT.Channels == 0 {
		cfg.STT.Channels = 1
	}
	if cfg.STT.EndpointingMs == 0 {
		cfg.STT.EndpointingMs = 300
	}
	if cfg.STT.UtteranceEndMs == 0 {
		cfg.STT.UtteranceEndMs = 1000
	}
	if cfg.STT.Keepalive == 0 {
		cfg.STT.Keepalive = 10 * time.Second
	}
	if cfg.STT.BargeInMinChars == 0 {
		cfg.STT.BargeInMinChars = 1
	}
	if cfg.TTS.Model == "" {
		cfg.TTS.Model = "aura-asteria-en"
	}
	if cfg.TTS.Encoding == "" {
		cfg.TTS.Encoding = "mulaw"
	}
	if cfg.TTS.SampleRate == 0 {
		cfg.TTS.SampleRate = 8000
	}
	if cfg.LLM.Temperature == 0 {
		cfg.LLM.Temperature = 0.8
	}
	if cfg.LLM.MaxTokens == 0 {
		cfg.LLM.MaxTokens = 1000
	}
	if cfg.Redis.PoolSize == 0 {
		cfg.Redis.PoolSize = 50
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 10
	}
	if cfg.Database.MinConns == 0 {
		cfg.Database.MinConns = 2
	}
	if cfg.VIN.Endpoint == "" {
		cfg.VIN.Endpoint = "https://vpic.nhtsa.dot.gov/api/vehicles/DecodeVinValues"
	}
	if cfg.VIN.Timeout == 0 {
		cfg.VIN.Timeout = 5 * time.Second
	}
	if cfg.Calendar.Timezone == "" {
		cfg.Calendar.Timezone = "America/New_York"
	}
	bh := &cfg.BusinessHours
	if bh.WeekdayOpen == 0 && bh.WeekdayClose == 0 {
		bh.WeekdayOpen, bh.WeekdayClose = 9, 17
	}
	if bh.SaturdayOpen == 0 && bh.SaturdayClose == 0 {
		bh.SaturdayOpen, bh.SaturdayClose = 9, 15
	}
	if bh.LunchStart == 0 && bh.LunchEnd == 0 {
		bh.LunchStart, bh.LunchEnd = 12, 13
	}
}
