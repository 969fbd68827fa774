package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path, expands ${ENV_VAR}
// references, applies defaults, and returns a validated [Config].
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}
	cfg, err := LoadFromReader(strings.NewReader(expandEnv(string(raw))))
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Unknown keys are rejected so typos fail fast.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// expandEnv substitutes ${VAR} references with environment values.
// A reference to an unset variable expands to the empty string, which the
// validator then reports for required fields.
func expandEnv(s string) string {
	return os.Expand(s, os.Getenv)
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all failures found.
func Validate(cfg *Config) error {
	var errs []error

	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.STT.APIKey == "" {
		errs = append(errs, errors.New("stt.api_key is required"))
	}
	if cfg.TTS.APIKey == "" {
		errs = append(errs, errors.New("tts.api_key is required"))
	}
	if cfg.LLM.APIKey == "" {
		errs = append(errs, errors.New("llm.api_key is required"))
	}
	if cfg.LLM.Model == "" {
		errs = append(errs, errors.New("llm.model is required"))
	}
	if cfg.Redis.URL == "" {
		errs = append(errs, errors.New("redis.url is required"))
	}
	if cfg.Database.URL == "" {
		errs = append(errs, errors.New("database.url is required"))
	}
	if cfg.STT.Encoding != "mulaw" {
		errs = append(errs, fmt.Errorf("stt.encoding %q is unsupported; telephony audio is mulaw end-to-end", cfg.STT.Encoding))
	}
	if cfg.TTS.Encoding != "mulaw" {
		errs = append(errs, fmt.Errorf("tts.encoding %q is unsupported; telephony audio is mulaw end-to-end", cfg.TTS.Encoding))
	}
	if cfg.STT.SampleRate != 8000 {
		errs = append(errs, fmt.Errorf("stt.sample_rate %d is unsupported; telephony audio is 8000 Hz", cfg.STT.SampleRate))
	}
	if cfg.TTS.SampleRate != 8000 {
		errs = append(errs, fmt.Errorf("tts.sample_rate %d is unsupported; telephony audio is 8000 Hz", cfg.TTS.SampleRate))
	}
	if cfg.LLM.Temperature < 0 || cfg.LLM.Temperature > 2 {
		errs = append(errs, fmt.Errorf("llm.temperature %.2f is out of range [0, 2]", cfg.LLM.Temperature))
	}

	bh := cfg.BusinessHours
	if bh.WeekdayOpen >= bh.WeekdayClose {
		errs = append(errs, fmt.Errorf("business_hours weekday window [%d, %d) is empty", bh.WeekdayOpen, bh.WeekdayClose))
	}
	if bh.SaturdayOpen >= bh.SaturdayClose {
		errs = append(errs, fmt.Errorf("business_hours saturday window [%d, %d) is empty", bh.SaturdayOpen, bh.SaturdayClose))
	}
	if bh.LunchStart >= bh.LunchEnd {
		errs = append(errs, fmt.Errorf("business_hours lunch window [%d, %d) is empty", bh.LunchStart, bh.LunchEnd))
	}

	if cfg.Calendar.ClientID != "" {
		if cfg.Calendar.ClientSecret == "" || cfg.Calendar.RefreshToken == "" {
			errs = append(errs, errors.New("calendar.client_secret and calendar.refresh_token are required when calendar.client_id is set"))
		}
		if _, err := loadLocation(cfg.Calendar.Timezone); err != nil {
			errs = append(errs, fmt.Errorf("calendar.timezone %q is not a valid IANA timezone", cfg.Calendar.Timezone))
		}
	}

	return errors.Join(errs...)
}
