// Package config loads the application configuration from TOML with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/urtextpiano-dev/urtext-sub005/constants"
	"github.com/urtextpiano-dev/urtext-sub005/logging"
)

const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendDynamoDB = "dynamodb"
)

type Config struct {
	Logging    LoggingConfig    `toml:"logging"`
	MIDI       MIDIConfig       `toml:"midi"`
	Tempo      TempoConfig      `toml:"tempo"`
	Scheduler  SchedulerConfig  `toml:"scheduler"`
	Difficulty DifficultyConfig `toml:"difficulty"`
	Server     ServerConfig     `toml:"server"`
}

type LoggingConfig struct {
	Level     string `toml:"level"`
	Format    string `toml:"format"`
	Output    string `toml:"output"`
	AddSource bool   `toml:"add_source"`
}

type MIDIConfig struct {
	// input port number, used when PortName is empty
	InPort   int    `toml:"in_port"`
	PortName string `toml:"port_name"`
}

type TempoConfig struct {
	OverrideBackend string `toml:"override_backend"`
	SQLitePath      string `toml:"sqlite_path"`
	DynamoEndpoint  string `toml:"dynamodb_endpoint"`
	DynamoRegion    string `toml:"dynamodb_region"`
	DynamoTable     string `toml:"dynamodb_table"`
	DynamoKey       string `toml:"dynamodb_key"`
}

type SchedulerConfig struct {
	SpinLeadMs int `toml:"spin_lead_ms"`
}

func (s SchedulerConfig) SpinLead() time.Duration {
	return time.Duration(s.SpinLeadMs) * time.Millisecond
}

type DifficultyConfig struct {
	SettingsPath string `toml:"settings_path"`
	Watch        bool   `toml:"watch"`
}

type ServerConfig struct {
	Addr           string   `toml:"addr"`
	AllowedOrigins []string `toml:"allowed_origins"`
}

func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Format: "text", Output: "stderr"},
		Tempo: TempoConfig{
			OverrideBackend: BackendSQLite,
			SQLitePath:      constants.GetOverrideDBPath(),
			DynamoRegion:    "us-west-2",
			DynamoTable:     "practice-settings",
			DynamoKey:       "tempo-override",
		},
		Scheduler:  SchedulerConfig{SpinLeadMs: int(constants.DefaultSchedulerLead / time.Millisecond)},
		Difficulty: DifficultyConfig{SettingsPath: "difficulty.yaml", Watch: true},
		Server:     ServerConfig{Addr: ":8080", AllowedOrigins: []string{"*"}},
	}
}

// Load reads path, applies environment overrides and validates. A missing
// file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if _, err := toml.DecodeFile(path, cfg); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("decode TOML: %w", err)
	}
	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("PRACTICE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("PRACTICE_OVERRIDE_DB"); v != "" {
		c.Tempo.SQLitePath = v
	}
}

// SettingsPath resolves the difficulty file relative to the config file.
func (c *Config) SettingsPath(configPath string) string {
	p := c.Difficulty.SettingsPath
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(filepath.Dir(configPath), p)
}

func (c *Config) LoggerConfig() *logging.Config {
	lc := logging.DefaultConfig()
	lc.Level, _ = logging.ParseLevel(c.Logging.Level)
	lc.Format, _ = logging.ParseFormat(c.Logging.Format)
	lc.Output = c.Logging.Output
	lc.AddSource = c.Logging.AddSource
	return lc
}

func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create config: %w", err)
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

func (c *Config) Validate() error {
	var errs ValidationErrors
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, ValidationError{Field: "logging.level", Message: err.Error()})
	}
	if _, err := logging.ParseFormat(c.Logging.Format); err != nil {
		errs = append(errs, ValidationError{Field: "logging.format", Message: err.Error()})
	}
	switch strings.ToLower(c.Logging.Output) {
	case "", "stdout", "stderr":
	default:
		errs = append(errs, ValidationError{Field: "logging.output", Message: "must be stdout or stderr"})
	}
	if c.MIDI.InPort < 0 {
		errs = append(errs, ValidationError{Field: "midi.in_port", Message: "must not be negative"})
	}
	switch c.Tempo.OverrideBackend {
	case BackendMemory:
	case BackendSQLite:
		if c.Tempo.SQLitePath == "" {
			errs = append(errs, ValidationError{Field: "tempo.sqlite_path", Message: "required for the sqlite backend"})
		}
	case BackendDynamoDB:
		if c.Tempo.DynamoTable == "" {
			errs = append(errs, ValidationError{Field: "tempo.dynamodb_table", Message: "required for the dynamodb backend"})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "tempo.override_backend",
			Message: fmt.Sprintf("unknown backend %q", c.Tempo.OverrideBackend),
		})
	}
	if c.Scheduler.SpinLeadMs < 0 || c.Scheduler.SpinLeadMs > 50 {
		errs = append(errs, ValidationError{Field: "scheduler.spin_lead_ms", Message: "must be within [0, 50]"})
	}
	if c.Server.Addr == "" {
		errs = append(errs, ValidationError{Field: "server.addr", Message: "required"})
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}
