// Package config provides shared configuration constants and the YAML
// settings file for luaud.
package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultPort is the default TCP port luaud listens on for DAP clients.
const DefaultPort = 58000

// DefaultScriptExtension is appended to extension-less script paths
// during path normalization.
const DefaultScriptExtension = ".lua"

// Config is the luaud.yaml settings file.
type Config struct {
	// Root is the directory relative paths are resolved against.
	Root string `yaml:"root"`
	// ScriptExtension defaults extension-less source identifiers.
	ScriptExtension string `yaml:"script_extension"`
	// StopOnEntry synthesizes a one-shot breakpoint on line 1 of the
	// entry file.
	StopOnEntry bool `yaml:"stop_on_entry"`

	Log      LogConfig      `yaml:"log"`
	Tracing  TracingConfig  `yaml:"tracing"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Presets  PresetsConfig  `yaml:"presets"`
	Audit    AuditConfig    `yaml:"audit"`
	History  HistoryConfig  `yaml:"eval_history"`
	Observer ObserverConfig `yaml:"observer"`
}

// LogConfig controls internal/logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug|info|warn|error
	Format string `yaml:"format"` // text|json
}

// TracingConfig controls internal/tracing.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	ExporterType string  `yaml:"exporter"` // stdout|otlp
	OTLPEndpoint string  `yaml:"otlp_endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
}

// MetricsConfig controls internal/metrics and internal/httpserver.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"` // http listen address for /metrics, /healthz
}

// PresetsConfig controls internal/presets (Redis-backed breakpoint
// presets plus the fsnotify-driven file watcher).
type PresetsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	RedisAddr  string `yaml:"redis_addr"`
	WatchFile  string `yaml:"watch_file"`
}

// AuditConfig controls internal/audit (session audit log).
type AuditConfig struct {
	Enabled bool   `yaml:"enabled"`
	Driver  string `yaml:"driver"` // sqlite|mysql|postgres
	DSN     string `yaml:"dsn"`
}

// HistoryConfig controls internal/evalhistory (MongoDB REPL transcript).
type HistoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	URI     string `yaml:"uri"`
	DBName  string `yaml:"database"`
}

// ObserverConfig controls internal/observer (websocket spectator feed).
type ObserverConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Default returns the configuration used when no luaud.yaml is present.
func Default() *Config {
	return &Config{
		ScriptExtension: DefaultScriptExtension,
		Log:             LogConfig{Level: "info", Format: "text"},
		Tracing:         TracingConfig{Enabled: true, ExporterType: "stdout", SamplingRate: 1.0},
		Metrics:         MetricsConfig{Enabled: true, Addr: ":9090"},
		Audit:           AuditConfig{Driver: "sqlite", DSN: "luaud_audit.db"},
	}
}

// Load reads a YAML config file by parsing it onto a Default() base, so
// every field the file does not set keeps its default; a field the file
// sets explicitly, even to a zero value, overrides the default.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
