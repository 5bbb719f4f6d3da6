// Package config loads clawmon's runtime configuration from an optional
// clawmon-config.json plus CLAWMON_* environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds every knob the monitor needs. All fields have working defaults;
// a missing config file is not an error.
type Config struct {
	Host  string `mapstructure:"host" json:"host"`
	Port  int    `mapstructure:"port" json:"port"`
	Debug bool   `mapstructure:"debug" json:"debug"`

	// Runtime log tail (daily JSON-per-line file).
	LogDir           string        `mapstructure:"log_dir" json:"log_dir"`
	LogFilePrefix    string        `mapstructure:"log_file_prefix" json:"log_file_prefix"`
	LogPollInterval  time.Duration `mapstructure:"log_poll_interval" json:"log_poll_interval"`
	EnableLogWatcher bool          `mapstructure:"enable_log_watcher" json:"enable_log_watcher"`

	// Per-session JSONL transcripts.
	TranscriptsDir          string        `mapstructure:"transcripts_dir" json:"transcripts_dir"`
	TranscriptRescanInterval time.Duration `mapstructure:"transcript_rescan_interval" json:"transcript_rescan_interval"`

	// Session snapshot files and the external CLI poller.
	SnapshotsDir      string        `mapstructure:"snapshots_dir" json:"snapshots_dir"`
	CLICommand        string        `mapstructure:"cli_command" json:"cli_command"`
	CLIPollInterval   time.Duration `mapstructure:"cli_poll_interval" json:"cli_poll_interval"`
	EnableCLIPolling  bool          `mapstructure:"enable_cli_polling" json:"enable_cli_polling"`

	// Bounded-memory knobs.
	EventBufferSize     int           `mapstructure:"event_buffer_size" json:"event_buffer_size"`
	ToolCallMapSize     int           `mapstructure:"tool_call_map_size" json:"tool_call_map_size"`
	PendingEventMaxAge  time.Duration `mapstructure:"pending_event_max_age" json:"pending_event_max_age"`
	CoordinatorSweep    time.Duration `mapstructure:"coordinator_sweep" json:"coordinator_sweep"`
	RunRetention        time.Duration `mapstructure:"run_retention" json:"run_retention"`
	RunSweep            time.Duration `mapstructure:"run_sweep" json:"run_sweep"`
}

// Default returns the built-in configuration.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Host:                     "localhost",
		Port:                     3011,
		LogDir:                   "/tmp/openclaw",
		LogFilePrefix:            "openclaw-",
		LogPollInterval:          time.Second,
		EnableLogWatcher:         true,
		TranscriptsDir:           filepath.Join(home, ".openclaw", "agents", "main", "sessions"),
		TranscriptRescanInterval: 5 * time.Second,
		SnapshotsDir:             filepath.Join(home, ".openclaw", "sessions"),
		CLICommand:               "openclaw",
		CLIPollInterval:          5 * time.Second,
		EnableCLIPolling:         true,
		EventBufferSize:          1000,
		ToolCallMapSize:          1000,
		PendingEventMaxAge:       5 * time.Minute,
		CoordinatorSweep:         time.Minute,
		RunRetention:             time.Hour,
		RunSweep:                 10 * time.Minute,
	}
}

// Load reads clawmon-config.json from $HOME or the working directory, applies
// CLAWMON_* environment overrides, and fills in defaults for anything unset.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("clawmon-config")
	v.SetConfigType("json")
	v.AddConfigPath("$HOME")
	v.AddConfigPath(".")

	v.SetEnvPrefix("clawmon")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	applyDefaults(v, Default())

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("host", d.Host)
	v.SetDefault("port", d.Port)
	v.SetDefault("debug", d.Debug)
	v.SetDefault("log_dir", d.LogDir)
	v.SetDefault("log_file_prefix", d.LogFilePrefix)
	v.SetDefault("log_poll_interval", d.LogPollInterval)
	v.SetDefault("enable_log_watcher", d.EnableLogWatcher)
	v.SetDefault("transcripts_dir", d.TranscriptsDir)
	v.SetDefault("transcript_rescan_interval", d.TranscriptRescanInterval)
	v.SetDefault("snapshots_dir", d.SnapshotsDir)
	v.SetDefault("cli_command", d.CLICommand)
	v.SetDefault("cli_poll_interval", d.CLIPollInterval)
	v.SetDefault("enable_cli_polling", d.EnableCLIPolling)
	v.SetDefault("event_buffer_size", d.EventBufferSize)
	v.SetDefault("tool_call_map_size", d.ToolCallMapSize)
	v.SetDefault("pending_event_max_age", d.PendingEventMaxAge)
	v.SetDefault("coordinator_sweep", d.CoordinatorSweep)
	v.SetDefault("run_retention", d.RunRetention)
	v.SetDefault("run_sweep", d.RunSweep)
}

// Validate rejects values that would silently disable bounded-memory behavior.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.EventBufferSize <= 0 {
		return fmt.Errorf("event_buffer_size must be positive, got %d", c.EventBufferSize)
	}
	if c.ToolCallMapSize <= 0 {
		return fmt.Errorf("tool_call_map_size must be positive, got %d", c.ToolCallMapSize)
	}
	if c.RunRetention <= 0 {
		return fmt.Errorf("run_retention must be positive, got %s", c.RunRetention)
	}
	return nil
}

// Addr returns the host:port the HTTP server binds to.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LogFilePath returns the daily log file path for the given date.
func (c *Config) LogFilePath(t time.Time) string {
	return filepath.Join(c.LogDir, c.LogFilePrefix+t.Format("2006-01-02")+".log")
}
