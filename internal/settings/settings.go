// Package settings resolves simlaunch's runtime settings from flags, SIMLAUNCH_*
// environment variables and an optional simlaunch.yaml, in that order of
// precedence.
package settings

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/Paintersrp/simlaunch/internal/launcher"
	"github.com/Paintersrp/simlaunch/internal/logger"
	"github.com/Paintersrp/simlaunch/internal/procstats"
	"github.com/Paintersrp/simlaunch/internal/resources"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SIMLAUNCH"

// Settings are the knobs that are not part of a launch file.
type Settings struct {
	Log logger.Config `mapstructure:"log"`

	LogDir          string        `mapstructure:"log_dir"`
	LogMaxFileSize  string        `mapstructure:"log_max_file_size"`
	LogMaxTotalSize string        `mapstructure:"log_max_total_size"`
	LogMaxFileAge   time.Duration `mapstructure:"log_max_file_age"`
	LogMaxFiles     int           `mapstructure:"log_max_files"`

	PollInterval time.Duration `mapstructure:"poll_interval"`
	LaunchGrace  time.Duration `mapstructure:"launch_grace"`
	KillTimeout  time.Duration `mapstructure:"kill_timeout"`

	StatsInterval time.Duration `mapstructure:"stats_interval"`

	ControlAddr string `mapstructure:"control_addr"`
	Color       string `mapstructure:"color"`
}

// Flag names bound to settings keys.
var flagKeys = map[string]string{
	"log-level":          "log.level",
	"log-format":         "log.format",
	"log-output":         "log.output_path",
	"log-dir":            "log_dir",
	"log-max-file-size":  "log_max_file_size",
	"log-max-total-size": "log_max_total_size",
	"log-max-file-age":   "log_max_file_age",
	"log-max-files":      "log_max_files",
	"poll-interval":      "poll_interval",
	"launch-grace":       "launch_grace",
	"kill-timeout":       "kill_timeout",
	"stats-interval":     "stats_interval",
	"control-addr":       "control_addr",
	"color":              "color",
}

// Default returns the built-in settings.
func Default() Settings {
	return Settings{
		Log: logger.Config{
			Level:      "warn",
			Format:     "console",
			OutputPath: "stderr",
		},
		LogMaxFileSize: "10MiB",
		LogMaxFiles:    5,
		PollInterval:   launcher.DefaultPollInterval,
		LaunchGrace:    launcher.DefaultLaunchGrace,
		KillTimeout:    5 * time.Second,
		StatsInterval:  procstats.DefaultInterval,
		Color:          "auto",
	}
}

// RegisterFlags adds the settings flags to fs with the built-in defaults.
func RegisterFlags(fs *pflag.FlagSet) {
	def := Default()
	fs.String("config", "", "Path to a simlaunch.yaml settings file")
	fs.String("log-level", def.Log.Level, "Diagnostics level (debug, info, warn, error)")
	fs.String("log-format", def.Log.Format, "Diagnostics format (console, json)")
	fs.String("log-output", def.Log.OutputPath, "Diagnostics destination (stderr, stdout or a file)")
	fs.String("log-dir", def.LogDir, "Directory to persist child output as JSON lines")
	fs.String("log-max-file-size", def.LogMaxFileSize, "Maximum size of individual log files before rotation (e.g. 10MiB)")
	fs.String("log-max-total-size", def.LogMaxTotalSize, "Maximum total size of retained log files per child (e.g. 1GiB)")
	fs.Duration("log-max-file-age", def.LogMaxFileAge, "Maximum age of a log file before rotation")
	fs.Int("log-max-files", def.LogMaxFiles, "Maximum number of log files to retain per child")
	fs.Duration("poll-interval", def.PollInterval, "Upper bound on output polling latency")
	fs.Duration("launch-grace", def.LaunchGrace, "Pause after each launch before the fail-fast check")
	fs.Duration("kill-timeout", def.KillTimeout, "How long to wait for each child to be reaped after kill")
	fs.Duration("stats-interval", def.StatsInterval, "How often running children are sampled for RSS and CPU time")
	fs.String("control-addr", def.ControlAddr, "Serve status, terminate and metrics endpoints on this address")
	fs.String("color", def.Color, "Colour output prefixes (auto, always, never)")
}

// Load resolves settings. flags may be nil; unknown flags are ignored.
func Load(flags *pflag.FlagSet) (*Settings, error) {
	v := viper.New()
	def := Default()
	v.SetDefault("log.level", def.Log.Level)
	v.SetDefault("log.format", def.Log.Format)
	v.SetDefault("log.output_path", def.Log.OutputPath)
	v.SetDefault("log_dir", def.LogDir)
	v.SetDefault("log_max_file_size", def.LogMaxFileSize)
	v.SetDefault("log_max_total_size", def.LogMaxTotalSize)
	v.SetDefault("log_max_file_age", def.LogMaxFileAge)
	v.SetDefault("log_max_files", def.LogMaxFiles)
	v.SetDefault("poll_interval", def.PollInterval)
	v.SetDefault("launch_grace", def.LaunchGrace)
	v.SetDefault("kill_timeout", def.KillTimeout)
	v.SetDefault("stats_interval", def.StatsInterval)
	v.SetDefault("control_addr", def.ControlAddr)
	v.SetDefault("color", def.Color)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	var configFile string
	if flags != nil {
		for name, key := range flagKeys {
			if flag := flags.Lookup(name); flag != nil {
				if err := v.BindPFlag(key, flag); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
		if flag := flags.Lookup("config"); flag != nil {
			configFile = flag.Value.String()
		}
	}
	if configFile == "" {
		configFile = os.Getenv(EnvPrefix + "_CONFIG")
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("simlaunch")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, "simlaunch"))
		}
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read settings: %w", err)
		}
	}

	cfg := def
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings that cannot be applied.
func (s *Settings) Validate() error {
	switch s.Color {
	case "auto", "always", "never":
	default:
		return fmt.Errorf("color: unsupported value %q (want auto, always or never)", s.Color)
	}
	if s.PollInterval <= 0 {
		return errors.New("poll_interval must be positive")
	}
	if s.LaunchGrace < 0 {
		return errors.New("launch_grace must not be negative")
	}
	if s.KillTimeout <= 0 {
		return errors.New("kill_timeout must be positive")
	}
	if s.StatsInterval <= 0 {
		return errors.New("stats_interval must be positive")
	}
	if _, err := resources.ParseSize(s.LogMaxFileSize); err != nil {
		return fmt.Errorf("log_max_file_size: %w", err)
	}
	if _, err := resources.ParseSize(s.LogMaxTotalSize); err != nil {
		return fmt.Errorf("log_max_total_size: %w", err)
	}
	if s.LogMaxFiles < 0 || s.LogMaxFileAge < 0 {
		return errors.New("log retention limits must not be negative")
	}
	return nil
}

// MaxFileSizeBytes returns the parsed per-file rotation limit.
func (s *Settings) MaxFileSizeBytes() int64 {
	n, _ := resources.ParseSize(s.LogMaxFileSize)
	return n
}

// MaxTotalSizeBytes returns the parsed per-child retention limit.
func (s *Settings) MaxTotalSizeBytes() int64 {
	n, _ := resources.ParseSize(s.LogMaxTotalSize)
	return n
}
