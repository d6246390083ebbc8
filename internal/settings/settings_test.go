package settings

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func newFlags(t *testing.T) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	return fs
}

// isolate keeps a simlaunch.yaml in the working directory or user config dir
// from leaking into the test.
func isolate(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv("HOME", dir)
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)
	cfg, err := Load(newFlags(t))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	def := Default()
	if cfg.PollInterval != def.PollInterval || cfg.Log.Level != "warn" || cfg.Color != "auto" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.LogMaxFiles != 5 {
		t.Fatalf("expected default max files 5, got %d", cfg.LogMaxFiles)
	}
	if cfg.MaxFileSizeBytes() != 10<<20 || cfg.MaxTotalSizeBytes() != 0 {
		t.Fatalf("unexpected size limits: %d %d", cfg.MaxFileSizeBytes(), cfg.MaxTotalSizeBytes())
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	isolate(t)
	t.Setenv("SIMLAUNCH_POLL_INTERVAL", "250ms")
	t.Setenv("SIMLAUNCH_LOG_LEVEL", "debug")
	t.Setenv("SIMLAUNCH_LOG_DIR", "/var/log/sim")
	t.Setenv("SIMLAUNCH_LOG_MAX_FILES", "9")
	t.Setenv("SIMLAUNCH_LOG_MAX_TOTAL_SIZE", "1Gi")

	cfg, err := Load(newFlags(t))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.PollInterval != 250*time.Millisecond {
		t.Fatalf("expected env poll interval, got %v", cfg.PollInterval)
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("expected env log level, got %q", cfg.Log.Level)
	}
	if cfg.LogDir != "/var/log/sim" || cfg.LogMaxFiles != 9 {
		t.Fatalf("unexpected log retention: %+v", cfg)
	}
	if cfg.MaxTotalSizeBytes() != 1<<30 {
		t.Fatalf("expected 1GiB total size, got %d", cfg.MaxTotalSizeBytes())
	}
}

func TestLoadPrecedence(t *testing.T) {
	isolate(t)
	file := filepath.Join(t.TempDir(), "settings.yaml")
	contents := strings.Join([]string{
		"poll_interval: 300ms",
		"launch_grace: 75ms",
		"color: never",
		"log:",
		"  format: json",
	}, "\n")
	if err := os.WriteFile(file, []byte(contents), 0o644); err != nil {
		t.Fatalf("write settings: %v", err)
	}
	t.Setenv("SIMLAUNCH_LAUNCH_GRACE", "120ms")

	fs := newFlags(t)
	if err := fs.Parse([]string{"--config", file, "--color", "always"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	cfg, err := Load(fs)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.PollInterval != 300*time.Millisecond {
		t.Fatalf("expected file poll interval, got %v", cfg.PollInterval)
	}
	if cfg.LaunchGrace != 120*time.Millisecond {
		t.Fatalf("expected env to override file, got %v", cfg.LaunchGrace)
	}
	if cfg.Color != "always" {
		t.Fatalf("expected flag to override file, got %q", cfg.Color)
	}
	if cfg.Log.Format != "json" {
		t.Fatalf("expected nested file value, got %q", cfg.Log.Format)
	}
}

func TestLoadMissingExplicitConfig(t *testing.T) {
	isolate(t)
	fs := newFlags(t)
	if err := fs.Parse([]string{"--config", filepath.Join(t.TempDir(), "absent.yaml")}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	if _, err := Load(fs); err == nil {
		t.Fatalf("expected error for missing explicit settings file")
	}
}

func TestValidate(t *testing.T) {
	tests := map[string]func(*Settings){
		"color":         func(s *Settings) { s.Color = "rainbow" },
		"poll interval": func(s *Settings) { s.PollInterval = 0 },
		"launch grace":  func(s *Settings) { s.LaunchGrace = -time.Second },
		"kill timeout":  func(s *Settings) { s.KillTimeout = 0 },
		"stats":         func(s *Settings) { s.StatsInterval = 0 },
		"retention":     func(s *Settings) { s.LogMaxFiles = -1 },
		"file size":     func(s *Settings) { s.LogMaxFileSize = "huge" },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}
