package config

import (
	"fmt"
	"time"
)

// Duration wraps time.Duration for YAML unmarshalling.
type Duration struct {
	time.Duration
	explicit bool
}

// UnmarshalText parses Go duration strings such as "250ms" or "1m30s".
func (d *Duration) UnmarshalText(text []byte) error {
	d.explicit = true
	if len(text) == 0 {
		d.Duration = 0
		return nil
	}
	dur, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = dur
	return nil
}

// MarshalText renders the duration using time.Duration formatting.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// IsSet reports whether the duration was explicitly provided or non-zero.
func (d Duration) IsSet() bool {
	return d.explicit || d.Duration != 0
}

// LaunchFile mirrors the launch.yaml document structure.
type LaunchFile struct {
	Version  string            `yaml:"version"`
	Name     string            `yaml:"name"`
	Workdir  string            `yaml:"workdir"`
	Duration Duration          `yaml:"duration"`
	Env      map[string]string `yaml:"env"`
	Children []*ChildSpec      `yaml:"children"`

	// Source is the absolute path the document was loaded from.
	Source string `yaml:"-"`
}

// ChildSpec declares one process of the group. Children are launched in
// document order.
type ChildSpec struct {
	Label       string            `yaml:"label"`
	Command     []string          `yaml:"command"`
	Dir         string            `yaml:"dir"`
	Env         map[string]string `yaml:"env"`
	EnvFromFile string            `yaml:"envFromFile"`
	TTY         bool              `yaml:"tty"`
	Tags        []string          `yaml:"tags"`
	Settle      Duration          `yaml:"settle"`
	Ready       *ReadySpec        `yaml:"ready"`

	// ResolvedDir is Dir resolved against the launch file workdir.
	ResolvedDir string `yaml:"-"`
}

// HasTag reports whether the child carries tag.
func (c *ChildSpec) HasTag(tag string) bool {
	for _, t := range c.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// ReadySpec gates the launch of later children until every configured probe
// succeeds or Timeout expires.
type ReadySpec struct {
	Timeout  Duration          `yaml:"timeout"`
	Interval Duration          `yaml:"interval"`
	TCP      *TCPProbeSpec     `yaml:"tcp"`
	HTTP     *HTTPProbeSpec    `yaml:"http"`
	Command  *CommandProbeSpec `yaml:"command"`
	Log      *LogProbeSpec     `yaml:"log"`
	File     *FileProbeSpec    `yaml:"file"`
}

// TCPProbeSpec succeeds once Address accepts a connection.
type TCPProbeSpec struct {
	Address string `yaml:"address"`
}

// HTTPProbeSpec succeeds once URL answers with an expected status.
type HTTPProbeSpec struct {
	URL          string `yaml:"url"`
	ExpectStatus []int  `yaml:"expectStatus"`
}

// CommandProbeSpec succeeds once Command exits zero.
type CommandProbeSpec struct {
	Command []string `yaml:"command"`
}

// LogProbeSpec succeeds once the child prints a line matching Pattern.
type LogProbeSpec struct {
	Pattern string `yaml:"pattern"`
}

// FileProbeSpec succeeds once Path exists.
type FileProbeSpec struct {
	Path string `yaml:"path"`
}

const (
	// DefaultReadyTimeout bounds a readiness gate without an explicit timeout.
	DefaultReadyTimeout = 10 * time.Second
	// DefaultReadyInterval spaces probe attempts.
	DefaultReadyInterval = 100 * time.Millisecond
)

// ApplyDefaults fills unset labels and readiness timings.
func (f *LaunchFile) ApplyDefaults() error {
	for idx, child := range f.Children {
		if child == nil {
			return fmt.Errorf("children[%d] is null", idx)
		}
		if child.Label == "" && len(child.Command) > 0 {
			child.Label = baseName(child.Command[0])
		}
		if child.Ready != nil {
			if !child.Ready.Timeout.IsSet() {
				child.Ready.Timeout = Duration{Duration: DefaultReadyTimeout}
			}
			if !child.Ready.Interval.IsSet() {
				child.Ready.Interval = Duration{Duration: DefaultReadyInterval}
			}
		}
	}
	return nil
}
