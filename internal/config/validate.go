package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strings"

	"github.com/docker/go-connections/nat"
)

// SupportedVersion is the only launch file version understood by Load.
const SupportedVersion = "v1"

// Validate enforces invariants the schema cannot express.
func (f *LaunchFile) Validate() error {
	if f.Version != SupportedVersion {
		return fmt.Errorf("version: unsupported version %q (want %q)", f.Version, SupportedVersion)
	}
	if f.Name == "" {
		return errors.New("name is required")
	}
	if f.Duration.Duration < 0 {
		return errors.New("duration must not be negative")
	}
	if len(f.Children) == 0 {
		return errors.New("at least one child must be defined")
	}

	labels := make(map[string]int, len(f.Children))
	for idx, child := range f.Children {
		if child == nil {
			return fmt.Errorf("%s is null", childField(idx, ""))
		}
		if len(child.Command) == 0 || strings.TrimSpace(child.Command[0]) == "" {
			return fmt.Errorf("%s: command must not be empty", childField(idx, "command"))
		}
		if prev, dup := labels[child.Label]; dup {
			return fmt.Errorf("%s: label %q already used by children[%d]", childField(idx, "label"), child.Label, prev)
		}
		labels[child.Label] = idx
		for tagIdx, tag := range child.Tags {
			if strings.TrimSpace(tag) == "" {
				return fmt.Errorf("%s: tag must not be empty", childField(idx, fmt.Sprintf("tags[%d]", tagIdx)))
			}
		}
		if child.Settle.Duration < 0 {
			return fmt.Errorf("%s: must not be negative", childField(idx, "settle"))
		}
		if child.Ready != nil {
			if err := validateReady(idx, child.Ready); err != nil {
				return err
			}
		}
	}
	return nil
}

func validateReady(idx int, spec *ReadySpec) error {
	if spec.TCP == nil && spec.HTTP == nil && spec.Command == nil && spec.Log == nil && spec.File == nil {
		return fmt.Errorf("%s: at least one probe must be configured", childField(idx, "ready"))
	}
	if spec.Timeout.Duration <= 0 {
		return fmt.Errorf("%s: must be positive", childField(idx, "ready.timeout"))
	}
	if spec.Interval.Duration <= 0 {
		return fmt.Errorf("%s: must be positive", childField(idx, "ready.interval"))
	}
	if spec.TCP != nil {
		if err := validateAddress(spec.TCP.Address); err != nil {
			return fmt.Errorf("%s: %w", childField(idx, "ready.tcp.address"), err)
		}
	}
	if spec.HTTP != nil {
		u, err := url.Parse(spec.HTTP.URL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%s: invalid url %q", childField(idx, "ready.http.url"), spec.HTTP.URL)
		}
		for _, code := range spec.HTTP.ExpectStatus {
			if code < 100 || code > 599 {
				return fmt.Errorf("%s: invalid status %d", childField(idx, "ready.http.expectStatus"), code)
			}
		}
	}
	if spec.Command != nil && len(spec.Command.Command) == 0 {
		return fmt.Errorf("%s: requires at least one argument", childField(idx, "ready.command.command"))
	}
	if spec.Log != nil {
		if spec.Log.Pattern == "" {
			return fmt.Errorf("%s: must not be empty", childField(idx, "ready.log.pattern"))
		}
		if _, err := regexp.Compile(spec.Log.Pattern); err != nil {
			return fmt.Errorf("%s: %w", childField(idx, "ready.log.pattern"), err)
		}
	}
	if spec.File != nil && spec.File.Path == "" {
		return fmt.Errorf("%s: must not be empty", childField(idx, "ready.file.path"))
	}
	return nil
}

// validateAddress checks a host:port pair, reusing docker's port parsing so
// port ranges and out-of-range values are rejected the same way.
func validateAddress(address string) error {
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return fmt.Errorf("invalid address %q: %w", address, err)
	}
	if host == "" {
		return fmt.Errorf("invalid address %q: host must be specified", address)
	}
	value, err := nat.ParsePort(port)
	if err != nil {
		return fmt.Errorf("invalid address %q: %w", address, err)
	}
	if value < 1 || value > 65535 {
		return fmt.Errorf("invalid address %q: port must be in range 1-65535", address)
	}
	return nil
}

func childField(idx int, field string) string {
	if field == "" {
		return fmt.Sprintf("children[%d]", idx)
	}
	return fmt.Sprintf("children[%d].%s", idx, field)
}
