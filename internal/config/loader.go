package config

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads a launch file from the provided path, validates it against the
// embedded schema and resolves directories and environment references.
func Load(path string) (*LaunchFile, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve launch file path: %w", err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("open launch file: %w", err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%s: decode: %w", absPath, err)
	}
	if err := validateAgainstSchema(raw); err != nil {
		return nil, fmt.Errorf("%s: %w", absPath, err)
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	var doc LaunchFile
	if err := decoder.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%s: decode: %w", absPath, err)
	}
	doc.Source = absPath

	fileDir := filepath.Dir(absPath)
	doc.Workdir = resolveWorkdir(fileDir, os.ExpandEnv(doc.Workdir))

	for idx, child := range doc.Children {
		if child == nil {
			continue
		}
		for i, arg := range child.Command {
			child.Command[i] = os.ExpandEnv(arg)
		}
		child.ResolvedDir = resolveWorkdir(doc.Workdir, os.ExpandEnv(child.Dir))

		env := make(map[string]string, len(doc.Env)+len(child.Env))
		for k, v := range doc.Env {
			env[k] = os.ExpandEnv(v)
		}
		if child.EnvFromFile != "" {
			expanded := os.ExpandEnv(child.EnvFromFile)
			if !filepath.IsAbs(expanded) {
				expanded = filepath.Clean(filepath.Join(child.ResolvedDir, expanded))
			}
			child.EnvFromFile = expanded

			fileEnv, err := loadEnvFile(expanded)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", childField(idx, "envFromFile"), err)
			}
			for k, v := range fileEnv {
				env[k] = v
			}
		}
		for k, v := range child.Env {
			env[k] = os.ExpandEnv(v)
		}
		if len(env) > 0 {
			child.Env = env
		} else {
			child.Env = nil
		}

		if child.Ready != nil && child.Ready.File != nil {
			expanded := os.ExpandEnv(child.Ready.File.Path)
			if expanded != "" && !filepath.IsAbs(expanded) {
				expanded = filepath.Clean(filepath.Join(child.ResolvedDir, expanded))
			}
			child.Ready.File.Path = expanded
		}
	}

	if err := doc.ApplyDefaults(); err != nil {
		return nil, fmt.Errorf("%s: %w", absPath, err)
	}
	if err := doc.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", absPath, err)
	}
	return &doc, nil
}

func resolveWorkdir(base, workdir string) string {
	if workdir == "" {
		return base
	}
	if filepath.IsAbs(workdir) {
		return filepath.Clean(workdir)
	}
	return filepath.Clean(filepath.Join(base, workdir))
}

func baseName(command string) string {
	return filepath.Base(command)
}

// loadEnvFile reads KEY=VALUE lines. Blank lines and # comments are skipped,
// an "export " prefix is accepted, and values may be single or double quoted
// with a trailing comment after the closing quote.
func loadEnvFile(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("load env file %q: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	values := make(map[string]string)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		raw = strings.TrimSpace(strings.TrimPrefix(raw, "export "))
		key, rest, ok := strings.Cut(raw, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("load env file %q: invalid line %d", path, lineNo)
		}
		value, expand, err := parseEnvValue(strings.TrimSpace(rest))
		if err != nil {
			return nil, fmt.Errorf("load env file %q: %s on line %d: %w", path, key, lineNo, err)
		}
		if expand {
			value = os.ExpandEnv(value)
		}
		values[key] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("load env file %q: %w", path, err)
	}
	return values, nil
}

// parseEnvValue strips quoting and trailing comments. Single-quoted values are
// taken literally; everything else is subject to variable expansion.
func parseEnvValue(value string) (string, bool, error) {
	switch {
	case strings.HasPrefix(value, "'"):
		end := strings.IndexByte(value[1:], '\'')
		if end < 0 {
			return "", false, fmt.Errorf("unmatched quote")
		}
		if err := trailingComment(value[end+2:]); err != nil {
			return "", false, err
		}
		return value[1 : end+1], false, nil
	case strings.HasPrefix(value, "\""):
		end := closingDoubleQuote(value)
		if end < 0 {
			return "", false, fmt.Errorf("unmatched quote")
		}
		unquoted, err := strconv.Unquote(value[:end+1])
		if err != nil {
			return "", false, fmt.Errorf("parse value: %w", err)
		}
		if err := trailingComment(value[end+1:]); err != nil {
			return "", false, err
		}
		return unquoted, true, nil
	default:
		if comment := strings.IndexByte(value, '#'); comment >= 0 {
			value = strings.TrimSpace(value[:comment])
		}
		return value, true, nil
	}
}

func closingDoubleQuote(value string) int {
	for i := 1; i < len(value); i++ {
		switch value[i] {
		case '\\':
			i++
		case '"':
			return i
		}
	}
	return -1
}

func trailingComment(rest string) error {
	rest = strings.TrimSpace(rest)
	if rest == "" || strings.HasPrefix(rest, "#") {
		return nil
	}
	return fmt.Errorf("unexpected text %q after closing quote", rest)
}
