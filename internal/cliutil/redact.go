package cliutil

import (
	"regexp"
	"strings"
)

const redactedPlaceholder = "[redacted]"

var (
	secretKeyPattern  = regexp.MustCompile(`(?i)\b(` + strings.Join(secretKeys(), "|") + `)\b(\s*[:=]\s*)(["']?)([^"'\s]+)(["']?)`)
	secretNamePattern = regexp.MustCompile(`(?i)(PASSWORD|SECRET|TOKEN|API_KEY|ACCESS_KEY|LICENSE_KEY)`)
)

func secretKeys() []string {
	keys := []string{
		"AWS_ACCESS_KEY_ID",
		"AWS_SECRET_ACCESS_KEY",
		"AWS_SESSION_TOKEN",
		"GITHUB_TOKEN",
		"MOSEK_LICENSE_KEY",
		"GUROBI_LICENSE_KEY",
		"API_KEY",
		"ACCESS_TOKEN",
		"CLIENT_SECRET",
	}
	escaped := make([]string, len(keys))
	for i, key := range keys {
		escaped[i] = regexp.QuoteMeta(key)
	}
	return escaped
}

// RedactSecrets masks known secret key assignments in message, e.g. an
// argument such as --token=abc or API_KEY=abc.
func RedactSecrets(message string) string {
	if message == "" {
		return message
	}
	return secretKeyPattern.ReplaceAllString(message, "$1$2$3"+redactedPlaceholder+"$5")
}

// RedactEnv returns a copy of env with the values of secret-looking keys
// replaced by a placeholder.
func RedactEnv(env map[string]string) map[string]string {
	if env == nil {
		return nil
	}
	out := make(map[string]string, len(env))
	for k, v := range env {
		if secretNamePattern.MatchString(k) {
			v = redactedPlaceholder
		}
		out[k] = v
	}
	return out
}
