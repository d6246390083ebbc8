package launcher

import (
	"os"
	"sort"
	"strings"
)

// buildEnv copies the parent environment, overlays overrides and forces the C
// locale so children parsing numeric resource files are not affected by the
// operator's locale.
func buildEnv(base []string, overrides map[string]string) []string {
	values := make(map[string]string, len(base)+len(overrides)+1)
	order := make([]string, 0, len(base)+len(overrides)+1)
	set := func(key, value string) {
		if _, ok := values[key]; !ok {
			order = append(order, key)
		}
		values[key] = value
	}

	for _, kv := range base {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			continue
		}
		set(key, value)
	}

	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		set(k, overrides[k])
	}
	set("LC_ALL", "C")

	env := make([]string, 0, len(order))
	for _, key := range order {
		env = append(env, key+"="+values[key])
	}
	return env
}

func childEnv(overrides map[string]string) []string {
	return buildEnv(os.Environ(), overrides)
}
