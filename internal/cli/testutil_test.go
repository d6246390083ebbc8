package cli

import (
	"bytes"
	stdcontext "context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// isolate keeps a simlaunch.yaml or SIMLAUNCH_* variable on the host from
// leaking into a test and returns a scratch directory.
func isolate(t *testing.T) string {
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
	for _, kv := range os.Environ() {
		if key, _, _ := strings.Cut(kv, "="); strings.HasPrefix(key, "SIMLAUNCH_") {
			t.Setenv(key, "")
			_ = os.Unsetenv(key)
		}
	}
	return dir
}

func launchManifest(lines ...string) string {
	return strings.Join(lines, "\n") + "\n"
}

func writeManifest(t *testing.T, dir, contents string) string {
	t.Helper()
	path := filepath.Join(dir, "launch.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write launch file: %v", err)
	}
	return path
}

func executeRoot(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	root := NewRootCmd()
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(append([]string{"--color", "never", "--log-level", "error"}, args...))
	err := root.ExecuteContext(stdcontext.Background())
	return stdout.String(), stderr.String(), err
}
