package probe

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/Paintersrp/simlaunch/internal/config"
)

type fileProber struct {
	path string
}

func newFileProber(spec *config.FileProbeSpec) Prober {
	return &fileProber{path: filepath.Clean(spec.Path)}
}

// Probe succeeds as soon as the path exists. Otherwise it watches the parent
// directory and returns once the path is created or ctx ends. A missing
// parent directory fails the attempt so the gate retries after its interval.
func (p *fileProber) Probe(ctx context.Context) error {
	if exists(p.path) {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	dir := filepath.Dir(p.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	// The path may have appeared between the first check and Add.
	if exists(p.path) {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return errors.New("watcher closed")
			}
			if filepath.Clean(event.Name) != p.path {
				continue
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if exists(p.path) {
				return nil
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return errors.New("watcher closed")
			}
			return fmt.Errorf("watch %s: %w", dir, err)
		}
	}
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
