package logsink

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestReadRecordsMergesRotatedFiles(t *testing.T) {
	clock := newClock()
	sink, err := New(WithDirectory(t.TempDir()), WithLaunchName("demo"), WithMaxFileSize(150), withClock(clock.Now))
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	for i := 0; i < 6; i++ {
		sink.ChildOutput("sim", strings.Repeat("s", 30))
		sink.ChildOutput("viz", "frame")
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}

	all, err := ReadRecords(sink.Dir(), "")
	if err != nil {
		t.Fatalf("ReadRecords returned error: %v", err)
	}
	if len(all) != 12 {
		t.Fatalf("expected 12 records, got %d", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i].Timestamp.Before(all[i-1].Timestamp) {
			t.Fatalf("records out of order at %d", i)
		}
	}

	sim, err := ReadRecords(sink.Dir(), "sim")
	if err != nil {
		t.Fatalf("ReadRecords returned error: %v", err)
	}
	if len(sim) != 6 {
		t.Fatalf("expected 6 sim records, got %d", len(sim))
	}
	if got, want := sink.Dir(), LaunchDir(filepath.Dir(sink.Dir()), "demo"); got != want {
		t.Fatalf("LaunchDir mismatch: %q vs %q", got, want)
	}
}

func TestReadRecordsRejectsCorruptLines(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "sim.log"), []byte("{not json}\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := ReadRecords(dir, ""); err == nil || !strings.Contains(err.Error(), "sim.log:1") {
		t.Fatalf("expected located decode error, got %v", err)
	}
}

func TestReadRecordsMissingDir(t *testing.T) {
	if _, err := ReadRecords(filepath.Join(t.TempDir(), "absent"), ""); err == nil {
		t.Fatalf("expected error for missing directory")
	}
}
