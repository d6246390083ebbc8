package logsink

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Paintersrp/simlaunch/internal/launcher"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func readRecords(t *testing.T, path string) []Record {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	var records []Record
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			t.Fatalf("decode %q: %v", scanner.Text(), err)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("scan %s: %v", path, err)
	}
	return records
}

func rotatedNames(t *testing.T, dir, label string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	var names []string
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), label+"-") {
			names = append(names, entry.Name())
		}
	}
	return names
}

func TestSinkWritesObserverEvents(t *testing.T) {
	root := t.TempDir()
	sink, err := New(WithDirectory(root), WithLaunchName("Drake Demo"))
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	t.Cleanup(func() { _ = sink.Close() })

	if got, want := sink.Dir(), filepath.Join(root, "drake_demo"); got != want {
		t.Fatalf("unexpected dir: got %q want %q", got, want)
	}

	sink.ChildStarted(launcher.ChildInfo{Label: "sim", PID: 7, Args: []string{"sim", "--world"}})
	sink.ChildOutput("sim", "WARNING: no display")
	sink.ChildOutput("sim", "stepping")
	sink.ChildOutput("lcm/spy", "ok")
	sink.ChildExited("sim", 2)

	records := readRecords(t, filepath.Join(sink.Dir(), "sim.log"))
	if len(records) != 4 {
		t.Fatalf("expected 4 records, got %d: %+v", len(records), records)
	}
	if records[0].Source != SourceSystem || !strings.Contains(records[0].Message, "pid=7") {
		t.Fatalf("unexpected start record: %+v", records[0])
	}
	if records[1].Source != SourceOutput || records[1].Level != "warn" {
		t.Fatalf("unexpected output record: %+v", records[1])
	}
	if records[2].Level != "info" {
		t.Fatalf("expected info level, got %+v", records[2])
	}
	if records[3].Level != "error" || records[3].Message != "exited code=2" {
		t.Fatalf("unexpected exit record: %+v", records[3])
	}
	for _, rec := range records {
		if rec.Launch != "Drake Demo" || rec.Label != "sim" || rec.Timestamp.IsZero() {
			t.Fatalf("incomplete record: %+v", rec)
		}
	}

	spy := readRecords(t, filepath.Join(sink.Dir(), "lcm_spy.log"))
	if len(spy) != 1 || spy[0].Label != "lcm/spy" {
		t.Fatalf("unexpected sanitized label file contents: %+v", spy)
	}
}

func TestSinkRotatesBySizeAndPrunesByCount(t *testing.T) {
	clock := newClock()
	sink, err := New(
		WithDirectory(t.TempDir()),
		WithMaxFileSize(200),
		WithMaxFileCount(3),
		withClock(clock.Now),
	)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	t.Cleanup(func() { _ = sink.Close() })

	for i := 0; i < 20; i++ {
		if err := sink.Write(Record{Label: "sim", Message: strings.Repeat("x", 60), Source: SourceOutput}); err != nil {
			t.Fatalf("Write returned error: %v", err)
		}
	}
	// A label sharing the prefix must not be pruned.
	if err := sink.Write(Record{Label: "sim-bridge", Message: "hello"}); err != nil {
		t.Fatalf("Write returned error: %v", err)
	}

	rotated := rotatedNames(t, sink.Dir(), "sim")
	var own []string
	for _, name := range rotated {
		if name != "sim-bridge.log" {
			own = append(own, name)
		}
	}
	if len(own) != 2 {
		t.Fatalf("expected 2 rotated files besides the active one, got %v", rotated)
	}
	if _, err := os.Stat(filepath.Join(sink.Dir(), "sim-bridge.log")); err != nil {
		t.Fatalf("prefix-sharing label file removed: %v", err)
	}
	info, err := os.Stat(filepath.Join(sink.Dir(), "sim.log"))
	if err != nil {
		t.Fatalf("stat active file: %v", err)
	}
	if info.Size() > 200 {
		t.Fatalf("active file exceeds max size: %d", info.Size())
	}
}

func TestSinkPrunesByTotalSize(t *testing.T) {
	clock := newClock()
	sink, err := New(
		WithDirectory(t.TempDir()),
		WithMaxFileSize(150),
		WithMaxTotalSize(400),
		withClock(clock.Now),
	)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	t.Cleanup(func() { _ = sink.Close() })

	for i := 0; i < 30; i++ {
		if err := sink.Write(Record{Label: "viz", Message: strings.Repeat("y", 40)}); err != nil {
			t.Fatalf("Write returned error: %v", err)
		}
	}

	entries, err := os.ReadDir(sink.Dir())
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	var total int64
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			t.Fatalf("stat: %v", err)
		}
		total += info.Size()
	}
	if total > 400 {
		t.Fatalf("retained %d bytes, want at most 400", total)
	}
	if len(entries) < 2 {
		t.Fatalf("expected rotation to happen, got %d files", len(entries))
	}
}

func TestSinkRotatesByAge(t *testing.T) {
	clock := newClock()
	sink, err := New(WithDirectory(t.TempDir()), WithMaxFileAge(time.Minute), withClock(clock.Now))
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	t.Cleanup(func() { _ = sink.Close() })

	if err := sink.Write(Record{Label: "sim", Message: "first"}); err != nil {
		t.Fatalf("Write returned error: %v", err)
	}
	if err := sink.Write(Record{Label: "sim", Message: "second"}); err != nil {
		t.Fatalf("Write returned error: %v", err)
	}
	if got := rotatedNames(t, sink.Dir(), "sim"); len(got) != 0 {
		t.Fatalf("unexpected rotation before max age: %v", got)
	}

	clock.Advance(2 * time.Minute)
	if err := sink.Write(Record{Label: "sim", Message: "third"}); err != nil {
		t.Fatalf("Write returned error: %v", err)
	}
	if got := rotatedNames(t, sink.Dir(), "sim"); len(got) != 1 {
		t.Fatalf("expected one rotated file, got %v", got)
	}
	records := readRecords(t, filepath.Join(sink.Dir(), "sim.log"))
	if len(records) != 1 || records[0].Message != "third" {
		t.Fatalf("unexpected active file contents: %+v", records)
	}
}

func TestSinkRequiresDirectory(t *testing.T) {
	if _, err := New(); err == nil {
		t.Fatalf("expected error without directory")
	}
}

func TestSinkWriteAfterClose(t *testing.T) {
	sink, err := New(WithDirectory(t.TempDir()))
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
	if err := sink.Write(Record{Label: "sim", Message: "late"}); err == nil {
		t.Fatalf("expected error after close")
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("second Close returned error: %v", err)
	}
}

func TestInferLevel(t *testing.T) {
	tests := map[string]string{
		"ERROR: boom":          "error",
		"warning: slow":        "warn",
		"[debug] tick":         "debug",
		"plain line":           "info",
		"terror is not a word": "info",
	}
	for message, want := range tests {
		if got := inferLevel(message); got != want {
			t.Fatalf("inferLevel(%q) = %q, want %q", message, got, want)
		}
	}
}
