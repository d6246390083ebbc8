// Package logsink persists child output as JSON lines, one file per label,
// with size and age based rotation.
package logsink

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Paintersrp/simlaunch/internal/launcher"
)

const (
	// SourceOutput marks lines printed by a child.
	SourceOutput = "output"
	// SourceSystem marks lifecycle records written by the launcher.
	SourceSystem = "system"

	rotatedTimeFormat = "20060102T150405.000000000"
)

// Record is a single persisted line.
type Record struct {
	Timestamp time.Time `json:"ts"`
	Launch    string    `json:"launch"`
	Label     string    `json:"label"`
	Level     string    `json:"level"`
	Message   string    `json:"msg"`
	Source    string    `json:"source"`
}

type config struct {
	directory    string
	launch       string
	maxFileSize  int64
	maxTotalSize int64
	maxFileAge   time.Duration
	maxFileCount int
	logger       *zap.Logger
	now          func() time.Time
}

// Option configures a Sink.
type Option func(*config)

// WithDirectory sets the root directory. It is required.
func WithDirectory(dir string) Option {
	return func(c *config) { c.directory = dir }
}

// WithLaunchName groups the files of one launch file under a subdirectory.
func WithLaunchName(name string) Option {
	return func(c *config) { c.launch = name }
}

// WithMaxFileSize rotates a label's file once it would exceed n bytes.
func WithMaxFileSize(n int64) Option {
	return func(c *config) { c.maxFileSize = n }
}

// WithMaxTotalSize prunes rotated files once a label's files exceed n bytes.
func WithMaxTotalSize(n int64) Option {
	return func(c *config) { c.maxTotalSize = n }
}

// WithMaxFileAge rotates a label's file once it is older than d.
func WithMaxFileAge(d time.Duration) Option {
	return func(c *config) { c.maxFileAge = d }
}

// WithMaxFileCount keeps at most n files per label, the active one included.
func WithMaxFileCount(n int) Option {
	return func(c *config) { c.maxFileCount = n }
}

// WithLogger reports write failures that happen inside observer callbacks.
func WithLogger(logger *zap.Logger) Option {
	return func(c *config) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func withClock(now func() time.Time) Option {
	return func(c *config) { c.now = now }
}

// Sink writes records to per-label files. It implements launcher.Observer so
// it can be attached to a launcher directly.
type Sink struct {
	cfg config
	dir string

	mu     sync.Mutex
	files  map[string]*labelFile
	closed bool
}

type labelFile struct {
	label  string
	path   string
	file   *os.File
	size   int64
	opened time.Time
}

// New creates the sink directory and returns a ready sink.
func New(opts ...Option) (*Sink, error) {
	cfg := config{logger: zap.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	if strings.TrimSpace(cfg.directory) == "" {
		return nil, errors.New("logsink: directory is required")
	}
	dir := LaunchDir(cfg.directory, cfg.launch)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("logsink: create %s: %w", dir, err)
	}
	return &Sink{cfg: cfg, dir: dir, files: make(map[string]*labelFile)}, nil
}

// LaunchDir returns the directory under root holding the files of launch.
func LaunchDir(root, launch string) string {
	if launch == "" {
		return root
	}
	return filepath.Join(root, sanitize(strings.ToLower(launch)))
}

// Dir returns the directory holding the label files.
func (s *Sink) Dir() string {
	return s.dir
}

// Write appends rec to the file of rec.Label, rotating first when needed.
func (s *Sink) Write(rec Record) error {
	if rec.Label == "" {
		return errors.New("logsink: record label is required")
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = s.cfg.now()
	}
	if rec.Launch == "" {
		rec.Launch = s.cfg.launch
	}
	if rec.Level == "" {
		rec.Level = inferLevel(rec.Message)
	}
	if rec.Source == "" {
		rec.Source = SourceSystem
	}
	line, err := json.Marshal(&rec)
	if err != nil {
		return fmt.Errorf("logsink: encode record: %w", err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("logsink: closed")
	}
	lf, err := s.fileFor(rec.Label)
	if err != nil {
		return err
	}
	rotated := false
	if s.needsRotation(lf, int64(len(line))) {
		if err := s.rotate(lf); err != nil {
			return err
		}
		rotated = true
	}
	n, err := lf.file.Write(line)
	lf.size += int64(n)
	if err != nil {
		return fmt.Errorf("logsink: write %s: %w", lf.path, err)
	}
	if rotated {
		return s.prune(lf)
	}
	return nil
}

// Close closes every open file. Further writes fail.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	var errs []error
	for _, lf := range s.files {
		if err := lf.file.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.files = nil
	return errors.Join(errs...)
}

func (s *Sink) ChildStarted(info launcher.ChildInfo) {
	s.observe(Record{
		Label:   info.Label,
		Level:   "info",
		Message: fmt.Sprintf("started pid=%d args=%q", info.PID, info.Args),
		Source:  SourceSystem,
	})
}

func (s *Sink) ChildOutput(label, line string) {
	s.observe(Record{Label: label, Message: line, Source: SourceOutput})
}

func (s *Sink) ChildExited(label string, code int) {
	level := "info"
	if code != 0 {
		level = "error"
	}
	s.observe(Record{
		Label:   label,
		Level:   level,
		Message: fmt.Sprintf("exited code=%d", code),
		Source:  SourceSystem,
	})
}

func (s *Sink) observe(rec Record) {
	if err := s.Write(rec); err != nil {
		s.cfg.logger.Warn("persist child log", zap.String("label", rec.Label), zap.Error(err))
	}
}

func (s *Sink) fileFor(label string) (*labelFile, error) {
	if lf, ok := s.files[label]; ok {
		return lf, nil
	}
	lf := &labelFile{
		label: label,
		path:  filepath.Join(s.dir, sanitize(label)+".log"),
	}
	if err := s.open(lf); err != nil {
		return nil, err
	}
	s.files[label] = lf
	return lf, nil
}

func (s *Sink) open(lf *labelFile) error {
	f, err := os.OpenFile(lf.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("logsink: open %s: %w", lf.path, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("logsink: stat %s: %w", lf.path, err)
	}
	lf.file = f
	lf.size = info.Size()
	lf.opened = s.cfg.now()
	return nil
}

func (s *Sink) needsRotation(lf *labelFile, incoming int64) bool {
	if lf.size == 0 {
		return false
	}
	if s.cfg.maxFileSize > 0 && lf.size+incoming > s.cfg.maxFileSize {
		return true
	}
	if s.cfg.maxFileAge > 0 && s.cfg.now().Sub(lf.opened) >= s.cfg.maxFileAge {
		return true
	}
	return false
}

func (s *Sink) rotate(lf *labelFile) error {
	if err := lf.file.Close(); err != nil {
		return fmt.Errorf("logsink: close %s: %w", lf.path, err)
	}
	base := strings.TrimSuffix(lf.path, ".log")
	rotated := fmt.Sprintf("%s-%s.log", base, s.cfg.now().UTC().Format(rotatedTimeFormat))
	if err := os.Rename(lf.path, rotated); err != nil {
		return fmt.Errorf("logsink: rotate %s: %w", lf.path, err)
	}
	return s.open(lf)
}

// prune removes the oldest rotated files of lf until the count and total size
// limits hold. The active file is never removed.
func (s *Sink) prune(lf *labelFile) error {
	if s.cfg.maxFileCount <= 0 && s.cfg.maxTotalSize <= 0 {
		return nil
	}
	files, err := s.rotatedFiles(lf)
	if err != nil {
		return err
	}
	total := lf.size
	for _, f := range files {
		total += f.size
	}

	for len(files) > 0 {
		overCount := s.cfg.maxFileCount > 0 && len(files)+1 > s.cfg.maxFileCount
		overSize := s.cfg.maxTotalSize > 0 && total > s.cfg.maxTotalSize
		if !overCount && !overSize {
			break
		}
		oldest := files[0]
		if err := os.Remove(oldest.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("logsink: prune %s: %w", oldest.path, err)
		}
		total -= oldest.size
		files = files[1:]
	}
	return nil
}

type rotatedFile struct {
	path string
	size int64
}

// rotatedFiles lists the rotated files of lf, oldest first. Only names that
// carry a rotation timestamp match, so labels sharing a prefix are left alone.
func (s *Sink) rotatedFiles(lf *labelFile) ([]rotatedFile, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("logsink: list rotated files: %w", err)
	}
	prefix := strings.TrimSuffix(filepath.Base(lf.path), ".log") + "-"
	var files []rotatedFile
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".log") {
			continue
		}
		stamp := strings.TrimSuffix(strings.TrimPrefix(name, prefix), ".log")
		if _, err := time.Parse(rotatedTimeFormat, stamp); err != nil {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, rotatedFile{path: filepath.Join(s.dir, name), size: info.Size()})
	}
	// The timestamp suffix sorts chronologically.
	sort.Slice(files, func(i, j int) bool { return files[i].path < files[j].path })
	return files, nil
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

func sanitize(name string) string {
	cleaned := unsafeChars.ReplaceAllString(name, "_")
	cleaned = strings.Trim(cleaned, ".")
	if cleaned == "" {
		return "_"
	}
	return cleaned
}

var levelTokenPattern = regexp.MustCompile(`(?i)\b(error|warn|warning|info|debug)\b`)

func inferLevel(message string) string {
	matches := levelTokenPattern.FindStringSubmatch(message)
	if len(matches) < 2 {
		return "info"
	}
	switch strings.ToLower(matches[1]) {
	case "error":
		return "error"
	case "warn", "warning":
		return "warn"
	case "debug":
		return "debug"
	default:
		return "info"
	}
}

var _ launcher.Observer = (*Sink)(nil)
