package store

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/yourorg/promptcap/internal/config"
	"github.com/yourorg/promptcap/pkg/types"
)

// FileStore keeps the snapshot and the capture log as flat files in Dir.
type FileStore struct {
	Dir          string
	SnapshotName string
	LogName      string
}

// NewFileStore builds a FileStore from the output section of the config.
func NewFileStore(cfg config.OutputConfig) *FileStore {
	return &FileStore{Dir: cfg.Dir, SnapshotName: cfg.SnapshotFile, LogName: cfg.LogFile}
}

func (s *FileStore) SnapshotPath() string { return filepath.Join(s.Dir, s.SnapshotName) }

func (s *FileStore) LogPath() string { return filepath.Join(s.Dir, s.LogName) }

// SaveSnapshot overwrites the snapshot with 2-space indented JSON. The data
// goes to a temp file first and is renamed into place.
func (s *FileStore) SaveSnapshot(c *types.CapturedRequest) error {
	if c == nil {
		return errors.New("snapshot is nil")
	}
	if c.Tools == nil {
		c.Tools = []json.RawMessage{}
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	f, err := os.CreateTemp(s.Dir, ".snapshot-*")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	tmp := f.Name()
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Chmod(tmp, 0o644); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("chmod snapshot: %w", err)
	}
	if err := os.Rename(tmp, s.SnapshotPath()); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

func (s *FileStore) LoadSnapshot() (*types.CapturedRequest, error) {
	data, err := os.ReadFile(s.SnapshotPath())
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	var c types.CapturedRequest
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse snapshot: %w", err)
	}
	return &c, nil
}

// AppendLog writes e as one compact JSON line at the end of the log.
func (s *FileStore) AppendLog(e types.LogEntry) error {
	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode log entry: %w", err)
	}
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	f, err := os.OpenFile(s.LogPath(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		_ = f.Close()
		return fmt.Errorf("append log: %w", err)
	}
	return f.Close()
}

// ReadLog returns every entry in the log. A missing log yields no entries.
func (s *FileStore) ReadLog() ([]types.LogEntry, error) {
	f, err := os.Open(s.LogPath())
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open log: %w", err)
	}
	defer f.Close()

	var entries []types.LogEntry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		if len(sc.Bytes()) == 0 {
			continue
		}
		var e types.LogEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return nil, fmt.Errorf("parse log line %d: %w", lineNo, err)
		}
		entries = append(entries, e)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan log: %w", err)
	}
	return entries, nil
}
