package report

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/yourorg/promptcap/internal/store"
	"github.com/yourorg/promptcap/pkg/types"
)

var summaryRule = strings.Repeat("=", 60)

// Reporter reads the snapshot and renders it for humans.
type Reporter struct {
	store store.Store
	dir   string
	out   io.Writer
	now   func() time.Time
}

// New builds a Reporter writing report files into dir and console output
// to out.
func New(st store.Store, dir string, out io.Writer) *Reporter {
	return &Reporter{store: st, dir: dir, out: out, now: time.Now}
}

// SetClock overrides the time source used for export names and headers.
func (r *Reporter) SetClock(now func() time.Time) { r.now = now }

// DefaultName returns capture_<YYYYMMDD_HHMMSS>.txt for t in local time.
func DefaultName(t time.Time) string {
	return "capture_" + t.Local().Format("20060102_150405") + ".txt"
}

// Summarize prints a short overview of the snapshot.
func (r *Reporter) Summarize() error {
	c, err := r.load()
	if err != nil || c == nil {
		return err
	}

	b := &strings.Builder{}
	fmt.Fprintf(b, "\n%s\n", summaryRule)
	fmt.Fprintln(b, "CAPTURED CLAUDE CODE REQUEST")
	fmt.Fprintln(b, summaryRule)
	fmt.Fprintf(b, "\nTimestamp: %s\n", orNA(c.Timestamp))
	fmt.Fprintf(b, "Endpoint:  %s\n", orNA(c.Endpoint))
	fmt.Fprintf(b, "Model:     %s\n", ptrOrNA(c.Model))
	fmt.Fprintf(b, "Max Tokens: %s\n", intOrNA(c.MaxTokens))
	fmt.Fprintf(b, "Messages:  %d\n", c.MessageCount)
	if !types.IsFalsy(c.SystemPrompt) {
		fmt.Fprintf(b, "System:    %s chars\n", humanize.Comma(int64(types.SystemChars(c.SystemPrompt))))
	}
	fmt.Fprintf(b, "Tools:     %d\n", len(c.Tools))
	if len(c.Tools) > 0 {
		fmt.Fprintln(b, "\nAvailable Tools:")
		for i, raw := range c.Tools {
			fmt.Fprintf(b, "  %2d. %s\n", i+1, ptrOr(types.DecodeTool(raw).Name, "unknown"))
		}
	}
	fmt.Fprintf(b, "\n%s\n\n", summaryRule)
	_, err = io.WriteString(r.out, b.String())
	return err
}

// Export renders the snapshot to dir/name and returns the written path.
// An empty name generates one from the current time. When nothing has been
// captured it prints a notice and returns an empty path.
func (r *Reporter) Export(name string) (string, error) {
	c, err := r.load()
	if err != nil {
		return "", err
	}
	if c == nil {
		fmt.Fprintln(r.out, "Run Claude through the proxy first.")
		return "", nil
	}

	now := r.now()
	if name == "" {
		name = DefaultName(now)
	}
	path := filepath.Join(r.dir, name)
	if err := os.WriteFile(path, []byte(RenderText(c, now)), 0o644); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("stat report: %w", err)
	}

	fmt.Fprintf(r.out, "Exported to: %s\n", path)
	fmt.Fprintf(r.out, "File size: %s\n", formatSize(info.Size()))
	return path, nil
}

// load returns nil, nil after printing the notice when no snapshot exists.
func (r *Reporter) load() (*types.CapturedRequest, error) {
	c, err := r.store.LoadSnapshot()
	if errors.Is(err, store.ErrNoSnapshot) {
		fmt.Fprintf(r.out, "No capture file found: %s\n", r.store.SnapshotPath())
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// History prints one line per capture log entry, oldest first.
func (r *Reporter) History() error {
	entries, err := r.store.ReadLog()
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintf(r.out, "No captures logged in %s\n", r.store.LogPath())
		return nil
	}
	b := &strings.Builder{}
	for i, e := range entries {
		fmt.Fprintf(b, "%4d. %s  model=%s  system=%s chars  tools=%d  messages=%d\n",
			i+1, e.Timestamp, ptrOrNA(e.Model), humanize.Comma(int64(e.SystemChars)), e.ToolCount, e.MessageCount)
	}
	fmt.Fprintf(b, "%d captures\n", len(entries))
	_, err = io.WriteString(r.out, b.String())
	return err
}
