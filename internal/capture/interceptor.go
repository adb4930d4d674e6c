package capture

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/yourorg/promptcap/internal/config"
	"github.com/yourorg/promptcap/internal/filter"
	"github.com/yourorg/promptcap/internal/store"
	"github.com/yourorg/promptcap/pkg/types"
)

const divider = "=================================================="

// Interceptor extracts request fields from observed provider traffic and
// persists them. Observe is safe for concurrent use; side effects of one
// observation never interleave with another.
type Interceptor struct {
	cfg     config.CaptureConfig
	store   store.Store
	out     io.Writer
	logger  *slog.Logger
	metrics *Metrics
	now     func() time.Time

	mu sync.Mutex
}

// Option configures an Interceptor.
type Option func(*Interceptor)

// WithMetrics records observations on m.
func WithMetrics(m *Metrics) Option {
	return func(i *Interceptor) { i.metrics = m }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(i *Interceptor) {
		if l != nil {
			i.logger = l
		}
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(i *Interceptor) { i.now = now }
}

// New builds an Interceptor that writes artifacts to st and console reports
// to out.
func New(cfg config.CaptureConfig, st store.Store, out io.Writer, opts ...Option) *Interceptor {
	i := &Interceptor{
		cfg:    cfg,
		store:  st,
		out:    out,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	if i.out == nil {
		i.out = io.Discard
	}
	return i
}

// Observe handles one outbound request. Irrelevant traffic and bodies that
// are not JSON objects are skipped and return nil. Filesystem errors are
// returned.
func (i *Interceptor) Observe(req types.ObservedRequest) error {
	if reason := filter.Precheck(req, i.cfg); reason != filter.Qualified {
		i.skip(req, reason)
		return nil
	}

	var body map[string]json.RawMessage
	if err := json.Unmarshal(req.Content, &body); err != nil || body == nil {
		i.skip(req, filter.SkipJSON)
		return nil
	}

	if !filter.PathMatches(req.Path, i.cfg.PathMarker) {
		i.skip(req, filter.SkipPath)
		return nil
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	captured := i.extract(req.Path, body)
	entry := types.NewLogEntry(captured)

	if err := i.store.SaveSnapshot(captured); err != nil {
		i.metrics.observe("error")
		return fmt.Errorf("save snapshot: %w", err)
	}
	if err := i.store.AppendLog(entry); err != nil {
		i.metrics.observe("error")
		return fmt.Errorf("append log: %w", err)
	}
	i.metrics.captured(entry.SystemChars, entry.ToolCount)
	i.logger.Info("captured request",
		"endpoint", captured.Endpoint,
		"model", stringOr(captured.Model, ""),
		"system_chars", entry.SystemChars,
		"tool_count", entry.ToolCount,
		"message_count", entry.MessageCount,
	)

	i.printReport(captured, entry)
	return nil
}

func (i *Interceptor) skip(req types.ObservedRequest, reason filter.Reason) {
	i.metrics.observe(string(reason))
	i.logger.Debug("request skipped", "host", req.Host, "path", req.Path, "reason", string(reason))
}

func (i *Interceptor) extract(path string, body map[string]json.RawMessage) *types.CapturedRequest {
	c := &types.CapturedRequest{
		Timestamp: i.now().UTC().Format(time.RFC3339Nano),
		Endpoint:  path,
		Tools:     []json.RawMessage{},
	}

	if raw, ok := body["model"]; ok && !types.IsAbsent(raw) {
		var model string
		if err := json.Unmarshal(raw, &model); err != nil {
			i.warnShape("model", "string")
		} else {
			c.Model = &model
		}
	}

	if raw, ok := body["system"]; ok && !types.IsAbsent(raw) {
		c.SystemPrompt = raw
	}

	if raw, ok := body["tools"]; ok && !types.IsAbsent(raw) {
		var tools []json.RawMessage
		if err := json.Unmarshal(raw, &tools); err != nil {
			i.warnShape("tools", "array")
		} else if tools != nil {
			c.Tools = tools
		}
	}

	if raw, ok := body["max_tokens"]; ok && !types.IsAbsent(raw) {
		var n int
		if err := json.Unmarshal(raw, &n); err != nil {
			i.warnShape("max_tokens", "integer")
		} else {
			c.MaxTokens = &n
		}
	}

	if raw, ok := body["messages"]; ok && !types.IsAbsent(raw) {
		var msgs []json.RawMessage
		if err := json.Unmarshal(raw, &msgs); err != nil {
			i.warnShape("messages", "array")
		} else {
			c.MessageCount = len(msgs)
		}
	}
	return c
}

func (i *Interceptor) warnShape(field, want string) {
	i.logger.Warn("unexpected field type, treating as absent", "field", field, "expected", want)
}

func (i *Interceptor) printReport(c *types.CapturedRequest, e types.LogEntry) {
	b := &strings.Builder{}
	fmt.Fprintf(b, "\n%s\n", divider)
	fmt.Fprintf(b, "[%s] Captured API Request!\n", c.Timestamp)
	fmt.Fprintf(b, "  - Endpoint: %s\n", c.Endpoint)
	fmt.Fprintf(b, "  - Model: %s\n", stringOr(c.Model, "N/A"))
	fmt.Fprintf(b, "  - System prompt: %s chars\n", humanize.Comma(int64(e.SystemChars)))
	fmt.Fprintf(b, "  - Tools: %d\n", e.ToolCount)
	fmt.Fprintf(b, "  - Messages in context: %d\n", e.MessageCount)
	fmt.Fprintf(b, "  - Saved to: %s\n", i.store.SnapshotPath())
	fmt.Fprintf(b, "%s\n\n", divider)
	_, _ = io.WriteString(i.out, b.String())
}

func stringOr(s *string, fallback string) string {
	if s == nil {
		return fallback
	}
	return *s
}
