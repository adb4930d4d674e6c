package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/yourorg/promptcap/pkg/types"
)

var (
	wideRule   = strings.Repeat("=", 80)
	thinRule   = strings.Repeat("-", 80)
	toolRule   = strings.Repeat("=", 40)
	noDataMark = "N/A"
)

// RenderText renders the full text report for a snapshot.
func RenderText(c *types.CapturedRequest, exportedAt time.Time) string {
	lines := make([]string, 0, 64)
	add := func(l ...string) { lines = append(lines, l...) }

	add(wideRule, "CLAUDE CODE API REQUEST CAPTURE", "Exported: "+exportedAt.Format(time.RFC3339), wideRule, "")

	add(thinRule, "BASIC INFO", thinRule)
	add("Timestamp:    "+orNA(c.Timestamp))
	add("Endpoint:     "+orNA(c.Endpoint))
	add("Model:        "+ptrOrNA(c.Model))
	add("Max Tokens:   "+intOrNA(c.MaxTokens))
	add("Messages:     "+strconv.Itoa(c.MessageCount))
	add("")

	add(thinRule, "SYSTEM PROMPT", thinRule)
	add(renderSystem(c.SystemPrompt)...)
	add("")

	add(thinRule, fmt.Sprintf("TOOLS (%d total)", len(c.Tools)), thinRule)
	for i, raw := range c.Tools {
		tool := types.DecodeTool(raw)
		params := "{}"
		if schema := tool.Schema(); schema != nil {
			params = prettyJSON(schema)
		}
		add("", toolRule, fmt.Sprintf("TOOL %d: %s", i+1, ptrOr(tool.Name, "unknown")), toolRule, "")
		add("DESCRIPTION:", ptrOr(tool.Description, "No description"), "")
		add("PARAMETERS SCHEMA:", params)
	}

	add("", wideRule, "END OF CAPTURE", wideRule)
	return strings.Join(lines, "\n")
}

func renderSystem(raw json.RawMessage) []string {
	if types.IsFalsy(raw) {
		return []string{"(No system prompt)"}
	}

	var blocks []json.RawMessage
	if err := json.Unmarshal(raw, &blocks); err == nil {
		out := make([]string, 0, len(blocks)*2)
		for i, block := range blocks {
			var obj map[string]json.RawMessage
			if err := json.Unmarshal(block, &obj); err != nil || obj == nil {
				out = append(out, types.StringifyJSON(block))
				continue
			}
			text, ok := obj["text"]
			if !ok {
				out = append(out, fmt.Sprintf("\n[Block %d]", i+1), prettyJSON(block))
				continue
			}
			blockType := "text"
			if t, ok := obj["type"]; ok && !types.IsAbsent(t) {
				blockType = types.StringifyJSON(t)
			}
			out = append(out, fmt.Sprintf("\n[Block %d - type: %s]", i+1, blockType), types.StringifyJSON(text))
		}
		return out
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return []string{s}
	}
	return []string{prettyJSON(raw)}
}

func prettyJSON(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return string(raw)
	}
	return buf.String()
}

// formatSize scales a byte count to bytes, KB or MB.
func formatSize(size int64) string {
	switch {
	case size > 1024*1024:
		return fmt.Sprintf("%.1f MB", float64(size)/(1024*1024))
	case size > 1024:
		return fmt.Sprintf("%.1f KB", float64(size)/1024)
	default:
		return fmt.Sprintf("%d bytes", size)
	}
}

func orNA(s string) string {
	if s == "" {
		return noDataMark
	}
	return s
}

func ptrOr(s *string, fallback string) string {
	if s == nil {
		return fallback
	}
	return *s
}

func ptrOrNA(s *string) string { return ptrOr(s, noDataMark) }

func intOrNA(n *int) string {
	if n == nil {
		return noDataMark
	}
	return strconv.Itoa(*n)
}
