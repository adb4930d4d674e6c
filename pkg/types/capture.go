package types

import (
	"bytes"
	"encoding/json"
	"strings"
	"unicode/utf8"
)

// ObservedRequest is one outbound request as seen by a proxy engine.
type ObservedRequest struct {
	Host    string
	Path    string
	Content []byte
}

// CapturedRequest is the snapshot of the most recent qualifying request.
// Nil pointers and nil raw messages mean the key was absent in the request.
type CapturedRequest struct {
	Timestamp    string            `json:"timestamp"`
	Endpoint     string            `json:"endpoint"`
	Model        *string           `json:"model"`
	SystemPrompt json.RawMessage   `json:"system_prompt"`
	Tools        []json.RawMessage `json:"tools"`
	MaxTokens    *int              `json:"max_tokens"`
	MessageCount int               `json:"message_count"`
}

// LogEntry is one line of the append-only capture log.
type LogEntry struct {
	Timestamp    string  `json:"timestamp"`
	Model        *string `json:"model"`
	SystemChars  int     `json:"system_chars"`
	ToolCount    int     `json:"tool_count"`
	MessageCount int     `json:"message_count"`
}

// Tool is the report view of one tool descriptor. A Parameters value of
// JSON null is kept so an explicit null schema stays distinct from a
// missing one.
type Tool struct {
	Name        *string
	Description *string
	Parameters  json.RawMessage
	InputSchema json.RawMessage
}

// DecodeTool decodes a raw descriptor key by key, so one odd field does not
// hide the others. Non-string names and descriptions are stringified.
// Descriptors that are not objects decode to the zero Tool.
func DecodeTool(raw json.RawMessage) Tool {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return Tool{}
	}
	return Tool{
		Name:        textField(obj, "name"),
		Description: textField(obj, "description"),
		Parameters:  obj["parameters"],
		InputSchema: obj["input_schema"],
	}
}

func textField(obj map[string]json.RawMessage, key string) *string {
	raw, ok := obj[key]
	if !ok || IsAbsent(raw) {
		return nil
	}
	s := StringifyJSON(raw)
	return &s
}

// Schema returns the parameters schema, falling back to input_schema when
// the parameters key is missing.
func (t Tool) Schema() json.RawMessage {
	if len(t.Parameters) > 0 {
		return t.Parameters
	}
	if !IsAbsent(t.InputSchema) {
		return t.InputSchema
	}
	return nil
}

// NewLogEntry derives the log line for a snapshot.
func NewLogEntry(c *CapturedRequest) LogEntry {
	return LogEntry{
		Timestamp:    c.Timestamp,
		Model:        c.Model,
		SystemChars:  SystemChars(c.SystemPrompt),
		ToolCount:    len(c.Tools),
		MessageCount: c.MessageCount,
	}
}

// IsAbsent reports whether raw holds no value or a JSON null.
func IsAbsent(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// IsFalsy reports whether raw is absent or an empty string, array, object,
// false or zero.
func IsFalsy(raw json.RawMessage) bool {
	if IsAbsent(raw) {
		return true
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return true
	}
	switch val := v.(type) {
	case string:
		return val == ""
	case []interface{}:
		return len(val) == 0
	case map[string]interface{}:
		return len(val) == 0
	case bool:
		return !val
	case float64:
		return val == 0
	}
	return false
}

// StringifyJSON renders raw as text: strings unquoted, everything else as
// JSON with a space after each comma and colon.
func StringifyJSON(raw json.RawMessage) string {
	if IsAbsent(raw) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return spaceSeparators(buf.Bytes())
}

// spaceSeparators expects compact JSON.
func spaceSeparators(compact []byte) string {
	var b strings.Builder
	b.Grow(len(compact) + len(compact)/4)
	inString, escaped := false, false
	for _, c := range compact {
		if inString {
			b.WriteByte(c)
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
			b.WriteByte(c)
		case ',':
			b.WriteString(", ")
		case ':':
			b.WriteString(": ")
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// SystemChars counts the characters of the stringified system prompt.
func SystemChars(raw json.RawMessage) int {
	return utf8.RuneCountInString(StringifyJSON(raw))
}
