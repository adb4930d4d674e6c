package store

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/promptcap/pkg/types"
)

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	return &FileStore{
		Dir:          filepath.Join(t.TempDir(), "nested", "output"),
		SnapshotName: "claude_code_captured.json",
		LogName:      "claude_code_log.jsonl",
	}
}

func TestLoadSnapshotMissing(t *testing.T) {
	s := newTestStore(t)
	_, err := s.LoadSnapshot()
	require.True(t, errors.Is(err, ErrNoSnapshot), "got %v", err)
}

func TestSaveSnapshotCreatesDirAndOverwrites(t *testing.T) {
	s := newTestStore(t)
	model := "claude-x"
	first := &types.CapturedRequest{Timestamp: "t1", Endpoint: "/v1/messages", Model: &model, MessageCount: 1}
	require.NoError(t, s.SaveSnapshot(first))

	data, err := os.ReadFile(s.SnapshotPath())
	require.NoError(t, err)
	assert.Contains(t, string(data), "\n  \"timestamp\": \"t1\"")
	assert.Contains(t, string(data), `"tools": []`)
	assert.Contains(t, string(data), `"system_prompt": null`)
	assert.Contains(t, string(data), `"max_tokens": null`)

	second := &types.CapturedRequest{Timestamp: "t2", Endpoint: "/v1/messages", MessageCount: 2}
	require.NoError(t, s.SaveSnapshot(second))

	got, err := s.LoadSnapshot()
	require.NoError(t, err)
	assert.Equal(t, "t2", got.Timestamp)
	assert.Nil(t, got.Model)
	assert.Equal(t, 2, got.MessageCount)

	leftovers, err := filepath.Glob(filepath.Join(s.Dir, ".snapshot-*"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestSnapshotPreservesRawValues(t *testing.T) {
	s := newTestStore(t)
	maxTokens := 0
	c := &types.CapturedRequest{
		Timestamp:    "t",
		SystemPrompt: json.RawMessage(`[{"type":"text","text":"hello"}]`),
		Tools:        []json.RawMessage{json.RawMessage(`{"name":"search","parameters":{"z":1,"a":2}}`)},
		MaxTokens:    &maxTokens,
	}
	require.NoError(t, s.SaveSnapshot(c))

	got, err := s.LoadSnapshot()
	require.NoError(t, err)
	require.NotNil(t, got.MaxTokens)
	assert.Equal(t, 0, *got.MaxTokens)
	assert.JSONEq(t, `[{"type":"text","text":"hello"}]`, string(got.SystemPrompt))
	require.Len(t, got.Tools, 1)
	assert.JSONEq(t, `{"name":"search","parameters":{"z":1,"a":2}}`, string(got.Tools[0]))
}

func TestLoadSnapshotCorrupt(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, os.MkdirAll(s.Dir, 0o755))
	require.NoError(t, os.WriteFile(s.SnapshotPath(), []byte("{"), 0o644))
	_, err := s.LoadSnapshot()
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNoSnapshot))
}

func TestAppendAndReadLog(t *testing.T) {
	s := newTestStore(t)
	entries, err := s.ReadLog()
	require.NoError(t, err)
	assert.Empty(t, entries)

	model := "claude-x"
	for i := 0; i < 3; i++ {
		require.NoError(t, s.AppendLog(types.LogEntry{Timestamp: string(rune('a' + i)), Model: &model, ToolCount: i}))
	}

	data, err := os.ReadFile(s.LogPath())
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	require.Len(t, lines, 3)
	for _, l := range lines {
		assert.True(t, json.Valid([]byte(l)), l)
		assert.NotContains(t, l, "\n  ")
	}

	entries, err = s.ReadLog()
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "a", entries[0].Timestamp)
	assert.Equal(t, 2, entries[2].ToolCount)
}
