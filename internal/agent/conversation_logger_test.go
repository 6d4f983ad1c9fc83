package agent

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConversationLoggerPerSessionAndGlobal(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	global := filepath.Join(dir, "all", "conversations.ndjson")
	logger, err := NewConversationLogger(ConversationLogConfig{
		Enabled:       true,
		Dir:           dir,
		GlobalEnabled: true,
		GlobalPath:    global,
		QueueSize:     8,
	}, nil)
	require.NoError(t, err)

	logger.Log(ConversationLogEvent{
		UserID:     "anon_1",
		SessionID:  "lesson-42",
		Channel:    "agent_grpc",
		Direction:  "inbound",
		EventType:  string(EventAgentTranscript),
		ContentRaw: "Let's   look at\tloops.\n",
		Meta:       map[string]any{"segment_id": "seg-1"},
	})
	require.NoError(t, logger.Close())

	got := readLogLine(t, filepath.Join(dir, "anon_1", "lesson-42.ndjson"))
	assert.Equal(t, "Let's look at loops.", got.Content)
	assert.Equal(t, "inbound", got.Direction)
	assert.NotEmpty(t, got.Timestamp)
	assert.Equal(t, "seg-1", got.Meta["segment_id"])

	fromGlobal := readLogLine(t, global)
	assert.Equal(t, got.ContentRaw, fromGlobal.ContentRaw)
}

func TestConversationLoggerDisabled(t *testing.T) {
	t.Parallel()

	logger, err := NewConversationLogger(ConversationLogConfig{Enabled: false}, nil)
	require.NoError(t, err)
	logger.Log(ConversationLogEvent{UserID: "u", SessionID: "s", ContentRaw: "dropped"})
	assert.NoError(t, logger.Close())
}

func TestConversationLoggerRequiresDir(t *testing.T) {
	t.Parallel()

	_, err := NewConversationLogger(ConversationLogConfig{Enabled: true}, nil)
	assert.Error(t, err)
}

func TestCleanForReadability(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "error plain", cleanForReadability("\x1b[31merror\x1b[0m plain"))
	assert.Equal(t, "a b", cleanForReadability("a\x07\r\n  b"))
}

func TestSafePathPart(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "unknown", safePathPart(".."))
	assert.Equal(t, ".._etc", safePathPart("../etc"))
	assert.Equal(t, "lesson-1", safePathPart("lesson-1"))
}

func readLogLine(t *testing.T, path string) ConversationLogEvent {
	t.Helper()
	var data []byte
	require.Eventually(t, func() bool {
		var err error
		data, err = os.ReadFile(path)
		return err == nil && len(data) > 0
	}, 2*time.Second, 20*time.Millisecond, "log file %s never written", path)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	var ev ConversationLogEvent
	require.NoError(t, json.Unmarshal([]byte(lines[len(lines)-1]), &ev))
	return ev
}
