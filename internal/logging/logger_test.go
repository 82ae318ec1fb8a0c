package logging

import (
	"bytes"
	"log"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	var buf bytes.Buffer
	log.SetOutput(&buf)
	log.SetFlags(0)
	defer log.SetOutput(os.Stderr)
	fn()
	return buf.String()
}

func TestLoggerLevelFiltering(t *testing.T) {
	logger := &Logger{level: WARN, name: "test", fields: map[string]interface{}{}}

	out := captureStdout(t, func() {
		logger.Debug("debug message")
		logger.Info("info message")
		logger.Warn("warn message")
	})

	assert.NotContains(t, out, "debug message")
	assert.NotContains(t, out, "info message")
	assert.Contains(t, out, "warn message")
}

func TestLoggerStructuredFields(t *testing.T) {
	t.Setenv("LOG_TIMESTAMP", "2024-01-01T00:00:00Z")
	logger := &Logger{level: INFO, name: "store", fields: map[string]interface{}{}}

	out := captureStdout(t, func() {
		logger.InfoWithFields("events persisted",
			Field("connection_id", "conn-1"),
			Field("count", 3),
		)
	})

	assert.Contains(t, out, "[2024-01-01T00:00:00Z] [INFO] store: events persisted")
	assert.Contains(t, out, "connection_id=conn-1")
	assert.Contains(t, out, "count=3")
}

func TestWithFieldReturnsNewLogger(t *testing.T) {
	base := &Logger{level: INFO, name: "probe", fields: map[string]interface{}{}}
	child := base.WithField("connection_id", "conn-2")

	require.NotSame(t, base, child)
	assert.Empty(t, base.fields)
	assert.Equal(t, "conn-2", child.fields["connection_id"])
}

func TestWithFieldsMergesOverBase(t *testing.T) {
	base := &Logger{level: INFO, name: "hub", fields: map[string]interface{}{}}
	child := base.
		WithField("topic", "telemetry").
		WithFields(Field("client_id", "c1"), Field("topic", "workflow"))

	assert.Equal(t, "workflow", child.fields["topic"])
	assert.Equal(t, "c1", child.fields["client_id"])
}

func TestParseLevelFallsBackToInfo(t *testing.T) {
	assert.Equal(t, INFO, parseLevel("not-a-level"))
	assert.Equal(t, DEBUG, parseLevel("debug"))
	assert.Equal(t, FATAL, parseLevel("FATAL"))
}
