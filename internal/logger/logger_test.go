package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLevel("WARN"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel(""))
	assert.Equal(t, slog.LevelInfo, parseLevel("verbose"))
}

func TestJSONHandlerEmitsParsableLines(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(newHandler(&buf, "info", "json"))

	log.Info("order placed", "symbol", "TXF", "quantity", 2)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "order placed", line["msg"])
	assert.Equal(t, "TXF", line["symbol"])
}

func TestTextHandlerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(newHandler(&buf, "warn", "text"))

	log.Info("suppressed")
	log.Warn("kept")

	out := buf.String()
	assert.NotContains(t, out, "suppressed")
	assert.True(t, strings.Contains(out, "kept"))
}
