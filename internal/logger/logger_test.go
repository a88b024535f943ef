package logger

import (
	"bytes"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestLogger_KeyValueFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, zerolog.DebugLevel)

	l.With("session", "s1").Info("found", "url", "https://a.test/x.m3u8", "order", 1)

	line := buf.String()
	require.NotEmpty(t, line)
	assert.Equal(t, "found", gjson.Get(line, "message").String())
	assert.Equal(t, "s1", gjson.Get(line, "session").String())
	assert.Equal(t, "https://a.test/x.m3u8", gjson.Get(line, "url").String())
	assert.Equal(t, int64(1), gjson.Get(line, "order").Int())
}

func TestLogger_ErrAndLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, zerolog.InfoLevel)

	l.Debug("hidden")
	assert.Empty(t, buf.String())

	l.Err(errors.New("boom"), "pull failed")
	assert.Equal(t, "boom", gjson.Get(buf.String(), "error").String())
	assert.Equal(t, "error", gjson.Get(buf.String(), "level").String())
}

func TestNew_NoWritersIsNop(t *testing.T) {
	l := New(Options{Level: "debug"})
	assert.NotPanics(t, func() { l.Info("nothing") })
}

func TestNew_ConsoleWriter(t *testing.T) {
	var buf bytes.Buffer
	l := New(Options{Level: "warn", Writers: []string{"console"}, Console: &buf})

	l.Info("skipped")
	l.Warn("kept", "k", "v")

	assert.NotContains(t, buf.String(), "skipped")
	assert.Contains(t, buf.String(), "kept")
}
