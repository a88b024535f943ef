package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, NewConfig(), cfg)
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "m3u8capture.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
capture:
  max_wait: 10s
  early_stop: false
  sentinel: ""
cdp:
  devtools_url: http://10.0.0.2:9222
  intercept: true
log:
  writer: [console, file]
`), 0o644))
	t.Setenv("M3U8CAPTURE_CAPTURE_POLL_INTERVAL", "250ms")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, cfg.Capture.MaxWait)
	assert.False(t, cfg.Capture.EarlyStop)
	assert.Equal(t, "", cfg.Capture.Sentinel)
	assert.Equal(t, 250*time.Millisecond, cfg.Capture.PollInterval)
	assert.Equal(t, "http://10.0.0.2:9222", cfg.CDP.DevToolsURL)
	assert.True(t, cfg.CDP.Intercept)
	assert.Equal(t, []string{"console", "file"}, cfg.Log.Writer)
	assert.Equal(t, "m3u8capture_", cfg.Sqlite.Prefix)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestPrepare_FlagOverridesEnv(t *testing.T) {
	t.Setenv("M3U8CAPTURE_CAPTURE_MAX_WAIT", "9s")
	t.Setenv("M3U8CAPTURE_CDP_DEVTOOLS_URL", "http://10.0.0.3:9222")

	fs := pflag.NewFlagSet("capture", pflag.ContinueOnError)
	fs.Duration("max-wait", 0, "")
	fs.String("devtools", "", "")
	require.NoError(t, fs.Parse([]string{"--max-wait=7s"}))

	v := viper.New()
	require.NoError(t, v.BindPFlag("capture.max_wait", fs.Lookup("max-wait")))
	require.NoError(t, v.BindPFlag("cdp.devtools_url", fs.Lookup("devtools")))
	require.NoError(t, Prepare(v, ""))

	cfg, err := FromViper(v)
	require.NoError(t, err)
	assert.Equal(t, 7*time.Second, cfg.Capture.MaxWait)
	assert.Equal(t, "http://10.0.0.3:9222", cfg.CDP.DevToolsURL)
	assert.True(t, cfg.Capture.EarlyStop)
}

func TestValidate(t *testing.T) {
	cfg := NewConfig()
	require.NoError(t, cfg.Validate())

	cfg.Capture.MaxWait = 0
	cfg.Capture.PollInterval = -time.Second
	cfg.CDP.DevToolsURL = ""
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "capture.max_wait")
	assert.Contains(t, err.Error(), "capture.poll_interval")
	assert.Contains(t, err.Error(), "cdp.devtools_url")
}
