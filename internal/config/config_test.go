package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)

	assert.Equal(t, DefaultAPIURL, cfg.APIURL)
	assert.Equal(t, "ws://localhost:5000/ws", cfg.PushURL)
	assert.Equal(t, 10, cfg.Reconnect.Attempts)
	assert.Equal(t, time.Second, cfg.Reconnect.Delay)
	assert.Equal(t, DefaultHTTPTimeout, cfg.HTTPTimeout)
}

func TestParse_YAML(t *testing.T) {
	data := []byte(`
api_url: https://dl.example.com/
download_dir: /tmp/videos
http_timeout: 5s
reconnect:
  attempts: 3
  delay: 250ms
`)
	cfg, err := Parse(data)
	require.NoError(t, err)

	assert.Equal(t, "https://dl.example.com/", cfg.APIURL)
	assert.Equal(t, "wss://dl.example.com/ws", cfg.PushURL)
	assert.Equal(t, "/tmp/videos", cfg.DownloadDir)
	assert.Equal(t, 5*time.Second, cfg.HTTPTimeout)
	assert.Equal(t, 3, cfg.Reconnect.Attempts)
	assert.Equal(t, 250*time.Millisecond, cfg.Reconnect.Delay)
}

func TestParse_ZeroAttemptsMeansNoRetries(t *testing.T) {
	cfg, err := Parse([]byte("reconnect:\n  attempts: 0\n"))
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.Reconnect.Attempts)
	assert.Equal(t, DefaultReconnectDelay, cfg.Reconnect.Delay)

	cfg, err = Parse([]byte("reconnect:\n  delay: 50ms\n"))
	require.NoError(t, err)
	assert.Equal(t, DefaultReconnectAttempts, cfg.Reconnect.Attempts)
}

func TestLoad_EnvZeroAttempts(t *testing.T) {
	t.Setenv("CLIPSTER_RECONNECT_ATTEMPTS", "0")
	cfg, err := Load("", true)
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.Reconnect.Attempts)
}

func TestParse_Invalid(t *testing.T) {
	_, err := Parse([]byte("api_url: ftp://nope\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api_url")

	_, err = Parse([]byte("push_url: http://wrong-scheme\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "push_url")

	_, err = Parse([]byte(": : :"))
	require.Error(t, err)
}

func TestLoad_EnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "clipster.yaml")
	require.NoError(t, os.WriteFile(path, []byte("api_url: http://file:5000\n"), 0o644))

	t.Setenv("CLIPSTER_API_URL", "http://env:6000")
	t.Setenv("CLIPSTER_RECONNECT_ATTEMPTS", "4")
	t.Setenv("CLIPSTER_RECONNECT_DELAY", "2s")

	cfg, err := Load(path, false)
	require.NoError(t, err)
	assert.Equal(t, "http://env:6000", cfg.APIURL)
	assert.Equal(t, "ws://env:6000/ws", cfg.PushURL)
	assert.Equal(t, 4, cfg.Reconnect.Attempts)
	assert.Equal(t, 2*time.Second, cfg.Reconnect.Delay)
}

func TestLoad_BadEnv(t *testing.T) {
	t.Setenv("CLIPSTER_RECONNECT_ATTEMPTS", "many")
	_, err := Load("", true)
	require.Error(t, err)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), true)
	require.NoError(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "absent.yaml"), false)
	require.Error(t, err)
}
