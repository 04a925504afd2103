package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	t.Setenv("USER", "tester")
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "tester", cfg.Nick)
	assert.Equal(t, time.Second, cfg.TickInterval)
	assert.True(t, cfg.SingleInstance)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().TickInterval, cfg.TickInterval)
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := writeConfig(t, `
nick: alice
hubs:
  - address: dchub://hub.example.org:411
    encoding: windows-1251
    autoconnect: true
  - address: adcs://secure.example.org
    nick: alice_adc
tick_interval: 2s
active_mode:
  enabled: true
  tcp_port: 4112
log_level: debug
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "alice", cfg.Nick)
	assert.Equal(t, 2*time.Second, cfg.TickInterval)
	assert.Equal(t, time.Second, cfg.ProbeTimeout)
	require.Len(t, cfg.Hubs, 2)
	assert.True(t, cfg.Hubs[0].Autoconnect)
	assert.Equal(t, "windows-1251", cfg.Hubs[0].Encoding)
	assert.True(t, cfg.ActiveMode.Enabled)
	assert.Equal(t, 4112, cfg.ActiveMode.TCPPort)
	assert.Equal(t, 3, cfg.Reconnect.Burst)

	lvl, err := cfg.SlogLevel()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, lvl)

	assert.Equal(t, "alice_adc", cfg.NickFor("adcs://secure.example.org"))
	assert.Equal(t, "alice", cfg.NickFor("dchub://hub.example.org:411"))
}

func TestLoadRejectsBadYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "nick: [unterminated"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file.txt")
	require.NoError(t, os.WriteFile(file, nil, 0o644))

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"nick with space", func(c *Config) { c.Nick = "a b" }},
		{"nick with pipe", func(c *Config) { c.Nick = "a|b" }},
		{"short tick", func(c *Config) { c.TickInterval = 10 * time.Millisecond }},
		{"zero probe timeout", func(c *Config) { c.ProbeTimeout = 0 }},
		{"not a hub", func(c *Config) { c.Hubs = []HubEntry{{Address: "http://x"}} }},
		{"bad encoding", func(c *Config) { c.Hubs = []HubEntry{{Address: "dchub://x", Encoding: "klingon"}} }},
		{"bad hub nick", func(c *Config) { c.Hubs = []HubEntry{{Address: "dchub://x", Nick: "$me"}} }},
		{"bad port", func(c *Config) { c.ActiveMode.TCPPort = 70000 }},
		{"zero burst", func(c *Config) { c.Reconnect.Burst = 0 }},
		{"zero search rate", func(c *Config) { c.SearchFlood.Rate = 0 }},
		{"empty service", func(c *Config) { c.Discovery.Service = "" }},
		{"bad level", func(c *Config) { c.LogLevel = "loud" }},
		{"download dir is file", func(c *Config) { c.DownloadDir = file }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			c.Nick = "ok"
			tt.mutate(c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestValidateDownloadDir(t *testing.T) {
	c := Default()
	c.Nick = "ok"
	c.DownloadDir = t.TempDir()
	assert.NoError(t, c.Validate())

	c.DownloadDir = filepath.Join(t.TempDir(), "later")
	assert.NoError(t, c.Validate())
}

func TestCheckDirectory(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "f")
	require.NoError(t, os.WriteFile(file, nil, 0o644))

	exists, isDir, err := checkDirectory(dir)
	require.NoError(t, err)
	assert.True(t, exists)
	assert.True(t, isDir)

	exists, isDir, err = checkDirectory(file)
	require.NoError(t, err)
	assert.True(t, exists)
	assert.False(t, isDir)

	exists, _, err = checkDirectory(filepath.Join(dir, "missing"))
	require.NoError(t, err)
	assert.False(t, exists)
}
