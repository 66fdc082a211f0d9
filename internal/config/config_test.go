package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadCreatesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ModeDisabled, cfg.Source.Mode)
	assert.Equal(t, 15*time.Second, cfg.Source.FetchTimeout)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestLoadReadsYAMLAndNormalizes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yml := `
timezone: Europe/Berlin
source:
  mode: REMOTE
  remote_url: https://calendar.example.com/feed.ics
  fetch_timeout: 5s
retention:
  past_days: 10
body:
  persist: false
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ModeRemote, cfg.Source.Mode)
	assert.Equal(t, 5*time.Second, cfg.Source.FetchTimeout)
	assert.Equal(t, 10, cfg.Retention.PastDays)
	assert.Equal(t, 180, cfg.Retention.FutureDays)
	assert.False(t, cfg.Body.Persist)
	assert.Equal(t, 2000, cfg.Body.MaxLength)
	assert.Equal(t, "Europe/Berlin", cfg.Location().String())
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("source:\n  mode: local\n  local_path: /tmp/a.ics\n"), 0o600))

	t.Setenv("CALINGEST_LOCAL_PATH", "/tmp/b.ics")
	t.Setenv("CALINGEST_RETENTION_DAYS", "3")
	t.Setenv("CALINGEST_PERSIST_BODY", "false")
	t.Setenv("CALINGEST_FETCH_TIMEOUT", "2s")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/b.ics", cfg.Source.LocalPath)
	assert.Equal(t, 3, cfg.Retention.PastDays)
	assert.False(t, cfg.Body.Persist)
	assert.Equal(t, 2*time.Second, cfg.Source.FetchTimeout)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"unknown mode", func(c *Config) { c.Source.Mode = "ftp" }},
		{"bad url", func(c *Config) { c.Source.RemoteURL = "not a url" }},
		{"bad timezone", func(c *Config) { c.Timezone = "Mars/Olympus" }},
		{"bad work hours", func(c *Config) { c.WorkHours.Start = "9am" }},
		{"inverted work hours", func(c *Config) { c.WorkHours.Start, c.WorkHours.End = "18:00", "09:00" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	assert.NoError(t, DefaultConfig().Validate())
}

func TestRemoteWithoutURLIsNotAValidationError(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Source.Mode = ModeRemote
	assert.NoError(t, cfg.Validate())
}

func TestWorkDay(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WorkHours.Start = "08:30"
	start, end := cfg.WorkDay()
	assert.Equal(t, 8*time.Hour+30*time.Minute, start)
	assert.Equal(t, 17*time.Hour, end)
}
