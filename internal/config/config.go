package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Source modes.
const (
	ModeLocal    = "local"
	ModeRemote   = "remote"
	ModeDisabled = "disabled"
)

// SourceConfig describes where the calendar feed comes from.
type SourceConfig struct {
	// Mode is one of "local", "remote" or "disabled".
	Mode string `yaml:"mode" json:"mode" validate:"oneof=local remote disabled"`
	// RemoteURL is the feed endpoint used in remote mode.
	RemoteURL string `yaml:"remote_url" json:"remote_url" validate:"omitempty,url"`
	// LocalPath is the feed file used in local mode.
	LocalPath string `yaml:"local_path" json:"local_path"`
	// FetchTimeout bounds a single remote fetch.
	FetchTimeout time.Duration `yaml:"fetch_timeout" json:"fetch_timeout" validate:"gte=0"`
}

// RetentionConfig controls the sweep of stored rows and snapshot blobs.
type RetentionConfig struct {
	// PastDays removes rows that ended more than this many days ago.
	PastDays int `yaml:"past_days" json:"past_days" validate:"gte=1"`
	// FutureDays removes rows starting beyond this horizon.
	FutureDays int `yaml:"future_days" json:"future_days" validate:"gte=1"`
}

// BodyConfig controls event description handling.
type BodyConfig struct {
	// Persist toggles storing sanitized bodies at all.
	Persist bool `yaml:"persist" json:"persist"`
	// MaxLength caps the stored sanitized body, in characters.
	MaxLength int `yaml:"max_length" json:"max_length" validate:"gte=0"`
	// PreviewLength caps the preview, in characters.
	PreviewLength int `yaml:"preview_length" json:"preview_length" validate:"gte=0"`
}

// WorkHoursConfig defines the per-day window used for availability.
type WorkHoursConfig struct {
	Start           string `yaml:"start" json:"start" validate:"datetime=15:04"`
	End             string `yaml:"end" json:"end" validate:"datetime=15:04"`
	IncludeWeekends bool   `yaml:"include_weekends" json:"include_weekends"`
	IncludeAllDay   bool   `yaml:"include_all_day" json:"include_all_day"`
}

// RefreshConfig drives the scheduler of the serve command.
type RefreshConfig struct {
	// Cron is the ingest schedule (standard 5-field cron).
	Cron string `yaml:"cron" json:"cron"`
	// SweepCron is the retention sweep schedule.
	SweepCron string `yaml:"sweep_cron" json:"sweep_cron"`
	// Users are ingested on every scheduled refresh.
	Users []string `yaml:"users" json:"users"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration. It is built once at
// startup and handed to the services by value; nothing reads the
// environment after Load returns.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone used for calendar-date windows and for
	// floating (zone-less) feed times.
	Timezone string `yaml:"timezone" json:"timezone"`

	// LogLevel is DEBUG, INFO, WARN or ERROR.
	LogLevel string `yaml:"log_level" json:"log_level"`

	// DatabasePath is the SQLite file holding ingested rows.
	DatabasePath string `yaml:"database_path" json:"database_path" validate:"required"`

	// SnapshotDir holds per-user, per-day snapshot blobs.
	SnapshotDir string `yaml:"snapshot_dir" json:"snapshot_dir" validate:"required"`

	Source    SourceConfig    `yaml:"source" json:"source"`
	Retention RetentionConfig `yaml:"retention" json:"retention"`
	Body      BodyConfig      `yaml:"body" json:"body"`
	WorkHours WorkHoursConfig `yaml:"work_hours" json:"work_hours"`
	Refresh   RefreshConfig   `yaml:"refresh" json:"refresh"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// envOverrides lists the CALINGEST_* variables that take precedence over
// the file. Unset variables leave the file value alone.
type envOverrides struct {
	Listen        string        `env:"CALINGEST_LISTEN"`
	Timezone      string        `env:"CALINGEST_TIMEZONE"`
	LogLevel      string        `env:"CALINGEST_LOG_LEVEL"`
	DatabasePath  string        `env:"CALINGEST_DATABASE_PATH"`
	SnapshotDir   string        `env:"CALINGEST_SNAPSHOT_DIR"`
	SourceMode    string        `env:"CALINGEST_SOURCE_MODE"`
	RemoteURL     string        `env:"CALINGEST_REMOTE_URL"`
	LocalPath     string        `env:"CALINGEST_LOCAL_PATH"`
	FetchTimeout  time.Duration `env:"CALINGEST_FETCH_TIMEOUT"`
	PastDays      int           `env:"CALINGEST_RETENTION_DAYS"`
	FutureDays    int           `env:"CALINGEST_FUTURE_HORIZON_DAYS"`
	MaxBodyLength int           `env:"CALINGEST_MAX_BODY_LENGTH"`
	PersistBody   string        `env:"CALINGEST_PERSIST_BODY"`
}

const (
	defaultListen        = "127.0.0.1:8080"
	defaultTimezone      = "UTC"
	defaultDatabasePath  = "./var/calingest.db"
	defaultSnapshotDir   = "./var/snapshots"
	defaultFetchTimeout  = 15 * time.Second
	defaultPastDays      = 30
	defaultFutureDays    = 180
	defaultMaxBodyLength = 2000
	defaultPreviewLength = 160
	defaultWorkStart     = "09:00"
	defaultWorkEnd       = "17:00"
	defaultRefreshCron   = "*/15 * * * *"
	defaultSweepCron     = "30 3 * * *"
)

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:       defaultListen,
		Timezone:     defaultTimezone,
		LogLevel:     "INFO",
		DatabasePath: defaultDatabasePath,
		SnapshotDir:  defaultSnapshotDir,
		Source: SourceConfig{
			Mode:         ModeDisabled,
			FetchTimeout: defaultFetchTimeout,
		},
		Retention: RetentionConfig{
			PastDays:   defaultPastDays,
			FutureDays: defaultFutureDays,
		},
		Body: BodyConfig{
			Persist:       true,
			MaxLength:     defaultMaxBodyLength,
			PreviewLength: defaultPreviewLength,
		},
		WorkHours: WorkHoursConfig{
			Start: defaultWorkStart,
			End:   defaultWorkEnd,
		},
		Refresh: RefreshConfig{
			Cron:      defaultRefreshCron,
			SweepCron: defaultSweepCron,
			Users:     []string{},
		},
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.Timezone == "" {
		c.Timezone = defaultTimezone
	}
	if c.LogLevel == "" {
		c.LogLevel = "INFO"
	}
	if c.DatabasePath == "" {
		c.DatabasePath = defaultDatabasePath
	}
	if c.SnapshotDir == "" {
		c.SnapshotDir = defaultSnapshotDir
	}

	c.Source.Mode = strings.ToLower(strings.TrimSpace(c.Source.Mode))
	if c.Source.Mode == "" {
		c.Source.Mode = ModeDisabled
	}
	if c.Source.FetchTimeout <= 0 {
		c.Source.FetchTimeout = defaultFetchTimeout
	}

	if c.Retention.PastDays <= 0 {
		c.Retention.PastDays = defaultPastDays
	}
	if c.Retention.FutureDays <= 0 {
		c.Retention.FutureDays = defaultFutureDays
	}
	if c.Body.MaxLength <= 0 {
		c.Body.MaxLength = defaultMaxBodyLength
	}
	if c.Body.PreviewLength <= 0 {
		c.Body.PreviewLength = defaultPreviewLength
	}

	if c.WorkHours.Start == "" {
		c.WorkHours.Start = defaultWorkStart
	}
	if c.WorkHours.End == "" {
		c.WorkHours.End = defaultWorkEnd
	}

	if c.Refresh.Cron == "" {
		c.Refresh.Cron = defaultRefreshCron
	}
	if c.Refresh.SweepCron == "" {
		c.Refresh.SweepCron = defaultSweepCron
	}
	if c.Refresh.Users == nil {
		c.Refresh.Users = []string{}
	}
}

var validate = validator.New()

// Validate checks field formats. Semantic gaps that the ingest path reports
// as warnings (remote mode without a URL, for instance) are not errors here.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid config: timezone %q: %w", c.Timezone, err)
	}
	start, _ := time.Parse("15:04", c.WorkHours.Start)
	end, _ := time.Parse("15:04", c.WorkHours.End)
	if !end.After(start) {
		return fmt.Errorf("invalid config: work_hours end %s is not after start %s", c.WorkHours.End, c.WorkHours.Start)
	}
	return nil
}

// Location returns the configured zone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// WorkDay returns the work-hours start and end as offsets from midnight.
func (c *Config) WorkDay() (time.Duration, time.Duration) {
	return clockOffset(c.WorkHours.Start), clockOffset(c.WorkHours.End)
}

func clockOffset(hhmm string) time.Duration {
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		return 0
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute
}

// ApplyEnv overlays CALINGEST_* environment variables onto c.
func (c *Config) ApplyEnv() error {
	var o envOverrides
	if err := env.Parse(&o); err != nil {
		return fmt.Errorf("parse env overrides: %w", err)
	}

	setString := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	setString(&c.Listen, o.Listen)
	setString(&c.Timezone, o.Timezone)
	setString(&c.LogLevel, o.LogLevel)
	setString(&c.DatabasePath, o.DatabasePath)
	setString(&c.SnapshotDir, o.SnapshotDir)
	setString(&c.Source.Mode, o.SourceMode)
	setString(&c.Source.RemoteURL, o.RemoteURL)
	setString(&c.Source.LocalPath, o.LocalPath)

	if o.FetchTimeout > 0 {
		c.Source.FetchTimeout = o.FetchTimeout
	}
	if o.PastDays > 0 {
		c.Retention.PastDays = o.PastDays
	}
	if o.FutureDays > 0 {
		c.Retention.FutureDays = o.FutureDays
	}
	if o.MaxBodyLength > 0 {
		c.Body.MaxLength = o.MaxBodyLength
	}
	if o.PersistBody != "" {
		b, err := strconv.ParseBool(o.PersistBody)
		if err != nil {
			return fmt.Errorf("CALINGEST_PERSIST_BODY: %w", err)
		}
		c.Body.Persist = b
	}
	return nil
}

// Load loads configuration from the given YAML path, overlays the
// environment, normalizes and validates.
//
// Behavior:
//   - If the file does not exist:
//   - write a default config with 0600 perms
//   - continue with the defaults
//   - If the file exists:
//   - read YAML and unmarshal into Config
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		// First run: create default config file.
		if err := Save(path, cfg); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return WriteFileAtomic(path, data)
}

// WriteFileAtomic writes data next to path and renames it into place with
// 0600 permissions.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".calingest-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// Ensure we clean up temp file on error.
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}

	// Flush and close before chmod/rename.
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}

	return os.Rename(tmpName, path)
}
