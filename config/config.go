// Package config loads the client configuration: built in defaults, then a
// YAML file, then ROOMMATE_* environment variables.
package config

import (
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/cockroachdb/errors"
	cstr "github.com/roommate-match/go-client/string"
	"github.com/xhit/go-str2duration/v2"
	"gopkg.in/yaml.v3"
)

// Duration accepts Go durations plus day and week units ("1d12h", "2w").
type Duration time.Duration

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := str2duration.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return errors.Wrapf(err, "invalid duration %q", string(b))
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(str2duration.String(time.Duration(d))), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

type Session struct {
	// Path of the SQLite file the session is persisted in; empty keeps it in memory
	Path string `yaml:"path" env:"ROOMMATE_SESSION_PATH"`
	// RedisURL persists the session in Redis instead of SQLite
	RedisURL string `yaml:"redis_url" env:"ROOMMATE_REDIS_URL"`
	Key      string `yaml:"key" env:"ROOMMATE_SESSION_KEY"`
	// TTL expires the session kept in Redis; zero keeps it until logout
	TTL Duration `yaml:"ttl" env:"ROOMMATE_SESSION_TTL"`
}

type Log struct {
	Level  string `yaml:"level" env:"ROOMMATE_LOG_LEVEL"`
	Format string `yaml:"format" env:"ROOMMATE_LOG_FORMAT"`
}

type Telemetry struct {
	Disabled bool   `yaml:"disabled" env:"ROOMMATE_NO_TELEMETRY"`
	URL      string `yaml:"otlp_url" env:"ROOMMATE_OTLP_URL"`
	Token    string `yaml:"otlp_token" env:"ROOMMATE_OTLP_TOKEN"`
}

type Config struct {
	APIBase      string    `yaml:"api_base" env:"ROOMMATE_API_BASE"`
	RealtimeBase string    `yaml:"realtime_base" env:"ROOMMATE_WS_BASE"`
	RefreshPath  string    `yaml:"refresh_path" env:"ROOMMATE_REFRESH_PATH"`
	Timeout      Duration  `yaml:"timeout" env:"ROOMMATE_TIMEOUT"`
	MetricsAddr  string    `yaml:"metrics_addr" env:"ROOMMATE_METRICS_ADDR"`
	Session      Session   `yaml:"session"`
	Log          Log       `yaml:"log"`
	Telemetry    Telemetry `yaml:"telemetry"`
}

// Default returns the built in configuration.
func Default() Config {
	cfg := Config{
		APIBase:     "http://localhost:8080/api",
		RefreshPath: "/auth/refresh",
		Timeout:     Duration(10 * time.Second),
		Session:     Session{Key: "session"},
		Log:         Log{Level: "info", Format: "console"},
		Telemetry:   Telemetry{Disabled: true},
	}
	if dir, err := os.UserCacheDir(); err == nil {
		cfg.Session.Path = filepath.Join(dir, "roommate", "session.db")
	}
	return cfg
}

// DefaultPath is the configuration file read when none is given.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "roommate", "config.yaml")
}

// Load reads the configuration from path and the process environment. A
// missing file is only an error when path was given explicitly.
func Load(path string) (Config, error) {
	return LoadWithEnv(path, nil)
}

// LoadWithEnv is Load with environ replacing the process environment when
// not nil. ${VAR} references in the file are expanded from the same
// environment.
func LoadWithEnv(path string, environ map[string]string) (Config, error) {
	cfg := Default()
	lookup := os.LookupEnv
	if environ != nil {
		lookup = func(k string) (string, bool) {
			v, ok := environ[k]
			return v, ok
		}
	}
	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}
	if path != "" {
		buf, err := os.ReadFile(path)
		switch {
		case err == nil:
			expanded, err := cstr.Interpolate(string(buf), lookup)
			if err != nil {
				return cfg, errors.Wrapf(err, "error expanding %s", path)
			}
			if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
				return cfg, errors.Wrapf(err, "error parsing %s", path)
			}
		case errors.Is(err, os.ErrNotExist) && !explicit:
		default:
			return cfg, errors.Wrapf(err, "error reading %s", path)
		}
	}
	opts := env.Options{}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return cfg, errors.Wrap(err, "error parsing environment")
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the urls and fills the realtime base from the api base
// when it is not set.
func (c *Config) Validate() error {
	u, err := url.Parse(c.APIBase)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.Newf("invalid api base %q", c.APIBase)
	}
	if c.RealtimeBase == "" {
		rt := url.URL{Scheme: "ws", Host: u.Host}
		if u.Scheme == "https" {
			rt.Scheme = "wss"
		}
		c.RealtimeBase = rt.String()
	}
	rt, err := url.Parse(c.RealtimeBase)
	if err != nil || rt.Host == "" {
		return errors.Newf("invalid realtime base %q", c.RealtimeBase)
	}
	switch rt.Scheme {
	case "ws", "wss", "http", "https":
	default:
		return errors.Newf("invalid realtime base %q", c.RealtimeBase)
	}
	if c.Timeout <= 0 {
		return errors.Newf("timeout must be positive, got %s", time.Duration(c.Timeout))
	}
	switch c.Log.Format {
	case "", "console", "json":
	default:
		return errors.Newf("unknown log format %q", c.Log.Format)
	}
	return nil
}
