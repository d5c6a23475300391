package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/zsprackett/tokengauge/internal/usage"
)

const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"

	SourceOAuth = "oauth"
	SourceAPI   = "api"
)

type ProviderConfig struct {
	ID        string `mapstructure:"id" yaml:"id"`
	Enabled   *bool  `mapstructure:"enabled" yaml:"enabled,omitempty"` // nil = enabled
	Source    string `mapstructure:"source" yaml:"source,omitempty"`   // empty = global source
	APIKey    string `mapstructure:"api_key" yaml:"api_key,omitempty"`
	APIKeyEnv string `mapstructure:"api_key_env" yaml:"api_key_env,omitempty"`
	Glyph     string `mapstructure:"glyph" yaml:"glyph,omitempty"`
}

func (p ProviderConfig) IsEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}

type CacheConfig struct {
	Path    string `mapstructure:"path" yaml:"path"`
	Backend string `mapstructure:"backend" yaml:"backend"`
}

type Config struct {
	CodexbarBin     string           `mapstructure:"codexbar_bin"`
	Source          string           `mapstructure:"source"`
	RefreshInterval time.Duration    `mapstructure:"refresh_interval"`
	Timeout         time.Duration    `mapstructure:"timeout"`
	Window          string           `mapstructure:"window"`
	StalePolicy     string           `mapstructure:"stale_policy"`
	Cache           CacheConfig      `mapstructure:"cache"`
	Providers       []ProviderConfig `mapstructure:"providers"`
	LogDir          string           `mapstructure:"log_dir"`
	LogLevel        string           `mapstructure:"log_level"`
	LogFormat       string           `mapstructure:"log_format"`
	MetricsFile     string           `mapstructure:"metrics_file"`
}

// Error is a malformed or missing required configuration value.
type Error struct {
	Field string
	Msg   string
}

func (e *Error) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Msg)
}

func Defaults() Config {
	return Config{
		CodexbarBin:     "codexbar",
		Source:          SourceOAuth,
		RefreshInterval: 10 * time.Minute,
		Timeout:         10 * time.Second,
		Window:          string(usage.Daily),
		StalePolicy:     string(usage.StaleKeep),
		Cache: CacheConfig{
			Path:    DefaultCachePath(),
			Backend: BackendFile,
		},
		Providers: DefaultProviders(),
		LogDir:    DefaultLogDir(),
		LogLevel:  "info",
		LogFormat: "text",
	}
}

func DefaultProviders() []ProviderConfig {
	return []ProviderConfig{
		{ID: "codex"},
		{ID: "claude"},
	}
}

func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		home, _ := os.UserHomeDir()
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "tokengauge", "config.yaml")
}

func DefaultCachePath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "tokengauge-usage.json")
	}
	return filepath.Join(dir, "tokengauge", "usage.json")
}

func DefaultLogDir() string {
	if dir := os.Getenv("XDG_STATE_HOME"); dir != "" {
		return filepath.Join(dir, "tokengauge", "logs")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "state", "tokengauge", "logs")
}

// Load reads the config file at path. A missing file yields Defaults().
// TOKENGAUGE_* environment variables override file values.
func Load(path string) (Config, error) {
	def := Defaults()
	v := viper.New()
	v.SetDefault("codexbar_bin", def.CodexbarBin)
	v.SetDefault("source", def.Source)
	v.SetDefault("refresh_interval", def.RefreshInterval)
	v.SetDefault("timeout", def.Timeout)
	v.SetDefault("window", def.Window)
	v.SetDefault("stale_policy", def.StalePolicy)
	v.SetDefault("cache.path", def.Cache.Path)
	v.SetDefault("cache.backend", def.Cache.Backend)
	v.SetDefault("log_dir", def.LogDir)
	v.SetDefault("log_level", def.LogLevel)
	v.SetDefault("log_format", def.LogFormat)
	v.SetDefault("metrics_file", "")

	v.SetEnvPrefix("TOKENGAUGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if _, err := os.Stat(path); err == nil {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return def, fmt.Errorf("read config %s: %w", path, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return def, err
	}

	var cfg Config
	decodeHook := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.TextUnmarshallerHookFunc(),
	)
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHook)); err != nil {
		return def, fmt.Errorf("parse config %s: %w", path, err)
	}
	if len(cfg.Providers) == 0 {
		cfg.Providers = DefaultProviders()
	}

	cfg.Cache.Path = expandPath(cfg.Cache.Path)
	cfg.LogDir = expandPath(cfg.LogDir)
	cfg.MetricsFile = expandPath(cfg.MetricsFile)
	for i := range cfg.Providers {
		cfg.Providers[i].APIKey = os.ExpandEnv(cfg.Providers[i].APIKey)
	}
	return cfg, nil
}

// Validate reports the first invalid field as an *Error.
func (c Config) Validate() error {
	if strings.TrimSpace(c.CodexbarBin) == "" {
		return &Error{Field: "codexbar_bin", Msg: "must not be empty"}
	}
	if err := validSource(c.Source); err != nil {
		return &Error{Field: "source", Msg: err.Error()}
	}
	if c.RefreshInterval <= 0 {
		return &Error{Field: "refresh_interval", Msg: "must be positive"}
	}
	if c.Timeout <= 0 {
		return &Error{Field: "timeout", Msg: "must be positive"}
	}
	if _, err := usage.ParseWindow(c.Window); err != nil {
		return &Error{Field: "window", Msg: err.Error()}
	}
	if _, err := usage.ParseStalePolicy(c.StalePolicy); err != nil {
		return &Error{Field: "stale_policy", Msg: err.Error()}
	}
	if c.Cache.Path == "" {
		return &Error{Field: "cache.path", Msg: "must not be empty"}
	}
	switch c.Cache.Backend {
	case BackendFile, BackendSQLite, "":
	default:
		return &Error{Field: "cache.backend", Msg: fmt.Sprintf("unknown backend %q (want file or sqlite)", c.Cache.Backend)}
	}
	switch c.LogFormat {
	case "text", "json", "":
	default:
		return &Error{Field: "log_format", Msg: fmt.Sprintf("unknown format %q (want text or json)", c.LogFormat)}
	}
	seen := make(map[string]bool)
	for i, p := range c.Providers {
		field := fmt.Sprintf("providers[%d]", i)
		if p.ID == "" {
			return &Error{Field: field + ".id", Msg: "must not be empty"}
		}
		if seen[p.ID] {
			return &Error{Field: field + ".id", Msg: fmt.Sprintf("duplicate provider %q", p.ID)}
		}
		seen[p.ID] = true
		if p.Source != "" {
			if err := validSource(p.Source); err != nil {
				return &Error{Field: field + ".source", Msg: err.Error()}
			}
		}
	}
	return nil
}

func validSource(s string) error {
	switch s {
	case SourceOAuth, SourceAPI:
		return nil
	default:
		return fmt.Errorf("unknown source %q (want oauth or api)", s)
	}
}

func (c Config) WindowPreference() usage.Window {
	w, err := usage.ParseWindow(c.Window)
	if err != nil {
		return usage.Daily
	}
	return w
}

func (c Config) Policy() usage.StalePolicy {
	p, err := usage.ParseStalePolicy(c.StalePolicy)
	if err != nil {
		return usage.StaleKeep
	}
	return p
}

// Order returns the enabled providers in configuration order.
func (c Config) Order() []usage.ProviderID {
	var ids []usage.ProviderID
	for _, p := range c.Providers {
		if p.IsEnabled() {
			ids = append(ids, usage.ProviderID(p.ID))
		}
	}
	return ids
}

// Glyphs returns the configured display glyph per provider, if any.
func (c Config) Glyphs() map[usage.ProviderID]string {
	glyphs := make(map[usage.ProviderID]string)
	for _, p := range c.Providers {
		if p.Glyph != "" {
			glyphs[usage.ProviderID(p.ID)] = p.Glyph
		}
	}
	return glyphs
}

// StaleAfter is how long a refresh-in-progress marker is honoured before it
// is considered abandoned.
func (c Config) StaleAfter() time.Duration {
	return 3 * c.Timeout
}

type document struct {
	CodexbarBin     string           `yaml:"codexbar_bin"`
	Source          string           `yaml:"source"`
	RefreshInterval string           `yaml:"refresh_interval"`
	Timeout         string           `yaml:"timeout"`
	Window          string           `yaml:"window"`
	StalePolicy     string           `yaml:"stale_policy"`
	Cache           CacheConfig      `yaml:"cache"`
	Providers       []ProviderConfig `yaml:"providers"`
	LogDir          string           `yaml:"log_dir"`
	LogLevel        string           `yaml:"log_level"`
	LogFormat       string           `yaml:"log_format"`
	MetricsFile     string           `yaml:"metrics_file,omitempty"`
}

// Save writes cfg to path as YAML, creating parent directories.
func Save(cfg Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return err
	}
	data, err := yaml.Marshal(document{
		CodexbarBin:     cfg.CodexbarBin,
		Source:          cfg.Source,
		RefreshInterval: cfg.RefreshInterval.String(),
		Timeout:         cfg.Timeout.String(),
		Window:          cfg.Window,
		StalePolicy:     cfg.StalePolicy,
		Cache:           cfg.Cache,
		Providers:       cfg.Providers,
		LogDir:          cfg.LogDir,
		LogLevel:        cfg.LogLevel,
		LogFormat:       cfg.LogFormat,
		MetricsFile:     cfg.MetricsFile,
	})
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func expandPath(p string) string {
	p = os.ExpandEnv(p)
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			p = filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}
