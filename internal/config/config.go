// Package config loads the modacct configuration from a file, MODACCT_*
// environment variables and built-in defaults.
package config

import (
	"fmt"
	"log/slog"
	"reflect"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/roach88/modacct/internal/ir"
)

// EnvPrefix prefixes environment overrides: MODACCT_HOST_MAX_STEPS
// overrides host.max_steps.
const EnvPrefix = "MODACCT"

// Config is the full configuration.
type Config struct {
	Database string         `mapstructure:"database"`
	Log      LogConfig      `mapstructure:"log"`
	Registry RegistryConfig `mapstructure:"registry"`
	Host     HostConfig     `mapstructure:"host"`
}

// LogConfig configures structured logging. An empty File logs to stderr.
type LogConfig struct {
	Level      slog.Level `mapstructure:"level"`
	Format     string     `mapstructure:"format"`
	File       string     `mapstructure:"file"`
	MaxSizeMB  int        `mapstructure:"max_size_mb"`
	MaxBackups int        `mapstructure:"max_backups"`
	Compress   bool       `mapstructure:"compress"`
}

// RegistryConfig holds the registry's admission rights.
type RegistryConfig struct {
	Admin         ir.Addr `mapstructure:"admin"`
	PlatformAdmin ir.Addr `mapstructure:"platform_admin"`
}

// HostConfig configures the transaction host.
type HostConfig struct {
	Factory       ir.Addr `mapstructure:"factory"`
	MaxSteps      int     `mapstructure:"max_steps"`
	AddressPrefix string  `mapstructure:"address_prefix"`
}

// Defaults for a local single-user setup. The admin and factory addresses
// are derived so they pass address validation.
var (
	DefaultAdmin   = ir.DeriveAddr("mod", "registry/admin", 0)
	DefaultFactory = ir.DeriveAddr("mod", "module/factory", 0)
)

// Load reads path (any format viper understands; empty means no file),
// applies environment overrides and defaults, then validates.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(levelDecodeHook())); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database", "modacct.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 10)
	v.SetDefault("log.compress", true)
	v.SetDefault("registry.admin", string(DefaultAdmin))
	v.SetDefault("registry.platform_admin", string(DefaultAdmin))
	v.SetDefault("host.factory", string(DefaultFactory))
	v.SetDefault("host.max_steps", 1000)
	v.SetDefault("host.address_prefix", "mod")
}

// levelDecodeHook decodes "debug", "info", "warn" and "error" (any case)
// into slog levels.
func levelDecodeHook() mapstructure.DecodeHookFunc {
	target := reflect.TypeOf(slog.Level(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != target || from.Kind() != reflect.String {
			return data, nil
		}
		var level slog.Level
		if err := level.UnmarshalText([]byte(strings.TrimSpace(data.(string)))); err != nil {
			return nil, FieldError{Field: "log.level", Reason: fmt.Sprintf("unknown level %q", data)}
		}
		return level, nil
	}
}

// Validate checks every field and reports the first bad one.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Database) == "" {
		return FieldError{Field: "database", Reason: "must not be empty"}
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return FieldError{Field: "log.format", Reason: fmt.Sprintf("must be text or json, got %q", c.Log.Format)}
	}
	if c.Log.File != "" && c.Log.MaxSizeMB <= 0 {
		return FieldError{Field: "log.max_size_mb", Reason: "must be positive"}
	}
	if c.Log.MaxBackups < 0 {
		return FieldError{Field: "log.max_backups", Reason: "must not be negative"}
	}
	addrs := []struct {
		field string
		addr  ir.Addr
	}{
		{"registry.admin", c.Registry.Admin},
		{"registry.platform_admin", c.Registry.PlatformAdmin},
		{"host.factory", c.Host.Factory},
	}
	for _, a := range addrs {
		if err := ir.ValidateAddr(a.addr); err != nil {
			return FieldError{Field: a.field, Reason: err.Error()}
		}
	}
	if c.Host.MaxSteps <= 0 {
		return FieldError{Field: "host.max_steps", Reason: "must be positive"}
	}
	if !validPrefix(c.Host.AddressPrefix) {
		return FieldError{Field: "host.address_prefix", Reason: "must be lowercase letters"}
	}
	return nil
}

func validPrefix(p string) bool {
	if p == "" {
		return false
	}
	for _, r := range p {
		if r < 'a' || r > 'z' {
			return false
		}
	}
	return true
}
