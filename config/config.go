// Package config loads wasm-bridge settings with viper.
//
// Values are layered, lowest precedence first: built-in defaults, an optional
// config file (TOML, YAML or JSON, chosen by extension), WASM_BRIDGE_*
// environment variables and finally command-line flags. Nested keys map to
// environment variables by upper-casing and replacing dots with underscores,
// so server.address is read from WASM_BRIDGE_SERVER_ADDRESS.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/wippyai/wasm-bridge/errors"
	"github.com/wippyai/wasm-bridge/host"
)

// EnvPrefix is the prefix of environment variables read by Load.
const EnvPrefix = "WASM_BRIDGE"

// Keys.
const (
	KeyModuleID         = "module.id"
	KeyModuleDir        = "module.dir"
	KeyMemoryLimitPages = "host.memory_limit_pages"
	KeySupportModule    = "host.support_module"
	KeyWASI             = "host.wasi"
	KeyCacheDir         = "host.cache_dir"
	KeyNetwork          = "server.network"
	KeyAddress          = "server.address"
	KeyWorkers          = "server.workers"
	KeyLinger           = "server.linger"
	KeyLogLevel         = "log.level"
	KeyLogDevelopment   = "log.development"
)

// maxMemoryPages is the wasm32 limit of 4GiB in 64KiB pages.
const maxMemoryPages = 65536

// Config is the complete wasm-bridge configuration.
type Config struct {
	Module ModuleConfig `mapstructure:"module"`
	Host   HostConfig   `mapstructure:"host"`
	Server ServerConfig `mapstructure:"server"`
	Log    LogConfig    `mapstructure:"log"`
}

// ModuleConfig names the module to load and where module binaries live.
type ModuleConfig struct {
	ID  string `mapstructure:"id"`
	Dir string `mapstructure:"dir"`
}

// HostConfig configures the wazero host.
type HostConfig struct {
	SupportModule    string `mapstructure:"support_module"`
	CacheDir         string `mapstructure:"cache_dir"`
	MemoryLimitPages uint32 `mapstructure:"memory_limit_pages"`
	WASI             bool   `mapstructure:"wasi"`
}

// ServerConfig configures the connection server.
type ServerConfig struct {
	Network string        `mapstructure:"network"`
	Address string        `mapstructure:"address"`
	Linger  time.Duration `mapstructure:"linger"`
	Workers int           `mapstructure:"workers"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Module: ModuleConfig{
			Dir: ".",
		},
		Host: HostConfig{
			SupportModule: host.DefaultSupportModule,
		},
		Server: ServerConfig{
			Network: "tcp",
			Address: "127.0.0.1:7070",
			Linger:  time.Second,
			Workers: 4,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// flagKeys maps flag names registered by AddFlags to config keys.
var flagKeys = map[string]string{
	"module":       KeyModuleID,
	"module-dir":   KeyModuleDir,
	"memory-pages": KeyMemoryLimitPages,
	"wasi":         KeyWASI,
	"cache-dir":    KeyCacheDir,
	"network":      KeyNetwork,
	"listen":       KeyAddress,
	"workers":      KeyWorkers,
	"linger":       KeyLinger,
	"log-level":    KeyLogLevel,
	"dev":          KeyLogDevelopment,
}

// AddFlags registers the flags Load understands on fs.
func AddFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.StringP("module", "m", d.Module.ID, "module id to load")
	fs.String("module-dir", d.Module.Dir, "directory holding <id>.wasm modules")
	fs.Uint32("memory-pages", d.Host.MemoryLimitPages, "memory limit per instance in 64KiB pages (0 = runtime default)")
	fs.Bool("wasi", d.Host.WASI, "provide WASI preview1 to modules")
	fs.String("cache-dir", d.Host.CacheDir, "on-disk compilation cache directory")
	fs.String("network", d.Server.Network, "listener network (tcp, tcp4, tcp6, unix)")
	fs.String("listen", d.Server.Address, "listener address")
	fs.Int("workers", d.Server.Workers, "number of connection workers")
	fs.Duration("linger", d.Server.Linger, "how long replies are forwarded after a peer stops sending")
	fs.String("log-level", d.Log.Level, "log level (debug, info, warn, error)")
	fs.Bool("dev", d.Log.Development, "human-readable development logging")
}

// Load reads configuration from the optional file at path, the environment
// and flags. flags may be nil; only flags registered by AddFlags are bound.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	d := Default()
	v.SetDefault(KeyModuleID, d.Module.ID)
	v.SetDefault(KeyModuleDir, d.Module.Dir)
	v.SetDefault(KeyMemoryLimitPages, d.Host.MemoryLimitPages)
	v.SetDefault(KeySupportModule, d.Host.SupportModule)
	v.SetDefault(KeyWASI, d.Host.WASI)
	v.SetDefault(KeyCacheDir, d.Host.CacheDir)
	v.SetDefault(KeyNetwork, d.Server.Network)
	v.SetDefault(KeyAddress, d.Server.Address)
	v.SetDefault(KeyWorkers, d.Server.Workers)
	v.SetDefault(KeyLinger, d.Server.Linger)
	v.SetDefault(KeyLogLevel, d.Log.Level)
	v.SetDefault(KeyLogDevelopment, d.Log.Development)

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, errors.New(errors.PhaseConfig, errors.KindNotFound).
				Detail("config file %s", path).
				Cause(err).
				Build()
		}
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidData, err, "read config file "+path)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range flagKeys {
			f := flags.Lookup(name)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "bind flag --"+name)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidData, err, "decode config")
	}
	return &cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	invalid := func(key, format string, args ...any) error {
		return errors.New(errors.PhaseConfig, errors.KindInvalidInput).
			Detail(key+": "+format, args...).
			Build()
	}

	switch {
	case c.Module.ID == "":
		return invalid(KeyModuleID, "required")
	case strings.ContainsAny(c.Module.ID, `/\`) || c.Module.ID == "." || c.Module.ID == "..":
		return invalid(KeyModuleID, "%q is not a plain module name", c.Module.ID)
	case c.Module.Dir == "":
		return invalid(KeyModuleDir, "required")
	case c.Host.MemoryLimitPages > maxMemoryPages:
		return invalid(KeyMemoryLimitPages, "%d exceeds %d", c.Host.MemoryLimitPages, maxMemoryPages)
	case c.Server.Workers < 1:
		return invalid(KeyWorkers, "must be at least 1, got %d", c.Server.Workers)
	case c.Server.Address == "":
		return invalid(KeyAddress, "required")
	}

	switch c.Server.Network {
	case "tcp", "tcp4", "tcp6", "unix":
	default:
		return invalid(KeyNetwork, "unsupported network %q", c.Server.Network)
	}

	if c.Server.Linger < 0 {
		return invalid(KeyLinger, "must not be negative, got %s", c.Server.Linger)
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return invalid(KeyLogLevel, "%v", err)
	}
	return nil
}

// HostOptions converts the host section into a host.Config.
func (c *Config) HostOptions() *host.Config {
	return &host.Config{
		SupportModule:    c.Host.SupportModule,
		CacheDir:         c.Host.CacheDir,
		MemoryLimitPages: c.Host.MemoryLimitPages,
		EnableWASI:       c.Host.WASI,
	}
}

// NewLogger builds the process logger described by c.
func (c LogConfig) NewLogger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.Level)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "log level")
	}

	zc := zap.NewProductionConfig()
	if c.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
