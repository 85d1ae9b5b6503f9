// Package config loads client settings from flags, MITRE_MCP_* environment
// variables and an optional config file, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. MITRE_MCP_PORT.
const EnvPrefix = "MITRE_MCP"

// Keys understood by Load. Flag names use dashes; keys use underscores.
const (
	KeyHost           = "host"
	KeyPort           = "port"
	KeyMount          = "mount"
	KeyNoPretty       = "no_pretty"
	KeyDebug          = "debug"
	KeyLogLevel       = "log_level"
	KeyRequestTimeout = "request_timeout"
	KeyProbeTimeout   = "probe_timeout"
)

const (
	DefaultHost           = "localhost"
	DefaultPort           = 8000
	DefaultMount          = "mcp"
	DefaultLogLevel       = "warn"
	DefaultRequestTimeout = 30 * time.Second
	DefaultProbeTimeout   = 5 * time.Second
)

type Config struct {
	RunID          string // distinguishes log lines of one invocation
	Host           string
	Port           int
	Mount          string
	Pretty         bool
	Debug          bool
	LogLevel       string
	RequestTimeout time.Duration
	ProbeTimeout   time.Duration
}

// New returns a viper instance with defaults and environment binding set
// up. Flags are attached with BindFlags.
func New() *viper.Viper {
	v := viper.New()
	v.SetDefault(KeyHost, DefaultHost)
	v.SetDefault(KeyPort, DefaultPort)
	v.SetDefault(KeyMount, DefaultMount)
	v.SetDefault(KeyNoPretty, false)
	v.SetDefault(KeyDebug, false)
	v.SetDefault(KeyLogLevel, DefaultLogLevel)
	v.SetDefault(KeyRequestTimeout, DefaultRequestTimeout)
	v.SetDefault(KeyProbeTimeout, DefaultProbeTimeout)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

// BindFlags binds every flag in fs whose name maps to a known key.
func BindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	var errs []error
	fs.VisitAll(func(f *pflag.Flag) {
		key := strings.ReplaceAll(f.Name, "-", "_")
		switch key {
		case KeyHost, KeyPort, KeyMount, KeyNoPretty, KeyDebug, KeyLogLevel, KeyRequestTimeout, KeyProbeTimeout:
			if err := v.BindPFlag(key, f); err != nil {
				errs = append(errs, fmt.Errorf("bind flag %s: %w", f.Name, err))
			}
		}
	})
	return errors.Join(errs...)
}

// Load reads the optional config file at path and resolves the final
// configuration.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := &Config{
		RunID:          uuid.NewString(),
		Host:           strings.TrimSpace(v.GetString(KeyHost)),
		Port:           v.GetInt(KeyPort),
		Mount:          strings.Trim(v.GetString(KeyMount), "/ "),
		Pretty:         !v.GetBool(KeyNoPretty),
		Debug:          v.GetBool(KeyDebug),
		LogLevel:       v.GetString(KeyLogLevel),
		RequestTimeout: v.GetDuration(KeyRequestTimeout),
		ProbeTimeout:   v.GetDuration(KeyProbeTimeout),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks ranges that would otherwise surface as confusing
// transport errors.
func (c *Config) Validate() error {
	if c.Host == "" {
		return errors.New("host must not be empty")
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range 1-65535", c.Port)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be positive, got %s", c.RequestTimeout)
	}
	if c.ProbeTimeout <= 0 {
		return fmt.Errorf("probe timeout must be positive, got %s", c.ProbeTimeout)
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// BaseURL is the server root, http://host:port.
func (c *Config) BaseURL() string {
	return "http://" + net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// URL is the MCP endpoint, http://host:port/mount.
func (c *Config) URL() string {
	if c.Mount == "" {
		return c.BaseURL() + "/"
	}
	return c.BaseURL() + "/" + c.Mount
}

// ServerHint tells the user how to start a server this config would reach.
func (c *Config) ServerHint() string {
	return fmt.Sprintf("Make sure mitre-mcp server is running: mitre-mcp --http --port %d", c.Port)
}
