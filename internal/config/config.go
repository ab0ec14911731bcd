package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/commandus/lorawan-storage-sub000/internal/validation"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "LORAWAN_STORAGE_"

const (
	DefaultAddress       = "0.0.0.0:4244"
	MaxUDPPayload        = 65507
	DefaultReadTimeout   = 30 * time.Second
	DefaultJWTTTL        = 24 * time.Hour
	DefaultMaxReconnects = 10
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig     `yaml:"server" toml:"server" envPrefix:"SERVER_"`
	Log       LogConfig        `yaml:"log" toml:"log" envPrefix:"LOG_"`
	Auth      AuthConfig       `yaml:"auth" toml:"auth" envPrefix:"AUTH_"`
	Storage   StorageConfig    `yaml:"storage" toml:"storage"`
	Listeners []ListenerConfig `yaml:"listeners" toml:"listeners" validate:"min=1"`
	Limits    LimitsConfig     `yaml:"limits" toml:"limits" envPrefix:"LIMITS_"`
	NATS      NATSConfig       `yaml:"nats" toml:"nats" envPrefix:"NATS_"`
	Metrics   MetricsConfig    `yaml:"metrics" toml:"metrics" envPrefix:"METRICS_"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Name string `yaml:"name" toml:"name" env:"NAME"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level  string `yaml:"level" toml:"level" env:"LEVEL" validate:"oneof=trace debug info warn error fatal disabled"`
	Format string `yaml:"format" toml:"format" env:"FORMAT" validate:"oneof=console json"`
}

// AuthConfig holds the credentials requests must carry
type AuthConfig struct {
	Code       int32    `yaml:"code" toml:"code" env:"CODE"`
	AccessCode HexCode  `yaml:"access_code" toml:"access_code" env:"ACCESS_CODE"`
	JWTSecret  string   `yaml:"jwt_secret" toml:"jwt_secret" env:"JWT_SECRET"`
	JWTTTL     Duration `yaml:"jwt_ttl" toml:"jwt_ttl" env:"JWT_TTL"`
}

// StorageConfig selects and parameterises the backend
type StorageConfig struct {
	Backend   string            `yaml:"backend" toml:"backend" env:"BACKEND" validate:"required"`
	DSN       string            `yaml:"dsn" toml:"dsn" env:"DSN"`
	Path      string            `yaml:"path" toml:"path" env:"PATH"`
	Plugin    string            `yaml:"plugin" toml:"plugin" env:"PLUGIN"`
	NetID     string            `yaml:"netid" toml:"netid" env:"NETID" validate:"max=6"`
	MasterKey string            `yaml:"master_key" toml:"master_key" env:"MASTER_KEY"`
	Options   map[string]string `yaml:"options" toml:"options" env:"OPTIONS"`
}

// ListenerConfig describes one transport serving one service
type ListenerConfig struct {
	Service string `yaml:"service" toml:"service" validate:"oneof=identity gateway"`
	Network string `yaml:"network" toml:"network" validate:"required,oneof=udp tcp http nats"`
	Address string `yaml:"address" toml:"address"`
	Subject string `yaml:"subject" toml:"subject"`
}

// LimitsConfig bounds buffers and timeouts
type LimitsConfig struct {
	MaxResponseSize int      `yaml:"max_response_size" toml:"max_response_size" env:"MAX_RESPONSE_SIZE" validate:"min=22,max=65535"`
	UDPBufferSize   int      `yaml:"udp_buffer_size" toml:"udp_buffer_size" env:"UDP_BUFFER_SIZE" validate:"min=22,max=65535"`
	ReadTimeout     Duration `yaml:"read_timeout" toml:"read_timeout" env:"READ_TIMEOUT"`
}

// NATSConfig represents NATS configuration
type NATSConfig struct {
	URL           string `yaml:"url" toml:"url" env:"URL"`
	MaxReconnects int    `yaml:"max_reconnects" toml:"max_reconnects" env:"MAX_RECONNECTS"`
}

// MetricsConfig enables the /metrics endpoint on HTTP listeners
type MetricsConfig struct {
	Enabled bool `yaml:"enabled" toml:"enabled" env:"ENABLED"`
}

// Default returns a configuration serving the identity service over UDP
// from the memory backend.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Name: "lorawan-storage"},
		Log:    LogConfig{Level: "info", Format: "console"},
		Auth:   AuthConfig{JWTTTL: Duration(DefaultJWTTTL)},
		Storage: StorageConfig{
			Backend: "memory",
		},
		Listeners: []ListenerConfig{{Service: "identity", Network: "udp", Address: DefaultAddress}},
		Limits: LimitsConfig{
			MaxResponseSize: MaxUDPPayload,
			UDPBufferSize:   MaxUDPPayload,
			ReadTimeout:     Duration(DefaultReadTimeout),
		},
		NATS: NATSConfig{MaxReconnects: DefaultMaxReconnects},
	}
}

// Load loads configuration from file over the defaults, then applies
// environment overrides. An empty filename skips the file.
func Load(filename string) (*Config, error) {
	cfg := Default()
	if filename != "" {
		data, err := os.ReadFile(filename)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := cfg.decode(filename, data); err != nil {
			return nil, fmt.Errorf("unmarshal config: %w", err)
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, fmt.Errorf("environment overrides: %w", err)
	}
	cfg.setDefaults()
	return cfg, nil
}

func (c *Config) decode(filename string, data []byte) error {
	// 按扩展名选择格式，默认 YAML
	if strings.EqualFold(filepath.Ext(filename), ".toml") {
		_, err := toml.Decode(string(data), c)
		return err
	}
	return yaml.Unmarshal(data, c)
}

// applyEnvOverrides applies LORAWAN_STORAGE_* environment variables
func (c *Config) applyEnvOverrides() error {
	return env.ParseWithOptions(c, env.Options{Prefix: EnvPrefix})
}

func (c *Config) setDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if c.Auth.JWTTTL <= 0 {
		c.Auth.JWTTTL = Duration(DefaultJWTTTL)
	}
	if c.Limits.UDPBufferSize == 0 {
		c.Limits.UDPBufferSize = MaxUDPPayload
	}
	if c.Limits.MaxResponseSize == 0 {
		c.Limits.MaxResponseSize = MaxUDPPayload
	}
	if c.Limits.ReadTimeout <= 0 {
		c.Limits.ReadTimeout = Duration(DefaultReadTimeout)
	}
	for i := range c.Listeners {
		if c.Listeners[i].Service == "" {
			c.Listeners[i].Service = "identity"
		}
	}
}

// Validate checks required fields and cross-field constraints
func (c *Config) Validate() error {
	if err := validation.NewValidator().Validate(c); err != nil {
		return err
	}
	for i, l := range c.Listeners {
		switch l.Network {
		case "nats":
			if l.Subject == "" {
				return fmt.Errorf("listener %d: nats listener needs a subject", i)
			}
			if c.NATS.URL == "" {
				return fmt.Errorf("listener %d: nats.url is not set", i)
			}
		default:
			if l.Address == "" {
				return fmt.Errorf("listener %d: address is required", i)
			}
		}
	}
	switch c.Storage.Backend {
	case "postgres":
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage: postgres backend needs a dsn")
		}
	case "bolt":
		if c.Storage.Path == "" {
			return fmt.Errorf("storage: bolt backend needs a path")
		}
	}
	return nil
}

// PrintConfigSummary 打印配置摘要
func (c *Config) PrintConfigSummary(w io.Writer) {
	fmt.Fprintf(w, "=== LoRaWAN Storage Configuration ===\n")
	fmt.Fprintf(w, "Server: %s\n", c.Server.Name)
	fmt.Fprintf(w, "Log: %s (%s)\n", c.Log.Level, c.Log.Format)
	fmt.Fprintf(w, "Code: %d, access code: %s\n", c.Auth.Code, c.Auth.AccessCode)
	if c.Auth.JWTSecret != "" {
		fmt.Fprintf(w, "JWT: enabled, ttl %s\n", c.Auth.JWTTTL)
	}
	fmt.Fprintf(w, "Storage: %s\n", c.Storage.Backend)
	switch {
	case c.Storage.DSN != "":
		fmt.Fprintf(w, "  DSN: %s\n", maskDSN(c.Storage.DSN))
	case c.Storage.Path != "":
		fmt.Fprintf(w, "  Path: %s\n", c.Storage.Path)
	}
	if c.Storage.Plugin != "" {
		fmt.Fprintf(w, "  Plugin: %s\n", c.Storage.Plugin)
	}
	if c.Storage.NetID != "" {
		fmt.Fprintf(w, "  NetID: %s\n", c.Storage.NetID)
	}
	for k, v := range c.Storage.Options {
		fmt.Fprintf(w, "  %s = %s\n", k, v)
	}
	fmt.Fprintf(w, "Listeners:\n")
	for _, l := range c.Listeners {
		if l.Network == "nats" {
			fmt.Fprintf(w, "  %-8s nats %s (%s)\n", l.Service, l.Subject, c.NATS.URL)
			continue
		}
		fmt.Fprintf(w, "  %-8s %-4s %s\n", l.Service, l.Network, l.Address)
	}
	fmt.Fprintf(w, "Limits: response %d bytes, udp buffer %d bytes, read timeout %s\n",
		c.Limits.MaxResponseSize, c.Limits.UDPBufferSize, c.Limits.ReadTimeout)
	fmt.Fprintf(w, "Metrics: %v\n", c.Metrics.Enabled)
	fmt.Fprintf(w, "=====================================\n")
}

// maskDSN hides the password of a URL style DSN
func maskDSN(dsn string) string {
	at := strings.LastIndex(dsn, "@")
	scheme := strings.Index(dsn, "://")
	if at < 0 || scheme < 0 {
		return dsn
	}
	userinfo := dsn[scheme+3 : at]
	user, _, found := strings.Cut(userinfo, ":")
	if !found {
		return dsn
	}
	return dsn[:scheme+3] + user + ":***" + dsn[at:]
}

// HexCode is a 64-bit access code written in hex, with or without 0x
type HexCode uint64

// ParseHexCode parses a hex access code
func ParseHexCode(s string) (HexCode, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X")
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid access code %q: %w", s, err)
	}
	return HexCode(v), nil
}

func (h HexCode) String() string { return strconv.FormatUint(uint64(h), 16) }

func (h HexCode) MarshalText() ([]byte, error) { return []byte(h.String()), nil }

func (h *HexCode) UnmarshalText(text []byte) error {
	v, err := ParseHexCode(string(text))
	if err != nil {
		return err
	}
	*h = v
	return nil
}

func (h *HexCode) UnmarshalYAML(node *yaml.Node) error {
	return h.UnmarshalText([]byte(node.Value))
}

// Duration reads "30s" style values from YAML, TOML and the environment
type Duration time.Duration

func (d Duration) String() string { return time.Duration(d).String() }

// Std returns the value as a time.Duration
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	return d.UnmarshalText([]byte(node.Value))
}
