// Package config loads configuration for the relay and the collabctl client.
//
// Configuration comes from a single YAML file named by the --config flag
// or, when no flag is given, the COLLAB_CONFIG environment variable. With
// neither, the defaults apply. ${VAR} and ${VAR:-default} in string values
// are expanded from the environment after loading.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/codesynq/collab.go/pkg/constants"
	"github.com/codesynq/collab.go/pkg/protocol"
)

// EnvConfig names the config file when no --config flag is given.
const EnvConfig = "COLLAB_CONFIG"

type Config struct {
	Relay  RelayConfig  `yaml:"relay"`
	Client ClientConfig `yaml:"client"`
	Log    LogConfig    `yaml:"log"`
}

type RelayConfig struct {
	// Listen is the address the relay serves on.
	// Default: 127.0.0.1:8080
	Listen string `yaml:"listen"`

	// Redis enables sharing rooms between relay instances. Empty Addr keeps
	// rooms in memory.
	Redis RedisConfig `yaml:"redis"`

	DefaultCode     string `yaml:"default_code"`
	DefaultLanguage string `yaml:"default_language"`

	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

type RedisConfig struct {
	Addr      string   `yaml:"addr"`
	Password  string   `yaml:"password"`
	DB        int      `yaml:"db"`
	KeyPrefix string   `yaml:"key_prefix"`
	Channel   string   `yaml:"channel"`
	RoomTTL   Duration `yaml:"room_ttl"`
}

type ClientConfig struct {
	// URL is the relay WebSocket endpoint.
	// Default: ws://127.0.0.1:8080/ws
	URL string `yaml:"url"`

	// ShareBase is the page share links point at.
	ShareBase string `yaml:"share_base"`

	// Identity is the signed-in user. Empty UID joins as a guest.
	Identity IdentityConfig `yaml:"identity"`

	// Mode is the edit mode for rooms created by this client.
	// Default: freestyle
	Mode string `yaml:"mode"`

	ConnectTimeout    Duration `yaml:"connect_timeout"`
	ReconnectInterval Duration `yaml:"reconnect_interval"`
	JoinRetryDelay    Duration `yaml:"join_retry_delay"`
	JoinMaxRetries    int      `yaml:"join_max_retries"`
	ResyncInterval    Duration `yaml:"resync_interval"`
	EchoWindow        Duration `yaml:"echo_window"`
	CursorTTL         Duration `yaml:"cursor_ttl"`
}

type IdentityConfig struct {
	UID         string `yaml:"uid"`
	DisplayName string `yaml:"display_name"`
	Photo       string `yaml:"photo"`
}

type LogConfig struct {
	// File receives JSON log lines. Empty logs to stderr.
	File string `yaml:"file"`
	// Level is one of debug, info, warn, error.
	// Default: info
	Level string `yaml:"level"`
}

// Default returns the configuration used when no file is given. A file is
// merged on top of it.
func Default() *Config {
	return &Config{
		Relay: RelayConfig{
			Listen:          "127.0.0.1:8080",
			DefaultCode:     constants.DefaultCode,
			DefaultLanguage: constants.DefaultLanguage,
			ShutdownTimeout: Duration(5 * time.Second),
		},
		Client: ClientConfig{
			URL:               "ws://127.0.0.1:8080" + constants.WSPath,
			ShareBase:         "http://127.0.0.1:8080/",
			Mode:              string(protocol.Freestyle),
			ConnectTimeout:    Duration(constants.DefaultConnectTimeout),
			ReconnectInterval: Duration(constants.DefaultReconnectInterval),
			JoinRetryDelay:    Duration(constants.DefaultJoinRetryDelay),
			JoinMaxRetries:    constants.DefaultJoinMaxRetries,
			ResyncInterval:    Duration(constants.DefaultResyncInterval),
			EchoWindow:        Duration(constants.DefaultEchoWindow),
			CursorTTL:         Duration(constants.DefaultCursorTTL),
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads the file named by path, or by COLLAB_CONFIG when path is
// empty. With neither it returns the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvConfig)
	}
	if path == "" {
		return Default(), nil
	}
	return LoadFile(path)
}

// LoadFile reads path over the defaults, expands variables and validates.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults, expands variables and validates.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.expandVariables()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) expandVariables() {
	for _, s := range []*string{
		&c.Relay.Listen,
		&c.Relay.Redis.Addr,
		&c.Relay.Redis.Password,
		&c.Client.URL,
		&c.Client.ShareBase,
		&c.Client.Identity.UID,
		&c.Client.Identity.DisplayName,
		&c.Log.File,
	} {
		*s = expandVars(*s)
	}
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		return parts[2]
	})
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Relay.Listen == "" {
		errs = append(errs, errors.New("relay.listen is required"))
	}
	if c.Client.URL == "" {
		errs = append(errs, errors.New("client.url is required"))
	}
	if _, err := protocol.ParseMode(c.Client.Mode); err != nil {
		errs = append(errs, fmt.Errorf("client.mode: %w", err))
	}
	if c.Client.JoinMaxRetries < 0 {
		errs = append(errs, errors.New("client.join_max_retries must not be negative"))
	}

	for name, d := range map[string]Duration{
		"relay.shutdown_timeout":    c.Relay.ShutdownTimeout,
		"relay.redis.room_ttl":      c.Relay.Redis.RoomTTL,
		"client.connect_timeout":    c.Client.ConnectTimeout,
		"client.reconnect_interval": c.Client.ReconnectInterval,
		"client.join_retry_delay":   c.Client.JoinRetryDelay,
		"client.resync_interval":    c.Client.ResyncInterval,
		"client.echo_window":        c.Client.EchoWindow,
		"client.cursor_ttl":         c.Client.CursorTTL,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", name))
		}
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level: unknown level %q", c.Log.Level))
	}

	return errors.Join(errs...)
}

// Duration is a time.Duration written as a Go duration string ("1.5s").
type Duration time.Duration

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("line %d: duration must be a string: %w", value.Line, err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}
