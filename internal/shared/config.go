package shared

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
)

//go:embed config.example.toml
var exampleConf []byte

// Config represents the application configuration loaded from a TOML file.
//
// Every field can be overridden from the environment with the QMX_ prefix, see [ApplyEnv].
type Config struct {
	API      APIConfig      `toml:"api" envPrefix:"API_"`
	Login    LoginConfig    `toml:"login" envPrefix:"LOGIN_"`
	Database DatabaseConfig `toml:"database" envPrefix:"DATABASE_"`
	Server   ServerConfig   `toml:"server" envPrefix:"SERVER_"`
}

// APIConfig contains the signed request endpoint settings and the client build being emulated.
type APIConfig struct {
	Version     string `toml:"version" env:"VERSION"`
	VersionCode int    `toml:"version_code" env:"VERSION_CODE"`
	Endpoint    string `toml:"endpoint" env:"ENDPOINT"`
	EncEndpoint string `toml:"enc_endpoint" env:"ENC_ENDPOINT"`
	EnableSign  bool   `toml:"enable_sign" env:"ENABLE_SIGN"`
}

// LoginConfig contains QR login cadence and push transport settings.
type LoginConfig struct {
	PollInterval  int    `toml:"poll_interval" env:"POLL_INTERVAL"`     // seconds between native/WX polls
	WXPollTimeout int    `toml:"wx_poll_timeout" env:"WX_POLL_TIMEOUT"` // seconds before a WX long-poll counts as "still waiting"
	PushHost      string `toml:"push_host" env:"PUSH_HOST"`
	PushPath      string `toml:"push_path" env:"PUSH_PATH"`
	KeepAlive     int    `toml:"keep_alive" env:"KEEP_ALIVE"`
	MaxRedirects  int    `toml:"max_redirects" env:"MAX_REDIRECTS"`
	QRDir         string `toml:"qr_dir" env:"QR_DIR"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Path         string `toml:"path" env:"PATH"`
	MaxOpenConns int    `toml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	MaxIdleConns int    `toml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host string `toml:"host" env:"HOST"`
	Port int    `toml:"port" env:"PORT"`
}

// PollEvery returns the poll interval as a [time.Duration].
func (l LoginConfig) PollEvery() time.Duration {
	if l.PollInterval <= 0 {
		return 2 * time.Second
	}
	return time.Duration(l.PollInterval) * time.Second
}

// WXTimeout returns the per-call WX long-poll deadline.
func (l LoginConfig) WXTimeout() time.Duration {
	if l.WXPollTimeout <= 0 {
		return 30 * time.Second
	}
	return time.Duration(l.WXPollTimeout) * time.Second
}

// LoadConfig reads and parses a TOML configuration file from the specified path.
//
// Keys missing from the file keep their default values. A missing file yields [ErrMissingConfig].
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrMissingConfig, path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("%w: failed to parse config: %v", ErrInvalidConfig, err)
	}

	return config, nil
}

// ApplyEnv overrides config fields from QMX_* environment variables.
func ApplyEnv(config *Config) error {
	if err := env.ParseWithOptions(config, env.Options{Prefix: "QMX_"}); err != nil {
		return fmt.Errorf("%w: failed to parse environment: %v", ErrInvalidConfig, err)
	}
	return nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.WriteFile(path, exampleConf, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
