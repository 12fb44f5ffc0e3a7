package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"github.com/wentianbu/sft/pkg/lastlogin"
)

// Config represents the complete SFT configuration, covering both the server
// and the client library.
//
// Configuration sources (in order of precedence):
//  1. CLI flags / positional arguments (highest priority)
//  2. Environment variables (SFT_*)
//  3. Configuration file (YAML)
//  4. Default values (lowest priority)
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging"`

	// Server contains the file transfer server settings
	Server ServerConfig `mapstructure:"server"`

	// Client contains the client library settings
	Client ClientConfig `mapstructure:"client"`

	// Metrics contains the Prometheus metrics server settings
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Output specifies where logs are written: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required"`
}

// ServerConfig contains the file transfer server settings.
type ServerConfig struct {
	// ListenAddress is the interface to bind. Empty means all interfaces.
	ListenAddress string `mapstructure:"listen_address"`

	// Port is the TCP port the server listens on
	Port int `mapstructure:"port" validate:"required,gt=0,lte=65535"`

	// CertFile and KeyFile are the PEM-encoded TLS certificate and key
	CertFile string `mapstructure:"cert_file" validate:"required"`
	KeyFile  string `mapstructure:"key_file" validate:"required"`

	// RootDir is the directory served to clients. Every remote path is
	// resolved strictly underneath it.
	RootDir string `mapstructure:"root_dir" validate:"required"`

	// UserFile is the line-oriented credential file
	// (username|md5hex(password) per line)
	UserFile string `mapstructure:"user_file" validate:"required"`

	// WatchUserFile reloads the credential file on change
	WatchUserFile bool `mapstructure:"watch_user_file"`

	// Banner is sent in the ServerHello reply
	Banner string `mapstructure:"banner"`

	// ReadTimeout bounds each blocking packet read on a connection.
	// Zero disables the timeout.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0"`

	// RequestsPerSecond caps protocol requests per connection. Transfer
	// chunks are not counted. Zero disables rate limiting.
	RequestsPerSecond uint `mapstructure:"requests_per_second"`

	// RequestBurst is the rate limiter's burst capacity. Defaults to
	// RequestsPerSecond.
	RequestBurst uint `mapstructure:"request_burst"`

	// LastLogin contains the last-login store configuration.
	// Decoded into lastlogin.Config by LastLoginConfig().
	LastLogin map[string]any `mapstructure:"last_login"`
}

// ClientConfig contains the client library settings.
type ClientConfig struct {
	// ServerName is the expected server certificate name for TLS validation
	ServerName string `mapstructure:"server_name" validate:"required"`

	// MaxDataConnections caps the data connection pool per server
	MaxDataConnections int `mapstructure:"max_data_connections" validate:"required,gt=0"`

	// ReadTimeout bounds each blocking packet read
	ReadTimeout time.Duration `mapstructure:"read_timeout"`

	// CAFile optionally points at a PEM bundle to verify the server
	// certificate against, instead of the system roots
	CAFile string `mapstructure:"ca_file"`

	// InsecureSkipVerify disables certificate verification. Local testing
	// only.
	InsecureSkipVerify bool `mapstructure:"insecure_skip_verify"`
}

// MetricsConfig contains Prometheus metrics server settings.
type MetricsConfig struct {
	// Enabled turns metrics collection and the /metrics endpoint on
	Enabled bool `mapstructure:"enabled"`

	// Port is the metrics HTTP port
	Port int `mapstructure:"port" validate:"omitempty,gt=0,lte=65535"`
}

// LastLoginConfig decodes the server's last_login section into the store's
// typed configuration.
func (c *ServerConfig) LastLoginConfig() (lastlogin.Config, error) {
	var cfg lastlogin.Config
	if err := mapstructure.Decode(c.LastLogin, &cfg); err != nil {
		return lastlogin.Config{}, fmt.Errorf("decode last_login config: %w", err)
	}
	return cfg, nil
}

// Load loads configuration from file, environment, and defaults.
//
// Parameters:
//   - configPath: Path to config file (empty string uses the default
//     location, and a missing file just means defaults apply)
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setupViper configures viper with environment variables and config file
// settings.
func setupViper(v *viper.Viper, configPath string) {
	// Environment variables use the SFT_ prefix and underscores.
	// Example: SFT_SERVER_PORT=9090
	v.SetEnvPrefix("SFT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found is acceptable - use defaults
			return nil
		}
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to the
// current directory if the home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "sft")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "sft")
}
