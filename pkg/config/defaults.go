package config

import "time"

// Default values for SFT configuration.
const (
	// DefaultLogLevel is the default logging level
	DefaultLogLevel = "INFO"

	// DefaultLogOutput is the default log destination
	DefaultLogOutput = "stdout"

	// DefaultServerPort is the default file transfer port
	DefaultServerPort = 9090

	// DefaultBanner is sent to clients in the ServerHello reply
	DefaultBanner = "hello client, this is default message from server"

	// DefaultShutdownTimeout is the default graceful shutdown timeout
	DefaultShutdownTimeout = 10 * time.Second

	// DefaultMaxDataConnections caps the client data connection pool
	DefaultMaxDataConnections = 10

	// DefaultClientReadTimeout bounds client packet reads
	DefaultClientReadTimeout = 30 * time.Second

	// DefaultServerName is the expected TLS certificate name
	DefaultServerName = "localhost"

	// DefaultMetricsPort is the default Prometheus metrics port
	DefaultMetricsPort = 9100
)

// Built-in paths used when the server is started with no arguments. They
// match a local testing layout and are expected to be overridden in any
// real deployment.
const (
	DefaultCertFile = "certs/server.crt"
	DefaultKeyFile  = "certs/server.key"
	DefaultRootDir  = "srv"
	DefaultUserFile = "users.txt"
)

// ApplyDefaults fills in default values for any unset configuration fields.
func ApplyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = DefaultLogLevel
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = DefaultLogOutput
	}

	if cfg.Server.Port == 0 {
		cfg.Server.Port = DefaultServerPort
	}
	if cfg.Server.CertFile == "" {
		cfg.Server.CertFile = DefaultCertFile
	}
	if cfg.Server.KeyFile == "" {
		cfg.Server.KeyFile = DefaultKeyFile
	}
	if cfg.Server.RootDir == "" {
		cfg.Server.RootDir = DefaultRootDir
	}
	if cfg.Server.UserFile == "" {
		cfg.Server.UserFile = DefaultUserFile
	}
	if cfg.Server.Banner == "" {
		cfg.Server.Banner = DefaultBanner
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.Server.RequestBurst == 0 {
		cfg.Server.RequestBurst = cfg.Server.RequestsPerSecond
	}

	if cfg.Client.ServerName == "" {
		cfg.Client.ServerName = DefaultServerName
	}
	if cfg.Client.MaxDataConnections == 0 {
		cfg.Client.MaxDataConnections = DefaultMaxDataConnections
	}
	if cfg.Client.ReadTimeout == 0 {
		cfg.Client.ReadTimeout = DefaultClientReadTimeout
	}

	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = DefaultMetricsPort
	}
}
