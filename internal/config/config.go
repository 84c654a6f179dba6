// Package config loads and validates the client configuration from a YAML
// file, including the remote request policy: retries, timeout, proxies, and
// TLS verification material.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"

	"github.com/manut/conan/internal/logger"
	"github.com/manut/conan/internal/utils"
)

// Config holds all configuration settings.
type Config struct {
	// LogLevel specifies the logging verbosity level.
	LogLevel string `mapstructure:"log_level"`
	// RetryCount is the number of times a failed request is retried by the transport.
	RetryCount int64 `mapstructure:"retry_count"`
	// RetryWait is the pause between transport-level retries (e.g., "5s").
	RetryWait string `mapstructure:"retry_wait"`
	// RequestTimeout is the total timeout for a single request (e.g., "60s").
	// An empty string disables the timeout.
	RequestTimeout string `mapstructure:"request_timeout"`
	// Proxies maps a scheme ("http", "https", or their "_proxy" aliases) to a proxy URL.
	// The reserved key "no_proxy_match" holds comma-separated URL glob patterns
	// dispatched without a proxy; the deprecated key "no_proxy" is still accepted.
	Proxies map[string]string `mapstructure:"proxies"`
	// CacertPath is the path to the CA bundle used to verify server certificates.
	CacertPath string `mapstructure:"cacert_path"`
	// ClientCertPath is the path to the client certificate presented to servers.
	// When ClientCertKeyPath is empty, the file is expected to hold both certificate and key.
	ClientCertPath string `mapstructure:"client_cert_path"`
	// ClientCertKeyPath is the path to the private key of the client certificate.
	ClientCertKeyPath string `mapstructure:"client_cert_key_path"`
	// UseSystemCerts makes the TLS layer trust the OS certificate store in
	// addition to the CA bundle.
	UseSystemCerts bool `mapstructure:"use_system_certs"`
	// TraceFile is an optional path of a JSON-lines trace log of remote calls.
	// An empty string keeps call tracing on the debug log only.
	TraceFile string `mapstructure:"trace_file"`
	// OutputPath is the directory where downloaded files are saved.
	OutputPath string `mapstructure:"output_path"`
	// ParsedLogLevel is the parsed zap log level.
	ParsedLogLevel zapcore.Level
	// ParsedRetryWait is the parsed pause between retries.
	ParsedRetryWait time.Duration
	// ParsedRequestTimeout is the parsed request timeout. Zero means no timeout.
	ParsedRequestTimeout time.Duration
}

const (
	// DefaultConfigFilename is the default name of the configuration file.
	DefaultConfigFilename = ".conan.yaml"

	// DefaultCacertPath is the default location of the CA bundle.
	DefaultCacertPath = "~/.conan/cacert.pem"

	// DefaultLogLevel is the logging level used when none is configured.
	DefaultLogLevel = "info"

	// DefaultRetryCount is the number of transport-level retries used when none is configured.
	DefaultRetryCount = 2

	// DefaultRetryWait is the pause between retries used when none is configured.
	DefaultRetryWait = "5s"

	// DefaultMaxLogLength is the maximum length of dumped request/response data in debug logs.
	DefaultMaxLogLength = 1 * 1024 * 1024 // 1 MB
)

// Static error definitions for better error handling.
var (
	// ErrInvalidRetryCount indicates that the retry count is negative.
	ErrInvalidRetryCount = errors.New("retry_count cannot be negative")
	// ErrInvalidRetryWait indicates that the retry wait duration is invalid.
	ErrInvalidRetryWait = errors.New("retry_wait must be positive")
	// ErrInvalidRequestTimeout indicates that the request timeout duration is invalid.
	ErrInvalidRequestTimeout = errors.New("request_timeout must be positive")
	// ErrUnknownLogLevel indicates that the log level is not recognized.
	ErrUnknownLogLevel = errors.New("unknown log level")
	// ErrEmptyCacertPath indicates that the CA bundle path resolved to an empty string.
	ErrEmptyCacertPath = errors.New("cacert_path cannot be empty")
	// ErrClientCertKeyWithoutCert indicates a key path configured without a certificate path.
	ErrClientCertKeyWithoutCert = errors.New("client_cert_key_path requires client_cert_path")
)

// LoadConfig loads configuration settings from a YAML file.
// A missing file is not an error: defaults are applied instead,
// so the client works out of the box.
func LoadConfig(configFilename string) (*Config, error) {
	if configFilename == "" {
		configFilename = DefaultConfigFilename
	}

	// LoadConfig owns the global viper state; start from a clean slate so
	// repeated loads never mix settings from different files.
	viper.Reset()
	viper.SetConfigFile(configFilename)

	viper.SetDefault("log_level", DefaultLogLevel)
	viper.SetDefault("retry_count", DefaultRetryCount)
	viper.SetDefault("retry_wait", DefaultRetryWait)
	viper.SetDefault("cacert_path", DefaultCacertPath)

	if err := viper.ReadInConfig(); err != nil {
		var pathErr *fs.PathError
		if !errors.As(err, &pathErr) {
			return nil, fmt.Errorf("failed to read config from file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// ValidateConfig checks the configuration for validity and sets derived fields.
func ValidateConfig(cfg *Config) error {
	var err error

	parsedLogLevel, isLogLevelCorrect := logger.ParseLogLevel(cfg.LogLevel)
	if !isLogLevelCorrect {
		return fmt.Errorf("%w: '%s'", ErrUnknownLogLevel, cfg.LogLevel)
	}

	cfg.ParsedLogLevel = parsedLogLevel

	if cfg.RetryCount < 0 {
		return ErrInvalidRetryCount
	}

	cfg.ParsedRetryWait, err = time.ParseDuration(cfg.RetryWait)
	if err != nil {
		return fmt.Errorf("failed to parse retry wait: %w", err)
	}

	if cfg.ParsedRetryWait <= 0 {
		return ErrInvalidRetryWait
	}

	// An empty request_timeout means the transport enforces no timeout at all.
	if cfg.RequestTimeout != "" {
		cfg.ParsedRequestTimeout, err = time.ParseDuration(cfg.RequestTimeout)
		if err != nil {
			return fmt.Errorf("failed to parse request timeout: %w", err)
		}

		if cfg.ParsedRequestTimeout <= 0 {
			return ErrInvalidRequestTimeout
		}
	}

	cfg.CacertPath = utils.ExpandHomePath(strings.TrimSpace(cfg.CacertPath))
	if cfg.CacertPath == "" {
		return ErrEmptyCacertPath
	}

	cfg.ClientCertPath = utils.ExpandHomePath(strings.TrimSpace(cfg.ClientCertPath))
	cfg.ClientCertKeyPath = utils.ExpandHomePath(strings.TrimSpace(cfg.ClientCertKeyPath))

	if cfg.ClientCertPath == "" && cfg.ClientCertKeyPath != "" {
		return ErrClientCertKeyWithoutCert
	}

	cfg.TraceFile = utils.ExpandHomePath(strings.TrimSpace(cfg.TraceFile))

	return nil
}
