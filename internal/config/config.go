package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/stone-age-io/svcmon/internal/services"
	"go.uber.org/zap/zapcore"
)

// ServiceName is the name the monitor is registered under with the host
// service manager. On Windows its registry key may carry the store and log
// locations.
const ServiceName = "svcmon"

// EnvPrefix prefixes environment overrides, e.g. SVCMON_STORE_LOCATION.
const EnvPrefix = "SVCMON"

// Config holds the monitor configuration
type Config struct {
	StoreLocation  string            `mapstructure:"store_location"`
	LogDestination string            `mapstructure:"log_destination"`
	Logging        LoggingConfig     `mapstructure:"logging"`
	Poll           PollConfig        `mapstructure:"poll"`
	Enforcement    EnforcementConfig `mapstructure:"enforcement"`
	Metrics        MetricsConfig     `mapstructure:"metrics"`
	NATS           NATSConfig        `mapstructure:"nats"`
}

// LoggingConfig controls rotation of the text log at LogDestination
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// PollConfig controls the reconciliation loop
type PollConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	CallTimeout     time.Duration `mapstructure:"call_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// ReloadState re-reads operator-controlled fields from the store before
	// every cycle. When false, edits to existing records are only seen after
	// a restart.
	ReloadState bool   `mapstructure:"reload_state"`
	TypeFilter  string `mapstructure:"type_filter"`
}

// EnforcementConfig is the global switch for start/stop actuation
type EnforcementConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// MetricsConfig controls the Prometheus textfile output
type MetricsConfig struct {
	Textfile string `mapstructure:"textfile"`
}

// NATSConfig configures the optional event publisher
type NATSConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	URLs          []string      `mapstructure:"urls"`
	SubjectPrefix string        `mapstructure:"subject_prefix"`
	DeviceID      string        `mapstructure:"device_id"`
	Auth          AuthConfig    `mapstructure:"auth"`
	TLS           TLSConfig     `mapstructure:"tls"`
	MaxReconnects int           `mapstructure:"max_reconnects"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait"`
	DrainTimeout  time.Duration `mapstructure:"drain_timeout"`
}

// AuthConfig selects the NATS authentication method
type AuthConfig struct {
	Type      string `mapstructure:"type"` // none, creds, token, userpass
	CredsFile string `mapstructure:"creds_file"`
	Token     string `mapstructure:"token"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
}

// TLSConfig configures TLS for the NATS connection
type TLSConfig struct {
	Enabled            bool   `mapstructure:"enabled"`
	CertFile           string `mapstructure:"cert_file"`
	KeyFile            string `mapstructure:"key_file"`
	CAFile             string `mapstructure:"ca_file"`
	InsecureSkipVerify bool   `mapstructure:"insecure_skip_verify"`
}

// ConfigurationError reports a missing or unusable setting. It is fatal at
// startup.
type ConfigurationError struct {
	Key string
	Err error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s %v", e.Key, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

func invalid(key, format string, args ...interface{}) error {
	return &ConfigurationError{Key: key, Err: fmt.Errorf(format, args...)}
}

// registryValues maps the service registry values understood on Windows to
// configuration keys.
var registryValues = map[string]string{
	"sqlite_dbfile": "store_location",
	"logfile":       "log_destination",
}

// Load reads configuration from path (optional if it does not exist), the
// host service registration and SVCMON_* environment variables, then
// validates it. Precedence, highest first: environment, file, registry,
// defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	for key, value := range hostOverrides(ServiceName) {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, &ConfigurationError{Key: "config file", Err: fmt.Errorf("%s: %w", path, err)}
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, &ConfigurationError{Key: "config file", Err: err}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, &ConfigurationError{Key: "config file", Err: fmt.Errorf("failed to decode: %w", err)}
	}

	if cfg.NATS.DeviceID == "" {
		cfg.NATS.DeviceID = defaultDeviceID()
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override it
func setDefaults(v *viper.Viper) {
	v.SetDefault("store_location", "")
	v.SetDefault("log_destination", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.max_size_mb", 50)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age_days", 28)
	v.SetDefault("logging.compress", true)

	v.SetDefault("poll.interval", 5*time.Second)
	v.SetDefault("poll.call_timeout", 30*time.Second)
	v.SetDefault("poll.shutdown_timeout", 15*time.Second)
	v.SetDefault("poll.reload_state", false)

	v.SetDefault("enforcement.enabled", true)

	v.SetDefault("metrics.textfile", "")

	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.urls", []string{"nats://localhost:4222"})
	v.SetDefault("nats.subject_prefix", "svcmon")
	v.SetDefault("nats.device_id", "")
	v.SetDefault("nats.auth.type", "none")
	v.SetDefault("nats.auth.creds_file", "")
	v.SetDefault("nats.auth.token", "")
	v.SetDefault("nats.auth.username", "")
	v.SetDefault("nats.auth.password", "")
	v.SetDefault("nats.tls.enabled", false)
	v.SetDefault("nats.tls.cert_file", "")
	v.SetDefault("nats.tls.key_file", "")
	v.SetDefault("nats.tls.ca_file", "")
	v.SetDefault("nats.tls.insecure_skip_verify", false)
	v.SetDefault("nats.max_reconnects", -1)
	v.SetDefault("nats.reconnect_wait", 2*time.Second)
	v.SetDefault("nats.drain_timeout", 5*time.Second)

	UpdateConfigDefaults(v)
}

var validID = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// validate checks the configuration and returns a ConfigurationError naming
// the first bad key
func validate(cfg *Config) error {
	defaults := GetPlatformDefaults()

	if strings.TrimSpace(cfg.StoreLocation) == "" {
		return invalid("store_location", "is required (for example %s)", defaults.StoreLocation)
	}
	if strings.TrimSpace(cfg.LogDestination) == "" {
		return invalid("log_destination", "is required (for example %s)", defaults.LogDestination)
	}

	if _, err := zapcore.ParseLevel(cfg.Logging.Level); err != nil {
		return invalid("logging.level", "%q is not a valid level", cfg.Logging.Level)
	}
	if cfg.Logging.MaxSizeMB <= 0 {
		return invalid("logging.max_size_mb", "must be positive")
	}
	if cfg.Logging.MaxBackups < 0 {
		return invalid("logging.max_backups", "must not be negative")
	}
	if cfg.Logging.MaxAgeDays < 0 {
		return invalid("logging.max_age_days", "must not be negative")
	}

	if cfg.Poll.Interval < time.Second {
		return invalid("poll.interval", "must be at least 1 second")
	}
	if cfg.Poll.CallTimeout < time.Second {
		return invalid("poll.call_timeout", "must be at least 1 second")
	}
	if cfg.Poll.CallTimeout > 5*time.Minute {
		return invalid("poll.call_timeout", "must not exceed 5 minutes")
	}
	if cfg.Poll.ShutdownTimeout <= 0 {
		return invalid("poll.shutdown_timeout", "must be positive")
	}
	if !services.ValidTypeFilter(cfg.Poll.TypeFilter) {
		return invalid("poll.type_filter", "%q must be win32, driver or all", cfg.Poll.TypeFilter)
	}

	if cfg.NATS.Enabled {
		if err := validateNATS(&cfg.NATS); err != nil {
			return err
		}
	}
	return nil
}

func validateNATS(cfg *NATSConfig) error {
	if len(cfg.URLs) == 0 {
		return invalid("nats.urls", "must contain at least one server when nats is enabled")
	}
	if cfg.DeviceID == "" {
		return invalid("nats.device_id", "is required")
	}
	if !validID.MatchString(cfg.DeviceID) {
		return invalid("nats.device_id", "must contain only alphanumeric characters, dashes, and underscores")
	}
	if cfg.SubjectPrefix == "" {
		return invalid("nats.subject_prefix", "is required")
	}
	if len(cfg.SubjectPrefix) > 50 {
		return invalid("nats.subject_prefix", "must not exceed 50 characters")
	}
	if err := validateSubjectPrefix(cfg.SubjectPrefix); err != nil {
		return &ConfigurationError{Key: "nats.subject_prefix", Err: err}
	}

	switch cfg.Auth.Type {
	case "none":
	case "creds":
		if cfg.Auth.CredsFile == "" {
			return invalid("nats.auth.creds_file", "is required for creds auth")
		}
	case "token":
		if cfg.Auth.Token == "" {
			return invalid("nats.auth.token", "token is required for token auth")
		}
	case "userpass":
		if cfg.Auth.Username == "" || cfg.Auth.Password == "" {
			return invalid("nats.auth", "username and password are required for userpass auth")
		}
	default:
		return invalid("nats.auth.type", "invalid auth type %q (must be none, creds, token or userpass)", cfg.Auth.Type)
	}

	if cfg.TLS.Enabled {
		if cfg.TLS.CertFile != "" && cfg.TLS.KeyFile == "" {
			return invalid("nats.tls.key_file", "key_file is required when cert_file is set")
		}
		if cfg.TLS.KeyFile != "" && cfg.TLS.CertFile == "" {
			return invalid("nats.tls.cert_file", "cert_file is required when key_file is set")
		}
		for key, file := range map[string]string{
			"nats.tls.cert_file": cfg.TLS.CertFile,
			"nats.tls.key_file":  cfg.TLS.KeyFile,
			"nats.tls.ca_file":   cfg.TLS.CAFile,
		} {
			if file == "" {
				continue
			}
			if _, err := os.Stat(file); err != nil {
				return invalid(key, "file not found: %s", file)
			}
		}
	}

	if cfg.DrainTimeout <= 0 {
		return invalid("nats.drain_timeout", "must be positive")
	}
	return nil
}

// validateSubjectPrefix checks a dot-separated NATS subject prefix
func validateSubjectPrefix(prefix string) error {
	if strings.HasPrefix(prefix, ".") || strings.HasSuffix(prefix, ".") {
		return fmt.Errorf("cannot start or end with a dot")
	}
	if strings.Contains(prefix, "..") {
		return fmt.Errorf("consecutive dots not allowed")
	}
	for _, token := range strings.Split(prefix, ".") {
		if !validID.MatchString(token) {
			return fmt.Errorf("token %q contains invalid characters", token)
		}
	}
	return nil
}
