package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// validConfig returns a configuration that passes validation
func validConfig() *Config {
	return &Config{
		StoreLocation:  "svcmon.db",
		LogDestination: "svcmon.log",
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  50,
			MaxBackups: 5,
			MaxAgeDays: 28,
		},
		Poll: PollConfig{
			Interval:        5 * time.Second,
			CallTimeout:     30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			TypeFilter:      "win32",
		},
		NATS: NATSConfig{
			URLs:          []string{"nats://localhost:4222"},
			SubjectPrefix: "svcmon",
			DeviceID:      "host-01",
			Auth:          AuthConfig{Type: "none"},
			DrainTimeout:  5 * time.Second,
		},
	}
}

// TestValidateRequiredLocations tests that both locations are mandatory
func TestValidateRequiredLocations(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantKey string
	}{
		{
			name:    "missing store location",
			mutate:  func(c *Config) { c.StoreLocation = "" },
			wantKey: "store_location",
		},
		{
			name:    "blank store location",
			mutate:  func(c *Config) { c.StoreLocation = "   " },
			wantKey: "store_location",
		},
		{
			name:    "missing log destination",
			mutate:  func(c *Config) { c.LogDestination = "" },
			wantKey: "log_destination",
		},
		{
			name:    "both missing reports store first",
			mutate:  func(c *Config) { c.StoreLocation, c.LogDestination = "", "" },
			wantKey: "store_location",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := validate(cfg)
			var ce *ConfigurationError
			if !errors.As(err, &ce) {
				t.Fatalf("validate() error = %v, want *ConfigurationError", err)
			}
			if ce.Key != tt.wantKey {
				t.Errorf("ConfigurationError.Key = %q, want %q", ce.Key, tt.wantKey)
			}
			if indexOf(err.Error(), "is required") < 0 {
				t.Errorf("validate() error = %v, want error containing %q", err, "is required")
			}
		})
	}
}

// TestValidatePoll tests poll timing and filter validation
func TestValidatePoll(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
		errText string
	}{
		{
			name:    "defaults",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "minimum interval",
			mutate:  func(c *Config) { c.Poll.Interval = time.Second },
			wantErr: false,
		},
		{
			name:    "interval too short",
			mutate:  func(c *Config) { c.Poll.Interval = 500 * time.Millisecond },
			wantErr: true,
			errText: "at least 1 second",
		},
		{
			name:    "call timeout too short",
			mutate:  func(c *Config) { c.Poll.CallTimeout = 0 },
			wantErr: true,
			errText: "at least 1 second",
		},
		{
			name:    "maximum call timeout",
			mutate:  func(c *Config) { c.Poll.CallTimeout = 5 * time.Minute },
			wantErr: false,
		},
		{
			name:    "call timeout too long",
			mutate:  func(c *Config) { c.Poll.CallTimeout = 10 * time.Minute },
			wantErr: true,
			errText: "must not exceed 5 minutes",
		},
		{
			name:    "zero shutdown timeout",
			mutate:  func(c *Config) { c.Poll.ShutdownTimeout = 0 },
			wantErr: true,
			errText: "poll.shutdown_timeout",
		},
		{
			name:    "driver filter",
			mutate:  func(c *Config) { c.Poll.TypeFilter = "driver" },
			wantErr: false,
		},
		{
			name:    "unknown filter",
			mutate:  func(c *Config) { c.Poll.TypeFilter = "kernel" },
			wantErr: true,
			errText: "must be win32, driver or all",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Logging.Level = "verbose" },
			wantErr: true,
			errText: "not a valid level",
		},
		{
			name:    "zero log size",
			mutate:  func(c *Config) { c.Logging.MaxSizeMB = 0 },
			wantErr: true,
			errText: "logging.max_size_mb",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := validate(cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("validate() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if tt.wantErr && tt.errText != "" && err != nil {
				if indexOf(err.Error(), tt.errText) < 0 {
					t.Errorf("validate() error = %v, want error containing %q", err, tt.errText)
				}
			}
		})
	}
}

// TestValidateNATSSkippedWhenDisabled tests that publisher settings are only
// checked when the publisher is enabled
func TestValidateNATSSkippedWhenDisabled(t *testing.T) {
	cfg := validConfig()
	cfg.NATS.URLs = nil
	cfg.NATS.Auth.Type = "bogus"

	if err := validate(cfg); err != nil {
		t.Errorf("validate() with nats disabled error = %v, want nil", err)
	}

	cfg.NATS.Enabled = true
	if err := validate(cfg); err == nil {
		t.Error("validate() with nats enabled expected error")
	}
}

// TestValidateDeviceID tests device ID validation
func TestValidateDeviceID(t *testing.T) {
	tests := []struct {
		name     string
		deviceID string
		wantErr  bool
		errText  string
	}{
		{name: "alphanumeric", deviceID: "device123", wantErr: false},
		{name: "with dashes", deviceID: "device-123-abc", wantErr: false},
		{name: "with underscores", deviceID: "device_123_abc", wantErr: false},
		{name: "UUID format", deviceID: "550e8400-e29b-41d4-a716-446655440000", wantErr: false},
		{name: "empty", deviceID: "", wantErr: true, errText: "device_id is required"},
		{name: "with spaces", deviceID: "device 123", wantErr: true, errText: "must contain only alphanumeric"},
		{name: "with dots", deviceID: "device.123", wantErr: true, errText: "must contain only alphanumeric"},
		{name: "with slash", deviceID: "device/123", wantErr: true, errText: "must contain only alphanumeric"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.NATS.Enabled = true
			cfg.NATS.DeviceID = tt.deviceID

			err := validate(cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("validate() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if tt.wantErr && tt.errText != "" && err != nil {
				if indexOf(err.Error(), tt.errText) < 0 {
					t.Errorf("validate() error = %v, want error containing %q", err, tt.errText)
				}
			}
		})
	}
}

// TestValidateSubjectPrefix tests subject prefix validation
func TestValidateSubjectPrefix(t *testing.T) {
	tests := []struct {
		name    string
		prefix  string
		wantErr bool
		errText string
	}{
		{name: "simple prefix", prefix: "svcmon", wantErr: false},
		{name: "with dash", prefix: "svc-mon", wantErr: false},
		{name: "hierarchical", prefix: "region.dev.svcmon", wantErr: false},
		{name: "mixed characters", prefix: "my_region.dev-env.svcmon", wantErr: false},
		{name: "leading dot", prefix: ".svcmon", wantErr: true, errText: "cannot start or end with a dot"},
		{name: "trailing dot", prefix: "svcmon.", wantErr: true, errText: "cannot start or end with a dot"},
		{name: "consecutive dots", prefix: "region..svcmon", wantErr: true, errText: "consecutive dots not allowed"},
		{name: "only dot", prefix: ".", wantErr: true, errText: "cannot start or end with a dot"},
		{name: "special characters", prefix: "region@dev.svcmon", wantErr: true, errText: "contains invalid characters"},
		{name: "wildcard", prefix: "region.*.svcmon", wantErr: true, errText: "contains invalid characters"},
		{name: "full wildcard", prefix: "region.>", wantErr: true, errText: "contains invalid characters"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateSubjectPrefix(tt.prefix)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateSubjectPrefix() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if tt.wantErr && tt.errText != "" && err != nil {
				if indexOf(err.Error(), tt.errText) < 0 {
					t.Errorf("validateSubjectPrefix() error = %v, want error containing %q", err, tt.errText)
				}
			}
		})
	}
}

// TestValidateNATSAuth tests NATS authentication validation
func TestValidateNATSAuth(t *testing.T) {
	tests := []struct {
		name    string
		auth    AuthConfig
		wantErr bool
		errText string
	}{
		{name: "none auth", auth: AuthConfig{Type: "none"}, wantErr: false},
		{name: "token auth", auth: AuthConfig{Type: "token", Token: "secret-token"}, wantErr: false},
		{name: "creds auth", auth: AuthConfig{Type: "creds", CredsFile: "svcmon.creds"}, wantErr: false},
		{name: "userpass auth", auth: AuthConfig{Type: "userpass", Username: "user", Password: "pass"}, wantErr: false},
		{name: "invalid type", auth: AuthConfig{Type: "invalid"}, wantErr: true, errText: "invalid auth type"},
		{name: "token missing", auth: AuthConfig{Type: "token"}, wantErr: true, errText: "token is required"},
		{name: "creds missing", auth: AuthConfig{Type: "creds"}, wantErr: true, errText: "creds_file"},
		{name: "userpass missing password", auth: AuthConfig{Type: "userpass", Username: "user"}, wantErr: true, errText: "username and password are required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.NATS.Enabled = true
			cfg.NATS.Auth = tt.auth

			err := validate(cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("validate() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if tt.wantErr && tt.errText != "" && err != nil {
				if indexOf(err.Error(), tt.errText) < 0 {
					t.Errorf("validate() error = %v, want error containing %q", err, tt.errText)
				}
			}
		})
	}
}

// TestValidateTLS tests TLS configuration validation
func TestValidateTLS(t *testing.T) {
	tmpDir := t.TempDir()
	certFile := filepath.Join(tmpDir, "cert.pem")
	keyFile := filepath.Join(tmpDir, "key.pem")
	caFile := filepath.Join(tmpDir, "ca.pem")

	for _, f := range []string{certFile, keyFile, caFile} {
		if err := os.WriteFile(f, []byte("pem"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		name    string
		tls     TLSConfig
		wantErr bool
		errText string
	}{
		{name: "TLS disabled", tls: TLSConfig{CertFile: "/nonexistent/cert.pem"}, wantErr: false},
		{name: "TLS enabled with no files", tls: TLSConfig{Enabled: true}, wantErr: false},
		{name: "TLS with all files", tls: TLSConfig{Enabled: true, CertFile: certFile, KeyFile: keyFile, CAFile: caFile}, wantErr: false},
		{name: "cert without key", tls: TLSConfig{Enabled: true, CertFile: certFile}, wantErr: true, errText: "key_file is required"},
		{name: "key without cert", tls: TLSConfig{Enabled: true, KeyFile: keyFile}, wantErr: true, errText: "cert_file is required"},
		{name: "CA file not found", tls: TLSConfig{Enabled: true, CAFile: "/nonexistent/ca.pem"}, wantErr: true, errText: "file not found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.NATS.Enabled = true
			cfg.NATS.TLS = tt.tls

			err := validate(cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("validate() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if tt.wantErr && tt.errText != "" && err != nil {
				if indexOf(err.Error(), tt.errText) < 0 {
					t.Errorf("validate() error = %v, want error containing %q", err, tt.errText)
				}
			}
		})
	}
}

// TestLoad tests file, default and environment layering
func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `store_location: ` + filepath.Join(dir, "svcmon.db") + `
log_destination: ` + filepath.Join(dir, "svcmon.log") + `
poll:
  interval: 10s
  reload_state: true
enforcement:
  enabled: false
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SVCMON_POLL_CALL_TIMEOUT", "45s")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Poll.Interval != 10*time.Second {
		t.Errorf("Poll.Interval = %v, want 10s from file", cfg.Poll.Interval)
	}
	if cfg.Poll.CallTimeout != 45*time.Second {
		t.Errorf("Poll.CallTimeout = %v, want 45s from environment", cfg.Poll.CallTimeout)
	}
	if !cfg.Poll.ReloadState || cfg.Enforcement.Enabled {
		t.Errorf("ReloadState = %v, Enforcement.Enabled = %v", cfg.Poll.ReloadState, cfg.Enforcement.Enabled)
	}
	if cfg.Logging.MaxSizeMB != 50 || cfg.Logging.MaxAgeDays != 28 || !cfg.Logging.Compress {
		t.Errorf("Logging defaults not applied: %+v", cfg.Logging)
	}
	if cfg.Poll.ShutdownTimeout != 15*time.Second {
		t.Errorf("Poll.ShutdownTimeout = %v, want default 15s", cfg.Poll.ShutdownTimeout)
	}
}

// TestLoadMissingFile tests that an absent file is tolerated when the
// environment supplies the required locations
func TestLoadMissingFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("SVCMON_STORE_LOCATION", filepath.Join(dir, "svcmon.db"))
	t.Setenv("SVCMON_LOG_DESTINATION", filepath.Join(dir, "svcmon.log"))

	cfg, err := Load(filepath.Join(dir, "absent.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.StoreLocation != filepath.Join(dir, "svcmon.db") {
		t.Errorf("StoreLocation = %q", cfg.StoreLocation)
	}
	if cfg.Poll.Interval != 5*time.Second {
		t.Errorf("Poll.Interval = %v, want default 5s", cfg.Poll.Interval)
	}
}

// TestLoadMissingRequired tests that a configuration without locations is
// rejected with a ConfigurationError
func TestLoadMissingRequired(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("poll:\n  interval: 5s\n"), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := Load(path)
	var ce *ConfigurationError
	if !errors.As(err, &ce) {
		t.Fatalf("Load() error = %v, want *ConfigurationError", err)
	}
	if ce.Key != "store_location" {
		t.Errorf("ConfigurationError.Key = %q, want store_location", ce.Key)
	}
}

func TestLoadMalformedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("store_location: [unclosed\n"), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := Load(path)
	var ce *ConfigurationError
	if !errors.As(err, &ce) {
		t.Fatalf("Load() error = %v, want *ConfigurationError", err)
	}
}

func TestDefaultDeviceID(t *testing.T) {
	id := defaultDeviceID()
	if id != "" && !validID.MatchString(id) {
		t.Errorf("defaultDeviceID() = %q is not a valid device id", id)
	}
}

// Helper function
func indexOf(s, substr string) int {
	for i := 0; i <= len(s)-len(substr); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}
