package config

import (
	"os"
	"runtime"
	"strings"

	"github.com/shirou/gopsutil/v3/host"
)

// PlatformDefaults returns platform-specific default values
type PlatformDefaults struct {
	ConfigPath     string
	StoreLocation  string
	LogDestination string
	TypeFilter     string
}

// GetPlatformDefaults returns platform-specific defaults based on runtime.GOOS.
// StoreLocation and LogDestination are suggestions only; both must be
// configured explicitly.
func GetPlatformDefaults() PlatformDefaults {
	switch runtime.GOOS {
	case "windows":
		return PlatformDefaults{
			ConfigPath:     `C:\ProgramData\ServiceMonitor\config.yaml`,
			StoreLocation:  `C:\ProgramData\ServiceMonitor\svcmon.db`,
			LogDestination: `C:\ProgramData\ServiceMonitor\svcmon.log`,
			TypeFilter:     "win32",
		}
	case "freebsd":
		return PlatformDefaults{
			ConfigPath:     "/usr/local/etc/svcmon/config.yaml",
			StoreLocation:  "/var/db/svcmon/svcmon.db",
			LogDestination: "/var/log/svcmon/svcmon.log",
			TypeFilter:     "all",
		}
	default:
		return PlatformDefaults{
			ConfigPath:     "/etc/svcmon/config.yaml",
			StoreLocation:  "/var/lib/svcmon/svcmon.db",
			LogDestination: "/var/log/svcmon/svcmon.log",
			TypeFilter:     "all",
		}
	}
}

// GetDefaultConfigPath returns the platform-specific default config path
func GetDefaultConfigPath() string {
	return GetPlatformDefaults().ConfigPath
}

// UpdateConfigDefaults updates viper defaults with platform-specific values.
// Called from setDefaults.
func UpdateConfigDefaults(v interface{}) {
	type viper interface {
		SetDefault(key string, value interface{})
	}

	if viperInstance, ok := v.(viper); ok {
		viperInstance.SetDefault("poll.type_filter", GetPlatformDefaults().TypeFilter)
	}
}

// defaultDeviceID derives a NATS-safe identifier from the host name
func defaultDeviceID() string {
	name := ""
	if info, err := host.Info(); err == nil {
		name = info.Hostname
	}
	if name == "" {
		name, _ = os.Hostname()
	}
	if name == "" {
		return ""
	}

	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '-'
		}
	}, name)
}
