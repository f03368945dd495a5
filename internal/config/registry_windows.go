//go:build windows

package config

import (
	"golang.org/x/sys/windows/registry"
)

// hostOverrides reads the store and log locations from the service's
// registry key. Missing key or values are not an error.
func hostOverrides(serviceName string) map[string]string {
	k, err := registry.OpenKey(registry.LOCAL_MACHINE,
		`SYSTEM\CurrentControlSet\Services\`+serviceName, registry.QUERY_VALUE)
	if err != nil {
		return nil
	}
	defer k.Close()

	out := make(map[string]string, len(registryValues))
	for value, key := range registryValues {
		s, _, err := k.GetStringValue(value)
		if err != nil || s == "" {
			continue
		}
		if expanded, err := registry.ExpandString(s); err == nil {
			s = expanded
		}
		out[key] = s
	}
	return out
}
