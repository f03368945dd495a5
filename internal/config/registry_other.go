//go:build !windows

package config

// hostOverrides has no registry to read outside Windows
func hostOverrides(serviceName string) map[string]string {
	return nil
}
