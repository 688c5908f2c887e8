package common

import (
	"os"
	"path/filepath"
)

const (
	appName   = "keybridge"
	socketEnv = "KEYBRIDGE_SOCKET"
	configEnv = "KEYBRIDGE_CONFIG"
)

// DefaultSocketPath returns the default unix domain socket path used by the
// keybridge control server.
func DefaultSocketPath() string {
	if env := os.Getenv(socketEnv); env != "" {
		return env
	}
	if runtimeDir := os.Getenv("XDG_RUNTIME_DIR"); runtimeDir != "" {
		return filepath.Join(runtimeDir, appName+".sock")
	}
	if stateDir := os.Getenv("XDG_STATE_HOME"); stateDir != "" {
		return filepath.Join(stateDir, appName, appName+".sock")
	}
	if configDir, err := os.UserConfigDir(); err == nil && configDir != "" {
		return filepath.Join(configDir, appName, appName+".sock")
	}
	return filepath.Join(os.TempDir(), appName+".sock")
}

// DefaultConfigPath returns $KEYBRIDGE_CONFIG or config.ini under the user
// configuration directory.
func DefaultConfigPath() string {
	if env := os.Getenv(configEnv); env != "" {
		return env
	}
	if configDir, err := os.UserConfigDir(); err == nil && configDir != "" {
		return filepath.Join(configDir, appName, "config.ini")
	}
	return "config.ini"
}

// EnsureSocketDir ensures that the directory containing the unix socket exists.
func EnsureSocketDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" || dir == string(filepath.Separator) {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
