package app

import (
	"os"
	"path/filepath"
)

// ConfigDir returns ~/.config/devpulse/ on all platforms.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "devpulse"), nil
}

// EnsureConfigDir creates the config directory and default config.yaml if missing.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return err
	}

	configFile := filepath.Join(dir, "config.yaml")
	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		return os.WriteFile(configFile, []byte(defaultConfig), 0600)
	}
	return nil
}

const defaultConfig = `# devpulse configuration
# Run: devpulse --help

# Optional: override the SQLite database location.
# Can also be set via DEVPULSE_DB_PATH or --db-path.
# db_path: ~/.config/devpulse/devpulse.db

# listen_addr: 127.0.0.1:4180

# Sweep intervals and alert thresholds accept the keys documented in
# settings.go; unset values fall back to safe defaults.
`
