package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// GetDBPath resolves the database path.
// Order of precedence:
// 1) CLI override (e.g. --db-path)
// 2) Environment variable: DEVPULSE_DB_PATH
// 3) config.yaml: db_path
// 4) Default: ~/.config/devpulse/devpulse.db
// Returns an absolute path and ensures the parent directory exists.
func GetDBPath() (string, error) {
	if override := getDBPathOverride(); override != "" {
		return EnsureDBDir(override)
	}

	if envPath := os.Getenv("DEVPULSE_DB_PATH"); envPath != "" {
		return EnsureDBDir(envPath)
	}

	cfg, err := LoadSettings()
	if err != nil {
		return "", fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.DBPath != "" {
		return EnsureDBDir(cfg.DBPath)
	}

	configDir, err := ConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to determine config directory: %w", err)
	}
	return EnsureDBDir(filepath.Join(configDir, "devpulse.db"))
}

// EnsureDBDir expands the path, creates the parent directory if needed and
// returns the absolute path. ":memory:" and file: DSNs pass through untouched.
func EnsureDBDir(dbPath string) (string, error) {
	if dbPath == ":memory:" || fileURIPrefix(dbPath) {
		return dbPath, nil
	}

	if len(dbPath) >= 2 && dbPath[:2] == "~/" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dbPath = filepath.Join(home, dbPath[2:])
	}

	abs, err := filepath.Abs(dbPath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve database path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0750); err != nil {
		return "", fmt.Errorf("failed to create database directory: %w", err)
	}
	return abs, nil
}

func fileURIPrefix(p string) bool {
	return len(p) >= 5 && p[:5] == "file:"
}

// ListenAddr resolves the HTTP listen address, defaulting to loopback.
func ListenAddr() string {
	if env := os.Getenv("DEVPULSE_LISTEN_ADDR"); env != "" {
		return env
	}
	if s, err := LoadSettings(); err == nil && s.ListenAddr != "" {
		return s.ListenAddr
	}
	return "127.0.0.1:4180"
}
