package app

import (
	"errors"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// Settings represents configuration loaded from config.yaml.
// Field names match snake_case YAML keys.
type Settings struct {
	DBPath     string `yaml:"db_path"`
	ListenAddr string `yaml:"listen_addr"`

	IdleAfterMinutes  int `yaml:"idle_after_minutes"`
	StaleAfterMinutes int `yaml:"stale_after_minutes"`
	SweepIntervalSecs int `yaml:"sweep_interval_seconds"`

	StuckAgentMinutes      int `yaml:"stuck_agent_minutes"`
	WriteStormCount        int `yaml:"write_storm_count"`
	WriteStormWindowSecs   int `yaml:"write_storm_window_seconds"`
	FailureStormCount      int `yaml:"failure_storm_count"`
	FailureStormCritical   int `yaml:"failure_storm_critical"`
	FailureStormWindowSecs int `yaml:"failure_storm_window_seconds"`

	EventRetentionDays     int `yaml:"event_retention_days"`
	SessionRetentionDays   int `yaml:"session_retention_days"`
	FileAccessRetentionHrs int `yaml:"file_access_retention_hours"`
	DismissalRetentionHrs  int `yaml:"dismissal_retention_hours"`
}

// SweepSettings are effective runtime values used by the background sweeper.
type SweepSettings struct {
	IdleAfterMinutes  int `json:"idle_after_minutes"`
	StaleAfterMinutes int `json:"stale_after_minutes"`
	IntervalSecs      int `json:"interval_seconds"`
}

// AlertThresholds are effective anomaly-scan thresholds. All comparisons are
// strict greater-than: a session at exactly the threshold does not alert.
type AlertThresholds struct {
	StuckAgentMinutes      int `json:"stuck_agent_minutes"`
	WriteStormCount        int `json:"write_storm_count"`
	WriteStormWindowSecs   int `json:"write_storm_window_seconds"`
	FailureStormCount      int `json:"failure_storm_count"`
	FailureStormCritical   int `json:"failure_storm_critical"`
	FailureStormWindowSecs int `json:"failure_storm_window_seconds"`
}

// RetentionSettings are effective cleanup windows.
type RetentionSettings struct {
	EventDays     int `json:"event_days"`
	SessionDays   int `json:"session_days"`
	FileAccessHrs int `json:"file_access_hours"`
	DismissalHrs  int `json:"dismissal_hours"`
}

const (
	defaultIdleAfterMinutes  = 2
	defaultStaleAfterMinutes = 10
	defaultSweepIntervalSecs = 30

	defaultStuckAgentMinutes      = 5
	defaultWriteStormCount        = 50
	defaultWriteStormWindowSecs   = 60
	defaultFailureStormCount      = 5
	defaultFailureStormCritical   = 10
	defaultFailureStormWindowSecs = 120

	defaultEventRetentionDays  = 30
	defaultSessionRetention    = 7
	defaultFileAccessRetention = 24
	defaultDismissalRetention  = 24
)

// EffectiveSweepSettings returns validated sweep settings with defaults.
// Invalid or missing config values fall back to safe defaults.
func EffectiveSweepSettings() SweepSettings {
	cfg := SweepSettings{
		IdleAfterMinutes:  defaultIdleAfterMinutes,
		StaleAfterMinutes: defaultStaleAfterMinutes,
		IntervalSecs:      defaultSweepIntervalSecs,
	}
	s, err := LoadSettings()
	if err != nil {
		return cfg
	}
	if s.IdleAfterMinutes > 0 {
		cfg.IdleAfterMinutes = s.IdleAfterMinutes
	}
	if s.StaleAfterMinutes > cfg.IdleAfterMinutes {
		cfg.StaleAfterMinutes = s.StaleAfterMinutes
	}
	if s.SweepIntervalSecs >= 5 {
		cfg.IntervalSecs = s.SweepIntervalSecs
	}
	return cfg
}

// EffectiveAlertThresholds returns validated thresholds with defaults.
func EffectiveAlertThresholds() AlertThresholds {
	cfg := AlertThresholds{
		StuckAgentMinutes:      defaultStuckAgentMinutes,
		WriteStormCount:        defaultWriteStormCount,
		WriteStormWindowSecs:   defaultWriteStormWindowSecs,
		FailureStormCount:      defaultFailureStormCount,
		FailureStormCritical:   defaultFailureStormCritical,
		FailureStormWindowSecs: defaultFailureStormWindowSecs,
	}
	s, err := LoadSettings()
	if err != nil {
		return cfg
	}
	if s.StuckAgentMinutes > 0 {
		cfg.StuckAgentMinutes = s.StuckAgentMinutes
	}
	if s.WriteStormCount > 0 {
		cfg.WriteStormCount = s.WriteStormCount
	}
	if s.WriteStormWindowSecs > 0 {
		cfg.WriteStormWindowSecs = s.WriteStormWindowSecs
	}
	if s.FailureStormCount > 0 {
		cfg.FailureStormCount = s.FailureStormCount
	}
	if s.FailureStormCritical > cfg.FailureStormCount {
		cfg.FailureStormCritical = s.FailureStormCritical
	}
	if s.FailureStormWindowSecs > 0 {
		cfg.FailureStormWindowSecs = s.FailureStormWindowSecs
	}
	return cfg
}

// EffectiveRetentionSettings returns validated retention windows with defaults.
func EffectiveRetentionSettings() RetentionSettings {
	cfg := RetentionSettings{
		EventDays:     defaultEventRetentionDays,
		SessionDays:   defaultSessionRetention,
		FileAccessHrs: defaultFileAccessRetention,
		DismissalHrs:  defaultDismissalRetention,
	}
	s, err := LoadSettings()
	if err != nil {
		return cfg
	}
	if s.EventRetentionDays > 0 {
		cfg.EventDays = s.EventRetentionDays
	}
	if s.SessionRetentionDays > 0 {
		cfg.SessionDays = s.SessionRetentionDays
	}
	if s.FileAccessRetentionHrs > 0 {
		cfg.FileAccessHrs = s.FileAccessRetentionHrs
	}
	if s.DismissalRetentionHrs > 0 {
		cfg.DismissalHrs = s.DismissalRetentionHrs
	}
	if cfg.EventDays > 3650 {
		cfg.EventDays = 3650
	}
	return cfg
}

// settingsOnce, settings, settingsErr implement the sync.Once lazy-load singleton for config.
// dbPathOverrideMu and dbPathOverride implement a mutex-protected process-wide override for CLI --db-path.
// These globals are required by the sync.Once pattern and the RWMutex pattern; they cannot be avoided.
//
//nolint:gochecknoglobals // sync.Once singleton + RWMutex override are intentional process-wide state
var (
	settingsOnce sync.Once
	settings     Settings
	settingsErr  error

	dbPathOverrideMu sync.RWMutex
	dbPathOverride   string
)

// SetDBPathOverride sets a process-wide database path override.
// Intended for CLI flag support (e.g. --db-path).
func SetDBPathOverride(path string) {
	dbPathOverrideMu.Lock()
	dbPathOverride = path
	dbPathOverrideMu.Unlock()
}

func getDBPathOverride() string {
	dbPathOverrideMu.RLock()
	v := dbPathOverride
	dbPathOverrideMu.RUnlock()
	return v
}

// LoadSettings loads configuration once using the documented lookup order.
// Lookup order (first found wins):
// 1) ~/.config/devpulse/config.yaml
// 2) /etc/devpulse/config.yaml
// 3) ./config.yaml (lowest priority; allows repo-local overrides if desired)
// Environment variables are handled separately.
func LoadSettings() (Settings, error) {
	settingsOnce.Do(func() {
		settings = Settings{}

		// 1) User config (~/.config/devpulse/config.yaml)
		dir, err := ConfigDir()
		if err != nil {
			settingsErr = err
			return
		}
		if s, err := loadSettingsFile(filepath.Join(dir, "config.yaml")); err == nil {
			settings = s
			return
		} else if err != nil && !errors.Is(err, os.ErrNotExist) {
			settingsErr = err
			return
		}

		// 2) /etc
		if s, err := loadSettingsFile(filepath.Join(string(os.PathSeparator), "etc", "devpulse", "config.yaml")); err == nil {
			settings = s
			return
		} else if err != nil && !errors.Is(err, os.ErrNotExist) {
			settingsErr = err
			return
		}

		// 3) Local ./config.yaml (lowest priority)
		if s, err := loadSettingsFile("config.yaml"); err == nil {
			settings = s
			return
		} else if err != nil && !errors.Is(err, os.ErrNotExist) {
			settingsErr = err
			return
		}
	})

	return settings, settingsErr
}

func loadSettingsFile(path string) (Settings, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, err
	}

	var s Settings
	if err := yaml.Unmarshal(b, &s); err != nil {
		return Settings{}, err
	}
	return s, nil
}
