package config

import "time"

// Config is the root configuration for Warden.
type Config struct {
	Engine    EngineConfig    `json:"engine"`
	Events    EventsConfig    `json:"events"`
	Storage   StorageConfig   `json:"storage"`
	Heartbeat HeartbeatConfig `json:"heartbeat"`
	Log       LogConfig       `json:"log"`
}

// EngineConfig holds supervision engine settings.
type EngineConfig struct {
	ProgressHistoryLimit int      `json:"progress_history_limit"` // bounded per-task progress history
	MonitorInterval      Duration `json:"monitor_interval"`       // min spacing between background monitor reports
	RetentionWindow      Duration `json:"retention_window"`       // how long finished tasks stay listable
	CleanupSchedule      string   `json:"cleanup_schedule"`       // cron expression for the reaper
}

// EventsConfig holds event bus settings.
type EventsConfig struct {
	BufferSize int `json:"buffer_size"`
}

// StorageConfig holds persistent event log settings.
type StorageConfig struct {
	EventLogPath string   `json:"event_log_path"` // sqlite file path, or ":memory:"
	Retention    Duration `json:"retention"`      // how long logged events are kept
}

// HeartbeatConfig holds liveness file settings.
type HeartbeatConfig struct {
	Path     string   `json:"path"`
	Interval Duration `json:"interval"`
}

// LogConfig holds process logging settings.
type LogConfig struct {
	Level string `json:"level"` // debug, info, warn, error
}

// Duration wraps time.Duration for JSON unmarshaling.
type Duration time.Duration

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	// Remove quotes
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Duration(d).String() + `"`), nil
}
