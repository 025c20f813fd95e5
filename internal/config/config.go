// Package config manages persistent tunables for the election manager,
// jitter buffers, and bitrate controller. Settings are stored as JSON at
// os.UserConfigDir()/videocall-rs-sub001/config.json.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// Config holds every tunable named in the component design.
type Config struct {
	ElectionDurationMs   int `json:"election_duration_ms"`
	ProbeIntervalMs      int `json:"probe_interval_ms"`
	ReconnectMaxAttempts int `json:"reconnect_max_attempts"`

	VideoMinDelayMs float64 `json:"video_min_delay_ms"`
	VideoMaxDelayMs float64 `json:"video_max_delay_ms"`

	AudioMinDelayMs       float64 `json:"audio_min_delay_ms"`
	AudioMaxDelayMs       float64 `json:"audio_max_delay_ms"`
	FastAccelerateEnabled bool    `json:"fast_accelerate_enabled"`

	BitrateTargetFPS     float64 `json:"bitrate_target_fps"`
	BitrateBaseKbps      float64 `json:"bitrate_base_kbps"`
	CorrectionThrottleMs int     `json:"correction_throttle_ms"`
}

// Default returns a Config populated with the component design's defaults.
func Default() Config {
	return Config{
		ElectionDurationMs:   3000,
		ProbeIntervalMs:      200,
		ReconnectMaxAttempts: 3,

		VideoMinDelayMs: 10,
		VideoMaxDelayMs: 500,

		AudioMinDelayMs:       20,
		AudioMaxDelayMs:       0,
		FastAccelerateEnabled: true,

		BitrateTargetFPS:     30,
		BitrateBaseKbps:      500,
		CorrectionThrottleMs: 1000,
	}
}

// ElectionDuration and ProbeInterval expose the millisecond fields as
// time.Duration for callers wiring up a connmgr.Manager.
func (c Config) ElectionDuration() time.Duration {
	return time.Duration(c.ElectionDurationMs) * time.Millisecond
}

func (c Config) ProbeInterval() time.Duration {
	return time.Duration(c.ProbeIntervalMs) * time.Millisecond
}

// Path returns the absolute path to the config file.
func Path() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "videocall-rs-sub001", "config.json"), nil
}

// Load reads the config file and returns it. If the file is missing or
// unreadable, the default config is returned — never an error, matching
// the client's own Load() convention.
func Load() Config {
	path, err := Path()
	if err != nil {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Default()
	}
	cfg := Default()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Default()
	}
	return cfg
}

// Save writes cfg to disk, creating the directory if needed.
func Save(cfg Config) error {
	path, err := Path()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
