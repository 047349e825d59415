package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// SessionConfig holds the tunable options for one video-counting session.
// All fields are pointers so that a partial JSON file only overrides the
// options it names; the Get* accessors supply defaults for the rest.
type SessionConfig struct {
	// Track store / lifecycle params
	TrackHistoryWindow *int `json:"track_history_window,omitempty"`
	MissThreshold      *int `json:"miss_threshold,omitempty"`

	// Association params
	MatchCostGate   *float64 `json:"match_cost_gate,omitempty"`
	MaxCenterJumpPx *float64 `json:"max_center_jump_px,omitempty"`

	// Kalman filter params (pixel units)
	ProcessNoisePos  *float64 `json:"process_noise_pos,omitempty"`
	ProcessNoiseVel  *float64 `json:"process_noise_vel,omitempty"`
	MeasurementNoise *float64 `json:"measurement_noise,omitempty"`

	// Counting params
	ExcludePedestrians   *bool    `json:"exclude_pedestrians,omitempty"`
	ClassifyVehicleTypes *bool    `json:"classify_vehicle_types,omitempty"`
	ZonePriorityOrder    []string `json:"zone_priority_order,omitempty"`

	// Reporting params
	CountSampleInterval *int `json:"count_sample_interval,omitempty"`
}

// zoneNames is the canonical set of directional zone identifiers.
var zoneNames = map[string]bool{"N": true, "S": true, "E": true, "W": true}

// DefaultSessionConfig returns a config with no overrides set; every accessor
// will return its built-in default.
func DefaultSessionConfig() *SessionConfig {
	return &SessionConfig{}
}

// LoadSessionConfig loads a SessionConfig from a JSON file. Fields omitted
// from the JSON retain their defaults, so partial configs are safe. Any
// invalid option value is fatal: the session must not start with a config
// that would corrupt every subsequent frame.
func LoadSessionConfig(path string) (*SessionConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if info.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultSessionConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all set option values are usable.
func (c *SessionConfig) Validate() error {
	if c.TrackHistoryWindow != nil && *c.TrackHistoryWindow < 1 {
		return fmt.Errorf("track_history_window must be >= 1, got %d", *c.TrackHistoryWindow)
	}
	if c.MissThreshold != nil && *c.MissThreshold < 1 {
		return fmt.Errorf("miss_threshold must be >= 1, got %d", *c.MissThreshold)
	}
	if c.MatchCostGate != nil && (*c.MatchCostGate <= 0 || *c.MatchCostGate > 2) {
		return fmt.Errorf("match_cost_gate must be in (0, 2], got %f", *c.MatchCostGate)
	}
	if c.MaxCenterJumpPx != nil && *c.MaxCenterJumpPx <= 0 {
		return fmt.Errorf("max_center_jump_px must be positive, got %f", *c.MaxCenterJumpPx)
	}
	if c.ProcessNoisePos != nil && *c.ProcessNoisePos <= 0 {
		return fmt.Errorf("process_noise_pos must be positive, got %f", *c.ProcessNoisePos)
	}
	if c.ProcessNoiseVel != nil && *c.ProcessNoiseVel <= 0 {
		return fmt.Errorf("process_noise_vel must be positive, got %f", *c.ProcessNoiseVel)
	}
	if c.MeasurementNoise != nil && *c.MeasurementNoise <= 0 {
		return fmt.Errorf("measurement_noise must be positive, got %f", *c.MeasurementNoise)
	}
	if c.CountSampleInterval != nil && *c.CountSampleInterval < 1 {
		return fmt.Errorf("count_sample_interval must be >= 1, got %d", *c.CountSampleInterval)
	}
	if c.ZonePriorityOrder != nil {
		if err := validatePriorityOrder(c.ZonePriorityOrder); err != nil {
			return err
		}
	}
	return nil
}

// validatePriorityOrder checks that the order is a permutation of {N,S,E,W}.
func validatePriorityOrder(order []string) error {
	if len(order) != 4 {
		return fmt.Errorf("zone_priority_order must list all four zones, got %d entries", len(order))
	}
	seen := map[string]bool{}
	for _, z := range order {
		if !zoneNames[z] {
			return fmt.Errorf("zone_priority_order contains unknown zone %q", z)
		}
		if seen[z] {
			return fmt.Errorf("zone_priority_order repeats zone %q", z)
		}
		seen[z] = true
	}
	return nil
}

// GetTrackHistoryWindow returns the track_history_window value or the default.
func (c *SessionConfig) GetTrackHistoryWindow() int {
	if c.TrackHistoryWindow == nil {
		return 30 // default
	}
	return *c.TrackHistoryWindow
}

// GetMissThreshold returns the miss_threshold value or the default.
func (c *SessionConfig) GetMissThreshold() int {
	if c.MissThreshold == nil {
		return 15 // default
	}
	return *c.MissThreshold
}

// GetMatchCostGate returns the match_cost_gate value or the default.
func (c *SessionConfig) GetMatchCostGate() float64 {
	if c.MatchCostGate == nil {
		return 0.7
	}
	return *c.MatchCostGate
}

// GetMaxCenterJumpPx returns the max_center_jump_px value or the default.
func (c *SessionConfig) GetMaxCenterJumpPx() float64 {
	if c.MaxCenterJumpPx == nil {
		return 150.0
	}
	return *c.MaxCenterJumpPx
}

// GetProcessNoisePos returns the process_noise_pos value or the default.
func (c *SessionConfig) GetProcessNoisePos() float64 {
	if c.ProcessNoisePos == nil {
		return 1.0
	}
	return *c.ProcessNoisePos
}

// GetProcessNoiseVel returns the process_noise_vel value or the default.
func (c *SessionConfig) GetProcessNoiseVel() float64 {
	if c.ProcessNoiseVel == nil {
		return 0.5
	}
	return *c.ProcessNoiseVel
}

// GetMeasurementNoise returns the measurement_noise value or the default.
func (c *SessionConfig) GetMeasurementNoise() float64 {
	if c.MeasurementNoise == nil {
		return 4.0
	}
	return *c.MeasurementNoise
}

// GetExcludePedestrians returns the exclude_pedestrians value or the default.
func (c *SessionConfig) GetExcludePedestrians() bool {
	if c.ExcludePedestrians == nil {
		return false
	}
	return *c.ExcludePedestrians
}

// GetClassifyVehicleTypes returns the classify_vehicle_types value or the default.
func (c *SessionConfig) GetClassifyVehicleTypes() bool {
	if c.ClassifyVehicleTypes == nil {
		return false
	}
	return *c.ClassifyVehicleTypes
}

// GetZonePriorityOrder returns the zone_priority_order value or the default
// N > S > E > W ordering.
func (c *SessionConfig) GetZonePriorityOrder() []string {
	if c.ZonePriorityOrder == nil {
		return []string{"N", "S", "E", "W"}
	}
	out := make([]string, len(c.ZonePriorityOrder))
	copy(out, c.ZonePriorityOrder)
	return out
}

// GetCountSampleInterval returns the count_sample_interval value or the default.
func (c *SessionConfig) GetCountSampleInterval() int {
	if c.CountSampleInterval == nil {
		return 10
	}
	return *c.CountSampleInterval
}
