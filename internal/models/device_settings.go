package models

import "time"

// DeviceSettings is the persisted per-device configuration.
type DeviceSettings struct {
	ID                    string    `json:"id"`
	Name                  string    `json:"name"`
	Host                  string    `json:"host"`
	MAC                   string    `json:"mac,omitempty"`
	PollIntervalSec       int       `json:"poll_interval"`
	FailureThreshold      int       `json:"failure_threshold"`
	StallThreshold        int       `json:"stall_threshold"`
	MinPWM                int       `json:"min_pwm"`
	MinPWMCalibrated      bool      `json:"min_pwm_calibrated"`
	TempSource            string    `json:"temp_source"`
	TempCurve             string    `json:"temp_curve"`
	TempIntegrateSec      int       `json:"temp_integrate_seconds"`
	TempUpdateMinInterval int       `json:"temp_update_min_interval"`
	TempDeadbandPct       int       `json:"temp_deadband_pct"`
	UpdatedAt             time.Time `json:"updated_at"`
}
