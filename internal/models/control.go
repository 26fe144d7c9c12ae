package models

import "time"

// CurvePoint maps a temperature (°C) to a duty cycle (0..100).
type CurvePoint struct {
	Temperature float64 `json:"temperature"`
	Duty        int     `json:"duty_percent"`
}

// ControllerState is the diagnostic view of the temperature controller.
type ControllerState struct {
	Active        bool      `json:"active"`
	MinPWM        int       `json:"min_pwm"`
	Calibrated    bool      `json:"calibrated"`
	Source        string    `json:"source,omitempty"`
	TempAvg       *float64  `json:"temp_avg,omitempty"`
	LastTarget    *int      `json:"last_target,omitempty"`
	LastApplied   *int      `json:"last_applied,omitempty"`
	LastApplyTime time.Time `json:"last_apply_time,omitempty"`
	LastDecision  string    `json:"last_decision,omitempty"`
}

// CalibrationParams drive one minimum-PWM sweep.
type CalibrationParams struct {
	From         int `json:"from"`
	To           int `json:"to"`
	Step         int `json:"step"`
	RPMThreshold int `json:"rpm_threshold"`
	Margin       int `json:"margin"`
}

// CalibrationResult is produced once per sweep. MinPWM is meaningful only when Achieved.
type CalibrationResult struct {
	MinPWM   int  `json:"min_pwm"`
	Achieved bool `json:"achieved"`
	FoundAt  int  `json:"found_at,omitempty"`
	Aborted  bool `json:"aborted,omitempty"`
}
