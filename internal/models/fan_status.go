package models

import "time"

// DeviceStatus is the normalized fan reading returned by the device client.
type DeviceStatus struct {
	RPM        int `json:"rpm"`         // >= 0
	PWMPercent int `json:"pwm_percent"` // 0..100
}

// SupplyStatus is the LED / supply-voltage state of the board.
type SupplyStatus struct {
	LEDEnabled bool `json:"led_enabled"`
	Is12V      bool `json:"is_12v"`
}

// PollSnapshot is published after every successful poll cycle.
type PollSnapshot struct {
	RPM        int       `json:"rpm"`
	PWM        int       `json:"pwm"`
	LEDEnabled bool      `json:"led_enabled"`
	Is12V      bool      `json:"is_12v"`
	SupplyOK   bool      `json:"supply_ok"` // false when LED/voltage are best-effort defaults
	Stalled    bool      `json:"stalled"`
	Timestamp  time.Time `json:"timestamp"`
}

// Availability of a device as seen by the poll loop.
type Availability string

const (
	Available   Availability = "AVAILABLE"
	Degraded    Availability = "DEGRADED"
	Unavailable Availability = "UNAVAILABLE"
)

// PollHealth carries the failure and stall counters of the poll loop.
type PollHealth struct {
	Availability        Availability `json:"availability"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	ForcedUnavailable   bool         `json:"forced_unavailable"`
	ConsecutiveStall    int          `json:"consecutive_stall"`
	StallNotified       bool         `json:"stall_notified"`
	LastError           string       `json:"last_error,omitempty"`
	LastSuccess         time.Time    `json:"last_success,omitempty"`
}
