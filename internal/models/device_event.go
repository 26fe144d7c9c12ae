package models

import "time"

// Event types written to the device log.
const (
	EventStall        = "STALL"
	EventStallCleared = "STALL_CLEARED"
	EventAvailability = "AVAILABILITY"
	EventCalibration  = "CALIBRATION"
	EventCommand      = "COMMAND"
	EventTempControl  = "TEMP_CONTROL"
)

// DeviceEvent is a single log entry.
type DeviceEvent struct {
	EventID     string    `json:"event_id"`
	DeviceID    string    `json:"device_id"`
	OccurredAt  time.Time `json:"occurred_at"`
	Type        string    `json:"type"`
	Description string    `json:"description"`
	Metadata    any       `json:"metadata,omitempty"`
}
