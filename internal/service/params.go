package service

import (
	"errors"
	"time"

	"openfan_micro/internal/engine"
	"openfan_micro/internal/models"
	"openfan_micro/internal/openfan"
	"openfan_micro/internal/tempsource"
)

var (
	ErrDeviceNotFound   = errors.New("device not found")
	ErrInvalidSettings  = errors.New("invalid device settings")
	ErrInvalidVoltage   = errors.New("supply voltage must be 5 or 12")
	ErrSourceNotPush    = errors.New("device is not bound to a push temperature source")
	errInvalidTimeRange = errors.New("invalid time range: From must be <= To")
)

// LogFilter supports history filtering by time range, type and device.
type LogFilter struct {
	From     time.Time // inclusive; zero means no lower bound
	To       time.Time // inclusive; zero means no upper bound
	Type     string    // "", "STALL", "STALL_CLEARED", "AVAILABILITY", "CALIBRATION", "COMMAND", "TEMP_CONTROL"
	DeviceID string
	Limit    int
}

// TempControlParams is a partial update of the temperature control binding.
// Nil fields keep their current value.
type TempControlParams struct {
	Source            *string `json:"source,omitempty"`
	Curve             *string `json:"curve,omitempty"`
	IntegrateSeconds  *int    `json:"integrate_seconds,omitempty"`
	MinUpdateInterval *int    `json:"min_update_interval,omitempty"`
	DeadbandPct       *int    `json:"deadband_pct,omitempty"`
}

// DeviceState is the operator view of one device.
type DeviceState struct {
	ID           string                 `json:"id"`
	Name         string                 `json:"name"`
	Availability models.Availability    `json:"availability"`
	Snapshot     *models.PollSnapshot   `json:"snapshot,omitempty"`
	Control      models.ControllerState `json:"control"`
	Calibrating  bool                   `json:"calibrating"`
}

// Diagnostics is the support dump of one device. The host is redacted.
type Diagnostics struct {
	Settings    models.DeviceSettings  `json:"settings"`
	Snapshot    *models.PollSnapshot   `json:"snapshot,omitempty"`
	Health      models.PollHealth      `json:"health"`
	Control     models.ControllerState `json:"control"`
	Calibrating bool                   `json:"calibrating"`
	BoundSource string                 `json:"bound_source,omitempty"`
	GeneratedAt time.Time              `json:"generated_at"`
}

const redacted = "**REDACTED**"

// IsValidation reports whether err was caused by bad input rather than by the
// device or the store.
func IsValidation(err error) bool {
	for _, target := range []error{
		ErrInvalidSettings,
		ErrInvalidVoltage,
		ErrSourceNotPush,
		errInvalidTimeRange,
		engine.ErrInvalidCalibration,
		engine.ErrInvalidCurve,
		tempsource.ErrInvalidSource,
		tempsource.ErrUnsupportedSource,
		tempsource.ErrInvalidReading,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsDeviceFailure reports whether err came from talking to the fan controller.
func IsDeviceFailure(err error) bool {
	return openfan.IsTransport(err) || openfan.IsProtocol(err)
}
