// Package engine implements the per-device polling and control loop: the poll
// coordinator with availability and stall gating, the temperature controller,
// and the minimum-PWM calibration sweep.
package engine

import (
	"context"
	"errors"

	"openfan_micro/internal/models"
)

// DeviceAPI is the subset of the device client the engine drives.
type DeviceAPI interface {
	GetStatus(ctx context.Context) (models.DeviceStatus, error)
	SetPWM(ctx context.Context, value int) error
	GetSupplyStatus(ctx context.Context) (models.SupplyStatus, error)
	SetLED(ctx context.Context, enabled bool) error
	SetSupplyVoltage(ctx context.Context, is12V bool) error
}

// Notifier receives poll-loop transitions. Implementations must not call back
// into the coordinator that invoked them.
type Notifier interface {
	StallDetected(ctx context.Context, deviceID string, snap models.PollSnapshot)
	StallCleared(ctx context.Context, deviceID string, snap models.PollSnapshot)
	AvailabilityChanged(ctx context.Context, deviceID string, from, to models.Availability, cause error)
}

var (
	ErrCalibrationInProgress = errors.New("calibration in progress")
	ErrInvalidCalibration    = errors.New("invalid calibration parameters")
	ErrInvalidCurve          = errors.New("invalid control curve")
)

type nopNotifier struct{}

func (nopNotifier) StallDetected(context.Context, string, models.PollSnapshot) {}
func (nopNotifier) StallCleared(context.Context, string, models.PollSnapshot)  {}
func (nopNotifier) AvailabilityChanged(context.Context, string, models.Availability, models.Availability, error) {
}
