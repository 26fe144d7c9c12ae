package service

import (
	"context"
	"time"

	"openfan_micro/internal/models"
	"openfan_micro/internal/repository"
	"openfan_micro/internal/tempsource"
)

type Authorization interface {
	SignUp(username, password string) (int, error)
	GenerateToken(username, password string) (string, error)
	ParseToken(accessToken string) (int, error)
}

// Fans exposes direct operator commands.
type Fans interface {
	SetDuty(ctx context.Context, id string, pct int) (int, error)
	TurnOn(ctx context.Context, id string, pct *int) (int, error)
	TurnOff(ctx context.Context, id string) error
	SetLED(ctx context.Context, id string, enabled bool) error
	SetVoltage(ctx context.Context, id string, volts int) error
}

// Monitoring exposes read-only device state.
type Monitoring interface {
	ListDevices(ctx context.Context) ([]DeviceState, error)
	GetState(ctx context.Context, id string) (DeviceState, error)
	Diagnostics(ctx context.Context, id string) (Diagnostics, error)
}

type Calibration interface {
	Calibrate(ctx context.Context, id string, p models.CalibrationParams) (models.CalibrationResult, error)
}

// TempControl manages temperature source bindings and readings.
type TempControl interface {
	SetTempControl(ctx context.Context, id string, p TempControlParams) (models.DeviceSettings, error)
	ClearTempControl(ctx context.Context, id string) error
	PushTemperature(ctx context.Context, id string, v float64) error
}

// Polling changes per-device poll options.
type Polling interface {
	SetPolling(ctx context.Context, id string, p PollingParams) (models.DeviceSettings, error)
}

// EventLog exposes append-only logs with filtering access.
type EventLog interface {
	List(ctx context.Context, f LogFilter) ([]models.DeviceEvent, error)
}

// Service aggregates all sub-services.
type Service struct {
	Fans
	Monitoring
	Calibration
	TempControl
	Polling
	EventLog
	Authorization
}

// Deps are the collaborators NewService wires together.
type Deps struct {
	Repos      *repository.Repository
	Registry   *Registry
	Sources    *tempsource.Manager
	Events     *EventNotifier
	SigningKey string
	TokenTTL   time.Duration
}

func NewService(d Deps) *Service {
	return &Service{
		Fans:          NewFanService(d.Registry, d.Events),
		Monitoring:    NewMonitoringService(d.Registry),
		Calibration:   NewCalibrationService(d.Registry, d.Events),
		TempControl:   NewTempControlService(d.Registry, d.Sources, d.Events),
		Polling:       NewPollingService(d.Registry, d.Events),
		EventLog:      NewEventLogService(d.Repos.EventRepo),
		Authorization: NewAuthService(d.Repos.Auth, d.SigningKey, d.TokenTTL),
	}
}
