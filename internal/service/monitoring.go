package service

import (
	"context"
	"time"
)

type MonitoringService struct {
	registry *Registry
}

func NewMonitoringService(registry *Registry) *MonitoringService {
	return &MonitoringService{registry: registry}
}

// ListDevices returns the state of every registered device ordered by id.
func (s *MonitoringService) ListDevices(ctx context.Context) ([]DeviceState, error) {
	ids := s.registry.IDs()
	out := make([]DeviceState, 0, len(ids))
	for _, id := range ids {
		st, err := s.GetState(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, st)
	}
	return out, nil
}

// GetState returns the latest snapshot, availability and controller state.
// Snapshot is nil until the first successful poll.
func (s *MonitoringService) GetState(_ context.Context, id string) (DeviceState, error) {
	dev, settings, err := s.registry.Resolve(id)
	if err != nil {
		return DeviceState{}, err
	}
	st := DeviceState{
		ID:           id,
		Name:         settings.Name,
		Availability: dev.Health().Availability,
		Control:      dev.ControllerState(),
		Calibrating:  dev.Calibrating(),
	}
	if snap, ok := dev.Snapshot(); ok {
		st.Snapshot = &snap
	}
	return st, nil
}

// Diagnostics returns the support dump for id with the host redacted.
func (s *MonitoringService) Diagnostics(_ context.Context, id string) (Diagnostics, error) {
	dev, settings, err := s.registry.Resolve(id)
	if err != nil {
		return Diagnostics{}, err
	}
	settings.Host = redacted
	d := Diagnostics{
		Settings:    settings,
		Health:      dev.Health(),
		Control:     dev.ControllerState(),
		Calibrating: dev.Calibrating(),
		GeneratedAt: time.Now().UTC(),
	}
	if snap, ok := dev.Snapshot(); ok {
		d.Snapshot = &snap
	}
	if s.registry.sources != nil {
		if ref, ok := s.registry.sources.Bound(id); ok {
			d.BoundSource = ref.String()
		}
	}
	return d, nil
}
