package service

import (
	"context"
	"fmt"

	"openfan_micro/internal/models"
)

// FanService executes direct operator commands.
type FanService struct {
	registry *Registry
	events   *EventNotifier
}

func NewFanService(registry *Registry, events *EventNotifier) *FanService {
	return &FanService{registry: registry, events: events}
}

// SetDuty writes pct (raised to the device minimum when non-zero) and returns
// the duty actually sent.
func (s *FanService) SetDuty(ctx context.Context, id string, pct int) (int, error) {
	dev, _, err := s.registry.Resolve(id)
	if err != nil {
		return 0, err
	}
	applied, err := dev.SetDuty(ctx, pct)
	if err != nil {
		return 0, err
	}
	s.events.Record(ctx, id, models.EventCommand, fmt.Sprintf("duty set to %d%%", applied),
		map[string]any{"requested": pct, "applied": applied})
	return applied, nil
}

// TurnOn uses pct or, when nil, the last non-zero duty.
func (s *FanService) TurnOn(ctx context.Context, id string, pct *int) (int, error) {
	dev, _, err := s.registry.Resolve(id)
	if err != nil {
		return 0, err
	}
	applied, err := dev.TurnOn(ctx, pct)
	if err != nil {
		return 0, err
	}
	s.events.Record(ctx, id, models.EventCommand, fmt.Sprintf("fan on at %d%%", applied),
		map[string]any{"applied": applied})
	return applied, nil
}

func (s *FanService) TurnOff(ctx context.Context, id string) error {
	dev, _, err := s.registry.Resolve(id)
	if err != nil {
		return err
	}
	if err := dev.TurnOff(ctx); err != nil {
		return err
	}
	s.events.Record(ctx, id, models.EventCommand, "fan off", nil)
	return nil
}

func (s *FanService) SetLED(ctx context.Context, id string, enabled bool) error {
	dev, _, err := s.registry.Resolve(id)
	if err != nil {
		return err
	}
	if err := dev.SetLED(ctx, enabled); err != nil {
		return err
	}
	s.events.Record(ctx, id, models.EventCommand, fmt.Sprintf("activity led enabled=%t", enabled),
		map[string]any{"led_enabled": enabled})
	return nil
}

// SetVoltage switches the fan supply; volts must be 5 or 12.
func (s *FanService) SetVoltage(ctx context.Context, id string, volts int) error {
	var is12V bool
	switch volts {
	case 12:
		is12V = true
	case 5:
	default:
		return fmt.Errorf("%w: got %d", ErrInvalidVoltage, volts)
	}
	dev, _, err := s.registry.Resolve(id)
	if err != nil {
		return err
	}
	if err := dev.SetSupplyVoltage(ctx, is12V); err != nil {
		return err
	}
	s.events.Record(ctx, id, models.EventCommand, fmt.Sprintf("supply set to %dV", volts),
		map[string]any{"volts": volts})
	return nil
}
