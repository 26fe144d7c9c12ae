package service

import (
	"context"
	"fmt"
	"strings"

	"openfan_micro/internal/engine"
	"openfan_micro/internal/models"
	"openfan_micro/internal/tempsource"
)

// TempControlService manages the temperature source binding and curve of a
// device.
type TempControlService struct {
	registry *Registry
	sources  *tempsource.Manager
	events   *EventNotifier
}

func NewTempControlService(registry *Registry, sources *tempsource.Manager, events *EventNotifier) *TempControlService {
	return &TempControlService{registry: registry, sources: sources, events: events}
}

// SetTempControl applies a partial update, rebinds the source when it
// changed and triggers an immediate evaluation.
func (s *TempControlService) SetTempControl(ctx context.Context, id string, p TempControlParams) (models.DeviceSettings, error) {
	dev, _, err := s.registry.Resolve(id)
	if err != nil {
		return models.DeviceSettings{}, err
	}

	prev, next, err := s.registry.update(ctx, id, func(st *models.DeviceSettings) error {
		if p.Source != nil {
			src := strings.TrimSpace(*p.Source)
			if src != "" {
				if _, err := tempsource.Parse(src); err != nil {
					return err
				}
			}
			st.TempSource = src
		}
		if p.Curve != nil {
			curve, err := engine.ParseCurve(*p.Curve)
			if err != nil {
				return err
			}
			st.TempCurve = curve.String()
		}
		if p.IntegrateSeconds != nil {
			st.TempIntegrateSec = *p.IntegrateSeconds
		}
		if p.MinUpdateInterval != nil {
			st.TempUpdateMinInterval = *p.MinUpdateInterval
		}
		if p.DeadbandPct != nil {
			st.TempDeadbandPct = *p.DeadbandPct
		}
		return nil
	})
	if err != nil {
		return models.DeviceSettings{}, err
	}

	switch {
	case next.TempSource != prev.TempSource:
		if err := s.bind(id, next.TempSource, dev); err != nil {
			s.restore(ctx, id, prev)
			return models.DeviceSettings{}, err
		}
		s.registry.applyControl(id)
	case next.TempSource != "" && !s.registry.isBound(id, next.TempSource):
		// retry a binding that failed at startup
		if err := s.bind(id, next.TempSource, dev); err != nil {
			s.registry.log.Warnw("temp_source_bind_failed", "device", id, "source", next.TempSource, "error", err)
		} else {
			s.registry.applyControl(id)
		}
	}
	s.events.Record(ctx, id, models.EventTempControl, "temperature control updated",
		map[string]any{"source": next.TempSource, "curve": next.TempCurve, "previous_source": prev.TempSource})
	return next, nil
}

// ClearTempControl unbinds the source; the controller becomes inactive.
func (s *TempControlService) ClearTempControl(ctx context.Context, id string) error {
	if _, _, err := s.registry.Resolve(id); err != nil {
		return err
	}
	_, _, err := s.registry.update(ctx, id, func(st *models.DeviceSettings) error {
		st.TempSource = ""
		return nil
	})
	if err != nil {
		return err
	}
	if s.sources != nil {
		s.sources.Unbind(id)
	}
	s.events.Record(ctx, id, models.EventTempControl, "temperature control cleared", nil)
	return nil
}

// PushTemperature feeds a reading to the push source the device is bound to.
func (s *TempControlService) PushTemperature(_ context.Context, id string, v float64) error {
	_, settings, err := s.registry.Resolve(id)
	if err != nil {
		return err
	}
	ref, err := tempsource.Parse(settings.TempSource)
	if err != nil || ref.Kind != tempsource.KindPush {
		return fmt.Errorf("%w: %s", ErrSourceNotPush, id)
	}
	if s.sources == nil {
		return fmt.Errorf("%w: no source manager", tempsource.ErrUnsupportedSource)
	}
	_, err = s.sources.Push(settings.TempSource, v)
	return err
}

func (s *TempControlService) bind(id, source string, dev *engine.Device) error {
	if s.sources == nil {
		return fmt.Errorf("%w: no source manager", tempsource.ErrUnsupportedSource)
	}
	if source == "" {
		s.sources.Unbind(id)
		return nil
	}
	return s.sources.Bind(id, source, sinkFor(dev))
}

// restore puts back the temperature settings of prev after a failed bind. A
// failed bind leaves the previous binding in place.
func (s *TempControlService) restore(ctx context.Context, id string, prev models.DeviceSettings) {
	_, _, err := s.registry.update(ctx, id, func(st *models.DeviceSettings) error {
		st.TempSource = prev.TempSource
		st.TempCurve = prev.TempCurve
		st.TempIntegrateSec = prev.TempIntegrateSec
		st.TempUpdateMinInterval = prev.TempUpdateMinInterval
		st.TempDeadbandPct = prev.TempDeadbandPct
		return nil
	})
	if err != nil {
		s.registry.log.Errorw("temp_control_restore_failed", "device", id, "error", err)
	}
}
