package service

import (
	"context"
	"fmt"

	"openfan_micro/internal/models"
)

// CalibrationService runs minimum-duty sweeps and persists the outcome.
type CalibrationService struct {
	registry *Registry
	events   *EventNotifier
}

func NewCalibrationService(registry *Registry, events *EventNotifier) *CalibrationService {
	return &CalibrationService{registry: registry, events: events}
}

// Calibrate blocks until the sweep ends. Cancelling ctx aborts it.
func (s *CalibrationService) Calibrate(ctx context.Context, id string, p models.CalibrationParams) (models.CalibrationResult, error) {
	dev, _, err := s.registry.Resolve(id)
	if err != nil {
		return models.CalibrationResult{}, err
	}

	res, err := dev.Calibrate(ctx, p)
	meta := map[string]any{"params": p, "result": res}
	switch {
	case err != nil && res.Aborted:
		s.events.Record(ctx, id, models.EventCalibration, "calibration aborted", meta)
		return res, err
	case err != nil:
		meta["error"] = err.Error()
		s.events.Record(ctx, id, models.EventCalibration, "calibration failed", meta)
		return res, err
	case !res.Achieved:
		s.events.Record(ctx, id, models.EventCalibration,
			fmt.Sprintf("no duty in %d..%d reached %d RPM", p.From, p.To, p.RPMThreshold), meta)
		return res, nil
	}

	_, _, err = s.registry.update(ctx, id, func(st *models.DeviceSettings) error {
		st.MinPWM = res.MinPWM
		st.MinPWMCalibrated = true
		return nil
	})
	if err != nil {
		// put the engine back on the stored floor
		s.registry.applyControl(id)
		return res, fmt.Errorf("persist calibration: %w", err)
	}
	s.events.Record(ctx, id, models.EventCalibration,
		fmt.Sprintf("minimum duty calibrated to %d%%", res.MinPWM), meta)
	return res, nil
}
