package service

import (
	"context"
	"fmt"

	"openfan_micro/internal/models"
)

// PollingParams is a partial update of the poll options. Nil fields keep
// their current value.
type PollingParams struct {
	PollIntervalSec  *int `json:"poll_interval,omitempty"`
	FailureThreshold *int `json:"failure_threshold,omitempty"`
	StallThreshold   *int `json:"stall_threshold,omitempty"`
}

// PollingService changes how often a device is polled and how many bad polls
// it takes to mark it unavailable or stalled.
type PollingService struct {
	registry *Registry
	events   *EventNotifier
}

func NewPollingService(registry *Registry, events *EventNotifier) *PollingService {
	return &PollingService{registry: registry, events: events}
}

// SetPolling persists the update; the new interval applies from the next cycle.
func (s *PollingService) SetPolling(ctx context.Context, id string, p PollingParams) (models.DeviceSettings, error) {
	_, next, err := s.registry.update(ctx, id, func(st *models.DeviceSettings) error {
		if p.PollIntervalSec != nil {
			st.PollIntervalSec = *p.PollIntervalSec
		}
		if p.FailureThreshold != nil {
			st.FailureThreshold = *p.FailureThreshold
		}
		if p.StallThreshold != nil {
			st.StallThreshold = *p.StallThreshold
		}
		return nil
	})
	if err != nil {
		return models.DeviceSettings{}, err
	}
	s.events.Record(ctx, id, models.EventCommand,
		fmt.Sprintf("polling every %ds", next.PollIntervalSec),
		map[string]any{
			"poll_interval":     next.PollIntervalSec,
			"failure_threshold": next.FailureThreshold,
			"stall_threshold":   next.StallThreshold,
		})
	return next, nil
}
