package service

import (
	"context"
	"fmt"
	"time"

	"openfan_micro/internal/logger"
	"openfan_micro/internal/models"
	"openfan_micro/internal/repository"
)

const eventWriteTimeout = 3 * time.Second

// EventNotifier writes engine transitions and operator actions to the event
// log. Write failures are logged and never propagate to the caller.
type EventNotifier struct {
	events repository.EventRepo
	log    *logger.Logger
}

func NewEventNotifier(events repository.EventRepo, log *logger.Logger) *EventNotifier {
	if log == nil {
		log = logger.NewNop()
	}
	return &EventNotifier{events: events, log: log.Named("events")}
}

func (n *EventNotifier) StallDetected(ctx context.Context, deviceID string, snap models.PollSnapshot) {
	n.Record(ctx, deviceID, models.EventStall,
		fmt.Sprintf("fan reports 0 RPM at %d%% duty", snap.PWM),
		map[string]any{"pwm": snap.PWM, "rpm": snap.RPM})
}

func (n *EventNotifier) StallCleared(ctx context.Context, deviceID string, snap models.PollSnapshot) {
	n.Record(ctx, deviceID, models.EventStallCleared,
		fmt.Sprintf("fan spinning again at %d RPM", snap.RPM),
		map[string]any{"pwm": snap.PWM, "rpm": snap.RPM})
}

func (n *EventNotifier) AvailabilityChanged(ctx context.Context, deviceID string, from, to models.Availability, cause error) {
	meta := map[string]any{"from": from, "to": to}
	if cause != nil {
		meta["error"] = cause.Error()
	}
	n.Record(ctx, deviceID, models.EventAvailability, fmt.Sprintf("%s -> %s", from, to), meta)
}

// Record appends one event.
func (n *EventNotifier) Record(ctx context.Context, deviceID, typ, description string, meta any) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), eventWriteTimeout)
	defer cancel()
	err := n.events.Append(ctx, models.DeviceEvent{
		DeviceID:    deviceID,
		OccurredAt:  time.Now().UTC(),
		Type:        typ,
		Description: description,
		Metadata:    meta,
	})
	if err != nil {
		n.log.Errorw("event_append_failed", "device", deviceID, "type", typ, "error", err)
	}
}
