package tempsource

import (
	"context"
	"fmt"
	"sync"
	"time"

	"openfan_micro/internal/logger"
)

const DefaultSensorInterval = 5 * time.Second

// Sink receives readings for one bound device.
type Sink func(v float64)

type reading struct {
	value float64
	at    time.Time
}

type binding struct {
	ref   Ref
	sink  Sink
	unsub func()
}

// Manager routes readings from sources to the devices bound to them and
// remembers the last value seen per source.
type Manager struct {
	mqtt           Subscriber
	sensors        SensorReader
	sensorInterval time.Duration
	log            *logger.Logger
	now            func() time.Time

	mu       sync.Mutex
	bindings map[string]*binding // by device id
	last     map[string]reading  // by source ref
}

// NewManager builds a manager. A nil mqtt or sensors disables that kind.
func NewManager(mqtt Subscriber, sensors SensorReader, sensorInterval time.Duration, log *logger.Logger) *Manager {
	if sensorInterval <= 0 {
		sensorInterval = DefaultSensorInterval
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Manager{
		mqtt:           mqtt,
		sensors:        sensors,
		sensorInterval: sensorInterval,
		log:            log.Named("tempsource"),
		now:            time.Now,
		bindings:       make(map[string]*binding),
		last:           make(map[string]reading),
	}
}

// Bind attaches deviceID to source, replacing any previous binding.
func (m *Manager) Bind(deviceID, source string, sink Sink) error {
	ref, err := Parse(source)
	if err != nil {
		return err
	}
	b := &binding{ref: ref, sink: sink}

	switch ref.Kind {
	case KindMQTT:
		if m.mqtt == nil {
			return fmt.Errorf("%w: %s (no mqtt broker configured)", ErrUnsupportedSource, ref)
		}
		unsub, err := m.mqtt.Subscribe(ref.Name, func(payload []byte) {
			m.onMQTT(ref, payload)
		})
		if err != nil {
			return err
		}
		b.unsub = unsub
	case KindSensor:
		if m.sensors == nil {
			return fmt.Errorf("%w: %s (host sensors disabled)", ErrUnsupportedSource, ref)
		}
	}

	m.mu.Lock()
	prev := m.bindings[deviceID]
	m.bindings[deviceID] = b
	m.mu.Unlock()
	if prev != nil && prev.unsub != nil {
		prev.unsub()
	}
	m.log.Infow("source_bound", "device", deviceID, "source", ref.String())
	return nil
}

// Unbind detaches deviceID from its source.
func (m *Manager) Unbind(deviceID string) {
	m.mu.Lock()
	b := m.bindings[deviceID]
	delete(m.bindings, deviceID)
	m.mu.Unlock()
	if b == nil {
		return
	}
	if b.unsub != nil {
		b.unsub()
	}
	m.log.Infow("source_unbound", "device", deviceID, "source", b.ref.String())
}

// Bound returns the source deviceID is bound to.
func (m *Manager) Bound(deviceID string) (Ref, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bindings[deviceID]
	if !ok {
		return Ref{}, false
	}
	return b.ref, true
}

// Push records a reading for a push source and returns the number of devices
// it was delivered to.
func (m *Manager) Push(source string, v float64) (int, error) {
	ref, err := Parse(source)
	if err != nil {
		return 0, err
	}
	if ref.Kind != KindPush {
		return 0, fmt.Errorf("%w: %s is not a push source", ErrInvalidSource, ref)
	}
	if err := ValidReading(v); err != nil {
		return 0, err
	}
	return m.deliver(ref, v), nil
}

// LastValue returns the most recent reading seen for source.
func (m *Manager) LastValue(source string) (float64, bool) {
	ref, err := Parse(source)
	if err != nil {
		return 0, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.last[ref.String()]
	return r.value, ok
}

// Run polls host sensors for sensor bindings until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	if m.sensors == nil {
		return
	}
	ticker := time.NewTicker(m.sensorInterval)
	defer ticker.Stop()
	for {
		m.pollSensors(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (m *Manager) pollSensors(ctx context.Context) {
	wanted := m.refsOfKind(KindSensor)
	if len(wanted) == 0 {
		return
	}
	temps, err := m.sensors.Temperatures(ctx)
	if err != nil {
		m.log.Warnw("sensor_read_failed", "error", err)
		return
	}
	for _, ref := range wanted {
		v, ok := temps[ref.Name]
		if !ok {
			m.log.Debugw("sensor_missing", "sensor", ref.Name)
			continue
		}
		if ValidReading(v) != nil {
			continue
		}
		m.deliver(ref, v)
	}
}

func (m *Manager) onMQTT(ref Ref, payload []byte) {
	v, err := parsePayload(payload)
	if err != nil {
		m.log.Debugw("mqtt_reading_ignored", "topic", ref.Name, "error", err)
		return
	}
	m.deliver(ref, v)
}

func (m *Manager) refsOfKind(kind string) []Ref {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[Ref]struct{})
	var refs []Ref
	for _, b := range m.bindings {
		if b.ref.Kind != kind {
			continue
		}
		if _, dup := seen[b.ref]; dup {
			continue
		}
		seen[b.ref] = struct{}{}
		refs = append(refs, b.ref)
	}
	return refs
}

func (m *Manager) deliver(ref Ref, v float64) int {
	m.mu.Lock()
	m.last[ref.String()] = reading{value: v, at: m.now()}
	var sinks []Sink
	for _, b := range m.bindings {
		if b.ref == ref && b.sink != nil {
			sinks = append(sinks, b.sink)
		}
	}
	m.mu.Unlock()
	for _, s := range sinks {
		s(v)
	}
	return len(sinks)
}
