// Package tempsource binds temperature sources to devices. A source is named
// "<kind>:<name>": push sources are fed over the HTTP API, mqtt sources follow
// a broker topic and sensor sources read a host sensor key.
package tempsource

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

const (
	KindPush   = "push"
	KindMQTT   = "mqtt"
	KindSensor = "sensor"
)

var (
	ErrInvalidSource     = errors.New("invalid temperature source")
	ErrUnsupportedSource = errors.New("temperature source kind not available")
	ErrInvalidReading    = errors.New("invalid temperature reading")
)

// Ref identifies one source.
type Ref struct {
	Kind string
	Name string
}

func (r Ref) String() string { return r.Kind + ":" + r.Name }

// Parse validates a "<kind>:<name>" reference.
func Parse(ref string) (Ref, error) {
	kind, name, ok := strings.Cut(strings.TrimSpace(ref), ":")
	if !ok || strings.TrimSpace(name) == "" {
		return Ref{}, fmt.Errorf("%w: %q is not <kind>:<name>", ErrInvalidSource, ref)
	}
	kind = strings.ToLower(strings.TrimSpace(kind))
	switch kind {
	case KindPush, KindMQTT, KindSensor:
	default:
		return Ref{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidSource, kind)
	}
	return Ref{Kind: kind, Name: strings.TrimSpace(name)}, nil
}

// ValidReading rejects NaN and infinities.
func ValidReading(v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("%w: %v", ErrInvalidReading, v)
	}
	return nil
}

var payloadKeys = []string{"temperature", "temp", "value", "state"}

// parsePayload accepts a bare number or a JSON object carrying one of
// payloadKeys. "unknown" and "unavailable" states are not readings.
func parsePayload(raw []byte) (float64, error) {
	text := strings.TrimSpace(string(raw))
	if v, err := strconv.ParseFloat(text, 64); err == nil {
		return v, ValidReading(v)
	}

	var obj map[string]any
	if err := json.Unmarshal([]byte(text), &obj); err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidReading, truncate(text, 64))
	}
	for _, key := range payloadKeys {
		val, ok := obj[key]
		if !ok {
			continue
		}
		switch t := val.(type) {
		case float64:
			return t, ValidReading(t)
		case string:
			v, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
			if err != nil {
				return 0, fmt.Errorf("%w: %s=%q", ErrInvalidReading, key, t)
			}
			return v, ValidReading(v)
		}
	}
	return 0, fmt.Errorf("%w: no temperature field", ErrInvalidReading)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
