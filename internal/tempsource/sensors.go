package tempsource

import (
	"context"

	"github.com/shirou/gopsutil/v3/host"
)

// SensorReader returns host temperatures keyed by sensor key.
type SensorReader interface {
	Temperatures(ctx context.Context) (map[string]float64, error)
}

// HostSensors reads temperatures through gopsutil.
type HostSensors struct{}

func (HostSensors) Temperatures(ctx context.Context) (map[string]float64, error) {
	temps, err := host.SensorsTemperaturesWithContext(ctx)
	if err != nil && len(temps) == 0 {
		return nil, err
	}
	// gopsutil reports partial reads as a warning alongside the sensors it could read.
	out := make(map[string]float64, len(temps))
	for _, t := range temps {
		out[t.SensorKey] = t.Temperature
	}
	return out, nil
}
