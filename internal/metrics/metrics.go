// Package metrics exposes per-device fan state to Prometheus.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"openfan_micro/internal/models"
)

// DeviceView is the state of one device at scrape time.
type DeviceView struct {
	ID          string
	Snapshot    *models.PollSnapshot
	Health      models.PollHealth
	Control     models.ControllerState
	Calibrating bool
}

// Source lists the devices to report.
type Source interface {
	DeviceViews() []DeviceView
}

// Collector reads device state on every scrape.
type Collector struct {
	src Source
	mu  sync.Mutex

	rpm           *prometheus.GaugeVec
	pwm           *prometheus.GaugeVec
	stalled       *prometheus.GaugeVec
	available     *prometheus.GaugeVec
	failures      *prometheus.GaugeVec
	lastSuccess   *prometheus.GaugeVec
	minPWM        *prometheus.GaugeVec
	controlActive *prometheus.GaugeVec
	tempAvg       *prometheus.GaugeVec
	targetPWM     *prometheus.GaugeVec
	calibrating   *prometheus.GaugeVec
	supplyIs12V   *prometheus.GaugeVec
}

func NewCollector(src Source) *Collector {
	labels := []string{"device"}
	gauge := func(name, help string) *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "openfan_" + name, Help: help}, labels)
	}
	return &Collector{
		src:           src,
		rpm:           gauge("fan_rpm", "Fan speed reported by the device (RPM)"),
		pwm:           gauge("fan_pwm_percent", "Fan duty reported by the device (0-100)"),
		stalled:       gauge("fan_stalled", "1 while the fan is considered stalled"),
		available:     gauge("device_available", "1 when the device is available, 0 when degraded or unavailable"),
		failures:      gauge("poll_consecutive_failures", "Consecutive failed poll cycles"),
		lastSuccess:   gauge("poll_last_success_timestamp_seconds", "Last successful poll (epoch seconds)"),
		minPWM:        gauge("min_pwm_percent", "Minimum duty used for control and stall detection"),
		controlActive: gauge("temp_control_active", "1 when temperature control is enabled"),
		tempAvg:       gauge("temp_average_celsius", "Averaged temperature over the integration window"),
		targetPWM:     gauge("temp_control_target_percent", "Last duty computed by the temperature controller"),
		calibrating:   gauge("calibration_running", "1 while a minimum duty sweep runs"),
		supplyIs12V:   gauge("supply_12v", "1 when the fan supply is 12V, 0 when 5V"),
	}
}

func (c *Collector) vecs() []*prometheus.GaugeVec {
	return []*prometheus.GaugeVec{
		c.rpm, c.pwm, c.stalled, c.available, c.failures, c.lastSuccess,
		c.minPWM, c.controlActive, c.tempAvg, c.targetPWM, c.calibrating, c.supplyIs12V,
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, v := range c.vecs() {
		v.Describe(ch)
	}
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, v := range c.vecs() {
		v.Reset()
	}
	for _, d := range c.src.DeviceViews() {
		id := d.ID
		if s := d.Snapshot; s != nil {
			c.rpm.WithLabelValues(id).Set(float64(s.RPM))
			c.pwm.WithLabelValues(id).Set(float64(s.PWM))
			c.stalled.WithLabelValues(id).Set(boolToFloat(s.Stalled))
			if s.SupplyOK {
				c.supplyIs12V.WithLabelValues(id).Set(boolToFloat(s.Is12V))
			}
		}
		c.available.WithLabelValues(id).Set(boolToFloat(d.Health.Availability == models.Available))
		c.failures.WithLabelValues(id).Set(float64(d.Health.ConsecutiveFailures))
		if !d.Health.LastSuccess.IsZero() {
			c.lastSuccess.WithLabelValues(id).Set(float64(d.Health.LastSuccess.Unix()))
		}
		c.minPWM.WithLabelValues(id).Set(float64(d.Control.MinPWM))
		c.controlActive.WithLabelValues(id).Set(boolToFloat(d.Control.Active))
		if d.Control.TempAvg != nil {
			c.tempAvg.WithLabelValues(id).Set(*d.Control.TempAvg)
		}
		if d.Control.LastTarget != nil {
			c.targetPWM.WithLabelValues(id).Set(float64(*d.Control.LastTarget))
		}
		c.calibrating.WithLabelValues(id).Set(boolToFloat(d.Calibrating))
	}
	for _, v := range c.vecs() {
		v.Collect(ch)
	}
}

// NewRegistry registers the given collectors plus build info.
func NewRegistry(collectors ...prometheus.Collector) *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "openfan_build_info",
		Help: "Build information",
	}, func() float64 { return 1 }))
	for _, c := range collectors {
		registry.MustRegister(c)
	}
	return registry
}

func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

func boolToFloat(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
