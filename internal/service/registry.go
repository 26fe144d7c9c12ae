package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"openfan_micro/internal/config"
	"openfan_micro/internal/engine"
	"openfan_micro/internal/logger"
	"openfan_micro/internal/metrics"
	"openfan_micro/internal/models"
	"openfan_micro/internal/openfan"
	"openfan_micro/internal/repository"
	"openfan_micro/internal/tempsource"
)

// APIFactory builds the device client for a host.
type APIFactory func(host string) (engine.DeviceAPI, error)

// HTTPClientFactory returns an APIFactory backed by the openfan HTTP client.
func HTTPClientFactory(timeout time.Duration, log *logger.Logger) APIFactory {
	return func(host string) (engine.DeviceAPI, error) {
		return openfan.NewClient(host, timeout, log.Named("openfan"))
	}
}

type entry struct {
	settings models.DeviceSettings
	device   *engine.Device
}

// Registry is the command router: it resolves a device id to the engine that
// owns it and keeps the persisted settings of every device.
type Registry struct {
	devices  repository.DeviceRepo
	sources  *tempsource.Manager
	notifier engine.Notifier
	newAPI   APIFactory
	log      *logger.Logger
	opts     []engine.Option

	mu      sync.RWMutex
	entries map[string]*entry

	// serializes settings read-modify-write cycles
	updateMu sync.Mutex
}

func NewRegistry(devices repository.DeviceRepo, sources *tempsource.Manager, notifier engine.Notifier,
	newAPI APIFactory, log *logger.Logger, opts ...engine.Option) *Registry {
	if log == nil {
		log = logger.NewNop()
	}
	return &Registry{
		devices:  devices,
		sources:  sources,
		notifier: notifier,
		newAPI:   newAPI,
		log:      log.Named("registry"),
		opts:     opts,
		entries:  make(map[string]*entry),
	}
}

// Register adds a configured device. Calibration and temperature control
// settings persisted by an earlier run take precedence over the config file.
func (r *Registry) Register(ctx context.Context, s models.DeviceSettings) error {
	persisted, ok, err := r.devices.Get(ctx, s.ID)
	if err != nil {
		return err
	}
	if ok {
		s = mergePersisted(s, persisted)
	}
	if err := config.ValidateDevice(s); err != nil {
		return fmt.Errorf("device %s: %w: %w", s.ID, ErrInvalidSettings, err)
	}
	cfg, err := engineConfig(s)
	if err != nil {
		return err
	}
	api, err := r.newAPI(s.Host)
	if err != nil {
		return fmt.Errorf("device %s: %w", s.ID, err)
	}

	opts := append([]engine.Option{}, r.opts...)
	if r.sources != nil {
		opts = append(opts, engine.WithLastValue(r.sources.LastValue))
	}
	// The controller stays inactive until the source is bound.
	cfg.Controller.Source = ""
	dev := engine.NewDevice(s.ID, api, cfg, r.notifier, r.log, opts...)

	r.mu.RLock()
	_, dup := r.entries[s.ID]
	r.mu.RUnlock()
	if dup {
		return fmt.Errorf("device %s registered twice", s.ID)
	}
	if err := r.devices.Save(ctx, s); err != nil {
		return err
	}

	r.mu.Lock()
	if _, dup := r.entries[s.ID]; dup {
		r.mu.Unlock()
		return fmt.Errorf("device %s registered twice", s.ID)
	}
	r.entries[s.ID] = &entry{settings: s, device: dev}
	r.mu.Unlock()

	if s.TempSource != "" && r.sources != nil {
		if err := r.sources.Bind(s.ID, s.TempSource, sinkFor(dev)); err != nil {
			r.log.Warnw("temp_source_bind_failed", "device", s.ID, "source", s.TempSource, "error", err)
		}
	}
	r.applyControl(s.ID)
	r.log.Infow("device_registered", "device", s.ID, "min_pwm", s.MinPWM, "calibrated", s.MinPWMCalibrated)
	return nil
}

// Resolve returns the engine and current settings for id.
func (r *Registry) Resolve(id string) (*engine.Device, models.DeviceSettings, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, models.DeviceSettings{}, fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	return e.device, e.settings, nil
}

// IDs returns registered device ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Run drives every registered device and the temperature sources until ctx
// is cancelled.
func (r *Registry) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, id := range r.IDs() {
		dev, _, err := r.Resolve(id)
		if err != nil {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			dev.Run(ctx)
		}()
	}
	if r.sources != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.sources.Run(ctx)
		}()
	}
	wg.Wait()
}

// DeviceViews implements metrics.Source.
func (r *Registry) DeviceViews() []metrics.DeviceView {
	ids := r.IDs()
	views := make([]metrics.DeviceView, 0, len(ids))
	for _, id := range ids {
		dev, _, err := r.Resolve(id)
		if err != nil {
			continue
		}
		v := metrics.DeviceView{
			ID:          id,
			Health:      dev.Health(),
			Control:     dev.ControllerState(),
			Calibrating: dev.Calibrating(),
		}
		if snap, ok := dev.Snapshot(); ok {
			v.Snapshot = &snap
		}
		views = append(views, v)
	}
	return views
}

// update applies fn to a copy of the settings of id, validates and persists
// the result, and returns the previous and new settings.
func (r *Registry) update(ctx context.Context, id string, fn func(s *models.DeviceSettings) error) (prev, next models.DeviceSettings, err error) {
	r.updateMu.Lock()
	defer r.updateMu.Unlock()

	_, prev, err = r.Resolve(id)
	if err != nil {
		return prev, next, err
	}
	next = prev
	if err := fn(&next); err != nil {
		return prev, next, err
	}
	if err := config.ValidateDevice(next); err != nil {
		return prev, next, fmt.Errorf("%w: %w", ErrInvalidSettings, err)
	}
	next.UpdatedAt = time.Now().UTC()
	if err := r.devices.Save(ctx, next); err != nil {
		return prev, next, err
	}

	r.mu.Lock()
	e, ok := r.entries[id]
	if ok {
		e.settings = next
	}
	r.mu.Unlock()
	if ok {
		r.applyLocked(e.device, next)
	}
	return prev, next, nil
}

// applyControl pushes the stored settings of id to its engine. Callers use it
// after a binding change.
func (r *Registry) applyControl(id string) {
	r.updateMu.Lock()
	defer r.updateMu.Unlock()
	dev, s, err := r.Resolve(id)
	if err != nil {
		return
	}
	r.applyLocked(dev, s)
}

// applyLocked must run with updateMu held so controller updates land in the
// same order as the settings they were built from.
func (r *Registry) applyLocked(dev *engine.Device, s models.DeviceSettings) {
	cfg, err := controllerConfig(s)
	if err != nil {
		r.log.Errorw("temp_control_config_invalid", "device", s.ID, "error", err)
		return
	}
	if !r.isBound(s.ID, cfg.Source) {
		cfg.Source = ""
	}
	dev.UpdateControl(cfg)
	dev.UpdatePolling(coordinatorConfig(s))
}

// isBound reports whether id is currently attached to source.
func (r *Registry) isBound(id, source string) bool {
	if source == "" || r.sources == nil {
		return false
	}
	want, err := tempsource.Parse(source)
	if err != nil {
		return false
	}
	got, ok := r.sources.Bound(id)
	return ok && got == want
}

func mergePersisted(cfg, saved models.DeviceSettings) models.DeviceSettings {
	cfg.MinPWM = saved.MinPWM
	cfg.MinPWMCalibrated = saved.MinPWMCalibrated
	cfg.TempSource = saved.TempSource
	cfg.TempCurve = saved.TempCurve
	cfg.TempIntegrateSec = saved.TempIntegrateSec
	cfg.TempUpdateMinInterval = saved.TempUpdateMinInterval
	cfg.TempDeadbandPct = saved.TempDeadbandPct
	return cfg
}

func engineConfig(s models.DeviceSettings) (engine.Config, error) {
	ctl, err := controllerConfig(s)
	if err != nil {
		return engine.Config{}, err
	}
	return engine.Config{Coordinator: coordinatorConfig(s), Controller: ctl}, nil
}

func coordinatorConfig(s models.DeviceSettings) engine.CoordinatorConfig {
	return engine.CoordinatorConfig{
		PollInterval:     time.Duration(s.PollIntervalSec) * time.Second,
		FailureThreshold: s.FailureThreshold,
		StallThreshold:   s.StallThreshold,
		MinPWM:           s.MinPWM,
	}
}

func controllerConfig(s models.DeviceSettings) (engine.ControllerConfig, error) {
	curve, err := engine.ParseCurve(s.TempCurve)
	if err != nil {
		return engine.ControllerConfig{}, fmt.Errorf("device %s: %w", s.ID, err)
	}
	return engine.ControllerConfig{
		MinPWM:            s.MinPWM,
		Calibrated:        s.MinPWMCalibrated,
		Source:            s.TempSource,
		Curve:             curve,
		IntegrationWindow: time.Duration(s.TempIntegrateSec) * time.Second,
		MinUpdateInterval: time.Duration(s.TempUpdateMinInterval) * time.Second,
		Deadband:          s.TempDeadbandPct,
	}, nil
}

func sinkFor(dev *engine.Device) tempsource.Sink {
	return func(v float64) { dev.PushSample(v) }
}
