package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"openfan_micro/internal/logger"
	"openfan_micro/internal/models"
)

const (
	defaultTurnOnPercent = 50
	sampleQueueSize      = 64
)

// Config is the full engine configuration of one device.
type Config struct {
	Coordinator CoordinatorConfig
	Controller  ControllerConfig
}

// Option customises a Device.
type Option func(*Device)

// WithClock replaces time.Now for the coordinator and controller.
func WithClock(now func() time.Time) Option {
	return func(d *Device) {
		d.coord.now = now
		d.ctrl.now = now
	}
}

// WithSleep replaces the calibration settle wait.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(d *Device) { d.sleep = sleep }
}

// WithLastValue supplies the most recent reading of a temperature source, used
// to seed an empty sample buffer.
func WithLastValue(fn func(source string) (float64, bool)) Option {
	return func(d *Device) { d.ctrl.lastValue = fn }
}

// Device owns the poll coordinator and temperature controller of one fan and
// arbitrates command authority between direct commands, automatic control and
// calibration.
type Device struct {
	id    string
	api   DeviceAPI
	coord *Coordinator
	ctrl  *Controller
	log   *logger.Logger
	sleep func(ctx context.Context, d time.Duration) error

	cmdMu       sync.Mutex
	calibrating atomic.Bool
	lastOnPct   atomic.Int32

	samples chan float64
	reeval  chan struct{}
}

// NewDevice wires a coordinator and controller around api.
func NewDevice(id string, api DeviceAPI, cfg Config, notifier Notifier, log *logger.Logger, opts ...Option) *Device {
	if log == nil {
		log = logger.NewNop()
	}
	d := &Device{
		id:      id,
		api:     api,
		log:     log.ForDevice("engine", id),
		sleep:   sleepContext,
		samples: make(chan float64, sampleQueueSize),
		reeval:  make(chan struct{}, 1),
	}
	cfg.Coordinator.MinPWM = cfg.Controller.MinPWM
	d.coord = NewCoordinator(id, api, cfg.Coordinator, notifier, d.log.Named("poll"))
	d.ctrl = newController(d, cfg.Controller, d.log.Named("control"))
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Device) ID() string { return d.id }

func (d *Device) Snapshot() (models.PollSnapshot, bool) { return d.coord.Snapshot() }

func (d *Device) Health() models.PollHealth { return d.coord.Health() }

func (d *Device) ControllerState() models.ControllerState { return d.ctrl.State() }

func (d *Device) Calibrating() bool { return d.calibrating.Load() }

func (d *Device) Config() Config {
	return Config{Coordinator: d.coord.Config(), Controller: d.ctrl.Config()}
}

// Refresh forces a poll cycle.
func (d *Device) Refresh(ctx context.Context) error { return d.coord.Refresh(ctx) }

// Run drives the poll loop and the control loop until ctx is cancelled.
func (d *Device) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		d.coord.Run(ctx)
	}()
	d.controlLoop(ctx)
	wg.Wait()
}

func (d *Device) controlLoop(ctx context.Context) {
	tick := d.ctrl.Config().ControlTick()
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		var sample *float64
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-d.reeval:
		case v := <-d.samples:
			sample = &v
		}
		if _, err := d.ctrl.Evaluate(ctx, sample); err != nil && ctx.Err() == nil {
			d.log.Warnw("temp_control_error", "error", err)
		}
		if next := d.ctrl.Config().ControlTick(); next != tick {
			tick = next
			ticker.Reset(tick)
		}
	}
}

// PushSample queues a temperature reading for the control loop. It never
// blocks; a full queue drops the reading.
func (d *Device) PushSample(v float64) bool {
	select {
	case d.samples <- v:
		return true
	default:
		d.log.Warnw("temp_sample_dropped", "value", v)
		return false
	}
}

// Evaluate runs a control decision synchronously.
func (d *Device) Evaluate(ctx context.Context, sample *float64) (Decision, error) {
	return d.ctrl.Evaluate(ctx, sample)
}

// UpdateControl replaces the controller settings and requests a re-evaluation.
func (d *Device) UpdateControl(cfg ControllerConfig) {
	d.ctrl.SetConfig(cfg)
	d.coord.SetMinPWM(cfg.MinPWM)
	d.requestEvaluation()
}

// UpdatePolling replaces the poll settings. The stall floor stays tied to the
// controller's minimum duty.
func (d *Device) UpdatePolling(cfg CoordinatorConfig) {
	cfg.MinPWM = d.ctrl.State().MinPWM
	d.coord.SetConfig(cfg)
}

func (d *Device) requestEvaluation() {
	select {
	case d.reeval <- struct{}{}:
	default:
	}
}

// SetDuty writes a duty directly. A non-zero duty is raised to the minimum
// duty. It fails with ErrCalibrationInProgress while a sweep runs.
func (d *Device) SetDuty(ctx context.Context, pct int) (int, error) {
	pct = min(100, max(0, pct))
	if pct > 0 {
		pct = max(pct, d.ctrl.State().MinPWM)
	}
	if d.calibrating.Load() {
		return 0, ErrCalibrationInProgress
	}

	d.cmdMu.Lock()
	if d.calibrating.Load() {
		d.cmdMu.Unlock()
		return 0, ErrCalibrationInProgress
	}
	err := d.api.SetPWM(ctx, pct)
	d.cmdMu.Unlock()
	if err != nil {
		return 0, fmt.Errorf("set duty %s: %w", d.id, err)
	}
	if pct > 0 {
		d.lastOnPct.Store(int32(pct))
	}
	d.refreshAfterCommand(ctx)
	return pct, nil
}

// TurnOn sets pct, or the last non-zero duty when pct is nil.
func (d *Device) TurnOn(ctx context.Context, pct *int) (int, error) {
	if pct != nil {
		return d.SetDuty(ctx, *pct)
	}
	last := int(d.lastOnPct.Load())
	if last == 0 {
		if snap, ok := d.coord.Snapshot(); ok && snap.PWM > 0 {
			last = snap.PWM
		} else {
			last = defaultTurnOnPercent
		}
	}
	return d.SetDuty(ctx, last)
}

func (d *Device) TurnOff(ctx context.Context) error {
	_, err := d.SetDuty(ctx, 0)
	return err
}

// SetLED toggles the activity LED.
func (d *Device) SetLED(ctx context.Context, enabled bool) error {
	if err := d.api.SetLED(ctx, enabled); err != nil {
		return fmt.Errorf("set led %s: %w", d.id, err)
	}
	d.refreshAfterCommand(ctx)
	return nil
}

// SetSupplyVoltage switches the fan supply between 5V and 12V.
func (d *Device) SetSupplyVoltage(ctx context.Context, is12V bool) error {
	if err := d.api.SetSupplyVoltage(ctx, is12V); err != nil {
		return fmt.Errorf("set voltage %s: %w", d.id, err)
	}
	d.refreshAfterCommand(ctx)
	return nil
}

// tryCommand implements commandPort for the controller.
func (d *Device) tryCommand(ctx context.Context, duty int) (bool, error) {
	if d.calibrating.Load() || !d.cmdMu.TryLock() {
		return false, nil
	}
	if d.calibrating.Load() {
		d.cmdMu.Unlock()
		return false, nil
	}
	err := d.api.SetPWM(ctx, duty)
	d.cmdMu.Unlock()
	if err != nil {
		return false, err
	}
	d.refreshAfterCommand(ctx)
	return true, nil
}

func (d *Device) refreshAfterCommand(ctx context.Context) {
	if err := d.coord.Refresh(ctx); err != nil {
		d.log.Warnw("refresh_after_command_failed", "error", err)
	}
}

func sleepContext(ctx context.Context, dur time.Duration) error {
	t := time.NewTimer(dur)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
