package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"openfan_micro/internal/logger"
	"openfan_micro/internal/models"
)

// Floors applied to the controller timings.
const (
	minIntegrationWindow = 5 * time.Second
	minDebounce          = time.Second
	minControlTick       = 5 * time.Second
)

// Decision is the outcome of one controller evaluation.
type Decision string

const (
	DecisionGated     Decision = "gated"
	DecisionNoSample  Decision = "no_sample"
	DecisionDeadband  Decision = "deadband"
	DecisionDebounce  Decision = "debounce"
	DecisionSuspended Decision = "suspended"
	DecisionFailed    Decision = "failed"
	DecisionApplied   Decision = "applied"
)

// ControllerConfig holds the temperature control settings of one device.
type ControllerConfig struct {
	MinPWM            int
	Calibrated        bool
	Source            string
	Curve             Curve
	IntegrationWindow time.Duration
	MinUpdateInterval time.Duration
	Deadband          int
}

// Enabled reports whether the gate for automatic control is open.
func (c ControllerConfig) Enabled() bool {
	return c.Calibrated && c.MinPWM > 0 && c.Source != "" && len(c.Curve) > 0
}

// ControlTick is the period of the evaluation timer.
func (c ControllerConfig) ControlTick() time.Duration {
	return max(minControlTick, c.MinUpdateInterval)
}

// commandPort applies an automatic duty. It reports false without writing when
// command authority is held elsewhere.
type commandPort interface {
	tryCommand(ctx context.Context, duty int) (bool, error)
}

// Controller turns averaged temperature samples into duty writes.
type Controller struct {
	port      commandPort
	lastValue func(source string) (float64, bool)
	log       *logger.Logger
	now       func() time.Time

	mu            sync.Mutex
	cfg           ControllerConfig
	samples       sampleRing
	tempAvg       *float64
	lastTarget    *int
	lastApplied   *int
	lastApplyTime time.Time
	lastDecision  Decision

	state atomic.Pointer[models.ControllerState]
}

func newController(port commandPort, cfg ControllerConfig, log *logger.Logger) *Controller {
	c := &Controller{port: port, cfg: cfg, log: log, now: time.Now}
	c.publish()
	return c
}

// Config returns the active configuration.
func (c *Controller) Config() ControllerConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

// SetConfig replaces the configuration. Changing the source drops buffered samples.
func (c *Controller) SetConfig(cfg ControllerConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cfg.Source != c.cfg.Source {
		c.samples = sampleRing{}
		c.tempAvg = nil
	}
	c.cfg = cfg
	c.publish()
}

// State returns the last published diagnostic view.
func (c *Controller) State() models.ControllerState {
	return *c.state.Load()
}

// resetApplied forgets the last applied duty so the next evaluation writes
// regardless of deadband and debounce.
func (c *Controller) resetApplied() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastApplied = nil
	c.lastApplyTime = time.Time{}
	c.publish()
}

// Evaluate appends sample (if any) and runs one control decision.
func (c *Controller) Evaluate(ctx context.Context, sample *float64) (Decision, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if sample != nil {
		c.samples.append(now, *sample)
	}
	d, err := c.evaluate(ctx, now)
	c.lastDecision = d
	c.publish()
	return d, err
}

func (c *Controller) evaluate(ctx context.Context, now time.Time) (Decision, error) {
	cfg := c.cfg
	if !cfg.Enabled() {
		return DecisionGated, nil
	}

	c.samples.pruneBefore(now.Add(-max(minIntegrationWindow, cfg.IntegrationWindow)))
	avg, ok := c.samples.mean()
	if !ok && c.lastValue != nil {
		if v, found := c.lastValue(cfg.Source); found {
			c.samples.append(now, v)
			avg, ok = c.samples.mean()
		}
	}
	if !ok {
		return DecisionNoSample, nil
	}
	c.tempAvg = &avg

	target := cfg.Curve.Interpolate(avg)
	if target != 0 {
		target = max(cfg.MinPWM, target)
	}
	target = min(100, max(0, target))

	if c.lastApplied != nil && abs(target-*c.lastApplied) < max(0, cfg.Deadband) {
		c.lastTarget = &target
		return DecisionDeadband, nil
	}
	if !c.lastApplyTime.IsZero() && now.Sub(c.lastApplyTime) < max(minDebounce, cfg.MinUpdateInterval) {
		c.lastTarget = &target
		return DecisionDebounce, nil
	}

	applied, err := c.port.tryCommand(ctx, target)
	if err != nil {
		c.log.Warnw("temp_control_apply_failed", "target", target, "avg", avg, "error", err)
		return DecisionFailed, err
	}
	c.lastTarget = &target
	if !applied {
		return DecisionSuspended, nil
	}
	c.lastApplied = &target
	c.lastApplyTime = now
	c.log.Infow("temp_control_applied", "target", target, "avg", avg, "samples", c.samples.len())
	return DecisionApplied, nil
}

func (c *Controller) publish() {
	s := models.ControllerState{
		Active:        c.cfg.Enabled(),
		MinPWM:        c.cfg.MinPWM,
		Calibrated:    c.cfg.Calibrated,
		Source:        c.cfg.Source,
		TempAvg:       c.tempAvg,
		LastTarget:    c.lastTarget,
		LastApplied:   c.lastApplied,
		LastApplyTime: c.lastApplyTime,
		LastDecision:  string(c.lastDecision),
	}
	c.state.Store(&s)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
