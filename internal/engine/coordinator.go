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

// Defaults applied when a config field is left at its zero value.
const (
	DefaultPollInterval     = 5 * time.Second
	DefaultFailureThreshold = 3
	DefaultStallThreshold   = 3
)

// CoordinatorConfig tunes a single device's poll loop.
type CoordinatorConfig struct {
	PollInterval     time.Duration
	FailureThreshold int
	StallThreshold   int
	// MinPWM is the stall floor: a fan commanded above it that reports 0 RPM is stalling.
	MinPWM int
}

func (c CoordinatorConfig) withDefaults() CoordinatorConfig {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.FailureThreshold < 1 {
		c.FailureThreshold = DefaultFailureThreshold
	}
	if c.StallThreshold < 1 {
		c.StallThreshold = DefaultStallThreshold
	}
	c.MinPWM = max(0, c.MinPWM)
	return c
}

// Coordinator polls one device, publishes snapshots and tracks availability
// and stall state. Poll cycles never overlap.
type Coordinator struct {
	deviceID string
	api      DeviceAPI
	notifier Notifier
	log      *logger.Logger
	now      func() time.Time

	cfgMu sync.RWMutex
	cfg   CoordinatorConfig

	cycleMu sync.Mutex
	// guarded by cycleMu
	failures     int
	stallCount   int
	notified     bool
	availability models.Availability
	lastErr      string
	lastSuccess  time.Time

	snapshot atomic.Pointer[models.PollSnapshot]
	health   atomic.Pointer[models.PollHealth]
}

// NewCoordinator builds a coordinator. A nil notifier discards transitions.
func NewCoordinator(deviceID string, api DeviceAPI, cfg CoordinatorConfig, notifier Notifier, log *logger.Logger) *Coordinator {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if log == nil {
		log = logger.NewNop()
	}
	c := &Coordinator{
		deviceID:     deviceID,
		api:          api,
		notifier:     notifier,
		log:          log,
		now:          time.Now,
		cfg:          cfg.withDefaults(),
		availability: models.Available,
	}
	c.publishHealth()
	return c
}

// Config returns the active configuration.
func (c *Coordinator) Config() CoordinatorConfig {
	c.cfgMu.RLock()
	defer c.cfgMu.RUnlock()
	return c.cfg
}

// SetConfig replaces the configuration; it applies from the next cycle.
func (c *Coordinator) SetConfig(cfg CoordinatorConfig) {
	c.cfgMu.Lock()
	c.cfg = cfg.withDefaults()
	c.cfgMu.Unlock()
}

// SetMinPWM updates only the stall floor.
func (c *Coordinator) SetMinPWM(minPWM int) {
	c.cfgMu.Lock()
	c.cfg.MinPWM = max(0, minPWM)
	c.cfgMu.Unlock()
}

// Snapshot returns the latest successful poll, if any.
func (c *Coordinator) Snapshot() (models.PollSnapshot, bool) {
	s := c.snapshot.Load()
	if s == nil {
		return models.PollSnapshot{}, false
	}
	return *s, true
}

// Health returns the current failure and stall counters.
func (c *Coordinator) Health() models.PollHealth {
	return *c.health.Load()
}

// Refresh runs one poll cycle, waiting for any cycle already in flight.
func (c *Coordinator) Refresh(ctx context.Context) error {
	c.cycleMu.Lock()
	defer c.cycleMu.Unlock()
	return c.cycle(ctx)
}

// tryRefresh runs a cycle unless one is in flight, in which case the request
// is coalesced into the running cycle.
func (c *Coordinator) tryRefresh(ctx context.Context) (bool, error) {
	if !c.cycleMu.TryLock() {
		return false, nil
	}
	defer c.cycleMu.Unlock()
	return true, c.cycle(ctx)
}

// Run polls until ctx is cancelled. The first cycle runs immediately.
func (c *Coordinator) Run(ctx context.Context) {
	interval := c.Config().PollInterval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.tick(ctx)
			if next := c.Config().PollInterval; next != interval {
				interval = next
				ticker.Reset(interval)
				c.log.Infow("poll_interval_changed", "interval", interval)
			}
		}
	}
}

func (c *Coordinator) tick(ctx context.Context) {
	ran, err := c.tryRefresh(ctx)
	if !ran {
		c.log.Debugw("poll_coalesced")
		return
	}
	if err != nil && ctx.Err() == nil {
		c.log.Warnw("poll_failed", "error", err)
	}
}

func (c *Coordinator) cycle(ctx context.Context) error {
	cfg := c.Config()

	status, err := c.api.GetStatus(ctx)
	if err != nil {
		c.recordFailure(ctx, cfg, err)
		return fmt.Errorf("poll %s: %w", c.deviceID, err)
	}

	supply, supplyErr := c.api.GetSupplyStatus(ctx)
	if supplyErr != nil {
		c.log.Debugw("supply_status_unavailable", "error", supplyErr)
		supply = models.SupplyStatus{}
	}

	prev := c.availability
	c.failures = 0
	c.availability = models.Available
	c.lastErr = ""
	c.lastSuccess = c.now()

	stalling := status.PWMPercent > cfg.MinPWM && status.RPM == 0
	if stalling {
		c.stallCount++
	} else {
		c.stallCount = 0
	}
	stalled := c.stallCount >= cfg.StallThreshold

	snap := models.PollSnapshot{
		RPM:        status.RPM,
		PWM:        status.PWMPercent,
		LEDEnabled: supply.LEDEnabled,
		Is12V:      supply.Is12V,
		SupplyOK:   supplyErr == nil,
		Stalled:    stalled,
		Timestamp:  c.lastSuccess,
	}
	c.snapshot.Store(&snap)

	var stallEvent, clearEvent bool
	switch {
	case stalled && !c.notified:
		c.notified = true
		stallEvent = true
	case !stalling && c.notified:
		c.notified = false
		clearEvent = true
	}
	c.publishHealth()

	if prev != models.Available {
		c.log.Infow("device_available", "previous", prev)
		c.notifier.AvailabilityChanged(ctx, c.deviceID, prev, models.Available, nil)
	}
	if stallEvent {
		c.log.Warnw("fan_stall_detected", "pwm", snap.PWM, "rpm", snap.RPM, "cycles", c.stallCount)
		c.notifier.StallDetected(ctx, c.deviceID, snap)
	}
	if clearEvent {
		c.log.Infow("fan_stall_cleared", "pwm", snap.PWM, "rpm", snap.RPM)
		c.notifier.StallCleared(ctx, c.deviceID, snap)
	}
	return nil
}

func (c *Coordinator) recordFailure(ctx context.Context, cfg CoordinatorConfig, err error) {
	prev := c.availability
	c.failures++
	c.lastErr = err.Error()
	if c.failures >= cfg.FailureThreshold {
		c.availability = models.Unavailable
	} else {
		c.availability = models.Degraded
	}
	c.publishHealth()

	if prev != c.availability {
		c.log.Warnw("device_availability_changed",
			"from", prev, "to", c.availability, "failures", c.failures, "error", err)
		c.notifier.AvailabilityChanged(ctx, c.deviceID, prev, c.availability, err)
	}
}

func (c *Coordinator) publishHealth() {
	cfg := c.Config()
	h := models.PollHealth{
		Availability:        c.availability,
		ConsecutiveFailures: c.failures,
		ForcedUnavailable:   c.failures >= cfg.FailureThreshold,
		ConsecutiveStall:    c.stallCount,
		StallNotified:       c.notified,
		LastError:           c.lastErr,
		LastSuccess:         c.lastSuccess,
	}
	c.health.Store(&h)
}
