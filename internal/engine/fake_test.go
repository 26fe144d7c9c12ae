package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"openfan_micro/internal/models"
)

type fakeAPI struct {
	mu          sync.Mutex
	pwm         int
	rpm         int
	rpmFor      func(pwm int) int
	supply      models.SupplyStatus
	statusErr   error
	supplyErr   error
	setErr      error
	setCalls    []int
	statusCalls int
	ledCalls    []bool
	voltCalls   []bool
}

func (f *fakeAPI) GetStatus(context.Context) (models.DeviceStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls++
	if f.statusErr != nil {
		return models.DeviceStatus{}, f.statusErr
	}
	rpm := f.rpm
	if f.rpmFor != nil {
		rpm = f.rpmFor(f.pwm)
	}
	return models.DeviceStatus{RPM: rpm, PWMPercent: f.pwm}, nil
}

func (f *fakeAPI) SetPWM(_ context.Context, value int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return f.setErr
	}
	f.setCalls = append(f.setCalls, value)
	f.pwm = value
	return nil
}

func (f *fakeAPI) GetSupplyStatus(context.Context) (models.SupplyStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.supplyErr != nil {
		return models.SupplyStatus{}, f.supplyErr
	}
	return f.supply, nil
}

func (f *fakeAPI) SetLED(_ context.Context, enabled bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ledCalls = append(f.ledCalls, enabled)
	f.supply.LEDEnabled = enabled
	return nil
}

func (f *fakeAPI) SetSupplyVoltage(_ context.Context, is12V bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.voltCalls = append(f.voltCalls, is12V)
	f.supply.Is12V = is12V
	return nil
}

func (f *fakeAPI) set(fn func(f *fakeAPI)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeAPI) calls() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.setCalls...)
}

type recordingNotifier struct {
	mu          sync.Mutex
	stalls      int
	clears      int
	transitions []string
}

func (n *recordingNotifier) StallDetected(context.Context, string, models.PollSnapshot) {
	n.mu.Lock()
	n.stalls++
	n.mu.Unlock()
}

func (n *recordingNotifier) StallCleared(context.Context, string, models.PollSnapshot) {
	n.mu.Lock()
	n.clears++
	n.mu.Unlock()
}

func (n *recordingNotifier) AvailabilityChanged(_ context.Context, _ string, from, to models.Availability, _ error) {
	n.mu.Lock()
	n.transitions = append(n.transitions, fmt.Sprintf("%s->%s", from, to))
	n.mu.Unlock()
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func noSleep(context.Context, time.Duration) error { return nil }
