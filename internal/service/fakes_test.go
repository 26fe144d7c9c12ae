package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"openfan_micro/internal/config"
	"openfan_micro/internal/engine"
	"openfan_micro/internal/models"
	"openfan_micro/internal/repository"
	"openfan_micro/internal/tempsource"
)

// fakeAPI is a scripted fan controller.
type fakeAPI struct {
	mu       sync.Mutex
	pwm      int
	rpmFor   func(pwm int) int
	supply   models.SupplyStatus
	setErr   error
	setCalls []int
	leds     []bool
	volts    []bool
}

func (f *fakeAPI) GetStatus(context.Context) (models.DeviceStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rpm := 0
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
	return f.supply, nil
}

func (f *fakeAPI) SetLED(_ context.Context, enabled bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leds = append(f.leds, enabled)
	f.supply.LEDEnabled = enabled
	return nil
}

func (f *fakeAPI) SetSupplyVoltage(_ context.Context, is12V bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.volts = append(f.volts, is12V)
	f.supply.Is12V = is12V
	return nil
}

func (f *fakeAPI) calls() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.setCalls...)
}

// fakeDeviceRepo keeps settings in memory.
type fakeDeviceRepo struct {
	mu      sync.Mutex
	rows    map[string]models.DeviceSettings
	saveErr error
	saves   int
}

func newFakeDeviceRepo() *fakeDeviceRepo {
	return &fakeDeviceRepo{rows: make(map[string]models.DeviceSettings)}
}

func (r *fakeDeviceRepo) Save(_ context.Context, s models.DeviceSettings) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saves++
	if r.saveErr != nil {
		return r.saveErr
	}
	r.rows[s.ID] = s
	return nil
}

func (r *fakeDeviceRepo) Get(_ context.Context, id string) (models.DeviceSettings, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.rows[id]
	return s, ok, nil
}

func (r *fakeDeviceRepo) List(context.Context) ([]models.DeviceSettings, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.DeviceSettings, 0, len(r.rows))
	for _, s := range r.rows {
		out = append(out, s)
	}
	return out, nil
}

// fakeEventRepo is a minimal stub that satisfies the repository.EventRepo interface.
type fakeEventRepo struct {
	mu sync.Mutex

	// captured inputs
	gotCtx    context.Context
	gotFilter repository.EventFilter
	appended  []models.DeviceEvent

	// configured outputs
	events []models.DeviceEvent
	err    error

	listCalls int
}

func (f *fakeEventRepo) List(ctx context.Context, filter repository.EventFilter) ([]models.DeviceEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	f.gotCtx = ctx
	f.gotFilter = filter
	return f.events, f.err
}

func (f *fakeEventRepo) Append(_ context.Context, e models.DeviceEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appended = append(f.appended, e)
	return nil
}

func (f *fakeEventRepo) types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.appended))
	for _, e := range f.appended {
		out = append(out, e.Type)
	}
	return out
}

type harness struct {
	registry *Registry
	devices  *fakeDeviceRepo
	events   *fakeEventRepo
	notifier *EventNotifier
	sources  *tempsource.Manager
	apis     map[string]*fakeAPI
}

func noSleep(context.Context, time.Duration) error { return nil }

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		devices: newFakeDeviceRepo(),
		events:  &fakeEventRepo{},
		sources: tempsource.NewManager(nil, nil, 0, nil),
		apis:    make(map[string]*fakeAPI),
	}
	h.notifier = NewEventNotifier(h.events, nil)
	factory := func(host string) (engine.DeviceAPI, error) {
		if host == "unreachable" {
			return nil, errors.New("bad host")
		}
		api := &fakeAPI{}
		h.apis[host] = api
		return api, nil
	}
	h.registry = NewRegistry(h.devices, h.sources, h.notifier, factory, nil, engine.WithSleep(noSleep))
	return h
}

func (h *harness) register(t *testing.T, id string, mutate func(*config.DeviceConfig)) *fakeAPI {
	t.Helper()
	dc := config.DeviceConfig{ID: id, Host: id + ".local"}
	if mutate != nil {
		mutate(&dc)
	}
	if err := h.registry.Register(context.Background(), dc.Settings()); err != nil {
		t.Fatalf("Register(%s): %v", id, err)
	}
	return h.apis[dc.Host]
}
