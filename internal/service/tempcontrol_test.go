package service

import (
	"context"
	"errors"
	"math"
	"testing"

	"openfan_micro/internal/config"
	"openfan_micro/internal/models"
	"openfan_micro/internal/tempsource"
)

func ptr[T any](v T) *T { return &v }

func calibrated(d *config.DeviceConfig) {
	d.MinPWM = 20
	d.MinPWMCalibrated = true
}

func TestTempControlService_SetBindsAndPersists(t *testing.T) {
	h := newHarness(t)
	h.register(t, "fan1", calibrated)
	svc := NewTempControlService(h.registry, h.sources, h.notifier)

	got, err := svc.SetTempControl(context.Background(), "fan1", TempControlParams{
		Source:      ptr("push:cpu"),
		Curve:       ptr("40=20, 70=100"),
		DeadbandPct: ptr(0),
	})
	if err != nil {
		t.Fatalf("SetTempControl: %v", err)
	}
	if got.TempSource != "push:cpu" || got.TempCurve != "40=20, 70=100" || got.TempDeadbandPct != 0 {
		t.Fatalf("settings = %+v", got)
	}
	if got.TempIntegrateSec != config.DefaultIntegrateSeconds {
		t.Fatalf("untouched field changed: %d", got.TempIntegrateSec)
	}

	saved, _, _ := h.devices.Get(context.Background(), "fan1")
	if saved.TempSource != "push:cpu" {
		t.Fatalf("not persisted: %+v", saved)
	}
	if ref, ok := h.sources.Bound("fan1"); !ok || ref.String() != "push:cpu" {
		t.Fatalf("binding = %v %v", ref, ok)
	}
	dev, _, _ := h.registry.Resolve("fan1")
	if st := dev.ControllerState(); !st.Active || st.Source != "push:cpu" {
		t.Fatalf("controller = %+v", st)
	}
	if types := h.events.types(); len(types) != 1 || types[0] != models.EventTempControl {
		t.Fatalf("events = %v", types)
	}
}

func TestTempControlService_InvalidCurve(t *testing.T) {
	h := newHarness(t)
	h.register(t, "fan1", calibrated)
	svc := NewTempControlService(h.registry, h.sources, h.notifier)

	_, err := svc.SetTempControl(context.Background(), "fan1", TempControlParams{Curve: ptr("70=50, 40=20")})
	if !IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	_, s, _ := h.registry.Resolve("fan1")
	if s.TempCurve != config.DefaultCurve {
		t.Fatalf("curve changed to %q", s.TempCurve)
	}
}

func TestTempControlService_InvalidSource(t *testing.T) {
	h := newHarness(t)
	h.register(t, "fan1", calibrated)
	svc := NewTempControlService(h.registry, h.sources, h.notifier)

	_, err := svc.SetTempControl(context.Background(), "fan1", TempControlParams{Source: ptr("thermometer")})
	if !errors.Is(err, tempsource.ErrInvalidSource) {
		t.Fatalf("expected ErrInvalidSource, got %v", err)
	}
}

func TestTempControlService_BindFailureRestores(t *testing.T) {
	h := newHarness(t)
	h.register(t, "fan1", func(d *config.DeviceConfig) {
		calibrated(d)
		d.TempSource = "push:cpu"
	})
	svc := NewTempControlService(h.registry, h.sources, h.notifier)

	// no host sensor reader is configured in the harness
	_, err := svc.SetTempControl(context.Background(), "fan1", TempControlParams{
		Source: ptr("sensor:coretemp"),
		Curve:  ptr("30=10, 80=100"),
	})
	if !errors.Is(err, tempsource.ErrUnsupportedSource) {
		t.Fatalf("expected ErrUnsupportedSource, got %v", err)
	}
	_, s, _ := h.registry.Resolve("fan1")
	if s.TempSource != "push:cpu" || s.TempCurve != config.DefaultCurve {
		t.Fatalf("settings not restored: %+v", s)
	}
	saved, _, _ := h.devices.Get(context.Background(), "fan1")
	if saved.TempSource != "push:cpu" {
		t.Fatalf("persisted settings not restored: %+v", saved)
	}
	if ref, ok := h.sources.Bound("fan1"); !ok || ref.String() != "push:cpu" {
		t.Fatalf("binding = %v %v", ref, ok)
	}
	dev, _, _ := h.registry.Resolve("fan1")
	if st := dev.ControllerState(); !st.Active || st.Source != "push:cpu" {
		t.Fatalf("controller = %+v", st)
	}
}

func TestTempControlService_Clear(t *testing.T) {
	h := newHarness(t)
	h.register(t, "fan1", func(d *config.DeviceConfig) {
		calibrated(d)
		d.TempSource = "push:cpu"
	})
	svc := NewTempControlService(h.registry, h.sources, h.notifier)

	if err := svc.ClearTempControl(context.Background(), "fan1"); err != nil {
		t.Fatalf("ClearTempControl: %v", err)
	}
	if _, ok := h.sources.Bound("fan1"); ok {
		t.Fatalf("source still bound")
	}
	dev, s, _ := h.registry.Resolve("fan1")
	if s.TempSource != "" || dev.ControllerState().Active {
		t.Fatalf("settings=%+v control=%+v", s, dev.ControllerState())
	}
}

func TestTempControlService_PushTemperature(t *testing.T) {
	h := newHarness(t)
	h.register(t, "fan1", func(d *config.DeviceConfig) {
		calibrated(d)
		d.TempSource = "push:cpu"
	})
	h.register(t, "fan2", nil)
	svc := NewTempControlService(h.registry, h.sources, h.notifier)
	ctx := context.Background()

	if err := svc.PushTemperature(ctx, "fan1", 48.5); err != nil {
		t.Fatalf("PushTemperature: %v", err)
	}
	if v, ok := h.sources.LastValue("push:cpu"); !ok || v != 48.5 {
		t.Fatalf("last value = %v %v", v, ok)
	}

	if err := svc.PushTemperature(ctx, "fan2", 40); !errors.Is(err, ErrSourceNotPush) {
		t.Fatalf("expected ErrSourceNotPush, got %v", err)
	}
	if err := svc.PushTemperature(ctx, "fan1", math.NaN()); !errors.Is(err, tempsource.ErrInvalidReading) {
		t.Fatalf("expected ErrInvalidReading, got %v", err)
	}
}

func TestTempControlService_NormalizesCurve(t *testing.T) {
	h := newHarness(t)
	h.register(t, "fan1", calibrated)
	svc := NewTempControlService(h.registry, h.sources, h.notifier)

	got, err := svc.SetTempControl(context.Background(), "fan1", TempControlParams{Curve: ptr(" 40 = 20,70=120 ,")})
	if err != nil {
		t.Fatalf("SetTempControl: %v", err)
	}
	if got.TempCurve != "40=20, 70=100" {
		t.Fatalf("curve = %q", got.TempCurve)
	}
}

func TestTempControlService_RetriesFailedStartupBinding(t *testing.T) {
	h := newHarness(t)
	h.register(t, "fan1", func(d *config.DeviceConfig) {
		calibrated(d)
		d.TempSource = "sensor:coretemp"
	})
	svc := NewTempControlService(h.registry, h.sources, h.notifier)

	// the source is still unavailable; the curve update goes through and the
	// controller stays inactive
	got, err := svc.SetTempControl(context.Background(), "fan1", TempControlParams{Curve: ptr("30=10, 80=100")})
	if err != nil {
		t.Fatalf("SetTempControl: %v", err)
	}
	if got.TempSource != "sensor:coretemp" || got.TempCurve != "30=10, 80=100" {
		t.Fatalf("settings = %+v", got)
	}
	dev, _, _ := h.registry.Resolve("fan1")
	if st := dev.ControllerState(); st.Active {
		t.Fatalf("controller active without a bound source: %+v", st)
	}
}
