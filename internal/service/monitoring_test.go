package service

import (
	"context"
	"errors"
	"testing"

	"openfan_micro/internal/config"
)

func TestMonitoringService_GetState(t *testing.T) {
	h := newHarness(t)
	h.register(t, "fan1", func(d *config.DeviceConfig) { d.Name = "Intake" })
	svc := NewMonitoringService(h.registry)
	ctx := context.Background()

	st, err := svc.GetState(ctx, "fan1")
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	if st.Snapshot != nil {
		t.Fatalf("snapshot before first poll: %+v", st.Snapshot)
	}
	if st.Name != "Intake" {
		t.Fatalf("name = %q", st.Name)
	}

	dev, _, _ := h.registry.Resolve("fan1")
	if err := dev.Refresh(ctx); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	st, err = svc.GetState(ctx, "fan1")
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	if st.Snapshot == nil || !st.Snapshot.SupplyOK {
		t.Fatalf("snapshot after poll = %+v", st.Snapshot)
	}
}

func TestMonitoringService_ListDevices(t *testing.T) {
	h := newHarness(t)
	h.register(t, "b", nil)
	h.register(t, "a", nil)
	svc := NewMonitoringService(h.registry)

	list, err := svc.ListDevices(context.Background())
	if err != nil {
		t.Fatalf("ListDevices: %v", err)
	}
	if len(list) != 2 || list[0].ID != "a" || list[1].ID != "b" {
		t.Fatalf("list = %+v", list)
	}
}

func TestMonitoringService_DiagnosticsRedactsHost(t *testing.T) {
	h := newHarness(t)
	h.register(t, "fan1", func(d *config.DeviceConfig) { d.TempSource = "push:cpu" })
	svc := NewMonitoringService(h.registry)

	d, err := svc.Diagnostics(context.Background(), "fan1")
	if err != nil {
		t.Fatalf("Diagnostics: %v", err)
	}
	if d.Settings.Host != redacted {
		t.Fatalf("host not redacted: %q", d.Settings.Host)
	}
	if d.BoundSource != "push:cpu" {
		t.Fatalf("bound source = %q", d.BoundSource)
	}
	_, s, _ := h.registry.Resolve("fan1")
	if s.Host != "fan1.local" {
		t.Fatalf("redaction leaked into registry: %q", s.Host)
	}
}

func TestMonitoringService_Unknown(t *testing.T) {
	h := newHarness(t)
	svc := NewMonitoringService(h.registry)
	if _, err := svc.GetState(context.Background(), "x"); !errors.Is(err, ErrDeviceNotFound) {
		t.Fatalf("expected ErrDeviceNotFound, got %v", err)
	}
}
