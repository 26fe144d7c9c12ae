package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"openfan_micro/internal/engine"
	"openfan_micro/internal/models"
	"openfan_micro/internal/openfan"
	"openfan_micro/internal/service"

	"github.com/gin-gonic/gin"
)

func do(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var rdr io.Reader
	if body != "" {
		rdr = bytes.NewBufferString(body)
	}
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, rdr)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, vv := range authHeader("valid") {
		for _, v := range vv {
			req.Header.Add(k, v)
		}
	}
	r.ServeHTTP(w, req)
	return w
}

func newDeviceRouter() (*gin.Engine, *mockFans, *mockMonitoring, *mockCalibration, *mockTempControl) {
	fans := &mockFans{appliedDuty: 30}
	mon := &mockMonitoring{states: map[string]service.DeviceState{
		"fan1": {ID: "fan1", Name: "Intake", Availability: models.Available},
	}}
	cal := &mockCalibration{}
	tc := &mockTempControl{}
	s := &service.Service{
		Authorization: &mockAuth{parseID: 1},
		Fans:          fans,
		Monitoring:    mon,
		Calibration:   cal,
		TempControl:   tc,
	}
	return newTestRouter(s), fans, mon, cal, tc
}

func TestDeviceRoutes_RequireAuth(t *testing.T) {
	r, _, _, _, _ := newDeviceRouter()
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/devices/fan1/state", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without auth, got %d", w.Code)
	}
}

func TestDeviceRoutes_StateAndList(t *testing.T) {
	r, _, _, _, _ := newDeviceRouter()

	w := do(r, http.MethodGet, "/api/v1/devices/fan1/state", "")
	if w.Code != http.StatusOK {
		t.Fatalf("state status=%d, body=%s", w.Code, w.Body.String())
	}
	var st service.DeviceState
	if err := json.Unmarshal(w.Body.Bytes(), &st); err != nil {
		t.Fatalf("unmarshal state: %v", err)
	}
	if st.ID != "fan1" || st.Availability != models.Available {
		t.Fatalf("unexpected state: %+v", st)
	}

	w = do(r, http.MethodGet, "/api/v1/devices/nope/state", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown device, got %d", w.Code)
	}

	w = do(r, http.MethodGet, "/api/v1/devices", "")
	var list struct {
		Count int `json:"count"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &list)
	if w.Code != http.StatusOK || list.Count != 1 {
		t.Fatalf("list status=%d body=%s", w.Code, w.Body.String())
	}

	w = do(r, http.MethodGet, "/api/v1/devices/fan1/diagnostics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("diagnostics status=%d", w.Code)
	}
}

func TestDeviceRoutes_SetDuty(t *testing.T) {
	r, fans, _, _, _ := newDeviceRouter()

	w := do(r, http.MethodPost, "/api/v1/devices/fan1/duty", `{"percent":10}`)
	if w.Code != http.StatusOK {
		t.Fatalf("duty status=%d, body=%s", w.Code, w.Body.String())
	}
	if fans.dutyCalls != 1 || fans.lastID != "fan1" || fans.lastDuty != 10 {
		t.Fatalf("SetDuty not called as expected: %+v", fans)
	}
	var resp struct {
		Status  string              `json:"status"`
		Applied int                 `json:"applied"`
		State   service.DeviceState `json:"state"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Status != statusApplied || resp.Applied != 30 || resp.State.ID != "fan1" {
		t.Fatalf("bad response: %+v", resp)
	}

	// percent is required; zero is allowed
	w = do(r, http.MethodPost, "/api/v1/devices/fan1/duty", `{}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing percent, got %d", w.Code)
	}
	w = do(r, http.MethodPost, "/api/v1/devices/fan1/duty", `{"percent":0}`)
	if w.Code != http.StatusOK || fans.lastDuty != 0 {
		t.Fatalf("expected zero duty accepted, got %d", w.Code)
	}
}

func TestDeviceRoutes_OnOffLEDVoltage(t *testing.T) {
	r, fans, _, _, _ := newDeviceRouter()

	if w := do(r, http.MethodPost, "/api/v1/devices/fan1/on", ""); w.Code != http.StatusOK {
		t.Fatalf("on status=%d body=%s", w.Code, w.Body.String())
	}
	if fans.onCalls != 1 || fans.lastOnPct != nil {
		t.Fatalf("TurnOn without body should pass nil pct: %+v", fans.lastOnPct)
	}
	if w := do(r, http.MethodPost, "/api/v1/devices/fan1/on", `{"percent":70}`); w.Code != http.StatusOK {
		t.Fatalf("on status=%d", w.Code)
	}
	if fans.lastOnPct == nil || *fans.lastOnPct != 70 {
		t.Fatalf("TurnOn pct = %v", fans.lastOnPct)
	}
	if w := do(r, http.MethodPost, "/api/v1/devices/fan1/off", ""); w.Code != http.StatusOK || fans.offCalls != 1 {
		t.Fatalf("off status=%d calls=%d", w.Code, fans.offCalls)
	}
	if w := do(r, http.MethodPost, "/api/v1/devices/fan1/led", `{"enabled":false}`); w.Code != http.StatusOK {
		t.Fatalf("led status=%d", w.Code)
	}
	if fans.lastLED == nil || *fans.lastLED {
		t.Fatalf("SetLED enabled = %v", fans.lastLED)
	}
	if w := do(r, http.MethodPost, "/api/v1/devices/fan1/voltage", `{"volts":12}`); w.Code != http.StatusOK || fans.lastVolts != 12 {
		t.Fatalf("voltage status=%d volts=%d", w.Code, fans.lastVolts)
	}
}

func TestDeviceRoutes_ErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"not found", fmt.Errorf("%w: fan9", service.ErrDeviceNotFound), http.StatusNotFound},
		{"validation", service.ErrInvalidVoltage, http.StatusBadRequest},
		{"calibrating", engine.ErrCalibrationInProgress, http.StatusConflict},
		{"transport", &openfan.TransportError{Op: "set_pwm", URL: "http://fan", Err: errors.New("timeout")}, http.StatusBadGateway},
		{"protocol", &openfan.ProtocolError{Op: "get_status", Path: "/api/v0/fan/status", Reason: "bad json"}, http.StatusBadGateway},
		{"other", errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r, fans, _, _, _ := newDeviceRouter()
			fans.err = tc.err
			w := do(r, http.MethodPost, "/api/v1/devices/fan1/off", "")
			if w.Code != tc.want {
				t.Fatalf("status=%d, want %d (body=%s)", w.Code, tc.want, w.Body.String())
			}
		})
	}
}

func TestDeviceRoutes_CalibrateDefaults(t *testing.T) {
	r, _, _, cal, _ := newDeviceRouter()
	cal.res = models.CalibrationResult{MinPWM: 30, Achieved: true, FoundAt: 25}

	w := do(r, http.MethodPost, "/api/v1/devices/fan1/calibrate", "")
	if w.Code != http.StatusOK {
		t.Fatalf("calibrate status=%d body=%s", w.Code, w.Body.String())
	}
	if cal.lastParams != engine.DefaultCalibration {
		t.Fatalf("params = %+v, want defaults", cal.lastParams)
	}
	var res models.CalibrationResult
	_ = json.Unmarshal(w.Body.Bytes(), &res)
	if !res.Achieved || res.MinPWM != 30 {
		t.Fatalf("result = %+v", res)
	}

	w = do(r, http.MethodPost, "/api/v1/devices/fan1/calibrate", `{"from":20,"to":60,"margin":0}`)
	if w.Code != http.StatusOK {
		t.Fatalf("calibrate status=%d", w.Code)
	}
	want := models.CalibrationParams{From: 20, To: 60, Step: 5, RPMThreshold: 100, Margin: 0}
	if cal.lastParams != want {
		t.Fatalf("params = %+v, want %+v", cal.lastParams, want)
	}

	w = do(r, http.MethodPost, "/api/v1/devices/fan1/calibrate", `{"from":0,"to":20}`)
	if w.Code != http.StatusOK {
		t.Fatalf("calibrate status=%d", w.Code)
	}
	if cal.lastParams.From != 0 || cal.lastParams.To != 20 {
		t.Fatalf("sweep should start at 0%%: %+v", cal.lastParams)
	}
}

func TestDeviceRoutes_TempControl(t *testing.T) {
	r, _, _, _, tc := newDeviceRouter()
	tc.settings = models.DeviceSettings{ID: "fan1", Host: "10.0.0.7", TempSource: "mqtt:rack/temp"}

	w := do(r, http.MethodPut, "/api/v1/devices/fan1/temp-control", `{"source":"mqtt:rack/temp","deadband_pct":2}`)
	if w.Code != http.StatusOK {
		t.Fatalf("set status=%d body=%s", w.Code, w.Body.String())
	}
	if tc.lastParams.Source == nil || *tc.lastParams.Source != "mqtt:rack/temp" {
		t.Fatalf("source = %v", tc.lastParams.Source)
	}
	if tc.lastParams.Curve != nil || tc.lastParams.DeadbandPct == nil || *tc.lastParams.DeadbandPct != 2 {
		t.Fatalf("partial params = %+v", tc.lastParams)
	}
	if bytes.Contains(w.Body.Bytes(), []byte("10.0.0.7")) {
		t.Fatalf("host leaked: %s", w.Body.String())
	}

	if w := do(r, http.MethodDelete, "/api/v1/devices/fan1/temp-control", ""); w.Code != http.StatusOK || tc.clearCalls != 1 {
		t.Fatalf("clear status=%d calls=%d", w.Code, tc.clearCalls)
	}

	if w := do(r, http.MethodPost, "/api/v1/devices/fan1/temperature", `{"value":47.5}`); w.Code != http.StatusAccepted || tc.lastValue != 47.5 {
		t.Fatalf("push status=%d value=%v", w.Code, tc.lastValue)
	}

	tc.err = service.ErrSourceNotPush
	if w := do(r, http.MethodPost, "/api/v1/devices/fan1/temperature", `{"value":40}`); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for non-push source, got %d", w.Code)
	}
}

func TestDeviceRoutes_Polling(t *testing.T) {
	pol := &mockPolling{settings: models.DeviceSettings{ID: "fan1", Host: "10.0.0.7", PollIntervalSec: 10}}
	r := newTestRouter(&service.Service{Authorization: &mockAuth{parseID: 1}, Polling: pol})

	w := do(r, http.MethodPut, "/api/v1/devices/fan1/polling", `{"poll_interval":10}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	if pol.lastID != "fan1" || pol.lastParams.PollIntervalSec == nil || *pol.lastParams.PollIntervalSec != 10 {
		t.Fatalf("params = %+v", pol.lastParams)
	}
	if pol.lastParams.FailureThreshold != nil || pol.lastParams.StallThreshold != nil {
		t.Fatalf("omitted fields set: %+v", pol.lastParams)
	}
	if bytes.Contains(w.Body.Bytes(), []byte("10.0.0.7")) {
		t.Fatalf("host leaked: %s", w.Body.String())
	}

	pol.err = fmt.Errorf("%w: poll_interval 1 outside 2..60", service.ErrInvalidSettings)
	if w := do(r, http.MethodPut, "/api/v1/devices/fan1/polling", `{"poll_interval":1}`); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if w := do(r, http.MethodPut, "/api/v1/devices/fan1/polling", `{`); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad body, got %d", w.Code)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "openfan_up 1\n")
	})
	gin.SetMode(gin.TestMode)
	r := NewHandler(&service.Service{}, metrics, nil).InitRoutes()

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("health status=%d", w.Code)
	}
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK || w.Body.String() != "openfan_up 1\n" {
		t.Fatalf("metrics status=%d body=%q", w.Code, w.Body.String())
	}
}
