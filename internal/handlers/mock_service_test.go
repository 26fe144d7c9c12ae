package handlers

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"openfan_micro/internal/models"
	"openfan_micro/internal/service"

	"github.com/gin-gonic/gin"
)

// ---- Service Mocks ----

type mockAuth struct {
	signUpID      int
	signUpErr     error
	genTokenToken string
	genTokenErr   error
	parseID       int
	parseErr      error

	lastSignUpUsername string
	lastSignUpPassword string
	lastGenUsername    string
	lastGenPassword    string
	lastParseToken     string
}

func (m *mockAuth) SignUp(username, password string) (int, error) {
	m.lastSignUpUsername = username
	m.lastSignUpPassword = password
	return m.signUpID, m.signUpErr
}
func (m *mockAuth) GenerateToken(username, password string) (string, error) {
	m.lastGenUsername = username
	m.lastGenPassword = password
	return m.genTokenToken, m.genTokenErr
}
func (m *mockAuth) ParseToken(token string) (int, error) {
	m.lastParseToken = token
	return m.parseID, m.parseErr
}

type mockFans struct {
	err error

	lastID      string
	lastDuty    int
	lastOnPct   *int
	lastLED     *bool
	lastVolts   int
	dutyCalls   int
	onCalls     int
	offCalls    int
	ledCalls    int
	voltCalls   int
	appliedDuty int
}

func (m *mockFans) SetDuty(_ context.Context, id string, pct int) (int, error) {
	m.dutyCalls++
	m.lastID, m.lastDuty = id, pct
	return m.appliedDuty, m.err
}
func (m *mockFans) TurnOn(_ context.Context, id string, pct *int) (int, error) {
	m.onCalls++
	m.lastID, m.lastOnPct = id, pct
	return m.appliedDuty, m.err
}
func (m *mockFans) TurnOff(_ context.Context, id string) error {
	m.offCalls++
	m.lastID = id
	return m.err
}
func (m *mockFans) SetLED(_ context.Context, id string, enabled bool) error {
	m.ledCalls++
	m.lastID, m.lastLED = id, &enabled
	return m.err
}
func (m *mockFans) SetVoltage(_ context.Context, id string, volts int) error {
	m.voltCalls++
	m.lastID, m.lastVolts = id, volts
	return m.err
}

type mockMonitoring struct {
	mu     sync.Mutex
	states map[string]service.DeviceState
	diag   service.Diagnostics
	err    error
	calls  int
}

func (m *mockMonitoring) ListDevices(context.Context) ([]service.DeviceState, error) {
	if m.err != nil {
		return nil, m.err
	}
	out := make([]service.DeviceState, 0, len(m.states))
	for _, st := range m.states {
		out = append(out, st)
	}
	return out, nil
}

func (m *mockMonitoring) GetState(_ context.Context, id string) (service.DeviceState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return service.DeviceState{}, m.err
	}
	st, ok := m.states[id]
	if !ok {
		return service.DeviceState{}, fmt.Errorf("%w: %s", service.ErrDeviceNotFound, id)
	}
	return st, nil
}

func (m *mockMonitoring) Diagnostics(_ context.Context, id string) (service.Diagnostics, error) {
	if _, ok := m.states[id]; !ok {
		return service.Diagnostics{}, fmt.Errorf("%w: %s", service.ErrDeviceNotFound, id)
	}
	return m.diag, m.err
}

// setErr swaps the error returned by subsequent calls.
func (m *mockMonitoring) setErr(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

type mockCalibration struct {
	res        models.CalibrationResult
	err        error
	lastID     string
	lastParams models.CalibrationParams
}

func (m *mockCalibration) Calibrate(_ context.Context, id string, p models.CalibrationParams) (models.CalibrationResult, error) {
	m.lastID, m.lastParams = id, p
	return m.res, m.err
}

type mockTempControl struct {
	settings   models.DeviceSettings
	err        error
	lastParams service.TempControlParams
	lastValue  float64
	clearCalls int
	pushCalls  int
}

func (m *mockTempControl) SetTempControl(_ context.Context, _ string, p service.TempControlParams) (models.DeviceSettings, error) {
	m.lastParams = p
	return m.settings, m.err
}
func (m *mockTempControl) ClearTempControl(context.Context, string) error {
	m.clearCalls++
	return m.err
}
func (m *mockTempControl) PushTemperature(_ context.Context, _ string, v float64) error {
	m.pushCalls++
	m.lastValue = v
	return m.err
}

type mockPolling struct {
	settings   models.DeviceSettings
	err        error
	lastID     string
	lastParams service.PollingParams
}

func (m *mockPolling) SetPolling(_ context.Context, id string, p service.PollingParams) (models.DeviceSettings, error) {
	m.lastID, m.lastParams = id, p
	return m.settings, m.err
}

type mockEventLog struct {
	resp       []models.DeviceEvent
	err        error
	lastFrom   time.Time
	lastTo     time.Time
	lastType   string
	lastDevice string
	lastLimit  int
}

func (m *mockEventLog) List(_ context.Context, f service.LogFilter) ([]models.DeviceEvent, error) {
	m.lastFrom = f.From
	m.lastTo = f.To
	m.lastType = f.Type
	m.lastDevice = f.DeviceID
	m.lastLimit = f.Limit
	return m.resp, m.err
}

// ---- Shared Test Helpers ----

func newTestRouter(s *service.Service) *gin.Engine {
	h := NewHandler(s, nil, nil)
	gin.SetMode(gin.TestMode)
	return h.InitRoutes()
}

func authHeader(token string) http.Header {
	h := http.Header{}
	if token != "" {
		h.Set("Authorization", "Bearer "+token)
	}
	return h
}
