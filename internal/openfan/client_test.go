package openfan

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

type recordedRequest struct {
	path  string
	query string
}

type fakeBoard struct {
	mu       sync.Mutex
	requests []recordedRequest
	handler  func(w http.ResponseWriter, r *http.Request)
}

func (f *fakeBoard) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.requests = append(f.requests, recordedRequest{path: r.URL.Path, query: r.URL.RawQuery})
	f.mu.Unlock()
	f.handler(w, r)
}

func (f *fakeBoard) paths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.requests))
	for _, r := range f.requests {
		out = append(out, r.path)
	}
	return out
}

func newTestClient(t *testing.T, h func(w http.ResponseWriter, r *http.Request)) (*Client, *fakeBoard) {
	t.Helper()
	board := &fakeBoard{handler: h}
	srv := httptest.NewServer(board)
	t.Cleanup(srv.Close)

	c, err := NewClient(srv.URL, 2*time.Second, nil)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c, board
}

func TestNewClient_NormalizesHost(t *testing.T) {
	c, err := NewClient(" 192.168.1.40/ ", 0, nil)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if c.baseURL != "http://192.168.1.40" {
		t.Fatalf("unexpected base url %q", c.baseURL)
	}
	if c.httpClient.Timeout != DefaultRequestTimeout {
		t.Fatalf("expected default timeout, got %v", c.httpClient.Timeout)
	}
	if _, err := NewClient("  ", 0, nil); err == nil {
		t.Fatalf("expected error for empty host")
	}
}

func TestGetStatus_PrimaryEndpoint(t *testing.T) {
	c, board := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v0/fan/status" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		_, _ = io.WriteString(w, `{"status":"ok","data":{"rpm":1500,"pwm_percent":55}}`)
	})

	st, err := c.GetStatus(context.Background())
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if st.RPM != 1500 || st.PWMPercent != 55 {
		t.Fatalf("unexpected status %+v", st)
	}
	if got := board.paths(); len(got) != 1 {
		t.Fatalf("expected one request, got %v", got)
	}
}

func TestGetStatus_FallsBackToLegacyEndpoint(t *testing.T) {
	c, board := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v0/fan/status":
			http.NotFound(w, r)
		case "/api/v0/fan/0/status":
			_, _ = io.WriteString(w, `{"status":"success","rpm":900,"pwm":30}`)
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	})

	st, err := c.GetStatus(context.Background())
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if st.RPM != 900 || st.PWMPercent != 30 {
		t.Fatalf("unexpected status %+v", st)
	}
	want := []string{"/api/v0/fan/status", "/api/v0/fan/0/status"}
	got := board.paths()
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("paths = %v, want %v", got, want)
	}
}

func TestGetStatus_BadStatusFieldFallsBackThenFailsWithLastError(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v0/fan/status":
			_, _ = io.WriteString(w, `{"status":"error","message":"busy"}`)
		default:
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = io.WriteString(w, "boom")
		}
	})

	_, err := c.GetStatus(context.Background())
	if err == nil {
		t.Fatalf("expected error")
	}
	if !IsTransport(err) {
		t.Fatalf("expected last error to be the legacy TransportError, got %T %v", err, err)
	}
}

func TestGetStatus_NonJSONIsProtocolError(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "<html>nope</html>")
	})
	_, err := c.GetStatus(context.Background())
	if !IsProtocol(err) {
		t.Fatalf("expected ProtocolError, got %T %v", err, err)
	}
}

func TestGetStatus_UnreachableIsTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := NewClient(url, 500*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	_, err = c.GetStatus(context.Background())
	if !IsTransport(err) {
		t.Fatalf("expected TransportError, got %T %v", err, err)
	}
}

func TestSetPWM_ClampsAndAcceptsPlainOK(t *testing.T) {
	var gotQuery string
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v0/fan/0/set" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		gotQuery = r.URL.Query().Get("value")
		_, _ = io.WriteString(w, "OK")
	})

	if err := c.SetPWM(context.Background(), 140); err != nil {
		t.Fatalf("SetPWM: %v", err)
	}
	if gotQuery != "100" {
		t.Fatalf("expected clamped value 100, got %q", gotQuery)
	}
	if err := c.SetPWM(context.Background(), -7); err != nil {
		t.Fatalf("SetPWM: %v", err)
	}
	if gotQuery != "0" {
		t.Fatalf("expected clamped value 0, got %q", gotQuery)
	}
}

func TestSetPWM_FallsBackToLegacyPath(t *testing.T) {
	c, board := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v0/fan/0/set":
			_, _ = io.WriteString(w, `{"status":"error","message":"unknown fan"}`)
		case "/api/v0/fan/set":
			if r.URL.Query().Get("value") != "42" {
				t.Fatalf("unexpected value %q", r.URL.Query().Get("value"))
			}
			_, _ = io.WriteString(w, `{"status":"ok"}`)
		}
	})

	if err := c.SetPWM(context.Background(), 42); err != nil {
		t.Fatalf("SetPWM: %v", err)
	}
	if got := board.paths(); len(got) != 2 {
		t.Fatalf("expected two attempts, got %v", got)
	}
}

func TestSetPWM_AllCandidatesFail(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	err := c.SetPWM(context.Background(), 50)
	if !IsTransport(err) {
		t.Fatalf("expected TransportError, got %v", err)
	}
}

func TestGetSupplyStatus(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v0/openfan/status" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		_, _ = io.WriteString(w, `{"status":"ok","data":{"act_led_enabled":"On","fan_is_12v":"0"}}`)
	})

	st, err := c.GetSupplyStatus(context.Background())
	if err != nil {
		t.Fatalf("GetSupplyStatus: %v", err)
	}
	if !st.LEDEnabled || st.Is12V {
		t.Fatalf("unexpected supply status %+v", st)
	}
}

func TestSetLEDAndVoltage_Paths(t *testing.T) {
	c, board := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v0/fan/voltage/high" || r.URL.Path == "/api/v0/fan/voltage/low" {
			if r.URL.Query().Get("confirm") != "true" {
				t.Fatalf("voltage change without confirm=true")
			}
		}
		w.WriteHeader(http.StatusOK)
	})
	ctx := context.Background()

	for _, call := range []func() error{
		func() error { return c.SetLED(ctx, true) },
		func() error { return c.SetLED(ctx, false) },
		func() error { return c.SetSupplyVoltage(ctx, true) },
		func() error { return c.SetSupplyVoltage(ctx, false) },
	} {
		if err := call(); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	want := []string{"/api/v0/led/enable", "/api/v0/led/disable", "/api/v0/fan/voltage/high", "/api/v0/fan/voltage/low"}
	got := board.paths()
	if len(got) != len(want) {
		t.Fatalf("paths = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("paths = %v, want %v", got, want)
		}
	}
}

func TestSetLED_HTTPErrorIsTransportError(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})
	if err := c.SetLED(context.Background(), true); !IsTransport(err) {
		t.Fatalf("expected TransportError, got %v", err)
	}
}
