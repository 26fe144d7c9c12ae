package openfan

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"openfan_micro/internal/logger"
	"openfan_micro/internal/models"
)

const (
	// DefaultRequestTimeout bounds every device request.
	DefaultRequestTimeout = 5 * time.Second

	maxBodyBytes = 64 << 10
)

// Candidate endpoints in the order they are tried. Firmware revisions disagree
// on whether the fan index is part of the path.
var (
	statusPaths = []string{"/api/v0/fan/status", "/api/v0/fan/0/status"}
	setPWMPaths = []string{"/api/v0/fan/0/set", "/api/v0/fan/set"}
)

const (
	supplyStatusPath = "/api/v0/openfan/status"
	ledEnablePath    = "/api/v0/led/enable"
	ledDisablePath   = "/api/v0/led/disable"
	voltageHighPath  = "/api/v0/fan/voltage/high"
	voltageLowPath   = "/api/v0/fan/voltage/low"
)

// Client talks to one OpenFAN Micro board. It holds no state beyond the
// connection parameters and is safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	log        *logger.Logger
}

// NewClient builds a client for host ("10.0.0.7", "fan.local:8080" or a full
// http URL). A zero timeout selects DefaultRequestTimeout.
func NewClient(host string, timeout time.Duration, log *logger.Logger) (*Client, error) {
	host = strings.TrimSpace(host)
	if host == "" {
		return nil, errors.New("openfan host is required")
	}
	if !strings.Contains(host, "://") {
		host = "http://" + host
	}
	if _, err := url.Parse(host); err != nil {
		return nil, fmt.Errorf("openfan host %q: %w", host, err)
	}
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Client{
		baseURL:    strings.TrimRight(host, "/"),
		httpClient: &http.Client{Timeout: timeout},
		log:        log,
	}, nil
}

// GetStatus reads RPM and PWM, trying the primary then the legacy endpoint.
func (c *Client) GetStatus(ctx context.Context) (models.DeviceStatus, error) {
	var lastErr error
	for _, p := range statusPaths {
		payload, err := c.getObject(ctx, "get_status", p, nil)
		if err == nil {
			if ok, got := statusOK(payload, false); !ok {
				err = &ProtocolError{Op: "get_status", Path: p, Reason: fmt.Sprintf("status %q: %v", got, payload["message"])}
			}
		}
		if err != nil {
			lastErr = err
			c.log.Debugw("get_status_candidate_failed", "path", p, "err", err)
			continue
		}
		st := parseStatusPayload(payload)
		c.log.Debugw("get_status_parsed", "path", p, "rpm", st.RPM, "pwm", st.PWMPercent)
		return st, nil
	}
	return models.DeviceStatus{}, lastErr
}

// SetPWM commands a duty cycle. The value is clamped to 0..100 before it is sent.
func (c *Client) SetPWM(ctx context.Context, value int) error {
	value = ClampPercent(value)
	q := url.Values{"value": []string{strconv.Itoa(value)}}

	var lastErr error
	for _, p := range setPWMPaths {
		body, err := c.get(ctx, "set_pwm", p, q)
		if err == nil {
			err = checkWriteBody("set_pwm", p, body)
		}
		if err != nil {
			lastErr = err
			c.log.Debugw("set_pwm_candidate_failed", "path", p, "value", value, "err", err)
			continue
		}
		return nil
	}
	return lastErr
}

// GetSupplyStatus reads the LED and supply-voltage flags.
func (c *Client) GetSupplyStatus(ctx context.Context) (models.SupplyStatus, error) {
	payload, err := c.getObject(ctx, "get_supply_status", supplyStatusPath, nil)
	if err != nil {
		return models.SupplyStatus{}, err
	}
	if ok, got := statusOK(payload, false); !ok {
		return models.SupplyStatus{}, &ProtocolError{
			Op: "get_supply_status", Path: supplyStatusPath,
			Reason: fmt.Sprintf("status %q: %v", got, payload["message"]),
		}
	}
	return parseSupplyPayload(payload), nil
}

// SetLED enables or disables the activity LED.
func (c *Client) SetLED(ctx context.Context, enabled bool) error {
	p := ledDisablePath
	if enabled {
		p = ledEnablePath
	}
	_, err := c.get(ctx, "set_led", p, nil)
	return err
}

// SetSupplyVoltage switches the fan supply between 12V and 5V.
func (c *Client) SetSupplyVoltage(ctx context.Context, is12V bool) error {
	p := voltageLowPath
	if is12V {
		p = voltageHighPath
	}
	_, err := c.get(ctx, "set_supply_voltage", p, url.Values{"confirm": []string{"true"}})
	return err
}

// checkWriteBody accepts an empty body, plain "OK" text, or a JSON object
// whose status is ok, success or empty.
func checkWriteBody(op, path string, body []byte) error {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || strings.EqualFold(string(trimmed), "ok") {
		return nil
	}
	var payload map[string]any
	if err := json.Unmarshal(trimmed, &payload); err != nil {
		return &ProtocolError{Op: op, Path: path, Reason: "unexpected body " + strconv.Quote(truncate(string(trimmed), 80)), Err: err}
	}
	if ok, got := statusOK(payload, true); !ok {
		return &ProtocolError{Op: op, Path: path, Reason: fmt.Sprintf("status %q: %v", got, payload["message"])}
	}
	return nil
}

func (c *Client) getObject(ctx context.Context, op, path string, q url.Values) (map[string]any, error) {
	body, err := c.get(ctx, op, path, q)
	if err != nil {
		return nil, err
	}
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, &ProtocolError{Op: op, Path: path, Reason: "decode json", Err: err}
	}
	if payload == nil {
		return nil, &ProtocolError{Op: op, Path: path, Reason: "expected a json object"}
	}
	return payload, nil
}

// get issues a GET and returns the body of a non-error response.
func (c *Client) get(ctx context.Context, op, path string, q url.Values) ([]byte, error) {
	endpoint := c.baseURL + path
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &TransportError{Op: op, URL: endpoint, Err: fmt.Errorf("build request: %w", err)}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Op: op, URL: endpoint, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &TransportError{Op: op, URL: endpoint, StatusCode: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}
	if resp.StatusCode >= http.StatusBadRequest {
		c.log.Warnw("device_http_error", "op", op, "path", path, "status", resp.StatusCode, "body", truncate(string(body), 200))
		return nil, &TransportError{
			Op: op, URL: endpoint, StatusCode: resp.StatusCode,
			Err: errors.New(strings.TrimSpace(truncate(string(body), 200))),
		}
	}
	return body, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
