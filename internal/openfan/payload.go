package openfan

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"openfan_micro/internal/models"
)

// Keys that mark a status container. The PWM keys are listed in lookup priority.
var (
	rpmKey  = "rpm"
	pwmKeys = []string{"pwm_percent", "pwm", "pwm_value"}
)

// truthyTokens is the full set of string encodings the firmware uses for "true".
var truthyTokens = map[string]struct{}{
	"true": {},
	"1":    {},
	"yes":  {},
	"on":   {},
}

// parseBoolToken interprets a loosely typed device flag. Anything outside
// truthyTokens, including a missing value, is false.
func parseBoolToken(v any) bool {
	if v == nil {
		return false
	}
	var s string
	switch t := v.(type) {
	case string:
		s = t
	case bool:
		return t
	case json.Number:
		s = t.String()
	case float64:
		s = strconv.FormatFloat(t, 'f', -1, 64)
	default:
		s = fmt.Sprint(t)
	}
	_, ok := truthyTokens[strings.ToLower(strings.TrimSpace(s))]
	return ok
}

// coerceInt converts a JSON scalar via float then truncation. Failures yield 0.
func coerceInt(v any) int {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case json.Number:
		parsed, err := t.Float64()
		if err != nil {
			return 0
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0
		}
		f = parsed
	case int:
		return t
	default:
		return 0
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return int(f)
}

func hasStatusFields(m map[string]any) bool {
	if _, ok := m[rpmKey]; ok {
		return true
	}
	for _, k := range pwmKeys {
		if _, ok := m[k]; ok {
			return true
		}
	}
	return false
}

// parseStatusPayload accepts fields at top level or nested one level under
// "data". The nested container is used only when the top level carries none
// of the status fields.
func parseStatusPayload(payload map[string]any) models.DeviceStatus {
	container := payload
	if !hasStatusFields(container) {
		nested, _ := payload["data"].(map[string]any)
		container = nested
	}

	var rpmRaw, pwmRaw any
	if container != nil {
		rpmRaw = container[rpmKey]
		for _, k := range pwmKeys {
			if v, ok := container[k]; ok {
				pwmRaw = v
				break
			}
		}
	}

	return models.DeviceStatus{
		RPM:        max(0, coerceInt(rpmRaw)),
		PWMPercent: ClampPercent(coerceInt(pwmRaw)),
	}
}

// parseSupplyPayload extracts LED and 12V flags from the openfan/status body.
func parseSupplyPayload(payload map[string]any) models.SupplyStatus {
	data, _ := payload["data"].(map[string]any)
	return models.SupplyStatus{
		LEDEnabled: parseBoolToken(data["act_led_enabled"]),
		Is12V:      parseBoolToken(data["fan_is_12v"]),
	}
}

// statusOK reports whether a body "status" field signals success. A missing
// field counts as ok; an empty one only when allowEmpty is set.
func statusOK(payload map[string]any, allowEmpty bool) (bool, string) {
	raw, present := payload["status"]
	if !present {
		return true, ""
	}
	s := strings.ToLower(strings.TrimSpace(fmt.Sprint(raw)))
	switch s {
	case "ok", "success":
		return true, s
	case "":
		return allowEmpty, s
	}
	return false, s
}

// ClampPercent bounds a duty cycle to 0..100.
func ClampPercent(v int) int {
	return min(100, max(0, v))
}
