package handlers

import (
	"errors"
	"net/http"

	"openfan_micro/internal/engine"
	"openfan_micro/internal/models"
	"openfan_micro/internal/service"

	"github.com/gin-gonic/gin"
)

// Common response/status constants to avoid magic strings and typos.
const (
	statusOK      = "ok"
	statusApplied = "applied"
	statusCleared = "cleared"

	errInvalidBodyPref = "invalid body: "
	errDeviceFailure   = "fan controller request failed"
	errInternal        = "internal error"
)

// Centralized error logging and response.
func (h *Handler) logAndJSONError(c *gin.Context, httpCode int, userMsg, logKey string, err error, kv ...any) {
	if h.log != nil && err != nil {
		fields := append([]any{"err", err}, kv...)
		h.log.Errorw(logKey, fields...)
	}
	c.JSON(httpCode, gin.H{"error": userMsg})
}

// respondServiceError maps a service error to an HTTP status.
func (h *Handler) respondServiceError(c *gin.Context, logKey string, err error) {
	id := c.Param("id")
	switch {
	case errors.Is(err, service.ErrDeviceNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case service.IsValidation(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, engine.ErrCalibrationInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case service.IsDeviceFailure(err):
		h.logAndJSONError(c, http.StatusBadGateway, errDeviceFailure, logKey, err, "device", id)
	default:
		h.logAndJSONError(c, http.StatusInternalServerError, errInternal, logKey, err, "device", id)
	}
}

// respondWithState answers with status and, best effort, the device state.
func (h *Handler) respondWithState(c *gin.Context, status string, extra gin.H) {
	resp := gin.H{"status": status}
	for k, v := range extra {
		resp[k] = v
	}
	if st, err := h.services.Monitoring.GetState(c.Request.Context(), c.Param("id")); err == nil {
		resp["state"] = st
	}
	c.JSON(http.StatusOK, resp)
}

// DutyRequest sets the fan duty cycle.
type DutyRequest struct {
	// Duty in percent, 0..100. Non-zero values are raised to the device minimum.
	Percent *int `json:"percent" binding:"required" example:"40"`
}

// TurnOnRequest optionally carries the duty to turn on with.
type TurnOnRequest struct {
	Percent *int `json:"percent,omitempty" example:"50"`
}

type LEDRequest struct {
	Enabled *bool `json:"enabled" binding:"required" example:"true"`
}

type VoltageRequest struct {
	// Allowed: 5, 12
	Volts int `json:"volts" binding:"required" example:"12"`
}

// CalibrateRequest drives a minimum duty sweep. Omitted fields take the
// defaults; To, Step and RPMThreshold also treat zero as omitted.
type CalibrateRequest struct {
	From         *int `json:"from,omitempty" example:"10"`
	To           int  `json:"to,omitempty" example:"40"`
	Step         int  `json:"step,omitempty" example:"5"`
	RPMThreshold int  `json:"rpm_threshold,omitempty" example:"100"`
	Margin       *int `json:"margin,omitempty" example:"5"`
}

func (r CalibrateRequest) params() models.CalibrationParams {
	p := engine.DefaultCalibration
	if r.From != nil {
		p.From = *r.From
	}
	if r.To != 0 {
		p.To = r.To
	}
	if r.Step != 0 {
		p.Step = r.Step
	}
	if r.RPMThreshold != 0 {
		p.RPMThreshold = r.RPMThreshold
	}
	if r.Margin != nil {
		p.Margin = *r.Margin
	}
	return p
}

type TemperatureRequest struct {
	Value *float64 `json:"value" binding:"required" example:"47.5"`
}

// @Summary      Health check
// @Tags         system
// @Produce      json
// @Success      200  {object}  map[string]string
// @Router       /health [get]
func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": statusOK,
	})
}

// @Summary      List devices
// @Tags         devices
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "count, devices"
// @Failure      401  {object}  map[string]string
// @Router       /api/v1/devices [get]
// @Security     BearerAuth
func (h *Handler) listDevices(c *gin.Context) {
	list, err := h.services.Monitoring.ListDevices(c.Request.Context())
	if err != nil {
		h.respondServiceError(c, "devices_list_failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(list), "devices": list})
}

// @Summary      Get device state
// @Tags         devices
// @Produce      json
// @Param        id   path      string  true  "Device id"
// @Success      200  {object}  service.DeviceState
// @Failure      401  {object}  map[string]string
// @Failure      404  {object}  map[string]string
// @Router       /api/v1/devices/{id}/state [get]
// @Security     BearerAuth
func (h *Handler) getState(c *gin.Context) {
	st, err := h.services.Monitoring.GetState(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondServiceError(c, "device_get_state_failed", err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// @Summary      Device diagnostics
// @Description  Settings (host redacted), last snapshot, poll health and controller state.
// @Tags         devices
// @Produce      json
// @Param        id   path      string  true  "Device id"
// @Success      200  {object}  service.Diagnostics
// @Failure      401  {object}  map[string]string
// @Failure      404  {object}  map[string]string
// @Router       /api/v1/devices/{id}/diagnostics [get]
// @Security     BearerAuth
func (h *Handler) getDiagnostics(c *gin.Context) {
	d, err := h.services.Monitoring.Diagnostics(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondServiceError(c, "device_diagnostics_failed", err)
		return
	}
	c.JSON(http.StatusOK, d)
}

// @Summary      Set duty
// @Tags         fans
// @Accept       json
// @Produce      json
// @Param        id    path   string       true  "Device id"
// @Param        body  body   DutyRequest  true  "Duty payload"
// @Success      200   {object}  map[string]interface{}  "status, applied, state"
// @Failure      400   {object}  map[string]string
// @Failure      404   {object}  map[string]string
// @Failure      409   {object}  map[string]string
// @Failure      502   {object}  map[string]string
// @Router       /api/v1/devices/{id}/duty [post]
// @Security     BearerAuth
func (h *Handler) setDuty(c *gin.Context) {
	var req DutyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidBodyPref + err.Error()})
		return
	}
	applied, err := h.services.Fans.SetDuty(c.Request.Context(), c.Param("id"), *req.Percent)
	if err != nil {
		h.respondServiceError(c, "fan_set_duty_failed", err)
		return
	}
	h.respondWithState(c, statusApplied, gin.H{"applied": applied})
}

// @Summary      Turn fan on
// @Description  Without a body the last non-zero duty is restored (50% if none).
// @Tags         fans
// @Accept       json
// @Produce      json
// @Param        id    path   string         true   "Device id"
// @Param        body  body   TurnOnRequest  false  "Optional duty"
// @Success      200   {object}  map[string]interface{}
// @Failure      404   {object}  map[string]string
// @Failure      409   {object}  map[string]string
// @Failure      502   {object}  map[string]string
// @Router       /api/v1/devices/{id}/on [post]
// @Security     BearerAuth
func (h *Handler) turnOn(c *gin.Context) {
	var req TurnOnRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidBodyPref + err.Error()})
			return
		}
	}
	applied, err := h.services.Fans.TurnOn(c.Request.Context(), c.Param("id"), req.Percent)
	if err != nil {
		h.respondServiceError(c, "fan_turn_on_failed", err)
		return
	}
	h.respondWithState(c, statusApplied, gin.H{"applied": applied})
}

// @Summary      Turn fan off
// @Tags         fans
// @Produce      json
// @Param        id   path  string  true  "Device id"
// @Success      200  {object}  map[string]interface{}
// @Failure      404  {object}  map[string]string
// @Failure      409  {object}  map[string]string
// @Failure      502  {object}  map[string]string
// @Router       /api/v1/devices/{id}/off [post]
// @Security     BearerAuth
func (h *Handler) turnOff(c *gin.Context) {
	if err := h.services.Fans.TurnOff(c.Request.Context(), c.Param("id")); err != nil {
		h.respondServiceError(c, "fan_turn_off_failed", err)
		return
	}
	h.respondWithState(c, statusApplied, gin.H{"applied": 0})
}

// @Summary      Toggle activity LED
// @Tags         fans
// @Accept       json
// @Produce      json
// @Param        id    path   string      true  "Device id"
// @Param        body  body   LEDRequest  true  "LED payload"
// @Success      200   {object}  map[string]interface{}
// @Failure      400   {object}  map[string]string
// @Failure      404   {object}  map[string]string
// @Failure      502   {object}  map[string]string
// @Router       /api/v1/devices/{id}/led [post]
// @Security     BearerAuth
func (h *Handler) setLED(c *gin.Context) {
	var req LEDRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidBodyPref + err.Error()})
		return
	}
	if err := h.services.Fans.SetLED(c.Request.Context(), c.Param("id"), *req.Enabled); err != nil {
		h.respondServiceError(c, "fan_set_led_failed", err)
		return
	}
	h.respondWithState(c, statusApplied, gin.H{"led_enabled": *req.Enabled})
}

// @Summary      Set supply voltage
// @Tags         fans
// @Accept       json
// @Produce      json
// @Param        id    path   string          true  "Device id"
// @Param        body  body   VoltageRequest  true  "Voltage payload"
// @Success      200   {object}  map[string]interface{}
// @Failure      400   {object}  map[string]string
// @Failure      404   {object}  map[string]string
// @Failure      502   {object}  map[string]string
// @Router       /api/v1/devices/{id}/voltage [post]
// @Security     BearerAuth
func (h *Handler) setVoltage(c *gin.Context) {
	var req VoltageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidBodyPref + err.Error()})
		return
	}
	if err := h.services.Fans.SetVoltage(c.Request.Context(), c.Param("id"), req.Volts); err != nil {
		h.respondServiceError(c, "fan_set_voltage_failed", err)
		return
	}
	h.respondWithState(c, statusApplied, gin.H{"volts": req.Volts})
}

// @Summary      Calibrate minimum duty
// @Description  Sweeps the duty and stores the lowest duty that spins the fan plus a margin. Blocks until done.
// @Tags         calibration
// @Accept       json
// @Produce      json
// @Param        id    path   string            true   "Device id"
// @Param        body  body   CalibrateRequest  false  "Sweep parameters"
// @Success      200   {object}  models.CalibrationResult
// @Failure      400   {object}  map[string]string
// @Failure      404   {object}  map[string]string
// @Failure      409   {object}  map[string]string
// @Failure      502   {object}  map[string]string
// @Router       /api/v1/devices/{id}/calibrate [post]
// @Security     BearerAuth
func (h *Handler) calibrate(c *gin.Context) {
	var req CalibrateRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidBodyPref + err.Error()})
			return
		}
	}
	res, err := h.services.Calibration.Calibrate(c.Request.Context(), c.Param("id"), req.params())
	if err != nil {
		h.respondServiceError(c, "calibration_failed", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// @Summary      Set temperature control
// @Description  Partial update; omitted fields keep their value. A source change rebinds.
// @Tags         temperature
// @Accept       json
// @Produce      json
// @Param        id    path   string                     true  "Device id"
// @Param        body  body   service.TempControlParams  true  "Temperature control"
// @Success      200   {object}  models.DeviceSettings
// @Failure      400   {object}  map[string]string
// @Failure      404   {object}  map[string]string
// @Router       /api/v1/devices/{id}/temp-control [put]
// @Security     BearerAuth
func (h *Handler) setTempControl(c *gin.Context) {
	var req service.TempControlParams
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidBodyPref + err.Error()})
		return
	}
	s, err := h.services.TempControl.SetTempControl(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		h.respondServiceError(c, "temp_control_set_failed", err)
		return
	}
	s.Host = ""
	c.JSON(http.StatusOK, s)
}

// @Summary      Clear temperature control
// @Tags         temperature
// @Produce      json
// @Param        id   path  string  true  "Device id"
// @Success      200  {object}  map[string]interface{}
// @Failure      404  {object}  map[string]string
// @Router       /api/v1/devices/{id}/temp-control [delete]
// @Security     BearerAuth
func (h *Handler) clearTempControl(c *gin.Context) {
	if err := h.services.TempControl.ClearTempControl(c.Request.Context(), c.Param("id")); err != nil {
		h.respondServiceError(c, "temp_control_clear_failed", err)
		return
	}
	h.respondWithState(c, statusCleared, nil)
}

// @Summary      Push a temperature reading
// @Description  Only for devices bound to a push:<name> source.
// @Tags         temperature
// @Accept       json
// @Produce      json
// @Param        id    path   string              true  "Device id"
// @Param        body  body   TemperatureRequest  true  "Reading in °C"
// @Success      202   {object}  map[string]string
// @Failure      400   {object}  map[string]string
// @Failure      404   {object}  map[string]string
// @Router       /api/v1/devices/{id}/temperature [post]
// @Security     BearerAuth
func (h *Handler) pushTemperature(c *gin.Context) {
	var req TemperatureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidBodyPref + err.Error()})
		return
	}
	if err := h.services.TempControl.PushTemperature(c.Request.Context(), c.Param("id"), *req.Value); err != nil {
		h.respondServiceError(c, "temperature_push_failed", err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

// @Summary      Set poll options
// @Description  Partial update of poll interval and failure/stall thresholds.
// @Tags         devices
// @Accept       json
// @Produce      json
// @Param        id    path   string                 true  "Device id"
// @Param        body  body   service.PollingParams  true  "Poll options"
// @Success      200   {object}  models.DeviceSettings
// @Failure      400   {object}  map[string]string
// @Failure      404   {object}  map[string]string
// @Router       /api/v1/devices/{id}/polling [put]
// @Security     BearerAuth
func (h *Handler) setPolling(c *gin.Context) {
	var req service.PollingParams
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidBodyPref + err.Error()})
		return
	}
	s, err := h.services.Polling.SetPolling(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		h.respondServiceError(c, "polling_set_failed", err)
		return
	}
	s.Host = ""
	c.JSON(http.StatusOK, s)
}
