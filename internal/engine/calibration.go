package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"openfan_micro/internal/models"
)

// Default sweep parameters.
var DefaultCalibration = models.CalibrationParams{From: 10, To: 40, Step: 5, RPMThreshold: 100, Margin: 5}

// ValidateCalibration checks sweep bounds.
func ValidateCalibration(p models.CalibrationParams) error {
	switch {
	case p.Step <= 0:
		return fmt.Errorf("%w: step must be positive", ErrInvalidCalibration)
	case p.From < 0 || p.From > 100 || p.To < 0 || p.To > 100:
		return fmt.Errorf("%w: from/to must be within 0..100", ErrInvalidCalibration)
	case p.From > p.To:
		return fmt.Errorf("%w: from %d exceeds to %d", ErrInvalidCalibration, p.From, p.To)
	case p.RPMThreshold <= 0:
		return fmt.Errorf("%w: rpm threshold must be positive", ErrInvalidCalibration)
	case p.Margin < 0:
		return fmt.Errorf("%w: margin must not be negative", ErrInvalidCalibration)
	}
	return nil
}

// Calibrate sweeps the duty from p.From to p.To and returns the lowest duty
// whose RPM reaches p.RPMThreshold plus p.Margin. Automatic control and direct
// commands are locked out for the duration. A successful result is applied to
// the controller and the stall floor; a failed sweep leaves them unchanged.
// Cancelling ctx aborts between steps.
func (d *Device) Calibrate(ctx context.Context, p models.CalibrationParams) (models.CalibrationResult, error) {
	if err := ValidateCalibration(p); err != nil {
		return models.CalibrationResult{}, err
	}
	if !d.calibrating.CompareAndSwap(false, true) {
		return models.CalibrationResult{}, ErrCalibrationInProgress
	}
	defer func() {
		d.calibrating.Store(false)
		d.requestEvaluation()
	}()

	d.cmdMu.Lock()
	defer d.cmdMu.Unlock()

	settle := max(time.Second, d.coord.Config().PollInterval)
	d.log.Infow("calibration_started", "from", p.From, "to", p.To, "step", p.Step,
		"rpm_threshold", p.RPMThreshold, "settle", settle)

	// The sweep leaves the fan at an arbitrary duty.
	defer d.ctrl.resetApplied()

	for pct := p.From; pct <= p.To; pct += p.Step {
		if err := ctx.Err(); err != nil {
			return d.abortCalibration(pct, err)
		}
		if err := d.api.SetPWM(ctx, pct); err != nil {
			if ctx.Err() != nil {
				return d.abortCalibration(pct, ctx.Err())
			}
			return models.CalibrationResult{}, fmt.Errorf("calibrate %s at %d%%: %w", d.id, pct, err)
		}
		if err := d.sleep(ctx, settle); err != nil {
			return d.abortCalibration(pct, err)
		}
		if err := d.coord.Refresh(ctx); err != nil {
			d.log.Warnw("calibration_refresh_failed", "pwm", pct, "error", err)
			continue
		}
		snap, _ := d.coord.Snapshot()
		d.log.Debugw("calibration_step", "pwm", pct, "rpm", snap.RPM)
		if snap.RPM >= p.RPMThreshold {
			minPWM := min(100, max(0, pct+p.Margin))
			d.applyCalibration(minPWM)
			d.log.Infow("calibration_succeeded", "found_at", pct, "min_pwm", minPWM)
			return models.CalibrationResult{MinPWM: minPWM, Achieved: true, FoundAt: pct}, nil
		}
	}

	d.log.Warnw("calibration_not_achieved", "to", p.To, "rpm_threshold", p.RPMThreshold)
	return models.CalibrationResult{}, nil
}

func (d *Device) abortCalibration(pct int, cause error) (models.CalibrationResult, error) {
	d.log.Warnw("calibration_aborted", "pwm", pct, "cause", cause)
	if errors.Is(cause, context.Canceled) || errors.Is(cause, context.DeadlineExceeded) {
		return models.CalibrationResult{Aborted: true}, cause
	}
	return models.CalibrationResult{Aborted: true}, fmt.Errorf("calibrate %s: %w", d.id, cause)
}

func (d *Device) applyCalibration(minPWM int) {
	cfg := d.ctrl.Config()
	cfg.MinPWM = minPWM
	cfg.Calibrated = true
	d.ctrl.SetConfig(cfg)
	d.coord.SetMinPWM(minPWM)
}
