package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"openfan_micro/internal/models"
)

type DeviceSQLite struct {
	db *sql.DB
}

func NewDeviceSQLite(db *sql.DB) *DeviceSQLite {
	return &DeviceSQLite{db: db}
}

const (
	upsertDeviceSQL = `
		INSERT INTO devices (id, name, host, mac, poll_interval, failure_threshold, stall_threshold,
			min_pwm, min_pwm_calibrated, temp_source, temp_curve, temp_integrate_seconds,
			temp_update_min_interval, temp_deadband_pct, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name=excluded.name,
			host=excluded.host,
			mac=excluded.mac,
			poll_interval=excluded.poll_interval,
			failure_threshold=excluded.failure_threshold,
			stall_threshold=excluded.stall_threshold,
			min_pwm=excluded.min_pwm,
			min_pwm_calibrated=excluded.min_pwm_calibrated,
			temp_source=excluded.temp_source,
			temp_curve=excluded.temp_curve,
			temp_integrate_seconds=excluded.temp_integrate_seconds,
			temp_update_min_interval=excluded.temp_update_min_interval,
			temp_deadband_pct=excluded.temp_deadband_pct,
			updated_at=excluded.updated_at
	`

	selectDeviceColumns = `SELECT id, name, host, mac, poll_interval, failure_threshold, stall_threshold,
		min_pwm, min_pwm_calibrated, temp_source, temp_curve, temp_integrate_seconds,
		temp_update_min_interval, temp_deadband_pct, updated_at FROM devices`

	selectDeviceSQL  = selectDeviceColumns + ` WHERE id = ?`
	selectDevicesSQL  = selectDeviceColumns + ` ORDER BY id ASC`
)

// Save inserts or replaces the settings row for s.ID.
func (r *DeviceSQLite) Save(ctx context.Context, s models.DeviceSettings) error {
	ts := s.UpdatedAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	} else {
		ts = ts.UTC()
	}
	_, err := r.db.ExecContext(ctx, upsertDeviceSQL,
		s.ID,
		s.Name,
		s.Host,
		s.MAC,
		s.PollIntervalSec,
		s.FailureThreshold,
		s.StallThreshold,
		s.MinPWM,
		s.MinPWMCalibrated,
		s.TempSource,
		s.TempCurve,
		s.TempIntegrateSec,
		s.TempUpdateMinInterval,
		s.TempDeadbandPct,
		ts,
	)
	if err != nil {
		return fmt.Errorf("save device %q: %w", s.ID, err)
	}
	return nil
}

// Get loads one device. The bool is false when no row exists.
func (r *DeviceSQLite) Get(ctx context.Context, id string) (models.DeviceSettings, bool, error) {
	s, err := scanDevice(r.db.QueryRowContext(ctx, selectDeviceSQL, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.DeviceSettings{}, false, nil
		}
		return models.DeviceSettings{}, false, fmt.Errorf("select device %q: %w", id, err)
	}
	return s, true, nil
}

func (r *DeviceSQLite) List(ctx context.Context) ([]models.DeviceSettings, error) {
	rows, err := r.db.QueryContext(ctx, selectDevicesSQL)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	defer rows.Close()

	var out []models.DeviceSettings
	for rows.Next() {
		s, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scan device: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(row rowScanner) (models.DeviceSettings, error) {
	var s models.DeviceSettings
	var mac sql.NullString
	if err := row.Scan(
		&s.ID,
		&s.Name,
		&s.Host,
		&mac,
		&s.PollIntervalSec,
		&s.FailureThreshold,
		&s.StallThreshold,
		&s.MinPWM,
		&s.MinPWMCalibrated,
		&s.TempSource,
		&s.TempCurve,
		&s.TempIntegrateSec,
		&s.TempUpdateMinInterval,
		&s.TempDeadbandPct,
		&s.UpdatedAt,
	); err != nil {
		return models.DeviceSettings{}, err
	}
	s.MAC = mac.String
	s.UpdatedAt = s.UpdatedAt.UTC()
	return s, nil
}
