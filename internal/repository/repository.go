package repository

import (
	"context"
	"database/sql"
	"time"

	"openfan_micro/internal/models"
)

type Authorization interface {
	Create(username, hash string) (int, error)
	GetByUsername(username string) (*models.Operator, error)
}

type DeviceRepo interface {
	Save(ctx context.Context, s models.DeviceSettings) error
	Get(ctx context.Context, id string) (models.DeviceSettings, bool, error)
	List(ctx context.Context) ([]models.DeviceSettings, error)
}

// EventFilter narrows an event listing. Zero fields do not filter.
type EventFilter struct {
	From     time.Time
	To       time.Time
	Type     string
	DeviceID string
	Limit    int
}

type EventRepo interface {
	Append(ctx context.Context, e models.DeviceEvent) error
	List(ctx context.Context, f EventFilter) ([]models.DeviceEvent, error)
}

type Repository struct {
	DeviceRepo DeviceRepo
	EventRepo  EventRepo
	Auth       Authorization
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{
		DeviceRepo: NewDeviceSQLite(db),
		EventRepo:  NewEventSQLite(db),
		Auth:       NewOperatorRepository(db),
	}
}
