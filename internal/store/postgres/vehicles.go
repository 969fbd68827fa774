package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/driveline-ai/driveline/internal/domain"
)

// VehicleRepo persists vehicle records. Obtain one via [Store.Vehicles].
type VehicleRepo struct {
	pool *pgxpool.Pool
}

const vehicleColumns = `
	id, customer_id, vin, year, make, model, trim, color, mileage,
	last_service_date, next_service_due, is_primary, status,
	created_at, updated_at`

// GetByID looks up a vehicle by primary key.
func (r *VehicleRepo) GetByID(ctx context.Context, id int64) (*domain.Vehicle, error) {
	q := "SELECT" + vehicleColumns + " FROM vehicles WHERE id = $1"

	rows, err := r.pool.Query(ctx, q, id)
	if err != nil {
		return nil, fmt.Errorf("vehicles: get by id: %w", err)
	}
	v, err := pgx.CollectOneRow(rows, scanVehicle)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("vehicles: get by id: %w", err)
	}
	return &v, nil
}

// ListByCustomer returns the customer's vehicles, primary vehicle first.
func (r *VehicleRepo) ListByCustomer(ctx context.Context, customerID int64) ([]domain.Vehicle, error) {
	q := "SELECT" + vehicleColumns + ` FROM vehicles
		WHERE customer_id = $1
		ORDER BY is_primary DESC, id`

	rows, err := r.pool.Query(ctx, q, customerID)
	if err != nil {
		return nil, fmt.Errorf("vehicles: list by customer: %w", err)
	}
	vehicles, err := collectVehicles(rows)
	if err != nil {
		return nil, fmt.Errorf("vehicles: list by customer: %w", err)
	}
	return vehicles, nil
}

// Create inserts a new vehicle and fills in the generated ID and timestamps.
// The VIN must already be normalized; the unique constraint rejects
// duplicates across all customers.
func (r *VehicleRepo) Create(ctx context.Context, v *domain.Vehicle) error {
	if v.Status == "" {
		v.Status = domain.VehicleActive
	}
	const q = `
		INSERT INTO vehicles
		    (customer_id, vin, year, make, model, trim, color, mileage,
		     last_service_date, next_service_due, is_primary, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, created_at, updated_at`

	err := r.pool.QueryRow(ctx, q,
		v.CustomerID, v.VIN, v.Year, v.Make, v.Model, v.Trim, v.Color, v.Mileage,
		nullTime(v.LastServiceDate), nullTime(v.NextServiceDue), v.IsPrimary, v.Status,
	).Scan(&v.ID, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		return fmt.Errorf("vehicles: create: %w", err)
	}
	return nil
}

// RecordService stamps the last service date and advances the next due date.
func (r *VehicleRepo) RecordService(ctx context.Context, id int64, servicedAt, nextDue time.Time) error {
	const q = `
		UPDATE vehicles
		SET    last_service_date = $2, next_service_due = $3, updated_at = now()
		WHERE  id = $1`

	tag, err := r.pool.Exec(ctx, q, id, servicedAt, nullTime(nextDue))
	if err != nil {
		return fmt.Errorf("vehicles: record service: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// collectVehicles scans pgx rows into a slice of Vehicle values.
func collectVehicles(rows pgx.Rows) ([]domain.Vehicle, error) {
	vehicles, err := pgx.CollectRows(rows, scanVehicle)
	if err != nil {
		return nil, err
	}
	if vehicles == nil {
		vehicles = []domain.Vehicle{}
	}
	return vehicles, nil
}

// scanVehicle scans one vehicle row in vehicleColumns order.
func scanVehicle(row pgx.CollectableRow) (domain.Vehicle, error) {
	var (
		v                domain.Vehicle
		lastSvc, nextSvc *time.Time
	)
	err := row.Scan(
		&v.ID, &v.CustomerID, &v.VIN, &v.Year, &v.Make, &v.Model, &v.Trim,
		&v.Color, &v.Mileage, &lastSvc, &nextSvc, &v.IsPrimary, &v.Status,
		&v.CreatedAt, &v.UpdatedAt,
	)
	if err != nil {
		return domain.Vehicle{}, err
	}
	if lastSvc != nil {
		v.LastServiceDate = *lastSvc
	}
	if nextSvc != nil {
		v.NextServiceDue = *nextSvc
	}
	return v, nil
}
