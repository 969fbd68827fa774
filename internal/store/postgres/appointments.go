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

// ErrAlreadyCancelled is returned when mutating an appointment that has
// already been cancelled. Cancelled appointments are immutable.
var ErrAlreadyCancelled = errors.New("postgres: appointment already cancelled")

// AppointmentRepo persists service appointments. Obtain one via
// [Store.Appointments].
type AppointmentRepo struct {
	pool *pgxpool.Pool
}

const appointmentColumns = `
	a.id, a.customer_id, a.vehicle_id, a.scheduled_at, a.duration_minutes,
	a.service_type, a.status, a.cancellation_reason, a.booking_method,
	a.external_event_id, a.notes, a.confirmation_sent, a.reminder_sent,
	a.completed_at, a.created_at, a.updated_at`

// Create inserts a new appointment and fills in the generated ID and
// timestamps. The vehicle must belong to the appointment's customer; the
// ownership check runs in the same statement so a stale vehicle ID cannot
// book against someone else's record.
func (r *AppointmentRepo) Create(ctx context.Context, a *domain.Appointment) error {
	if a.Status == "" {
		a.Status = domain.AppointmentScheduled
	}
	if a.BookingMethod == "" {
		a.BookingMethod = domain.BookingAIVoice
	}
	const q = `
		INSERT INTO appointments
		    (customer_id, vehicle_id, scheduled_at, duration_minutes,
		     service_type, status, booking_method, external_event_id, notes)
		SELECT $1, v.id, $3, $4, $5, $6, $7, $8, $9
		FROM   vehicles v
		WHERE  v.id = $2 AND v.customer_id = $1
		RETURNING id, created_at, updated_at`

	err := r.pool.QueryRow(ctx, q,
		a.CustomerID, a.VehicleID, a.ScheduledAt.UTC(), a.DurationMinutes,
		a.ServiceType, a.Status, a.BookingMethod, a.ExternalEventID, a.Notes,
	).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("appointments: create: vehicle %d does not belong to customer %d: %w",
			a.VehicleID, a.CustomerID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("appointments: create: %w", err)
	}
	return nil
}

// GetByID looks up an appointment and eager-loads its vehicle.
func (r *AppointmentRepo) GetByID(ctx context.Context, id int64) (*domain.Appointment, error) {
	q := "SELECT" + appointmentColumns + vehicleJoinColumns + `
		FROM appointments a
		JOIN vehicles v ON v.id = a.vehicle_id
		WHERE a.id = $1`

	rows, err := r.pool.Query(ctx, q, id)
	if err != nil {
		return nil, fmt.Errorf("appointments: get by id: %w", err)
	}
	a, err := pgx.CollectOneRow(rows, scanAppointmentWithVehicle)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("appointments: get by id: %w", err)
	}
	return &a, nil
}

// ListUpcoming returns the customer's scheduled and confirmed appointments at
// or after from, soonest first, with vehicles eager-loaded.
func (r *AppointmentRepo) ListUpcoming(ctx context.Context, customerID int64, from time.Time) ([]domain.Appointment, error) {
	q := "SELECT" + appointmentColumns + vehicleJoinColumns + `
		FROM appointments a
		JOIN vehicles v ON v.id = a.vehicle_id
		WHERE a.customer_id = $1
		  AND a.scheduled_at >= $2
		  AND a.status IN ('scheduled', 'confirmed')
		ORDER BY a.scheduled_at`

	rows, err := r.pool.Query(ctx, q, customerID, from.UTC())
	if err != nil {
		return nil, fmt.Errorf("appointments: list upcoming: %w", err)
	}
	appts, err := pgx.CollectRows(rows, scanAppointmentWithVehicle)
	if err != nil {
		return nil, fmt.Errorf("appointments: list upcoming: %w", err)
	}
	if appts == nil {
		appts = []domain.Appointment{}
	}
	return appts, nil
}

// ListBetween returns all active appointments overlapping the window. Used
// for availability checks alongside the calendar.
func (r *AppointmentRepo) ListBetween(ctx context.Context, from, to time.Time) ([]domain.Appointment, error) {
	q := "SELECT" + appointmentColumns + vehicleJoinColumns + `
		FROM appointments a
		JOIN vehicles v ON v.id = a.vehicle_id
		WHERE a.scheduled_at < $2
		  AND a.scheduled_at + (a.duration_minutes * interval '1 minute') > $1
		  AND a.status IN ('scheduled', 'confirmed')
		ORDER BY a.scheduled_at`

	rows, err := r.pool.Query(ctx, q, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("appointments: list between: %w", err)
	}
	appts, err := pgx.CollectRows(rows, scanAppointmentWithVehicle)
	if err != nil {
		return nil, fmt.Errorf("appointments: list between: %w", err)
	}
	if appts == nil {
		appts = []domain.Appointment{}
	}
	return appts, nil
}

// Cancel marks the appointment cancelled with a reason. Cancelling an already
// cancelled appointment returns ErrAlreadyCancelled.
func (r *AppointmentRepo) Cancel(ctx context.Context, id int64, reason string) error {
	const q = `
		UPDATE appointments
		SET    status = 'cancelled', cancellation_reason = $2, updated_at = now()
		WHERE  id = $1 AND status <> 'cancelled'`

	tag, err := r.pool.Exec(ctx, q, id, reason)
	if err != nil {
		return fmt.Errorf("appointments: cancel: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Distinguish missing from immutable.
		var status string
		err := r.pool.QueryRow(ctx, `SELECT status FROM appointments WHERE id = $1`, id).Scan(&status)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("appointments: cancel: %w", err)
		}
		return ErrAlreadyCancelled
	}
	return nil
}

// Reschedule moves an active appointment to a new time. Rescheduling a
// cancelled appointment returns ErrAlreadyCancelled.
func (r *AppointmentRepo) Reschedule(ctx context.Context, id int64, newTime time.Time) error {
	const q = `
		UPDATE appointments
		SET    scheduled_at = $2, reminder_sent = false, updated_at = now()
		WHERE  id = $1 AND status IN ('scheduled', 'confirmed')`

	tag, err := r.pool.Exec(ctx, q, id, newTime.UTC())
	if err != nil {
		return fmt.Errorf("appointments: reschedule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var status string
		err := r.pool.QueryRow(ctx, `SELECT status FROM appointments WHERE id = $1`, id).Scan(&status)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("appointments: reschedule: %w", err)
		}
		return ErrAlreadyCancelled
	}
	return nil
}

// SetExternalEventID links the appointment to its calendar event.
func (r *AppointmentRepo) SetExternalEventID(ctx context.Context, id int64, eventID string) error {
	const q = `UPDATE appointments SET external_event_id = $2, updated_at = now() WHERE id = $1`

	tag, err := r.pool.Exec(ctx, q, id, eventID)
	if err != nil {
		return fmt.Errorf("appointments: set external event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListDueReminders returns appointments starting inside the window that have
// not been reminded yet. Used by the outbound reminder campaign.
func (r *AppointmentRepo) ListDueReminders(ctx context.Context, from, to time.Time) ([]domain.Appointment, error) {
	q := "SELECT" + appointmentColumns + vehicleJoinColumns + `
		FROM appointments a
		JOIN vehicles v ON v.id = a.vehicle_id
		WHERE a.scheduled_at >= $1
		  AND a.scheduled_at < $2
		  AND a.status IN ('scheduled', 'confirmed')
		  AND NOT a.reminder_sent
		ORDER BY a.scheduled_at`

	rows, err := r.pool.Query(ctx, q, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("appointments: list due reminders: %w", err)
	}
	appts, err := pgx.CollectRows(rows, scanAppointmentWithVehicle)
	if err != nil {
		return nil, fmt.Errorf("appointments: list due reminders: %w", err)
	}
	return appts, nil
}

// MarkReminderSent stamps the appointment after a successful reminder call.
func (r *AppointmentRepo) MarkReminderSent(ctx context.Context, id int64) error {
	const q = `UPDATE appointments SET reminder_sent = true, updated_at = now() WHERE id = $1`

	tag, err := r.pool.Exec(ctx, q, id)
	if err != nil {
		return fmt.Errorf("appointments: mark reminder sent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// vehicleJoinColumns mirrors vehicleColumns with the join alias.
const vehicleJoinColumns = `,
	v.id, v.customer_id, v.vin, v.year, v.make, v.model, v.trim, v.color,
	v.mileage, v.last_service_date, v.next_service_due, v.is_primary,
	v.status, v.created_at, v.updated_at`

// scanAppointmentWithVehicle scans one joined appointment+vehicle row.
func scanAppointmentWithVehicle(row pgx.CollectableRow) (domain.Appointment, error) {
	var (
		a                domain.Appointment
		v                domain.Vehicle
		completedAt      *time.Time
		lastSvc, nextSvc *time.Time
	)
	err := row.Scan(
		&a.ID, &a.CustomerID, &a.VehicleID, &a.ScheduledAt, &a.DurationMinutes,
		&a.ServiceType, &a.Status, &a.CancellationReason, &a.BookingMethod,
		&a.ExternalEventID, &a.Notes, &a.ConfirmationSent, &a.ReminderSent,
		&completedAt, &a.CreatedAt, &a.UpdatedAt,
		&v.ID, &v.CustomerID, &v.VIN, &v.Year, &v.Make, &v.Model, &v.Trim,
		&v.Color, &v.Mileage, &lastSvc, &nextSvc, &v.IsPrimary, &v.Status,
		&v.CreatedAt, &v.UpdatedAt,
	)
	if err != nil {
		return domain.Appointment{}, err
	}
	if completedAt != nil {
		a.CompletedAt = *completedAt
	}
	if lastSvc != nil {
		v.LastServiceDate = *lastSvc
	}
	if nextSvc != nil {
		v.NextServiceDue = *nextSvc
	}
	a.Vehicle = &v
	return a, nil
}
