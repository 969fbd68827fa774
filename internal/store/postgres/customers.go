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

// CustomerRepo persists customer records. Obtain one via [Store.Customers].
type CustomerRepo struct {
	pool *pgxpool.Pool
}

const customerColumns = `
	id, phone, email, first_name, last_name, date_of_birth,
	address_line1, city, state, postal_code, customer_since,
	prefers_sms, prefers_email, created_at, updated_at`

// GetByPhone looks up a customer by normalized phone number and eager-loads
// their vehicles. Returns ErrNotFound when no customer matches.
func (r *CustomerRepo) GetByPhone(ctx context.Context, phone string) (*domain.Customer, error) {
	q := "SELECT" + customerColumns + " FROM customers WHERE phone = $1"

	row := r.pool.QueryRow(ctx, q, phone)
	c, err := scanCustomer(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("customers: get by phone: %w", err)
	}

	if err := r.loadVehicles(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// GetByID looks up a customer by primary key and eager-loads their vehicles.
func (r *CustomerRepo) GetByID(ctx context.Context, id int64) (*domain.Customer, error) {
	q := "SELECT" + customerColumns + " FROM customers WHERE id = $1"

	row := r.pool.QueryRow(ctx, q, id)
	c, err := scanCustomer(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("customers: get by id: %w", err)
	}

	if err := r.loadVehicles(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// Create inserts a new customer and fills in the generated ID and timestamps.
// The phone number must already be normalized; the unique constraint on phone
// rejects duplicates.
func (r *CustomerRepo) Create(ctx context.Context, c *domain.Customer) error {
	const q = `
		INSERT INTO customers
		    (phone, email, first_name, last_name, date_of_birth,
		     address_line1, city, state, postal_code,
		     prefers_sms, prefers_email)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, customer_since, created_at, updated_at`

	err := r.pool.QueryRow(ctx, q,
		c.Phone, c.Email, c.FirstName, c.LastName, nullTime(c.DateOfBirth),
		c.AddressLine1, c.City, c.State, c.PostalCode,
		c.PrefersSMS, c.PrefersEmail,
	).Scan(&c.ID, &c.CustomerSince, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("customers: create: %w", err)
	}
	return nil
}

// UpdateContact updates the mutable contact fields of a customer.
func (r *CustomerRepo) UpdateContact(ctx context.Context, c *domain.Customer) error {
	const q = `
		UPDATE customers
		SET    email = $2, first_name = $3, last_name = $4,
		       address_line1 = $5, city = $6, state = $7, postal_code = $8,
		       prefers_sms = $9, prefers_email = $10, updated_at = now()
		WHERE  id = $1`

	tag, err := r.pool.Exec(ctx, q,
		c.ID, c.Email, c.FirstName, c.LastName,
		c.AddressLine1, c.City, c.State, c.PostalCode,
		c.PrefersSMS, c.PrefersEmail,
	)
	if err != nil {
		return fmt.Errorf("customers: update contact: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// loadVehicles populates c.Vehicles, primary vehicle first.
func (r *CustomerRepo) loadVehicles(ctx context.Context, c *domain.Customer) error {
	q := "SELECT" + vehicleColumns + ` FROM vehicles
		WHERE customer_id = $1
		ORDER BY is_primary DESC, id`

	rows, err := r.pool.Query(ctx, q, c.ID)
	if err != nil {
		return fmt.Errorf("customers: load vehicles: %w", err)
	}
	vehicles, err := collectVehicles(rows)
	if err != nil {
		return fmt.Errorf("customers: load vehicles: %w", err)
	}
	c.Vehicles = vehicles
	return nil
}

// scanCustomer scans one customer row in customerColumns order.
func scanCustomer(row pgx.Row) (*domain.Customer, error) {
	var (
		c   domain.Customer
		dob *time.Time
	)
	err := row.Scan(
		&c.ID, &c.Phone, &c.Email, &c.FirstName, &c.LastName, &dob,
		&c.AddressLine1, &c.City, &c.State, &c.PostalCode, &c.CustomerSince,
		&c.PrefersSMS, &c.PrefersEmail, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if dob != nil {
		c.DateOfBirth = *dob
	}
	return &c, nil
}

// nullTime maps the zero time to SQL NULL.
func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
