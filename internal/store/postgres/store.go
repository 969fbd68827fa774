package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/driveline-ai/driveline/internal/config"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("postgres: not found")

// Store is the central PostgreSQL-backed CRM store. It holds a single
// [pgxpool.Pool] and exposes one repository per aggregate:
//
//   - [Store.Customers] for customer records with eager-loaded vehicles
//   - [Store.Vehicles] for the vehicle fleet
//   - [Store.Appointments] for service appointments
//   - [Store.CallLogs] for durable call records
//
// All operations are safe for concurrent use.
type Store struct {
	pool         *pgxpool.Pool
	customers    *CustomerRepo
	vehicles     *VehicleRepo
	appointments *AppointmentRepo
	calllogs     *CallLogRepo
}

// NewStore creates a Store, establishes the connection pool, verifies it with
// a ping, and runs [Migrate].
func NewStore(ctx context.Context, cfg config.DatabaseConfig) (*Store, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		pcfg.MinConns = cfg.MinConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return newStore(pool), nil
}

// NewStoreWithPool wraps an existing pool without migrating. Used by tests
// that manage their own schema lifecycle.
func NewStoreWithPool(pool *pgxpool.Pool) *Store {
	return newStore(pool)
}

func newStore(pool *pgxpool.Pool) *Store {
	return &Store{
		pool:         pool,
		customers:    &CustomerRepo{pool: pool},
		vehicles:     &VehicleRepo{pool: pool},
		appointments: &AppointmentRepo{pool: pool},
		calllogs:     &CallLogRepo{pool: pool},
	}
}

// Customers returns the customer repository.
func (s *Store) Customers() *CustomerRepo { return s.customers }

// Vehicles returns the vehicle repository.
func (s *Store) Vehicles() *VehicleRepo { return s.vehicles }

// Appointments returns the appointment repository.
func (s *Store) Appointments() *AppointmentRepo { return s.appointments }

// CallLogs returns the call log repository.
func (s *Store) CallLogs() *CallLogRepo { return s.calllogs }

// WithTx runs fn inside a single transaction, committing on nil and rolling
// back on error or panic.
func (s *Store) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return pgx.BeginFunc(ctx, s.pool, fn)
}

// Health reports whether the database answers a ping.
func (s *Store) Health(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases all connections held by the pool.
func (s *Store) Close() {
	s.pool.Close()
}
