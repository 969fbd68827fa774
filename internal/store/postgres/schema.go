// Package postgres provides the PostgreSQL-backed CRM store: customers,
// vehicles, appointments, and call logs share a single [pgxpool.Pool].
//
// [Migrate] is idempotent and runs on every application start.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ─────────────────────────────────────────────────────────────────────────────
// DDL: customers and vehicles
// ─────────────────────────────────────────────────────────────────────────────

const ddlCustomers = `
CREATE TABLE IF NOT EXISTS customers (
    id             BIGSERIAL    PRIMARY KEY,
    phone          TEXT         NOT NULL UNIQUE,
    email          TEXT         NOT NULL DEFAULT '',
    first_name     TEXT         NOT NULL DEFAULT '',
    last_name      TEXT         NOT NULL DEFAULT '',
    date_of_birth  DATE,
    address_line1  TEXT         NOT NULL DEFAULT '',
    city           TEXT         NOT NULL DEFAULT '',
    state          TEXT         NOT NULL DEFAULT '',
    postal_code    TEXT         NOT NULL DEFAULT '',
    customer_since TIMESTAMPTZ  NOT NULL DEFAULT now(),
    prefers_sms    BOOLEAN      NOT NULL DEFAULT false,
    prefers_email  BOOLEAN      NOT NULL DEFAULT false,
    created_at     TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at     TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_customers_phone ON customers (phone);
`

const ddlVehicles = `
CREATE TABLE IF NOT EXISTS vehicles (
    id                BIGSERIAL    PRIMARY KEY,
    customer_id       BIGINT       NOT NULL REFERENCES customers (id) ON DELETE CASCADE,
    vin               TEXT         NOT NULL UNIQUE,
    year              INT          NOT NULL DEFAULT 0,
    make              TEXT         NOT NULL DEFAULT '',
    model             TEXT         NOT NULL DEFAULT '',
    trim              TEXT         NOT NULL DEFAULT '',
    color             TEXT         NOT NULL DEFAULT '',
    mileage           INT          NOT NULL DEFAULT 0,
    last_service_date TIMESTAMPTZ,
    next_service_due  TIMESTAMPTZ,
    is_primary        BOOLEAN      NOT NULL DEFAULT false,
    status            TEXT         NOT NULL DEFAULT 'active',
    created_at        TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at        TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_vehicles_customer_id ON vehicles (customer_id);
`

// ─────────────────────────────────────────────────────────────────────────────
// DDL: appointments and call logs
// ─────────────────────────────────────────────────────────────────────────────

const ddlAppointments = `
CREATE TABLE IF NOT EXISTS appointments (
    id                  BIGSERIAL    PRIMARY KEY,
    customer_id         BIGINT       NOT NULL REFERENCES customers (id) ON DELETE CASCADE,
    vehicle_id          BIGINT       NOT NULL REFERENCES vehicles (id) ON DELETE CASCADE,
    scheduled_at        TIMESTAMPTZ  NOT NULL,
    duration_minutes    INT          NOT NULL DEFAULT 60,
    service_type        TEXT         NOT NULL,
    status              TEXT         NOT NULL DEFAULT 'scheduled',
    cancellation_reason TEXT         NOT NULL DEFAULT '',
    booking_method      TEXT         NOT NULL DEFAULT 'ai_voice',
    external_event_id   TEXT         NOT NULL DEFAULT '',
    notes               TEXT         NOT NULL DEFAULT '',
    confirmation_sent   BOOLEAN      NOT NULL DEFAULT false,
    reminder_sent       BOOLEAN      NOT NULL DEFAULT false,
    completed_at        TIMESTAMPTZ,
    created_at          TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at          TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_appointments_status_scheduled
    ON appointments (status, scheduled_at);

CREATE INDEX IF NOT EXISTS idx_appointments_customer_scheduled
    ON appointments (customer_id, scheduled_at);
`

const ddlCallLogs = `
CREATE TABLE IF NOT EXISTS call_logs (
    id                BIGSERIAL    PRIMARY KEY,
    call_sid          TEXT         NOT NULL UNIQUE,
    customer_id       BIGINT       NOT NULL DEFAULT 0,
    direction         TEXT         NOT NULL,
    caller_phone      TEXT         NOT NULL,
    intent            TEXT         NOT NULL DEFAULT '',
    transcript        TEXT         NOT NULL DEFAULT '',
    started_at        TIMESTAMPTZ  NOT NULL,
    ended_at          TIMESTAMPTZ  NOT NULL,
    outcome           TEXT         NOT NULL DEFAULT '',
    prompt_tokens     INT          NOT NULL DEFAULT 0,
    completion_tokens INT          NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_call_logs_caller_phone ON call_logs (caller_phone);
`

// Migrate creates or ensures all required tables and indexes exist. It is
// idempotent and safe to call on every application start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	statements := []string{
		ddlCustomers,
		ddlVehicles,
		ddlAppointments,
		ddlCallLogs,
	}

	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}
