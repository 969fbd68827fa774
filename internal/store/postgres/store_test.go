package postgres_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/driveline-ai/driveline/internal/config"
	"github.com/driveline-ai/driveline/internal/domain"
	"github.com/driveline-ai/driveline/internal/store/postgres"
)

// testDSN returns the test database DSN from the environment, or skips the
// test if DRIVELINE_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("DRIVELINE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("DRIVELINE_TEST_POSTGRES_DSN not set, skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestStore creates a fresh [postgres.Store] with a clean schema.
func newTestStore(t *testing.T) *postgres.Store {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	cleanPool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	t.Cleanup(cleanPool.Close)
	dropSchema(t, ctx, cleanPool)

	store, err := postgres.NewStore(ctx, config.DatabaseConfig{URL: dsn})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(store.Close)
	return store
}

// dropSchema removes all tables created by Migrate in reverse dependency order.
func dropSchema(t *testing.T, ctx context.Context, pool *pgxpool.Pool) {
	t.Helper()
	for _, stmt := range []string{
		"DROP TABLE IF EXISTS call_logs CASCADE",
		"DROP TABLE IF EXISTS appointments CASCADE",
		"DROP TABLE IF EXISTS vehicles CASCADE",
		"DROP TABLE IF EXISTS customers CASCADE",
	} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			t.Fatalf("dropSchema %q: %v", stmt, err)
		}
	}
}

// seedCustomer inserts a customer with one vehicle and returns both.
func seedCustomer(t *testing.T, store *postgres.Store) (*domain.Customer, *domain.Vehicle) {
	t.Helper()
	ctx := context.Background()

	c := &domain.Customer{
		Phone:     "+15551234567",
		FirstName: "Maria",
		LastName:  "Santos",
	}
	if err := store.Customers().Create(ctx, c); err != nil {
		t.Fatalf("create customer: %v", err)
	}

	v := &domain.Vehicle{
		CustomerID: c.ID,
		VIN:        "1HGCM82633A004352",
		Year:       2021,
		Make:       "Honda",
		Model:      "Civic",
		IsPrimary:  true,
	}
	if err := store.Vehicles().Create(ctx, v); err != nil {
		t.Fatalf("create vehicle: %v", err)
	}
	return c, v
}

func TestCustomers_GetByPhoneEagerLoadsVehicles(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedCustomer(t, store)

	got, err := store.Customers().GetByPhone(ctx, "+15551234567")
	if err != nil {
		t.Fatalf("GetByPhone: %v", err)
	}
	if got.FullName() != "Maria Santos" {
		t.Errorf("name = %q", got.FullName())
	}
	if len(got.Vehicles) != 1 || got.Vehicles[0].VIN != "1HGCM82633A004352" {
		t.Fatalf("vehicles = %+v", got.Vehicles)
	}
}

func TestCustomers_GetByPhoneMissing(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Customers().GetByPhone(context.Background(), "+15550000000")
	if !errors.Is(err, postgres.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestAppointments_CreateEnforcesOwnership(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	c, v := seedCustomer(t, store)

	other := &domain.Customer{Phone: "+15559876543", FirstName: "Lee"}
	if err := store.Customers().Create(ctx, other); err != nil {
		t.Fatalf("create other: %v", err)
	}

	// Booking another customer's vehicle must fail.
	bad := &domain.Appointment{
		CustomerID:      other.ID,
		VehicleID:       v.ID,
		ScheduledAt:     time.Now().Add(48 * time.Hour),
		DurationMinutes: 60,
		ServiceType:     domain.ServiceOilChange,
	}
	if err := store.Appointments().Create(ctx, bad); !errors.Is(err, postgres.ErrNotFound) {
		t.Fatalf("cross-customer booking: want ErrNotFound, got %v", err)
	}

	good := &domain.Appointment{
		CustomerID:      c.ID,
		VehicleID:       v.ID,
		ScheduledAt:     time.Now().Add(48 * time.Hour),
		DurationMinutes: 60,
		ServiceType:     domain.ServiceOilChange,
	}
	if err := store.Appointments().Create(ctx, good); err != nil {
		t.Fatalf("create appointment: %v", err)
	}
	if good.ID == 0 || good.Status != domain.AppointmentScheduled {
		t.Fatalf("appointment = %+v", good)
	}
}

func TestAppointments_CancelIsTerminal(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	c, v := seedCustomer(t, store)

	a := &domain.Appointment{
		CustomerID:      c.ID,
		VehicleID:       v.ID,
		ScheduledAt:     time.Now().Add(24 * time.Hour),
		DurationMinutes: 60,
		ServiceType:     domain.ServiceTireRotation,
	}
	if err := store.Appointments().Create(ctx, a); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := store.Appointments().Cancel(ctx, a.ID, "customer request"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := store.Appointments().Cancel(ctx, a.ID, "again"); !errors.Is(err, postgres.ErrAlreadyCancelled) {
		t.Fatalf("second cancel: want ErrAlreadyCancelled, got %v", err)
	}
	if err := store.Appointments().Reschedule(ctx, a.ID, time.Now().Add(72*time.Hour)); !errors.Is(err, postgres.ErrAlreadyCancelled) {
		t.Fatalf("reschedule cancelled: want ErrAlreadyCancelled, got %v", err)
	}

	got, err := store.Appointments().GetByID(ctx, a.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.AppointmentCancelled || got.CancellationReason != "customer request" {
		t.Fatalf("appointment = %+v", got)
	}
}

func TestAppointments_ListUpcomingSkipsCancelled(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	c, v := seedCustomer(t, store)

	mk := func(offset time.Duration) *domain.Appointment {
		a := &domain.Appointment{
			CustomerID:      c.ID,
			VehicleID:       v.ID,
			ScheduledAt:     time.Now().Add(offset),
			DurationMinutes: 60,
			ServiceType:     domain.ServiceInspection,
		}
		if err := store.Appointments().Create(ctx, a); err != nil {
			t.Fatalf("create: %v", err)
		}
		return a
	}
	keep := mk(24 * time.Hour)
	dropped := mk(48 * time.Hour)
	if err := store.Appointments().Cancel(ctx, dropped.ID, "changed plans"); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	upcoming, err := store.Appointments().ListUpcoming(ctx, c.ID, time.Now())
	if err != nil {
		t.Fatalf("ListUpcoming: %v", err)
	}
	if len(upcoming) != 1 || upcoming[0].ID != keep.ID {
		t.Fatalf("upcoming = %+v", upcoming)
	}
	if upcoming[0].Vehicle == nil || upcoming[0].Vehicle.Model != "Civic" {
		t.Fatalf("vehicle not eager-loaded: %+v", upcoming[0].Vehicle)
	}
}

func TestCallLogs_InsertIsUpsert(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	l := &domain.CallLog{
		CallSID:     "CA123",
		Direction:   domain.CallInbound,
		CallerPhone: "+15551234567",
		StartedAt:   time.Now().Add(-3 * time.Minute),
		EndedAt:     time.Now(),
		Outcome:     "appointment_booked",
	}
	if err := store.CallLogs().Insert(ctx, l); err != nil {
		t.Fatalf("insert: %v", err)
	}

	l.Outcome = "appointment_booked_and_confirmed"
	if err := store.CallLogs().Insert(ctx, l); err != nil {
		t.Fatalf("reinsert: %v", err)
	}

	got, err := store.CallLogs().GetBySID(ctx, "CA123")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Outcome != "appointment_booked_and_confirmed" {
		t.Fatalf("outcome = %q", got.Outcome)
	}
}
