package tools

import (
	"context"
	"encoding/json"
	"time"

	"github.com/driveline-ai/driveline/internal/calendar"
	"github.com/driveline-ai/driveline/internal/config"
	"github.com/driveline-ai/driveline/internal/domain"
	"github.com/driveline-ai/driveline/internal/vin"
)

// CustomerStore is the slice of the CRM the customer tools need.
type CustomerStore interface {
	GetByPhone(ctx context.Context, phone string) (*domain.Customer, error)
	GetByID(ctx context.Context, id int64) (*domain.Customer, error)
	Create(ctx context.Context, c *domain.Customer) error
}

// VehicleStore is the slice of the CRM the vehicle tools need.
type VehicleStore interface {
	GetByID(ctx context.Context, id int64) (*domain.Vehicle, error)
	Create(ctx context.Context, v *domain.Vehicle) error
}

// AppointmentStore is the slice of the CRM the appointment tools need.
type AppointmentStore interface {
	Create(ctx context.Context, a *domain.Appointment) error
	GetByID(ctx context.Context, id int64) (*domain.Appointment, error)
	ListUpcoming(ctx context.Context, customerID int64, from time.Time) ([]domain.Appointment, error)
	Cancel(ctx context.Context, id int64, reason string) error
	Reschedule(ctx context.Context, id int64, newTime time.Time) error
}

// Calendar is the shop calendar surface the booking tools need.
type Calendar interface {
	FreeBusy(ctx context.Context, from, to time.Time) ([]calendar.Interval, error)
	InsertEvent(ctx context.Context, ev calendar.Event) (string, error)
	UpdateEvent(ctx context.Context, eventID string, ev calendar.Event) error
	DeleteEvent(ctx context.Context, eventID string) error
}

// SnapshotCache is the customer-snapshot slice of the session store.
type SnapshotCache interface {
	GetCachedCustomer(ctx context.Context, phone string) (*domain.CustomerSnapshot, bool, error)
	CacheCustomer(ctx context.Context, phone string, snap *domain.CustomerSnapshot) error
	InvalidateCustomer(ctx context.Context, phone string) error
}

// VINDecoder resolves VINs to vehicle specifications.
type VINDecoder interface {
	Decode(ctx context.Context, raw string) (*vin.Result, error)
}

// Deps carries everything the tool handlers depend on. Cache and Calendar
// degrade gracefully when operations fail; the stores do not.
type Deps struct {
	Customers    CustomerStore
	Vehicles     VehicleStore
	Appointments AppointmentStore
	Calendar     Calendar
	Cache        SnapshotCache
	VIN          VINDecoder

	Hours    config.BusinessHoursConfig
	Location *time.Location

	// Now is the clock, swapped in tests. Defaults to time.Now.
	Now func() time.Time
}

// CallInfo identifies the caller the tools act on behalf of. Tools always
// operate on this caller's records; the model cannot reach across accounts.
type CallInfo struct {
	CallerPhone string
	CallSID     string
}

// New builds the per-call tool registry.
func New(deps Deps, call CallInfo) *Registry {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Location == nil {
		deps.Location = time.UTC
	}
	s := &set{deps: deps, call: call}

	r := NewRegistry()
	r.Register(s.lookupCustomer())
	r.Register(s.getAvailableSlots())
	r.Register(s.bookAppointment())
	r.Register(s.getUpcomingAppointments())
	r.Register(s.cancelAppointment())
	r.Register(s.rescheduleAppointment())
	r.Register(s.decodeVIN())
	r.Register(s.createCustomer())
	r.Register(s.createVehicle())
	return r
}

// set carries the shared state of one call's tool handlers.
type set struct {
	deps Deps
	call CallInfo
}

// decodeArgs unmarshals the model's JSON arguments. An empty string is
// treated as no arguments.
func decodeArgs(args string, into any) error {
	if args == "" {
		return nil
	}
	return json.Unmarshal([]byte(args), into)
}

// objectSchema builds the JSON Schema for a tool's parameters.
func objectSchema(properties map[string]any, required ...string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}
