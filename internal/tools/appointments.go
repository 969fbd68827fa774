package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/driveline-ai/driveline/internal/calendar"
	"github.com/driveline-ai/driveline/internal/domain"
	"github.com/driveline-ai/driveline/internal/store/postgres"
	"github.com/driveline-ai/driveline/pkg/types"
)

// defaultSlotMinutes is the slot duration assumed when a slot query does not
// specify one. Bookings without an explicit duration hold a longer window.
const (
	defaultSlotMinutes    = 30
	defaultBookingMinutes = 60

	// defaultUpcomingLimit caps appointment listings when no limit is given.
	defaultUpcomingLimit = 10
)

// spokenTime is the format appointments are read back to the caller in.
const spokenTime = "Monday, January 2 at 3:04 PM"

// appointmentView is the model-facing projection of an appointment.
type appointmentView struct {
	ID              int64  `json:"id"`
	ScheduledAt     string `json:"scheduled_at"`
	ScheduledSpoken string `json:"scheduled_at_spoken"`
	DurationMinutes int    `json:"duration_minutes"`
	ServiceType     string `json:"service_type"`
	Status          string `json:"status"`
	Vehicle         string `json:"vehicle,omitempty"`
	Notes           string `json:"notes,omitempty"`
}

func (s *set) viewAppointment(a domain.Appointment) appointmentView {
	local := a.ScheduledAt.In(s.deps.Location)
	v := appointmentView{
		ID:              a.ID,
		ScheduledAt:     local.Format(time.RFC3339),
		ScheduledSpoken: local.Format(spokenTime),
		DurationMinutes: a.DurationMinutes,
		ServiceType:     string(a.ServiceType),
		Status:          string(a.Status),
		Notes:           a.Notes,
	}
	if a.Vehicle != nil {
		v.Vehicle = fmt.Sprintf("%d %s %s", a.Vehicle.Year, a.Vehicle.Make, a.Vehicle.Model)
	}
	return v
}

// parseLocalTime accepts RFC3339 or "2006-01-02 15:04" in the shop timezone.
func (s *set) parseLocalTime(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.In(s.deps.Location), nil
	}
	t, err := time.ParseInLocation("2006-01-02 15:04", raw, s.deps.Location)
	if err != nil {
		return time.Time{}, fmt.Errorf("unrecognized time %q", raw)
	}
	return t, nil
}

// withinBusinessHours reports whether [start, start+duration) fits one of the
// day's bookable windows.
func (s *set) withinBusinessHours(start time.Time, duration time.Duration) bool {
	for _, win := range calendar.DayWindows(start, s.deps.Hours, s.deps.Location) {
		if !start.Before(win.Start) && !start.Add(duration).After(win.End) {
			return true
		}
	}
	return false
}

// slotTaken asks the calendar whether anything overlaps [start, start+d).
// The boolean is authoritative only when err is nil.
func (s *set) slotTaken(ctx context.Context, start time.Time, d time.Duration) (bool, error) {
	busy, err := s.deps.Calendar.FreeBusy(ctx, start, start.Add(d))
	if err != nil {
		return false, err
	}
	for _, b := range busy {
		if start.Before(b.End) && b.Start.Before(start.Add(d)) {
			return true, nil
		}
	}
	return false, nil
}

// getAvailableSlots lists offerable start times for one day.
func (s *set) getAvailableSlots() Tool {
	return Tool{
		Definition: types.ToolDefinition{
			Name: "get_available_slots",
			Description: "List the available appointment start times for a given date. " +
				"Use before offering times to the caller.",
			Parameters: objectSchema(map[string]any{
				"date": map[string]any{
					"type":        "string",
					"description": "Date in YYYY-MM-DD form.",
				},
				"duration_minutes": map[string]any{
					"type":        "integer",
					"description": "Service duration. Defaults to 30.",
				},
			}, "date"),
		},
		Handler: func(ctx context.Context, args string) Result {
			var a struct {
				Date            string `json:"date"`
				DurationMinutes int    `json:"duration_minutes"`
			}
			if err := decodeArgs(args, &a); err != nil {
				return fail("could not parse arguments: %v", err)
			}

			day, err := time.ParseInLocation("2006-01-02", a.Date, s.deps.Location)
			if err != nil {
				return fail("unrecognized date %q, expected YYYY-MM-DD", a.Date)
			}
			now := s.deps.Now().In(s.deps.Location)
			if day.Before(now.Truncate(24 * time.Hour)) {
				return fail("that date is in the past")
			}
			if day.Weekday() == time.Sunday {
				return Result{Success: false, Error: calendar.ClosedMessage}
			}

			duration := time.Duration(a.DurationMinutes) * time.Minute
			if duration <= 0 {
				duration = defaultSlotMinutes * time.Minute
			}

			windows := calendar.DayWindows(day, s.deps.Hours, s.deps.Location)
			busy, err := s.deps.Calendar.FreeBusy(ctx, windows[0].Start, windows[len(windows)-1].End)
			if err != nil {
				slog.Warn("freebusy failed", "error", err)
				return fail("cannot check the schedule right now")
			}

			var slots []string
			for _, slot := range calendar.AvailableSlots(day, duration, busy, s.deps.Hours, s.deps.Location) {
				if slot.Before(now) {
					continue
				}
				slots = append(slots, slot.Format(time.RFC3339))
			}
			if len(slots) == 0 {
				return ok([]string{}, "No openings that day; offer a nearby day instead.")
			}
			return ok(slots, "")
		},
	}
}

// bookAppointment creates the calendar event first and the database row
// second, compensating with an event delete when the database write fails.
func (s *set) bookAppointment() Tool {
	return Tool{
		Definition: types.ToolDefinition{
			Name: "book_appointment",
			Description: "Book a service appointment for the caller. Confirm the time " +
				"and service with the caller before booking.",
			Parameters: objectSchema(map[string]any{
				"vehicle_id": map[string]any{
					"type":        "integer",
					"description": "Vehicle ID from lookup_customer.",
				},
				"service_type": map[string]any{
					"type":        "string",
					"description": "One of: oil_change, tire_rotation, brake_service, brake_inspection, inspection, engine_diagnostics, general_maintenance, repair, diagnostic, recall, other.",
				},
				"start": map[string]any{
					"type":        "string",
					"description": "Start time, e.g. 2026-08-25 14:30.",
				},
				"duration_minutes": map[string]any{"type": "integer"},
				"notes":            map[string]any{"type": "string"},
			}, "vehicle_id", "service_type", "start"),
		},
		Handler: func(ctx context.Context, args string) Result {
			var a struct {
				VehicleID       int64  `json:"vehicle_id"`
				ServiceType     string `json:"service_type"`
				Start           string `json:"start"`
				DurationMinutes int    `json:"duration_minutes"`
				Notes           string `json:"notes"`
			}
			if err := decodeArgs(args, &a); err != nil {
				return fail("could not parse arguments: %v", err)
			}

			serviceType := domain.ServiceType(a.ServiceType)
			if !serviceType.IsValid() {
				return fail("unknown service type %q", a.ServiceType)
			}
			start, err := s.parseLocalTime(a.Start)
			if err != nil {
				return fail("%v", err)
			}
			if start.Weekday() == time.Sunday {
				return Result{Success: false, Error: calendar.ClosedMessage}
			}
			if !start.After(s.deps.Now().In(s.deps.Location)) {
				return fail("that time is in the past")
			}
			duration := time.Duration(a.DurationMinutes) * time.Minute
			if duration <= 0 {
				duration = defaultBookingMinutes * time.Minute
			}
			if !s.withinBusinessHours(start, duration) {
				return fail("that time is outside service department hours")
			}

			c, err := s.resolveCaller(ctx)
			if errors.Is(err, postgres.ErrNotFound) {
				return fail("no customer record for this caller yet; create one first")
			}
			if err != nil {
				return fail("customer lookup is unavailable right now")
			}
			vehicle := vehicleFor(c, a.VehicleID)
			if vehicle == nil {
				return fail("vehicle %d is not on this caller's account", a.VehicleID)
			}

			taken, err := s.slotTaken(ctx, start, duration)
			if err != nil {
				slog.Warn("freebusy failed during booking", "error", err)
				return fail("cannot check the schedule right now")
			}
			if taken {
				return fail("that time was just taken; offer another slot")
			}

			// Calendar first. A dangling event is recoverable; a DB row
			// pointing at a missing event is not.
			ev := calendar.Event{
				Summary: fmt.Sprintf("%s - %s (%d %s %s)",
					serviceLabel(serviceType), c.FullName(),
					vehicle.Year, vehicle.Make, vehicle.Model),
				Description:   a.Notes,
				Start:         start.UTC(),
				End:           start.Add(duration).UTC(),
				AttendeeEmail: c.Email,
			}
			eventID, err := s.deps.Calendar.InsertEvent(ctx, ev)
			if err != nil {
				slog.Error("calendar insert failed", "error", err)
				return fail("the scheduling system is unavailable right now")
			}

			appt := &domain.Appointment{
				CustomerID:      c.ID,
				VehicleID:       vehicle.ID,
				ScheduledAt:     start.UTC(),
				DurationMinutes: int(duration.Minutes()),
				ServiceType:     serviceType,
				ExternalEventID: eventID,
				Notes:           a.Notes,
			}
			if err := s.deps.Appointments.Create(ctx, appt); err != nil {
				slog.Error("appointment insert failed, compensating calendar event",
					"event_id", eventID, "error", err)
				if delErr := s.deps.Calendar.DeleteEvent(ctx, eventID); delErr != nil &&
					!errors.Is(delErr, calendar.ErrEventNotFound) {
					slog.Error("compensating delete failed, orphaned calendar event",
						"event_id", eventID, "error", delErr)
				}
				return fail("could not save the appointment; nothing was booked")
			}
			appt.Vehicle = vehicle
			s.invalidateCaller(ctx)

			view := s.viewAppointment(*appt)
			return ok(view, fmt.Sprintf("Booked %s for %s.", serviceLabel(serviceType), view.ScheduledSpoken))
		},
	}
}

// getUpcomingAppointments lists the caller's scheduled visits.
func (s *set) getUpcomingAppointments() Tool {
	return Tool{
		Definition: types.ToolDefinition{
			Name:        "get_upcoming_appointments",
			Description: "List the caller's upcoming service appointments.",
			Parameters: objectSchema(map[string]any{
				"limit": map[string]any{
					"type":        "integer",
					"description": "Maximum number of appointments to return. Defaults to 10.",
				},
			}),
		},
		Handler: func(ctx context.Context, args string) Result {
			var a struct {
				Limit int `json:"limit"`
			}
			if err := decodeArgs(args, &a); err != nil {
				return fail("could not parse arguments: %v", err)
			}
			if a.Limit <= 0 {
				a.Limit = defaultUpcomingLimit
			}

			c, err := s.resolveCaller(ctx)
			if errors.Is(err, postgres.ErrNotFound) {
				return fail("no customer on file for this caller")
			}
			if err != nil {
				return fail("customer lookup is unavailable right now")
			}

			appts, err := s.deps.Appointments.ListUpcoming(ctx, c.ID, s.deps.Now())
			if err != nil {
				slog.Error("list upcoming failed", "error", err)
				return fail("cannot load appointments right now")
			}
			if len(appts) > a.Limit {
				appts = appts[:a.Limit]
			}

			views := make([]appointmentView, 0, len(appts))
			for _, appt := range appts {
				views = append(views, s.viewAppointment(appt))
			}
			if len(views) == 0 {
				return ok(views, "No upcoming appointments.")
			}
			return ok(views, "")
		},
	}
}

// cancelAppointment cancels in the database and then removes the calendar
// event best-effort. The database is the source of truth; a failed event
// delete is logged, never surfaced.
func (s *set) cancelAppointment() Tool {
	return Tool{
		Definition: types.ToolDefinition{
			Name:        "cancel_appointment",
			Description: "Cancel one of the caller's appointments. Confirm with the caller first.",
			Parameters: objectSchema(map[string]any{
				"appointment_id": map[string]any{"type": "integer"},
				"reason":         map[string]any{"type": "string"},
			}, "appointment_id"),
		},
		Handler: func(ctx context.Context, args string) Result {
			var a struct {
				AppointmentID int64  `json:"appointment_id"`
				Reason        string `json:"reason"`
			}
			if err := decodeArgs(args, &a); err != nil {
				return fail("could not parse arguments: %v", err)
			}

			appt, res := s.ownAppointment(ctx, a.AppointmentID)
			if appt == nil {
				return res
			}

			reason := a.Reason
			if reason == "" {
				reason = "customer request"
			}
			err := s.deps.Appointments.Cancel(ctx, a.AppointmentID, reason)
			if errors.Is(err, postgres.ErrAlreadyCancelled) {
				return fail("that appointment is already cancelled")
			}
			if err != nil {
				slog.Error("cancel failed", "appointment_id", a.AppointmentID, "error", err)
				return fail("could not cancel the appointment right now")
			}

			if appt.ExternalEventID != "" {
				if err := s.deps.Calendar.DeleteEvent(ctx, appt.ExternalEventID); err != nil &&
					!errors.Is(err, calendar.ErrEventNotFound) {
					slog.Warn("calendar delete after cancel failed",
						"event_id", appt.ExternalEventID, "error", err)
				}
			}
			s.invalidateCaller(ctx)

			return ok(nil, "The appointment is cancelled.")
		},
	}
}

// rescheduleAppointment moves an appointment. Rescheduling to the identical
// time is a successful no-op.
func (s *set) rescheduleAppointment() Tool {
	return Tool{
		Definition: types.ToolDefinition{
			Name:        "reschedule_appointment",
			Description: "Move one of the caller's appointments to a new time.",
			Parameters: objectSchema(map[string]any{
				"appointment_id": map[string]any{"type": "integer"},
				"new_start": map[string]any{
					"type":        "string",
					"description": "New start time, e.g. 2026-08-25 14:30.",
				},
			}, "appointment_id", "new_start"),
		},
		Handler: func(ctx context.Context, args string) Result {
			var a struct {
				AppointmentID int64  `json:"appointment_id"`
				NewStart      string `json:"new_start"`
			}
			if err := decodeArgs(args, &a); err != nil {
				return fail("could not parse arguments: %v", err)
			}

			appt, res := s.ownAppointment(ctx, a.AppointmentID)
			if appt == nil {
				return res
			}

			start, err := s.parseLocalTime(a.NewStart)
			if err != nil {
				return fail("%v", err)
			}
			if start.UTC().Equal(appt.ScheduledAt.UTC()) {
				return ok(s.viewAppointment(*appt), "The appointment is already at that time.")
			}
			if start.Weekday() == time.Sunday {
				return Result{Success: false, Error: calendar.ClosedMessage}
			}
			if !start.After(s.deps.Now().In(s.deps.Location)) {
				return fail("that time is in the past")
			}
			duration := time.Duration(appt.DurationMinutes) * time.Minute
			if !s.withinBusinessHours(start, duration) {
				return fail("that time is outside service department hours")
			}

			taken, err := s.slotTaken(ctx, start, duration)
			if err != nil {
				slog.Warn("freebusy failed during reschedule", "error", err)
				return fail("cannot check the schedule right now")
			}
			if taken {
				return fail("that time was just taken; offer another slot")
			}

			err = s.deps.Appointments.Reschedule(ctx, a.AppointmentID, start.UTC())
			if errors.Is(err, postgres.ErrAlreadyCancelled) {
				return fail("that appointment was cancelled and cannot be moved")
			}
			if err != nil {
				slog.Error("reschedule failed", "appointment_id", a.AppointmentID, "error", err)
				return fail("could not reschedule the appointment right now")
			}

			if appt.ExternalEventID != "" {
				ev := calendar.Event{
					Summary:     fmt.Sprintf("%s (rescheduled)", serviceLabel(appt.ServiceType)),
					Description: appt.Notes,
					Start:       start.UTC(),
					End:         start.Add(duration).UTC(),
				}
				if err := s.deps.Calendar.UpdateEvent(ctx, appt.ExternalEventID, ev); err != nil {
					slog.Warn("calendar update after reschedule failed",
						"event_id", appt.ExternalEventID, "error", err)
				}
			}
			s.invalidateCaller(ctx)

			appt.ScheduledAt = start.UTC()
			view := s.viewAppointment(*appt)
			return ok(view, fmt.Sprintf("Moved the appointment to %s.", view.ScheduledSpoken))
		},
	}
}

// ownAppointment loads an appointment and verifies it belongs to the caller.
// On failure the second return value is the envelope to hand back.
func (s *set) ownAppointment(ctx context.Context, id int64) (*domain.Appointment, Result) {
	appt, err := s.deps.Appointments.GetByID(ctx, id)
	if errors.Is(err, postgres.ErrNotFound) {
		return nil, fail("no appointment with ID %d", id)
	}
	if err != nil {
		slog.Error("appointment lookup failed", "appointment_id", id, "error", err)
		return nil, fail("cannot load that appointment right now")
	}

	c, err := s.resolveCaller(ctx)
	if err != nil || appt.CustomerID != c.ID {
		return nil, fail("no appointment with ID %d on this caller's account", id)
	}
	return appt, Result{}
}

// vehicleFor finds the vehicle on the customer's account, nil when absent.
func vehicleFor(c *domain.Customer, vehicleID int64) *domain.Vehicle {
	for i := range c.Vehicles {
		if c.Vehicles[i].ID == vehicleID {
			return &c.Vehicles[i]
		}
	}
	return nil
}

// serviceLabel renders a service type for event summaries and confirmations.
func serviceLabel(t domain.ServiceType) string {
	switch t {
	case domain.ServiceOilChange:
		return "Oil Change"
	case domain.ServiceTireRotation:
		return "Tire Rotation"
	case domain.ServiceBrakeService:
		return "Brake Service"
	case domain.ServiceBrakeInspection:
		return "Brake Inspection"
	case domain.ServiceInspection:
		return "Inspection"
	case domain.ServiceEngineDiagnostics:
		return "Engine Diagnostics"
	case domain.ServiceGeneralMaintenance:
		return "General Maintenance"
	case domain.ServiceRepair:
		return "Repair"
	case domain.ServiceDiagnostic:
		return "Diagnostic"
	case domain.ServiceRecall:
		return "Recall Service"
	default:
		return "Service Appointment"
	}
}
