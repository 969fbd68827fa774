// Package domain defines the durable and ephemeral entities of the Driveline
// dealership voice agent, together with their closed value sets and the
// validation rules enforced at every write boundary.
package domain

import "time"

// AppointmentStatus enumerates the lifecycle states of a service appointment.
type AppointmentStatus string

const (
	AppointmentScheduled  AppointmentStatus = "scheduled"
	AppointmentConfirmed  AppointmentStatus = "confirmed"
	AppointmentInProgress AppointmentStatus = "in_progress"
	AppointmentCompleted  AppointmentStatus = "completed"
	AppointmentCancelled  AppointmentStatus = "cancelled"
	AppointmentNoShow     AppointmentStatus = "no_show"
)

// IsValid reports whether s is a recognised appointment status.
func (s AppointmentStatus) IsValid() bool {
	switch s {
	case AppointmentScheduled, AppointmentConfirmed, AppointmentInProgress,
		AppointmentCompleted, AppointmentCancelled, AppointmentNoShow:
		return true
	}
	return false
}

// ServiceType enumerates the service categories an appointment can be booked for.
type ServiceType string

const (
	ServiceOilChange          ServiceType = "oil_change"
	ServiceTireRotation       ServiceType = "tire_rotation"
	ServiceBrakeService       ServiceType = "brake_service"
	ServiceBrakeInspection    ServiceType = "brake_inspection"
	ServiceInspection         ServiceType = "inspection"
	ServiceEngineDiagnostics  ServiceType = "engine_diagnostics"
	ServiceGeneralMaintenance ServiceType = "general_maintenance"
	ServiceRepair             ServiceType = "repair"
	ServiceDiagnostic         ServiceType = "diagnostic"
	ServiceRecall             ServiceType = "recall"
	ServiceOther              ServiceType = "other"
)

// IsValid reports whether s is a recognised service type.
func (s ServiceType) IsValid() bool {
	switch s {
	case ServiceOilChange, ServiceTireRotation, ServiceBrakeService,
		ServiceBrakeInspection, ServiceInspection, ServiceEngineDiagnostics,
		ServiceGeneralMaintenance, ServiceRepair, ServiceDiagnostic,
		ServiceRecall, ServiceOther:
		return true
	}
	return false
}

// BookingMethod enumerates how an appointment was created.
type BookingMethod string

const (
	BookingPhone   BookingMethod = "phone"
	BookingOnline  BookingMethod = "online"
	BookingWalkIn  BookingMethod = "walk_in"
	BookingAIVoice BookingMethod = "ai_voice"
)

// IsValid reports whether m is a recognised booking method.
func (m BookingMethod) IsValid() bool {
	switch m {
	case BookingPhone, BookingOnline, BookingWalkIn, BookingAIVoice:
		return true
	}
	return false
}

// CallDirection enumerates whether the dealership or the customer placed a call.
type CallDirection string

const (
	CallInbound  CallDirection = "inbound"
	CallOutbound CallDirection = "outbound"
)

// VehicleStatus enumerates the ownership state of a vehicle on file.
type VehicleStatus string

const (
	VehicleActive  VehicleStatus = "active"
	VehicleSold    VehicleStatus = "sold"
	VehicleTotaled VehicleStatus = "totaled"
)

// Customer is a dealership customer record. Phone is unique and stored in
// E.164 form; all timestamps are UTC.
type Customer struct {
	ID            int64
	Phone         string
	Email         string // lowercased, empty when unknown
	FirstName     string
	LastName      string
	DateOfBirth   time.Time
	AddressLine1  string
	City          string
	State         string
	PostalCode    string
	CustomerSince time.Time
	PrefersSMS    bool
	PrefersEmail  bool
	CreatedAt     time.Time
	UpdatedAt     time.Time

	// Vehicles is populated by eager-loading lookups. May be nil.
	Vehicles []Vehicle
}

// FullName returns the customer's display name.
func (c Customer) FullName() string {
	switch {
	case c.FirstName == "":
		return c.LastName
	case c.LastName == "":
		return c.FirstName
	default:
		return c.FirstName + " " + c.LastName
	}
}

// Vehicle is a customer-owned vehicle. VIN is unique, 17 chars, uppercased.
type Vehicle struct {
	ID              int64
	CustomerID      int64
	VIN             string
	Year            int
	Make            string
	Model           string
	Trim            string
	Color           string
	Mileage         int
	LastServiceDate time.Time
	NextServiceDue  time.Time
	IsPrimary       bool
	Status          VehicleStatus
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Appointment is a scheduled service visit. The vehicle must belong to the
// same customer at write time, and cancelled appointments are immutable.
type Appointment struct {
	ID                 int64
	CustomerID         int64
	VehicleID          int64
	ScheduledAt        time.Time
	DurationMinutes    int
	ServiceType        ServiceType
	Status             AppointmentStatus
	CancellationReason string
	BookingMethod      BookingMethod
	ExternalEventID    string // calendar event id, empty when not linked
	Notes              string
	ConfirmationSent   bool
	ReminderSent       bool
	CompletedAt        time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time

	// Vehicle is populated by eager-loading lookups. May be nil.
	Vehicle *Vehicle
}

// CallLog is the durable record of one completed call.
type CallLog struct {
	ID               int64
	CallSID          string
	CustomerID       int64 // 0 when the caller was not matched
	Direction        CallDirection
	CallerPhone      string
	Intent           string
	Transcript       string
	StartedAt        time.Time
	EndedAt          time.Time
	Outcome          string
	PromptTokens     int
	CompletionTokens int
}

// CallState enumerates the advisory turn states surfaced to the LLM and
// recorded in the session for analytics. Transitions are driven by finalized
// utterances and tool results, never hard-wired to specific phrasings.
type CallState string

const (
	StateGreeting        CallState = "greeting"
	StateIntentDetection CallState = "intent_detection"
	StateSlotCollection  CallState = "slot_collection"
	StateExecution       CallState = "execution"
	StateConfirmation    CallState = "confirmation"
	StateClosing         CallState = "closing"
	StateEscalation      CallState = "escalation"
	StateIdleListening   CallState = "idle_listening"
)

// CallType classifies a session at initialization time.
type CallType string

const (
	CallInboundExisting CallType = "inbound_existing"
	CallInboundNew      CallType = "inbound_new"
	CallOutboundRemind  CallType = "outbound_reminder"
)

// Turn is one entry of the persisted conversation history.
type Turn struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolCalls  []TurnCall `json:"tool_calls,omitempty"`
}

// TurnCall is the persisted form of an assistant tool invocation.
type TurnCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Session is the ephemeral per-call record held in the session store under
// `session:{call_sid}` with a TTL of one hour.
type Session struct {
	CallSID     string            `json:"call_sid"`
	StreamSID   string            `json:"stream_sid"`
	CallerPhone string            `json:"caller_phone"`
	CustomerID  int64             `json:"customer_id,omitempty"`
	History     []Turn            `json:"conversation_history"`
	State       CallState         `json:"current_state"`
	Slots       map[string]string `json:"collected_slots,omitempty"`
	Intent      string            `json:"intent,omitempty"`
	Speaking    bool              `json:"speaking"`
	CreatedAt   time.Time         `json:"created_at"`
	LastUpdated time.Time         `json:"last_updated"`
	EndedAt     time.Time         `json:"ended_at,omitempty"`

	PromptTokens     int `json:"prompt_tokens,omitempty"`
	CompletionTokens int `json:"completion_tokens,omitempty"`
}

// CustomerSnapshot is the cached projection stored under `customer:{phone}`
// with a five-minute TTL. It is a pure derived view, invalidated after every
// write that affects the customer.
type CustomerSnapshot struct {
	Customer     Customer      `json:"customer"`
	Vehicles     []Vehicle     `json:"vehicles"`
	Appointments []Appointment `json:"upcoming_appointments"`
	CachedAt     time.Time     `json:"cached_at"`
}
