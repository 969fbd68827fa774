package prompt

import (
	"strings"
	"testing"
	"time"

	"github.com/driveline-ai/driveline/internal/config"
	"github.com/driveline-ai/driveline/internal/domain"
)

func testParams() Params {
	return Params{
		Customer: &domain.Customer{
			ID:            1,
			FirstName:     "Maria",
			LastName:      "Santos",
			CustomerSince: time.Date(2019, 3, 1, 0, 0, 0, 0, time.UTC),
			Vehicles: []domain.Vehicle{{
				ID: 10, Year: 2021, Make: "Honda", Model: "Civic",
				NextServiceDue: time.Date(2026, 9, 15, 0, 0, 0, 0, time.UTC),
			}},
		},
		Hours: config.BusinessHoursConfig{
			WeekdayOpen: 9, WeekdayClose: 17,
			SaturdayOpen: 9, SaturdayClose: 15,
			LunchStart: 12, LunchEnd: 13,
		},
		Location: time.UTC,
		Now:      time.Date(2026, 8, 24, 14, 30, 0, 0, time.UTC),
	}
}

func TestSystem_InboundExisting(t *testing.T) {
	t.Parallel()

	got := System(domain.CallInboundExisting, testParams())

	for _, want := range []string{
		"Maria Santos",
		"since March 2019",
		"2021 Honda Civic (vehicle_id 10)",
		"next service due September 15, 2026",
		"Monday through Friday 9 AM to 5 PM",
		"Saturday 9 AM to 3 PM",
		"noon to 1 PM for lunch",
		"closed all day Sunday",
		"Monday, August 24, 2026",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestSystem_InboundNew(t *testing.T) {
	t.Parallel()

	p := testParams()
	p.Customer = nil
	got := System(domain.CallInboundNew, p)

	if !strings.Contains(got, "no customer record on file") {
		t.Error("new-caller context missing")
	}
	if !strings.Contains(got, "create_customer") || !strings.Contains(got, "create_vehicle") {
		t.Error("onboarding tool guidance missing")
	}
	if strings.Contains(got, "Maria") {
		t.Error("customer context leaked into new-caller prompt")
	}
}

func TestSystem_OutboundReminder(t *testing.T) {
	t.Parallel()

	p := testParams()
	p.Target = &domain.Appointment{
		ID:          42,
		ServiceType: domain.ServiceOilChange,
		ScheduledAt: time.Date(2026, 8, 26, 14, 0, 0, 0, time.UTC),
		Vehicle:     &p.Customer.Vehicles[0],
	}
	got := System(domain.CallOutboundRemind, p)

	for _, want := range []string{
		"outbound reminder call",
		"appointment_id 42",
		"Wednesday, August 26 at 2:00 PM",
		"2021 Honda Civic",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestSystem_DefaultsPersona(t *testing.T) {
	t.Parallel()

	got := System(domain.CallInboundNew, Params{})
	if !strings.Contains(got, DefaultAgentName) || !strings.Contains(got, DefaultDealershipName) {
		t.Error("default persona not applied")
	}
}

func TestGreeting(t *testing.T) {
	t.Parallel()

	p := testParams()

	got := Greeting(domain.CallInboundExisting, p)
	if !strings.Contains(got, "Hi Maria") {
		t.Errorf("existing-customer greeting = %q", got)
	}

	got = Greeting(domain.CallInboundNew, p)
	if !strings.Contains(got, "Thanks for calling") {
		t.Errorf("new-caller greeting = %q", got)
	}

	got = Greeting(domain.CallOutboundRemind, p)
	if !strings.Contains(got, "upcoming appointment") {
		t.Errorf("reminder greeting = %q", got)
	}
}
