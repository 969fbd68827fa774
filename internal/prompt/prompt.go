// Package prompt composes the system prompt for a call from the base persona
// and call-type-specific context. The prompt is built once at session
// initialization and handed to the chat loop; tools carry their own schemas.
package prompt

import (
	"fmt"
	"strings"
	"time"

	"github.com/driveline-ai/driveline/internal/config"
	"github.com/driveline-ai/driveline/internal/domain"
)

// Defaults used when the deployment does not override the persona.
const (
	DefaultAgentName      = "Alex"
	DefaultDealershipName = "Driveline Motors"
)

// persona is the base instruction block shared by every call type. Voice
// output constraints come first; the model drifts toward prose otherwise.
const persona = `You are %s, the service scheduling assistant for %s, speaking with a customer on the phone.

Voice rules:
- Your words are spoken aloud. Keep every reply to one or two short sentences.
- Never use lists, markdown, emoji, or spelled-out URLs.
- Say times naturally ("Tuesday at nine thirty in the morning"), never ISO timestamps.
- Ask one question at a time.

Conduct:
- Use the tools for every factual claim about customers, vehicles, appointments, or availability. Never invent records, prices, or times.
- Confirm the service, vehicle, date, and time back to the caller before booking, cancelling, or moving anything.
- When a tool fails, apologize briefly and offer an alternative; never read error text aloud.
- If the caller asks for anything beyond service scheduling, or asks for a person, offer to transfer them to the service desk.`

// Params carries the call context the prompt is built from. Customer and
// Target are nil when unknown.
type Params struct {
	AgentName      string
	DealershipName string

	Customer *domain.Customer

	// Upcoming is the customer's non-cancelled future appointments.
	Upcoming []domain.Appointment

	// Target is the appointment an outbound reminder call is about.
	Target *domain.Appointment

	Hours    config.BusinessHoursConfig
	Location *time.Location
	Now      time.Time
}

// System composes the full system prompt for one call.
func System(callType domain.CallType, p Params) string {
	if p.AgentName == "" {
		p.AgentName = DefaultAgentName
	}
	if p.DealershipName == "" {
		p.DealershipName = DefaultDealershipName
	}
	if p.Location == nil {
		p.Location = time.UTC
	}
	if p.Now.IsZero() {
		p.Now = time.Now()
	}

	var b strings.Builder
	fmt.Fprintf(&b, persona, p.AgentName, p.DealershipName)
	b.WriteString("\n\n")
	writeHours(&b, p.Hours)
	fmt.Fprintf(&b, "\nThe current date and time is %s.\n",
		p.Now.In(p.Location).Format("Monday, January 2, 2006, 3:04 PM"))

	switch callType {
	case domain.CallInboundExisting:
		writeCustomer(&b, p)
	case domain.CallInboundNew:
		b.WriteString(`
This caller has no customer record on file. Greet them, and if they want to book a service, collect their first and last name and create a record with create_customer, then register their vehicle with create_vehicle before booking.
`)
	case domain.CallOutboundRemind:
		writeReminder(&b, p)
	}
	return b.String()
}

// Greeting returns the assistant's opening line, spoken before the caller
// says anything.
func Greeting(callType domain.CallType, p Params) string {
	agent := p.AgentName
	if agent == "" {
		agent = DefaultAgentName
	}
	shop := p.DealershipName
	if shop == "" {
		shop = DefaultDealershipName
	}

	switch callType {
	case domain.CallInboundExisting:
		if p.Customer != nil && p.Customer.FirstName != "" {
			return fmt.Sprintf("Hi %s, thanks for calling %s service, this is %s. How can I help you today?",
				p.Customer.FirstName, shop, agent)
		}
	case domain.CallOutboundRemind:
		name := ""
		if p.Customer != nil {
			name = " " + p.Customer.FirstName
		}
		return fmt.Sprintf("Hi%s, this is %s calling from %s service about your upcoming appointment. Do you have a quick moment?",
			name, agent, shop)
	}
	return fmt.Sprintf("Thanks for calling %s service, this is %s. How can I help you today?", shop, agent)
}

func writeHours(b *strings.Builder, h config.BusinessHoursConfig) {
	fmt.Fprintf(b,
		"The service department takes appointments Monday through Friday %s to %s and Saturday %s to %s, closed %s to %s for lunch and closed all day Sunday.\n",
		hourWord(h.WeekdayOpen), hourWord(h.WeekdayClose),
		hourWord(h.SaturdayOpen), hourWord(h.SaturdayClose),
		hourWord(h.LunchStart), hourWord(h.LunchEnd))
}

func writeCustomer(b *strings.Builder, p Params) {
	c := p.Customer
	if c == nil {
		return
	}
	fmt.Fprintf(b, "\nYou are speaking with %s, a customer", c.FullName())
	if !c.CustomerSince.IsZero() {
		fmt.Fprintf(b, " since %s", c.CustomerSince.Format("January 2006"))
	}
	b.WriteString(".\n")

	if len(c.Vehicles) > 0 {
		b.WriteString("Vehicles on file:\n")
		for _, v := range c.Vehicles {
			fmt.Fprintf(b, "- %d %s %s (vehicle_id %d)", v.Year, v.Make, v.Model, v.ID)
			if !v.LastServiceDate.IsZero() {
				fmt.Fprintf(b, ", last serviced %s", v.LastServiceDate.Format("January 2, 2006"))
			}
			if !v.NextServiceDue.IsZero() {
				fmt.Fprintf(b, ", next service due %s", v.NextServiceDue.Format("January 2, 2006"))
			}
			b.WriteString("\n")
		}
	}

	if len(p.Upcoming) > 0 {
		b.WriteString("Upcoming appointments:\n")
		for _, a := range p.Upcoming {
			fmt.Fprintf(b, "- %s on %s (appointment_id %d)\n",
				a.ServiceType, a.ScheduledAt.In(p.Location).Format("Monday, January 2 at 3:04 PM"), a.ID)
		}
	}
}

func writeReminder(b *strings.Builder, p Params) {
	b.WriteString("\nThis is an outbound reminder call you placed.")
	if p.Customer != nil {
		fmt.Fprintf(b, " You are calling %s.", p.Customer.FullName())
	}
	b.WriteString("\n")
	if a := p.Target; a != nil {
		fmt.Fprintf(b, "The appointment you are calling about: %s on %s (appointment_id %d)",
			a.ServiceType, a.ScheduledAt.In(p.Location).Format("Monday, January 2 at 3:04 PM"), a.ID)
		if a.Vehicle != nil {
			fmt.Fprintf(b, " for their %d %s %s", a.Vehicle.Year, a.Vehicle.Make, a.Vehicle.Model)
		}
		b.WriteString(".\n")
	}
	b.WriteString("Remind them of the time, then offer to keep, move, or cancel the appointment. If they want changes, use the tools.\n")
}

// hourWord renders a 24h clock hour the way it should be spoken.
func hourWord(h int) string {
	switch {
	case h == 0:
		return "midnight"
	case h == 12:
		return "noon"
	case h < 12:
		return fmt.Sprintf("%d AM", h)
	default:
		return fmt.Sprintf("%d PM", h-12)
	}
}
