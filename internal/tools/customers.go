package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/driveline-ai/driveline/internal/domain"
	"github.com/driveline-ai/driveline/internal/store/postgres"
	"github.com/driveline-ai/driveline/pkg/types"
)

// customerView is the model-facing projection of a customer record.
type customerView struct {
	ID            int64         `json:"id"`
	Name          string        `json:"name"`
	Phone         string        `json:"phone"`
	Email         string        `json:"email,omitempty"`
	CustomerSince string        `json:"customer_since,omitempty"`
	Vehicles      []vehicleView `json:"vehicles"`
}

// vehicleView is the model-facing projection of a vehicle.
type vehicleView struct {
	ID             int64  `json:"id"`
	Year           int    `json:"year,omitempty"`
	Make           string `json:"make"`
	Model          string `json:"model"`
	VIN            string `json:"vin"`
	Mileage        int    `json:"mileage,omitempty"`
	IsPrimary      bool   `json:"is_primary"`
	NextServiceDue string `json:"next_service_due,omitempty"`
}

func viewCustomer(c *domain.Customer) customerView {
	v := customerView{
		ID:       c.ID,
		Name:     c.FullName(),
		Phone:    c.Phone,
		Email:    c.Email,
		Vehicles: []vehicleView{},
	}
	if !c.CustomerSince.IsZero() {
		v.CustomerSince = c.CustomerSince.Format("January 2006")
	}
	for _, veh := range c.Vehicles {
		v.Vehicles = append(v.Vehicles, viewVehicle(veh))
	}
	return v
}

func viewVehicle(veh domain.Vehicle) vehicleView {
	v := vehicleView{
		ID:        veh.ID,
		Year:      veh.Year,
		Make:      veh.Make,
		Model:     veh.Model,
		VIN:       veh.VIN,
		Mileage:   veh.Mileage,
		IsPrimary: veh.IsPrimary,
	}
	if !veh.NextServiceDue.IsZero() {
		v.NextServiceDue = veh.NextServiceDue.Format("2006-01-02")
	}
	return v
}

// resolveCaller loads the caller's customer record, serving from the
// snapshot cache when warm. A cache outage falls through to the database.
func (s *set) resolveCaller(ctx context.Context) (*domain.Customer, error) {
	return s.resolveByPhone(ctx, s.call.CallerPhone)
}

func (s *set) resolveByPhone(ctx context.Context, phone string) (*domain.Customer, error) {
	if s.deps.Cache != nil {
		snap, hit, err := s.deps.Cache.GetCachedCustomer(ctx, phone)
		if err != nil {
			slog.Warn("customer cache read failed", "error", err)
		} else if hit {
			c := snap.Customer
			c.Vehicles = snap.Vehicles
			return &c, nil
		}
	}

	c, err := s.deps.Customers.GetByPhone(ctx, phone)
	if err != nil {
		return nil, err
	}

	if s.deps.Cache != nil {
		snap := &domain.CustomerSnapshot{
			Customer: *c,
			Vehicles: c.Vehicles,
			CachedAt: s.deps.Now().UTC(),
		}
		if err := s.deps.Cache.CacheCustomer(ctx, phone, snap); err != nil {
			slog.Warn("customer cache write failed", "error", err)
		}
	}
	return c, nil
}

// invalidateCaller drops the caller's cached snapshot after any write.
func (s *set) invalidateCaller(ctx context.Context) {
	if s.deps.Cache == nil {
		return
	}
	if err := s.deps.Cache.InvalidateCustomer(ctx, s.call.CallerPhone); err != nil {
		slog.Warn("customer cache invalidation failed", "error", err)
	}
}

// lookupCustomer finds the caller (or an explicitly given number) in the CRM.
func (s *set) lookupCustomer() Tool {
	return Tool{
		Definition: types.ToolDefinition{
			Name: "lookup_customer",
			Description: "Look up a customer record by phone number, including their " +
				"vehicles on file. Defaults to the current caller's number.",
			Parameters: objectSchema(map[string]any{
				"phone": map[string]any{
					"type":        "string",
					"description": "Phone number to look up. Omit to use the caller's number.",
				},
			}),
		},
		Handler: func(ctx context.Context, args string) Result {
			var a struct {
				Phone string `json:"phone"`
			}
			if err := decodeArgs(args, &a); err != nil {
				return fail("could not parse arguments: %v", err)
			}

			phone := s.call.CallerPhone
			if a.Phone != "" {
				normalized, err := domain.NormalizePhone(a.Phone)
				if err != nil {
					return fail("that phone number does not look valid")
				}
				phone = normalized
			}

			c, err := s.resolveByPhone(ctx, phone)
			if errors.Is(err, postgres.ErrNotFound) {
				// Not finding a record is a successful lookup, not a tool
				// failure; new callers hit this path on every call.
				return ok(map[string]any{"found": false},
					"No customer on file for that number. Offer to set them up as a new customer with create_customer.")
			}
			if err != nil {
				return fail("customer lookup is unavailable right now")
			}
			return ok(map[string]any{"found": true, "customer": viewCustomer(c)}, "")
		},
	}
}

// createCustomer adds a new customer record for the caller.
func (s *set) createCustomer() Tool {
	return Tool{
		Definition: types.ToolDefinition{
			Name: "create_customer",
			Description: "Create a new customer record. Use after lookup_customer finds " +
				"no record and the caller wants to get set up.",
			Parameters: objectSchema(map[string]any{
				"first_name": map[string]any{"type": "string"},
				"last_name":  map[string]any{"type": "string"},
				"phone": map[string]any{
					"type":        "string",
					"description": "Defaults to the caller's number.",
				},
				"email": map[string]any{"type": "string"},
			}, "first_name", "last_name"),
		},
		Handler: func(ctx context.Context, args string) Result {
			var a struct {
				FirstName string `json:"first_name"`
				LastName  string `json:"last_name"`
				Phone     string `json:"phone"`
				Email     string `json:"email"`
			}
			if err := decodeArgs(args, &a); err != nil {
				return fail("could not parse arguments: %v", err)
			}
			if a.FirstName == "" || a.LastName == "" {
				return fail("first and last name are required")
			}

			phone := s.call.CallerPhone
			if a.Phone != "" {
				normalized, err := domain.NormalizePhone(a.Phone)
				if err != nil {
					return fail("that phone number does not look valid")
				}
				phone = normalized
			}
			email, err := domain.NormalizeEmail(a.Email)
			if err != nil {
				return fail("that email address does not look valid")
			}

			c := &domain.Customer{
				Phone:     phone,
				FirstName: a.FirstName,
				LastName:  a.LastName,
				Email:     email,
			}
			if err := s.deps.Customers.Create(ctx, c); err != nil {
				slog.Error("create customer failed", "error", err)
				return fail("could not create the customer record right now")
			}
			s.invalidateCaller(ctx)

			return ok(viewCustomer(c), fmt.Sprintf("Created customer record for %s.", c.FullName()))
		},
	}
}

// createVehicle adds a vehicle to the caller's record, filling specification
// gaps from the VIN decode when possible.
func (s *set) createVehicle() Tool {
	return Tool{
		Definition: types.ToolDefinition{
			Name: "create_vehicle",
			Description: "Add a vehicle to the caller's customer record by VIN. Year, " +
				"make, and model are filled in from the VIN when not given.",
			Parameters: objectSchema(map[string]any{
				"vin":     map[string]any{"type": "string"},
				"year":    map[string]any{"type": "integer"},
				"make":    map[string]any{"type": "string"},
				"model":   map[string]any{"type": "string"},
				"mileage": map[string]any{"type": "integer"},
			}, "vin"),
		},
		Handler: func(ctx context.Context, args string) Result {
			var a struct {
				VIN     string `json:"vin"`
				Year    int    `json:"year"`
				Make    string `json:"make"`
				Model   string `json:"model"`
				Mileage int    `json:"mileage"`
			}
			if err := decodeArgs(args, &a); err != nil {
				return fail("could not parse arguments: %v", err)
			}

			normalized, err := domain.NormalizeVIN(a.VIN)
			if err != nil {
				return fail("that VIN is not valid: it must be 17 characters and never contains I, O, or Q")
			}

			c, err := s.resolveCaller(ctx)
			if errors.Is(err, postgres.ErrNotFound) {
				return fail("no customer record for this caller yet; create one first")
			}
			if err != nil {
				return fail("customer lookup is unavailable right now")
			}

			v := &domain.Vehicle{
				CustomerID: c.ID,
				VIN:        normalized,
				Year:       a.Year,
				Make:       a.Make,
				Model:      a.Model,
				Mileage:    a.Mileage,
				IsPrimary:  len(c.Vehicles) == 0,
			}
			if v.Make == "" || v.Model == "" || v.Year == 0 {
				if s.deps.VIN != nil {
					if decoded, err := s.deps.VIN.Decode(ctx, normalized); err == nil {
						if v.Year == 0 {
							v.Year = decoded.Year
						}
						if v.Make == "" {
							v.Make = decoded.Make
						}
						if v.Model == "" {
							v.Model = decoded.Model
						}
					} else {
						slog.Warn("vin decode during create_vehicle failed", "error", err)
					}
				}
			}

			if err := s.deps.Vehicles.Create(ctx, v); err != nil {
				slog.Error("create vehicle failed", "error", err)
				return fail("could not add the vehicle right now")
			}
			s.invalidateCaller(ctx)

			return ok(viewVehicle(*v), fmt.Sprintf("Added the %d %s %s to the account.", v.Year, v.Make, v.Model))
		},
	}
}

// decodeVIN resolves a VIN to its vehicle specification.
func (s *set) decodeVIN() Tool {
	return Tool{
		Definition: types.ToolDefinition{
			Name: "decode_vin",
			Description: "Decode a 17-character VIN into year, make, model, and " +
				"specification details.",
			Parameters: objectSchema(map[string]any{
				"vin": map[string]any{"type": "string"},
			}, "vin"),
		},
		Handler: func(ctx context.Context, args string) Result {
			var a struct {
				VIN string `json:"vin"`
			}
			if err := decodeArgs(args, &a); err != nil {
				return fail("could not parse arguments: %v", err)
			}
			if s.deps.VIN == nil {
				return fail("VIN decoding is not available")
			}

			res, err := s.deps.VIN.Decode(ctx, a.VIN)
			if errors.Is(err, domain.ErrInvalidVIN) {
				return fail("that VIN is not valid: it must be 17 characters and never contains I, O, or Q")
			}
			if err != nil {
				slog.Warn("vin decode failed", "error", err)
				return fail("could not decode that VIN right now")
			}
			return ok(res, "")
		},
	}
}
