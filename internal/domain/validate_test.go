package domain

import (
	"errors"
	"testing"
)

func TestNormalizePhone(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want string
	}{
		{"nanp with formatting", "(555) 123-4567", "+15551234567"},
		{"already e164", "+15551234567", "+15551234567"},
		{"eleven digits", "15551234567", "+15551234567"},
		{"international", "+49 30 901820", "+4930901820"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := NormalizePhone(tc.in)
			if err != nil {
				t.Fatalf("NormalizePhone(%q): %v", tc.in, err)
			}
			if got != tc.want {
				t.Fatalf("NormalizePhone(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestNormalizePhone_Idempotent(t *testing.T) {
	t.Parallel()

	once, err := NormalizePhone("(555) 123-4567")
	if err != nil {
		t.Fatalf("first pass: %v", err)
	}
	twice, err := NormalizePhone(once)
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if once != twice {
		t.Fatalf("normalization not idempotent: %q != %q", once, twice)
	}
}

func TestNormalizePhone_Rejects(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"", "555-1234", "123456789", "1234567890123456"} {
		if _, err := NormalizePhone(in); !errors.Is(err, ErrInvalidPhone) {
			t.Errorf("NormalizePhone(%q): want ErrInvalidPhone, got %v", in, err)
		}
	}
}

func TestMaskPhone(t *testing.T) {
	t.Parallel()

	if got := MaskPhone("+15551234567"); got != "********4567" {
		t.Fatalf("MaskPhone = %q", got)
	}
	if got := MaskPhone("12"); got != "****" {
		t.Fatalf("MaskPhone short = %q", got)
	}
}

func TestNormalizeVIN(t *testing.T) {
	t.Parallel()

	got, err := NormalizeVIN("1hgcm82633a004352")
	if err != nil {
		t.Fatalf("NormalizeVIN: %v", err)
	}
	if got != "1HGCM82633A004352" {
		t.Fatalf("NormalizeVIN = %q", got)
	}

	// Uppercasing is idempotent.
	again, err := NormalizeVIN(got)
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if again != got {
		t.Fatalf("not idempotent: %q != %q", again, got)
	}
}

func TestNormalizeVIN_Rejects(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"too short":  "1HGCM82633A00435",
		"too long":   "1HGCM82633A0043522",
		"contains I": "IHGCM82633A004352",
		"contains O": "OHGCM82633A004352",
		"contains Q": "QHGCM82633A004352",
		"bad rune":   "1HGCM82633A00435!",
	}
	for name, vin := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			if _, err := NormalizeVIN(vin); !errors.Is(err, ErrInvalidVIN) {
				t.Fatalf("want ErrInvalidVIN, got %v", err)
			}
		})
	}
}

func TestNormalizeEmail(t *testing.T) {
	t.Parallel()

	got, err := NormalizeEmail("  Jane.Roe@Example.COM ")
	if err != nil {
		t.Fatalf("NormalizeEmail: %v", err)
	}
	if got != "jane.roe@example.com" {
		t.Fatalf("NormalizeEmail = %q", got)
	}

	if _, err := NormalizeEmail("not-an-email"); err == nil {
		t.Fatal("want error for address without @")
	}
	if got, err := NormalizeEmail(""); err != nil || got != "" {
		t.Fatalf("empty email should pass through, got %q, %v", got, err)
	}
}

func TestClosedSets(t *testing.T) {
	t.Parallel()

	if !ServiceOilChange.IsValid() || ServiceType("detailing").IsValid() {
		t.Fatal("ServiceType.IsValid misbehaves")
	}
	if !AppointmentNoShow.IsValid() || AppointmentStatus("pending").IsValid() {
		t.Fatal("AppointmentStatus.IsValid misbehaves")
	}
	if !BookingAIVoice.IsValid() || BookingMethod("fax").IsValid() {
		t.Fatal("BookingMethod.IsValid misbehaves")
	}
}
