package core

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestDateValidate(t *testing.T) {
	cases := []struct {
		d  Date
		ok bool
	}{
		{NewDate(2025, 1, 1), true},
		{NewDate(2025, 12, 31), true},
		{Date{Time: time.Time{}}, false}, // zero time
	}
	for i, tc := range cases {
		err := tc.d.Validate()
		if tc.ok && err != nil {
			t.Fatalf("case %d expected ok, got %v", i, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("case %d expected error", i)
		}
	}
}

func TestDateOfUsesLocation(t *testing.T) {
	dubai := time.FixedZone("GST", 4*3600)
	// 21:30 UTC on the 14th is already the 15th in Dubai.
	ts := time.Date(2025, 1, 14, 21, 30, 0, 0, time.UTC)

	if got := DateOf(ts, dubai).String(); got != "2025-01-15" {
		t.Fatalf("DateOf dubai = %s, want 2025-01-15", got)
	}
	if got := DateOf(ts, time.UTC).String(); got != "2025-01-14" {
		t.Fatalf("DateOf utc = %s, want 2025-01-14", got)
	}
	if got := MonthOf(ts, nil).String(); got != "2025-01" {
		t.Fatalf("MonthOf = %s, want 2025-01", got)
	}
}

func TestParseDateAndMonth(t *testing.T) {
	d, err := ParseDate("2025-02-28")
	if err != nil {
		t.Fatalf("ParseDate: %v", err)
	}
	if !d.Equal(NewDate(2025, 2, 28).Time) {
		t.Fatalf("ParseDate = %v", d)
	}
	if !d.IsLastDayOfMonth() {
		t.Fatalf("2025-02-28 should be the last day of the month")
	}
	if NewDate(2024, 2, 28).IsLastDayOfMonth() {
		t.Fatalf("2024-02-28 is not the last day of a leap February")
	}
	if _, err := ParseDate("2025-13-01"); !errors.Is(err, ErrInvalidDate) {
		t.Fatalf("expected ErrInvalidDate, got %v", err)
	}

	m, err := ParseMonth("2025-09")
	if err != nil {
		t.Fatalf("ParseMonth: %v", err)
	}
	if !m.Contains(NewDate(2025, 9, 30)) || m.Contains(NewDate(2025, 10, 1)) {
		t.Fatalf("Contains mismatch for %s", m)
	}
	if _, err := ParseMonth("september"); !errors.Is(err, ErrInvalidMonth) {
		t.Fatalf("expected ErrInvalidMonth, got %v", err)
	}
}

func TestMessageIdentityMatches(t *testing.T) {
	cases := []struct {
		name string
		a, b MessageIdentity
		want bool
	}{
		{"same line", MessageIdentity{1, LineAt(0)}, MessageIdentity{1, LineAt(0)}, true},
		{"other line", MessageIdentity{1, LineAt(0)}, MessageIdentity{1, LineAt(1)}, false},
		{"other message", MessageIdentity{1, LineAt(0)}, MessageIdentity{2, LineAt(0)}, false},
		{"both legacy", MessageIdentity{MessageID: 1}, MessageIdentity{MessageID: 1}, true},
		{"legacy lookup matches any line", MessageIdentity{MessageID: 1}, MessageIdentity{1, LineAt(3)}, true},
		{"line lookup vs legacy entry", MessageIdentity{1, LineAt(0)}, MessageIdentity{MessageID: 1}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.a.Matches(tc.b); got != tc.want {
				t.Fatalf("Matches = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestEntryValidate(t *testing.T) {
	good := Entry{
		Date:     NewDate(2025, 1, 15),
		Category: "coffee",
		Amount:   decimal.NewFromInt(2200),
		Conversion: &Conversion{
			OriginalAmount:   decimal.RequireFromString("5.50"),
			OriginalCurrency: "USD",
			ExchangeRate:     decimal.NewFromInt(400),
		},
	}
	if err := good.Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}

	bads := []Entry{
		{Date: Date{}, Category: "a", Amount: decimal.NewFromInt(1)},
		{Date: NewDate(2025, 1, 1), Category: " ", Amount: decimal.NewFromInt(1)},
		{Date: NewDate(2025, 1, 1), Category: "a", Amount: decimal.NewFromInt(-1)},
		{Date: NewDate(2025, 1, 1), Category: "a", Amount: decimal.NewFromInt(1),
			Conversion: &Conversion{OriginalAmount: decimal.NewFromInt(1), OriginalCurrency: "US", ExchangeRate: decimal.NewFromInt(1)}},
		{Date: NewDate(2025, 1, 1), Category: "a", Amount: decimal.NewFromInt(1),
			Conversion: &Conversion{OriginalAmount: decimal.NewFromInt(1), OriginalCurrency: "USD"}},
	}
	for i, e := range bads {
		if err := e.Validate(); err == nil {
			t.Fatalf("case %d expected error", i)
		}
	}
}

func TestIsCurrencyCode(t *testing.T) {
	for code, want := range map[string]bool{
		"USD": true, "usd": true, "Eur": true,
		"US": false, "USDT": false, "U5D": false, "": false, "U$D": false,
	} {
		if got := IsCurrencyCode(code); got != want {
			t.Errorf("IsCurrencyCode(%q) = %v, want %v", code, got, want)
		}
	}
}
