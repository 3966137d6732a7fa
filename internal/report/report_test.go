package report

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"accountant/internal/core"
	"accountant/internal/storage/memory"
)

var day = core.NewDate(2025, 1, 15)

func usd(amount string, home int64) core.Entry {
	return core.Entry{
		Date:     day,
		Category: "coffee",
		Amount:   decimal.NewFromInt(home),
		Conversion: &core.Conversion{
			OriginalAmount:   decimal.RequireFromString(amount),
			OriginalCurrency: "USD",
			ExchangeRate:     decimal.NewFromInt(400),
		},
	}
}

func home(category string, amount int64) core.Entry {
	return core.Entry{Date: day, Category: category, Amount: decimal.NewFromInt(amount)}
}

func seeded(t *testing.T, entries ...core.Entry) *memory.Store {
	t.Helper()
	s := memory.New()
	for _, e := range entries {
		if _, err := s.Insert(context.Background(), e); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	return s
}

func TestAggregate(t *testing.T) {
	eur := home("Hotel", 42050)
	eur.Conversion = &core.Conversion{OriginalAmount: decimal.NewFromInt(100), OriginalCurrency: "EUR", ExchangeRate: decimal.RequireFromString("420.5")}

	s := Aggregate([]core.Entry{
		usd("5.50", 2200),
		home("lunch", 345),
		home("Lunch", 1000),
		eur,
		usd("1", 400),
		home("bread", 1345),
	})

	if !s.Total.Equal(decimal.NewFromInt(47340)) {
		t.Fatalf("total = %s", s.Total)
	}
	var order []string
	for _, c := range s.Categories {
		order = append(order, c.Category)
	}
	// lunch and bread tie at 1345 and fall back to name order
	if got := strings.Join(order, ","); got != "hotel,coffee,bread,lunch" {
		t.Fatalf("category order = %s", got)
	}
	coffee := s.Categories[1]
	if len(coffee.Originals) != 1 || !coffee.Originals[0].Amount.Equal(decimal.RequireFromString("6.5")) {
		t.Fatalf("coffee originals = %+v", coffee.Originals)
	}
	if len(s.Originals) != 2 || s.Originals[0].Currency != "USD" || s.Originals[1].Currency != "EUR" {
		t.Fatalf("grand originals should keep first-seen order: %+v", s.Originals)
	}
}

func TestFormatter_Amounts(t *testing.T) {
	f := NewFormatter("amd")
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"grouping", f.Amount(decimal.NewFromInt(1234567)), "1,234,567"},
		{"small", f.Amount(decimal.NewFromInt(345)), "345"},
		{"usd cents", f.Original(CurrencyAmount{Currency: "USD", Amount: decimal.RequireFromString("5.5")}), "5.50 USD"},
		{"jpy no fraction", f.Original(CurrencyAmount{Currency: "JPY", Amount: decimal.NewFromInt(1500)}), "1,500 JPY"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Fatalf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
	if f.Home() != "AMD" {
		t.Fatalf("home = %q", f.Home())
	}
}

func TestReporter_DailySummary(t *testing.T) {
	ctx := context.Background()
	r := New(seeded(t, usd("5.50", 2200), home("lunch", 345), home("lunch", 1000), home("taxi", 1200)), "AMD")

	got, err := r.DailySummary(ctx, day)
	if err != nil {
		t.Fatalf("DailySummary: %v", err)
	}
	sep := strings.Repeat("-", 50) + "\n"
	want := "📊 *Spendings for 2025-01-15*\n\n" +
		"```\n" +
		fmt.Sprintf("%-14s%-12s%s\n", "Category", "AMD", "Conversion") +
		sep +
		fmt.Sprintf("%-14s%-12s%s\n", "Coffee", "2,200", "5.50 USD → 2,200 AMD") +
		fmt.Sprintf("%-14s%-12s\n", "Lunch", "1,345") +
		fmt.Sprintf("%-14s%-12s", "Taxi", "1,200") +
		"\n" + sep +
		fmt.Sprintf("%-14s%-12s%s", "TOTAL", "4,745", "5.50 USD → 4,745 AMD") +
		"```"
	if got != want {
		t.Fatalf("daily summary mismatch\n got: %q\nwant: %q", got, want)
	}

	empty, err := r.DailySummary(ctx, core.NewDate(2025, 1, 1))
	if err != nil || empty != "🕛 No spendings recorded for 2025-01-01." {
		t.Fatalf("empty day = %q, %v", empty, err)
	}
}

func TestReporter_MonthlySummary(t *testing.T) {
	ctx := context.Background()
	other := home("rent", 100000)
	other.Date = core.NewDate(2025, 2, 1)
	r := New(seeded(t, usd("5.50", 2200), home("lunch", 1345), other), "AMD")

	got, err := r.MonthlySummary(ctx, core.Month{Year: 2025, Month: time.January})
	if err != nil {
		t.Fatalf("MonthlySummary: %v", err)
	}
	want := "📊 Monthly Report: 2025-01\n" +
		"• Coffee: 2,200 AMD (5.50 USD)\n" +
		"• Lunch: 1,345 AMD\n" +
		"\n💰 Total: 3,545 AMD (5.50 USD)"
	if got != want {
		t.Fatalf("monthly summary mismatch\n got: %q\nwant: %q", got, want)
	}

	empty, _ := r.MonthlySummary(ctx, core.Month{Year: 2024, Month: time.March})
	if empty != "📊 No spendings recorded for 2024-03." {
		t.Fatalf("empty month = %q", empty)
	}
}

func TestReporter_DailyCSV(t *testing.T) {
	ctx := context.Background()
	r := New(seeded(t, usd("5.50", 2200), home(`say "hi"`, 10)), "AMD")

	doc, ok, err := r.DailyCSV(ctx, day)
	if err != nil || !ok {
		t.Fatalf("DailyCSV = %v, %v", ok, err)
	}
	if doc.Filename != "spendings_2025-01-15.csv" {
		t.Fatalf("filename = %q", doc.Filename)
	}
	want := strings.Join([]string{
		"Category,Amount AMD,Original Amount,Original Currency,Conversion",
		`"Coffee",2200,"5.50","USD","5.50 USD → 2,200 AMD"`,
		`"Say ""hi""",10,"","",""`,
		`"TOTAL",2210,"","","5.50 USD → 2,210 AMD"`,
	}, "\n")
	if string(doc.Data) != want {
		t.Fatalf("csv mismatch\n got: %q\nwant: %q", doc.Data, want)
	}

	_, ok, err = r.DailyCSV(ctx, core.NewDate(2025, 1, 2))
	if err != nil || ok {
		t.Fatalf("empty day should produce no document, ok=%v err=%v", ok, err)
	}
}

type failingSource struct{}

var errDown = errors.New("db down")

func (failingSource) ListByDate(context.Context, core.Date) ([]core.Entry, error)   { return nil, errDown }
func (failingSource) ListByMonth(context.Context, core.Month) ([]core.Entry, error) { return nil, errDown }
func (failingSource) CountByDate(context.Context, core.Date) (int64, error)         { return 0, errDown }

func TestReporter_PropagatesErrors(t *testing.T) {
	ctx := context.Background()
	r := New(failingSource{}, "AMD")
	if _, err := r.DailySummary(ctx, day); !errors.Is(err, errDown) {
		t.Fatalf("DailySummary err = %v", err)
	}
	if _, _, err := r.DailyCSV(ctx, day); !errors.Is(err, errDown) {
		t.Fatalf("DailyCSV err = %v", err)
	}
	if _, err := r.HasSpendings(ctx, day); !errors.Is(err, errDown) {
		t.Fatalf("HasSpendings err = %v", err)
	}
}

func TestReporter_TodayUsesZone(t *testing.T) {
	now := time.Date(2025, 1, 31, 21, 0, 0, 0, time.UTC)
	r := New(memory.New(), "AMD", WithLocation(time.FixedZone("GST", 4*3600)), WithClock(func() time.Time { return now }))
	if r.Today() != core.NewDate(2025, 2, 1) {
		t.Fatalf("Today = %s", r.Today())
	}
	if r.ThisMonth() != (core.Month{Year: 2025, Month: time.February}) {
		t.Fatalf("ThisMonth = %s", r.ThisMonth())
	}
}
