package core

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	DateLayout  = "2006-01-02"
	MonthLayout = "2006-01"
)

type (
	// Date is a calendar day. The time part is always midnight UTC so that
	// two dates compare equal regardless of where they were derived.
	Date struct {
		time.Time
	}

	// Month identifies a calendar month, rendered as YYYY-MM.
	Month struct {
		Year  int
		Month time.Month
	}

	// MessageIdentity links an entry to the chat message (and line) it was parsed from.
	MessageIdentity struct {
		MessageID int64
		LineIndex *int // nil for legacy single-line entries
	}

	// Conversion records how a foreign amount became a home amount.
	Conversion struct {
		OriginalAmount   decimal.Decimal
		OriginalCurrency string
		ExchangeRate     decimal.Decimal
	}

	// Entry is one recorded spending in the ledger.
	Entry struct {
		ID         int64
		Date       Date
		Category   string
		Amount     decimal.Decimal // home currency
		Identity   *MessageIdentity
		Conversion *Conversion // nil when spent in home currency
		CreatedAt  time.Time
	}
)

var (
	ErrInvalidDay    = errors.New("invalid day")
	ErrInvalidMonth  = errors.New("invalid month")
	ErrInvalidDate   = errors.New("invalid date")
	ErrInvalidAmount = errors.New("invalid amount")
	ErrEmptyCategory = errors.New("empty category")
)

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// DateOf returns the calendar day t falls on in loc.
func DateOf(t time.Time, loc *time.Location) Date {
	if loc == nil {
		loc = time.UTC
	}
	t = t.In(loc)
	return NewDate(t.Year(), int(t.Month()), t.Day())
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return Date{Time: t}, nil
}

func (d Date) String() string {
	return d.Format(DateLayout)
}

func (d Date) Validate() error {
	if d.IsZero() {
		return errors.New("date cannot be zero")
	}
	_, month, day := d.Date()
	if day < 1 || day > 31 {
		return ErrInvalidDay
	}
	if month < 1 || month > 12 {
		return ErrInvalidMonth
	}
	return nil
}

// Period returns the month the date belongs to.
func (d Date) Period() Month {
	return Month{Year: d.Year(), Month: d.Time.Month()}
}

// IsLastDayOfMonth reports whether the next day starts a new month.
func (d Date) IsLastDayOfMonth() bool {
	return d.AddDate(0, 0, 1).Day() == 1
}

// MonthOf returns the month t falls in, observed from loc.
func MonthOf(t time.Time, loc *time.Location) Month {
	return DateOf(t, loc).Period()
}

// ParseMonth parses a YYYY-MM string.
func ParseMonth(s string) (Month, error) {
	t, err := time.Parse(MonthLayout, strings.TrimSpace(s))
	if err != nil {
		return Month{}, fmt.Errorf("%w: %q", ErrInvalidMonth, s)
	}
	return Month{Year: t.Year(), Month: t.Month()}, nil
}

func (m Month) String() string {
	return fmt.Sprintf("%04d-%02d", m.Year, int(m.Month))
}

// Contains reports whether d falls within the month.
func (m Month) Contains(d Date) bool {
	return d.Year() == m.Year && d.Time.Month() == m.Month
}

// LineAt returns a pointer suitable for MessageIdentity.LineIndex.
func LineAt(i int) *int {
	return &i
}

func (id MessageIdentity) String() string {
	if id.LineIndex == nil {
		return fmt.Sprintf("%d", id.MessageID)
	}
	return fmt.Sprintf("%d/%d", id.MessageID, *id.LineIndex)
}

// Matches reports whether a stored identity satisfies the lookup id. A
// lookup without a line index matches every line of the message.
func (id MessageIdentity) Matches(stored MessageIdentity) bool {
	if id.MessageID != stored.MessageID {
		return false
	}
	if id.LineIndex == nil {
		return true
	}
	return stored.LineIndex != nil && *stored.LineIndex == *id.LineIndex
}

func (c Conversion) Validate() error {
	if !IsCurrencyCode(c.OriginalCurrency) {
		return fmt.Errorf("%w: %q", ErrCurrencyUnsupported, c.OriginalCurrency)
	}
	if !c.OriginalAmount.IsPositive() {
		return ErrInvalidAmount
	}
	if !c.ExchangeRate.IsPositive() {
		return errors.New("exchange rate must be positive")
	}
	return nil
}

func (e Entry) Validate() error {
	if err := e.Date.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(e.Category) == "" {
		return ErrEmptyCategory
	}
	if e.Amount.IsNegative() {
		return ErrInvalidAmount
	}
	if e.Conversion != nil {
		if err := e.Conversion.Validate(); err != nil {
			return fmt.Errorf("conversion: %w", err)
		}
	}
	return nil
}

// IsCurrencyCode is the syntactic currency check: exactly three ASCII letters.
func IsCurrencyCode(code string) bool {
	if len(code) != 3 {
		return false
	}
	for i := 0; i < len(code); i++ {
		c := code[i] | 0x20
		if c < 'a' || c > 'z' {
			return false
		}
	}
	return true
}
