package report

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	"accountant/internal/core"
)

const (
	categoryWidth = 14
	amountWidth   = 12
	separatorLen  = 50
)

// Formatter renders summaries as chat text and CSV.
type Formatter struct {
	home    string
	printer *message.Printer
}

// NewFormatter returns a formatter for home-currency amounts. Numbers use
// English digit grouping.
func NewFormatter(home string) *Formatter {
	return &Formatter{
		home:    strings.ToUpper(home),
		printer: message.NewPrinter(language.English),
	}
}

// Home returns the home currency code.
func (f *Formatter) Home() string { return f.home }

// Amount formats a home amount with thousand separators, e.g. 12,345.
func (f *Formatter) Amount(d decimal.Decimal) string {
	return f.printer.Sprintf("%v", number.Decimal(d.InexactFloat64(), number.MaxFractionDigits(2)))
}

// Original formats a foreign amount with the currency's minor-unit digits,
// e.g. "5.50 USD". Codes unknown to go-money print the plain decimal.
func (f *Formatter) Original(c CurrencyAmount) string {
	cur := money.GetCurrency(c.Currency)
	if cur == nil {
		return f.printer.Sprintf("%v", number.Decimal(c.Amount.InexactFloat64(), number.MaxFractionDigits(4))) + " " + c.Currency
	}
	digits := cur.Fraction
	return f.printer.Sprintf("%v", number.Decimal(c.Amount.InexactFloat64(),
		number.MinFractionDigits(digits), number.MaxFractionDigits(digits))) + " " + c.Currency
}

// Originals joins foreign amounts with " + ", e.g. "5.50 USD + 10.00 EUR".
func (f *Formatter) Originals(parts []CurrencyAmount) string {
	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = f.Original(p)
	}
	return strings.Join(out, " + ")
}

// conversion renders "5.50 USD → 2,200 AMD", or nothing for home-only sums.
func (f *Formatter) conversion(parts []CurrencyAmount, home decimal.Decimal) string {
	if len(parts) == 0 {
		return ""
	}
	return fmt.Sprintf("%s → %s %s", f.Originals(parts), f.Amount(home), f.home)
}

// Daily renders the day table. An empty summary yields the "nothing
// recorded" line.
func (f *Formatter) Daily(date core.Date, s Summary) string {
	if s.Empty() {
		return fmt.Sprintf("🕛 No spendings recorded for %s.", date)
	}
	sep := strings.Repeat("-", separatorLen) + "\n"

	var b strings.Builder
	fmt.Fprintf(&b, "📊 *Spendings for %s*\n\n", date)
	b.WriteString("```\n")
	b.WriteString(padRight("Category", categoryWidth) + padRight(f.home, amountWidth) + "Conversion\n")
	b.WriteString(sep)
	for i, c := range s.Categories {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(padRight(capitalize(c.Category), categoryWidth))
		b.WriteString(padRight(f.Amount(c.Amount), amountWidth))
		b.WriteString(f.conversion(c.Originals, c.Amount))
	}
	b.WriteString("\n" + sep)
	b.WriteString(padRight("TOTAL", categoryWidth) + padRight(f.Amount(s.Total), amountWidth))
	b.WriteString(f.conversion(s.Originals, s.Total))
	b.WriteString("```")
	return b.String()
}

// Monthly renders the month bullet list.
func (f *Formatter) Monthly(month core.Month, s Summary) string {
	if s.Empty() {
		return fmt.Sprintf("📊 No spendings recorded for %s.", month)
	}
	lines := []string{fmt.Sprintf("📊 Monthly Report: %s", month)}
	for _, c := range s.Categories {
		lines = append(lines, fmt.Sprintf("• %s: %s %s%s", capitalize(c.Category), f.Amount(c.Amount), f.home, f.parenthesized(c.Originals)))
	}
	lines = append(lines, fmt.Sprintf("\n💰 Total: %s %s%s", f.Amount(s.Total), f.home, f.parenthesized(s.Originals)))
	return strings.Join(lines, "\n")
}

func (f *Formatter) parenthesized(parts []CurrencyAmount) string {
	if len(parts) == 0 {
		return ""
	}
	return " (" + f.Originals(parts) + ")"
}

// CSV renders one row per category plus a TOTAL row. Text columns are
// always quoted.
func (f *Formatter) CSV(s Summary) []byte {
	var b strings.Builder
	b.WriteString("Category,Amount " + f.home + ",Original Amount,Original Currency,Conversion")
	for _, c := range s.Categories {
		amounts, currencies := f.originalColumns(c.Originals)
		b.WriteByte('\n')
		b.WriteString(strings.Join([]string{
			quote(capitalize(c.Category)),
			c.Amount.String(),
			quote(amounts),
			quote(currencies),
			quote(f.conversion(c.Originals, c.Amount)),
		}, ","))
	}
	b.WriteByte('\n')
	b.WriteString(strings.Join([]string{
		quote("TOTAL"),
		s.Total.String(),
		quote(""),
		quote(""),
		quote(f.conversion(s.Originals, s.Total)),
	}, ","))
	return []byte(b.String())
}

func (f *Formatter) originalColumns(parts []CurrencyAmount) (string, string) {
	amounts := make([]string, len(parts))
	currencies := make([]string, len(parts))
	for i, p := range parts {
		amounts[i] = strings.TrimSuffix(f.Original(p), " "+p.Currency)
		currencies[i] = p.Currency
	}
	return strings.Join(amounts, " + "), strings.Join(currencies, " + ")
}

func quote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// padRight pads by rune count so multi-byte categories line up.
func padRight(s string, width int) string {
	if n := utf8.RuneCountInString(s); n < width {
		return s + strings.Repeat(" ", width-n)
	}
	return s
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}
