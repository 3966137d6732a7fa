// Package report aggregates ledger entries into daily and monthly views.
package report

import (
	"context"
	"fmt"
	"time"

	"accountant/internal/core"
)

// Source is the read side of the ledger store.
type Source interface {
	ListByDate(ctx context.Context, d core.Date) ([]core.Entry, error)
	ListByMonth(ctx context.Context, m core.Month) ([]core.Entry, error)
	CountByDate(ctx context.Context, d core.Date) (int64, error)
}

type (
	DailyReport struct {
		Date core.Date
		Summary
	}

	MonthlyReport struct {
		Month core.Month
		Summary
	}
)

// Reporter builds reports from a Source.
type Reporter struct {
	src    Source
	format *Formatter
	loc    *time.Location
	now    func() time.Time
}

// Option configures a Reporter.
type Option func(*Reporter)

// WithLocation sets the zone used to resolve "today" and "this month".
func WithLocation(loc *time.Location) Option {
	return func(r *Reporter) {
		if loc != nil {
			r.loc = loc
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Reporter) { r.now = now }
}

func New(src Source, home string, opts ...Option) *Reporter {
	r := &Reporter{
		src:    src,
		format: NewFormatter(home),
		loc:    time.UTC,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Today is the current day in the reporter's zone.
func (r *Reporter) Today() core.Date { return core.DateOf(r.now(), r.loc) }

// ThisMonth is the current month in the reporter's zone.
func (r *Reporter) ThisMonth() core.Month { return core.MonthOf(r.now(), r.loc) }

// Formatter exposes the text renderer.
func (r *Reporter) Formatter() *Formatter { return r.format }

func (r *Reporter) Daily(ctx context.Context, date core.Date) (DailyReport, error) {
	entries, err := r.src.ListByDate(ctx, date)
	if err != nil {
		return DailyReport{}, fmt.Errorf("daily report %s: %w", date, err)
	}
	return DailyReport{Date: date, Summary: Aggregate(entries)}, nil
}

func (r *Reporter) Monthly(ctx context.Context, month core.Month) (MonthlyReport, error) {
	entries, err := r.src.ListByMonth(ctx, month)
	if err != nil {
		return MonthlyReport{}, fmt.Errorf("monthly report %s: %w", month, err)
	}
	return MonthlyReport{Month: month, Summary: Aggregate(entries)}, nil
}

// DailySummary renders the day table for date.
func (r *Reporter) DailySummary(ctx context.Context, date core.Date) (string, error) {
	rep, err := r.Daily(ctx, date)
	if err != nil {
		return "", err
	}
	return r.format.Daily(rep.Date, rep.Summary), nil
}

// MonthlySummary renders the month list for month.
func (r *Reporter) MonthlySummary(ctx context.Context, month core.Month) (string, error) {
	rep, err := r.Monthly(ctx, month)
	if err != nil {
		return "", err
	}
	return r.format.Monthly(rep.Month, rep.Summary), nil
}

// DailyCSV renders the day as a CSV document. ok is false when the day has
// no entries.
func (r *Reporter) DailyCSV(ctx context.Context, date core.Date) (doc core.Document, ok bool, err error) {
	rep, err := r.Daily(ctx, date)
	if err != nil || rep.Empty() {
		return core.Document{}, false, err
	}
	return core.Document{
		Filename:    fmt.Sprintf("spendings_%s.csv", date),
		ContentType: "text/csv",
		Data:        r.format.CSV(rep.Summary),
	}, true, nil
}

// HasSpendings reports whether anything was recorded on date.
func (r *Reporter) HasSpendings(ctx context.Context, date core.Date) (bool, error) {
	n, err := r.src.CountByDate(ctx, date)
	if err != nil {
		return false, fmt.Errorf("count spendings %s: %w", date, err)
	}
	return n > 0, nil
}
