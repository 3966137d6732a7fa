// Package scheduler posts the evening reminder and the daily and monthly
// summaries on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"accountant/internal/core"
	applog "accountant/internal/log"
	"accountant/internal/report"
)

const (
	DefaultReminderSchedule       = "0 23 * * *"
	DefaultDailySummarySchedule   = "55 23 * * *"
	DefaultMonthlySummarySchedule = "50 23 * * *"

	ReminderText = "⏰ Reminder: Please report your spendings for today!"

	jobTimeout = 2 * time.Minute
)

// Reports is what the jobs read.
type Reports interface {
	Today() core.Date
	ThisMonth() core.Month
	HasSpendings(ctx context.Context, date core.Date) (bool, error)
	Daily(ctx context.Context, date core.Date) (report.DailyReport, error)
	Monthly(ctx context.Context, month core.Month) (report.MonthlyReport, error)
	Formatter() *report.Formatter
}

// Publisher mirrors a finished day somewhere outside the chat.
type Publisher interface {
	PublishDaily(ctx context.Context, rep report.DailyReport) error
}

// Sender posts to the channel.
type Sender interface {
	Send(ctx context.Context, msg core.OutgoingMessage) (int64, error)
}

// Config holds the cron specs. Empty specs fall back to the defaults.
type Config struct {
	Location       *time.Location
	Reminder       string
	DailySummary   string
	MonthlySummary string
}

type Scheduler struct {
	cron      *cron.Cron
	reports   Reports
	sender    Sender
	publisher Publisher
	logger    *applog.Logger
}

// New registers the jobs. publisher may be nil.
func New(cfg Config, reports Reports, sender Sender, publisher Publisher, logger *applog.Logger) (*Scheduler, error) {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if logger == nil {
		logger = applog.New(applog.DefaultConfig())
	}
	s := &Scheduler{
		cron:      cron.New(cron.WithLocation(cfg.Location)),
		reports:   reports,
		sender:    sender,
		publisher: publisher,
		logger:    logger.WithComponent(applog.ComponentScheduler),
	}

	jobs := []struct {
		name string
		spec string
		def  string
		run  func(context.Context) error
	}{
		{"reminder", cfg.Reminder, DefaultReminderSchedule, s.RemindIfEmpty},
		{"daily-summary", cfg.DailySummary, DefaultDailySummarySchedule, s.SendDailySummary},
		{"monthly-summary", cfg.MonthlySummary, DefaultMonthlySummarySchedule, s.SendMonthlySummaryIfMonthEnd},
	}
	for _, j := range jobs {
		spec := j.spec
		if spec == "" {
			spec = j.def
		}
		if _, err := s.cron.AddFunc(spec, s.wrap(j.name, j.run)); err != nil {
			return nil, fmt.Errorf("schedule %s %q: %w", j.name, spec, err)
		}
		s.logger.Info("Scheduled job", "job", j.name, "spec", spec, "timezone", cfg.Location.String())
	}
	return s, nil
}

func (s *Scheduler) wrap(name string, run func(context.Context) error) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		defer cancel()
		start := time.Now()
		if err := run(ctx); err != nil {
			s.logger.ErrorContext(ctx, "Scheduled job failed", "job", name, applog.FieldError, err)
			return
		}
		s.logger.InfoContext(ctx, "Scheduled job finished", "job", name, applog.FieldDuration, time.Since(start).Milliseconds())
	}
}

// Start runs the cron loop in the background.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts scheduling and waits for running jobs or ctx, whichever ends first.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.logger.Warn("Timed out waiting for scheduled jobs")
	}
}

// RemindIfEmpty posts the reminder when nothing was recorded today.
func (s *Scheduler) RemindIfEmpty(ctx context.Context) error {
	has, err := s.reports.HasSpendings(ctx, s.reports.Today())
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	_, err = s.sender.Send(ctx, core.OutgoingMessage{Text: ReminderText})
	return err
}

// SendDailySummary posts today's table and mirrors the day when a
// publisher is configured.
func (s *Scheduler) SendDailySummary(ctx context.Context) error {
	rep, err := s.reports.Daily(ctx, s.reports.Today())
	if err != nil {
		return err
	}
	text := s.reports.Formatter().Daily(rep.Date, rep.Summary)
	if _, err := s.sender.Send(ctx, core.OutgoingMessage{Text: text, Markdown: true}); err != nil {
		return err
	}
	if s.publisher == nil || rep.Empty() {
		return nil
	}
	if err := s.publisher.PublishDaily(ctx, rep); err != nil {
		return fmt.Errorf("mirror daily report: %w", err)
	}
	return nil
}

// SendMonthlySummaryIfMonthEnd posts the month report on the last day of
// the month and does nothing otherwise.
func (s *Scheduler) SendMonthlySummaryIfMonthEnd(ctx context.Context) error {
	if !s.reports.Today().IsLastDayOfMonth() {
		return nil
	}
	rep, err := s.reports.Monthly(ctx, s.reports.ThisMonth())
	if err != nil {
		return err
	}
	_, err = s.sender.Send(ctx, core.OutgoingMessage{Text: s.reports.Formatter().Monthly(rep.Month, rep.Summary)})
	return err
}

// Entries returns the number of registered jobs.
func (s *Scheduler) Entries() int { return len(s.cron.Entries()) }
