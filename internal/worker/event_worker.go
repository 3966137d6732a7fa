package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"accountant/internal/core"
	"accountant/internal/ledger"
	applog "accountant/internal/log"
	"accountant/internal/report"
)

// Callback payloads of the reset confirmation buttons.
const (
	CallbackResetConfirm = "reset_confirm"
	CallbackResetCancel  = "reset_cancel"
)

const HelpText = "📋 *Available Commands*\n\n" +
	"/total - Show today's spendings\n" +
	"/monthly-total - Show this month's spendings\n" +
	"/reset-day - Reset all today's spendings and delete messages\n" +
	"/add-past - Record a spending on a past date\n" +
	"/delete - Reply to a spending message to remove it\n" +
	"/help - Show this help message\n\n" +
	"📝 *How to record spendings:*\n" +
	"Just type: `Category Amount`\n" +
	"Examples: `Lunch 345` or `Coffee 1,000`\n" +
	"Other currencies: `Coffee 5.50 USD` or `Taxi 20EUR`\n" +
	"Several lines in one message are recorded separately.\n\n" +
	"🗓 *Past dates:*\n" +
	"`/add-past 2025-01-14 Dinner 4,000`\n\n" +
	"✏️ *Edit/Delete:*\n" +
	"Edit or delete your spending message to update the data."

const resetPrompt = "⚠️ Are you sure you want to reset all spendings for today? This action cannot be undone."

type (
	// Ledger is the write side the worker drives.
	Ledger interface {
		HandleNew(ctx context.Context, msg ledger.NewMessage) (ledger.Outcome, error)
		HandleEdit(ctx context.Context, msg ledger.EditedMessage) (ledger.Outcome, error)
		AddPast(ctx context.Context, date core.Date, line core.SpendingLine) (core.Entry, error)
		Remove(ctx context.Context, messageID int64) (int64, error)
		ResetDay(ctx context.Context) (ledger.ResetOutcome, error)
	}

	// Reports renders what the commands print.
	Reports interface {
		Today() core.Date
		ThisMonth() core.Month
		DailySummary(ctx context.Context, date core.Date) (string, error)
		MonthlySummary(ctx context.Context, month core.Month) (string, error)
		DailyCSV(ctx context.Context, date core.Date) (core.Document, bool, error)
		Formatter() *report.Formatter
	}

	// IntentParser classifies message text.
	IntentParser interface {
		Parse(text string) core.Intent
	}

	// Channel is the chat the worker talks to.
	Channel interface {
		core.MessageSender
		core.CallbackAnswerer
	}
)

// EventWorker turns channel events into ledger operations and replies.
type EventWorker struct {
	ledger  Ledger
	reports Reports
	parser  IntentParser
	channel Channel
	logger  *applog.Logger
}

func NewEventWorker(l Ledger, reports Reports, parser IntentParser, channel Channel, logger *applog.Logger) *EventWorker {
	if logger == nil {
		logger = applog.New(applog.DefaultConfig())
	}
	return &EventWorker{
		ledger:  l,
		reports: reports,
		parser:  parser,
		channel: channel,
		logger:  logger.WithComponent(applog.ComponentWorker),
	}
}

// HandleEvent processes one channel event. Storage failures are returned so
// the event can be redelivered; chat failures are only logged.
func (w *EventWorker) HandleEvent(ctx context.Context, ev core.ChannelEvent) error {
	w.logger.DebugContext(ctx, "Processing event",
		applog.FieldEventKind, string(ev.Kind),
		applog.FieldMessageID, ev.MessageID)

	switch ev.Kind {
	case core.EventNewMessage:
		return w.handleNew(ctx, ev)
	case core.EventEditedMessage:
		return w.handleEdit(ctx, ev)
	case core.EventCallback:
		return w.handleCallback(ctx, ev)
	default:
		w.logger.WarnContext(ctx, "Ignoring unknown event kind", applog.FieldEventKind, string(ev.Kind))
		return nil
	}
}

func (w *EventWorker) handleNew(ctx context.Context, ev core.ChannelEvent) error {
	switch in := w.parser.Parse(ev.Text).(type) {
	case core.Command:
		return w.handleCommand(ctx, ev, in)
	case core.SpendingLines:
		if len(in) == 0 {
			return nil
		}
		out, err := w.ledger.HandleNew(ctx, ledger.NewMessage{ID: ev.MessageID, Text: ev.Text, SentAt: ev.SentAt})
		if err != nil {
			return fmt.Errorf("record message %d: %w", ev.MessageID, err)
		}
		w.notify(ctx, out)
	}
	return nil
}

func (w *EventWorker) handleEdit(ctx context.Context, ev core.ChannelEvent) error {
	out, err := w.ledger.HandleEdit(ctx, ledger.EditedMessage{ID: ev.MessageID, Text: ev.Text, SentAt: ev.SentAt})
	if err != nil {
		return fmt.Errorf("reconcile edit of %d: %w", ev.MessageID, err)
	}
	if out.DeleteMessage {
		if err := w.channel.Delete(ctx, ev.MessageID); err != nil {
			w.logger.WarnContext(ctx, "Could not delete emptied message",
				applog.NewFields().WithMessage(ev.MessageID).WithError(err).ToSlice()...)
		}
	}
	w.notify(ctx, out)
	return nil
}

func (w *EventWorker) handleCommand(ctx context.Context, ev core.ChannelEvent, cmd core.Command) error {
	if cmd.Err != nil {
		w.send(ctx, core.OutgoingMessage{Text: "⚠️ " + usage(cmd.Kind), ReplyTo: ev.MessageID})
		return nil
	}

	switch cmd.Kind {
	case core.CommandHelp:
		w.send(ctx, core.OutgoingMessage{Text: HelpText, Markdown: true})

	case core.CommandTotal:
		date := w.reports.Today()
		if cmd.Date != nil {
			date = *cmd.Date
		}
		table, err := w.reports.DailySummary(ctx, date)
		if err != nil {
			return err
		}
		w.send(ctx, core.OutgoingMessage{Text: table, Markdown: true})
		doc, ok, err := w.reports.DailyCSV(ctx, date)
		if err != nil {
			return err
		}
		if ok {
			if err := w.channel.SendDocument(ctx, doc); err != nil {
				w.logger.WarnContext(ctx, "Could not send CSV", "filename", doc.Filename, applog.FieldError, err)
			}
		}

	case core.CommandMonthlyTotal:
		month := w.reports.ThisMonth()
		if cmd.Month != nil {
			month = *cmd.Month
		}
		text, err := w.reports.MonthlySummary(ctx, month)
		if err != nil {
			return err
		}
		w.send(ctx, core.OutgoingMessage{Text: text})

	case core.CommandResetDay:
		w.send(ctx, core.OutgoingMessage{
			Text:    resetPrompt,
			ReplyTo: ev.MessageID,
			Buttons: []core.Button{
				{Text: "✅ Yes, reset", Data: CallbackResetConfirm},
				{Text: "❌ No, cancel", Data: CallbackResetCancel},
			},
		})

	case core.CommandDelete:
		return w.handleDelete(ctx, ev)

	case core.CommandAddPast:
		entry, err := w.ledger.AddPast(ctx, *cmd.Date, *cmd.Line)
		switch {
		case errors.Is(err, core.ErrStorage):
			return err
		case err != nil:
			w.send(ctx, core.OutgoingMessage{Text: rejection(*cmd.Line, err), ReplyTo: ev.MessageID})
		default:
			f := w.reports.Formatter()
			w.send(ctx, core.OutgoingMessage{
				Text:    fmt.Sprintf("✅ Recorded %s: %s %s on %s", entry.Category, f.Amount(entry.Amount), f.Home(), entry.Date),
				ReplyTo: ev.MessageID,
			})
		}
	}
	return nil
}

// handleDelete removes the entries of the post the command replies to, then
// the post itself and the command.
func (w *EventWorker) handleDelete(ctx context.Context, ev core.ChannelEvent) error {
	if ev.ReplyTo == 0 {
		w.send(ctx, core.OutgoingMessage{Text: "⚠️ " + usage(core.CommandDelete), ReplyTo: ev.MessageID})
		return nil
	}
	n, err := w.ledger.Remove(ctx, ev.ReplyTo)
	if err != nil {
		return fmt.Errorf("remove message %d: %w", ev.ReplyTo, err)
	}
	if n == 0 {
		w.send(ctx, core.OutgoingMessage{Text: "⚠️ Nothing is recorded for that message.", ReplyTo: ev.MessageID})
		return nil
	}
	for _, id := range []int64{ev.ReplyTo, ev.MessageID} {
		if err := w.channel.Delete(ctx, id); err != nil {
			w.logger.WarnContext(ctx, "Could not delete message",
				applog.NewFields().WithMessage(id).WithError(err).ToSlice()...)
		}
	}
	w.send(ctx, core.OutgoingMessage{Text: fmt.Sprintf("🗑 Removed %d spending(s).", n)})
	return nil
}

func (w *EventWorker) handleCallback(ctx context.Context, ev core.ChannelEvent) error {
	switch ev.CallbackData {
	case CallbackResetConfirm:
		w.answer(ctx, ev.CallbackID, "Resetting day...")
		out, err := w.ledger.ResetDay(ctx)
		if err != nil {
			return fmt.Errorf("reset day: %w", err)
		}
		w.deletePrompt(ctx, ev.MessageID)
		w.send(ctx, core.OutgoingMessage{
			Text: fmt.Sprintf("🔄 Day reset complete! Deleted %d spending message(s).", out.Messages()),
		})

	case CallbackResetCancel:
		w.deletePrompt(ctx, ev.MessageID)
		w.answer(ctx, ev.CallbackID, "Cancelled")

	default:
		w.answer(ctx, ev.CallbackID, "")
	}
	return nil
}

// notify replies with conversion notices and rejected lines.
func (w *EventWorker) notify(ctx context.Context, out ledger.Outcome) {
	f := w.reports.Formatter()
	var lines []string
	for _, e := range out.Added {
		if e.Conversion == nil {
			continue
		}
		lines = append(lines, fmt.Sprintf("💱 %s: %s → %s %s",
			e.Category,
			f.Original(report.CurrencyAmount{Currency: e.Conversion.OriginalCurrency, Amount: e.Conversion.OriginalAmount}),
			f.Amount(e.Amount), f.Home()))
	}
	for _, r := range out.Rejected {
		lines = append(lines, rejection(r.Line, r.Err))
	}
	if len(lines) == 0 || out.DeleteMessage {
		return
	}
	w.send(ctx, core.OutgoingMessage{Text: strings.Join(lines, "\n"), ReplyTo: out.MessageID})
}

func (w *EventWorker) send(ctx context.Context, msg core.OutgoingMessage) {
	if _, err := w.channel.Send(ctx, msg); err != nil {
		w.logger.WarnContext(ctx, "Could not send message",
			applog.NewFields().WithMessage(msg.ReplyTo).WithError(err).ToSlice()...)
	}
}

func (w *EventWorker) answer(ctx context.Context, callbackID, text string) {
	if err := w.channel.AnswerCallback(ctx, callbackID, text); err != nil {
		w.logger.WarnContext(ctx, "Could not answer callback", applog.FieldError, err)
	}
}

func (w *EventWorker) deletePrompt(ctx context.Context, messageID int64) {
	if err := w.channel.Delete(ctx, messageID); err != nil {
		w.logger.WarnContext(ctx, "Could not delete prompt",
			applog.NewFields().WithMessage(messageID).WithError(err).ToSlice()...)
	}
}

func rejection(line core.SpendingLine, err error) string {
	var reason string
	switch {
	case errors.Is(err, core.ErrCurrencyUnsupported):
		reason = fmt.Sprintf("%s is not a currency code", line.Currency)
	case errors.Is(err, core.ErrRateUnavailable):
		reason = fmt.Sprintf("no exchange rate for %s right now, please edit the message to retry", line.Currency)
	default:
		reason = err.Error()
	}
	return fmt.Sprintf("⚠️ Could not record \"%s\": %s", line.Raw, reason)
}

func usage(kind core.CommandKind) string {
	switch kind {
	case core.CommandTotal:
		return "Usage: /total [YYYY-MM-DD]"
	case core.CommandMonthlyTotal:
		return "Usage: /monthly-total [YYYY-MM]"
	case core.CommandAddPast:
		return "Usage: /add-past YYYY-MM-DD Category Amount [Currency]"
	case core.CommandDelete:
		return "Usage: reply /delete to a spending message"
	default:
		return "Unknown command, see /help"
	}
}
