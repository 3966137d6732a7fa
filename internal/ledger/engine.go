// Package ledger keeps the stored spendings in step with the channel.
//
// Every chat message owns the entries parsed from its lines. New messages
// add entries, edits replace them, deletions and resets remove them. Work
// on one message is serialized; different messages proceed in parallel.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"accountant/internal/core"
	applog "accountant/internal/log"
	"accountant/internal/rates"
)

// maxParallelDeletes bounds post deletions in flight during a reset.
const maxParallelDeletes = 8

// Store is the persistence the engine needs. Both the SQLite repository and
// the in-memory store satisfy it.
type Store interface {
	Insert(ctx context.Context, e core.Entry) (core.Entry, error)
	ExistsIdentity(ctx context.Context, id core.MessageIdentity) (bool, error)
	FindByMessageID(ctx context.Context, messageID int64) (core.Entry, bool, error)
	ListByMessageID(ctx context.Context, messageID int64) ([]core.Entry, error)
	Update(ctx context.Context, e core.Entry) error
	DeleteByMessageID(ctx context.Context, messageID int64) (int64, error)
	DeleteByDate(ctx context.Context, d core.Date) (int64, error)
	ListByDate(ctx context.Context, d core.Date) ([]core.Entry, error)
	ListByMonth(ctx context.Context, m core.Month) ([]core.Entry, error)
	CountByDate(ctx context.Context, d core.Date) (int64, error)
}

// Converter turns foreign amounts into home currency.
type Converter interface {
	ConvertToHome(ctx context.Context, amount decimal.Decimal, currency string) rates.Result
	Home() string
}

// LineParser extracts spending lines from message text.
type LineParser interface {
	ParseLines(text string) core.SpendingLines
}

// MessageDeleter removes a message from the channel.
type MessageDeleter interface {
	Delete(ctx context.Context, messageID int64) error
}

type (
	// NewMessage is a channel post seen for the first time.
	NewMessage struct {
		ID     int64
		Text   string
		SentAt time.Time
	}

	// EditedMessage is the new text of an existing post. SentAt is the
	// original post time and dates the entries when the message was never
	// tracked before.
	EditedMessage struct {
		ID     int64
		Text   string
		SentAt time.Time
	}

	// AddRequest records one spending line on Date. Identity is optional.
	AddRequest struct {
		Date     core.Date
		Line     core.SpendingLine
		Identity *core.MessageIdentity
	}

	// AddResult says what Add did with a request.
	AddResult struct {
		Entry     core.Entry
		Duplicate bool
	}

	// LineRejection is a line that parsed but could not be recorded.
	LineRejection struct {
		Line core.SpendingLine
		Err  error
	}

	// Outcome summarizes how a message was reconciled.
	Outcome struct {
		MessageID int64
		Added     []core.Entry
		// Duplicates counts lines already recorded for this message.
		Duplicates int
		Rejected   []LineRejection
		Removed    int64
		// DeleteMessage is set when an edit left the message with no
		// spendings and the post should disappear from the channel.
		DeleteMessage bool
	}

	// DeleteOutcome is the result of removing one post during a reset.
	DeleteOutcome struct {
		MessageID int64
		Err       error
	}

	// ResetOutcome summarizes a day reset.
	ResetOutcome struct {
		Date      core.Date
		Entries   int64
		Deletions []DeleteOutcome
	}
)

// Messages is the number of distinct posts the reset targeted.
func (r ResetOutcome) Messages() int { return len(r.Deletions) }

// Failed returns the posts that could not be deleted.
func (r ResetOutcome) Failed() []DeleteOutcome {
	var out []DeleteOutcome
	for _, d := range r.Deletions {
		if d.Err != nil {
			out = append(out, d)
		}
	}
	return out
}

// Engine is safe for concurrent use.
type Engine struct {
	store   Store
	rates   Converter
	parser  LineParser
	deleter MessageDeleter
	loc     *time.Location
	now     func() time.Time
	locks   *keyedMutex
	logger  *applog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLocation sets the zone that decides which calendar day "today" is.
func WithLocation(loc *time.Location) Option {
	return func(e *Engine) {
		if loc != nil {
			e.loc = loc
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLogger sets the engine logger.
func WithLogger(l *applog.Logger) Option {
	return func(e *Engine) { e.logger = l.WithComponent(applog.ComponentLedger) }
}

// New builds an engine. deleter may be nil, in which case resets only touch
// the store.
func New(store Store, conv Converter, parser LineParser, deleter MessageDeleter, opts ...Option) *Engine {
	e := &Engine{
		store:   store,
		rates:   conv,
		parser:  parser,
		deleter: deleter,
		loc:     time.UTC,
		now:     time.Now,
		locks:   newKeyedMutex(),
		logger:  applog.New(applog.DefaultConfig()).WithComponent(applog.ComponentLedger),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Today is the current calendar day in the engine's zone.
func (e *Engine) Today() core.Date {
	return core.DateOf(e.now(), e.loc)
}

// Location returns the engine's zone.
func (e *Engine) Location() *time.Location {
	return e.loc
}

func (e *Engine) dateOf(t time.Time) core.Date {
	if t.IsZero() {
		return e.Today()
	}
	return core.DateOf(t, e.loc)
}

// HandleNew records every spending line of a new post. Lines already
// recorded for the message are skipped, so redelivery is harmless.
func (e *Engine) HandleNew(ctx context.Context, msg NewMessage) (Outcome, error) {
	unlock := e.locks.Lock(msg.ID)
	defer unlock()

	out := Outcome{MessageID: msg.ID}
	lines := e.parser.ParseLines(msg.Text)
	if len(lines) == 0 {
		return out, nil
	}

	date := e.dateOf(msg.SentAt)
	for _, line := range lines {
		res, err := e.add(ctx, AddRequest{
			Date:     date,
			Line:     line,
			Identity: &core.MessageIdentity{MessageID: msg.ID, LineIndex: core.LineAt(line.LineIndex)},
		})
		switch {
		case err == nil && res.Duplicate:
			out.Duplicates++
		case err == nil:
			out.Added = append(out.Added, res.Entry)
		case errors.Is(err, core.ErrStorage):
			return out, err
		default:
			out.Rejected = append(out.Rejected, LineRejection{Line: line, Err: err})
		}
	}
	return out, nil
}

// HandleEdit replaces the entries of an edited post with its new lines.
// All lines are converted before anything is deleted, and the replacement
// keeps the date of the original entries. An edit that leaves no spending
// lines removes the entries and asks for the post to be deleted.
func (e *Engine) HandleEdit(ctx context.Context, msg EditedMessage) (Outcome, error) {
	unlock := e.locks.Lock(msg.ID)
	defer unlock()

	out := Outcome{MessageID: msg.ID}
	existing, err := e.store.ListByMessageID(ctx, msg.ID)
	if err != nil {
		return out, err
	}

	lines := e.parser.ParseLines(msg.Text)
	if len(lines) == 0 {
		n, err := e.store.DeleteByMessageID(ctx, msg.ID)
		if err != nil {
			return out, err
		}
		out.Removed = n
		out.DeleteMessage = n > 0
		if n > 0 {
			e.logger.InfoContext(ctx, "Edited message no longer holds spendings",
				applog.NewFields().WithMessage(msg.ID).WithOperation(applog.OpDelete).
					With(applog.FieldCount, n).ToSlice()...)
		}
		return out, nil
	}

	date := e.dateOf(msg.SentAt)
	if len(existing) > 0 {
		date = existing[0].Date
	}

	fresh := make([]core.Entry, 0, len(lines))
	for _, line := range lines {
		entry, err := e.build(ctx, date, line, &core.MessageIdentity{MessageID: msg.ID, LineIndex: core.LineAt(line.LineIndex)})
		if err != nil {
			out.Rejected = append(out.Rejected, LineRejection{Line: line, Err: err})
			continue
		}
		fresh = append(fresh, entry)
	}

	if out.Removed, err = e.store.DeleteByMessageID(ctx, msg.ID); err != nil {
		return out, err
	}
	for _, entry := range fresh {
		saved, err := e.store.Insert(ctx, entry)
		if err != nil {
			return out, err
		}
		out.Added = append(out.Added, saved)
	}

	e.logger.InfoContext(ctx, "Replaced entries for edited message",
		applog.NewFields().WithMessage(msg.ID).WithOperation(applog.OpReplace).
			With("removed", out.Removed).With("added", len(out.Added)).
			With("rejected", len(out.Rejected)).ToSlice()...)
	return out, nil
}

// UpdateSpending rewrites the first entry of messageID in place, keeping its
// date. When the message has no entry yet a new one is added. The returned
// bool reports whether an existing entry was updated.
func (e *Engine) UpdateSpending(ctx context.Context, messageID int64, line core.SpendingLine) (bool, error) {
	unlock := e.locks.Lock(messageID)
	defer unlock()

	current, found, err := e.store.FindByMessageID(ctx, messageID)
	if err != nil {
		return false, err
	}
	if !found {
		_, err := e.add(ctx, AddRequest{
			Date:     e.Today(),
			Line:     line,
			Identity: &core.MessageIdentity{MessageID: messageID},
		})
		return false, err
	}

	amount, conv, err := e.convert(ctx, line)
	if err != nil {
		return false, err
	}
	current.Category = line.Category
	current.Amount = amount
	current.Conversion = conv
	if err := e.store.Update(ctx, current); err != nil {
		return false, err
	}
	e.logger.InfoContext(ctx, "Updated spending", applog.NewFields().WithEntry(current).WithOperation(applog.OpUpdate).ToSlice()...)
	return true, nil
}

// Add records a single line. A request whose identity is already stored
// returns Duplicate without writing anything.
func (e *Engine) Add(ctx context.Context, req AddRequest) (AddResult, error) {
	if req.Identity != nil {
		unlock := e.locks.Lock(req.Identity.MessageID)
		defer unlock()
	}
	return e.add(ctx, req)
}

// AddPast records line on a past (or any explicit) date without tying it
// to a message.
func (e *Engine) AddPast(ctx context.Context, date core.Date, line core.SpendingLine) (core.Entry, error) {
	if err := date.Validate(); err != nil {
		return core.Entry{}, err
	}
	res, err := e.add(ctx, AddRequest{Date: date, Line: line})
	return res.Entry, err
}

// Remove drops every entry of a message.
func (e *Engine) Remove(ctx context.Context, messageID int64) (int64, error) {
	unlock := e.locks.Lock(messageID)
	defer unlock()
	return e.store.DeleteByMessageID(ctx, messageID)
}

// ResetDay deletes today's posts from the channel and then today's entries
// from the store. A post that cannot be deleted is reported in the outcome
// and does not stop the reset.
func (e *Engine) ResetDay(ctx context.Context) (ResetOutcome, error) {
	today := e.Today()
	out := ResetOutcome{Date: today}

	entries, err := e.store.ListByDate(ctx, today)
	if err != nil {
		return out, err
	}
	ids := distinctMessages(entries)
	out.Deletions = make([]DeleteOutcome, len(ids))

	var g errgroup.Group
	g.SetLimit(maxParallelDeletes)
	for i, id := range ids {
		out.Deletions[i] = DeleteOutcome{MessageID: id}
		if e.deleter == nil {
			continue
		}
		g.Go(func() error {
			if err := e.deleter.Delete(ctx, id); err != nil {
				out.Deletions[i].Err = err
				e.logger.WarnContext(ctx, "Failed to delete message during reset",
					applog.NewFields().WithMessage(id).WithError(err).ToSlice()...)
			}
			return nil
		})
	}
	_ = g.Wait()

	if out.Entries, err = e.store.DeleteByDate(ctx, today); err != nil {
		return out, err
	}
	e.logger.InfoContext(ctx, "Day reset",
		applog.NewFields().WithOperation(applog.OpReset).
			With(applog.FieldDate, today.String()).
			With("messages", len(ids)).
			With("entries", out.Entries).
			With("failed", len(out.Failed())).ToSlice()...)
	return out, nil
}

func (e *Engine) add(ctx context.Context, req AddRequest) (AddResult, error) {
	if req.Identity != nil {
		exists, err := e.store.ExistsIdentity(ctx, *req.Identity)
		if err != nil {
			return AddResult{}, err
		}
		if exists {
			e.logger.DebugContext(ctx, "Skipping already recorded line",
				applog.NewFields().WithLine(req.Line).WithMessage(req.Identity.MessageID).ToSlice()...)
			return AddResult{Duplicate: true}, nil
		}
	}

	entry, err := e.build(ctx, req.Date, req.Line, req.Identity)
	if err != nil {
		return AddResult{}, err
	}
	saved, err := e.store.Insert(ctx, entry)
	if err != nil {
		return AddResult{}, err
	}
	e.logger.InfoContext(ctx, "Recorded spending", applog.NewFields().WithEntry(saved).WithOperation(applog.OpCreate).ToSlice()...)
	return AddResult{Entry: saved}, nil
}

func (e *Engine) build(ctx context.Context, date core.Date, line core.SpendingLine, id *core.MessageIdentity) (core.Entry, error) {
	amount, conv, err := e.convert(ctx, line)
	if err != nil {
		return core.Entry{}, err
	}
	entry := core.Entry{
		Date:       date,
		Category:   line.Category,
		Amount:     amount,
		Identity:   id,
		Conversion: conv,
		CreatedAt:  e.now(),
	}
	if err := entry.Validate(); err != nil {
		return core.Entry{}, err
	}
	return entry, nil
}

// convert returns the home amount of line and, for foreign lines, the
// conversion that produced it.
func (e *Engine) convert(ctx context.Context, line core.SpendingLine) (decimal.Decimal, *core.Conversion, error) {
	currency := strings.ToUpper(line.Currency)
	if currency == "" {
		currency = e.rates.Home()
	}
	if !core.IsCurrencyCode(currency) {
		return decimal.Zero, nil, fmt.Errorf("%w: %q", core.ErrCurrencyUnsupported, line.Currency)
	}
	if currency == strings.ToUpper(e.rates.Home()) {
		return line.Amount, nil, nil
	}

	res := e.rates.ConvertToHome(ctx, line.Amount, currency)
	if !res.Success {
		err := res.Err
		if err == nil {
			err = core.ErrRateUnavailable
		}
		e.logger.WarnContext(ctx, "Conversion failed",
			applog.NewFields().WithLine(line).WithOperation(applog.OpConvert).WithError(err).ToSlice()...)
		return decimal.Zero, nil, err
	}
	return res.Amount, &core.Conversion{
		OriginalAmount:   line.Amount,
		OriginalCurrency: currency,
		ExchangeRate:     res.Rate,
	}, nil
}

func distinctMessages(entries []core.Entry) []int64 {
	seen := make(map[int64]bool)
	var ids []int64
	for _, e := range entries {
		if e.Identity == nil || seen[e.Identity.MessageID] {
			continue
		}
		seen[e.Identity.MessageID] = true
		ids = append(ids, e.Identity.MessageID)
	}
	return ids
}
