package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"accountant/internal/core"
	"accountant/internal/intent"
	"accountant/internal/ledger"
	applog "accountant/internal/log"
	"accountant/internal/rates"
	"accountant/internal/report"
	"accountant/internal/storage/memory"
)

type fixedRates struct{}

func (fixedRates) Home() string { return "AMD" }

func (fixedRates) ConvertToHome(_ context.Context, amount decimal.Decimal, currency string) rates.Result {
	if currency != "USD" {
		return rates.Result{Amount: amount, Err: fmt.Errorf("%w for %s", core.ErrRateUnavailable, currency)}
	}
	r := decimal.NewFromInt(400)
	return rates.Result{Amount: amount.Mul(r).Round(0), Rate: r, Success: true}
}

type fakeChannel struct {
	mu      sync.Mutex
	sent    []core.OutgoingMessage
	docs    []core.Document
	deleted []int64
	answers map[string]string
	sendErr error
	nextID  int64
}

func (f *fakeChannel) Send(_ context.Context, msg core.OutgoingMessage) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return 0, f.sendErr
	}
	f.sent = append(f.sent, msg)
	f.nextID++
	return 1000 + f.nextID, nil
}

func (f *fakeChannel) SendDocument(_ context.Context, doc core.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs = append(f.docs, doc)
	return nil
}

func (f *fakeChannel) Delete(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeChannel) AnswerCallback(_ context.Context, id, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.answers == nil {
		f.answers = map[string]string{}
	}
	f.answers[id] = text
	return nil
}

func (f *fakeChannel) last() core.OutgoingMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return core.OutgoingMessage{}
	}
	return f.sent[len(f.sent)-1]
}

type harness struct {
	worker  *EventWorker
	store   *memory.Store
	channel *fakeChannel
	now     time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:   memory.New(),
		channel: &fakeChannel{},
		now:     time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return h.now }
	parser := intent.New("AMD")
	engine := ledger.New(h.store, fixedRates{}, parser, h.channel, ledger.WithClock(clock), ledger.WithLogger(applog.Discard()))
	reports := report.New(h.store, "AMD", report.WithClock(clock))
	h.worker = NewEventWorker(engine, reports, parser, h.channel, applog.Discard())
	return h
}

func (h *harness) post(t *testing.T, id int64, text string) {
	t.Helper()
	if err := h.worker.HandleEvent(context.Background(), core.ChannelEvent{Kind: core.EventNewMessage, MessageID: id, Text: text, SentAt: h.now}); err != nil {
		t.Fatalf("HandleEvent(%q): %v", text, err)
	}
}

func TestEventWorker_RecordsAndNotifiesConversions(t *testing.T) {
	h := newHarness(t)
	h.post(t, 1, "Lunch 345\nCoffee 5.50 USD\nSouvenir 3 GBP")

	if h.store.Len() != 2 {
		t.Fatalf("store holds %d entries, want 2", h.store.Len())
	}
	reply := h.channel.last()
	if reply.ReplyTo != 1 {
		t.Fatalf("notice should reply to the spending message, got %+v", reply)
	}
	if !strings.Contains(reply.Text, "💱 coffee: 5.50 USD → 2,200 AMD") {
		t.Errorf("missing conversion notice in %q", reply.Text)
	}
	if !strings.Contains(reply.Text, `Could not record "Souvenir 3 GBP"`) {
		t.Errorf("missing rejection in %q", reply.Text)
	}
}

func TestEventWorker_HomeOnlyMessageIsSilent(t *testing.T) {
	h := newHarness(t)
	h.post(t, 1, "Lunch 345")
	h.post(t, 2, "good morning")
	if len(h.channel.sent) != 0 {
		t.Fatalf("expected no replies, got %+v", h.channel.sent)
	}
	if h.store.Len() != 1 {
		t.Fatalf("store holds %d entries", h.store.Len())
	}
}

func TestEventWorker_NumbersInChatterAreSilent(t *testing.T) {
	h := newHarness(t)
	for i, text := range []string{"Dinner with 3 friends", "call me at 5 pm", "see you at 8 tomorrow"} {
		h.post(t, int64(i+1), text)
	}
	if len(h.channel.sent) != 0 || h.store.Len() != 0 {
		t.Fatalf("chatter produced replies %+v and %d entries", h.channel.sent, h.store.Len())
	}
}

func TestEventWorker_Commands(t *testing.T) {
	h := newHarness(t)
	h.post(t, 1, "Lunch 345\nCoffee 1 USD")

	h.post(t, 2, "/help")
	if msg := h.channel.last(); msg.Text != HelpText || !msg.Markdown {
		t.Fatalf("help reply = %+v", msg)
	}

	h.post(t, 3, "/total")
	if msg := h.channel.last(); !strings.HasPrefix(msg.Text, "📊 *Spendings for 2025-01-15*") || !msg.Markdown {
		t.Fatalf("total reply = %q", msg.Text)
	}
	if len(h.channel.docs) != 1 || h.channel.docs[0].Filename != "spendings_2025-01-15.csv" {
		t.Fatalf("csv documents = %+v", h.channel.docs)
	}

	h.post(t, 4, "/total 2025-01-01")
	if msg := h.channel.last(); msg.Text != "🕛 No spendings recorded for 2025-01-01." {
		t.Fatalf("empty total = %q", msg.Text)
	}
	if len(h.channel.docs) != 1 {
		t.Fatalf("empty day must not send a CSV")
	}

	h.post(t, 5, "/monthly-total")
	if msg := h.channel.last(); !strings.HasPrefix(msg.Text, "📊 Monthly Report: 2025-01") || msg.Markdown {
		t.Fatalf("monthly reply = %+v", msg)
	}

	h.post(t, 6, "/total yesterday")
	if msg := h.channel.last(); msg.Text != "⚠️ Usage: /total [YYYY-MM-DD]" || msg.ReplyTo != 6 {
		t.Fatalf("bad argument reply = %+v", msg)
	}
}

func TestEventWorker_AddPast(t *testing.T) {
	h := newHarness(t)
	h.post(t, 1, "/add-past 2025-01-10 Dinner 4,000")

	if msg := h.channel.last(); msg.Text != "✅ Recorded dinner: 4,000 AMD on 2025-01-10" {
		t.Fatalf("add-past reply = %q", msg.Text)
	}
	entries, _ := h.store.ListByDate(context.Background(), core.NewDate(2025, 1, 10))
	if len(entries) != 1 || entries[0].Identity != nil {
		t.Fatalf("entries = %+v", entries)
	}

	h.post(t, 2, "/add-past 2025-01-10 Gift 5 CHF")
	if msg := h.channel.last(); !strings.Contains(msg.Text, "no exchange rate for CHF") {
		t.Fatalf("rejected add-past reply = %q", msg.Text)
	}
}

func TestEventWorker_ResetFlow(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.post(t, 1, "Lunch 345")
	h.post(t, 2, "Taxi 500\nCoffee 100")

	h.post(t, 3, "/reset-day")
	prompt := h.channel.last()
	if prompt.ReplyTo != 3 || len(prompt.Buttons) != 2 || prompt.Buttons[0].Data != CallbackResetConfirm {
		t.Fatalf("prompt = %+v", prompt)
	}

	// the prompt got id 1001 from the fake channel
	cancel := core.ChannelEvent{Kind: core.EventCallback, MessageID: 1001, CallbackID: "c1", CallbackData: CallbackResetCancel}
	if err := h.worker.HandleEvent(ctx, cancel); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if h.channel.answers["c1"] != "Cancelled" || h.store.Len() != 3 {
		t.Fatalf("cancel should keep entries, answers=%v len=%d", h.channel.answers, h.store.Len())
	}

	confirm := core.ChannelEvent{Kind: core.EventCallback, MessageID: 1001, CallbackID: "c2", CallbackData: CallbackResetConfirm}
	if err := h.worker.HandleEvent(ctx, confirm); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if h.channel.answers["c2"] != "Resetting day..." {
		t.Fatalf("confirm answer = %q", h.channel.answers["c2"])
	}
	if h.store.Len() != 0 {
		t.Fatalf("reset left %d entries", h.store.Len())
	}
	if msg := h.channel.last(); msg.Text != "🔄 Day reset complete! Deleted 2 spending message(s)." {
		t.Fatalf("reset announcement = %q", msg.Text)
	}
	// spending posts 1 and 2, plus the prompt twice (cancel and confirm)
	deleted := map[int64]int{}
	for _, id := range h.channel.deleted {
		deleted[id]++
	}
	if deleted[1] != 1 || deleted[2] != 1 || deleted[1001] != 2 {
		t.Fatalf("deleted = %v", h.channel.deleted)
	}

	h.post(t, 4, "/total")
	if msg := h.channel.last(); msg.Text != "🕛 No spendings recorded for 2025-01-15." {
		t.Fatalf("total after reset = %q", msg.Text)
	}
}

func TestEventWorker_DeleteByReply(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.post(t, 1, "Lunch 345\nTaxi 500")
	h.post(t, 2, "Coffee 100")

	del := func(id, replyTo int64) {
		t.Helper()
		ev := core.ChannelEvent{Kind: core.EventNewMessage, MessageID: id, Text: "/delete", SentAt: h.now, ReplyTo: replyTo}
		if err := h.worker.HandleEvent(ctx, ev); err != nil {
			t.Fatalf("delete: %v", err)
		}
	}

	del(3, 1)
	if h.store.Len() != 1 {
		t.Fatalf("store holds %d entries, want 1", h.store.Len())
	}
	if len(h.channel.deleted) != 2 || h.channel.deleted[0] != 1 || h.channel.deleted[1] != 3 {
		t.Fatalf("deleted = %v, want the post then the command", h.channel.deleted)
	}
	if msg := h.channel.last(); msg.Text != "🗑 Removed 2 spending(s)." {
		t.Fatalf("delete reply = %q", msg.Text)
	}

	del(4, 1)
	if msg := h.channel.last(); msg.Text != "⚠️ Nothing is recorded for that message." || msg.ReplyTo != 4 {
		t.Fatalf("second delete reply = %+v", msg)
	}

	del(5, 0)
	if msg := h.channel.last(); msg.Text != "⚠️ Usage: reply /delete to a spending message" {
		t.Fatalf("delete without reply = %q", msg.Text)
	}
	if h.store.Len() != 1 {
		t.Fatalf("store holds %d entries, want 1", h.store.Len())
	}
}

func TestEventWorker_EditToChatterDeletesMessage(t *testing.T) {
	h := newHarness(t)
	h.post(t, 1, "Lunch 345")

	err := h.worker.HandleEvent(context.Background(), core.ChannelEvent{Kind: core.EventEditedMessage, MessageID: 1, Text: "never mind"})
	if err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if h.store.Len() != 0 || len(h.channel.deleted) != 1 || h.channel.deleted[0] != 1 {
		t.Fatalf("len=%d deleted=%v", h.store.Len(), h.channel.deleted)
	}
}

func TestEventWorker_EditWithTrailingRemarkDeletesMessage(t *testing.T) {
	h := newHarness(t)
	h.post(t, 1, "Lunch 345")

	err := h.worker.HandleEvent(context.Background(), core.ChannelEvent{Kind: core.EventEditedMessage, MessageID: 1, Text: "Lunch 345 cancelled"})
	if err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if h.store.Len() != 0 || len(h.channel.deleted) != 1 || h.channel.deleted[0] != 1 {
		t.Fatalf("len=%d deleted=%v", h.store.Len(), h.channel.deleted)
	}
	if len(h.channel.sent) != 0 {
		t.Fatalf("edit into chatter should not be answered, sent %+v", h.channel.sent)
	}
}

func TestEventWorker_EditLifecycleInDailyTotal(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	edit := func(text string) {
		t.Helper()
		if err := h.worker.HandleEvent(ctx, core.ChannelEvent{Kind: core.EventEditedMessage, MessageID: 1, Text: text}); err != nil {
			t.Fatalf("edit %q: %v", text, err)
		}
	}

	h.post(t, 1, "Lunch 345")
	edit("Lunch 400")

	h.post(t, 2, "/total")
	total := h.channel.last().Text
	if !strings.Contains(total, fmt.Sprintf("%-14s%-12s", "Lunch", "400")) || strings.Contains(total, "345") {
		t.Fatalf("total after edit = %q", total)
	}

	edit("nonsense")
	h.post(t, 3, "/total")
	if msg := h.channel.last(); msg.Text != "🕛 No spendings recorded for 2025-01-15." {
		t.Fatalf("total after edit into chatter = %q", msg.Text)
	}
}

func TestEventWorker_SendFailuresAreNotFatal(t *testing.T) {
	h := newHarness(t)
	h.channel.sendErr = fmt.Errorf("%w: flood control", core.ErrTransport)
	h.post(t, 1, "/help")
	h.post(t, 2, "Coffee 1 USD")
	if h.store.Len() != 1 {
		t.Fatalf("spending must be recorded even if the notice fails")
	}
}

type brokenLedger struct{ Ledger }

func (brokenLedger) HandleNew(context.Context, ledger.NewMessage) (ledger.Outcome, error) {
	return ledger.Outcome{}, fmt.Errorf("%w: insert: disk full", core.ErrStorage)
}

func TestEventWorker_StorageErrorsAreReturned(t *testing.T) {
	h := newHarness(t)
	w := NewEventWorker(brokenLedger{}, h.worker.reports, intent.New("AMD"), h.channel, applog.Discard())
	err := w.HandleEvent(context.Background(), core.ChannelEvent{Kind: core.EventNewMessage, MessageID: 1, Text: "Lunch 345"})
	if !errors.Is(err, core.ErrStorage) {
		t.Fatalf("HandleEvent err = %v, want ErrStorage", err)
	}
}
