package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"accountant/internal/core"
	applog "accountant/internal/log"
)

const channel = int64(-100123)

type fakeAPI struct {
	sent     []tgbotapi.Chattable
	requests []tgbotapi.Chattable
	sendErr  error
	updates  chan tgbotapi.Update
	stopped  bool
	nextID   int
}

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if f.sendErr != nil {
		return tgbotapi.Message{}, f.sendErr
	}
	f.sent = append(f.sent, c)
	f.nextID++
	return tgbotapi.Message{MessageID: f.nextID}, nil
}

func (f *fakeAPI) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.requests = append(f.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeAPI) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return f.updates
}

func (f *fakeAPI) StopReceivingUpdates() { f.stopped = true }

func (f *fakeAPI) HandleUpdate(r *http.Request) (*tgbotapi.Update, error) {
	var u tgbotapi.Update
	if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
		return nil, err
	}
	return &u, nil
}

func newClient() (*Client, *fakeAPI) {
	api := &fakeAPI{updates: make(chan tgbotapi.Update, 4)}
	return NewWithAPI(api, channel, applog.Discard()), api
}

func post(chatID int64, id int, text string) *tgbotapi.Message {
	return &tgbotapi.Message{MessageID: id, Chat: &tgbotapi.Chat{ID: chatID}, Date: 1736942400, Text: text}
}

func TestEventFromUpdate(t *testing.T) {
	tests := []struct {
		name   string
		update tgbotapi.Update
		want   core.ChannelEvent
		ok     bool
	}{
		{
			name:   "channel post",
			update: tgbotapi.Update{ChannelPost: post(channel, 10, "Lunch 345")},
			want:   core.ChannelEvent{Kind: core.EventNewMessage, MessageID: 10, Text: "Lunch 345", SentAt: time.Unix(1736942400, 0).UTC()},
			ok:     true,
		},
		{
			name: "reply",
			update: tgbotapi.Update{ChannelPost: &tgbotapi.Message{
				MessageID: 12, Chat: &tgbotapi.Chat{ID: channel}, Date: 1736942400, Text: "/delete",
				ReplyToMessage: post(channel, 10, "Lunch 345"),
			}},
			want: core.ChannelEvent{Kind: core.EventNewMessage, MessageID: 12, Text: "/delete", SentAt: time.Unix(1736942400, 0).UTC(), ReplyTo: 10},
			ok:   true,
		},
		{
			name:   "edited post",
			update: tgbotapi.Update{EditedChannelPost: post(channel, 10, "Lunch 500")},
			want:   core.ChannelEvent{Kind: core.EventEditedMessage, MessageID: 10, Text: "Lunch 500", SentAt: time.Unix(1736942400, 0).UTC()},
			ok:     true,
		},
		{
			name: "callback",
			update: tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
				ID: "cb1", Data: "reset_confirm", Message: post(channel, 11, "⚠️ Are you sure?"),
			}},
			want: core.ChannelEvent{Kind: core.EventCallback, MessageID: 11, SentAt: time.Unix(1736942400, 0).UTC(), CallbackID: "cb1", CallbackData: "reset_confirm"},
			ok:   true,
		},
		{name: "other chat", update: tgbotapi.Update{ChannelPost: post(42, 10, "Lunch 345")}},
		{name: "no text", update: tgbotapi.Update{ChannelPost: post(channel, 10, "")}},
		{name: "private message", update: tgbotapi.Update{Message: post(channel, 10, "Lunch 345")}},
		{name: "callback without message", update: tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{ID: "x"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := EventFromUpdate(channel, tt.update)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if ok && got != tt.want {
				t.Fatalf("event = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestClient_SendWithButtons(t *testing.T) {
	c, api := newClient()
	id, err := c.Send(context.Background(), core.OutgoingMessage{
		Text:     "sure?",
		Markdown: true,
		ReplyTo:  7,
		Buttons:  []core.Button{{Text: "yes", Data: "reset_confirm"}, {Text: "no", Data: "reset_cancel"}},
	})
	if err != nil || id != 1 {
		t.Fatalf("Send = %d, %v", id, err)
	}
	cfg, ok := api.sent[0].(tgbotapi.MessageConfig)
	if !ok {
		t.Fatalf("sent %T, want MessageConfig", api.sent[0])
	}
	if cfg.ChatID != channel || cfg.ReplyToMessageID != 7 || cfg.ParseMode != tgbotapi.ModeMarkdown {
		t.Fatalf("unexpected config %+v", cfg)
	}
	markup, ok := cfg.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	if !ok || len(markup.InlineKeyboard) != 1 || len(markup.InlineKeyboard[0]) != 2 {
		t.Fatalf("unexpected markup %+v", cfg.ReplyMarkup)
	}
	if data := markup.InlineKeyboard[0][1].CallbackData; data == nil || *data != "reset_cancel" {
		t.Fatalf("second button data = %v", data)
	}
}

func TestClient_ErrorsWrapTransport(t *testing.T) {
	c, api := newClient()
	api.sendErr = errors.New("Bad Request: chat not found")
	if _, err := c.Send(context.Background(), core.OutgoingMessage{Text: "x"}); !errors.Is(err, core.ErrTransport) {
		t.Fatalf("Send err = %v, want ErrTransport", err)
	}
	if err := c.SendDocument(context.Background(), core.Document{Filename: "a.csv"}); !errors.Is(err, core.ErrTransport) {
		t.Fatalf("SendDocument err = %v, want ErrTransport", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.Delete(ctx, 1); !errors.Is(err, context.Canceled) {
		t.Fatalf("Delete on cancelled ctx = %v", err)
	}
}

func TestClient_DeleteAndAnswer(t *testing.T) {
	c, api := newClient()
	ctx := context.Background()
	if err := c.Delete(ctx, 55); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := c.AnswerCallback(ctx, "cb", "Cancelled"); err != nil {
		t.Fatalf("AnswerCallback: %v", err)
	}
	del, ok := api.requests[0].(tgbotapi.DeleteMessageConfig)
	if !ok || del.MessageID != 55 || del.ChatID != channel {
		t.Fatalf("delete request = %+v", api.requests[0])
	}
	cb, ok := api.requests[1].(tgbotapi.CallbackConfig)
	if !ok || cb.CallbackQueryID != "cb" || cb.Text != "Cancelled" {
		t.Fatalf("callback request = %+v", api.requests[1])
	}
}

func TestClient_SetWebhookSerializesDelivery(t *testing.T) {
	c, api := newClient()
	if err := c.SetWebhook("https://bot.example.com/botSECRET"); err != nil {
		t.Fatalf("SetWebhook: %v", err)
	}
	wh, ok := api.requests[0].(tgbotapi.WebhookConfig)
	if !ok {
		t.Fatalf("request = %T, want WebhookConfig", api.requests[0])
	}
	if wh.MaxConnections != 1 || wh.URL == nil || wh.URL.Host != "bot.example.com" {
		t.Fatalf("webhook = %+v", wh)
	}
	if len(wh.AllowedUpdates) != 3 || wh.AllowedUpdates[0] != "channel_post" {
		t.Fatalf("allowed updates = %v", wh.AllowedUpdates)
	}
}

func TestClient_Decode(t *testing.T) {
	c, _ := newClient()
	body := `{"update_id":1,"channel_post":{"message_id":3,"date":1736942400,"chat":{"id":-100123,"type":"channel"},"text":"Taxi 1,200"}}`
	ev, err := c.Decode(httptest.NewRequest(http.MethodPost, "/bot", strings.NewReader(body)))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if ev.Kind != core.EventNewMessage || ev.MessageID != 3 || ev.Text != "Taxi 1,200" {
		t.Fatalf("event = %+v", ev)
	}

	other := `{"update_id":2,"channel_post":{"message_id":3,"date":1,"chat":{"id":5,"type":"channel"},"text":"x 1"}}`
	if _, err := c.Decode(httptest.NewRequest(http.MethodPost, "/bot", strings.NewReader(other))); !errors.Is(err, ErrIgnored) {
		t.Fatalf("foreign chat err = %v, want ErrIgnored", err)
	}
	if _, err := c.Decode(httptest.NewRequest(http.MethodPost, "/bot", strings.NewReader("{"))); err == nil || errors.Is(err, ErrIgnored) {
		t.Fatalf("bad body err = %v", err)
	}
}

func TestClient_Poll(t *testing.T) {
	c, api := newClient()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	api.updates <- tgbotapi.Update{ChannelPost: post(42, 1, "ignored 1")}
	api.updates <- tgbotapi.Update{ChannelPost: post(channel, 2, "Lunch 345")}
	api.updates <- tgbotapi.Update{ChannelPost: post(channel, 3, "Taxi 100")}
	close(api.updates)

	var got []int64
	err := c.Poll(ctx, func(_ context.Context, ev core.ChannelEvent) error {
		got = append(got, ev.MessageID)
		if ev.MessageID == 2 {
			return errors.New("handler failure is logged, not fatal")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if len(got) != 2 || got[0] != 2 || got[1] != 3 {
		t.Fatalf("handled %v, want [2 3]", got)
	}
	if !api.stopped {
		t.Fatalf("Poll should stop receiving updates on exit")
	}
}
