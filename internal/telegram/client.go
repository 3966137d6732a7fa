// Package telegram adapts the Telegram Bot API to the channel the ledger
// listens to.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"accountant/internal/core"
	applog "accountant/internal/log"
)

// API is the subset of *tgbotapi.BotAPI the client uses.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	HandleUpdate(r *http.Request) (*tgbotapi.Update, error)
}

// Client posts to and reads from a single channel.
type Client struct {
	api       API
	channelID int64
	logger    *applog.Logger
}

// New connects to the Bot API with token.
func New(token string, channelID int64, logger *applog.Logger) (*Client, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("%w: connect bot api: %w", core.ErrTransport, err)
	}
	c := NewWithAPI(bot, channelID, logger)
	c.logger.Info("Connected to Telegram", "bot", bot.Self.UserName, "channel_id", channelID)
	return c, nil
}

// NewWithAPI wraps an existing API implementation.
func NewWithAPI(api API, channelID int64, logger *applog.Logger) *Client {
	if logger == nil {
		logger = applog.New(applog.DefaultConfig())
	}
	return &Client{api: api, channelID: channelID, logger: logger.WithComponent(applog.ComponentTelegram)}
}

// ChannelID returns the channel the client is bound to.
func (c *Client) ChannelID() int64 { return c.channelID }

// Send posts msg to the channel and returns the new message id.
func (c *Client) Send(ctx context.Context, msg core.OutgoingMessage) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	cfg := tgbotapi.NewMessage(c.channelID, msg.Text)
	if msg.Markdown {
		cfg.ParseMode = tgbotapi.ModeMarkdown
	}
	if msg.ReplyTo != 0 {
		cfg.ReplyToMessageID = int(msg.ReplyTo)
	}
	if len(msg.Buttons) > 0 {
		row := make([]tgbotapi.InlineKeyboardButton, len(msg.Buttons))
		for i, b := range msg.Buttons {
			row[i] = tgbotapi.NewInlineKeyboardButtonData(b.Text, b.Data)
		}
		cfg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(row)
	}

	sent, err := c.api.Send(cfg)
	if err != nil {
		return 0, fmt.Errorf("%w: send message: %w", core.ErrTransport, err)
	}
	return int64(sent.MessageID), nil
}

// SendDocument uploads doc to the channel.
func (c *Client) SendDocument(ctx context.Context, doc core.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cfg := tgbotapi.NewDocument(c.channelID, tgbotapi.FileBytes{Name: doc.Filename, Bytes: doc.Data})
	if _, err := c.api.Send(cfg); err != nil {
		return fmt.Errorf("%w: send document %s: %w", core.ErrTransport, doc.Filename, err)
	}
	return nil
}

// Delete removes a message from the channel.
func (c *Client) Delete(ctx context.Context, messageID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := c.api.Request(tgbotapi.NewDeleteMessage(c.channelID, int(messageID))); err != nil {
		return fmt.Errorf("%w: delete message %d: %w", core.ErrTransport, messageID, err)
	}
	return nil
}

// AnswerCallback acknowledges an inline button press with a short toast.
func (c *Client) AnswerCallback(ctx context.Context, callbackID, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := c.api.Request(tgbotapi.NewCallback(callbackID, text)); err != nil {
		return fmt.Errorf("%w: answer callback: %w", core.ErrTransport, err)
	}
	return nil
}

// SetWebhook registers url as the update endpoint.
func (c *Client) SetWebhook(url string) error {
	wh, err := tgbotapi.NewWebhook(url)
	if err != nil {
		return fmt.Errorf("%w: webhook url: %w", core.ErrTransport, err)
	}
	// One delivery at a time keeps updates in arrival order.
	wh.MaxConnections = 1
	wh.AllowedUpdates = []string{"channel_post", "edited_channel_post", "callback_query"}
	if _, err := c.api.Request(wh); err != nil {
		return fmt.Errorf("%w: set webhook: %w", core.ErrTransport, err)
	}
	c.logger.Info("Webhook registered")
	return nil
}

// ErrIgnored is returned by Decode for updates that do not concern the channel.
var ErrIgnored = errors.New("update ignored")

// Decode reads a webhook request body into a channel event.
func (c *Client) Decode(r *http.Request) (core.ChannelEvent, error) {
	update, err := c.api.HandleUpdate(r)
	if err != nil {
		return core.ChannelEvent{}, fmt.Errorf("decode update: %w", err)
	}
	ev, ok := EventFromUpdate(c.channelID, *update)
	if !ok {
		return core.ChannelEvent{}, ErrIgnored
	}
	return ev, nil
}

// Poll long-polls for updates and hands channel events to handle until ctx
// is cancelled. Handler errors are logged; the update is not retried.
func (c *Client) Poll(ctx context.Context, handle func(context.Context, core.ChannelEvent) error) error {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = 30
	updates := c.api.GetUpdatesChan(cfg)
	defer c.api.StopReceivingUpdates()

	c.logger.Info("Polling for updates")
	for {
		select {
		case <-ctx.Done():
			return nil
		case u, ok := <-updates:
			if !ok {
				return nil
			}
			ev, ok := EventFromUpdate(c.channelID, u)
			if !ok {
				continue
			}
			if err := handle(ctx, ev); err != nil {
				c.logger.ErrorContext(ctx, "Failed to handle update",
					applog.NewFields().WithMessage(ev.MessageID).
						With(applog.FieldEventKind, string(ev.Kind)).
						WithError(err).ToSlice()...)
			}
		}
	}
}

// EventFromUpdate maps an update to a channel event. Updates from other
// chats and posts without text are dropped. A zero channelID accepts any chat.
func EventFromUpdate(channelID int64, u tgbotapi.Update) (core.ChannelEvent, bool) {
	switch {
	case u.ChannelPost != nil:
		return messageEvent(channelID, core.EventNewMessage, u.ChannelPost)
	case u.EditedChannelPost != nil:
		return messageEvent(channelID, core.EventEditedMessage, u.EditedChannelPost)
	case u.CallbackQuery != nil:
		q := u.CallbackQuery
		if q.Message == nil || !fromChannel(channelID, q.Message) {
			return core.ChannelEvent{}, false
		}
		return core.ChannelEvent{
			Kind:         core.EventCallback,
			MessageID:    int64(q.Message.MessageID),
			SentAt:       unix(q.Message.Date),
			CallbackID:   q.ID,
			CallbackData: q.Data,
		}, true
	}
	return core.ChannelEvent{}, false
}

func messageEvent(channelID int64, kind core.EventKind, m *tgbotapi.Message) (core.ChannelEvent, bool) {
	if !fromChannel(channelID, m) || m.Text == "" {
		return core.ChannelEvent{}, false
	}
	ev := core.ChannelEvent{
		Kind:      kind,
		MessageID: int64(m.MessageID),
		Text:      m.Text,
		SentAt:    unix(m.Date),
	}
	if m.ReplyToMessage != nil {
		ev.ReplyTo = int64(m.ReplyToMessage.MessageID)
	}
	return ev, true
}

func fromChannel(channelID int64, m *tgbotapi.Message) bool {
	if m.Chat == nil {
		return false
	}
	return channelID == 0 || m.Chat.ID == channelID
}

func unix(sec int) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(int64(sec), 0).UTC()
}
