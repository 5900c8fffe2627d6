package telegram

import (
	"context"
	"log/slog"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/nugget/cornerbot/internal/backoff"
)

// handleTimeout bounds how long a single message may be processed
// (pipeline plus reply send). The browser waits alone take ~12s.
const handleTimeout = 3 * time.Minute

// API is the subset of the Bot API the loop needs. *Client implements it.
type API interface {
	GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error)
	SendMessage(ctx context.Context, chatID int64, text string) error
}

// Handler produces the reply for a message's text. An empty reply is
// not sent.
type Handler interface {
	Handle(ctx context.Context, text string) string
}

// HandlerFunc adapts a function to [Handler].
type HandlerFunc func(ctx context.Context, text string) string

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, text string) string {
	return f(ctx, text)
}

// KV is a namespaced string store. *opstate.Store implements it.
type KV interface {
	Get(namespace, key string) (string, error)
	Set(namespace, key, value string) error
	Delete(namespace, key string) error
	// Updated returns when the key was last set, zero if never.
	Updated(namespace, key string) (time.Time, error)
}

// cursor persistence location inside the KV store.
const (
	cursorNamespace = "telegram"
	cursorKey       = "offset"
)

// BotConfig holds the dependencies for a Bot.
type BotConfig struct {
	API     API
	Handler Handler
	// ChatID is the only chat the bot listens to and replies in.
	ChatID      int64
	PollTimeout time.Duration
	Backoff     backoff.Policy
	// Greeting is sent once at startup. Empty disables it.
	Greeting string
	// Cursor, if set, persists the update offset across restarts.
	Cursor KV
	Logger *slog.Logger

	// OnUpdate is called for every update received, before filtering.
	OnUpdate func()
	// OnPollError is called for every failed poll.
	OnPollError func(error)
}

// Bot runs the poll → handle → reply loop for a single chat.
type Bot struct {
	api         API
	handler     Handler
	chatID      int64
	pollTimeout time.Duration
	policy      backoff.Policy
	greeting    string
	cursor      KV
	logger      *slog.Logger
	onUpdate    func()
	onPollError func(error)

	offset int64
}

// NewBot creates a Bot.
func NewBot(cfg BotConfig) *Bot {
	b := &Bot{
		api:         cfg.API,
		handler:     cfg.Handler,
		chatID:      cfg.ChatID,
		pollTimeout: cfg.PollTimeout,
		policy:      cfg.Backoff,
		greeting:    cfg.Greeting,
		cursor:      cfg.Cursor,
		logger:      cfg.Logger,
		onUpdate:    cfg.OnUpdate,
		onPollError: cfg.OnPollError,
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	if b.pollTimeout <= 0 {
		b.pollTimeout = 25 * time.Second
	}
	if b.onUpdate == nil {
		b.onUpdate = func() {}
	}
	if b.onPollError == nil {
		b.onPollError = func(error) {}
	}
	return b
}

// Offset returns the next update id the bot will ask for.
func (b *Bot) Offset() int64 {
	return b.offset
}

// Run polls until ctx is cancelled. Poll failures are retried with
// capped exponential backoff; nothing short of cancellation stops the
// loop. Run returns nil on cancellation.
func (b *Bot) Run(ctx context.Context) error {
	b.loadOffset()
	b.logger.Info("telegram bot started",
		"chat_id", b.chatID,
		"offset", b.offset,
		"poll_timeout", b.pollTimeout,
	)

	b.greet(ctx)

	bo := backoff.New(b.policy)
	for {
		if ctx.Err() != nil {
			b.logger.Info("telegram bot shutting down", "offset", b.offset)
			return nil
		}

		updates, err := b.api.GetUpdates(ctx, b.offset, b.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			delay := bo.Next()
			b.logger.Warn("telegram poll failed",
				"error", err,
				"retry_in", delay,
			)
			b.onPollError(err)
			backoff.Sleep(ctx, delay)
			continue
		}
		bo.Reset()

		for _, u := range updates {
			// Advance before handling: an update that crashes or
			// hangs the handler is never delivered twice.
			b.advance(u.UpdateID + 1)
			b.onUpdate()
			b.dispatch(ctx, u)
		}
	}
}

func (b *Bot) greet(ctx context.Context) {
	if b.greeting == "" {
		return
	}
	if err := b.api.SendMessage(ctx, b.chatID, b.greeting); err != nil {
		b.logger.Warn("telegram greeting failed", "error", err)
	}
}

// dispatch filters one update and, if it is a text message in the
// bot's chat, handles it and sends the reply.
func (b *Bot) dispatch(ctx context.Context, u Update) {
	msg := u.Msg()
	if msg == nil {
		b.logger.Debug("telegram ignoring update without message", "update_id", u.UpdateID)
		return
	}
	if msg.Chat.ID != b.chatID {
		b.logger.Debug("telegram ignoring message from other chat",
			"update_id", u.UpdateID,
			"chat_id", msg.Chat.ID,
		)
		return
	}
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, handleTimeout)
	defer cancel()

	b.logger.Info("telegram message received",
		"update_id", u.UpdateID,
		"message_id", msg.MessageID,
		"message_len", len(text),
		"edited", u.Message == nil,
	)

	reply := b.handle(ctx, u.UpdateID, text)
	if reply == "" {
		return
	}

	if err := b.api.SendMessage(ctx, b.chatID, reply); err != nil {
		b.logger.Error("telegram reply send failed",
			"update_id", u.UpdateID,
			"error", err,
		)
		return
	}
	b.logger.Debug("telegram reply sent",
		"update_id", u.UpdateID,
		"reply_len", len(reply),
	)
}

// handle runs the handler. A panic is logged and yields no reply, so a
// single bad message cannot stop the loop.
func (b *Bot) handle(ctx context.Context, updateID int64, text string) (reply string) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("telegram handler panicked",
				"update_id", updateID,
				"panic", r,
				"stack", string(debug.Stack()),
			)
			reply = ""
		}
	}()
	return b.handler.Handle(ctx, text)
}

func (b *Bot) advance(next int64) {
	if next <= b.offset {
		return
	}
	b.offset = next
	if b.cursor == nil {
		return
	}
	if err := b.cursor.Set(cursorNamespace, cursorKey, strconv.FormatInt(next, 10)); err != nil {
		b.logger.Warn("telegram cursor save failed", "offset", next, "error", err)
	}
}

func (b *Bot) loadOffset() {
	if b.cursor == nil {
		return
	}
	v, err := b.cursor.Get(cursorNamespace, cursorKey)
	if err != nil {
		b.logger.Warn("telegram cursor load failed", "error", err)
		return
	}
	if v == "" {
		return
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		b.logger.Warn("telegram cursor corrupt, starting fresh", "value", v, "error", err)
		if err := b.cursor.Delete(cursorNamespace, cursorKey); err != nil {
			b.logger.Warn("telegram cursor delete failed", "error", err)
		}
		return
	}
	b.offset = n

	// Telegram keeps unconfirmed updates for 24 hours; an older cursor
	// may skip past ones that have already expired.
	attrs := []any{"offset", n}
	if at, err := b.cursor.Updated(cursorNamespace, cursorKey); err == nil && !at.IsZero() {
		attrs = append(attrs, "age", time.Since(at).Round(time.Second))
	}
	b.logger.Info("telegram cursor restored", attrs...)
}
