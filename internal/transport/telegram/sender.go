// Package telegram delivers alerts through the Telegram Bot API.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"stockwatch/internal/notifier"
	logx "stockwatch/pkg/logx"
)

type Config struct {
	Token    string
	ChatID   string // numeric id or "@channel"
	ThreadID int    // forum topic, 0 for none
	APIURL   string // empty means the public Bot API
	Timeout  time.Duration
}

// Sender posts one HTML message per alert.
type Sender struct {
	bot      *tele.Bot
	to       tele.Recipient
	threadID int
	log      logx.Logger
}

// ErrMissingCredentials means token or chat id is empty.
var ErrMissingCredentials = errors.New("telegram token and chat id are required")

// New creates the bot offline (no getMe round trip at startup).
func New(cfg Config, log logx.Logger) (*Sender, error) {
	token := strings.TrimSpace(cfg.Token)
	chat := strings.TrimSpace(cfg.ChatID)
	if token == "" || chat == "" {
		return nil, ErrMissingCredentials
	}
	to, err := parseRecipient(chat)
	if err != nil {
		return nil, err
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	b, err := tele.NewBot(tele.Settings{
		URL:     strings.TrimRight(strings.TrimSpace(cfg.APIURL), "/"),
		Token:   token,
		Client:  &http.Client{Timeout: timeout},
		Offline: true,
	})
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Sender{bot: b, to: to, threadID: cfg.ThreadID, log: log.With(logx.String("comp", "telegram"))}, nil
}

func (s *Sender) Name() string { return "telegram" }

// Send honours ctx even though the Bot API client call itself does not take one:
// the request keeps running in the background until the HTTP client timeout.
func (s *Sender) Send(ctx context.Context, msg notifier.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	opts := &tele.SendOptions{
		ParseMode:             tele.ModeHTML,
		DisableWebPagePreview: true,
		ThreadID:              s.threadID,
	}

	done := make(chan error, 1)
	go func() {
		_, err := s.bot.Send(s.to, msg.Text, opts)
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("telegram send: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// recipient addresses a chat by numeric id or @username.
type recipient string

func (r recipient) Recipient() string { return string(r) }

func parseRecipient(chat string) (tele.Recipient, error) {
	if strings.HasPrefix(chat, "@") {
		if len(chat) == 1 {
			return nil, fmt.Errorf("telegram chat id %q: empty channel name", chat)
		}
		return recipient(chat), nil
	}
	id, err := strconv.ParseInt(chat, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("telegram chat id %q: expected integer or @channel", chat)
	}
	return tele.ChatID(id), nil
}
