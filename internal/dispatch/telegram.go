package dispatch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"feedwatch/internal/model"
)

// TelegramConfig configures the Telegram bot gateway.
type TelegramConfig struct {
	Token          string
	ChatID         int64
	ThreadID       int
	DisablePreview bool
	// APIURL overrides the Bot API endpoint.
	APIURL  string
	Timeout time.Duration
}

// Telegram posts messages to one chat through the Bot API.
type Telegram struct {
	cfg TelegramConfig
	bot *tele.Bot
}

func NewTelegram(cfg TelegramConfig) (*Telegram, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat id is empty")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		URL:     cfg.APIURL,
		Client:  &http.Client{Timeout: cfg.Timeout},
		Offline: true,
	})
	if err != nil {
		return nil, err
	}
	return &Telegram{cfg: cfg, bot: b}, nil
}

func (t *Telegram) Name() string { return "telegram" }

func (t *Telegram) Dispatch(ctx context.Context, msg model.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	opt := &tele.SendOptions{
		DisableWebPagePreview: t.cfg.DisablePreview,
		ThreadID:              t.cfg.ThreadID,
	}
	if _, err := t.bot.Send(&tele.Chat{ID: t.cfg.ChatID}, telegramText(msg), opt); err != nil {
		return fmt.Errorf("%w: telegram: %w", ErrDispatch, err)
	}
	return nil
}

func telegramText(msg model.Message) string {
	parts := make([]string, 0, 3)
	for _, p := range []string{msg.Title, msg.Body, msg.URL} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, "\n\n")
}
