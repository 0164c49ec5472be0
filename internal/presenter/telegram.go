package presenter

import (
	"context"
	"errors"
	"strings"

	tele "gopkg.in/telebot.v4"

	logx "pushbridge/pkg/logx"
)

type TelegramConfig struct {
	Token    string
	ChatID   int64
	ThreadID int
	// APIURL overrides the Bot API endpoint (self-hosted servers, tests).
	APIURL string
}

// Telegram sends notifications as chat messages through the Bot API.
type Telegram struct {
	bot      *tele.Bot
	chat     *tele.Chat
	threadID int
	log      logx.Logger
}

func NewTelegram(cfg TelegramConfig, log logx.Logger) (*Telegram, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat_id is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	b, err := tele.NewBot(tele.Settings{
		Token: cfg.Token,
		URL:   cfg.APIURL,
		// Send-only: no poller and no getMe round trip at startup.
		Offline: true,
	})
	if err != nil {
		return nil, err
	}
	return &Telegram{bot: b, chat: &tele.Chat{ID: cfg.ChatID}, threadID: cfg.ThreadID, log: log}, nil
}

func (p *Telegram) Present(ctx context.Context, n Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	text := FormatHTML(ContentOf(n.Payload))
	opt := &tele.SendOptions{ThreadID: p.threadID, ParseMode: tele.ModeHTML, DisableWebPagePreview: true}
	if _, err := p.bot.Send(p.chat, text, opt); err != nil {
		return err
	}
	p.log.Debug("telegram notification sent", logx.String("schedule_id", n.ScheduleID), logx.Int64("chat_id", p.chat.ID))
	return nil
}
