package presenter

import (
	"errors"
	"strings"
	"time"

	"pushbridge/internal/eventbus"
	logx "pushbridge/pkg/logx"
)

// Config selects and tunes the presenter.
//
// Driver values: "log" (default), "telegram".
// The driver is always wrapped in a token bucket so a reload can change the
// rate; RatePerSec <= 0 means unlimited.
type Config struct {
	Driver     string
	RatePerSec float64
	Burst      int
	MaxWait    time.Duration
	Telegram   TelegramConfig
}

// Open builds the configured presenter.
func Open(cfg Config, log logx.Logger, bus eventbus.Bus) (Presenter, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	var p Presenter
	switch d := strings.ToLower(strings.TrimSpace(cfg.Driver)); d {
	case "", "log":
		p = NewLog(log, bus)
	case "telegram":
		tg, err := NewTelegram(cfg.Telegram, log)
		if err != nil {
			return nil, err
		}
		p = tg
	default:
		return nil, errors.New("unknown presenter driver: " + d)
	}
	return NewRateLimited(p, cfg.RatePerSec, cfg.Burst, cfg.MaxWait), nil
}
