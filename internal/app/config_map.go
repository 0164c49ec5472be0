package app

import (
	"strings"
	"time"

	"pushbridge/internal/config"
	"pushbridge/internal/httpapi"
	"pushbridge/internal/presenter"
	"pushbridge/internal/storage"
)

// The config file keeps durations as strings; Validate has already rejected
// malformed values by the time these run.

func storageConfig(cfg *config.Config) storage.Config {
	st := cfg.Storage
	return storage.Config{
		Driver:       st.Driver,
		Path:         st.Path,
		DSN:          st.DSN,
		BusyTimeout:  config.DurationOr(st.BusyTimeout, 0),
		Codec:        st.Codec,
		CompactEvery: st.CompactEvery,
		Redis: storage.RedisConfig{
			Addr:     st.Redis.Addr,
			Password: st.Redis.Password,
			DB:       st.Redis.DB,
			Prefix:   st.Redis.Prefix,
		},
	}
}

func presenterConfig(cfg *config.Config) presenter.Config {
	p := cfg.Presenter
	return presenter.Config{
		Driver:     p.Driver,
		RatePerSec: p.RatePerSec,
		Burst:      p.Burst,
		MaxWait:    config.DurationOr(p.MaxWait, 0),
		Telegram: presenter.TelegramConfig{
			Token:    p.Telegram.Token,
			ChatID:   p.Telegram.ChatID,
			ThreadID: p.Telegram.ThreadID,
			APIURL:   p.Telegram.APIURL,
		},
	}
}

func httpConfig(cfg *config.Config) httpapi.Config {
	h := cfg.HTTP
	return httpapi.Config{
		Enabled:       h.Enabled,
		Addr:          h.Addr,
		Token:         strings.TrimSpace(h.Token),
		AllowInsecure: h.AllowInsecure,
		ReadTimeout:   config.DurationOr(h.ReadTimeout, 5*time.Second),
		WriteTimeout:  config.DurationOr(h.WriteTimeout, 0),
		IdleTimeout:   config.DurationOr(h.IdleTimeout, 120*time.Second),
		Pprof: httpapi.PprofConfig{
			Enabled:              cfg.Pprof.Enabled,
			Prefix:               cfg.Pprof.Prefix,
			MutexProfileFraction: cfg.Pprof.MutexProfileFraction,
			BlockProfileRate:     cfg.Pprof.BlockProfileRate,
		},
	}
}
