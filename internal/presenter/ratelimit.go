package presenter

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// RateLimited throttles an inner presenter with a token bucket.
// A call waits at most MaxWait for a token before failing.
// perSec <= 0 means unlimited until SetLimit says otherwise.
type RateLimited struct {
	next    Presenter
	limiter *rate.Limiter
	maxWait time.Duration
}

func NewRateLimited(next Presenter, perSec float64, burst int, maxWait time.Duration) *RateLimited {
	return &RateLimited{next: next, limiter: rate.NewLimiter(limitOf(perSec), burstOf(perSec, burst)), maxWait: maxWait}
}

// Unwrap returns the throttled presenter.
func (p *RateLimited) Unwrap() Presenter { return p.next }

func limitOf(perSec float64) rate.Limit {
	if perSec <= 0 {
		return rate.Inf
	}
	return rate.Limit(perSec)
}

func burstOf(perSec float64, burst int) int {
	if burst > 0 {
		return burst
	}
	return max(int(perSec), 1)
}

func (p *RateLimited) Present(ctx context.Context, n Notification) error {
	wctx := ctx
	if p.maxWait > 0 {
		var cancel context.CancelFunc
		wctx, cancel = context.WithTimeout(ctx, p.maxWait)
		defer cancel()
	}
	if err := p.limiter.Wait(wctx); err != nil {
		return err
	}
	return p.next.Present(ctx, n)
}

// SetLimit changes the rate and burst in place; waiting calls see the new
// limit. perSec <= 0 lifts the limit.
func (p *RateLimited) SetLimit(perSec float64, burst int) {
	p.limiter.SetLimit(limitOf(perSec))
	p.limiter.SetBurst(burstOf(perSec, burst))
}
