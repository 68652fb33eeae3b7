// Package ratelimit drops queries from clients that exceed the
// configured per-minute budget. Dropped queries get no reply at all,
// an answer would still amplify.
package ratelimit

import (
	"context"
	"net"
	"time"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/time/rate"

	"github.com/drahnr/constellation/cache"
	"github.com/drahnr/constellation/config"
	"github.com/drahnr/constellation/middleware"
)

// RateLimit type
type RateLimit struct {
	cache *cache.Cache
	rate  int
}

func init() {
	middleware.Register(name, func(cfg *config.Config) middleware.Handler {
		return New(cfg)
	})
}

// New return ratelimit
func New(cfg *config.Config) *RateLimit {
	return &RateLimit{
		cache: cache.New(cacheSize),
		rate:  cfg.ClientRateLimit,
	}
}

// Name return middleware name
func (r *RateLimit) Name() string { return name }

// ServeDNS implements the Handle interface.
func (r *RateLimit) ServeDNS(ctx context.Context, ch *middleware.Chain) {
	w := ch.Writer

	if r.rate == 0 {
		ch.Next(ctx)
		return
	}

	if w.RemoteIP() == nil {
		ch.Next(ctx)
		return
	} else if w.RemoteIP().IsLoopback() {
		ch.Next(ctx)
		return
	}

	if !r.getLimiter(w.RemoteIP()).Allow() {
		//no reply to client
		ch.Cancel()
		return
	}

	ch.Next(ctx)
}

func (r *RateLimit) getLimiter(remoteip net.IP) *rate.Limiter {
	xxhash := xxhash.New()
	_, _ = xxhash.Write(remoteip)
	key := xxhash.Sum64()

	if v, ok := r.cache.Get(key); ok {
		return v.(*rate.Limiter)
	}

	limit := rate.Limit(0)
	if r.rate > 0 {
		limit = rate.Every(time.Minute / time.Duration(r.rate))
	}

	rl := rate.NewLimiter(limit, r.rate)
	r.cache.Add(key, rl)

	return rl
}

const (
	cacheSize = 256 * 100

	name = "ratelimit"
)
