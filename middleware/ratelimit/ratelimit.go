// Package ratelimit refuses clients that exceed the configured queries per minute.
package ratelimit

import (
	"context"

	"github.com/cespare/xxhash/v2"
	"github.com/miekg/dns"
	"github.com/semihalev/zlog/v2"

	"github.com/semihalev/fdns/middleware"
)

// RateLimit type
type RateLimit struct {
	store *LimiterStore
	rate  int
}

// New return ratelimit, rate is the allowed queries per minute for each
// client, zero disables limiting.
func New(rate int) *RateLimit {
	r := &RateLimit{rate: rate}

	if rate > 0 {
		r.store = NewLimiterStore(storeSize, rate)
	}

	return r
}

// Name return middleware name
func (r *RateLimit) Name() string { return name }

// ServeDNS implements the Handle interface.
func (r *RateLimit) ServeDNS(ctx context.Context, ch *middleware.Chain) {
	ip := ch.Writer.RemoteIP()

	if r.rate == 0 || ip == nil || ip.IsLoopback() {
		ch.Next(ctx)
		return
	}

	if !r.store.Get(xxhash.Sum64(ip.To16())).Allow() {
		zlog.Debug("Client rate limit exceeded", "client", ip.String())
		ch.CancelWithRcode(dns.RcodeRefused)
		return
	}

	ch.Next(ctx)
}

const (
	storeSize = 256 * 100

	name = "ratelimit"
)
