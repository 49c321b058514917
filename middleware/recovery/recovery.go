// Package recovery turns a panic further down the chain into a SERVFAIL reply.
package recovery

import (
	"context"
	"runtime/debug"

	"github.com/miekg/dns"
	"github.com/semihalev/zlog/v2"

	"github.com/semihalev/fdns/middleware"
)

// Recovery dummy type.
type Recovery struct{}

// New return recovery.
func New() *Recovery {
	return &Recovery{}
}

// (*Recovery).Name name return middleware name.
func (r *Recovery) Name() string { return name }

// (*Recovery).ServeDNS serveDNS implements the Handle interface.
func (r *Recovery) ServeDNS(ctx context.Context, ch *middleware.Chain) {
	defer func() {
		if r := recover(); r != nil {
			ch.CancelWithRcode(dns.RcodeServerFailure)

			zlog.Error("Recovered in ServeDNS", "recover", r, "stack", string(debug.Stack()))
		}
	}()

	ch.Next(ctx)
}

const name = "recovery"
