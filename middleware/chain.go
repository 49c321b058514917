package middleware

import (
	"context"

	"github.com/miekg/dns"

	"github.com/semihalev/fdns/util"
)

// Chain type.
type Chain struct {
	Writer  ResponseWriter
	Request *dns.Msg

	handlers []Handler

	head  int
	count int
}

// NewChain return new fresh chain.
func NewChain(handlers []Handler) *Chain {
	return &Chain{
		Writer:   &responseWriter{},
		handlers: handlers,
		count:    len(handlers),
	}
}

// (*Chain).Next next call next dns handler in the chain.
func (ch *Chain) Next(ctx context.Context) {
	if ch.count == 0 {
		return
	}

	handler := ch.handlers[ch.head]
	ch.head++
	ch.count--

	handler.ServeDNS(ctx, ch)
}

// (*Chain).Cancel cancel next calls.
func (ch *Chain) Cancel() {
	ch.count = 0
}

// (*Chain).CancelWithRcode cancel next calls and reply with rcode.
func (ch *Chain) CancelWithRcode(rcode int) {
	ch.count = 0

	if ch.Writer.Written() {
		return
	}

	_ = ch.Writer.WriteMsg(util.SetRcode(ch.Request, rcode))
}

// (*Chain).Reset reset the chain variables.
func (ch *Chain) Reset(w dns.ResponseWriter, r *dns.Msg) {
	ch.Writer.Reset(w)
	ch.Request = r
	ch.count = len(ch.handlers)
	ch.head = 0
}
