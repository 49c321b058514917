// Package forwarder answers queries from the blocklist, the response cache or
// the upstream resolver, in that order. It is the last link of the chain.
package forwarder

import (
	"context"
	"strings"
	"time"

	"github.com/miekg/dns"
	"github.com/semihalev/zlog/v2"

	"github.com/semihalev/fdns/cache"
	"github.com/semihalev/fdns/middleware"
	"github.com/semihalev/fdns/util"
)

// Blocklist reports refused domains.
type Blocklist interface {
	IsBlocked(name string) bool
}

// Cache stores upstream responses.
type Cache interface {
	Get(ctx context.Context, key string) (*dns.Msg, bool)
	Insert(ctx context.Context, key string, msg *dns.Msg, ttl time.Duration)
}

// Resolver forwards a single question upstream.
type Resolver interface {
	Resolve(ctx context.Context, query *dns.Msg) (*dns.Msg, error)
}

// Forwarder type
type Forwarder struct {
	blocklist Blocklist
	cache     Cache
	upstream  Resolver
}

// New return forwarder
func New(blocklist Blocklist, cache Cache, upstream Resolver) *Forwarder {
	return &Forwarder{
		blocklist: blocklist,
		cache:     cache,
		upstream:  upstream,
	}
}

// Name return middleware name
func (f *Forwarder) Name() string { return name }

// ServeDNS implements the Handle interface.
func (f *Forwarder) ServeDNS(ctx context.Context, ch *middleware.Chain) {
	w, req := ch.Writer, ch.Request

	q, rcode := parse(req)
	if rcode != dns.RcodeSuccess {
		zlog.Debug("Malformed request", "client", w.RemoteIP().String(), "rcode", dns.RcodeToString[rcode])
		requests.WithLabelValues(outcomeMalformed).Inc()
		f.reply(w, req, util.HeaderOnly(req, rcode))
		return
	}

	if f.blocklist.IsBlocked(q.Name) {
		zlog.Info("Blocked query", "query", formatQuestion(q), "client", w.RemoteIP().String())
		requests.WithLabelValues(outcomeBlocked).Inc()
		f.reply(w, req, util.SetRcodeWithEDE(req, dns.RcodeRefused, dns.ExtendedErrorCodeBlocked, ""))
		return
	}

	key := cache.Key(q)

	if msg, ok := f.cache.Get(ctx, key); ok {
		requests.WithLabelValues(outcomeCached).Inc()
		msg.Question = []dns.Question{q}
		msg.RecursionDesired = req.RecursionDesired
		f.reply(w, req, msg)
		return
	}

	fReq := new(dns.Msg)
	fReq.Id = req.Id
	fReq.Opcode = req.Opcode
	fReq.RecursionDesired = req.RecursionDesired
	fReq.Question = []dns.Question{q}

	resp, err := f.upstream.Resolve(ctx, fReq)
	if err != nil {
		zlog.Warn("Upstream query failed", "query", formatQuestion(q), "error", err.Error())
		requests.WithLabelValues(outcomeFailed).Inc()

		code, text := util.ErrorToEDE(err)
		f.reply(w, req, util.SetRcodeWithEDE(req, dns.RcodeServerFailure, code, text))
		return
	}

	requests.WithLabelValues(outcomeForwarded).Inc()

	if ttl, ok := cache.ExtractTTL(resp); !ok || ttl > 0 {
		f.cache.Insert(ctx, key, resp, ttl)
	}

	f.reply(w, req, resp)
}

// reply sends m with the id of req. When the client speaks EDNS0 an OPT
// record is attached, udp replies are truncated to the client's size.
func (f *Forwarder) reply(w middleware.ResponseWriter, req, m *dns.Msg) {
	m.Id = req.Id

	if opt := req.IsEdns0(); opt != nil && m.IsEdns0() == nil {
		m.SetEdns0(util.DefaultMsgSize, opt.Do())
	}

	if w.Proto() == "udp" {
		m.Truncate(util.UDPSize(req))
	}

	if err := w.WriteMsg(m); err != nil {
		zlog.Error("Response write failed", "client", w.RemoteIP().String(), "error", err.Error())

		if err := w.WriteMsg(util.HeaderOnly(req, dns.RcodeServerFailure)); err != nil {
			zlog.Error("Fallback response write failed", "client", w.RemoteIP().String(), "error", err.Error())
		}
	}
}

// parse checks the request shape and returns its single question, or the
// rcode to reply with when it can not be answered.
func parse(req *dns.Msg) (dns.Question, int) {
	if req.Response {
		return dns.Question{}, dns.RcodeFormatError
	}

	if req.Opcode != dns.OpcodeQuery {
		return dns.Question{}, dns.RcodeNotImplemented
	}

	if len(req.Question) != 1 {
		return dns.Question{}, dns.RcodeFormatError
	}

	q := req.Question[0]

	if _, ok := dns.IsDomainName(q.Name); !ok || !dns.IsFqdn(q.Name) {
		return dns.Question{}, dns.RcodeFormatError
	}

	if q.Qclass != dns.ClassINET && q.Qclass != dns.ClassANY {
		return dns.Question{}, dns.RcodeNotImplemented
	}

	return q, dns.RcodeSuccess
}

func formatQuestion(q dns.Question) string {
	return strings.ToLower(q.Name) + " " + dns.ClassToString[q.Qclass] + " " + dns.TypeToString[q.Qtype]
}

const name = "forwarder"
