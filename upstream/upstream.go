// Package upstream forwards queries to the single configured recursive resolver.
package upstream

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/miekg/dns"
	"github.com/semihalev/zlog/v2"
	"golang.org/x/sync/singleflight"

	"github.com/semihalev/fdns/config"
	"github.com/semihalev/fdns/util"
)

// Exchanger sends one query to the upstream and returns its raw answer.
type Exchanger interface {
	Exchange(ctx context.Context, m *dns.Msg) (*dns.Msg, error)
	Close() error
}

// Resolver type
type Resolver struct {
	host     string
	addr     string
	protocol string
	timeout  time.Duration

	exchanger Exchanger
	group     singleflight.Group
}

// New resolves the upstream address once and prepares the transport.
func New(ctx context.Context, cfg config.Upstream) (*Resolver, error) {
	return newResolver(ctx, cfg, nil)
}

func newResolver(ctx context.Context, cfg config.Upstream, rootCAs *x509.CertPool) (*Resolver, error) {
	addr, err := lookupAddr(ctx, cfg.Resolver, cfg.Port)
	if err != nil {
		return nil, err
	}

	r := &Resolver{
		host:     cfg.Resolver,
		addr:     addr,
		protocol: cfg.Protocol,
		timeout:  cfg.Timeout.Duration,
	}

	tlsConfig := &tls.Config{
		ServerName: cfg.Resolver,
		RootCAs:    rootCAs,
		MinVersion: tls.VersionTLS12,
	}

	switch cfg.Protocol {
	case "udp", "tcp":
		r.exchanger = newDNSTransport(cfg.Protocol, addr, nil, r.timeout)
	case "tls":
		r.exchanger = newDNSTransport("tcp-tls", addr, tlsConfig, r.timeout)
	case "https":
		r.exchanger, err = newDoHTransport(cfg.Resolver, addr, cfg.Path, tlsConfig, r.timeout)
	case "quic":
		r.exchanger = newDoQTransport(addr, tlsConfig, r.timeout)
	default:
		err = fmt.Errorf("unknown upstream protocol %q", cfg.Protocol)
	}

	if err != nil {
		return nil, err
	}

	zlog.Info("Upstream resolver ready", "host", cfg.Resolver, "addr", addr, "protocol", cfg.Protocol)

	return r, nil
}

func lookupAddr(ctx context.Context, host string, port int) (string, error) {
	p := strconv.Itoa(port)

	if ip := net.ParseIP(strings.Trim(host, "[]")); ip != nil {
		return net.JoinHostPort(ip.String(), p), nil
	}

	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return "", fmt.Errorf("lookup upstream %s: %w", host, err)
	}

	if len(addrs) == 0 {
		return "", ErrNoAddress
	}

	return net.JoinHostPort(addrs[0].IP.String(), p), nil
}

// Addr returns the resolved upstream address.
func (r *Resolver) Addr() string { return r.addr }

// Resolve forwards the single question of query and builds the reply to it.
// The reply carries the query id and the upstream answer, authority and
// additional records. The upstream OPT record is not copied.
func (r *Resolver) Resolve(ctx context.Context, query *dns.Msg) (*dns.Msg, error) {
	if len(query.Question) != 1 {
		return nil, ErrNoQuestion
	}

	q := query.Question[0]

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	key := strings.ToLower(q.Name) + ":" + strconv.Itoa(int(q.Qtype)) + ":" + strconv.Itoa(int(q.Qclass))

	ch := r.group.DoChan(key, func() (any, error) {
		lctx, lcancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer lcancel()

		return r.lookup(lctx, q)
	})

	var upstream *dns.Msg

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		upstream = res.Val.(*dns.Msg)
	case <-ctx.Done():
		return nil, &ResolveError{Name: q.Name, Qtype: q.Qtype, Err: ctx.Err()}
	}

	resp := new(dns.Msg)
	resp.Id = query.Id
	resp.Response = true
	resp.Opcode = dns.OpcodeQuery
	resp.RecursionDesired = query.RecursionDesired
	resp.RecursionAvailable = true
	resp.Rcode = upstream.Rcode
	resp.Question = []dns.Question{q}
	resp.Answer = copyRRs(upstream.Answer)
	resp.Ns = copyRRs(upstream.Ns)
	resp.Extra = copyRRs(upstream.Extra)

	return resp, nil
}

func (r *Resolver) lookup(ctx context.Context, q dns.Question) (*dns.Msg, error) {
	req := new(dns.Msg)
	req.Id = dns.Id()
	req.RecursionDesired = true
	req.Question = []dns.Question{q}
	req.SetEdns0(util.DefaultMsgSize, false)

	start := time.Now()

	resp, err := r.exchanger.Exchange(ctx, req)
	if err != nil {
		zlog.Debug("Upstream exchange failed", "query", formatQuestion(q), "protocol", r.protocol, "error", err.Error())
		return nil, &ResolveError{Name: q.Name, Qtype: q.Qtype, Err: err}
	}

	zlog.Debug("Upstream exchange", "query", formatQuestion(q), "rcode", dns.RcodeToString[resp.Rcode], "rtt", time.Since(start).Round(time.Microsecond).String())

	switch resp.Rcode {
	case dns.RcodeSuccess, dns.RcodeNameError:
		return resp, nil
	default:
		return nil, &ResolveError{Name: q.Name, Qtype: q.Qtype, Rcode: resp.Rcode, Err: errUpstreamRcode}
	}
}

// Close releases the transport.
func (r *Resolver) Close() error {
	return r.exchanger.Close()
}

func copyRRs(rrs []dns.RR) []dns.RR {
	if len(rrs) == 0 {
		return nil
	}

	out := make([]dns.RR, 0, len(rrs))
	for _, rr := range rrs {
		if rr.Header().Rrtype == dns.TypeOPT {
			continue
		}
		out = append(out, dns.Copy(rr))
	}

	return out
}

func formatQuestion(q dns.Question) string {
	return strings.ToLower(q.Name) + " " + dns.ClassToString[q.Qclass] + " " + dns.TypeToString[q.Qtype]
}
