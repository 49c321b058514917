package upstream

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/miekg/dns"
)

// dnsTransport speaks plain DNS over udp, tcp or tls.
type dnsTransport struct {
	addr   string
	client *dns.Client
	tcp    *dns.Client
}

func newDNSTransport(network, addr string, tlsConfig *tls.Config, timeout time.Duration) *dnsTransport {
	t := &dnsTransport{
		addr:   addr,
		client: &dns.Client{Net: network, TLSConfig: tlsConfig, Timeout: timeout},
	}

	if network == "udp" {
		t.client.UDPSize = dns.DefaultMsgSize
		t.tcp = &dns.Client{Net: "tcp", Timeout: timeout}
	}

	return t
}

// Exchange exchange dns request with TCP fallback
func (t *dnsTransport) Exchange(ctx context.Context, m *dns.Msg) (*dns.Msg, error) {
	resp, _, err := t.client.ExchangeContext(ctx, m, t.addr)
	if err == nil && resp.Truncated && t.tcp != nil {
		resp, _, err = t.tcp.ExchangeContext(ctx, m, t.addr)
	}

	return resp, err
}

func (t *dnsTransport) Close() error { return nil }
