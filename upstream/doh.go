package upstream

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/miekg/dns"
	"golang.org/x/net/http2"
)

const dohMediaType = "application/dns-message"

// dohTransport sends RFC 8484 POST requests. Connections always go to the
// address resolved at startup, the host name is used for TLS and the url.
type dohTransport struct {
	url    string
	client *http.Client
	tr     *http.Transport
}

func newDoHTransport(host, addr, path string, tlsConfig *tls.Config, timeout time.Duration) (*dohTransport, error) {
	dialer := &net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}

	tr := &http.Transport{
		DialContext: func(ctx context.Context, network, _ string) (net.Conn, error) {
			return dialer.DialContext(ctx, network, addr)
		},
		TLSClientConfig:     tlsConfig.Clone(),
		TLSHandshakeTimeout: timeout,
		MaxIdleConns:        16,
		IdleConnTimeout:     90 * time.Second,
	}

	if _, err := http2.ConfigureTransports(tr); err != nil {
		return nil, fmt.Errorf("configure http2: %w", err)
	}

	_, port, _ := net.SplitHostPort(addr)

	if path == "" {
		path = "/dns-query"
	}

	return &dohTransport{
		url:    "https://" + net.JoinHostPort(host, port) + path,
		client: &http.Client{Transport: tr, Timeout: timeout},
		tr:     tr,
	}, nil
}

func (t *dohTransport) Exchange(ctx context.Context, m *dns.Msg) (*dns.Msg, error) {
	wire := m.Copy()
	wire.Id = 0

	buf, err := wire.Pack()
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", dohMediaType)
	req.Header.Set("Accept", dohMediaType)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("doh server returned %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, dns.MaxMsgSize))
	if err != nil {
		return nil, err
	}

	msg := new(dns.Msg)
	if err := msg.Unpack(body); err != nil {
		return nil, fmt.Errorf("unpack doh response: %w", err)
	}

	msg.Id = m.Id

	return msg, nil
}

func (t *dohTransport) Close() error {
	t.tr.CloseIdleConnections()
	return nil
}
