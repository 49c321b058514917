package upstream

import (
	"context"
	"crypto/tls"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/miekg/dns"
	"github.com/quic-go/quic-go"
)

// errDoQShortReply returned when the stream ends before the announced length.
var errDoQShortReply = errors.New("doq reply shorter than announced length")

// doqTransport dials a fresh RFC 9250 connection for every exchange.
type doqTransport struct {
	addr      string
	tlsConfig *tls.Config
	timeout   time.Duration
}

func newDoQTransport(addr string, tlsConfig *tls.Config, timeout time.Duration) *doqTransport {
	conf := tlsConfig.Clone()
	conf.NextProtos = []string{"doq"}
	conf.MinVersion = tls.VersionTLS13

	return &doqTransport{addr: addr, tlsConfig: conf, timeout: timeout}
}

func (t *doqTransport) Exchange(ctx context.Context, m *dns.Msg) (*dns.Msg, error) {
	conn, err := quic.DialAddr(ctx, t.addr, t.tlsConfig, &quic.Config{
		HandshakeIdleTimeout: t.timeout,
		MaxIdleTimeout:       t.timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("doq dial: %w", err)
	}
	defer func() { _ = conn.CloseWithError(0, "") }()

	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		return nil, fmt.Errorf("doq open stream: %w", err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = stream.SetDeadline(deadline)
	}

	wire := m.Copy()
	wire.Id = 0

	buf, err := wire.Pack()
	if err != nil {
		return nil, err
	}

	out := make([]byte, 2+len(buf))
	binary.BigEndian.PutUint16(out, uint16(len(buf)))
	copy(out[2:], buf)

	if _, err := stream.Write(out); err != nil {
		return nil, fmt.Errorf("doq write: %w", err)
	}

	// no more queries on this stream
	_ = stream.Close()

	data, err := io.ReadAll(io.LimitReader(stream, 2+dns.MaxMsgSize))
	if err != nil {
		return nil, fmt.Errorf("doq read: %w", err)
	}

	if len(data) < 2 {
		return nil, errDoQShortReply
	}

	size := int(binary.BigEndian.Uint16(data))
	if len(data)-2 < size {
		return nil, errDoQShortReply
	}

	msg := new(dns.Msg)
	if err := msg.Unpack(data[2 : 2+size]); err != nil {
		return nil, fmt.Errorf("unpack doq response: %w", err)
	}

	msg.Id = m.Id

	return msg, nil
}

func (t *doqTransport) Close() error { return nil }
