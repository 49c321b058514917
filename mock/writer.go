// Package mock provides a capturing dns.ResponseWriter for tests.
package mock

import (
	"net"
	"sync"

	"github.com/miekg/dns"
)

// Writer captures the last message written to it. Messages go through a
// pack/unpack round trip like they would on the wire.
type Writer struct {
	mu sync.Mutex

	msg    *dns.Msg
	writes int
	fail   []error

	proto string

	localAddr  net.Addr
	remoteAddr net.Addr

	remoteip net.IP
}

// NewWriter return writer
func NewWriter(proto, addr string) *Writer {
	w := &Writer{}

	switch proto {
	case "tcp", "tcp-tls":
		w.localAddr = &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 53}
		w.remoteAddr, _ = net.ResolveTCPAddr("tcp", addr)
		w.remoteip = w.remoteAddr.(*net.TCPAddr).IP
		w.proto = "tcp"

	case "udp":
		w.localAddr = &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 53}
		w.remoteAddr, _ = net.ResolveUDPAddr("udp", addr)
		w.remoteip = w.remoteAddr.(*net.UDPAddr).IP
		w.proto = "udp"
	}

	return w
}

// FailNext makes the next len(errs) writes return the given errors in order.
func (w *Writer) FailNext(errs ...error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.fail = append(w.fail, errs...)
}

// Rcode return message response code
func (w *Writer) Rcode() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.msg == nil {
		return dns.RcodeServerFailure
	}

	return w.msg.Rcode
}

// Msg return current dns message
func (w *Writer) Msg() *dns.Msg {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.msg
}

// Writes returns the number of successful writes.
func (w *Writer) Writes() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.writes
}

// Write func
func (w *Writer) Write(b []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.nextError(); err != nil {
		return 0, err
	}

	msg := new(dns.Msg)
	if err := msg.Unpack(b); err != nil {
		return 0, err
	}

	w.msg = msg
	w.writes++

	return len(b), nil
}

// WriteMsg func
func (w *Writer) WriteMsg(msg *dns.Msg) error {
	data, err := msg.Pack()
	if err != nil {
		return err
	}

	_, err = w.Write(data)
	return err
}

func (w *Writer) nextError() error {
	if len(w.fail) == 0 {
		return nil
	}

	err := w.fail[0]
	w.fail = w.fail[1:]

	return err
}

// Written func
func (w *Writer) Written() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.msg != nil
}

// RemoteIP func
func (w *Writer) RemoteIP() net.IP { return w.remoteip }

// Proto func
func (w *Writer) Proto() string { return w.proto }

// Close func
func (w *Writer) Close() error { return nil }

// Hijack func
func (w *Writer) Hijack() {}

// LocalAddr func
func (w *Writer) LocalAddr() net.Addr { return w.localAddr }

// RemoteAddr func
func (w *Writer) RemoteAddr() net.Addr { return w.remoteAddr }

// TsigStatus func
func (w *Writer) TsigStatus() error { return nil }

// TsigTimersOnly func
func (w *Writer) TsigTimersOnly(bool) {}
