// Package server binds the client facing listeners, plain DNS over UDP and
// DNS-over-TLS, and dispatches every request through the middleware chain.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/miekg/dns"
	"github.com/semihalev/zlog/v2"
	"golang.org/x/sync/errgroup"

	"github.com/semihalev/fdns/config"
	"github.com/semihalev/fdns/middleware"
	"github.com/semihalev/fdns/source"
)

const (
	defaultIdleTimeout = 2 * time.Minute
	drainTimeout       = 5 * time.Second
	maxTCPQueries      = 2048
)

var (
	// ErrNoProtocol returned when neither udp nor tls listeners are configured.
	ErrNoProtocol = errors.New("no udp or tls listener configured")

	errNoListener = errors.New("no listener could be bound")
)

type listener struct {
	srv     *dns.Server
	addr    net.Addr
	certs   *CertManager
	started chan struct{}
}

func (l *listener) close() {
	if l.srv.PacketConn != nil {
		_ = l.srv.PacketConn.Close()
	}
	if l.srv.Listener != nil {
		_ = l.srv.Listener.Close()
	}
	if l.certs != nil {
		l.certs.Stop()
	}
}

// Server type
type Server struct {
	listeners []*listener

	chainPool sync.Pool
}

// New binds every configured listener. A tls listener whose certificate cannot
// be loaded is skipped, a bind failure is fatal.
func New(ctx context.Context, cfg config.Server, handlers []middleware.Handler) (*Server, error) {
	if len(cfg.UDP) == 0 && len(cfg.TLS) == 0 {
		return nil, ErrNoProtocol
	}

	s := &Server{}

	s.chainPool.New = func() any {
		return middleware.NewChain(handlers)
	}

	for _, addr := range cfg.UDP {
		pc, err := net.ListenPacket("udp", addr)
		if err != nil {
			s.close()
			return nil, fmt.Errorf("listen udp %s: %w", addr, err)
		}

		s.add(&dns.Server{
			Net:        "udp",
			PacketConn: pc,
			UDPSize:    dns.DefaultMsgSize,
		}, pc.LocalAddr(), nil)
	}

	for _, lc := range cfg.TLS {
		tlsConfig, certs, err := loadTLSConfig(ctx, lc)
		if err != nil {
			zlog.Error("TLS listener skipped", "addr", lc.Bind, "error", err.Error())
			continue
		}

		ln, err := net.Listen("tcp", lc.Bind)
		if err != nil {
			if certs != nil {
				certs.Stop()
			}
			s.close()
			return nil, fmt.Errorf("listen tcp-tls %s: %w", lc.Bind, err)
		}

		idle := lc.IdleTimeout.Duration
		if idle <= 0 {
			idle = defaultIdleTimeout
		}

		s.add(&dns.Server{
			Net:           "tcp-tls",
			Listener:      tls.NewListener(ln, tlsConfig),
			IdleTimeout:   func() time.Duration { return idle },
			MaxTCPQueries: maxTCPQueries,
		}, ln.Addr(), certs)
	}

	if len(s.listeners) == 0 {
		return nil, errNoListener
	}

	return s, nil
}

func (s *Server) add(srv *dns.Server, addr net.Addr, certs *CertManager) {
	l := &listener{
		srv:     srv,
		addr:    addr,
		certs:   certs,
		started: make(chan struct{}),
	}

	srv.Handler = s
	srv.NotifyStartedFunc = func() { close(l.started) }

	s.listeners = append(s.listeners, l)
}

func (s *Server) close() {
	for _, l := range s.listeners {
		l.close()
	}
}

// Addrs returns the bound listener addresses, udp first.
func (s *Server) Addrs() []net.Addr {
	addrs := make([]net.Addr, 0, len(s.listeners))
	for _, l := range s.listeners {
		addrs = append(addrs, l.addr)
	}

	return addrs
}

// ServeDNS implements the dns.Handler interface.
func (s *Server) ServeDNS(w dns.ResponseWriter, r *dns.Msg) {
	ch := s.chainPool.Get().(*middleware.Chain)

	ch.Reset(w, r)

	ch.Next(context.Background())

	s.chainPool.Put(ch)
}

// Run serves every listener until ctx is cancelled or one of them fails,
// then drains the rest.
func (s *Server) Run(ctx context.Context) error {
	defer s.close()

	g, gctx := errgroup.WithContext(ctx)

	for _, l := range s.listeners {
		done := make(chan struct{})

		g.Go(func() error {
			defer close(done)

			zlog.Info("DNS server listening...", "net", l.srv.Net, "addr", l.addr.String())

			if err := l.srv.ActivateAndServe(); err != nil {
				return fmt.Errorf("serve %s %s: %w", l.srv.Net, l.addr, err)
			}

			return nil
		})

		g.Go(func() error {
			select {
			case <-gctx.Done():
			case <-done:
				return nil
			}

			select {
			case <-l.started:
			case <-done:
				return nil
			}

			sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), drainTimeout)
			defer cancel()

			if err := l.srv.ShutdownContext(sctx); err != nil {
				zlog.Warn("DNS server shutdown failed", "net", l.srv.Net, "addr", l.addr.String(), "error", err.Error())
			}

			return nil
		})
	}

	err := g.Wait()

	zlog.Info("DNS servers stopped")

	return err
}

func loadTLSConfig(ctx context.Context, lc config.TLSListener) (*tls.Config, *CertManager, error) {
	tlsConfig := &tls.Config{
		ClientAuth: tls.NoClientCert,
		MinVersion: tls.VersionTLS12,
	}

	if lc.Cert.Location == config.LocationFilesystem && lc.Key.Location == config.LocationFilesystem {
		certs, err := NewCertManager(lc.Cert.Path, lc.Key.Path)
		if err != nil {
			return nil, nil, err
		}

		tlsConfig.GetCertificate = certs.GetCertificate

		return tlsConfig, certs, nil
	}

	certPEM, err := fetch(ctx, lc.Cert)
	if err != nil {
		return nil, nil, fmt.Errorf("certificate: %w", err)
	}

	keyPEM, err := fetch(ctx, lc.Key)
	if err != nil {
		return nil, nil, fmt.Errorf("key: %w", err)
	}

	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, nil, err
	}

	tlsConfig.Certificates = []tls.Certificate{cert}

	return tlsConfig, nil, nil
}

func fetch(ctx context.Context, src config.Source) ([]byte, error) {
	f, err := source.New(src)
	if err != nil {
		return nil, err
	}

	return f.Fetch(ctx)
}
