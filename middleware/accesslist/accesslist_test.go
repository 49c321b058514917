package accesslist

import (
	"context"
	"testing"

	"github.com/miekg/dns"
	"github.com/semihalev/zlog/v2"
	"github.com/stretchr/testify/assert"

	"github.com/semihalev/fdns/middleware"
	"github.com/semihalev/fdns/mock"
)

type next struct{ calls int }

func (n *next) Name() string { return "next" }

func (n *next) ServeDNS(context.Context, *middleware.Chain) { n.calls++ }

func serve(a *AccessList, addr string) int {
	n := &next{}
	ch := middleware.NewChain([]middleware.Handler{a, n})

	req := new(dns.Msg)
	req.SetQuestion("example.com.", dns.TypeA)

	ch.Reset(mock.NewWriter("udp", addr), req)
	ch.Next(context.Background())

	return n.calls
}

func Test_AccesslistDefaults(t *testing.T) {
	a := New(nil)

	assert.Equal(t, 0, serve(a, "8.8.8.8:0"))
}

func Test_Accesslist(t *testing.T) {
	logger := zlog.NewStructured()
	logger.SetWriter(zlog.StdoutTerminal())
	logger.SetLevel(zlog.LevelDebug)
	zlog.SetDefault(logger)

	a := New([]string{"127.0.0.1/32", "10.0.0.0/8", "192.0.2.7", "::1", "1"})
	assert.Equal(t, "accesslist", a.Name())

	assert.Equal(t, 1, serve(a, "127.0.0.1:0"))
	assert.Equal(t, 1, serve(a, "10.20.30.40:5353"))
	assert.Equal(t, 1, serve(a, "192.0.2.7:53"))
	assert.Equal(t, 1, serve(a, "[::1]:53"))

	assert.Equal(t, 0, serve(a, "127.0.0.255:0"))
	assert.Equal(t, 0, serve(a, "192.0.2.8:53"))
	assert.Equal(t, 0, serve(a, "0.0.0.0:0"))
}
