package forwarder

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/semihalev/fdns/blocklist"
	"github.com/semihalev/fdns/cache"
	"github.com/semihalev/fdns/middleware"
	"github.com/semihalev/fdns/mock"
	"github.com/semihalev/fdns/source"
	"github.com/semihalev/fdns/upstream"
	"github.com/semihalev/fdns/util"
)

type stubResolver struct {
	mu      sync.Mutex
	calls   int
	queries []*dns.Msg

	resolve func(query *dns.Msg) (*dns.Msg, error)
}

func (s *stubResolver) Resolve(_ context.Context, query *dns.Msg) (*dns.Msg, error) {
	s.mu.Lock()
	s.calls++
	s.queries = append(s.queries, query.Copy())
	s.mu.Unlock()

	return s.resolve(query)
}

func (s *stubResolver) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// answerWith returns a resolver that answers every question with one A
// record per address.
func answerWith(ttl uint32, addrs ...string) func(*dns.Msg) (*dns.Msg, error) {
	return func(query *dns.Msg) (*dns.Msg, error) {
		q := query.Question[0]

		m := new(dns.Msg)
		m.Id = query.Id
		m.Response = true
		m.RecursionDesired = query.RecursionDesired
		m.RecursionAvailable = true
		m.Question = []dns.Question{q}

		for _, addr := range addrs {
			m.Answer = append(m.Answer, &dns.A{
				Hdr: dns.RR_Header{Name: q.Name, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: ttl},
				A:   net.ParseIP(addr),
			})
		}

		return m, nil
	}
}

type testEnv struct {
	forwarder *Forwarder
	resolver  *stubResolver
	cache     *cache.ResponseCache
	blocklist *blocklist.Manager
}

func newTestEnv(t *testing.T, blocked string, resolve func(*dns.Msg) (*dns.Msg, error)) *testEnv {
	t.Helper()

	bl := blocklist.New(source.FetcherFunc(func(context.Context) ([]byte, error) {
		return []byte(blocked), nil
	}), time.Hour)
	require.NoError(t, bl.Refresh(context.Background()))

	store, err := cache.NewMemoryStore(1000)
	require.NoError(t, err)

	c := cache.New(store, time.Minute)
	t.Cleanup(func() { _ = c.Close() })

	r := &stubResolver{resolve: resolve}

	return &testEnv{
		forwarder: New(bl, c, r),
		resolver:  r,
		cache:     c,
		blocklist: bl,
	}
}

func (e *testEnv) serve(req *dns.Msg, proto string) *mock.Writer {
	mw := mock.NewWriter(proto, "127.0.0.1:0")

	ch := middleware.NewChain([]middleware.Handler{e.forwarder})
	ch.Reset(mw, req)
	ch.Next(context.Background())

	return mw
}

func newQuery(name string, qtype uint16, id uint16) *dns.Msg {
	req := new(dns.Msg)
	req.SetQuestion(name, qtype)
	req.Id = id
	return req
}

func Test_Forwarder(t *testing.T) {
	env := newTestEnv(t, "", answerWith(300, "192.0.2.1"))
	assert.Equal(t, "forwarder", env.forwarder.Name())

	mw := env.serve(newQuery("example.com.", dns.TypeA, 1), "udp")

	require.True(t, mw.Written())
	resp := mw.Msg()
	assert.Equal(t, uint16(1), resp.Id)
	assert.Equal(t, dns.RcodeSuccess, resp.Rcode)
	assert.True(t, resp.Response)
	assert.True(t, resp.RecursionAvailable)
	require.Len(t, resp.Answer, 1)
	assert.Equal(t, "192.0.2.1", resp.Answer[0].(*dns.A).A.String())
	assert.Equal(t, 1, env.resolver.Calls())

	fwd := env.resolver.queries[0]
	assert.Equal(t, uint16(1), fwd.Id)
	assert.True(t, fwd.RecursionDesired)
	assert.Equal(t, dns.OpcodeQuery, fwd.Opcode)
	assert.Len(t, fwd.Question, 1)
	assert.Empty(t, fwd.Extra)
}

func Test_ForwarderCacheHit(t *testing.T) {
	env := newTestEnv(t, "", answerWith(300, "192.0.2.1", "192.0.2.2"))

	first := env.serve(newQuery("example.com.", dns.TypeA, 1), "udp").Msg()
	second := env.serve(newQuery("example.com.", dns.TypeA, 2), "udp").Msg()

	assert.Equal(t, 1, env.resolver.Calls())

	assert.Equal(t, uint16(1), first.Id)
	assert.Equal(t, uint16(2), second.Id)
	assert.Equal(t, first.Rcode, second.Rcode)
	assert.Equal(t, first.Answer, second.Answer)
	assert.Equal(t, first.Ns, second.Ns)
}

func Test_ForwarderCacheHitSections(t *testing.T) {
	resolve := func(query *dns.Msg) (*dns.Msg, error) {
		m, _ := answerWith(300, "192.0.2.1")(query)

		ns, _ := dns.NewRR("example.com. 300 IN NS ns1.example.com.")
		glue, _ := dns.NewRR("ns1.example.com. 300 IN A 192.0.2.53")
		m.Ns = append(m.Ns, ns)
		m.Extra = append(m.Extra, glue)

		return m, nil
	}

	env := newTestEnv(t, "", resolve)

	env.serve(newQuery("example.com.", dns.TypeA, 1), "udp")
	resp := env.serve(newQuery("example.com.", dns.TypeA, 2), "udp").Msg()

	assert.Equal(t, 1, env.resolver.Calls())
	assert.Equal(t, uint16(2), resp.Id)
	require.Len(t, resp.Answer, 1)
	require.Len(t, resp.Ns, 1)
	assert.Equal(t, "ns1.example.com.", resp.Ns[0].(*dns.NS).Ns)
	require.Len(t, resp.Extra, 1)
	assert.Equal(t, "192.0.2.53", resp.Extra[0].(*dns.A).A.String())
}

func Test_ForwarderCacheCaseInsensitive(t *testing.T) {
	env := newTestEnv(t, "", answerWith(300, "192.0.2.1"))

	env.serve(newQuery("example.com.", dns.TypeA, 1), "udp")
	resp := env.serve(newQuery("ExAmPle.COM.", dns.TypeA, 2), "udp").Msg()

	assert.Equal(t, 1, env.resolver.Calls())
	assert.Equal(t, uint16(2), resp.Id)
	require.Len(t, resp.Question, 1)
	assert.Equal(t, "ExAmPle.COM.", resp.Question[0].Name)

	env.serve(newQuery("example.com.", dns.TypeAAAA, 3), "udp")
	assert.Equal(t, 2, env.resolver.Calls())
}

func Test_ForwarderBlocked(t *testing.T) {
	env := newTestEnv(t, "ads.example\n", answerWith(300, "192.0.2.1"))

	for i, name := range []string{"ads.example.", "tracker.ads.example.", "ADS.example."} {
		req := newQuery(name, dns.TypeA, uint16(100+i))

		resp := env.serve(req, "udp").Msg()
		require.NotNil(t, resp)

		assert.Equal(t, dns.RcodeRefused, resp.Rcode)
		assert.Equal(t, req.Id, resp.Id)
		assert.Empty(t, resp.Answer)
		assert.Nil(t, util.GetEDE(resp))

		_, cached := env.cache.Get(context.Background(), cache.Key(req.Question[0]))
		assert.False(t, cached)
	}

	assert.Equal(t, 0, env.resolver.Calls())
}

func Test_ForwarderBlockedEDE(t *testing.T) {
	env := newTestEnv(t, "ads.example\n", answerWith(300, "192.0.2.1"))

	req := newQuery("ads.example.", dns.TypeA, 7)
	req.SetEdns0(4096, true)

	resp := env.serve(req, "udp").Msg()

	assert.Equal(t, dns.RcodeRefused, resp.Rcode)

	ede := util.GetEDE(resp)
	require.NotNil(t, ede)
	assert.Equal(t, dns.ExtendedErrorCodeBlocked, ede.InfoCode)
	assert.True(t, resp.IsEdns0().Do())
}

func Test_ForwarderUpstreamFailure(t *testing.T) {
	env := newTestEnv(t, "", func(query *dns.Msg) (*dns.Msg, error) {
		q := query.Question[0]
		return nil, &upstream.ResolveError{Name: q.Name, Qtype: q.Qtype, Err: context.DeadlineExceeded}
	})

	req := newQuery("example.com.", dns.TypeA, 55)
	req.SetEdns0(1232, false)

	resp := env.serve(req, "udp").Msg()

	assert.Equal(t, dns.RcodeServerFailure, resp.Rcode)
	assert.Equal(t, uint16(55), resp.Id)
	assert.Equal(t, dns.OpcodeQuery, resp.Opcode)
	assert.Equal(t, req.Question, resp.Question)
	assert.Empty(t, resp.Answer)

	ede := util.GetEDE(resp)
	require.NotNil(t, ede)
	assert.Equal(t, dns.ExtendedErrorCodeNoReachableAuthority, ede.InfoCode)

	_, cached := env.cache.Get(context.Background(), cache.Key(req.Question[0]))
	assert.False(t, cached)

	env.serve(newQuery("example.com.", dns.TypeA, 56), "udp")
	assert.Equal(t, 2, env.resolver.Calls())
}

func Test_ForwarderMalformed(t *testing.T) {
	env := newTestEnv(t, "", answerWith(300, "192.0.2.1"))

	noQuestion := new(dns.Msg)
	noQuestion.Id = 10

	twoQuestions := newQuery("example.com.", dns.TypeA, 11)
	twoQuestions.Question = append(twoQuestions.Question, dns.Question{Name: "example.org.", Qtype: dns.TypeA, Qclass: dns.ClassINET})

	response := newQuery("example.com.", dns.TypeA, 12)
	response.Response = true

	status := newQuery("example.com.", dns.TypeA, 13)
	status.Opcode = dns.OpcodeStatus

	chaos := newQuery("version.bind.", dns.TypeTXT, 14)
	chaos.Question[0].Qclass = dns.ClassCHAOS

	tests := []struct {
		name  string
		req   *dns.Msg
		rcode int
	}{
		{"no question", noQuestion, dns.RcodeFormatError},
		{"two questions", twoQuestions, dns.RcodeFormatError},
		{"response bit", response, dns.RcodeFormatError},
		{"status opcode", status, dns.RcodeNotImplemented},
		{"chaos class", chaos, dns.RcodeNotImplemented},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.serve(tt.req, "udp").Msg()
			require.NotNil(t, resp)

			assert.Equal(t, tt.rcode, resp.Rcode)
			assert.Equal(t, tt.req.Id, resp.Id)
			assert.Equal(t, tt.req.Opcode, resp.Opcode)
			assert.True(t, resp.Response)
			assert.Empty(t, resp.Answer)
		})
	}

	assert.Equal(t, 0, env.resolver.Calls())
}

func Test_ForwarderSendFailure(t *testing.T) {
	env := newTestEnv(t, "", answerWith(300, "192.0.2.1"))

	mw := mock.NewWriter("udp", "127.0.0.1:0")
	mw.FailNext(errors.New("connection reset"))

	req := newQuery("example.com.", dns.TypeA, 77)

	ch := middleware.NewChain([]middleware.Handler{env.forwarder})
	ch.Reset(mw, req)
	ch.Next(context.Background())

	require.True(t, mw.Written())
	resp := mw.Msg()
	assert.Equal(t, uint16(77), resp.Id)
	assert.Equal(t, dns.RcodeServerFailure, resp.Rcode)
	assert.Empty(t, resp.Question)
	assert.Empty(t, resp.Answer)
	assert.Equal(t, 1, mw.Writes())
}

func Test_ForwarderTruncate(t *testing.T) {
	addrs := make([]string, 60)
	for i := range addrs {
		addrs[i] = fmt.Sprintf("192.0.2.%d", i+1)
	}

	env := newTestEnv(t, "", answerWith(300, addrs...))

	resp := env.serve(newQuery("many.example.", dns.TypeA, 3), "udp").Msg()
	assert.True(t, resp.Truncated)
	assert.Less(t, len(resp.Answer), len(addrs))

	resp = env.serve(newQuery("many.example.", dns.TypeA, 4), "tcp").Msg()
	assert.False(t, resp.Truncated)
	assert.Len(t, resp.Answer, len(addrs))
	assert.Equal(t, 1, env.resolver.Calls())
}

func Test_ForwarderNegativeCache(t *testing.T) {
	env := newTestEnv(t, "", func(query *dns.Msg) (*dns.Msg, error) {
		m := new(dns.Msg)
		m.Id = query.Id
		m.Response = true
		m.Rcode = dns.RcodeNameError
		m.Question = query.Question
		soa, _ := dns.NewRR("example. 900 IN SOA ns.example. admin.example. 1 7200 3600 1209600 900")
		m.Ns = []dns.RR{soa}
		return m, nil
	})

	first := env.serve(newQuery("nx.example.", dns.TypeA, 1), "udp").Msg()
	second := env.serve(newQuery("nx.example.", dns.TypeA, 2), "udp").Msg()

	assert.Equal(t, dns.RcodeNameError, first.Rcode)
	assert.Equal(t, dns.RcodeNameError, second.Rcode)
	assert.Len(t, second.Ns, 1)
	assert.Equal(t, uint16(2), second.Id)
	assert.Equal(t, 1, env.resolver.Calls())
}

func Test_ForwarderZeroTTL(t *testing.T) {
	env := newTestEnv(t, "", answerWith(0, "192.0.2.1"))

	env.serve(newQuery("volatile.example.", dns.TypeA, 1), "udp")
	env.serve(newQuery("volatile.example.", dns.TypeA, 2), "udp")

	assert.Equal(t, 2, env.resolver.Calls())
}

func Test_ForwarderIDPreserved(t *testing.T) {
	env := newTestEnv(t, "blocked.example\n", func(query *dns.Msg) (*dns.Msg, error) {
		if query.Question[0].Name == "fail.example." {
			return nil, errors.New("upstream down")
		}
		return answerWith(300, "192.0.2.1")(query)
	})

	names := []string{"ok.example.", "ok.example.", "blocked.example.", "fail.example."}

	for i := range 200 {
		id := dns.Id()
		name := names[i%len(names)]

		resp := env.serve(newQuery(name, dns.TypeA, id), "udp").Msg()
		require.NotNil(t, resp)
		assert.Equal(t, id, resp.Id, name)
	}

	bad := new(dns.Msg)
	bad.Id = 0xBEEF
	assert.Equal(t, uint16(0xBEEF), env.serve(bad, "tcp").Msg().Id)
}
