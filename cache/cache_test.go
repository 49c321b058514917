package cache

import (
	"context"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/semihalev/fdns/config"
)

func makeResponse(name string, ttls ...uint32) *dns.Msg {
	m := new(dns.Msg)
	m.SetQuestion(name, dns.TypeA)
	m.Response = true
	m.RecursionAvailable = true

	for _, ttl := range ttls {
		rr, _ := dns.NewRR(name + " IN A 192.0.2.1")
		rr.Header().Ttl = ttl
		m.Answer = append(m.Answer, rr)
	}

	return m
}

func newMemoryCache(t *testing.T, defaultTTL time.Duration) *ResponseCache {
	store, err := NewMemoryStore(100)
	require.NoError(t, err)

	c := New(store, defaultTTL)
	t.Cleanup(func() { _ = c.Close() })

	return c
}

func Test_ExtractTTL(t *testing.T) {
	_, ok := ExtractTTL(makeResponse("example.com."))
	assert.False(t, ok)

	ttl, ok := ExtractTTL(makeResponse("example.com.", 300, 100, 500))
	assert.True(t, ok)
	assert.Equal(t, 100*time.Second, ttl)

	ttl, ok = ExtractTTL(makeResponse("example.com.", 0))
	assert.True(t, ok)
	assert.Equal(t, time.Duration(0), ttl)
}

func Test_CacheInsertGet(t *testing.T) {
	c := newMemoryCache(t, time.Minute)
	ctx := context.Background()

	msg := makeResponse("example.com.", 300)
	msg.Id = 1234

	key := Key(msg.Question[0])

	_, ok := c.Get(ctx, key)
	assert.False(t, ok)

	c.Insert(ctx, key, msg, 300*time.Second)

	got, ok := c.Get(ctx, key)
	require.True(t, ok)
	assert.Equal(t, uint16(1234), got.Id)
	require.Len(t, got.Answer, 1)
	assert.Equal(t, "192.0.2.1", got.Answer[0].(*dns.A).A.String())

	got.Id = 1
	got.Answer = nil

	again, ok := c.Get(ctx, key)
	require.True(t, ok)
	assert.Equal(t, uint16(1234), again.Id)
	assert.Len(t, again.Answer, 1)
}

func Test_CacheExpire(t *testing.T) {
	c := newMemoryCache(t, time.Minute)
	ctx := context.Background()

	msg := makeResponse("short.example.", 1)
	key := Key(msg.Question[0])

	c.Insert(ctx, key, msg, 50*time.Millisecond)

	_, ok := c.Get(ctx, key)
	require.True(t, ok)

	time.Sleep(100 * time.Millisecond)

	_, ok = c.Get(ctx, key)
	assert.False(t, ok)
}

func Test_CacheDefaultTTL(t *testing.T) {
	c := newMemoryCache(t, 50*time.Millisecond)
	ctx := context.Background()

	msg := makeResponse("nodata.example.")
	key := Key(msg.Question[0])

	c.Insert(ctx, key, msg, 0)

	_, ok := c.Get(ctx, key)
	require.True(t, ok)

	time.Sleep(100 * time.Millisecond)

	_, ok = c.Get(ctx, key)
	assert.False(t, ok)
}

func Test_CacheCapacity(t *testing.T) {
	store, err := NewMemoryStore(10)
	require.NoError(t, err)

	c := New(store, time.Minute)
	defer c.Close()

	ctx := context.Background()

	for i := range 100 {
		name := dns.Fqdn("host" + string(rune('a'+i%26)) + string(rune('a'+i/26)) + ".example")
		msg := makeResponse(name, 300)
		c.Insert(ctx, Key(msg.Question[0]), msg, time.Minute)
	}

	hits := 0
	for i := range 100 {
		name := dns.Fqdn("host" + string(rune('a'+i%26)) + string(rune('a'+i/26)) + ".example")
		if _, ok := c.Get(ctx, Key(dns.Question{Name: name, Qtype: dns.TypeA})); ok {
			hits++
		}
	}

	assert.LessOrEqual(t, hits, 10)
}

func Test_CacheStoreError(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		MaxRetries:  -1,
		DialTimeout: 100 * time.Millisecond,
	})

	c := New(NewRedisStore(client, "fdns:"), time.Minute)
	defer c.Close()

	ctx := context.Background()
	msg := makeResponse("example.com.", 300)
	key := Key(msg.Question[0])

	c.Insert(ctx, key, msg, time.Minute)

	_, ok := c.Get(ctx, key)
	assert.False(t, ok)
}

func Test_NewFromConfig(t *testing.T) {
	cfg := config.Default().Cache

	c, err := NewFromConfig(context.Background(), cfg)
	require.NoError(t, err)
	defer c.Close()

	assert.IsType(t, &MemoryStore{}, c.store)

	cfg.Backend = config.BackendRedis
	cfg.Redis.Addr = "127.0.0.1:1"

	_, err = NewFromConfig(context.Background(), cfg)
	assert.Error(t, err)
}
