package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/miekg/dns"
	"github.com/redis/go-redis/v9"
	"github.com/semihalev/zlog/v2"

	"github.com/semihalev/fdns/config"
)

// ResponseCache type
type ResponseCache struct {
	store      Store
	defaultTTL time.Duration
}

// New returns a cache on top of store. Entries inserted without a ttl live
// for defaultTTL.
func New(store Store, defaultTTL time.Duration) *ResponseCache {
	return &ResponseCache{store: store, defaultTTL: defaultTTL}
}

// NewFromConfig builds the configured store backend.
func NewFromConfig(ctx context.Context, cfg config.Cache) (*ResponseCache, error) {
	switch cfg.Backend {
	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  time.Second,
			WriteTimeout: time.Second,
		})

		pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		if err := client.Ping(pctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("redis connection failed: %w", err)
		}

		zlog.Info("Cache backend ready", "backend", cfg.Backend, "addr", cfg.Redis.Addr)

		return New(NewRedisStore(client, cfg.Redis.KeyPrefix), cfg.DefaultTTL.Duration), nil
	default:
		store, err := NewMemoryStore(cfg.MaxEntries)
		if err != nil {
			return nil, err
		}

		zlog.Info("Cache backend ready", "backend", config.BackendMemory, "max_entries", cfg.MaxEntries)

		return New(store, cfg.DefaultTTL.Duration), nil
	}
}

// Get returns a private copy of the cached response.
func (c *ResponseCache) Get(ctx context.Context, key string) (*dns.Msg, bool) {
	data, ok, err := c.store.Get(ctx, key)
	if err != nil {
		cacheErrors.WithLabelValues("get").Inc()
		zlog.Warn("Cache lookup failed", "key", key, "error", err.Error())
	}

	if !ok {
		cacheMisses.Inc()
		return nil, false
	}

	msg := new(dns.Msg)
	if err := msg.Unpack(data); err != nil {
		cacheErrors.WithLabelValues("unpack").Inc()
		cacheMisses.Inc()
		zlog.Warn("Cached response unpack failed", "key", key, "error", err.Error())
		return nil, false
	}

	cacheHits.Inc()

	return msg, true
}

// Insert stores msg under key for ttl, or the default ttl when ttl <= 0.
func (c *ResponseCache) Insert(ctx context.Context, key string, msg *dns.Msg, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	data, err := msg.Pack()
	if err != nil {
		cacheErrors.WithLabelValues("pack").Inc()
		zlog.Warn("Response pack failed", "key", key, "error", err.Error())
		return
	}

	if err := c.store.Set(ctx, key, data, ttl); err != nil {
		cacheErrors.WithLabelValues("set").Inc()
		zlog.Debug("Cache insert failed", "key", key, "error", err.Error())
		return
	}

	cacheInserts.Inc()
}

// Close releases the store.
func (c *ResponseCache) Close() error {
	return c.store.Close()
}

// ExtractTTL returns the smallest ttl of the answer records. ok is false when
// the message has no answers.
func ExtractTTL(msg *dns.Msg) (ttl time.Duration, ok bool) {
	if len(msg.Answer) == 0 {
		return 0, false
	}

	minTTL := msg.Answer[0].Header().Ttl
	for _, rr := range msg.Answer[1:] {
		if t := rr.Header().Ttl; t < minTTL {
			minTTL = t
		}
	}

	return time.Duration(minTTL) * time.Second, true
}
