// Package blocklist keeps the set of refused domains. The set is replaced as a
// whole on every refresh so readers never observe a partially loaded list.
package blocklist

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/semihalev/zlog/v2"

	"github.com/semihalev/fdns/source"
)

// ErrInvalidEncoding returned when the blocklist source is not valid UTF-8.
var ErrInvalidEncoding = errors.New("blocklist is not valid utf-8")

type set map[string]struct{}

// Manager type
type Manager struct {
	src      source.Fetcher
	interval time.Duration

	domains atomic.Pointer[set]
}

// New returns a new Manager with an empty list. Nothing is blocked until the
// first successful Refresh.
func New(src source.Fetcher, interval time.Duration) *Manager {
	m := &Manager{src: src, interval: interval}
	m.domains.Store(&set{})

	return m
}

// Refresh loads the source and swaps in the new list. On failure the
// previous list stays active.
func (m *Manager) Refresh(ctx context.Context) error {
	data, err := m.src.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("fetch blocklist: %w", err)
	}

	if !utf8.Valid(data) {
		return ErrInvalidEncoding
	}

	domains := make(set)
	for _, d := range Parse(string(data)) {
		domains[d] = struct{}{}
	}

	m.domains.Store(&domains)

	zlog.Info("Blocklist refreshed", "total", len(domains))

	return nil
}

// IsBlocked reports whether the domain or any of its parent domains is in the list.
func (m *Manager) IsBlocked(domain string) bool {
	domains := *m.domains.Load()
	if len(domains) == 0 {
		return false
	}

	name := strings.ToLower(strings.TrimSuffix(domain, "."))

	for name != "" {
		if _, ok := domains[name]; ok {
			return true
		}

		i := strings.IndexByte(name, '.')
		if i < 0 {
			break
		}
		name = name[i+1:]
	}

	return false
}

// Len returns the number of domains in the active list.
func (m *Manager) Len() int {
	return len(*m.domains.Load())
}

// Run refreshes the list right away and then every interval until ctx is done.
func (m *Manager) Run(ctx context.Context) {
	m.refresh(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.refresh(ctx)
		}
	}
}

func (m *Manager) refresh(ctx context.Context) {
	if err := m.Refresh(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		zlog.Error("Blocklist refresh failed", "error", err.Error(), "total", m.Len())
	}
}
