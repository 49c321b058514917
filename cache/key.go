// Package cache stores upstream responses until their TTL runs out.
package cache

import (
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/miekg/dns"
)

// Key returns the cache key of a question, "<name>:<type>" with the name
// lowercased. Questions that differ only in name case share a key.
func Key(q dns.Question) string {
	qtype, ok := dns.TypeToString[q.Qtype]
	if !ok {
		qtype = "TYPE" + strconv.FormatUint(uint64(q.Qtype), 10)
	}

	var b strings.Builder
	b.Grow(len(q.Name) + 1 + len(qtype))

	for i := 0; i < len(q.Name); i++ {
		c := q.Name[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		b.WriteByte(c)
	}

	b.WriteByte(':')
	b.WriteString(qtype)

	return b.String()
}

func hash(key string) uint64 {
	return xxhash.Sum64String(key)
}
