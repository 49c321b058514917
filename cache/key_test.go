package cache

import (
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
)

func TestKey(t *testing.T) {
	tests := []struct {
		name     string
		question dns.Question
		want     string
	}{
		{
			name:     "simple A query",
			question: dns.Question{Name: "example.com.", Qtype: dns.TypeA, Qclass: dns.ClassINET},
			want:     "example.com.:A",
		},
		{
			name:     "AAAA query",
			question: dns.Question{Name: "example.com.", Qtype: dns.TypeAAAA, Qclass: dns.ClassINET},
			want:     "example.com.:AAAA",
		},
		{
			name:     "case insensitive",
			question: dns.Question{Name: "EXAMPLE.Com.", Qtype: dns.TypeMX, Qclass: dns.ClassINET},
			want:     "example.com.:MX",
		},
		{
			name:     "unknown type",
			question: dns.Question{Name: "example.com.", Qtype: 65280, Qclass: dns.ClassINET},
			want:     "example.com.:TYPE65280",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Key(tt.question))
		})
	}
}

func TestKeyHash(t *testing.T) {
	a := Key(dns.Question{Name: "example.com.", Qtype: dns.TypeA})
	b := Key(dns.Question{Name: "Example.COM.", Qtype: dns.TypeA})
	c := Key(dns.Question{Name: "example.com.", Qtype: dns.TypeAAAA})

	assert.Equal(t, hash(a), hash(b))
	assert.NotEqual(t, hash(a), hash(c))
}

func BenchmarkKey(b *testing.B) {
	q := dns.Question{Name: "www.Example.com.", Qtype: dns.TypeA, Qclass: dns.ClassINET}

	b.ReportAllocs()

	for b.Loop() {
		_ = Key(q)
	}
}
