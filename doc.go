/*
Package main implements fdns, a forwarding DNS resolver with a domain
blocklist and a TTL aware response cache.

fdns answers clients over plain UDP and DNS-over-TLS and forwards every
query it cannot answer locally to a single upstream recursive resolver:

  - Blocklist of domains loaded from the filesystem, an http url or s3,
    refreshed periodically and matched on every parent suffix
  - Response cache in memory (ristretto) or redis, keyed by name and type
  - Upstream over UDP, TCP, TLS, HTTPS or QUIC with coalescing of
    identical in-flight queries
  - Access list and per client rate limiting
  - Metrics and monitoring via Prometheus

Architecture:

Every request runs through a middleware chain built at startup:

 1. Recovery - Panic recovery, answers SERVFAIL
 2. Metrics - Prometheus query counters and latency histograms
 3. AccessList - IP-based access control, optional
 4. RateLimit - Query rate limiting per client, optional
 5. AccessLog - Query logging to a file, optional
 6. Forwarder - Validation, blocklist, cache and upstream forwarding

Configuration:

The config file is TOML or YAML, chosen by extension. A commented default
TOML config is generated when the given path does not exist:

	fdns -c fdns.toml

	fdns check -c fdns.toml

Signals:

SIGINT and SIGTERM stop the listeners, waiting up to five seconds for
in-flight requests.
*/
package main
