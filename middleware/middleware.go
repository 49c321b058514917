// Package middleware runs a DNS request through an ordered list of handlers.
package middleware

import (
	"context"
)

// Handler is a link of the chain. A handler either writes a reply and stops,
// or passes the request on with ch.Next.
type Handler interface {
	Name() string
	ServeDNS(ctx context.Context, ch *Chain)
}

// Names return names of handlers
func Names(handlers []Handler) (list []string) {
	for _, handler := range handlers {
		list = append(list, handler.Name())
	}

	return list
}
