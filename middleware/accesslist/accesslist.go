// Package accesslist drops queries from clients outside the configured networks.
package accesslist

import (
	"context"
	"net"
	"strings"

	"github.com/semihalev/zlog/v2"
	"github.com/yl2chen/cidranger"

	"github.com/semihalev/fdns/middleware"
)

// AccessList type
type AccessList struct {
	ranger cidranger.Ranger
}

// New return accesslist. Entries without a prefix length match a single address.
func New(cidrs []string) *AccessList {
	a := new(AccessList)
	a.ranger = cidranger.NewPCTrieRanger()

	for _, cidr := range cidrs {
		if !strings.Contains(cidr, "/") {
			if strings.Contains(cidr, ":") {
				cidr += "/128"
			} else {
				cidr += "/32"
			}
		}

		_, ipnet, err := net.ParseCIDR(cidr)
		if err != nil {
			zlog.Error("Access list parse cidr failed", "cidr", cidr, "error", err.Error())
			continue
		}

		_ = a.ranger.Insert(cidranger.NewBasicRangerEntry(*ipnet))
	}

	return a
}

// Name return middleware name
func (a *AccessList) Name() string { return name }

// ServeDNS implements the Handle interface.
func (a *AccessList) ServeDNS(ctx context.Context, ch *middleware.Chain) {
	ip := ch.Writer.RemoteIP()

	allowed := false
	if ip != nil {
		allowed, _ = a.ranger.Contains(ip)
	}

	if !allowed {
		// no reply to client
		zlog.Debug("Query dropped by access list", "client", ip.String())
		ch.Cancel()
		return
	}

	ch.Next(ctx)
}

const name = "accesslist"
