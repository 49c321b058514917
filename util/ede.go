package util

import (
	"context"
	"errors"
	"net"

	"github.com/miekg/dns"
)

// SetEDE adds an Extended DNS Error to the response
func SetEDE(msg *dns.Msg, code uint16, extraText string) {
	opt := msg.IsEdns0()
	if opt == nil {
		return // No EDNS0 support, skip EDE
	}

	opt.Option = append(opt.Option, &dns.EDNS0_EDE{
		InfoCode:  code,
		ExtraText: extraText,
	})
}

// GetEDE extracts Extended DNS Error from a message if present
func GetEDE(msg *dns.Msg) *dns.EDNS0_EDE {
	opt := msg.IsEdns0()
	if opt == nil {
		return nil
	}

	for _, option := range opt.Option {
		if ede, ok := option.(*dns.EDNS0_EDE); ok {
			return ede
		}
	}
	return nil
}

// SetRcodeWithEDE returns message with specified rcode and Extended DNS Error
func SetRcodeWithEDE(req *dns.Msg, rcode int, edeCode uint16, extraText string) *dns.Msg {
	m := SetRcode(req, rcode)
	SetEDE(m, edeCode, extraText)
	return m
}

// ErrorToEDE maps errors to Extended DNS Error codes
func ErrorToEDE(err error) (uint16, string) {
	if err == nil {
		return dns.ExtendedErrorCodeOther, ""
	}

	type eder interface {
		EDECode() uint16
	}

	var e eder
	if errors.As(err, &e) {
		return e.EDECode(), ""
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return dns.ExtendedErrorCodeNoReachableAuthority, "Upstream timed out"
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return dns.ExtendedErrorCodeNoReachableAuthority, "Upstream timed out"
		}
		return dns.ExtendedErrorCodeNetworkError, "Network error"
	}

	return dns.ExtendedErrorCodeOther, ""
}
