// Package util provides DNS reply helpers shared by the middlewares.
package util

import (
	"github.com/miekg/dns"
)

const (
	// DefaultMsgSize EDNS0 message size
	DefaultMsgSize = 1232
)

// SetRcode returns a reply to req with rcode and the question copied. An OPT
// record is added when the request carried one.
func SetRcode(req *dns.Msg, rcode int) *dns.Msg {
	m := new(dns.Msg)
	m.SetRcode(req, rcode)
	m.RecursionAvailable = true

	if opt := req.IsEdns0(); opt != nil {
		m.SetEdns0(DefaultMsgSize, opt.Do())
	}

	return m
}

// HeaderOnly returns a reply without any section, only the header fields of
// req are echoed. Usable for requests that could not be parsed.
func HeaderOnly(req *dns.Msg, rcode int) *dns.Msg {
	return &dns.Msg{
		MsgHdr: dns.MsgHdr{
			Id:                 req.Id,
			Response:           true,
			Opcode:             req.Opcode,
			RecursionDesired:   req.RecursionDesired,
			RecursionAvailable: true,
			Rcode:              rcode,
		},
	}
}

// UDPSize returns the reply size a udp client accepts.
func UDPSize(req *dns.Msg) int {
	opt := req.IsEdns0()
	if opt == nil {
		return dns.MinMsgSize
	}

	size := int(opt.UDPSize())
	if size < dns.MinMsgSize {
		size = dns.MinMsgSize
	}

	if size > DefaultMsgSize {
		size = DefaultMsgSize
	}

	return size
}

// NotSupported response to writer a empty notimplemented message
func NotSupported(w dns.ResponseWriter, req *dns.Msg) error {
	return w.WriteMsg(HeaderOnly(req, dns.RcodeNotImplemented))
}
