package upstream

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/miekg/dns"
)

var (
	// ErrNoAddress returned when the upstream host resolves to nothing.
	ErrNoAddress = errors.New("upstream resolver has no address")

	// ErrNoQuestion returned when a query does not carry exactly one question.
	ErrNoQuestion = errors.New("query must have exactly one question")

	errUpstreamRcode = errors.New("upstream returned failure rcode")
)

// ResolveError reports a failed upstream lookup.
type ResolveError struct {
	Name  string
	Qtype uint16
	Rcode int
	Err   error
}

func (e *ResolveError) Error() string {
	q := fmt.Sprintf("%s %s", e.Name, dns.TypeToString[e.Qtype])
	if errors.Is(e.Err, errUpstreamRcode) {
		return fmt.Sprintf("resolve %s: upstream returned %s", q, dns.RcodeToString[e.Rcode])
	}
	return fmt.Sprintf("resolve %s: %v", q, e.Err)
}

func (e *ResolveError) Unwrap() error {
	return e.Err
}

// Timeout reports whether the upstream did not answer in time.
func (e *ResolveError) Timeout() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	return errors.As(e.Err, &netErr) && netErr.Timeout()
}

// EDECode returns the extended error code for the failure.
func (e *ResolveError) EDECode() uint16 {
	switch {
	case e.Timeout():
		return dns.ExtendedErrorCodeNoReachableAuthority
	case errors.Is(e.Err, errUpstreamRcode):
		return dns.ExtendedErrorCodeOther
	default:
		return dns.ExtendedErrorCodeNetworkError
	}
}
