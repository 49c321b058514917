// Package accesslog appends one line per answered query to a file.
package accesslog

import (
	"context"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/miekg/dns"
	"github.com/semihalev/zlog/v2"

	"github.com/semihalev/fdns/middleware"
)

const timeFormat = "02/Jan/2006:15:04:05 -0700"

// AccessLog type
type AccessLog struct {
	mu   sync.Mutex
	file *os.File
}

// New opens path for appending.
func New(path string) (*AccessLog, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o600)
	if err != nil {
		return nil, err
	}

	return &AccessLog{file: f}, nil
}

// Name return middleware name
func (a *AccessLog) Name() string { return name }

// ServeDNS implements the Handle interface.
func (a *AccessLog) ServeDNS(ctx context.Context, ch *middleware.Chain) {
	ch.Next(ctx)

	w := ch.Writer
	if !w.Written() {
		return
	}

	resp := w.Msg()

	question := "\"-\""
	if len(resp.Question) > 0 {
		question = formatQuestion(resp.Question[0])
	}

	line := strings.Join([]string{
		w.RemoteIP().String() + " -",
		"[" + time.Now().Format(timeFormat) + "]",
		question,
		w.Proto(),
		dns.RcodeToString[resp.Rcode],
		strconv.Itoa(resp.Len()),
	}, " ") + "\n"

	a.mu.Lock()
	_, err := a.file.WriteString(line)
	a.mu.Unlock()

	if err != nil {
		zlog.Error("Access log write failed", "error", err.Error())
	}
}

// Close closes the log file.
func (a *AccessLog) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.file.Close()
}

func formatQuestion(q dns.Question) string {
	return "\"" + strings.ToLower(q.Name) + " " + dns.ClassToString[q.Qclass] + " " + dns.TypeToString[q.Qtype] + "\""
}

const name = "accesslog"
