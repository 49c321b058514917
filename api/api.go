// Package api serves the optional http endpoint: prometheus metrics, a
// health check and blocklist inspection.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/semihalev/zlog/v2"
)

const shutdownTimeout = 10 * time.Second

// Blocklist is the part of the blocklist manager exposed over http.
type Blocklist interface {
	IsBlocked(name string) bool
	Len() int
	Refresh(ctx context.Context) error
}

// API type
type API struct {
	addr      string
	blocklist Blocklist

	mux *http.ServeMux
}

var debugpprof bool

func init() {
	_, debugpprof = os.LookupEnv("FDNS_PPROF")
}

// New return new api, blocklist may be nil.
func New(addr string, bl Blocklist) *API {
	a := &API{
		addr:      addr,
		blocklist: bl,
		mux:       http.NewServeMux(),
	}

	a.routes()

	return a
}

func (a *API) routes() {
	a.mux.Handle("GET /metrics", promhttp.Handler())
	a.mux.HandleFunc("GET /health", a.health)

	if a.blocklist != nil {
		a.mux.HandleFunc("GET /api/v1/blocklist/exists/{name}", a.existsBlock)
		a.mux.HandleFunc("GET /api/v1/blocklist/size", a.sizeBlock)
		a.mux.HandleFunc("POST /api/v1/blocklist/refresh", a.refreshBlock)
	}

	if debugpprof {
		a.mux.HandleFunc("GET /debug/pprof/", pprof.Index)
		a.mux.HandleFunc("GET /debug/pprof/cmdline", pprof.Cmdline)
		a.mux.HandleFunc("GET /debug/pprof/profile", pprof.Profile)
		a.mux.HandleFunc("GET /debug/pprof/symbol", pprof.Symbol)
		a.mux.HandleFunc("GET /debug/pprof/trace", pprof.Trace)
	}
}

// ServeHTTP implements the http.Handler interface.
func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if rec := recover(); rec != nil {
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			zlog.Error("Recovered in API", "recover", rec, "stack", string(debug.Stack()))
		}
	}()

	for k, v := range extraHeaders {
		w.Header().Set(k, v)
	}

	a.mux.ServeHTTP(w, r)
}

func (a *API) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Json{"status": "ok"})
}

func (a *API) existsBlock(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(r.PathValue("name"))
	writeJSON(w, http.StatusOK, Json{"name": name, "exists": a.blocklist.IsBlocked(name)})
}

func (a *API) sizeBlock(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Json{"entries": a.blocklist.Len()})
}

func (a *API) refreshBlock(w http.ResponseWriter, r *http.Request) {
	if err := a.blocklist.Refresh(r.Context()); err != nil {
		writeJSON(w, http.StatusBadGateway, Json{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, Json{"success": true, "entries": a.blocklist.Len()})
}

// Run serves the api until ctx is cancelled.
func (a *API) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.addr)
	if err != nil {
		return err
	}

	return a.serve(ctx, ln)
}

func (a *API) serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	zlog.Info("API server listening...", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	zlog.Info("API server stopping...", "addr", ln.Addr().String())

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(sctx); err != nil {
		zlog.Error("Shutdown API server failed", "error", err.Error())
		return err
	}

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}
