// Package api exposes the operational HTTP surface: prometheus
// metrics, a health probe, cache purging and DNSSEC delegation data.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/pprof"
	"os"
	"runtime/debug"
	"time"

	"github.com/miekg/dns"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/semihalev/zlog/v2"

	"github.com/drahnr/constellation/config"
	"github.com/drahnr/constellation/middleware"
	"github.com/drahnr/constellation/middleware/authority"
	"github.com/drahnr/constellation/middleware/cache"
)

// API type
type API struct {
	addr    string
	version string

	cache     *cache.Cache
	authority *authority.Authority
}

var debugpprof bool

func init() {
	_, debugpprof = os.LookupEnv("CONSTELLATION_PPROF")
}

// New return new api
func New(cfg *config.Config) *API {
	a := &API{
		addr:    cfg.API,
		version: cfg.ServerVersion(),
	}

	if c := middleware.Get("cache"); c != nil {
		a.cache = c.(*cache.Cache)
	}
	if auth := middleware.Get("authority"); auth != nil {
		a.authority = auth.(*authority.Authority)
	}

	return a
}

func (a *API) health(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, map[string]any{"status": "ok", "version": a.version})
}

func (a *API) purge(w http.ResponseWriter, r *http.Request) {
	if a.cache == nil {
		a.json(w, http.StatusServiceUnavailable, map[string]any{"error": "cache not running"})
		return
	}

	qname := dns.Fqdn(r.PathValue("qname"))
	a.cache.Purge(qname)

	a.json(w, http.StatusOK, map[string]any{"success": true, "qname": qname})
}

func (a *API) delegation(w http.ResponseWriter, r *http.Request) {
	if a.authority == nil {
		a.json(w, http.StatusServiceUnavailable, map[string]any{"error": "authority not running"})
		return
	}

	var ds []string
	for _, rr := range a.authority.DS() {
		ds = append(ds, rr.String())
	}

	a.json(w, http.StatusOK, map[string]any{"ds": ds})
}

func (a *API) json(w http.ResponseWriter, code int, data any) {
	buf, err := json.Marshal(data)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(buf)
}

func (a *API) handler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /health", a.health)
	mux.HandleFunc("GET /api/v1/purge/{qname}", a.purge)
	mux.HandleFunc("GET /api/v1/dnssec/ds", a.delegation)

	if debugpprof {
		mux.HandleFunc("GET /debug/pprof/", pprof.Index)
		mux.HandleFunc("GET /debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("GET /debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("GET /debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("GET /debug/pprof/trace", pprof.Trace)
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				zlog.Error("Recovered in API", "recover", rec)

				_, _ = os.Stderr.WriteString(fmt.Sprintf("panic: %v\n\n", rec))
				debug.PrintStack()
			}
		}()

		w.Header().Set("Server", "constellation")
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")

		mux.ServeHTTP(w, r)
	})
}

// Run API server
func (a *API) Run(ctx context.Context) {
	if a.addr == "" {
		return
	}

	srv := &http.Server{
		Addr:    a.addr,
		Handler: a.handler(),
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Error("Start API server failed", "error", err.Error())
		}
	}()

	zlog.Info("API server listening...", "addr", a.addr)

	go func() {
		<-ctx.Done()

		zlog.Info("API server stopping...", "addr", a.addr)

		apiCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(apiCtx); err != nil {
			zlog.Error("Shutdown API server failed:", "error", err.Error())
		}
	}()
}
