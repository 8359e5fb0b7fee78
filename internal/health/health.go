package health

// HTTP liveness/readiness endpoint. Readiness flips true only after boot
// reconciliation finishes, so orchestration never routes to a daemon whose
// index might still disagree with its journal.

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"
)

// Checker serves /healthz and /readyz.
type Checker struct {
	ready     atomic.Bool
	cycles    atomic.Int64
	startTime time.Time
}

// NewChecker returns a Checker that is not yet ready.
func NewChecker() *Checker {
	return &Checker{startTime: time.Now()}
}

// SetReady marks the daemon ready (boot recovery complete).
func (c *Checker) SetReady(ready bool) {
	c.ready.Store(ready)
}

// CycleDone bumps the cycle counter exposed on /healthz.
func (c *Checker) CycleDone() {
	c.cycles.Add(1)
}

// Serve runs the health listener until ctx is cancelled. addr empty
// disables the endpoint.
func (c *Checker) Serve(ctx context.Context, addr string) {
	if addr == "" {
		return
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", c.livenessHandler)
	mux.HandleFunc("/readyz", c.readinessHandler)

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	slog.Info("health endpoint listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Warn("health endpoint failed", "err", err)
	}
}

func (c *Checker) livenessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]any{
		"status": "alive",
		"uptime": time.Since(c.startTime).String(),
		"cycles": c.cycles.Load(),
	})
}

func (c *Checker) readinessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if c.ready.Load() {
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{"status": "ready"})
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	json.NewEncoder(w).Encode(map[string]any{"status": "not_ready"})
}
