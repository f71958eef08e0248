// Package server exposes the bot over HTTP for hosting platforms that poke a
// URL on a schedule.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"trainer-bot/internal/core/domain"
)

const HealthMessage = "Exercise Trainer Bot is running!"

// Runner performs one engagement pass.
type Runner interface {
	Run(ctx context.Context) domain.RunReport
}

// Guard serializes runs. A second trigger while one is active is refused
// rather than queued, so the ticker and /run never overlap.
type Guard struct {
	Runner Runner
	mu     sync.Mutex
}

// TryRun runs once if no other run is in progress.
func (g *Guard) TryRun(ctx context.Context) (domain.RunReport, bool) {
	if !g.mu.TryLock() {
		return domain.RunReport{}, false
	}
	defer g.mu.Unlock()
	return g.Runner.Run(ctx), true
}

// Loop runs once immediately, then every interval until ctx is done. Ticks
// that land on an active run are skipped.
func (g *Guard) Loop(ctx context.Context, every time.Duration, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	logger.Info("scheduler started", zap.Duration("interval", every))

	for {
		if _, ok := g.TryRun(ctx); !ok {
			logger.Info("previous run still active, skipping tick")
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

// NewRouter creates the chi router.
func NewRouter(guard *Guard, logger *zap.Logger) *chi.Mux {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)

	r.Get("/", health)
	r.Post("/run", runHandler(guard, logger))
	return r
}

func health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(HealthMessage))
}

func runHandler(guard *Guard, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report, ok := guard.TryRun(r.Context())
		if !ok {
			writeJSON(w, http.StatusConflict, map[string]string{"error": "run already in progress"})
			return
		}
		status := http.StatusOK
		if report.Aborted != "" {
			status = http.StatusServiceUnavailable
			logger.Warn("triggered run aborted", zap.String("reason", report.Aborted))
		}
		writeJSON(w, status, report)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}
