// Package server exposes the bot's HTTP surface: liveness and readiness
// probes, Prometheus metrics, a status summary and a couple of authenticated
// admin actions. Every request carries a correlation id for logging.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/proglangs/breadbot/db"
	"github.com/proglangs/breadbot/sorting"
	"github.com/proglangs/breadbot/telemetry"
)

// Store is the part of the database the handlers read.
type Store interface {
	Ping(ctx context.Context) error
	Guild(ctx context.Context, guildID string) (*db.Guild, error)
	Guilds(ctx context.Context) ([]db.Guild, error)
}

// Maintainer runs maintenance on demand.
type Maintainer interface {
	RunOnce(ctx context.Context) error
	RunGuild(ctx context.Context, guild db.Guild) error
}

// Deps wires the handlers to the running bot. Locks must be the instance the
// bot and the maintenance job share.
type Deps struct {
	Store       Store
	Sorter      *sorting.Sorter
	Locks       *sorting.Locks
	Maintenance Maintainer
	// Gateway reports whether the Discord session is connected.
	Gateway func() bool
	Options Options
}

// NewMux returns the HTTP handler with all routes. The admin routes exist
// only when admin credentials are configured. ctx bounds the rate
// limiter's cleanup goroutine and any maintenance started over HTTP.
func NewMux(ctx context.Context, deps Deps) http.Handler {
	h := &handlers{ctx: ctx, deps: deps}
	limiter := newIPRateLimiter(ctx, deps.Options)

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", h.healthz)
	mux.HandleFunc("GET /readyz", h.readyz)
	mux.HandleFunc("GET /status", h.status)

	if deps.Options.authEnabled() {
		admin := http.NewServeMux()
		admin.HandleFunc("POST /admin/sort", h.adminSort)
		admin.HandleFunc("POST /admin/maintenance", h.adminMaintenance)
		mux.Handle("/admin/", adminAuth(rateLimitMiddleware(admin, limiter), deps.Options))
	} else {
		slog.Warn("admin credentials not configured; admin endpoints disabled", slog.String("component", "http"))
	}

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		corr := r.Header.Get("X-Correlation-ID")
		if corr == "" {
			corr = uuid.New().String()
		}
		ctx := telemetry.WithCorrelation(r.Context(), corr)
		w.Header().Set("X-Correlation-ID", corr)

		ctx, span := telemetry.StartSpan(ctx, "http-server", r.Method+" "+r.URL.Path,
			telemetry.HTTPMethodAttr(r.Method),
			telemetry.HTTPRouteAttr(r.URL.Path),
		)
		defer span.End()
		telemetry.LoggerWithCorr(ctx).Debug("request start", slog.String("method", r.Method), slog.String("path", r.URL.Path), slog.String("component", "http"))

		rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		mux.ServeHTTP(rec, r.WithContext(ctx))

		telemetry.SetSpanHTTPStatus(span, rec.statusCode)
		if rec.statusCode >= 400 {
			span.SetStatus(telemetry.ErrorStatus(fmt.Sprintf("HTTP %d", rec.statusCode)))
		}
	})
	return withCORS(handler, deps.Options)
}

// statusRecorder captures the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.statusCode = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

func reqLogger(r *http.Request) *slog.Logger {
	return telemetry.LoggerWithCorr(r.Context()).With(slog.String("component", "http"))
}

// Start runs the HTTP server and shuts down gracefully on context cancellation.
func Start(ctx context.Context, deps Deps, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           NewMux(ctx, deps),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("http server shutdown error", slog.Any("err", err))
		}
	}()

	slog.Info("http server listening", slog.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("http server error", slog.Any("err", err))
		return err
	}
	return nil
}

func guildParam(r *http.Request) string {
	return strings.TrimSpace(r.URL.Query().Get("guild"))
}
