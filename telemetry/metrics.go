// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	SortsRun               prometheus.Counter
	SortsFailed            prometheus.Counter
	ChannelMoves           prometheus.Counter
	CategoryRenames        prometheus.Counter
	ChannelsArchived       prometheus.Counter
	ChannelsUnarchived     prometheus.Counter
	ChannelsDeleted        prometheus.Counter
	NicknamesNormalized    prometheus.Counter
	BookmarksServed        prometheus.Counter
	MaintenanceCycles      prometheus.Counter
	CommandsTotal          *prometheus.CounterVec
	CommandFailuresTotal   *prometheus.CounterVec
	MaintenanceTaskFailure *prometheus.CounterVec

	// Histograms (seconds)
	MaintenanceDuration prometheus.Observer
	SortDuration        prometheus.Observer

	// Gauges
	ConfiguredGuilds prometheus.Gauge
	GatewayConnected prometheus.Gauge // 1=connected,0=disconnected
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		SortsRun = promauto.NewCounter(prometheus.CounterOpts{Name: "breadbot_sorts_total", Help: "Number of channel sorts completed"})
		SortsFailed = promauto.NewCounter(prometheus.CounterOpts{Name: "breadbot_sorts_failed_total", Help: "Number of channel sorts that failed"})
		ChannelMoves = promauto.NewCounter(prometheus.CounterOpts{Name: "breadbot_channel_moves_total", Help: "Number of project channels moved by sorting"})
		CategoryRenames = promauto.NewCounter(prometheus.CounterOpts{Name: "breadbot_category_renames_total", Help: "Number of project categories renamed"})
		ChannelsArchived = promauto.NewCounter(prometheus.CounterOpts{Name: "breadbot_channels_archived_total", Help: "Number of channels moved to the archive"})
		ChannelsUnarchived = promauto.NewCounter(prometheus.CounterOpts{Name: "breadbot_channels_unarchived_total", Help: "Number of channels restored from the archive"})
		ChannelsDeleted = promauto.NewCounter(prometheus.CounterOpts{Name: "breadbot_channels_deleted_total", Help: "Number of channels exported and deleted"})
		NicknamesNormalized = promauto.NewCounter(prometheus.CounterOpts{Name: "breadbot_nicknames_normalized_total", Help: "Number of member nicknames rewritten"})
		BookmarksServed = promauto.NewCounter(prometheus.CounterOpts{Name: "breadbot_bookmarks_served_total", Help: "Number of bookmark DMs sent"})
		MaintenanceCycles = promauto.NewCounter(prometheus.CounterOpts{Name: "breadbot_maintenance_cycles_total", Help: "Number of maintenance cycles run"})
		CommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{Name: "breadbot_commands_total", Help: "Commands invoked"}, []string{"command"})
		CommandFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{Name: "breadbot_command_failures_total", Help: "Commands that returned an error"}, []string{"command"})
		MaintenanceTaskFailure = promauto.NewCounterVec(prometheus.CounterOpts{Name: "breadbot_maintenance_task_failures_total", Help: "Maintenance task failures"}, []string{"task"})
		MaintenanceDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "breadbot_maintenance_duration_seconds", Help: "Maintenance cycle duration seconds", Buckets: prometheus.DefBuckets})
		SortDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "breadbot_sort_duration_seconds", Help: "Channel sort duration seconds", Buckets: prometheus.DefBuckets})
		ConfiguredGuilds = promauto.NewGauge(prometheus.GaugeOpts{Name: "breadbot_configured_guilds", Help: "Guilds with stored configuration"})
		GatewayConnected = promauto.NewGauge(prometheus.GaugeOpts{Name: "breadbot_gateway_connected", Help: "Gateway session connected=1 disconnected=0"})
	})
}

// Add increments c by n if the metric is registered.
func Add(c prometheus.Counter, n int) {
	if c != nil && n > 0 {
		c.Add(float64(n))
	}
}

// Inc increments c if the metric is registered.
func Inc(c prometheus.Counter) { Add(c, 1) }

// CommandInvoked counts one invocation of a command.
func CommandInvoked(name string) {
	if CommandsTotal != nil {
		CommandsTotal.WithLabelValues(name).Inc()
	}
}

// CommandFailed counts one failed invocation of a command.
func CommandFailed(name string) {
	if CommandFailuresTotal != nil {
		CommandFailuresTotal.WithLabelValues(name).Inc()
	}
}

// MaintenanceTaskFailed counts one failed maintenance task.
func MaintenanceTaskFailed(task string) {
	if MaintenanceTaskFailure != nil {
		MaintenanceTaskFailure.WithLabelValues(task).Inc()
	}
}

// SetGatewayConnected sets gauge to 1 if connected else 0.
func SetGatewayConnected(ok bool) {
	if GatewayConnected == nil {
		return
	}
	if ok {
		GatewayConnected.Set(1)
	} else {
		GatewayConnected.Set(0)
	}
}

// SetConfiguredGuilds records how many guilds have stored configuration.
func SetConfiguredGuilds(n int) {
	if ConfiguredGuilds != nil {
		ConfiguredGuilds.Set(float64(n))
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// WithNewCorrelation embeds a fresh random correlation id.
func WithNewCorrelation(ctx context.Context) context.Context {
	return WithCorrelation(ctx, uuid.NewString())
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	if s, ok := ctx.Value(corrKey).(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
