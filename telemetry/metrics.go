// Package telemetry provides Prometheus metrics, Pushgateway export and
// correlation-id aware logging helpers for archiver runs.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

var (
	once sync.Once

	// Counters
	RunsTotal           *prometheus.CounterVec // status=success|failed|noop
	UploadsTotal        *prometheus.CounterVec // status=success|failed
	ChatExportsTotal    *prometheus.CounterVec // status=success|failed
	EmoteSourceFailures *prometheus.CounterVec // source=ffz|bttv|7tv
	MetadataSyncsTotal  prometheus.Counter
	PartsHealedTotal    prometheus.Counter

	// Histograms (seconds)
	UploadDuration prometheus.Observer
	RunDuration    prometheus.Observer

	// Gauges
	PendingRecordings prometheus.Gauge
	LastRunTimestamp  prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{Name: "archiver_runs_total", Help: "Pipeline runs by outcome"}, []string{"status"})
		UploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{Name: "archiver_uploads_total", Help: "Recording uploads by outcome"}, []string{"status"})
		ChatExportsTotal = promauto.NewCounterVec(prometheus.CounterOpts{Name: "archiver_chat_exports_total", Help: "Chat exports by outcome"}, []string{"status"})
		EmoteSourceFailures = promauto.NewCounterVec(prometheus.CounterOpts{Name: "archiver_emote_source_failures_total", Help: "Emote catalog sources that failed and were replaced by an empty list"}, []string{"source"})
		MetadataSyncsTotal = promauto.NewCounter(prometheus.CounterOpts{Name: "archiver_metadata_syncs_total", Help: "VODs whose YouTube title and description were rewritten"})
		PartsHealedTotal = promauto.NewCounter(prometheus.CounterOpts{Name: "archiver_parts_healed_total", Help: "Parts restored into archive records from checkpoints"})
		UploadDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "archiver_upload_duration_seconds", Help: "Upload duration seconds", Buckets: prometheus.ExponentialBuckets(5, 2, 12)})
		RunDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "archiver_run_duration_seconds", Help: "Whole run duration seconds", Buckets: prometheus.ExponentialBuckets(1, 2, 16)})
		PendingRecordings = promauto.NewGauge(prometheus.GaugeOpts{Name: "archiver_pending_recordings", Help: "Recordings eligible for upload at the start of the run"})
		LastRunTimestamp = promauto.NewGauge(prometheus.GaugeOpts{Name: "archiver_last_run_timestamp_seconds", Help: "Unix time the last run finished"})
	})
}

func status(ok bool) string {
	if ok {
		return "success"
	}
	return "failed"
}

// CountUpload records one upload attempt.
func CountUpload(ok bool, d time.Duration) {
	if UploadsTotal != nil {
		UploadsTotal.WithLabelValues(status(ok)).Inc()
	}
	if ok && UploadDuration != nil {
		UploadDuration.Observe(d.Seconds())
	}
}

// CountChatExport records one chat export attempt.
func CountChatExport(ok bool) {
	if ChatExportsTotal != nil {
		ChatExportsTotal.WithLabelValues(status(ok)).Inc()
	}
}

// CountEmoteSourceFailure records a soft-failed emote provider.
func CountEmoteSourceFailure(source string) {
	if EmoteSourceFailures != nil {
		EmoteSourceFailures.WithLabelValues(source).Inc()
	}
}

// CountMetadataSync records a rewritten VOD.
func CountMetadataSync() {
	if MetadataSyncsTotal != nil {
		MetadataSyncsTotal.Inc()
	}
}

// CountHealedPart records a part restored from a checkpoint.
func CountHealedPart() {
	if PartsHealedTotal != nil {
		PartsHealedTotal.Inc()
	}
}

// SetPending records how many recordings the run starts with.
func SetPending(n int) {
	if PendingRecordings != nil {
		PendingRecordings.Set(float64(n))
	}
}

// RecordRun closes out a run with its outcome and duration.
func RecordRun(outcome string, d time.Duration) {
	if RunsTotal != nil {
		RunsTotal.WithLabelValues(outcome).Inc()
	}
	if RunDuration != nil {
		RunDuration.Observe(d.Seconds())
	}
	if LastRunTimestamp != nil {
		LastRunTimestamp.SetToCurrentTime()
	}
}

// Push sends the default registry to a Pushgateway under job. Runs are short lived,
// so nothing would ever scrape them.
func Push(ctx context.Context, url, job, instance string) error {
	if url == "" {
		return nil
	}
	p := push.New(url, job).Gatherer(prometheus.DefaultGatherer)
	if instance != "" {
		p = p.Grouping("instance", instance)
	}
	if err := p.PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics to %s: %w", url, err)
	}
	return nil
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

// WithCorrelation returns a new context carrying the run's correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
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
