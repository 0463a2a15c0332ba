// Package observe provides application-wide observability primitives for
// gglib: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all gglib metrics.
const meterName = "github.com/mrwong99/gglib"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// ModelSwapDuration tracks how long the Process Supervisor takes to
	// spawn a model and reach a healthy state, for both strategies.
	ModelSwapDuration metric.Float64Histogram

	// DownloadThroughput tracks download transfer rate, in bytes per
	// second, recorded on every progress report of an in-flight transfer.
	DownloadThroughput metric.Float64Histogram

	// ToolCallDuration tracks MCP tool execution latency.
	ToolCallDuration metric.Float64Histogram

	// VoiceStateDuration tracks how long the voice pipeline spends in
	// each state of its capture/transcribe/respond/speak cycle.
	VoiceStateDuration metric.Float64Histogram

	// STTDuration tracks speech-to-text transcription latency.
	STTDuration metric.Float64Histogram

	// TTSDuration tracks text-to-speech synthesis latency.
	TTSDuration metric.Float64Histogram

	// --- Counters ---

	// ProxyRequests counts requests served by the model-swapping proxy.
	// Use with attributes: attribute.String("route", ...), attribute.String("status", ...)
	ProxyRequests metric.Int64Counter

	// ToolCalls counts tool invocations. Use with attributes:
	//   attribute.String("tool", ...), attribute.String("status", ...)
	ToolCalls metric.Int64Counter

	// DownloadsCompleted counts finished downloads. Use with attribute:
	//   attribute.String("status", ...) ("ok" or "failed")
	DownloadsCompleted metric.Int64Counter

	// --- Error counters ---

	// ProxyErrors counts proxy-side errors. Use with attributes:
	//   attribute.String("route", ...), attribute.String("kind", ...)
	ProxyErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveModels tracks the number of currently running llama-server
	// children across both supervisor strategies.
	ActiveModels metric.Int64UpDownCounter

	// DownloadQueueDepth tracks the number of queued-but-not-yet-started
	// downloads.
	DownloadQueueDepth metric.Int64UpDownCounter

	// ActiveMCPServers tracks the number of currently connected MCP
	// tool servers.
	ActiveMCPServers metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for local-inference control-plane latencies: sub-second tool calls and
// HTTP requests alongside multi-second model swaps.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// throughputBuckets defines histogram bucket boundaries (in bytes/second)
// for download transfer rate, spanning slow mirrors to a local LAN cache.
var throughputBuckets = []float64{
	1 << 17, 1 << 19, 1 << 21, 1 << 23, 1 << 25, 1 << 27, 1 << 29,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.ModelSwapDuration, err = m.Float64Histogram("gglib.runtime.swap.duration",
		metric.WithDescription("Time for the process supervisor to spawn a model and reach a healthy state."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.DownloadThroughput, err = m.Float64Histogram("gglib.download.throughput",
		metric.WithDescription("Download transfer rate, recorded on every progress report."),
		metric.WithUnit("By/s"),
		metric.WithExplicitBucketBoundaries(throughputBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ToolCallDuration, err = m.Float64Histogram("gglib.mcp.tool_call.duration",
		metric.WithDescription("Latency of MCP tool execution."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.VoiceStateDuration, err = m.Float64Histogram("gglib.voice.state.duration",
		metric.WithDescription("Time spent in each voice pipeline state."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.STTDuration, err = m.Float64Histogram("gglib.voice.stt.duration",
		metric.WithDescription("Latency of speech-to-text transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TTSDuration, err = m.Float64Histogram("gglib.voice.tts.duration",
		metric.WithDescription("Latency of text-to-speech synthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ProxyRequests, err = m.Int64Counter("gglib.proxy.requests",
		metric.WithDescription("Total requests served by the model-swapping proxy, by route and status."),
	); err != nil {
		return nil, err
	}
	if met.ToolCalls, err = m.Int64Counter("gglib.mcp.tool.calls",
		metric.WithDescription("Total MCP tool invocations by tool name and status."),
	); err != nil {
		return nil, err
	}
	if met.DownloadsCompleted, err = m.Int64Counter("gglib.download.completed",
		metric.WithDescription("Total downloads completed, by status."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProxyErrors, err = m.Int64Counter("gglib.proxy.errors",
		metric.WithDescription("Total proxy errors by route and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveModels, err = m.Int64UpDownCounter("gglib.runtime.active_models",
		metric.WithDescription("Number of currently running llama-server children."),
	); err != nil {
		return nil, err
	}
	if met.DownloadQueueDepth, err = m.Int64UpDownCounter("gglib.download.queue_depth",
		metric.WithDescription("Number of queued-but-not-yet-started downloads."),
	); err != nil {
		return nil, err
	}
	if met.ActiveMCPServers, err = m.Int64UpDownCounter("gglib.mcp.active_servers",
		metric.WithDescription("Number of currently connected MCP tool servers."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("gglib.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProxyRequest is a convenience method that records a proxy request
// counter increment with the standard attribute set.
func (m *Metrics) RecordProxyRequest(ctx context.Context, route, status string) {
	m.ProxyRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("route", route),
			attribute.String("status", status),
		),
	)
}

// RecordToolCall is a convenience method that records a tool call counter
// increment with the standard attribute set.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string) {
	m.ToolCalls.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("tool", tool),
			attribute.String("status", status),
		),
	)
}

// RecordDownloadCompleted is a convenience method that records a completed
// (or failed) download counter increment.
func (m *Metrics) RecordDownloadCompleted(ctx context.Context, status string) {
	m.DownloadsCompleted.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordVoiceStateDuration is a convenience method that records how long the
// voice pipeline spent in the given state before transitioning away from it.
func (m *Metrics) RecordVoiceStateDuration(ctx context.Context, state string, seconds float64) {
	m.VoiceStateDuration.Record(ctx, seconds, metric.WithAttributes(attribute.String("state", state)))
}

// RecordProxyError is a convenience method that records a proxy error
// counter increment.
func (m *Metrics) RecordProxyError(ctx context.Context, route, kind string) {
	m.ProxyErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("route", route),
			attribute.String("kind", kind),
		),
	)
}
