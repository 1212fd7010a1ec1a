package spatialgroup

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

func outcomeAttr(outcome string) attribute.KeyValue {
	return attribute.String("outcome", outcome)
}

// metrics holds the OpenTelemetry instruments for a group, fed by a
// metric.Meter obtained from pkg/telemetry. This is ambient observability,
// never required for correctness: every instrument degrades to a no-op
// if meter is nil.
type metrics struct {
	requests    metric.Int64Counter
	waitSeconds metric.Float64Histogram
	commits     metric.Int64Counter
	updaterLag  metric.Float64Histogram
}

func newMetrics(meter metric.Meter) *metrics {
	if meter == nil {
		meter = noop.NewMeterProvider().Meter("")
	}
	requests, _ := meter.Int64Counter("vtree_group_requests_total",
		metric.WithDescription("spatial group requests by outcome"))
	waitSeconds, _ := meter.Float64Histogram("vtree_group_wait_seconds",
		metric.WithDescription("time a reader waited for the updater to reach its requested sequence"))
	commits, _ := meter.Int64Counter("vtree_header_commits_total",
		metric.WithDescription("index header commits gated on the database's committed sequence"))
	updaterLag, _ := meter.Float64Histogram("vtree_updater_lag_seconds",
		metric.WithDescription("wall-clock time the updater spent processing changes between two checkpoints"))
	return &metrics{requests: requests, waitSeconds: waitSeconds, commits: commits, updaterLag: updaterLag}
}

func (m *metrics) incRequests(ctx context.Context, outcome string) {
	if m == nil || m.requests == nil {
		return
	}
	m.requests.Add(ctx, 1, metric.WithAttributes(outcomeAttr(outcome)))
}

func (m *metrics) observeWait(ctx context.Context, seconds float64) {
	if m == nil || m.waitSeconds == nil {
		return
	}
	m.waitSeconds.Record(ctx, seconds)
}

func (m *metrics) incCommits(ctx context.Context) {
	if m == nil || m.commits == nil {
		return
	}
	m.commits.Add(ctx, 1)
}

func (m *metrics) observeLag(ctx context.Context, seconds float64) {
	if m == nil || m.updaterLag == nil {
		return
	}
	m.updaterLag.Record(ctx, seconds)
}
