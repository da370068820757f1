package otel

import "go.opentelemetry.io/otel/metric"

// Metrics holds all nullclaw metric instruments.
type Metrics struct {
	OutboundDispatched metric.Int64Counter
	OutboundErrors     metric.Int64Counter
	ChannelNotFound    metric.Int64Counter
	ToolCallDuration   metric.Float64Histogram
	ToolCallErrors     metric.Int64Counter
	ToolRetries        metric.Int64Counter
	PolicyDenials      metric.Int64Counter
	DeltasSent         metric.Int64Counter
	DeltasApplied      metric.Int64Counter
	DeltasRejected     metric.Int64Counter
	RateLimitRejects   metric.Int64Counter
}

// NewMetrics creates all metric instruments from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.OutboundDispatched, err = meter.Int64Counter("nullclaw.outbound.dispatched",
		metric.WithDescription("Outbound messages delivered to a channel"),
	)
	if err != nil {
		return nil, err
	}

	m.OutboundErrors, err = meter.Int64Counter("nullclaw.outbound.errors",
		metric.WithDescription("Outbound channel send failures"),
	)
	if err != nil {
		return nil, err
	}

	m.ChannelNotFound, err = meter.Int64Counter("nullclaw.outbound.channel_not_found",
		metric.WithDescription("Outbound messages addressed to an unregistered channel"),
	)
	if err != nil {
		return nil, err
	}

	m.ToolCallDuration, err = meter.Float64Histogram("nullclaw.tool.duration",
		metric.WithDescription("Tool call duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.ToolCallErrors, err = meter.Int64Counter("nullclaw.tool.errors",
		metric.WithDescription("Tool call error count"),
	)
	if err != nil {
		return nil, err
	}

	m.ToolRetries, err = meter.Int64Counter("nullclaw.tool.retries",
		metric.WithDescription("Tool call retries within the reliability envelope"),
	)
	if err != nil {
		return nil, err
	}

	m.PolicyDenials, err = meter.Int64Counter("nullclaw.policy.denials",
		metric.WithDescription("Commands denied by the security policy"),
	)
	if err != nil {
		return nil, err
	}

	m.DeltasSent, err = meter.Int64Counter("nullclaw.sync.deltas_sent",
		metric.WithDescription("Sync deltas transmitted to the peer"),
	)
	if err != nil {
		return nil, err
	}

	m.DeltasApplied, err = meter.Int64Counter("nullclaw.sync.deltas_applied",
		metric.WithDescription("Sync deltas accepted from the peer"),
	)
	if err != nil {
		return nil, err
	}

	m.DeltasRejected, err = meter.Int64Counter("nullclaw.sync.deltas_rejected",
		metric.WithDescription("Sync frames rejected by validation"),
	)
	if err != nil {
		return nil, err
	}

	m.RateLimitRejects, err = meter.Int64Counter("nullclaw.ratelimit.rejects",
		metric.WithDescription("Actions rejected by the per-hour rate tracker"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}
