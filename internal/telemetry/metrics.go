package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics is a fire-and-forget sink. A nil *Metrics records nothing.
type Metrics struct {
	commands         metric.Int64Counter
	deliveries       metric.Int64Counter
	publishFailures  metric.Int64Counter
	listenerRestarts metric.Int64Counter
	connections      metric.Int64UpDownCounter
}

func NewMetrics(meter metric.Meter) (*Metrics, error) {
	commands, err := meter.Int64Counter("roomcast_commands_total",
		metric.WithDescription("Client commands handled, by command and outcome"))
	if err != nil {
		return nil, err
	}
	deliveries, err := meter.Int64Counter("roomcast_deliveries_total",
		metric.WithDescription("Frames pushed to local connections"))
	if err != nil {
		return nil, err
	}
	publishFailures, err := meter.Int64Counter("roomcast_broker_publish_failures_total",
		metric.WithDescription("Broker publishes that failed"))
	if err != nil {
		return nil, err
	}
	listenerRestarts, err := meter.Int64Counter("roomcast_listener_restarts_total",
		metric.WithDescription("Broker listener restarts"))
	if err != nil {
		return nil, err
	}
	connections, err := meter.Int64UpDownCounter("roomcast_connections",
		metric.WithDescription("Open client connections on this instance"))
	if err != nil {
		return nil, err
	}
	return &Metrics{
		commands:         commands,
		deliveries:       deliveries,
		publishFailures:  publishFailures,
		listenerRestarts: listenerRestarts,
		connections:      connections,
	}, nil
}

func (m *Metrics) Command(ctx context.Context, command, outcome string) {
	if m == nil {
		return
	}
	m.commands.Add(ctx, 1, metric.WithAttributes(
		attribute.String("command", command),
		attribute.String("outcome", outcome),
	))
}

func (m *Metrics) Delivered(ctx context.Context, scope string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.deliveries.Add(ctx, int64(n), metric.WithAttributes(attribute.String("scope", scope)))
}

func (m *Metrics) PublishFailed(ctx context.Context) {
	if m == nil {
		return
	}
	m.publishFailures.Add(ctx, 1)
}

func (m *Metrics) ListenerRestarted(ctx context.Context) {
	if m == nil {
		return
	}
	m.listenerRestarts.Add(ctx, 1)
}

func (m *Metrics) ConnectionOpened(ctx context.Context) {
	if m == nil {
		return
	}
	m.connections.Add(ctx, 1)
}

func (m *Metrics) ConnectionClosed(ctx context.Context) {
	if m == nil {
		return
	}
	m.connections.Add(ctx, -1)
}
