package stream

import (
	"context"

	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the stream instrumentation. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	frames     metric.Int64Counter
	trades     metric.Int64Counter
	dropped    metric.Int64Counter
	reconnects metric.Int64Counter
}

// NewMetrics registers the stream counters on the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	frames, err := meter.Int64Counter("perpscope.stream.frames",
		metric.WithDescription("Inbound websocket frames received"))
	if err != nil {
		return nil, err
	}
	trades, err := meter.Int64Counter("perpscope.stream.trades",
		metric.WithDescription("Individual trade records delivered to listeners"))
	if err != nil {
		return nil, err
	}
	dropped, err := meter.Int64Counter("perpscope.stream.dropped_frames",
		metric.WithDescription("Frames dropped as unrecognized or undecodable"))
	if err != nil {
		return nil, err
	}
	reconnects, err := meter.Int64Counter("perpscope.stream.reconnect_attempts",
		metric.WithDescription("Reconnection attempts made after unexpected closure"))
	if err != nil {
		return nil, err
	}
	return &Metrics{frames: frames, trades: trades, dropped: dropped, reconnects: reconnects}, nil
}

func (m *Metrics) addFrames(n int64) {
	if m == nil {
		return
	}
	m.frames.Add(context.Background(), n)
}

func (m *Metrics) addTrades(n int64) {
	if m == nil {
		return
	}
	m.trades.Add(context.Background(), n)
}

func (m *Metrics) addDropped(n int64) {
	if m == nil {
		return
	}
	m.dropped.Add(context.Background(), n)
}

func (m *Metrics) addReconnect() {
	if m == nil {
		return
	}
	m.reconnects.Add(context.Background(), 1)
}
