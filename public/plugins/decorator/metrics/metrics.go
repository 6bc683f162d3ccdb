// Package metrics provides a Prometheus metrics decorator for connectors.
// Import this package to enable metrics collection:
//
//	import _ "github.com/fujin-io/stompbridge/public/plugins/decorator/metrics"
//
// Configure in YAML:
//
//	decorators:
//	  - name: metrics
//	    config:
//	      enabled: true
//
// Metrics are served by the endpoint configured in observability.metrics.
package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fujin-io/stompbridge/internal/observability"
	"github.com/fujin-io/stompbridge/public/plugins/connector"
	"github.com/fujin-io/stompbridge/public/plugins/decorator"
	"github.com/fujin-io/stompbridge/public/util"
)

// Config for metrics decorator
type Config struct {
	Enabled bool `yaml:"enabled"`
}

func init() {
	if err := decorator.Register("metrics", newMetricsDecorator); err != nil {
		panic(fmt.Sprintf("register metrics decorator: %v", err))
	}
}

func newMetricsDecorator(config any, l *slog.Logger) (decorator.Decorator, error) {
	cfg := Config{Enabled: true}
	if err := util.ConvertConfig(config, &cfg); err != nil {
		return nil, fmt.Errorf("metrics decorator: %w", err)
	}
	return &metricsDecorator{enabled: cfg.Enabled, l: l}, nil
}

// metricsDecorator implements decorator.Decorator
type metricsDecorator struct {
	enabled bool
	l       *slog.Logger
}

func (d *metricsDecorator) WrapWriter(w connector.Writer, connectorName string) connector.Writer {
	if !d.enabled {
		return w
	}
	return &metricsWriterWrapper{w: w, connectorName: connectorName}
}

func (d *metricsDecorator) WrapReader(r connector.Reader, connectorName string) connector.Reader {
	if !d.enabled {
		return r
	}
	return &metricsReaderWrapper{r: r, connectorName: connectorName}
}

type metricsWriterWrapper struct {
	w             connector.Writer
	connectorName string
}

func (d *metricsWriterWrapper) Produce(ctx context.Context, topic string, msg []byte, headers [][]byte, callback func(err error)) {
	start := time.Now()
	d.w.Produce(ctx, topic, msg, headers, func(err error) {
		observability.ObserveProduceLatency(d.connectorName, time.Since(start))
		record("produce", d.connectorName, err)
		callback(err)
	})
}

func (d *metricsWriterWrapper) Flush(ctx context.Context) error {
	err := d.w.Flush(ctx)
	record("flush", d.connectorName, err)
	return err
}

func (d *metricsWriterWrapper) BeginTx(ctx context.Context) error {
	err := d.w.BeginTx(ctx)
	record("begin_tx", d.connectorName, err)
	return err
}

func (d *metricsWriterWrapper) CommitTx(ctx context.Context) error {
	err := d.w.CommitTx(ctx)
	record("commit_tx", d.connectorName, err)
	return err
}

func (d *metricsWriterWrapper) RollbackTx(ctx context.Context) error {
	err := d.w.RollbackTx(ctx)
	record("rollback_tx", d.connectorName, err)
	return err
}

type metricsReaderWrapper struct {
	r             connector.Reader
	connectorName string
}

func (d *metricsReaderWrapper) Subscribe(ctx context.Context, topic string, h func(msg connector.Message)) error {
	err := d.r.Subscribe(ctx, topic, func(msg connector.Message) {
		observability.IncConnectorOp("deliver", d.connectorName)
		h(msg)
	})
	record("subscribe", d.connectorName, err)
	return err
}

func (d *metricsReaderWrapper) Ack(ctx context.Context, msgID []byte) error {
	err := d.r.Ack(ctx, msgID)
	record("ack", d.connectorName, err)
	return err
}

func (d *metricsReaderWrapper) Nack(ctx context.Context, msgID []byte) error {
	err := d.r.Nack(ctx, msgID)
	record("nack", d.connectorName, err)
	return err
}

func (d *metricsReaderWrapper) IsAutoCommit() bool {
	return d.r.IsAutoCommit()
}

func record(op, connectorName string, err error) {
	observability.IncConnectorOp(op, connectorName)
	if err != nil {
		observability.IncConnectorError(op, connectorName)
	}
}
