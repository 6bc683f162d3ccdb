// Package tracing provides an OpenTelemetry distributed tracing decorator for connectors.
// Import this package to enable distributed tracing:
//
//	import _ "github.com/fujin-io/stompbridge/public/plugins/decorator/tracing"
//
// Configure in YAML:
//
//	decorators:
//	  - name: tracing
//	    config:
//	      enabled: true
//
// Spans are exported through the tracer provider set up by the
// observability.tracing section of the server config.
package tracing

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/fujin-io/stompbridge/internal/observability"
	"github.com/fujin-io/stompbridge/public/plugins/connector"
	"github.com/fujin-io/stompbridge/public/plugins/decorator"
	"github.com/fujin-io/stompbridge/public/util"
)

var messagingSystem = semconv.MessagingSystemKey.String("stompbridge")

// Config for tracing decorator
type Config struct {
	Enabled bool `yaml:"enabled"`
}

func init() {
	if err := decorator.Register("tracing", newTracingDecorator); err != nil {
		panic(fmt.Sprintf("register tracing decorator: %v", err))
	}
}

func newTracingDecorator(config any, l *slog.Logger) (decorator.Decorator, error) {
	cfg := Config{Enabled: true}
	if err := util.ConvertConfig(config, &cfg); err != nil {
		return nil, fmt.Errorf("tracing decorator: %w", err)
	}
	return &tracingDecorator{enabled: cfg.Enabled, l: l}, nil
}

// tracingDecorator implements decorator.Decorator
type tracingDecorator struct {
	enabled bool
	l       *slog.Logger
}

func (d *tracingDecorator) WrapWriter(w connector.Writer, connectorName string) connector.Writer {
	if !d.enabled {
		return w
	}
	return &tracingWriterWrapper{w: w, connectorName: connectorName}
}

func (d *tracingDecorator) WrapReader(r connector.Reader, connectorName string) connector.Reader {
	if !d.enabled {
		return r
	}
	return &tracingReaderWrapper{r: r, connectorName: connectorName}
}

// byteHeadersCarrier implements propagation.TextMapCarrier for [][]byte headers
type byteHeadersCarrier struct {
	hs *[][]byte
}

func (c byteHeadersCarrier) Get(key string) string {
	headers := *c.hs
	for i := 0; i+1 < len(headers); i += 2 {
		if strings.EqualFold(string(headers[i]), key) {
			return string(headers[i+1])
		}
	}
	return ""
}

func (c byteHeadersCarrier) Set(key, value string) {
	*c.hs = append(*c.hs, []byte(key), []byte(value))
}

func (c byteHeadersCarrier) Keys() []string {
	headers := *c.hs
	keys := make([]string, 0, len(headers)/2)
	for i := 0; i+1 < len(headers); i += 2 {
		keys = append(keys, string(headers[i]))
	}
	return keys
}

func startSpan(ctx context.Context, name, connectorName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, messagingSystem, attribute.String("connector", connectorName))
	return observability.Tracer().Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
	}
	span.End()
}

type tracingWriterWrapper struct {
	w             connector.Writer
	connectorName string
}

func (d *tracingWriterWrapper) Produce(ctx context.Context, topic string, msg []byte, headers [][]byte, callback func(err error)) {
	ctx, span := startSpan(ctx, "writer.produce", d.connectorName,
		semconv.MessagingDestinationName(topic),
		attribute.Int("msg_size", len(msg)),
		attribute.Int("header_count", len(headers)/2),
	)
	hs := append([][]byte(nil), headers...)
	observability.Propagator().Inject(ctx, byteHeadersCarrier{hs: &hs})
	d.w.Produce(ctx, topic, msg, hs, func(err error) {
		endSpan(span, err)
		callback(err)
	})
}

func (d *tracingWriterWrapper) Flush(ctx context.Context) error {
	ctx, span := startSpan(ctx, "writer.flush", d.connectorName)
	err := d.w.Flush(ctx)
	endSpan(span, err)
	return err
}

func (d *tracingWriterWrapper) BeginTx(ctx context.Context) error {
	ctx, span := startSpan(ctx, "writer.begin_tx", d.connectorName)
	err := d.w.BeginTx(ctx)
	endSpan(span, err)
	return err
}

func (d *tracingWriterWrapper) CommitTx(ctx context.Context) error {
	ctx, span := startSpan(ctx, "writer.commit_tx", d.connectorName)
	err := d.w.CommitTx(ctx)
	endSpan(span, err)
	return err
}

func (d *tracingWriterWrapper) RollbackTx(ctx context.Context) error {
	ctx, span := startSpan(ctx, "writer.rollback_tx", d.connectorName)
	err := d.w.RollbackTx(ctx)
	endSpan(span, err)
	return err
}

type tracingReaderWrapper struct {
	r             connector.Reader
	connectorName string
}

func (d *tracingReaderWrapper) Subscribe(ctx context.Context, topic string, h func(msg connector.Message)) error {
	ctx, span := startSpan(ctx, "reader.subscribe", d.connectorName, semconv.MessagingDestinationName(topic))
	err := d.r.Subscribe(ctx, topic, func(msg connector.Message) {
		msgCtx := observability.Propagator().Extract(context.Background(), byteHeadersCarrier{hs: &msg.Headers})
		_, span := startSpan(msgCtx, "reader.handle", d.connectorName,
			semconv.MessagingDestinationName(msg.Topic),
			attribute.Int("msg_size", len(msg.Body)),
		)
		h(msg)
		span.End()
	})
	endSpan(span, err)
	return err
}

func (d *tracingReaderWrapper) Ack(ctx context.Context, msgID []byte) error {
	ctx, span := startSpan(ctx, "reader.ack", d.connectorName)
	err := d.r.Ack(ctx, msgID)
	endSpan(span, err)
	return err
}

func (d *tracingReaderWrapper) Nack(ctx context.Context, msgID []byte) error {
	ctx, span := startSpan(ctx, "reader.nack", d.connectorName)
	err := d.r.Nack(ctx, msgID)
	endSpan(span, err)
	return err
}

func (d *tracingReaderWrapper) IsAutoCommit() bool {
	return d.r.IsAutoCommit()
}
