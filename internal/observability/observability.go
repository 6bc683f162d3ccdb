package observability

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/fujin-io/stompbridge"

var (
	metricsEnabled atomic.Bool
	tracingEnabled atomic.Bool

	registry    = prometheus.NewRegistry()
	metricsOnce sync.Once

	framesTotal              *prometheus.CounterVec
	errorsTotal              *prometheus.CounterVec
	sessionsActive           prometheus.Gauge
	subscriptionsActive      prometheus.Gauge
	connectorOpsTotal        *prometheus.CounterVec
	connectorErrorsTotal     *prometheus.CounterVec
	connectorWriteLatencySec *prometheus.HistogramVec
)

func MetricsEnabled() bool {
	return metricsEnabled.Load()
}

func TracingEnabled() bool {
	return tracingEnabled.Load()
}

// Tracer returns the process tracer. It is a no-op tracer until Init enabled tracing.
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

func Propagator() propagation.TextMapPropagator {
	return otel.GetTextMapPropagator()
}

// Registry exposes the metrics registry, mainly for tests.
func Registry() *prometheus.Registry {
	return registry
}

func initMetrics() {
	metricsOnce.Do(func() {
		framesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stompbridge_frames_total",
			Help: "STOMP frames by command and direction",
		}, []string{"command", "direction"})
		errorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stompbridge_errors_total",
			Help: "ERROR frames sent, by error kind",
		}, []string{"kind"})
		sessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "stompbridge_sessions_active",
			Help: "Connected STOMP sessions",
		})
		subscriptionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "stompbridge_subscriptions_active",
			Help: "Active STOMP subscriptions",
		})
		connectorOpsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stompbridge_connector_ops_total",
			Help: "Connector operations",
		}, []string{"op", "connector"})
		connectorErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stompbridge_connector_errors_total",
			Help: "Connector errors by operation",
		}, []string{"op", "connector"})
		connectorWriteLatencySec = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stompbridge_connector_produce_latency_seconds",
			Help:    "Connector produce latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"connector"})

		registry.MustRegister(
			framesTotal, errorsTotal, sessionsActive, subscriptionsActive,
			connectorOpsTotal, connectorErrorsTotal, connectorWriteLatencySec,
		)
	})
}

// Init starts the metrics endpoint and the tracer provider as configured.
// The returned function shuts both down.
func Init(ctx context.Context, cfg Config, l *slog.Logger) (func(context.Context) error, error) {
	cfg.SetDefaults()
	shutdownFns := []func(context.Context) error{}

	if cfg.Metrics.Enabled {
		initMetrics()
		metricsEnabled.Store(true)

		ln, err := net.Listen("tcp", cfg.Metrics.Addr)
		if err != nil {
			return nil, err
		}

		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Path, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		httpSrv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				l.Error("metrics http server", "err", err)
			}
		}()
		l.Info("metrics server started", "addr", ln.Addr().String(), "path", cfg.Metrics.Path)
		shutdownFns = append(shutdownFns, func(ctx context.Context) error {
			metricsEnabled.Store(false)
			return httpSrv.Shutdown(ctx)
		})
	}

	if cfg.Tracing.Enabled {
		var opts []otlptracegrpc.Option
		opts = append(opts, otlptracegrpc.WithEndpoint(cfg.Tracing.OTLPEndpoint))
		if cfg.Tracing.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exp, err := otlptracegrpc.New(ctx, opts...)
		if err != nil {
			l.Error("init otlp exporter", "err", err)
		} else {
			sampler := sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.Tracing.SampleRatio))
			res, _ := resource.Merge(resource.Default(), resource.NewWithAttributes(
				"",
				attribute.String("service.name", cfg.Tracing.Resource.ServiceName),
				attribute.String("service.version", cfg.Tracing.Resource.ServiceVersion),
				attribute.String("deployment.environment", cfg.Tracing.Resource.Environment),
			))
			tp := sdktrace.NewTracerProvider(
				sdktrace.WithBatcher(exp),
				sdktrace.WithSampler(sampler),
				sdktrace.WithResource(res),
			)
			otel.SetTracerProvider(tp)
			otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
			tracingEnabled.Store(true)
			l.Info("tracing initialized", "endpoint", cfg.Tracing.OTLPEndpoint, "service", cfg.Tracing.Resource.ServiceName)
			shutdownFns = append(shutdownFns, func(ctx context.Context) error {
				tracingEnabled.Store(false)
				return tp.Shutdown(ctx)
			})
		}
	}

	return func(ctx context.Context) error {
		var errs []error
		for i := len(shutdownFns) - 1; i >= 0; i-- {
			errs = append(errs, shutdownFns[i](ctx))
		}
		return errors.Join(errs...)
	}, nil
}

func IncFrame(command, direction string) {
	if metricsEnabled.Load() {
		framesTotal.WithLabelValues(command, direction).Inc()
	}
}

func IncError(kind string) {
	if metricsEnabled.Load() {
		errorsTotal.WithLabelValues(kind).Inc()
	}
}

func AddSessions(n int) {
	if metricsEnabled.Load() {
		sessionsActive.Add(float64(n))
	}
}

func AddSubscriptions(n int) {
	if metricsEnabled.Load() {
		subscriptionsActive.Add(float64(n))
	}
}

func IncConnectorOp(op, connector string) {
	if metricsEnabled.Load() {
		connectorOpsTotal.WithLabelValues(op, connector).Inc()
	}
}

func IncConnectorError(op, connector string) {
	if metricsEnabled.Load() {
		connectorErrorsTotal.WithLabelValues(op, connector).Inc()
	}
}

func ObserveProduceLatency(connector string, d time.Duration) {
	if metricsEnabled.Load() {
		connectorWriteLatencySec.WithLabelValues(connector).Observe(d.Seconds())
	}
}
