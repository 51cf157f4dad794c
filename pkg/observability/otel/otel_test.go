package otel

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lognoop "go.opentelemetry.io/otel/log/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JailtonJunior94/mqconsumer/pkg/observability"
)

func TestConfigValidate(t *testing.T) {
	scenarios := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults are valid", mutate: func(*Config) {}},
		{name: "missing service name", mutate: func(c *Config) { c.ServiceName = "" }, wantErr: "service name is required"},
		{name: "missing endpoint", mutate: func(c *Config) { c.OTLPEndpoint = "" }, wantErr: "otlp endpoint is required"},
		{
			name:    "insecure in production",
			mutate:  func(c *Config) { c.Insecure, c.Environment = true, "production" },
			wantErr: "insecure otlp connections are not allowed",
		},
		{
			name:    "old tls",
			mutate:  func(c *Config) { c.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS10} },
			wantErr: "minimum tls version",
		},
	}

	for _, scenario := range scenarios {
		t.Run(scenario.name, func(t *testing.T) {
			cfg := DefaultConfig("taskworker")
			scenario.mutate(cfg)

			err := cfg.Validate()
			if scenario.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, scenario.wantErr)
		})
	}
}

func TestParseProtocol(t *testing.T) {
	assert.Equal(t, ProtocolHTTP, ParseProtocol("http/protobuf"))
	assert.Equal(t, ProtocolHTTP, ParseProtocol("HTTP"))
	assert.Equal(t, ProtocolGRPC, ParseProtocol(""))
	assert.Equal(t, ProtocolGRPC, ParseProtocol("carrier-pigeon"))
}

func TestLoggerWritesMergedFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := newOtelLogger(zap.New(core), lognoop.NewLoggerProvider().Logger("test"), "taskworker")

	ctx := observability.WithFields(context.Background(), observability.String("session_id", "s-1"))
	logger.With(observability.String("queue", "orders")).
		Error(ctx, "permanent failure", observability.Error(errors.New("boom")), observability.Int("attempt", 3))

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "permanent failure", entries[0].Message)
	assert.Equal(t, zapcore.ErrorLevel, entries[0].Level)

	fields := entries[0].ContextMap()
	assert.Equal(t, "orders", fields["queue"])
	assert.Equal(t, "s-1", fields["session_id"])
	assert.Equal(t, "boom", fields["error"])
	assert.Equal(t, int64(3), fields["attempt"])
	assert.Equal(t, "taskworker", fields["service"])
}

func TestLoggerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := newOtelLogger(
		newZapLogger(observability.LogLevelWarn, observability.LogFormatJSON, &buf),
		lognoop.NewLoggerProvider().Logger("test"),
		"taskworker",
	)

	logger.Info(context.Background(), "hidden")
	logger.Warn(context.Background(), "shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"message":"shown"`)
}

func TestTracerRecordsSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	tracer := newOtelTracer(tp.Tracer("test"))

	ctx, span := tracer.Start(context.Background(), "rabbitmq.consume",
		observability.WithSpanKind(observability.SpanKindConsumer),
		observability.WithAttributes(observability.String("queue", "orders")),
	)
	span.RecordError(errors.New("boom"))
	span.SetStatus(observability.StatusCodeError, "boom")
	span.End()

	assert.Equal(t, span.Context().TraceID(), tracer.SpanFromContext(ctx).Context().TraceID())

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "rabbitmq.consume", ended[0].Name())
	assert.Equal(t, "Error", ended[0].Status().Code.String())
	assert.Len(t, ended[0].Events(), 1)
}

func TestMetricsReuseInstruments(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	metrics := newOtelMetrics(mp.Meter("test"))
	ctx := context.Background()

	metrics.Counter("acks", "acks", "1").Increment(ctx, observability.String("queue", "orders"))
	metrics.Counter("acks", "acks", "1").Add(ctx, 2, observability.String("queue", "orders"))
	require.NoError(t, metrics.Gauge("state", "state", "1", func(context.Context) float64 { return 2 }))

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	require.Len(t, rm.ScopeMetrics, 1)

	byName := map[string]metricdata.Metrics{}
	for _, m := range rm.ScopeMetrics[0].Metrics {
		byName[m.Name] = m
	}

	sum, ok := byName["acks"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, sum.DataPoints, 1)
	assert.Equal(t, int64(3), sum.DataPoints[0].Value)

	gauge, ok := byName["state"].Data.(metricdata.Gauge[float64])
	require.True(t, ok)
	assert.Equal(t, 2.0, gauge.DataPoints[0].Value)
}
