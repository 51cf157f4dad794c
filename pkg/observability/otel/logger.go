package otel

import (
	"context"
	"io"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/JailtonJunior94/mqconsumer/pkg/observability"
)

type otelLogger struct {
	zap         *zap.Logger
	otelLog     otellog.Logger
	serviceName string
	fields      []observability.Field
}

func newOtelLogger(z *zap.Logger, otelLog otellog.Logger, serviceName string) *otelLogger {
	return &otelLogger{zap: z, otelLog: otelLog, serviceName: serviceName}
}

func newZapLogger(level observability.LogLevel, format observability.LogFormat, out io.Writer) *zap.Logger {
	var encoder zapcore.Encoder
	if format == observability.LogFormatText {
		cfg := zap.NewDevelopmentEncoderConfig()
		cfg.EncodeTime = zapcore.ISO8601TimeEncoder
		encoder = zapcore.NewConsoleEncoder(cfg)
	} else {
		cfg := zap.NewProductionEncoderConfig()
		cfg.EncodeTime = zapcore.ISO8601TimeEncoder
		cfg.MessageKey = "message"
		encoder = zapcore.NewJSONEncoder(cfg)
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(out), zap.NewAtomicLevelAt(zapLevel(level)))
	return zap.New(core)
}

func zapLevel(level observability.LogLevel) zapcore.Level {
	switch level {
	case observability.LogLevelDebug:
		return zapcore.DebugLevel
	case observability.LogLevelWarn:
		return zapcore.WarnLevel
	case observability.LogLevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func severity(level zapcore.Level) otellog.Severity {
	switch level {
	case zapcore.DebugLevel:
		return otellog.SeverityDebug
	case zapcore.WarnLevel:
		return otellog.SeverityWarn
	case zapcore.ErrorLevel:
		return otellog.SeverityError
	default:
		return otellog.SeverityInfo
	}
}

func (l *otelLogger) Debug(ctx context.Context, msg string, fields ...observability.Field) {
	l.log(ctx, zapcore.DebugLevel, msg, fields)
}

func (l *otelLogger) Info(ctx context.Context, msg string, fields ...observability.Field) {
	l.log(ctx, zapcore.InfoLevel, msg, fields)
}

func (l *otelLogger) Warn(ctx context.Context, msg string, fields ...observability.Field) {
	l.log(ctx, zapcore.WarnLevel, msg, fields)
}

func (l *otelLogger) Error(ctx context.Context, msg string, fields ...observability.Field) {
	l.log(ctx, zapcore.ErrorLevel, msg, fields)
}

func (l *otelLogger) With(fields ...observability.Field) observability.Logger {
	return &otelLogger{
		zap:         l.zap,
		otelLog:     l.otelLog,
		serviceName: l.serviceName,
		fields:      observability.Merge(l.fields, fields...),
	}
}

// log writes one record to zap and the same record to the OTel pipeline.
// Field order is logger fields, context fields, call-site fields, then the
// trace ids of the active span.
func (l *otelLogger) log(ctx context.Context, level zapcore.Level, msg string, fields []observability.Field) {
	if !l.zap.Core().Enabled(level) {
		return
	}

	all := observability.Merge(l.fields, observability.FieldsFromContext(ctx)...)
	all = append(all, fields...)
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		all = append(all,
			observability.String("trace_id", sc.TraceID().String()),
			observability.String("span_id", sc.SpanID().String()),
		)
	}
	all = append(all, observability.String("service", l.serviceName))

	if ce := l.zap.Check(level, msg); ce != nil {
		ce.Write(toZapFields(all)...)
	}

	var record otellog.Record
	record.SetTimestamp(time.Now())
	record.SetBody(otellog.StringValue(msg))
	record.SetSeverity(severity(level))
	record.SetSeverityText(level.String())
	record.AddAttributes(toLogAttributes(all)...)
	l.otelLog.Emit(ctx, record)
}
