package otel

import (
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	otellog "go.opentelemetry.io/otel/log"
	"go.uber.org/zap"

	"github.com/JailtonJunior94/mqconsumer/pkg/observability"
)

func toAttribute(field observability.Field) attribute.KeyValue {
	switch v := field.Value.(type) {
	case string:
		return attribute.String(field.Key, v)
	case int:
		return attribute.Int(field.Key, v)
	case int64:
		return attribute.Int64(field.Key, v)
	case float64:
		return attribute.Float64(field.Key, v)
	case bool:
		return attribute.Bool(field.Key, v)
	case time.Duration:
		return attribute.String(field.Key, v.String())
	case error:
		return attribute.String(field.Key, v.Error())
	default:
		return attribute.String(field.Key, fmt.Sprintf("%v", v))
	}
}

// toAttributes returns nil for no fields so callers can skip the option.
func toAttributes(fields []observability.Field) []attribute.KeyValue {
	if len(fields) == 0 {
		return nil
	}
	attrs := make([]attribute.KeyValue, len(fields))
	for i, field := range fields {
		attrs[i] = toAttribute(field)
	}
	return attrs
}

func toLogAttributes(fields []observability.Field) []otellog.KeyValue {
	out := make([]otellog.KeyValue, 0, len(fields))
	for _, field := range fields {
		switch v := field.Value.(type) {
		case string:
			out = append(out, otellog.String(field.Key, v))
		case int:
			out = append(out, otellog.Int(field.Key, v))
		case int64:
			out = append(out, otellog.Int64(field.Key, v))
		case float64:
			out = append(out, otellog.Float64(field.Key, v))
		case bool:
			out = append(out, otellog.Bool(field.Key, v))
		case time.Duration:
			out = append(out, otellog.String(field.Key, v.String()))
		case error:
			out = append(out, otellog.String(field.Key, v.Error()))
		default:
			out = append(out, otellog.String(field.Key, fmt.Sprint(v)))
		}
	}
	return out
}

func toZapFields(fields []observability.Field) []zap.Field {
	out := make([]zap.Field, 0, len(fields))
	for _, field := range fields {
		switch v := field.Value.(type) {
		case string:
			out = append(out, zap.String(field.Key, v))
		case int:
			out = append(out, zap.Int(field.Key, v))
		case int64:
			out = append(out, zap.Int64(field.Key, v))
		case float64:
			out = append(out, zap.Float64(field.Key, v))
		case bool:
			out = append(out, zap.Bool(field.Key, v))
		case time.Duration:
			out = append(out, zap.Duration(field.Key, v))
		case error:
			out = append(out, zap.NamedError(field.Key, v))
		default:
			out = append(out, zap.Any(field.Key, v))
		}
	}
	return out
}
