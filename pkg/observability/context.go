package observability

import "context"

type fieldsKey struct{}

// WithFields binds fields to ctx. Every record logged with the returned
// context (or a context derived from it) carries them. Binding the same key
// again shadows the earlier value.
func WithFields(ctx context.Context, fields ...Field) context.Context {
	if len(fields) == 0 {
		return ctx
	}
	return context.WithValue(ctx, fieldsKey{}, Merge(FieldsFromContext(ctx), fields...))
}

// FieldsFromContext returns the fields bound to ctx, oldest first, with
// shadowed keys removed.
func FieldsFromContext(ctx context.Context) []Field {
	if ctx == nil {
		return nil
	}
	bound, _ := ctx.Value(fieldsKey{}).([]Field)
	if len(bound) == 0 {
		return nil
	}

	last := make(map[string]int, len(bound))
	for i, f := range bound {
		last[f.Key] = i
	}
	out := make([]Field, 0, len(last))
	for i, f := range bound {
		if last[f.Key] == i {
			out = append(out, f)
		}
	}
	return out
}
