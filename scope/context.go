package scope

import "context"

type effectiveKey struct{}

// WithEffective records the configuration resolved for the current request
// so later stages see the same snapshot.
func WithEffective(ctx context.Context, e Effective) context.Context {
	return context.WithValue(ctx, effectiveKey{}, e)
}

// EffectiveFromContext returns the snapshot stored by WithEffective.
func EffectiveFromContext(ctx context.Context) (Effective, bool) {
	e, ok := ctx.Value(effectiveKey{}).(Effective)
	return e, ok
}
