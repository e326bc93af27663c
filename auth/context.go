package auth

import "context"

type userInfoKey struct{}

// WithUserInfo stores an authenticated principal in the context. A nil ui
// returns ctx unchanged.
func WithUserInfo(ctx context.Context, ui UserInfo) context.Context {
	if ui == nil {
		return ctx
	}
	return context.WithValue(ctx, userInfoKey{}, ui)
}

// UserInfoFromContext returns the principal stored by WithUserInfo.
func UserInfoFromContext(ctx context.Context) (UserInfo, bool) {
	ui, ok := ctx.Value(userInfoKey{}).(UserInfo)
	return ui, ok
}
