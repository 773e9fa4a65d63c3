package auth

import "context"

type contextKey int

const userInfoKey contextKey = iota

// WithUserInfo returns a context carrying the signed-in user.
func WithUserInfo(ctx context.Context, u *UserInfo) context.Context {
	return context.WithValue(ctx, userInfoKey, u)
}

// UserInfoFromContext returns the user attached by WithUserInfo, or nil.
func UserInfoFromContext(ctx context.Context) *UserInfo {
	u, _ := ctx.Value(userInfoKey).(*UserInfo)
	return u
}
