package accountcore

import (
	"context"

	"github.com/MrEthical07/accountcore/internal/sessions"
)

type clientMetaKey struct{}

// WithClientIP attaches the caller's IP address to ctx. The Engine records
// it on sessions and activity items and throttles signup and login per IP.
func WithClientIP(ctx context.Context, ip string) context.Context {
	m := requestMeta(ctx)
	m.IP = ip
	return context.WithValue(ctx, clientMetaKey{}, m)
}

// WithUserAgent attaches the HTTP User-Agent string to ctx.
func WithUserAgent(ctx context.Context, userAgent string) context.Context {
	m := requestMeta(ctx)
	m.UserAgent = userAgent
	return context.WithValue(ctx, clientMetaKey{}, m)
}

// requestMeta returns whatever client details the caller attached.
func requestMeta(ctx context.Context) sessions.Meta {
	if ctx == nil {
		return sessions.Meta{}
	}
	m, _ := ctx.Value(clientMetaKey{}).(sessions.Meta)
	return m
}

func clientIPFromContext(ctx context.Context) string {
	return requestMeta(ctx).IP
}
