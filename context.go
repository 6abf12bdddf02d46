package authcore

import (
	"context"

	"github.com/MrEthical07/authcore/session"
)

type clientIPContextKey struct{}
type userAgentContextKey struct{}
type locationContextKey struct{}

// WithClientIP attaches the caller's IP address to ctx. It feeds the login
// throttle, audit events and the device fingerprint.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPContextKey{}, ip)
}

// WithUserAgent attaches the User-Agent string to ctx for device
// fingerprinting.
func WithUserAgent(ctx context.Context, userAgent string) context.Context {
	return context.WithValue(ctx, userAgentContextKey{}, userAgent)
}

// WithLocation attaches an approximate location name resolved by the
// transport, shown in session listings.
func WithLocation(ctx context.Context, location string) context.Context {
	return context.WithValue(ctx, locationContextKey{}, location)
}

// ClientIPFromContext returns the IP set by WithClientIP, or "".
func ClientIPFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	ip, _ := ctx.Value(clientIPContextKey{}).(string)
	return ip
}

func metadataFromContext(ctx context.Context) session.Metadata {
	if ctx == nil {
		return session.Metadata{}
	}
	ua := UserAgentFromContext(ctx)
	loc, _ := ctx.Value(locationContextKey{}).(string)
	return session.Metadata{
		ClientIP:  ClientIPFromContext(ctx),
		UserAgent: ua,
		Location:  loc,
	}
}

// UserAgentFromContext returns the value set by WithUserAgent, or "".
func UserAgentFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	ua, _ := ctx.Value(userAgentContextKey{}).(string)
	return ua
}
