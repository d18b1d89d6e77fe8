package accountflow

import "context"

type clientIPContextKey struct{}

// WithClientIP attaches the end user's IP address to ctx. The flow engine
// records it on audit events; implementations of [IdentityClient] may
// forward it to the Identity Store.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPContextKey{}, ip)
}

func clientIPFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	ip, _ := ctx.Value(clientIPContextKey{}).(string)
	return ip
}
