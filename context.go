package authfetch

import "context"

type requestIDContextKey struct{}

// WithRequestID attaches a correlation ID to ctx. Client.Do sends it as
// X-Request-ID on the original send and on the resend, and tags logs,
// events, and the SessionExpiredError with it. Without one, Do generates a
// UUID per request chain.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDContextKey{}, id)
}

func requestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	id, _ := ctx.Value(requestIDContextKey{}).(string)
	return id
}
