package auth

import (
	"context"
	"net/http"

	"google.golang.org/grpc/metadata"
)

const (
	HeaderServiceName = "X-Service-Name"
	HeaderUserID      = "X-User-ID"
)

type ctxKey int

const callerKey ctxKey = iota

// Caller identifies the internal service (and optionally the user) behind a request.
type Caller struct {
	ServiceName string
	UserID      string
}

func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerKey, c)
}

// GetCaller reads the caller placed by Middleware, falling back to gRPC metadata.
func GetCaller(ctx context.Context) Caller {
	if c, ok := ctx.Value(callerKey).(Caller); ok {
		return c
	}

	var c Caller
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if val := md.Get("x-service-name"); len(val) > 0 {
			c.ServiceName = val[0]
		}
		if val := md.Get("x-user-id"); len(val) > 0 {
			c.UserID = val[0]
		}
	}
	return c
}

func GetServiceName(ctx context.Context) string {
	return GetCaller(ctx).ServiceName
}

func GetUserID(ctx context.Context) string {
	return GetCaller(ctx).UserID
}

// Middleware copies the caller headers into the request context.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c := Caller{
			ServiceName: r.Header.Get(HeaderServiceName),
			UserID:      r.Header.Get(HeaderUserID),
		}
		next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), c)))
	})
}
