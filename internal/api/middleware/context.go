package middleware

import (
	"context"
	"net"
	"net/http"
)

type contextKey string

const clientKey contextKey = "client"

func setClient(ctx context.Context, client string) context.Context {
	return context.WithValue(ctx, clientKey, client)
}

// GetClient returns the client identity set by Authenticate.
func GetClient(r *http.Request) (string, bool) {
	client, ok := r.Context().Value(clientKey).(string)
	return client, ok
}

// clientAddr is the host part of RemoteAddr. The router runs chi's RealIP
// first, so proxies' X-Forwarded-For is already applied.
func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
