package guestagent

import (
	"context"
	"net/http"
)

type httpClientKey struct{}

func withHTTPClient(ctx context.Context, client *http.Client) context.Context {
	return context.WithValue(ctx, httpClientKey{}, client)
}

// ClientFromContext returns the network-policy-enforcing HTTP client bound
// to the call, for handlers that make outbound requests. Falls back to
// http.DefaultClient if called outside an Executor-dispatched invocation.
func ClientFromContext(ctx context.Context) *http.Client {
	if c, ok := ctx.Value(httpClientKey{}).(*http.Client); ok && c != nil {
		return c
	}
	return http.DefaultClient
}
