package socketio

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// Transport names accepted in a preference list.
const (
	TransportPolling   = "polling"
	TransportWebSocket = "websocket"
)

// DefaultPath is where Socket.IO servers mount by default.
const DefaultPath = "/socket.io/"

// Transport moves raw Engine.IO packets.
type Transport interface {
	Name() string
	// Send writes packets in order.
	Send(ctx context.Context, packets ...string) error
	// Recv blocks until at least one packet arrives.
	Recv(ctx context.Context) ([]string, error)
	Close() error
}

// ValidTransport reports whether name is a known transport.
func ValidTransport(name string) bool {
	return name == TransportPolling || name == TransportWebSocket
}

func dialTransport(ctx context.Context, name string, base *url.URL, opts Options) (Transport, error) {
	switch name {
	case TransportWebSocket:
		return dialWebSocket(ctx, endpoint(base, opts.Path, TransportWebSocket, ""), opts.HTTPClient)
	case TransportPolling:
		return newPolling(base, opts.Path, opts.HTTPClient), nil
	default:
		return nil, fmt.Errorf("unknown transport %q", name)
	}
}

// endpoint builds the Engine.IO URL for a transport.
func endpoint(base *url.URL, path, transport, sid string) string {
	u := *base
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/" + strings.Trim(path, "/") + "/"

	q := url.Values{}
	q.Set("EIO", "4")
	q.Set("transport", transport)
	if sid != "" {
		q.Set("sid", sid)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func httpClient(c *http.Client) *http.Client {
	if c != nil {
		return c
	}
	return http.DefaultClient
}
