package socketio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

var errNoSession = errors.New("polling: no session id yet")

// pollingTransport is Engine.IO HTTP long-polling: each GET returns queued
// packets, each POST delivers ours.
type pollingTransport struct {
	client *http.Client
	base   *url.URL
	path   string

	mu  sync.Mutex
	sid string
}

func newPolling(base *url.URL, path string, client *http.Client) *pollingTransport {
	return &pollingTransport{client: httpClient(client), base: base, path: path}
}

func (t *pollingTransport) Name() string { return TransportPolling }

func (t *pollingTransport) session() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sid
}

func (t *pollingTransport) Recv(ctx context.Context) ([]string, error) {
	sid := t.session()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint(t.base, t.path, TransportPolling, sid), nil)
	if err != nil {
		return nil, err
	}
	body, err := t.do(req)
	if err != nil {
		return nil, err
	}

	packets := splitPayload(body)
	if sid == "" {
		// The first poll is the handshake.
		if len(packets) == 0 || packets[0] == "" || packets[0][0] != eioOpen {
			return nil, fmt.Errorf("%w: expected open packet, got %q", ErrMalformedPacket, body)
		}
		hs, err := decodeHandshake(packets[0][1:])
		if err != nil {
			return nil, err
		}
		t.mu.Lock()
		t.sid = hs.SID
		t.mu.Unlock()
	}
	return packets, nil
}

func (t *pollingTransport) Send(ctx context.Context, packets ...string) error {
	sid := t.session()
	if sid == "" {
		return errNoSession
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		endpoint(t.base, t.path, TransportPolling, sid),
		strings.NewReader(strings.Join(packets, recordSeparator)))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "text/plain;charset=UTF-8")
	_, err = t.do(req)
	return err
}

// Close tells the server we are leaving. Polling holds no socket, so failure
// to deliver is harmless.
func (t *pollingTransport) Close() error {
	if t.session() == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = t.Send(ctx, string(eioClose))
	return nil
}

func (t *pollingTransport) do(req *http.Request) (string, error) {
	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("polling %s: %w", req.Method, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("polling %s: read body: %w", req.Method, err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("polling %s: status %d: %s", req.Method, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return string(data), nil
}
