package socketio

import (
	"context"
	"fmt"
	"net/http"

	"github.com/coder/websocket"
)

type wsTransport struct {
	conn *websocket.Conn
}

func dialWebSocket(ctx context.Context, u string, client *http.Client) (*wsTransport, error) {
	conn, _, err := websocket.Dial(ctx, u, &websocket.DialOptions{
		HTTPClient: httpClient(client),
	})
	if err != nil {
		return nil, fmt.Errorf("dial websocket: %w", err)
	}
	// Full snapshots outgrow the library's 32KiB default.
	conn.SetReadLimit(1 << 20)
	return &wsTransport{conn: conn}, nil
}

func (t *wsTransport) Name() string { return TransportWebSocket }

func (t *wsTransport) Send(ctx context.Context, packets ...string) error {
	for _, p := range packets {
		if err := t.conn.Write(ctx, websocket.MessageText, []byte(p)); err != nil {
			return err
		}
	}
	return nil
}

func (t *wsTransport) Recv(ctx context.Context) ([]string, error) {
	for {
		typ, data, err := t.conn.Read(ctx)
		if err != nil {
			return nil, err
		}
		if typ != websocket.MessageText {
			continue // binary attachments are not used by the game
		}
		return []string{string(data)}, nil
	}
}

func (t *wsTransport) Close() error {
	return t.conn.Close(websocket.StatusNormalClosure, "bye")
}
