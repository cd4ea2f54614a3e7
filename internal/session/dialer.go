package session

import (
	"context"

	"github.com/DoyleJ11/storycards/internal/socketio"
)

// Channel is one open bidirectional connection to the game server.
type Channel interface {
	Emit(event string, payload any) error
	// Events closes when the connection ends.
	Events() <-chan socketio.Event
	Transport() string
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context) (Channel, error)
}

type DialerFunc func(ctx context.Context) (Channel, error)

func (f DialerFunc) Dial(ctx context.Context) (Channel, error) { return f(ctx) }

// SocketIODialer dials serverURL with socketio.Dial on every call.
func SocketIODialer(serverURL string, opts socketio.Options) Dialer {
	return DialerFunc(func(ctx context.Context) (Channel, error) {
		c, err := socketio.Dial(ctx, serverURL, opts)
		if err != nil {
			return nil, err
		}
		return c, nil
	})
}
