// Package ws serves the game over Socket.IO on a websocket. It is the
// development counterpart of the hosted game server.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/DoyleJ11/storycards/internal/hub"
	"github.com/DoyleJ11/storycards/internal/lobby"
	"github.com/DoyleJ11/storycards/internal/socketio"
	"github.com/DoyleJ11/storycards/pkg/types"
	"github.com/coder/websocket"
	"go.uber.org/zap"
)

const (
	pingInterval = 25 * time.Second
	pingTimeout  = 20 * time.Second
	writeTimeout = 3 * time.Second
	outboxSize   = 16
)

type Options struct {
	Logger       *zap.Logger
	PingInterval time.Duration
	PingTimeout  time.Duration
}

func Handler(h *hub.Hub, opts Options) http.HandlerFunc {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = pingInterval
	}
	if opts.PingTimeout <= 0 {
		opts.PingTimeout = pingTimeout
	}

	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("transport") != socketio.TransportWebSocket {
			// Only websocket is served; polling clients fall through to it.
			http.Error(w, "transport unknown", http.StatusBadRequest)
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true, // dev server, any origin
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		c := &client{
			id:   randID(12),
			conn: conn,
			hub:  h,
			opts: opts,
			log:  opts.Logger.With(zap.String("component", "ws")),
		}
		c.log = c.log.With(zap.String("client_id", c.id))
		c.serve(r.Context())
	}
}

type client struct {
	id   string
	conn *websocket.Conn
	hub  *hub.Hub
	opts Options
	log  *zap.Logger

	lb  *lobby.Lobby
	out chan lobby.Outbound
}

func (c *client) serve(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	if err := c.handshake(ctx); err != nil {
		c.log.Debug("handshake failed", zap.Error(err))
		return
	}

	c.out = make(chan lobby.Outbound, outboxSize)
	writes := make(chan string, outboxSize)

	// Writer goroutine
	go func() {
		defer cancel()
		ping := time.NewTicker(c.opts.PingInterval)
		defer ping.Stop()
		for {
			var packet string
			select {
			case <-ctx.Done():
				return
			case <-ping.C:
				packet = "2"
			case p := <-writes:
				packet = p
			case o, ok := <-c.out:
				if !ok {
					// Lobby dropped or stopped us.
					return
				}
				var err error
				if packet, err = socketio.EncodeEvent(o.Event, o.Payload); err != nil {
					c.log.Warn("encode failed", zap.Error(err))
					continue
				}
			}
			if err := c.write(ctx, packet); err != nil {
				return
			}
		}
	}()

	defer func() {
		if c.lb != nil {
			c.lb.Send(lobby.Leave{ClientID: c.id})
		}
	}()

	// Reader loop
	for {
		rctx, rcancel := context.WithTimeout(ctx, c.opts.PingInterval+c.opts.PingTimeout)
		_, data, err := c.conn.Read(rctx)
		rcancel()
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			default:
				if ctx.Err() == nil {
					c.log.Debug("read failed", zap.Error(err))
				}
			}
			return
		}

		p := string(data)
		switch {
		case p == "3", p == "6":
		case p == "2":
			select {
			case writes <- "3":
			default:
			}
		case p == "1", p == "41":
			return
		case len(p) >= 2 && p[:2] == "42":
			c.handleEvent(ctx, p)
		default:
			c.log.Debug("ignoring packet", zap.String("packet", p))
		}
	}
}

func (c *client) handshake(ctx context.Context) error {
	open, err := socketio.EncodeOpen(socketio.Handshake{
		SID:          c.id,
		Upgrades:     []string{},
		PingInterval: int(c.opts.PingInterval / time.Millisecond),
		PingTimeout:  int(c.opts.PingTimeout / time.Millisecond),
		MaxPayload:   1 << 20,
	})
	if err != nil {
		return err
	}
	if err := c.write(ctx, open); err != nil {
		return err
	}

	rctx, cancel := context.WithTimeout(ctx, c.opts.PingTimeout)
	defer cancel()
	_, data, err := c.conn.Read(rctx)
	if err != nil {
		return err
	}
	if string(data) != "40" && string(data) != "40/," {
		_ = c.write(ctx, `44{"message":"Invalid namespace"}`)
		return errors.New("unexpected connect packet")
	}
	reply, _ := json.Marshal(map[string]string{"sid": c.id})
	return c.write(ctx, "40"+string(reply))
}

func (c *client) write(ctx context.Context, packet string) error {
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return c.conn.Write(wctx, websocket.MessageText, []byte(packet))
}

func (c *client) handleEvent(ctx context.Context, packet string) {
	ev, err := socketio.DecodeEvent(packet)
	if err != nil {
		c.log.Debug("bad event", zap.Error(err))
		return
	}

	switch ev.Name {
	case types.EventJoinRoom:
		var req types.JoinRoom
		if err := json.Unmarshal(ev.Data, &req); err != nil || req.RoomID == "" || req.ID == "" {
			c.log.Debug("bad join", zap.Error(err))
			return
		}
		if c.lb != nil && c.lb.Code() != req.RoomID {
			c.log.Debug("ignoring join for another room", zap.String("room", req.RoomID))
			return
		}
		if c.lb == nil {
			reply := make(chan *lobby.Lobby, 1)
			select {
			case c.hub.Inbox() <- hub.EnsureLobby{Code: req.RoomID, Reply: reply}:
			case <-ctx.Done():
				return
			case <-c.hub.Done():
				return
			}
			// The hub may stop after queueing our request without answering it.
			select {
			case c.lb = <-reply:
			case <-ctx.Done():
				return
			case <-c.hub.Done():
				return
			}
		}
		if ctx.Err() != nil {
			return // outbox may already be closed
		}
		c.lb.Send(lobby.Join{ClientID: c.id, Request: req, Outbox: c.out})

	case types.EventMove:
		if c.lb == nil {
			return
		}
		var mv types.Move
		if err := json.Unmarshal(ev.Data, &mv); err != nil {
			c.log.Debug("bad move", zap.Error(err))
			return
		}
		c.lb.Send(lobby.FromClient{ClientID: c.id, Move: mv})

	default:
		c.log.Debug("unknown event", zap.String("event", ev.Name))
	}
}

func randID(length int) string {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	b := make([]byte, length)
	for i := range b {
		b[i] = charset[rand.IntN(len(charset))]
	}
	return string(b)
}
