package socketio

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	ErrClosed      = errors.New("socketio: connection closed")
	ErrBufferFull  = errors.New("socketio: send buffer full")
	ErrNoTransport = errors.New("socketio: no transport could connect")
	ErrRejected    = errors.New("socketio: namespace connect rejected")
)

const (
	sendBuffer   = 64
	eventBuffer  = 64
	writeTimeout = 10 * time.Second
)

type Options struct {
	// Transports are tried in order; the first that completes the handshake
	// is used. Empty means websocket only.
	Transports []string
	Path       string
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Conn is one established Socket.IO connection. Events arrive on Events()
// in server order; the channel closes when the connection ends.
type Conn struct {
	t   Transport
	hs  Handshake
	log *zap.Logger

	events chan Event
	out    chan string

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group

	closeOnce sync.Once
	closeErr  error
}

// Dial connects to the Socket.IO server at rawURL using the first transport
// in opts.Transports that succeeds.
func Dial(ctx context.Context, rawURL string, opts Options) (*Conn, error) {
	base, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	if opts.Path == "" {
		opts.Path = DefaultPath
	}
	if len(opts.Transports) == 0 {
		opts.Transports = []string{TransportWebSocket}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	var errs error
	for _, name := range opts.Transports {
		t, err := dialTransport(ctx, name, base, opts)
		if err != nil {
			opts.Logger.Debug("transport failed", zap.String("transport", name), zap.Error(err))
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}

		c, err := open(ctx, t, opts.Logger.With(zap.String("transport", name)))
		if err != nil {
			_ = t.Close()
			opts.Logger.Debug("handshake failed", zap.String("transport", name), zap.Error(err))
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		return c, nil
	}
	return nil, fmt.Errorf("%w: %w", ErrNoTransport, errs)
}

// open performs the Engine.IO + Socket.IO handshake over t and starts the
// read and write loops.
func open(ctx context.Context, t Transport, log *zap.Logger) (*Conn, error) {
	var (
		hs      Handshake
		opened  bool
		pending []string
	)

	// Engine.IO open.
	for !opened {
		packets, err := t.Recv(ctx)
		if err != nil {
			return nil, fmt.Errorf("await open: %w", err)
		}
		for i, p := range packets {
			if !opened {
				if p == "" || p[0] != eioOpen {
					continue
				}
				if hs, err = decodeHandshake(p[1:]); err != nil {
					return nil, err
				}
				opened = true
				continue
			}
			pending = append(pending, packets[i])
		}
	}

	// Socket.IO connect to the default namespace.
	if err := t.Send(ctx, string([]byte{eioMessage, sioConnect})); err != nil {
		return nil, fmt.Errorf("send connect: %w", err)
	}

	var early []string
	for connected := false; !connected; {
		if len(pending) == 0 {
			packets, err := t.Recv(ctx)
			if err != nil {
				return nil, fmt.Errorf("await connect: %w", err)
			}
			pending = packets
		}
		p := pending[0]
		pending = pending[1:]

		switch {
		case len(p) >= 2 && p[0] == eioMessage && p[1] == sioConnect:
			connected = true
		case len(p) >= 2 && p[0] == eioMessage && p[1] == sioConnectError:
			return nil, fmt.Errorf("%w: %s", ErrRejected, p[2:])
		case p == string(eioPing):
			if err := t.Send(ctx, string(eioPong)); err != nil {
				return nil, fmt.Errorf("send pong: %w", err)
			}
		case p == string(eioClose):
			return nil, ErrClosed
		default:
			early = append(early, p)
		}
	}
	early = append(early, pending...)

	cctx, cancel := context.WithCancel(context.Background())
	group, gctx := errgroup.WithContext(cctx)
	c := &Conn{
		t:      t,
		hs:     hs,
		log:    log.With(zap.String("sid", hs.SID)),
		events: make(chan Event, eventBuffer),
		out:    make(chan string, sendBuffer),
		ctx:    gctx,
		cancel: cancel,
		group:  group,
	}

	group.Go(func() error { return c.readLoop(early) })
	group.Go(c.writeLoop)

	c.log.Debug("connected", zap.Int("ping_interval_ms", hs.PingInterval))
	return c, nil
}

// Handshake returns the server's open parameters.
func (c *Conn) Handshake() Handshake { return c.hs }

// Transport names the transport in use.
func (c *Conn) Transport() string { return c.t.Name() }

func (c *Conn) Events() <-chan Event { return c.events }

// Done is closed once the connection stops, for any reason.
func (c *Conn) Done() <-chan struct{} { return c.ctx.Done() }

// Emit queues an event for sending. It never blocks: a full queue or a dead
// connection is reported and the event is dropped.
func (c *Conn) Emit(event string, payload any) error {
	packet, err := EncodeEvent(event, payload)
	if err != nil {
		return err
	}
	return c.enqueue(packet)
}

func (c *Conn) enqueue(packet string) error {
	if c.ctx.Err() != nil {
		return ErrClosed
	}
	select {
	case c.out <- packet:
		return nil
	default:
		return ErrBufferFull
	}
}

// Close stops both loops and closes the transport. It is safe to call more
// than once.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		failed := c.ctx.Err() != nil
		err := c.t.Close()
		c.cancel()
		werr := c.group.Wait()
		if failed && werr != nil && !errors.Is(werr, ErrClosed) && !errors.Is(werr, context.Canceled) {
			err = multierr.Append(err, werr)
		}
		c.closeErr = err
	})
	return c.closeErr
}

func (c *Conn) readTimeout() time.Duration {
	if c.hs.PingInterval <= 0 {
		return time.Minute
	}
	return time.Duration(c.hs.PingInterval+c.hs.PingTimeout) * time.Millisecond
}

func (c *Conn) readLoop(early []string) error {
	defer close(c.events)

	for _, p := range early {
		if err := c.handle(p); err != nil {
			return err
		}
	}

	for {
		ctx, cancel := context.WithTimeout(c.ctx, c.readTimeout())
		packets, err := c.t.Recv(ctx)
		cancel()
		if err != nil {
			if c.ctx.Err() == nil {
				c.log.Info("read failed", zap.Error(err))
			}
			return err
		}
		for _, p := range packets {
			if err := c.handle(p); err != nil {
				return err
			}
		}
	}
}

func (c *Conn) handle(p string) error {
	if p == "" {
		return nil
	}
	switch p[0] {
	case eioPing:
		if err := c.enqueue(string(eioPong)); err != nil {
			c.log.Debug("pong not queued", zap.Error(err))
		}
	case eioPong, eioNoop:
	case eioClose:
		c.log.Info("server closed connection")
		return ErrClosed
	case eioMessage:
		return c.handleSocket(p[1:])
	default:
		c.log.Debug("ignoring packet", zap.String("packet", p))
	}
	return nil
}

func (c *Conn) handleSocket(s string) error {
	sp, err := parseSocketPacket(s)
	if err != nil {
		c.log.Debug("bad socket packet", zap.Error(err))
		return nil
	}
	if sp.namespace != "/" {
		return nil
	}

	switch sp.typ {
	case sioEvent:
		ev, err := decodeEvent(sp.payload)
		if err != nil {
			c.log.Debug("bad event", zap.Error(err))
			return nil
		}
		select {
		case c.events <- ev:
		case <-c.ctx.Done():
			return c.ctx.Err()
		}
	case sioDisconnect:
		c.log.Info("server disconnected namespace")
		return ErrClosed
	default:
		c.log.Debug("ignoring socket packet", zap.String("type", string(sp.typ)))
	}
	return nil
}

func (c *Conn) writeLoop() error {
	for {
		select {
		case <-c.ctx.Done():
			return nil
		case p := <-c.out:
			ctx, cancel := context.WithTimeout(c.ctx, writeTimeout)
			err := c.t.Send(ctx, p)
			cancel()
			if err != nil {
				if c.ctx.Err() == nil {
					c.log.Info("write failed", zap.Error(err))
				}
				return err
			}
		}
	}
}
