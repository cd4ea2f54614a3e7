// Package session owns one game connection: it dials the server, replays the
// room join on every (re)connect, watches liveness, projects snapshots and
// sends player intents. All of that runs on a single goroutine, so handlers
// never interleave.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/DoyleJ11/storycards/internal/projector"
	"github.com/DoyleJ11/storycards/internal/socketio"
	"github.com/DoyleJ11/storycards/pkg/types"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

var (
	ErrDisposed         = errors.New("session disposed")
	ErrAlreadyConnected = errors.New("session already connected")
)

const (
	DefaultStaleAfter = 5 * time.Second
	DefaultCheckEvery = time.Second
)

// IdentityProvider hands out the stable player id.
type IdentityProvider interface {
	GetOrCreatePlayerID(ctx context.Context) string
}

// Update is published after anything observable changed. Each update
// carries the full state, so a subscriber that missed some loses nothing.
type Update struct {
	State     projector.State
	Changed   projector.Change
	Conn      ConnectionState
	Rejection error // set when an intent was refused locally
}

type Option func(*Session)

func WithLogger(l *zap.Logger) Option { return func(s *Session) { s.log = l } }

func WithClock(c Clock) Option { return func(s *Session) { s.clock = c } }

// WithStaleAfter sets how long without a pulse or snapshot before the
// connection is replaced.
func WithStaleAfter(d time.Duration) Option { return func(s *Session) { s.staleAfter = d } }

// WithCheckEvery sets the liveness check period.
func WithCheckEvery(d time.Duration) Option { return func(s *Session) { s.checkEvery = d } }

// WithStrictGating makes Emit enforce the whole stage/role matrix instead
// of only the storyteller check.
func WithStrictGating(on bool) Option { return func(s *Session) { s.strict = on } }

type dialResult struct {
	gen uint64
	ch  Channel
	err error
}

type op struct {
	fn    func() error
	reply chan error
}

type Session struct {
	dialer Dialer
	ids    IdentityProvider
	params Params

	log        *zap.Logger
	clock      Clock
	staleAfter time.Duration
	checkEvery time.Duration
	strict     bool

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	ops    chan op
	dialed chan dialResult
	dials  sync.WaitGroup
	bcast  *broadcaster

	disposeOnce sync.Once

	// guarded by mu; read from any goroutine
	mu       sync.Mutex
	started  bool
	disposed bool
	status   ConnectionState
	view     projector.State
	closeErr error

	// owned by the loop goroutine
	proj          *projector.Projector
	conn          Channel
	events        <-chan socketio.Event
	gen           uint64
	dialCancel    context.CancelFunc
	state         ConnState
	lastHeartbeat time.Time
	playerID      string
	name          string
	namingSent    bool
}

// New prepares a session for one game view. Nothing happens until Connect.
func New(dialer Dialer, ids IdentityProvider, params Params, opts ...Option) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		dialer:     dialer,
		ids:        ids,
		params:     params,
		log:        zap.NewNop(),
		clock:      realClock{},
		staleAfter: DefaultStaleAfter,
		checkEvery: DefaultCheckEvery,
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		ops:        make(chan op),
		dialed:     make(chan dialResult, 4),
		bcast:      newBroadcaster(),
		name:       clean(params.Name),
	}
	for _, o := range opts {
		o(s)
	}
	if s.staleAfter <= 0 {
		s.staleAfter = DefaultStaleAfter
	}
	if s.checkEvery <= 0 {
		s.checkEvery = DefaultCheckEvery
	}
	s.log = s.log.With(zap.String("room", params.RoomID))
	s.proj = projector.New(projector.WithLogger(s.log))
	return s
}

// Connect resolves the player id and starts the session loop. The dial
// itself happens in the background; progress shows up through Subscribe.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	switch {
	case s.disposed:
		s.mu.Unlock()
		return ErrDisposed
	case s.started:
		s.mu.Unlock()
		return ErrAlreadyConnected
	}
	s.started = true
	s.mu.Unlock()

	playerID := s.ids.GetOrCreatePlayerID(ctx)
	go s.run(playerID)
	return nil
}

// Dispose stops the liveness timer and closes the channel. It is safe to
// call more than once and before Connect.
func (s *Session) Dispose() error {
	s.disposeOnce.Do(func() {
		s.mu.Lock()
		s.disposed = true
		started := s.started
		s.mu.Unlock()

		s.cancel()
		if started {
			<-s.done
		}
		s.dials.Wait()
		err := s.drainDialed()
		s.bcast.close()

		s.mu.Lock()
		s.closeErr = multierr.Append(s.closeErr, err)
		s.mu.Unlock()
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeErr
}

// Subscribe returns a channel of updates, primed with the current one, and
// a function that ends the subscription. The channel closes on Dispose.
func (s *Session) Subscribe() (<-chan Update, func()) {
	ch := s.bcast.subscribe(s.current(projector.ChangeNone, nil))
	return ch, func() { s.bcast.unsubscribe(ch) }
}

// State returns the latest projected state.
func (s *Session) State() projector.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view
}

// Status returns the connection state for status banners.
func (s *Session) Status() ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Session) current(changed projector.Change, rejection error) Update {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Update{State: s.view, Changed: changed, Conn: s.status, Rejection: rejection}
}

func (s *Session) run(playerID string) {
	defer close(s.done)

	ticker := s.clock.NewTicker(s.checkEvery)
	defer ticker.Stop()

	s.playerID = playerID
	s.log = s.log.With(zap.String("player_id", playerID))
	s.lastHeartbeat = s.clock.Now()
	s.dial(StateConnecting)

	for {
		select {
		case <-s.ctx.Done():
			s.teardown()
			return
		case <-ticker.C():
			s.checkHeartbeat(s.clock.Now())
		case r := <-s.dialed:
			s.onDialed(r)
		case ev, ok := <-s.events:
			if !ok {
				s.onLost()
				continue
			}
			s.onEvent(ev)
		case o := <-s.ops:
			o.reply <- o.fn()
		}
	}
}

// do runs fn on the loop goroutine.
func (s *Session) do(ctx context.Context, fn func() error) error {
	s.mu.Lock()
	started, disposed := s.started, s.disposed
	s.mu.Unlock()
	if disposed {
		return ErrDisposed
	}
	if !started {
		// no channel yet: sends are no-ops
		return nil
	}

	o := op{fn: fn, reply: make(chan error, 1)}
	select {
	case s.ops <- o:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrDisposed
	}
	select {
	case err := <-o.reply:
		return err
	case <-s.done:
		return ErrDisposed
	}
}

func (s *Session) dial(next ConnState) {
	if s.dialCancel != nil {
		s.dialCancel()
	}
	s.gen++
	gen := s.gen
	ctx, cancel := context.WithCancel(s.ctx)
	s.dialCancel = cancel
	s.setState(next)

	log := s.log.With(zap.Uint64("gen", gen))
	log.Debug("dialing", zap.Stringer("state", next))

	s.dials.Add(1)
	go func() {
		defer s.dials.Done()
		ch, err := s.dialer.Dial(ctx)
		if s.ctx.Err() != nil {
			if ch != nil {
				_ = ch.Close()
			}
			return
		}
		select {
		case s.dialed <- dialResult{gen: gen, ch: ch, err: err}:
		case <-s.ctx.Done():
			if ch != nil {
				_ = ch.Close()
			}
		}
	}()
}

// drainDialed closes channels whose dial results were buffered but never
// picked up by the loop. Only valid once the loop and all dials are done.
func (s *Session) drainDialed() error {
	var err error
	for {
		select {
		case r := <-s.dialed:
			if r.ch != nil {
				err = multierr.Append(err, r.ch.Close())
			}
		default:
			return err
		}
	}
}

func (s *Session) onDialed(r dialResult) {
	log := s.log.With(zap.Uint64("gen", r.gen))
	if r.gen != s.gen {
		if r.ch != nil {
			_ = r.ch.Close()
		}
		log.Debug("dropping superseded connection")
		return
	}
	if r.err != nil {
		// Retried when the liveness window runs out.
		log.Warn("connect failed", zap.Error(r.err))
		return
	}

	s.conn = r.ch
	s.events = r.ch.Events()
	s.proj.Rebase()
	s.setState(StateConnected)
	log.Info("connected", zap.String("transport", r.ch.Transport()))

	s.sendJoin()
	if s.name != "" && !s.namingSent {
		s.namingSent = s.send(types.EventMove, types.Naming{Name: s.name}.Move())
	}
	s.publish(projector.ChangeNone, nil)
}

func (s *Session) sendJoin() {
	req, ok := s.params.Join(s.playerID, s.name)
	if !ok {
		s.log.Info("no room id, not joining")
		return
	}
	s.send(types.EventJoinRoom, req)
}

// send is fire-and-forget; a missing or broken channel only gets logged.
func (s *Session) send(event string, payload any) bool {
	if s.conn == nil {
		s.log.Debug("not connected, dropping", zap.String("event", event))
		return false
	}
	if err := s.conn.Emit(event, payload); err != nil {
		s.log.Info("send failed", zap.String("event", event), zap.Error(err))
		return false
	}
	return true
}

func (s *Session) onEvent(ev socketio.Event) {
	switch ev.Name {
	case types.EventPong:
		s.alive()
	case types.EventReturnState:
		s.alive()
		snap, err := types.DecodeSnapshot(ev.Data)
		if err != nil {
			s.log.Debug("ignoring snapshot", zap.Error(err))
			return
		}
		if ch := s.proj.Apply(snap); ch != projector.ChangeNone {
			s.publish(ch, nil)
		}
	default:
		s.log.Debug("ignoring event", zap.String("event", ev.Name))
	}
}

func (s *Session) onLost() {
	s.log.Info("connection lost", zap.Uint64("gen", s.gen))
	s.closeConn()
	s.setState(StateStale)
	s.publish(projector.ChangeNone, nil)
}

func (s *Session) closeConn() error {
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	if err != nil {
		s.log.Debug("close failed", zap.Error(err))
	}
	s.conn = nil
	s.events = nil
	return err
}

func (s *Session) teardown() {
	if s.dialCancel != nil {
		s.dialCancel()
	}
	err := s.closeConn()
	s.setState(StateClosed)

	s.mu.Lock()
	s.closeErr = err
	s.mu.Unlock()

	s.publish(projector.ChangeNone, nil)
	s.log.Debug("session closed")
}

func (s *Session) setState(st ConnState) {
	s.state = st
	s.syncStatus()
}

// syncStatus copies loop-owned fields to where readers can see them.
func (s *Session) syncStatus() {
	transport := ""
	if s.conn != nil {
		transport = s.conn.Transport()
	}
	s.mu.Lock()
	s.status = ConnectionState{
		State:           s.state,
		Connected:       s.state == StateConnected,
		LastHeartbeatAt: s.lastHeartbeat,
		Generation:      s.gen,
		Transport:       transport,
	}
	s.mu.Unlock()
}

func (s *Session) publish(changed projector.Change, rejection error) {
	s.mu.Lock()
	s.view = s.proj.State()
	s.mu.Unlock()
	s.bcast.publish(s.current(changed, rejection))
}
