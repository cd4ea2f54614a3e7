package lobby

import (
	"context"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/DoyleJ11/storycards/internal/engine"
	"github.com/DoyleJ11/storycards/pkg/types"
	"go.uber.org/zap"
)

const (
	DefaultRequired = 3
	MinPlayers      = 2
	MaxPlayers      = 8
)

type Msg interface{ isLobbyMsg() }

type FromClient struct {
	ClientID string
	Move     types.Move
}

func (FromClient) isLobbyMsg() {}

type Join struct {
	ClientID string
	Request  types.JoinRoom
	Outbox   chan Outbound // where this connection wants its events
}

func (Join) isLobbyMsg() {}

type Leave struct{ ClientID string }

func (Leave) isLobbyMsg() {}

type Shutdown struct{}

func (Shutdown) isLobbyMsg() {}

type GetState struct {
	Reply chan View
}

func (GetState) isLobbyMsg() {}

// Outbound is one event for one connection.
type Outbound struct {
	Event   string
	Payload any
}

type View struct {
	Code       string
	Version    int
	NumClients int
	Required   int
	State      engine.State
}

type Options struct {
	Required    int           // used when the first join does not say
	HandSize    int           // cards per hand
	DeckSize    int           // cards in the shuffled deck
	PulseEvery  time.Duration // liveness pulse period, 0 disables it
	IdleTimeout time.Duration // checked on each pulse; 0 never
	Seed        uint64
	Logger      *zap.Logger
}

type member struct {
	playerID string
	out      chan Outbound
}

type Lobby struct {
	code     string
	inbox    chan Msg
	state    engine.State
	version  int
	required int
	clients  map[string]member
	opts     Options
	log      *zap.Logger
	idleFrom time.Time
	ctx      context.Context
	cancel   context.CancelFunc
}

func NewLobby(parent context.Context, code string, opts Options) *Lobby {
	ctx, cancel := context.WithCancel(parent)
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.DeckSize <= 0 {
		opts.DeckSize = 96
	}

	deck := engine.NewDeck(opts.DeckSize)
	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x5eed))
	rng.Shuffle(len(deck), func(i, j int) { deck[i], deck[j] = deck[j], deck[i] })

	l := &Lobby{
		code:     code,
		inbox:    make(chan Msg, 64), // Small buffer
		state:    engine.NewEmptyState(deck, opts.HandSize),
		clients:  make(map[string]member),
		opts:     opts,
		log:      opts.Logger.With(zap.String("room", code)),
		idleFrom: time.Now(),
		ctx:      ctx,
		cancel:   cancel,
	}

	go l.loop()
	return l
}

func (l *Lobby) loop() {
	var pulse <-chan time.Time
	if l.opts.PulseEvery > 0 {
		t := time.NewTicker(l.opts.PulseEvery)
		defer t.Stop()
		pulse = t.C
	}

	for {
		select {
		case <-l.ctx.Done():
			l.shutdown()
			return

		case now := <-pulse:
			l.send(Outbound{Event: types.EventPong})
			if l.idle(now) {
				l.log.Info("closing idle room")
				l.shutdown()
				return
			}

		case m := <-l.inbox:
			switch msg := m.(type) {
			case Join:
				l.join(msg)

			case Leave:
				delete(l.clients, msg.ClientID)
				if len(l.clients) == 0 {
					l.idleFrom = time.Now()
				}

			case FromClient:
				l.apply(msg)

			case GetState:
				// Used by the room listing and tests. State is a copy; treat it as read-only.
				msg.Reply <- View{
					Code:       l.code,
					Version:    l.version,
					NumClients: len(l.clients),
					Required:   l.required,
					State:      l.state,
				}

			case Shutdown:
				l.shutdown()
				return
			}
		}
	}
}

func (l *Lobby) join(msg Join) {
	if l.required == 0 {
		l.required = parseRequired(msg.Request.NumberOfPlayers, l.opts.Required)
	}

	newState, added := engine.AddSeat(l.state, msg.Request.ID, msg.Request.Name)
	if !newState.Started && len(newState.Seats) >= l.required {
		newState = engine.Start(newState)
		l.log.Info("game started", zap.Int("players", len(newState.Seats)))
	}

	l.clients[msg.ClientID] = member{playerID: msg.Request.ID, out: msg.Outbox}
	l.state = newState
	l.version++
	l.log.Debug("joined",
		zap.String("player_id", msg.Request.ID),
		zap.Bool("new_seat", added),
		zap.Int("seats", len(newState.Seats)),
	)
	l.broadcast()
}

func (l *Lobby) apply(msg FromClient) {
	m, ok := l.clients[msg.ClientID]
	if !ok {
		return
	}
	in, err := types.ParseMove(msg.Move)
	if err != nil {
		l.log.Debug("bad move", zap.Error(err))
		return
	}

	events, newState, err := engine.Apply(l.state, engine.Command{PlayerID: m.playerID, Intent: in})
	if err != nil {
		// The protocol has no error reply; the client learns from the next snapshot.
		l.log.Debug("move rejected", zap.String("player_id", m.playerID), zap.String("move", string(msg.Move.Type)), zap.Error(err))
		return
	}
	for _, e := range events {
		l.log.Debug("event", zap.String("type", string(e.Type)), zap.String("player_id", e.PlayerID))
	}
	l.state = newState
	l.version++
	l.broadcast()
}

func (l *Lobby) idle(now time.Time) bool {
	return l.opts.IdleTimeout > 0 && len(l.clients) == 0 && now.Sub(l.idleFrom) > l.opts.IdleTimeout
}

func (l *Lobby) shutdown() {
	for id, m := range l.clients {
		close(m.out) // Tell client no more events
		delete(l.clients, id)
	}
	l.cancel()
}

// broadcast sends every member its own view of the current state.
func (l *Lobby) broadcast() {
	for id, m := range l.clients {
		snap := engine.ViewFor(l.state, m.playerID, l.required)
		l.deliver(id, m, Outbound{Event: types.EventReturnState, Payload: snap})
	}
}

func (l *Lobby) send(o Outbound) {
	for id, m := range l.clients {
		l.deliver(id, m, o)
	}
}

func (l *Lobby) deliver(id string, m member, o Outbound) {
	select {
	case m.out <- o:
		//ok
	default:
		// Client is slow/full - drop them.
		close(m.out)
		delete(l.clients, id)
		l.log.Info("dropped slow client", zap.String("client_id", id))
	}
}

func parseRequired(raw string, fallback int) int {
	n, err := strconv.Atoi(raw)
	if err != nil {
		n = fallback
	}
	if n <= 0 {
		n = DefaultRequired
	}
	return min(max(n, MinPlayers), MaxPlayers)
}

// Inbox lets the ws layer and tests talk to the lobby.
func (l *Lobby) Inbox() chan<- Msg { return l.inbox }

// Send delivers m unless the lobby has already stopped.
func (l *Lobby) Send(m Msg) bool {
	if l.ctx.Err() != nil {
		return false
	}
	select {
	case l.inbox <- m:
		return true
	case <-l.ctx.Done():
		return false
	}
}

// Done is closed once the lobby has stopped.
func (l *Lobby) Done() <-chan struct{} { return l.ctx.Done() }

func (l *Lobby) Code() string { return l.code }
