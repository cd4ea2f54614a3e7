package hub

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/DoyleJ11/storycards/internal/lobby"
)

type HubMsg interface{ isHubMsg() }

type CreateLobby struct {
	Code  string
	Reply chan *lobby.Lobby
}

type GetLobby struct {
	Code  string
	Reply chan *lobby.Lobby
}

type EnsureLobby struct {
	Code  string
	Reply chan *lobby.Lobby
}

type RemoveLobby struct {
	Code string
	Lb   *lobby.Lobby // only removed if still registered under Code
}

type ListLobbies struct {
	Reply chan []Summary
}

type ShutdownHub struct{}

// Summary is one line of the active-rooms listing.
type Summary struct {
	Code     string `json:"roomId"`
	Players  int    `json:"players"`
	Required int    `json:"required"`
	Online   int    `json:"online"`
	Started  bool   `json:"started"`
}

type Hub struct {
	inbox   chan HubMsg
	lobbies map[string]*lobby.Lobby
	opts    lobby.Options
	ctx     context.Context
	cancel  context.CancelFunc
}

func (CreateLobby) isHubMsg() {}
func (GetLobby) isHubMsg()    {}
func (EnsureLobby) isHubMsg() {}
func (RemoveLobby) isHubMsg() {}
func (ListLobbies) isHubMsg() {}
func (ShutdownHub) isHubMsg() {}

// NewHub starts the registry. Every lobby it creates gets opts.
func NewHub(parent context.Context, opts lobby.Options) *Hub {
	ctx, cancel := context.WithCancel(parent)
	h := &Hub{
		inbox:   make(chan HubMsg, 64),
		lobbies: make(map[string]*lobby.Lobby),
		opts:    opts,
		ctx:     ctx,
		cancel:  cancel,
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

func (h *Hub) Done() <-chan struct{} { return h.ctx.Done() }

func (h *Hub) loop() {
	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case CreateLobby, EnsureLobby:
				code, reply := lobbyRequest(msg)
				if lb := h.lobbies[code]; lb != nil {
					reply <- lb
					break
				}
				reply <- h.create(code)

			case GetLobby:
				msg.Reply <- h.lobbies[msg.Code] // May be nil

			case RemoveLobby:
				if h.lobbies[msg.Code] == msg.Lb {
					delete(h.lobbies, msg.Code)
				}

			case ListLobbies:
				lobbies := make([]*lobby.Lobby, 0, len(h.lobbies))
				for _, lb := range h.lobbies {
					lobbies = append(lobbies, lb)
				}
				// Lobbies answer on their own loops; don't block ours.
				go func() { msg.Reply <- summarize(lobbies) }()

			case ShutdownHub:
				h.shutdown()
				return
			}
		}
	}
}

func lobbyRequest(m HubMsg) (string, chan *lobby.Lobby) {
	switch msg := m.(type) {
	case CreateLobby:
		return msg.Code, msg.Reply
	case EnsureLobby:
		return msg.Code, msg.Reply
	}
	return "", nil
}

func (h *Hub) create(code string) *lobby.Lobby {
	lb := lobby.NewLobby(h.ctx, code, h.opts)
	h.lobbies[code] = lb
	go func() {
		<-lb.Done()
		select {
		case h.inbox <- RemoveLobby{Code: code, Lb: lb}:
		case <-h.ctx.Done():
		}
	}()
	return lb
}

func (h *Hub) shutdown() {
	for _, lb := range h.lobbies {
		lb.Send(lobby.Shutdown{})
	}
	clear(h.lobbies)
	h.cancel()
}

func summarize(lobbies []*lobby.Lobby) []Summary {
	out := make([]Summary, 0, len(lobbies))
	for _, lb := range lobbies {
		reply := make(chan lobby.View, 1)
		if !lb.Send(lobby.GetState{Reply: reply}) {
			continue
		}
		select {
		case v := <-reply:
			out = append(out, Summary{
				Code:     v.Code,
				Players:  len(v.State.Seats),
				Required: v.Required,
				Online:   v.NumClients,
				Started:  v.State.Started,
			})
		case <-lb.Done():
		case <-time.After(time.Second):
		}
	}
	slices.SortFunc(out, func(a, b Summary) int { return strings.Compare(a.Code, b.Code) })
	return out
}
