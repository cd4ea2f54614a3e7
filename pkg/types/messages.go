package types

import (
	"errors"
	"fmt"
)

// Event names on the channel.
const (
	EventJoinRoom    = "joinRoom"    // client -> server, on every (re)connect
	EventMove        = "move"        // client -> server, player intents
	EventReturnState = "returnState" // server -> client, full snapshot
	EventPong        = "pong"        // server -> client, liveness pulse
)

var ErrUnknownMove = errors.New("unknown move type")

// JoinRoom is the handshake payload replayed after every reconnect.
type JoinRoom struct {
	RoomID          string `json:"roomId"`
	ID              string `json:"id"`
	NumberOfPlayers string `json:"numberOfPlayers"`
	Name            string `json:"name,omitempty"`
}

type MoveType string

const (
	MoveNaming   MoveType = "naming"
	MoveStory    MoveType = "story"
	MovePickCard MoveType = "pickCard"
	MoveVote     MoveType = "vote"
	MoveMessage  MoveType = "message"
)

// Move is the flat wire shape of every intent: {type, ...payload}.
type Move struct {
	Type    MoveType `json:"type"`
	Name    string   `json:"name,omitempty"`
	CardID  string   `json:"cardId,omitempty"`
	Story   string   `json:"story,omitempty"`
	Message string   `json:"message,omitempty"`
}

// Intent is a one-way player action. The server never replies to an intent
// directly; its effect shows up in a later snapshot.
type Intent interface {
	Move() Move
	isIntent()
}

type Naming struct{ Name string }

type Story struct {
	CardID string
	Story  string
}

type PickCard struct{ CardID string }

type Vote struct{ CardID string }

type Message struct{ Text string }

func (Naming) isIntent()   {}
func (Story) isIntent()    {}
func (PickCard) isIntent() {}
func (Vote) isIntent()     {}
func (Message) isIntent()  {}

func (i Naming) Move() Move   { return Move{Type: MoveNaming, Name: i.Name} }
func (i Story) Move() Move    { return Move{Type: MoveStory, CardID: i.CardID, Story: i.Story} }
func (i PickCard) Move() Move { return Move{Type: MovePickCard, CardID: i.CardID} }
func (i Vote) Move() Move     { return Move{Type: MoveVote, CardID: i.CardID} }
func (i Message) Move() Move  { return Move{Type: MoveMessage, Message: i.Text} }

// ParseMove converts a decoded move back into its intent.
func ParseMove(m Move) (Intent, error) {
	switch m.Type {
	case MoveNaming:
		return Naming{Name: m.Name}, nil
	case MoveStory:
		return Story{CardID: m.CardID, Story: m.Story}, nil
	case MovePickCard:
		return PickCard{CardID: m.CardID}, nil
	case MoveVote:
		return Vote{CardID: m.CardID}, nil
	case MoveMessage:
		return Message{Text: m.Message}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMove, m.Type)
	}
}
