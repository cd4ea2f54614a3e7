package engine

import (
	"fmt"
	"slices"
	"strconv"

	"github.com/DoyleJ11/storycards/pkg/types"
)

const DefaultHandSize = 6

// NewEmptyState is a room nobody has joined yet. deck is dealt from the front.
func NewEmptyState(deck []types.Card, handSize int) State {
	if handSize <= 0 {
		handSize = DefaultHandSize
	}
	return State{
		Stage:    types.StageWaitForStory,
		Picks:    map[string]types.Card{},
		Votes:    map[string]string{},
		Deck:     deck,
		HandSize: handSize,
	}
}

// NewDeck returns n distinct cards in order.
func NewDeck(n int) []types.Card {
	deck := make([]types.Card, n)
	for i := range deck {
		deck[i] = types.Card{
			ID:    fmt.Sprintf("card-%03d", i+1),
			Image: fmt.Sprintf("/cards/%03d.jpg", i+1),
		}
	}
	return deck
}

// AddSeat seats playerID, or renames the seat if it already exists. Returns
// false when the player was already seated.
func AddSeat(s State, playerID, name string) (State, bool) {
	newState := s.clone()
	if i := newState.seatIndex(playerID); i >= 0 {
		if name != "" && name != newState.Seats[i].Name {
			newState.Seats[i].Name = UniqueName(newState.Seats, i, name)
		}
		return newState, false
	}
	if name == "" {
		name = "Player " + strconv.Itoa(len(newState.Seats)+1)
	}
	newState.Seats = append(newState.Seats, Seat{PlayerID: playerID})
	i := len(newState.Seats) - 1
	newState.Seats[i].Name = UniqueName(newState.Seats, i, name)
	if newState.Started {
		newState.deal()
	}
	return newState, true
}

// Start deals hands and opens the first round.
func Start(s State) State {
	newState := s.clone()
	newState.Started = true
	newState.Stage = types.StageWaitForStory
	newState.Storyteller = 0
	newState.deal()
	return newState
}

// UniqueName suffixes name until no other seat uses it. Names are the
// player key on the wire, so they must not collide.
func UniqueName(seats []Seat, self int, name string) string {
	taken := func(n string) bool {
		for i, st := range seats {
			if i != self && st.Name == n {
				return true
			}
		}
		return false
	}
	candidate := name
	for i := 2; taken(candidate); i++ {
		candidate = fmt.Sprintf("%s (%d)", name, i)
	}
	return candidate
}

// ViewFor renders the snapshot one player receives.
func ViewFor(s State, playerID string, required int) types.Snapshot {
	if !s.Started {
		return types.WaitingSnapshot{
			Message:  "Waiting for players",
			Current:  len(s.Seats),
			Required: required,
		}
	}

	players := make([]types.Player, len(s.Seats))
	var me types.Player
	var hand []types.Card
	for i, st := range s.Seats {
		players[i] = types.Player{Name: st.Name, Points: st.Points, StoryTeller: i == s.Storyteller}
		if st.PlayerID == playerID {
			me = players[i]
			hand = slices.Clone(st.Hand)
		}
	}
	board := s.Board
	if s.Stage == types.StagePickCard {
		// face down until everyone has picked
		board = make([]types.Card, 0, len(s.Picks))
		for range s.Picks {
			board = append(board, types.Card{ID: "hidden", Image: "/cards/back.jpg"})
		}
	}

	return types.LiveSnapshot{
		Stage:        types.Some(s.Stage),
		ActiveStory:  types.Some(s.Story),
		CardsOnBoard: types.Some(orEmpty(slices.Clone(board))),
		MyCards:      types.Some(orEmpty(hand)),
		Players:      types.Some(players),
		Me:           types.Some(me),
		Messages:     types.Some(orEmpty(slices.Clone(s.Messages))),
	}
}

// orEmpty keeps empty lists as [] rather than null on the wire.
func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func ContainsEvent(events []Event, eventType EventType) bool {
	for _, event := range events {
		if event.Type == eventType {
			return true
		}
	}
	return false
}
