package engine

import (
	"errors"
	"slices"
	"strings"

	"github.com/DoyleJ11/storycards/pkg/types"
)

var ErrNotStoryteller = errors.New("you are not the storyteller")
var ErrWrongTurn = errors.New("the storyteller cannot do that")
var ErrWrongStage = errors.New("not allowed in this stage")
var ErrNotStarted = errors.New("game has not started")
var ErrUnknownPlayer = errors.New("unknown player")
var ErrUnknownCard = errors.New("unknown card")
var ErrAlreadyActed = errors.New("already acted this stage")
var ErrOwnCard = errors.New("cannot vote for your own card")
var ErrEmptyText = errors.New("text is empty")
var ErrUnsupportedCommand = errors.New("unsupported command")

type Seat struct {
	PlayerID string
	Name     string
	Points   int
	Hand     []types.Card
}

type State struct {
	Started     bool
	Stage       types.Stage
	Round       int
	Storyteller int // index into Seats
	Story       string
	StoryCard   string
	Picks       map[string]types.Card // player id -> submitted card, storyteller included
	Votes       map[string]string     // player id -> voted card id
	Board       []types.Card
	Seats       []Seat
	Deck        []types.Card
	Messages    []types.ChatMessage
	HandSize    int
}

// Command is one intent from one seated player.
type Command struct {
	PlayerID string
	Intent   types.Intent
}

type EventType string

const (
	EvtRenamed       EventType = "Renamed"
	EvtMessagePosted EventType = "MessagePosted"
	EvtStoryTold     EventType = "StoryTold"
	EvtCardPicked    EventType = "CardPicked"
	EvtBoardRevealed EventType = "BoardRevealed"
	EvtVoteCast      EventType = "VoteCast"
	EvtRoundScored   EventType = "RoundScored"
)

type Event struct {
	Type     EventType
	PlayerID string
	CardID   string
}

/*
	Story    -> StoryTold                                  (wait_for_story -> pick_card)
	PickCard -> CardPicked [-> BoardRevealed]              (pick_card -> wait_for_vote once everyone picked)
	Vote     -> VoteCast [-> RoundScored]                  (wait_for_vote -> wait_for_story, next storyteller)
	Naming / Message are legal in every stage, before the game starts too.
*/

// Apply validates cmd against s and returns the resulting events and state.
// s is never modified; on error it is returned unchanged.
func Apply(s State, cmd Command) ([]Event, State, error) {
	seat := s.seatIndex(cmd.PlayerID)
	if seat < 0 {
		return nil, s, ErrUnknownPlayer
	}

	switch in := cmd.Intent.(type) {
	case types.Naming:
		name := strings.TrimSpace(in.Name)
		if name == "" {
			return nil, s, ErrEmptyText
		}
		newState := s.clone()
		newState.Seats[seat].Name = UniqueName(newState.Seats, seat, name)
		return []Event{{Type: EvtRenamed, PlayerID: cmd.PlayerID}}, newState, nil

	case types.Message:
		text := strings.TrimSpace(in.Text)
		if text == "" {
			return nil, s, ErrEmptyText
		}
		newState := s.clone()
		newState.Messages = append(slices.Clip(newState.Messages), types.ChatMessage{Name: s.Seats[seat].Name, Message: text})
		return []Event{{Type: EvtMessagePosted, PlayerID: cmd.PlayerID}}, newState, nil

	case types.Story:
		if err := s.check(seat, ActionStory); err != nil {
			return nil, s, err
		}
		if strings.TrimSpace(in.Story) == "" {
			return nil, s, ErrEmptyText
		}
		newState := s.clone()
		card, ok := newState.takeFromHand(seat, in.CardID)
		if !ok {
			return nil, s, ErrUnknownCard
		}
		newState.Story = strings.TrimSpace(in.Story)
		newState.StoryCard = card.ID
		newState.Picks[cmd.PlayerID] = card
		newState.Stage = types.StagePickCard
		return []Event{{Type: EvtStoryTold, PlayerID: cmd.PlayerID, CardID: card.ID}}, newState, nil

	case types.PickCard:
		if err := s.check(seat, ActionPickCard); err != nil {
			return nil, s, err
		}
		if _, done := s.Picks[cmd.PlayerID]; done {
			return nil, s, ErrAlreadyActed
		}
		newState := s.clone()
		card, ok := newState.takeFromHand(seat, in.CardID)
		if !ok {
			return nil, s, ErrUnknownCard
		}
		newState.Picks[cmd.PlayerID] = card
		events := []Event{{Type: EvtCardPicked, PlayerID: cmd.PlayerID, CardID: card.ID}}

		if len(newState.Picks) == len(newState.Seats) {
			newState.revealBoard()
			events = append(events, Event{Type: EvtBoardRevealed})
		}
		return events, newState, nil

	case types.Vote:
		if err := s.check(seat, ActionVote); err != nil {
			return nil, s, err
		}
		if _, done := s.Votes[cmd.PlayerID]; done {
			return nil, s, ErrAlreadyActed
		}
		if !slices.ContainsFunc(s.Board, func(c types.Card) bool { return c.ID == in.CardID }) {
			return nil, s, ErrUnknownCard
		}
		if own, ok := s.Picks[cmd.PlayerID]; ok && own.ID == in.CardID {
			return nil, s, ErrOwnCard
		}
		newState := s.clone()
		newState.Votes[cmd.PlayerID] = in.CardID
		events := []Event{{Type: EvtVoteCast, PlayerID: cmd.PlayerID, CardID: in.CardID}}

		if len(newState.Votes) == len(newState.Seats)-1 {
			newState.score()
			newState.nextRound()
			events = append(events, Event{Type: EvtRoundScored})
		}
		return events, newState, nil

	default:
		return nil, s, ErrUnsupportedCommand
	}
}

func (s State) check(seat int, a Action) error {
	if !s.Started {
		return ErrNotStarted
	}
	return Check(s.Stage, seat == s.Storyteller, a)
}

func (s State) seatIndex(playerID string) int {
	return slices.IndexFunc(s.Seats, func(st Seat) bool { return st.PlayerID == playerID })
}

// clone copies everything Apply may mutate.
func (s State) clone() State {
	c := s
	c.Seats = slices.Clone(s.Seats)
	for i := range c.Seats {
		c.Seats[i].Hand = slices.Clone(s.Seats[i].Hand)
	}
	c.Deck = slices.Clone(s.Deck)
	c.Board = slices.Clone(s.Board)
	c.Picks = make(map[string]types.Card, len(s.Picks))
	for k, v := range s.Picks {
		c.Picks[k] = v
	}
	c.Votes = make(map[string]string, len(s.Votes))
	for k, v := range s.Votes {
		c.Votes[k] = v
	}
	return c
}

func (s *State) takeFromHand(seat int, cardID string) (types.Card, bool) {
	hand := s.Seats[seat].Hand
	i := slices.IndexFunc(hand, func(c types.Card) bool { return c.ID == cardID })
	if i < 0 {
		return types.Card{}, false
	}
	card := hand[i]
	s.Seats[seat].Hand = slices.Delete(hand, i, i+1)
	return card, true
}

// revealBoard lays every submitted card face up, ordered by id so the
// position says nothing about the owner.
func (s *State) revealBoard() {
	s.Board = s.Board[:0]
	for _, c := range s.Picks {
		s.Board = append(s.Board, types.Card{ID: c.ID, Image: c.Image})
	}
	slices.SortFunc(s.Board, func(a, b types.Card) int { return strings.Compare(a.ID, b.ID) })
	s.Stage = types.StageWaitForVote
}

// score applies the usual rules: if nobody or everybody found the
// storyteller's card the guessers take 2 each; otherwise the storyteller and
// every correct guesser take 3. Guessers also take 1 per vote their own card
// drew.
func (s *State) score() {
	teller := s.Seats[s.Storyteller].PlayerID
	correct := 0
	for _, cardID := range s.Votes {
		if cardID == s.StoryCard {
			correct++
		}
	}
	guessers := len(s.Seats) - 1

	for i := range s.Seats {
		pid := s.Seats[i].PlayerID
		if pid == teller {
			if correct > 0 && correct < guessers {
				s.Seats[i].Points += 3
			}
			continue
		}
		switch {
		case correct == 0 || correct == guessers:
			s.Seats[i].Points += 2
		case s.Votes[pid] == s.StoryCard:
			s.Seats[i].Points += 3
		}
		own := s.Picks[pid].ID
		for voter, cardID := range s.Votes {
			if voter != pid && cardID == own {
				s.Seats[i].Points++
			}
		}
	}
}

func (s *State) nextRound() {
	for _, c := range s.Picks {
		s.Deck = append(s.Deck, types.Card{ID: c.ID, Image: c.Image})
	}
	s.Round++
	s.Storyteller = NextStoryteller(s.Storyteller, len(s.Seats))
	s.Stage = types.StageWaitForStory
	s.Story = ""
	s.StoryCard = ""
	s.Board = nil
	s.Picks = map[string]types.Card{}
	s.Votes = map[string]string{}
	s.deal()
}

func (s *State) deal() {
	for i := range s.Seats {
		for len(s.Seats[i].Hand) < s.HandSize && len(s.Deck) > 0 {
			c := s.Deck[0]
			s.Deck = s.Deck[1:]
			c.PlayerRef = s.Seats[i].PlayerID
			s.Seats[i].Hand = append(s.Seats[i].Hand, c)
		}
	}
}
