package types

import (
	"encoding/json"
	"errors"
	"fmt"
)

var ErrUnknownShape = errors.New("snapshot matches no known shape")

type Stage string

const (
	StageWaitForStory Stage = "wait_for_story"
	StagePickCard     Stage = "pick_card"
	StageWaitForVote  Stage = "wait_for_vote"
)

func (s Stage) Valid() bool {
	switch s {
	case StageWaitForStory, StagePickCard, StageWaitForVote:
		return true
	}
	return false
}

type Card struct {
	ID        string `json:"id"`
	Image     string `json:"image"`
	PlayerRef string `json:"playerRef"`
}

// Player is keyed by Name on the wire; the server owns deduplication.
type Player struct {
	Name        string `json:"name"`
	Points      int    `json:"points"`
	StoryTeller bool   `json:"storyTeller"`
}

type ChatMessage struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

// Snapshot is either a WaitingSnapshot or a LiveSnapshot.
type Snapshot interface{ isSnapshot() }

// WaitingSnapshot is pushed while the room is below its player count.
type WaitingSnapshot struct {
	Message  string `json:"message"`
	Current  int    `json:"current"`
	Required int    `json:"required"`
}

// LiveSnapshot is the full game state as seen by one player. Any field may be
// missing from the payload.
type LiveSnapshot struct {
	Stage        Field[Stage]         `json:"stage,omitzero"`
	ActiveStory  Field[string]        `json:"activeStory,omitzero"`
	CardsOnBoard Field[[]Card]        `json:"cardsOnBoard,omitzero"`
	MyCards      Field[[]Card]        `json:"myCards,omitzero"`
	Players      Field[[]Player]      `json:"players,omitzero"`
	Me           Field[Player]        `json:"me,omitzero"`
	Messages     Field[[]ChatMessage] `json:"messages,omitzero"`
}

func (WaitingSnapshot) isSnapshot() {}
func (LiveSnapshot) isSnapshot()    {}

var (
	waitingKeys = []string{"message", "current", "required"}
	liveKeys    = []string{"stage", "activeStory", "cardsOnBoard", "myCards", "players", "me", "messages"}
)

// DecodeSnapshot picks the variant from the keys present in data. A payload
// carrying any waiting-room key is a WaitingSnapshot regardless of what else
// it holds.
func DecodeSnapshot(data []byte) (Snapshot, error) {
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(data, &keys); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}

	switch {
	case hasAny(keys, waitingKeys):
		var w WaitingSnapshot
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, fmt.Errorf("decode waiting snapshot: %w", err)
		}
		return w, nil
	case hasAny(keys, liveKeys):
		var l LiveSnapshot
		if err := json.Unmarshal(data, &l); err != nil {
			return nil, fmt.Errorf("decode live snapshot: %w", err)
		}
		return l, nil
	default:
		return nil, ErrUnknownShape
	}
}

func hasAny(keys map[string]json.RawMessage, names []string) bool {
	for _, n := range names {
		if _, ok := keys[n]; ok {
			return true
		}
	}
	return false
}
