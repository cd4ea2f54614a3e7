// Package projector folds server snapshots into local state slices. A slice
// is only replaced when its content changed, so holders of the previous
// value can compare by reference.
package projector

import (
	"slices"
	"strings"

	"github.com/DoyleJ11/storycards/pkg/types"
	"go.uber.org/zap"
)

type Mode int

const (
	ModeUnknown Mode = iota // nothing received yet
	ModeWaiting
	ModeLive
)

func (m Mode) String() string {
	switch m {
	case ModeWaiting:
		return "waiting"
	case ModeLive:
		return "live"
	default:
		return "unknown"
	}
}

// Change is a bit set naming the slices a snapshot replaced.
type Change uint16

const (
	ChangeMode Change = 1 << iota
	ChangeRoom
	ChangeStage
	ChangeStory
	ChangeBoard
	ChangeHand
	ChangePlayers
	ChangeMe
	ChangeMessages

	ChangeNone Change = 0
)

func (c Change) Has(f Change) bool { return c&f != 0 }

func (c Change) String() string {
	if c == ChangeNone {
		return "none"
	}
	names := []string{"mode", "room", "stage", "story", "board", "hand", "players", "me", "messages"}
	var parts []string
	for i, n := range names {
		if c&(1<<i) != 0 {
			parts = append(parts, n)
		}
	}
	return strings.Join(parts, "|")
}

// State is the projected view. Slices and pointers are shared with the
// projector and must be treated as read-only.
type State struct {
	Mode Mode

	// Room is set only while the room is waiting for players.
	Room *types.WaitingSnapshot

	Stage        types.Stage
	ActiveStory  string
	CardsOnBoard []types.Card
	MyCards      []types.Card
	Players      []types.Player
	Me           *types.Player
	Messages     []types.ChatMessage
}

// AmIStoryteller reports the local role from the last live snapshot.
func (s State) AmIStoryteller() bool { return s.Me != nil && s.Me.StoryTeller }

// HasCard reports whether id is in the local hand.
func (s State) HasCard(id string) bool {
	return slices.ContainsFunc(s.MyCards, func(c types.Card) bool { return c.ID == id })
}

// OnBoard reports whether id is on the table.
func (s State) OnBoard(id string) bool {
	return slices.ContainsFunc(s.CardsOnBoard, func(c types.Card) bool { return c.ID == id })
}

type Projector struct {
	state  State
	rebase bool
	log    *zap.Logger
}

type Option func(*Projector)

func WithLogger(l *zap.Logger) Option {
	return func(p *Projector) { p.log = l }
}

func New(opts ...Option) *Projector {
	p := &Projector{log: zap.NewNop()}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *Projector) State() State { return p.state }

// Rebase marks the next snapshot as authoritative: its chat list is adopted
// even when shorter than the one held. Call it after every (re)connect.
func (p *Projector) Rebase() { p.rebase = true }

// Apply folds one snapshot into the state and reports what changed.
func (p *Projector) Apply(snap types.Snapshot) Change {
	rebase := p.rebase
	p.rebase = false

	var ch Change
	switch s := snap.(type) {
	case types.WaitingSnapshot:
		ch = p.applyWaiting(s)
	case types.LiveSnapshot:
		ch = p.applyLive(s, rebase)
	default:
		p.log.Debug("ignoring snapshot", zap.Stringer("mode", p.state.Mode))
		return ChangeNone
	}
	if ch != ChangeNone {
		p.log.Debug("projected", zap.Stringer("changed", ch))
	}
	return ch
}

func (p *Projector) setMode(m Mode) Change {
	if p.state.Mode == m {
		return ChangeNone
	}
	p.state.Mode = m
	return ChangeMode
}

// applyWaiting replaces room info and drops every live slice.
func (p *Projector) applyWaiting(w types.WaitingSnapshot) Change {
	ch := p.setMode(ModeWaiting)
	st := &p.state

	if st.Room == nil || *st.Room != w {
		room := w
		st.Room = &room
		ch |= ChangeRoom
	}
	if st.Stage != "" {
		st.Stage = ""
		ch |= ChangeStage
	}
	if st.ActiveStory != "" {
		st.ActiveStory = ""
		ch |= ChangeStory
	}
	ch |= clearSlice(&st.CardsOnBoard, ChangeBoard)
	ch |= clearSlice(&st.MyCards, ChangeHand)
	ch |= clearSlice(&st.Players, ChangePlayers)
	ch |= clearSlice(&st.Messages, ChangeMessages)
	if st.Me != nil {
		st.Me = nil
		ch |= ChangeMe
	}
	return ch
}

func (p *Projector) applyLive(l types.LiveSnapshot, rebase bool) Change {
	ch := p.setMode(ModeLive)
	st := &p.state

	if st.Room != nil {
		st.Room = nil
		ch |= ChangeRoom
	}
	if v, ok := l.Stage.Get(); ok && v != st.Stage {
		st.Stage = v
		ch |= ChangeStage
	}
	if v, ok := l.ActiveStory.Get(); ok && v != st.ActiveStory {
		st.ActiveStory = v
		ch |= ChangeStory
	}
	if v, ok := l.CardsOnBoard.Get(); ok {
		ch |= replaceSlice(&st.CardsOnBoard, v, ChangeBoard)
	}
	if v, ok := l.MyCards.Get(); ok {
		ch |= replaceSlice(&st.MyCards, v, ChangeHand)
	}
	if v, ok := l.Players.Get(); ok {
		ch |= replaceSlice(&st.Players, v, ChangePlayers)
	}
	if v, ok := l.Me.Get(); ok && (st.Me == nil || *st.Me != v) {
		me := v
		st.Me = &me
		ch |= ChangeMe
	}
	if v, ok := l.Messages.Get(); ok {
		switch {
		case rebase:
			ch |= replaceSlice(&st.Messages, v, ChangeMessages)
		case len(v) > len(st.Messages):
			// Growth is the only signal; edits and shrinkage are ignored.
			st.Messages = v
			ch |= ChangeMessages
		}
	}
	return ch
}

// replaceSlice keeps the held slice when v has the same content. A held nil
// and an empty v still differ: "never received" is not "received empty".
func replaceSlice[T comparable](dst *[]T, v []T, flag Change) Change {
	if slices.Equal(*dst, v) && (*dst == nil) == (v == nil) {
		return ChangeNone
	}
	*dst = v
	return flag
}

func clearSlice[T any](dst *[]T, flag Change) Change {
	if *dst == nil {
		return ChangeNone
	}
	*dst = nil
	return flag
}
