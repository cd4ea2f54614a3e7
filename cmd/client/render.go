package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/DoyleJ11/storycards/internal/engine"
	"github.com/DoyleJ11/storycards/internal/projector"
	"github.com/DoyleJ11/storycards/internal/session"
	"github.com/DoyleJ11/storycards/pkg/types"
)

// renderer prints what changed in each update as plain lines.
type renderer struct {
	w        io.Writer
	conn     session.ConnState
	seenChat int
}

func newRenderer(w io.Writer) *renderer { return &renderer{w: w} }

func (r *renderer) render(u session.Update) {
	r.connection(u.Conn)
	if u.Rejection != nil {
		fmt.Fprintf(r.w, "! %v\n", u.Rejection)
	}

	st, ch := u.State, u.Changed
	switch st.Mode {
	case projector.ModeWaiting:
		if ch.Has(projector.ChangeRoom) && st.Room != nil {
			fmt.Fprintf(r.w, "%s: %d/%d players\n", orDefault(st.Room.Message, "Waiting"), st.Room.Current, st.Room.Required)
		}
	case projector.ModeLive:
		r.live(st, ch)
	}
	if ch.Has(projector.ChangeMessages) {
		r.chat(st.Messages)
	}
}

func (r *renderer) connection(c session.ConnectionState) {
	if c.State == r.conn {
		return
	}
	prev := r.conn
	r.conn = c.State
	switch c.State {
	case session.StateConnected:
		if prev == session.StateStale || prev == session.StateReconnecting {
			fmt.Fprintln(r.w, "* reconnected")
		} else {
			fmt.Fprintf(r.w, "* connected (%s)\n", c.Transport)
		}
	case session.StateStale, session.StateReconnecting:
		if prev == session.StateConnected {
			fmt.Fprintln(r.w, "* connection lost, reconnecting...")
		}
	}
}

func (r *renderer) live(st projector.State, ch projector.Change) {
	if ch.Has(projector.ChangeStage | projector.ChangeMe | projector.ChangeMode) {
		role := engine.RoleOf(st.AmIStoryteller())
		fmt.Fprintf(r.w, "== %s (you are the %s) ==\n", stageTitle(st.Stage), role)
		if hint := nextStep(st); hint != "" {
			fmt.Fprintf(r.w, "   %s\n", hint)
		}
	}
	if ch.Has(projector.ChangeStory) && st.ActiveStory != "" {
		fmt.Fprintf(r.w, "Story: %q\n", st.ActiveStory)
	}
	if ch.Has(projector.ChangePlayers) {
		fmt.Fprintln(r.w, "Players:")
		for _, p := range st.Players {
			mark := " "
			if p.StoryTeller {
				mark = "*"
			}
			fmt.Fprintf(r.w, "  %s %-16s %3d\n", mark, p.Name, p.Points)
		}
	}
	if ch.Has(projector.ChangeBoard) && len(st.CardsOnBoard) > 0 {
		fmt.Fprintf(r.w, "Table: %s\n", cardList(st.CardsOnBoard))
	}
	if ch.Has(projector.ChangeHand) {
		fmt.Fprintf(r.w, "Hand:  %s\n", cardList(st.MyCards))
	}
}

func (r *renderer) chat(msgs []types.ChatMessage) {
	if len(msgs) < r.seenChat {
		// history was replaced after a reconnect
		r.seenChat = 0
	}
	for _, m := range msgs[r.seenChat:] {
		fmt.Fprintf(r.w, "<%s> %s\n", m.Name, m.Message)
	}
	r.seenChat = len(msgs)
}

func stageTitle(s types.Stage) string {
	switch s {
	case types.StageWaitForStory:
		return "waiting for the story"
	case types.StagePickCard:
		return "pick a card"
	case types.StageWaitForVote:
		return "vote"
	default:
		return string(s)
	}
}

func nextStep(st projector.State) string {
	teller := st.AmIStoryteller()
	switch {
	case engine.Allowed(st.Stage, teller, engine.ActionStory):
		return "tell a story: /story <card> <text>"
	case engine.Allowed(st.Stage, teller, engine.ActionPickCard):
		return "pick a matching card: /pick <card>"
	case engine.Allowed(st.Stage, teller, engine.ActionVote):
		return "vote for the storyteller's card: /vote <card>"
	default:
		return ""
	}
}

func cardList(cards []types.Card) string {
	if len(cards) == 0 {
		return "(none)"
	}
	parts := make([]string, len(cards))
	for i, c := range cards {
		parts[i] = fmt.Sprintf("[%d] %s", i+1, c.ID)
	}
	return strings.Join(parts, "  ")
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
