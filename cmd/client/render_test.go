package main

import (
	"bytes"
	"errors"
	"testing"

	"github.com/DoyleJ11/storycards/internal/projector"
	"github.com/DoyleJ11/storycards/internal/session"
	"github.com/DoyleJ11/storycards/pkg/types"
	"github.com/stretchr/testify/assert"
)

func TestRenderWaiting(t *testing.T) {
	var buf bytes.Buffer
	r := newRenderer(&buf)
	r.render(session.Update{
		State: projector.State{
			Mode: projector.ModeWaiting,
			Room: &types.WaitingSnapshot{Message: "waiting", Current: 1, Required: 4},
		},
		Changed: projector.ChangeMode | projector.ChangeRoom,
		Conn:    session.ConnectionState{State: session.StateConnected, Connected: true, Transport: "websocket"},
	})
	assert.Contains(t, buf.String(), "* connected (websocket)")
	assert.Contains(t, buf.String(), "waiting: 1/4 players")
}

func TestRenderLive(t *testing.T) {
	var buf bytes.Buffer
	r := newRenderer(&buf)
	me := types.Player{Name: "Ann", StoryTeller: true}
	r.render(session.Update{
		State: projector.State{
			Mode:    projector.ModeLive,
			Stage:   types.StageWaitForStory,
			MyCards: []types.Card{{ID: "c1"}, {ID: "c2"}},
			Players: []types.Player{me, {Name: "Bob", Points: 3}},
			Me:      &me,
		},
		Changed: projector.ChangeMode | projector.ChangeStage | projector.ChangeHand | projector.ChangePlayers | projector.ChangeMe,
	})
	out := buf.String()
	assert.Contains(t, out, "you are the storyteller")
	assert.Contains(t, out, "/story <card> <text>")
	assert.Contains(t, out, "[1] c1  [2] c2")
	assert.Contains(t, out, "Bob")
}

func TestRenderChatOnlyNewLines(t *testing.T) {
	var buf bytes.Buffer
	r := newRenderer(&buf)
	msgs := []types.ChatMessage{{Name: "ann", Message: "hi"}}
	r.render(session.Update{State: projector.State{Mode: projector.ModeLive, Messages: msgs}, Changed: projector.ChangeMessages})
	msgs = append(msgs, types.ChatMessage{Name: "bob", Message: "yo"})
	r.render(session.Update{State: projector.State{Mode: projector.ModeLive, Messages: msgs}, Changed: projector.ChangeMessages})

	assert.Equal(t, 1, bytes.Count(buf.Bytes(), []byte("<ann> hi")))
	assert.Contains(t, buf.String(), "<bob> yo")
}

func TestRenderReconnectAndRejection(t *testing.T) {
	var buf bytes.Buffer
	r := newRenderer(&buf)
	r.render(session.Update{Conn: session.ConnectionState{State: session.StateConnected}})
	r.render(session.Update{Conn: session.ConnectionState{State: session.StateReconnecting}})
	r.render(session.Update{Conn: session.ConnectionState{State: session.StateConnected}, Rejection: errors.New("you are not the storyteller")})

	out := buf.String()
	assert.Contains(t, out, "connection lost, reconnecting")
	assert.Contains(t, out, "* reconnected")
	assert.Contains(t, out, "! you are not the storyteller")
}
