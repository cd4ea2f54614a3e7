package lobby

import (
	"context"
	"testing"
	"time"

	"github.com/DoyleJ11/storycards/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// helper: receive one event with a timeout so tests never hang
func recvOutbound(t *testing.T, ch <-chan Outbound, within time.Duration) Outbound {
	t.Helper()
	select {
	case o, ok := <-ch:
		if !ok {
			t.Fatalf("client outbox closed unexpectedly")
		}
		return o
	case <-time.After(within):
		t.Fatalf("timed out waiting for event")
		return Outbound{} // unreachable
	}
}

func recvSnapshot(t *testing.T, ch <-chan Outbound, within time.Duration) types.Snapshot {
	t.Helper()
	o := recvOutbound(t, ch, within)
	require.Equal(t, types.EventReturnState, o.Event)
	snap, ok := o.Payload.(types.Snapshot)
	require.True(t, ok, "payload %T", o.Payload)
	return snap
}

func recvView(t *testing.T, l *Lobby) View {
	t.Helper()
	reply := make(chan View, 1)
	l.Inbox() <- GetState{Reply: reply}
	select {
	case v := <-reply:
		return v
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for view")
		return View{} // unreachable
	}
}

func newTestLobby(t *testing.T, opts Options) *Lobby {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	opts.Logger = zaptest.NewLogger(t)
	opts.HandSize = 3
	return NewLobby(ctx, "R1", opts)
}

func join(l *Lobby, clientID, playerID, name, players string, out chan Outbound) {
	l.Inbox() <- Join{
		ClientID: clientID,
		Request:  types.JoinRoom{RoomID: "R1", ID: playerID, Name: name, NumberOfPlayers: players},
		Outbox:   out,
	}
}

func TestLobby_JoinSendsWaitingSnapshot(t *testing.T) {
	l := newTestLobby(t, Options{})

	out := make(chan Outbound, 4)
	join(l, "c1", "p1", "Ann", "4", out)

	snap := recvSnapshot(t, out, 100*time.Millisecond)
	assert.Equal(t, types.WaitingSnapshot{Message: "Waiting for players", Current: 1, Required: 4}, snap)
}

func TestLobby_StartsWhenFull(t *testing.T) {
	l := newTestLobby(t, Options{})

	a := make(chan Outbound, 4)
	b := make(chan Outbound, 4)
	join(l, "c1", "p1", "Ann", "2", a)
	recvSnapshot(t, a, 100*time.Millisecond)

	join(l, "c2", "p2", "Bob", "2", b)

	live, ok := recvSnapshot(t, a, 100*time.Millisecond).(types.LiveSnapshot)
	require.True(t, ok)
	assert.Equal(t, types.StageWaitForStory, live.Stage.Value)
	assert.True(t, live.Me.Value.StoryTeller)
	assert.Len(t, live.MyCards.Value, 3)

	live, ok = recvSnapshot(t, b, 100*time.Millisecond).(types.LiveSnapshot)
	require.True(t, ok)
	assert.Equal(t, "Bob", live.Me.Value.Name)
	assert.False(t, live.Me.Value.StoryTeller)
}

func TestLobby_Move_BroadcastsSnapshotAndVersionIncrements(t *testing.T) {
	l := newTestLobby(t, Options{})

	a := make(chan Outbound, 4)
	b := make(chan Outbound, 4)
	join(l, "c1", "p1", "Ann", "2", a)
	join(l, "c2", "p2", "Bob", "2", b)
	recvSnapshot(t, a, 100*time.Millisecond)
	first := recvSnapshot(t, a, 100*time.Millisecond).(types.LiveSnapshot)
	recvSnapshot(t, b, 100*time.Millisecond)

	before := recvView(t, l).Version

	card := first.MyCards.Value[0].ID
	l.Inbox() <- FromClient{ClientID: "c1", Move: types.Story{CardID: card, Story: "a tale"}.Move()}

	next := recvSnapshot(t, b, 100*time.Millisecond).(types.LiveSnapshot)
	assert.Equal(t, types.StagePickCard, next.Stage.Value)
	assert.Equal(t, "a tale", next.ActiveStory.Value)
	assert.Equal(t, before+1, recvView(t, l).Version)
}

func TestLobby_RejectedMoveIsSilent(t *testing.T) {
	l := newTestLobby(t, Options{})

	a := make(chan Outbound, 4)
	b := make(chan Outbound, 4)
	join(l, "c1", "p1", "Ann", "2", a)
	join(l, "c2", "p2", "Bob", "2", b)
	recvSnapshot(t, b, 100*time.Millisecond)

	before := recvView(t, l).Version
	l.Inbox() <- FromClient{ClientID: "c2", Move: types.Story{CardID: "card-001", Story: "not mine"}.Move()}

	assert.Equal(t, before, recvView(t, l).Version)
	select {
	case o := <-b:
		t.Fatalf("unexpected event %+v", o)
	default:
	}
}

func TestLobby_RejoinKeepsSeat(t *testing.T) {
	l := newTestLobby(t, Options{})

	a := make(chan Outbound, 4)
	join(l, "c1", "p1", "Ann", "3", a)
	recvSnapshot(t, a, 100*time.Millisecond)
	l.Inbox() <- Leave{ClientID: "c1"}

	a2 := make(chan Outbound, 4)
	join(l, "c2", "p1", "Ann", "3", a2)
	snap := recvSnapshot(t, a2, 100*time.Millisecond)
	assert.Equal(t, 1, snap.(types.WaitingSnapshot).Current)

	view := recvView(t, l)
	assert.Equal(t, 1, view.NumClients)
	assert.Len(t, view.State.Seats, 1)
}

func TestLobby_DropSlowClient(t *testing.T) {
	l := newTestLobby(t, Options{})

	clientOut := make(chan Outbound, 1)
	join(l, "c1", "p1", "Ann", "3", clientOut)
	l.Inbox() <- FromClient{ClientID: "c1", Move: types.Message{Text: "hello"}.Move()}

	view := recvView(t, l)
	if view.NumClients != 0 {
		t.Fatalf("expected slow client to be dropped; NumClients=%d", view.NumClients)
	}
}

func TestLobby_PulseSendsPong(t *testing.T) {
	l := newTestLobby(t, Options{PulseEvery: 20 * time.Millisecond})

	out := make(chan Outbound, 8)
	join(l, "c1", "p1", "Ann", "3", out)
	recvSnapshot(t, out, 100*time.Millisecond)

	o := recvOutbound(t, out, 500*time.Millisecond)
	assert.Equal(t, types.EventPong, o.Event)
}

func TestLobby_Shutdown_ClosesOutboxes(t *testing.T) {
	l := newTestLobby(t, Options{})

	out := make(chan Outbound, 2)
	join(l, "c1", "p1", "Ann", "3", out)
	recvSnapshot(t, out, 100*time.Millisecond)

	l.Inbox() <- Shutdown{}

	select {
	case _, ok := <-out:
		assert.False(t, ok)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("outbox not closed")
	}
	<-l.Done()
	assert.False(t, l.Send(Leave{ClientID: "c1"}))
}

func TestLobby_IdleTimeout(t *testing.T) {
	l := newTestLobby(t, Options{PulseEvery: 10 * time.Millisecond, IdleTimeout: 30 * time.Millisecond})

	select {
	case <-l.Done():
	case <-time.After(time.Second):
		t.Fatal("idle lobby did not stop")
	}
}

func TestParseRequired(t *testing.T) {
	cases := map[string]int{"4": 4, "": 3, "x": 3, "1": 2, "20": 8, "-3": 3}
	for in, want := range cases {
		assert.Equal(t, want, parseRequired(in, 0), "input %q", in)
	}
}
