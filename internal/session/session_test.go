package session

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/DoyleJ11/storycards/internal/engine"
	"github.com/DoyleJ11/storycards/internal/projector"
	"github.com/DoyleJ11/storycards/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const (
	waitingJSON = `{"message":"waiting","current":1,"required":4}`
	tellerJSON  = `{"stage":"wait_for_story","activeStory":"","cardsOnBoard":[],` +
		`"myCards":[{"id":"c1","image":"/1.jpg","playerRef":""}],` +
		`"players":[{"name":"Ann","points":0,"storyTeller":true}],` +
		`"me":{"name":"Ann","points":0,"storyTeller":true}}`
	guesserJSON = `{"stage":"wait_for_story","me":{"name":"Bob","points":0,"storyTeller":false},` +
		`"myCards":[{"id":"c9","image":"/9.jpg","playerRef":""}]}`
)

var annParams = Params{Name: "Ann", RoomID: "42", NumberOfPlayers: "4"}

type harness struct {
	s      *Session
	clock  *fakeClock
	dialer *fakeDialer
	ch     *fakeChannel
}

func start(t *testing.T, params Params, opts ...Option) *harness {
	t.Helper()
	h := &harness{clock: newFakeClock(), dialer: newFakeDialer()}
	opts = append([]Option{WithLogger(zaptest.NewLogger(t)), WithClock(h.clock)}, opts...)
	h.s = New(h.dialer, fixedID("player-1"), params, opts...)
	t.Cleanup(func() { _ = h.s.Dispose() })
	require.NoError(t, h.s.Connect(context.Background()))
	h.ch = h.dialer.next(t)
	return h
}

// sync waits until the loop has drained every event pushed on the current
// channel.
func (h *harness) sync(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool {
		var drained bool
		err := h.s.do(context.Background(), func() error {
			drained = len(h.s.events) == 0
			return nil
		})
		return err == nil && drained
	}, 2*time.Second, time.Millisecond)
}

func waitUpdate(t *testing.T, updates <-chan Update, ok func(Update) bool) Update {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case u, open := <-updates:
			require.True(t, open, "updates closed")
			if ok(u) {
				return u
			}
		case <-deadline:
			t.Fatal("no matching update")
			return Update{}
		}
	}
}

func TestConnect_SendsJoinThenNaming(t *testing.T) {
	h := start(t, annParams)

	join := h.ch.next(t)
	assert.Equal(t, types.EventJoinRoom, join.Event)
	assert.Equal(t, types.JoinRoom{RoomID: "42", ID: "player-1", NumberOfPlayers: "4", Name: "Ann"}, join.Payload)

	naming := h.ch.next(t)
	assert.Equal(t, types.EventMove, naming.Event)
	assert.Equal(t, types.Move{Type: types.MoveNaming, Name: "Ann"}, naming.Payload)

	st := h.s.Status()
	assert.Equal(t, StateConnected, st.State)
	assert.True(t, st.Connected)
	assert.Equal(t, uint64(1), st.Generation)
	assert.Equal(t, "fake", st.Transport)
}

func TestConnect_Twice(t *testing.T) {
	h := start(t, annParams)
	assert.ErrorIs(t, h.s.Connect(context.Background()), ErrAlreadyConnected)
}

func TestWaitingSnapshot_ShowsRoomCount(t *testing.T) {
	h := start(t, annParams)
	updates, stop := h.s.Subscribe()
	defer stop()

	h.ch.push(t, types.EventReturnState, waitingJSON)

	u := waitUpdate(t, updates, func(u Update) bool { return u.State.Mode == projector.ModeWaiting })
	require.NotNil(t, u.State.Room)
	assert.Equal(t, 1, u.State.Room.Current)
	assert.Equal(t, 4, u.State.Room.Required)
	assert.True(t, u.Changed.Has(projector.ChangeRoom))
}

func TestEmit_StoryAsStoryteller(t *testing.T) {
	h := start(t, annParams)
	h.ch.next(t) // join
	h.ch.next(t) // naming

	h.ch.push(t, types.EventReturnState, tellerJSON)
	h.sync(t)
	require.True(t, h.s.State().AmIStoryteller())

	require.NoError(t, h.s.Emit(context.Background(), types.Story{CardID: "c1", Story: "a tale"}))

	got := h.ch.next(t)
	assert.Equal(t, types.EventMove, got.Event)
	wire, err := json.Marshal(got.Payload)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"story","cardId":"c1","story":"a tale"}`, string(wire))
}

func TestEmit_StoryRejectedForGuesser(t *testing.T) {
	h := start(t, Params{Name: "Bob", RoomID: "42", NumberOfPlayers: "4"})
	h.ch.next(t)
	h.ch.next(t)
	updates, stop := h.s.Subscribe()
	defer stop()

	h.ch.push(t, types.EventReturnState, guesserJSON)
	h.sync(t)

	err := h.s.Emit(context.Background(), types.Story{CardID: "c9", Story: "a tale"})
	require.ErrorIs(t, err, engine.ErrNotStoryteller)

	u := waitUpdate(t, updates, func(u Update) bool { return u.Rejection != nil })
	assert.ErrorIs(t, u.Rejection, engine.ErrNotStoryteller)

	h.sync(t)
	h.ch.nothingSent(t)
}

func TestEmit_PickAndVoteNotGatedByDefault(t *testing.T) {
	h := start(t, annParams)
	h.ch.next(t)
	h.ch.next(t)
	h.ch.push(t, types.EventReturnState, tellerJSON)
	h.sync(t)

	// The storyteller picking is illegal, but only the view guards it.
	require.NoError(t, h.s.Emit(context.Background(), types.PickCard{CardID: "c1"}))
	assert.Equal(t, types.Move{Type: types.MovePickCard, CardID: "c1"}, h.ch.next(t).Payload)
}

func TestEmit_StrictGating(t *testing.T) {
	h := start(t, annParams, WithStrictGating(true))
	h.ch.next(t)
	h.ch.next(t)
	h.ch.push(t, types.EventReturnState, tellerJSON)
	h.sync(t)

	assert.ErrorIs(t, h.s.Emit(context.Background(), types.PickCard{CardID: "c1"}), engine.ErrWrongTurn)
	assert.ErrorIs(t, h.s.Emit(context.Background(), types.Vote{CardID: "c1"}), engine.ErrWrongTurn)
	require.NoError(t, h.s.Emit(context.Background(), types.Story{CardID: "c1", Story: "ok"}))
	assert.Equal(t, types.MoveStory, h.ch.next(t).Payload.(types.Move).Type)
}

func TestEmit_Validation(t *testing.T) {
	h := start(t, annParams)
	ctx := context.Background()

	assert.ErrorIs(t, h.s.Emit(ctx, types.Message{Text: "   "}), ErrEmptyText)
	assert.ErrorIs(t, h.s.Emit(ctx, types.Naming{Name: ""}), ErrEmptyText)
	assert.ErrorIs(t, h.s.Emit(ctx, types.Story{CardID: "c1", Story: " \t"}), ErrEmptyText)
	assert.ErrorIs(t, h.s.Emit(ctx, types.Vote{}), ErrMissingCard)
	assert.ErrorIs(t, h.s.Emit(ctx, nil), ErrUnknownIntent)
}

func TestEmit_MessageTrimmedAndNormalised(t *testing.T) {
	h := start(t, annParams)
	h.ch.next(t)
	h.ch.next(t)

	// "e" + combining acute composes to "é"
	require.NoError(t, h.s.Emit(context.Background(), types.Message{Text: "  cafe\u0301  "}))
	assert.Equal(t, types.Move{Type: types.MoveMessage, Message: "caf\u00e9"}, h.ch.next(t).Payload)
}

func TestEmit_BeforeConnectIsNoop(t *testing.T) {
	s := New(newFakeDialer(), fixedID("p"), annParams)
	defer s.Dispose()
	assert.NoError(t, s.Emit(context.Background(), types.Message{Text: "hi"}))
}

func TestSetName_SentOnceAndUsedInRejoin(t *testing.T) {
	h := start(t, Params{RoomID: "42", NumberOfPlayers: "4"})
	join := h.ch.next(t)
	assert.Equal(t, types.JoinRoom{RoomID: "42", ID: "player-1", NumberOfPlayers: "4"}, join.Payload)

	require.NoError(t, h.s.SetName(context.Background(), "Ann"))
	assert.Equal(t, types.Move{Type: types.MoveNaming, Name: "Ann"}, h.ch.next(t).Payload)

	require.NoError(t, h.s.SetName(context.Background(), "Ann"))
	h.sync(t)
	h.ch.nothingSent(t)

	h.clock.Advance(t, 6*time.Second)
	next := h.dialer.next(t)
	rejoin := next.next(t)
	assert.Equal(t, types.JoinRoom{RoomID: "42", ID: "player-1", NumberOfPlayers: "4", Name: "Ann"}, rejoin.Payload)
	h.sync(t)
	next.nothingSent(t)
}

func TestNoRoomID_NoJoin(t *testing.T) {
	h := start(t, Params{NumberOfPlayers: "4"})
	require.Eventually(t, func() bool { return h.s.Status().Connected }, 2*time.Second, time.Millisecond)
	h.sync(t)
	h.ch.nothingSent(t)
	assert.False(t, h.ch.isClosed())
}

func TestDispose(t *testing.T) {
	h := start(t, annParams)
	updates, _ := h.s.Subscribe()

	require.NoError(t, h.s.Dispose())
	require.NoError(t, h.s.Dispose())

	assert.True(t, h.ch.isClosed())
	select {
	case <-h.clock.ticker.stopped:
	default:
		t.Fatal("ticker still running")
	}
	assert.Equal(t, StateClosed, h.s.Status().State)
	assert.ErrorIs(t, h.s.Emit(context.Background(), types.Message{Text: "hi"}), ErrDisposed)
	assert.ErrorIs(t, h.s.Connect(context.Background()), ErrDisposed)

	for range updates {
	}
}

func TestDispose_RightAfterConnectClosesEveryChannel(t *testing.T) {
	for i := 0; i < 300; i++ {
		d := newFakeDialer()
		s := New(d, fixedID("p"), annParams)
		require.NoError(t, s.Connect(context.Background()))
		require.NoError(t, s.Dispose())

		close(d.dials)
		for ch := range d.dials {
			require.True(t, ch.isClosed(), "iteration %d left a channel open", i)
		}
	}
}

func TestDispose_BeforeConnect(t *testing.T) {
	s := New(newFakeDialer(), fixedID("p"), annParams)
	require.NoError(t, s.Dispose())
	updates, _ := s.Subscribe()
	_, open := <-updates
	assert.False(t, open)
}
