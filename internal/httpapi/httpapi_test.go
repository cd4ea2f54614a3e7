package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DoyleJ11/storycards/internal/hub"
	"github.com/DoyleJ11/storycards/internal/lobby"
	"github.com/DoyleJ11/storycards/internal/socketio"
	"github.com/DoyleJ11/storycards/internal/ws"
	"github.com/DoyleJ11/storycards/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	log := zaptest.NewLogger(t)
	h := hub.NewHub(ctx, lobby.Options{Logger: log})
	srv := httptest.NewServer(SetupRoutes(h, log, ws.Options{}))
	t.Cleanup(srv.Close)
	return srv
}

func nextState(t *testing.T, c *socketio.Conn) types.Snapshot {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-c.Events():
			require.True(t, ok, "connection closed")
			if ev.Name != types.EventReturnState {
				continue
			}
			snap, err := types.DecodeSnapshot(ev.Data)
			require.NoError(t, err)
			return snap
		case <-deadline:
			t.Fatal("no returnState")
			return nil
		}
	}
}

func TestGenerateCode(t *testing.T) {
	code, err := GenerateCode()
	require.NoError(t, err)
	assert.Regexp(t, `^[A-Z0-9]{6}$`, code)
}

func TestHealthz(t *testing.T) {
	srv := newServer(t)
	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCreateAndListRooms(t *testing.T) {
	srv := newServer(t)

	resp, err := http.Post(srv.URL+"/rooms", "application/json", nil)
	require.NoError(t, err)
	var created struct {
		RoomID string `json:"roomId"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Len(t, created.RoomID, 6)

	resp, err = http.Get(srv.URL + "/rooms")
	require.NoError(t, err)
	defer resp.Body.Close()
	var listing struct {
		Rooms []hub.Summary `json:"rooms"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&listing))
	require.Len(t, listing.Rooms, 1)
	assert.Equal(t, created.RoomID, listing.Rooms[0].Code)
	assert.False(t, listing.Rooms[0].Started)
}

func TestSocket_JoinReceivesWaitingSnapshot(t *testing.T) {
	srv := newServer(t)
	ctx := context.Background()

	c, err := socketio.Dial(ctx, srv.URL, socketio.Options{
		Transports: []string{socketio.TransportPolling, socketio.TransportWebSocket},
		Logger:     zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	defer c.Close()
	assert.Equal(t, socketio.TransportWebSocket, c.Transport())

	require.NoError(t, c.Emit(types.EventJoinRoom, types.JoinRoom{RoomID: "42", ID: "p1", NumberOfPlayers: "4", Name: "Ann"}))

	snap := nextState(t, c)
	w, ok := snap.(types.WaitingSnapshot)
	require.True(t, ok, "got %T", snap)
	assert.Equal(t, 1, w.Current)
	assert.Equal(t, 4, w.Required)
}

func TestSocket_GameStartsAndStoryIsBroadcast(t *testing.T) {
	srv := newServer(t)
	ctx := context.Background()

	dial := func(id string) *socketio.Conn {
		c, err := socketio.Dial(ctx, srv.URL, socketio.Options{Logger: zaptest.NewLogger(t)})
		require.NoError(t, err)
		t.Cleanup(func() { _ = c.Close() })
		require.NoError(t, c.Emit(types.EventJoinRoom, types.JoinRoom{RoomID: "R", ID: id, NumberOfPlayers: "2", Name: id}))
		return c
	}

	ann := dial("ann")
	_, waiting := nextState(t, ann).(types.WaitingSnapshot)
	require.True(t, waiting)

	// The second join fills the room; both see the first live snapshot.
	bob := dial("bob")
	bobView, ok := nextState(t, bob).(types.LiveSnapshot)
	require.True(t, ok)
	annView, ok := nextState(t, ann).(types.LiveSnapshot)
	require.True(t, ok)
	assert.Equal(t, types.StageWaitForStory, annView.Stage.Value)

	teller, view, other := ann, annView, bob
	if bobView.Me.Value.StoryTeller {
		teller, view, other = bob, bobView, ann
	}
	require.True(t, view.Me.Value.StoryTeller)
	require.NotEmpty(t, view.MyCards.Value)

	mv := types.Story{CardID: view.MyCards.Value[0].ID, Story: "a tale"}.Move()
	require.NoError(t, teller.Emit(types.EventMove, mv))

	for _, c := range []*socketio.Conn{teller, other} {
		after, ok := nextState(t, c).(types.LiveSnapshot)
		require.True(t, ok)
		assert.Equal(t, types.StagePickCard, after.Stage.Value)
		assert.Equal(t, "a tale", after.ActiveStory.Value)
	}
}
