package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/DoyleJ11/storycards/internal/socketio"
	"github.com/stretchr/testify/require"
)

type fakeTicker struct {
	c       chan time.Time
	stopped chan struct{}
	once    sync.Once
}

func (f *fakeTicker) C() <-chan time.Time { return f.c }
func (f *fakeTicker) Stop()               { f.once.Do(func() { close(f.stopped) }) }

// fakeClock only moves when told to. Advance delivers one tick and returns
// once the session has taken it.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	ticker *fakeTicker
	ready  chan struct{}
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0), ready: make(chan struct{})}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) NewTicker(time.Duration) Ticker {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ticker = &fakeTicker{c: make(chan time.Time), stopped: make(chan struct{})}
	close(f.ready)
	return f.ticker
}

func (f *fakeClock) Advance(t *testing.T, d time.Duration) {
	t.Helper()
	<-f.ready
	f.mu.Lock()
	f.now = f.now.Add(d)
	now, tk := f.now, f.ticker
	f.mu.Unlock()
	select {
	case tk.c <- now:
	case <-time.After(2 * time.Second):
		t.Fatal("session did not take the tick")
	}
}

type sent struct {
	Event   string
	Payload any
}

type fakeChannel struct {
	sent      chan sent
	events    chan socketio.Event
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		sent:   make(chan sent, 64),
		events: make(chan socketio.Event, 16),
		closed: make(chan struct{}),
	}
}

func (f *fakeChannel) Emit(event string, payload any) error {
	select {
	case <-f.closed:
		return socketio.ErrClosed
	default:
	}
	f.sent <- sent{Event: event, Payload: payload}
	return nil
}

func (f *fakeChannel) Events() <-chan socketio.Event { return f.events }
func (f *fakeChannel) Transport() string             { return "fake" }

func (f *fakeChannel) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeChannel) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

// push delivers a server event. data is marshalled unless it is a string,
// which is taken as raw JSON.
func (f *fakeChannel) push(t *testing.T, name string, data any) {
	t.Helper()
	var raw json.RawMessage
	switch v := data.(type) {
	case nil:
	case string:
		raw = json.RawMessage(v)
	default:
		b, err := json.Marshal(v)
		require.NoError(t, err)
		raw = b
	}
	f.events <- socketio.Event{Name: name, Data: raw}
}

// drop simulates the transport going away.
func (f *fakeChannel) drop() { close(f.events) }

func (f *fakeChannel) next(t *testing.T) sent {
	t.Helper()
	select {
	case s := <-f.sent:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("nothing sent")
		return sent{}
	}
}

func (f *fakeChannel) nothingSent(t *testing.T) {
	t.Helper()
	select {
	case s := <-f.sent:
		t.Fatalf("unexpected send %+v", s)
	default:
	}
}

// fakeDialer hands out a fresh channel per dial. fail makes the next n
// dials error out; gate, when set, holds the first dial until closed.
type fakeDialer struct {
	mu    sync.Mutex
	fail  int
	gate  chan struct{}
	dials chan *fakeChannel
	calls int
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{dials: make(chan *fakeChannel, 16)}
}

var errDialRefused = errors.New("connection refused")

func (f *fakeDialer) Dial(ctx context.Context) (Channel, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	fail := f.fail > 0
	if fail {
		f.fail--
	}
	gate := f.gate
	f.mu.Unlock()

	if call == 1 && gate != nil {
		<-gate // ignores ctx, like a dial that completes after being superseded
	}
	if fail {
		return nil, errDialRefused
	}
	ch := newFakeChannel()
	f.dials <- ch
	return ch, nil
}

func (f *fakeDialer) next(t *testing.T) *fakeChannel {
	t.Helper()
	select {
	case ch := <-f.dials:
		return ch
	case <-time.After(2 * time.Second):
		t.Fatal("no dial")
		return nil
	}
}

func (f *fakeDialer) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fixedID string

func (f fixedID) GetOrCreatePlayerID(context.Context) string { return string(f) }
