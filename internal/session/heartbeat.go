package session

import (
	"time"

	"github.com/DoyleJ11/storycards/internal/projector"
	"go.uber.org/zap"
)

// ConnState is the liveness state machine:
//
//	connecting   -> connected     dial succeeded
//	connected    -> stale         transport reported the connection gone
//	connected    -> reconnecting  no pulse or snapshot within the window
//	stale        -> reconnecting  window elapsed
//	reconnecting -> connected     dial succeeded
//	any          -> closed        Dispose
//
// A failed dial leaves the state alone; the next elapsed window retries.
type ConnState int

const (
	StateIdle ConnState = iota
	StateConnecting
	StateConnected
	StateStale
	StateReconnecting
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateStale:
		return "stale"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "idle"
	}
}

// ConnectionState is what a status banner needs.
type ConnectionState struct {
	State           ConnState
	Connected       bool
	LastHeartbeatAt time.Time
	Generation      uint64
	Transport       string
}

// alive records liveness evidence.
func (s *Session) alive() {
	s.lastHeartbeat = s.clock.Now()
	s.syncStatus()
}

func (s *Session) checkHeartbeat(now time.Time) {
	if s.state == StateClosed || s.state == StateIdle {
		return
	}
	if now.Sub(s.lastHeartbeat) <= s.staleAfter {
		return
	}

	s.log.Info("no heartbeat, reconnecting",
		zap.Duration("silent_for", now.Sub(s.lastHeartbeat)),
		zap.Uint64("gen", s.gen),
	)
	s.closeConn()
	// Restart the window now so a slow dial does not trigger another one.
	s.lastHeartbeat = now
	s.dial(StateReconnecting)
	s.publish(projector.ChangeNone, nil)
}
