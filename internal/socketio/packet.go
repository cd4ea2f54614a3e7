// Package socketio is a small Socket.IO v5 client over Engine.IO v4. It only
// knows the default namespace, text packets and fire-and-forget events, which
// is all the game protocol uses.
package socketio

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Engine.IO packet types.
const (
	eioOpen    = '0'
	eioClose   = '1'
	eioPing    = '2'
	eioPong    = '3'
	eioMessage = '4'
	eioUpgrade = '5'
	eioNoop    = '6'
)

// Socket.IO packet types, carried inside an Engine.IO message.
const (
	sioConnect      = '0'
	sioDisconnect   = '1'
	sioEvent        = '2'
	sioAck          = '3'
	sioConnectError = '4'
	sioBinaryEvent  = '5'
	sioBinaryAck    = '6'
)

// Packets within one polling payload are joined by the record separator.
const recordSeparator = "\x1e"

var ErrMalformedPacket = errors.New("malformed packet")

// Handshake is the body of the Engine.IO open packet.
type Handshake struct {
	SID          string   `json:"sid"`
	Upgrades     []string `json:"upgrades"`
	PingInterval int      `json:"pingInterval"` // ms
	PingTimeout  int      `json:"pingTimeout"`  // ms
	MaxPayload   int      `json:"maxPayload"`
}

// Event is one received Socket.IO event. Only the first argument is kept.
type Event struct {
	Name string
	Data json.RawMessage
}

// EncodeEvent renders `42["name",payload]`.
func EncodeEvent(name string, payload any) (string, error) {
	args := []any{name}
	if payload != nil {
		args = append(args, payload)
	}
	data, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("encode %s: %w", name, err)
	}
	return string([]byte{eioMessage, sioEvent}) + string(data), nil
}

// EncodeOpen renders the open packet a server sends first.
func EncodeOpen(hs Handshake) (string, error) {
	data, err := json.Marshal(hs)
	if err != nil {
		return "", err
	}
	return string(eioOpen) + string(data), nil
}

func decodeHandshake(body string) (Handshake, error) {
	var hs Handshake
	if err := json.Unmarshal([]byte(body), &hs); err != nil {
		return hs, fmt.Errorf("%w: open: %w", ErrMalformedPacket, err)
	}
	return hs, nil
}

// socketPacket is a parsed Socket.IO packet.
type socketPacket struct {
	typ       byte
	namespace string
	payload   string
}

// parseSocketPacket parses `<type>[/nsp,][ackId][json]`.
func parseSocketPacket(s string) (socketPacket, error) {
	if s == "" {
		return socketPacket{}, fmt.Errorf("%w: empty socket packet", ErrMalformedPacket)
	}
	p := socketPacket{typ: s[0], namespace: "/"}
	rest := s[1:]

	if p.typ == sioBinaryEvent || p.typ == sioBinaryAck {
		// attachment count precedes the namespace
		i := strings.IndexByte(rest, '-')
		if i < 0 {
			return p, fmt.Errorf("%w: binary packet without attachment count", ErrMalformedPacket)
		}
		rest = rest[i+1:]
	}

	if strings.HasPrefix(rest, "/") {
		i := strings.IndexByte(rest, ',')
		if i < 0 {
			p.namespace = rest
			return p, nil
		}
		p.namespace, rest = rest[:i], rest[i+1:]
	}

	// optional ack id
	i := 0
	for i < len(rest) && rest[i] >= '0' && rest[i] <= '9' {
		i++
	}
	p.payload = rest[i:]
	return p, nil
}

func decodeEvent(payload string) (Event, error) {
	var args []json.RawMessage
	if err := json.Unmarshal([]byte(payload), &args); err != nil {
		return Event{}, fmt.Errorf("%w: event: %w", ErrMalformedPacket, err)
	}
	if len(args) == 0 {
		return Event{}, fmt.Errorf("%w: event without name", ErrMalformedPacket)
	}

	var ev Event
	if err := json.Unmarshal(args[0], &ev.Name); err != nil {
		return Event{}, fmt.Errorf("%w: event name: %w", ErrMalformedPacket, err)
	}
	if len(args) > 1 {
		ev.Data = args[1]
	}
	return ev, nil
}

// DecodeEvent is the server-side counterpart of EncodeEvent. It accepts a
// full Engine.IO message packet.
func DecodeEvent(packet string) (Event, error) {
	if len(packet) < 2 || packet[0] != eioMessage || packet[1] != sioEvent {
		return Event{}, fmt.Errorf("%w: not an event: %q", ErrMalformedPacket, packet)
	}
	sp, err := parseSocketPacket(packet[1:])
	if err != nil {
		return Event{}, err
	}
	return decodeEvent(sp.payload)
}

func splitPayload(body string) []string {
	if body == "" {
		return nil
	}
	return strings.Split(body, recordSeparator)
}
