package session

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/DoyleJ11/storycards/pkg/types"
)

// Params are the navigation parameters read once when a game view opens.
type Params struct {
	Name            string
	RoomID          string
	NumberOfPlayers string
}

// ParamsFromQuery reads name, roomId and numberOfPlayers.
func ParamsFromQuery(q url.Values) Params {
	return Params{
		Name:            strings.TrimSpace(q.Get("name")),
		RoomID:          strings.TrimSpace(q.Get("roomId")),
		NumberOfPlayers: strings.TrimSpace(q.Get("numberOfPlayers")),
	}
}

// ParamsFromURL accepts a full URL or just a path with a query, such as
// "/room?roomId=42&name=Ann&numberOfPlayers=4".
func ParamsFromURL(raw string) (Params, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Params{}, fmt.Errorf("parse room url: %w", err)
	}
	return ParamsFromQuery(u.Query()), nil
}

// Join builds the join handshake. ok is false without a room id, in which
// case no join may be sent.
func (p Params) Join(playerID, name string) (req types.JoinRoom, ok bool) {
	if p.RoomID == "" {
		return types.JoinRoom{}, false
	}
	return types.JoinRoom{
		RoomID:          p.RoomID,
		ID:              playerID,
		NumberOfPlayers: p.NumberOfPlayers,
		Name:            name,
	}, true
}
