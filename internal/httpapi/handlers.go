package httpapi

import (
	"crypto/rand"
	"encoding/json"
	"math/big"
	"net/http"
	"time"

	"github.com/DoyleJ11/storycards/internal/hub"
	"github.com/DoyleJ11/storycards/internal/lobby"
	"go.uber.org/zap"
)

const listTimeout = 3 * time.Second

func GenerateCode() (string, error) {
	const charset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	code := make([]byte, 6)
	for i := range code {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", err
		}
		code[i] = charset[num.Int64()]
	}
	return string(code), nil
}

// CreateRoom reserves a fresh room code. Players still join it over the
// socket with joinRoom.
func CreateRoom(h *hub.Hub, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var code string
		for {
			c, err := GenerateCode()
			if err != nil {
				http.Error(w, "failed to generate code", http.StatusInternalServerError)
				return
			}
			reply := make(chan *lobby.Lobby, 1)
			h.Inbox() <- hub.GetLobby{Code: c, Reply: reply}
			if <-reply == nil {
				code = c
				break
			}
			log.Debug("collision on code, regenerating", zap.String("code", c))
		}

		reply := make(chan *lobby.Lobby, 1)
		h.Inbox() <- hub.EnsureLobby{Code: code, Reply: reply}
		if <-reply == nil {
			http.Error(w, "failed to create room", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusCreated, struct {
			RoomID string `json:"roomId"`
		}{RoomID: code})
	}
}

// ListRooms reports every active room.
func ListRooms(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reply := make(chan []hub.Summary, 1)
		select {
		case h.Inbox() <- hub.ListLobbies{Reply: reply}:
		case <-r.Context().Done():
			return
		}

		select {
		case rooms := <-reply:
			writeJSON(w, http.StatusOK, struct {
				Rooms []hub.Summary `json:"rooms"`
			}{Rooms: rooms})
		case <-time.After(listTimeout):
			http.Error(w, "listing timed out", http.StatusGatewayTimeout)
		case <-r.Context().Done():
		}
	}
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
