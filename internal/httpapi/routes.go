package httpapi

import (
	"net/http"

	"github.com/DoyleJ11/storycards/internal/hub"
	"github.com/DoyleJ11/storycards/internal/socketio"
	"github.com/DoyleJ11/storycards/internal/ws"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

func SetupRoutes(h *hub.Hub, log *zap.Logger, wsOpts ws.Options) http.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	if wsOpts.Logger == nil {
		wsOpts.Logger = log
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	// Public routes
	r.Get("/healthz", Healthz)
	r.Post("/rooms", CreateRoom(h, log))
	r.Get("/rooms", ListRooms(h))
	r.Get(socketio.DefaultPath, ws.Handler(h, wsOpts))
	return r
}
