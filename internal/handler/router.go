package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/qiyuanwang/roundtable/backend/internal/handler/ws"
	middlewarePkg "github.com/qiyuanwang/roundtable/backend/internal/middleware"
	roomservice "github.com/qiyuanwang/roundtable/backend/internal/service/room"
	"github.com/qiyuanwang/roundtable/backend/pkg/utils"
)

// NewRouter wires HTTP routes to core services.
func NewRouter(roomSvc *roomservice.Service, wsHandler *ws.Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		utils.RespondError(w, http.StatusNotFound, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		utils.RespondError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Route("/api", func(api chi.Router) {
		api.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
			utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})

		api.Get("/room", func(w http.ResponseWriter, _ *http.Request) {
			utils.RespondJSON(w, http.StatusOK, map[string]any{
				"room_id": roomSvc.RoomID(),
				"phase":   roomSvc.Phase().String(),
				"state":   roomSvc.State(),
				"online":  roomSvc.Online(),
			})
		})

		api.Get("/room/stats", func(w http.ResponseWriter, _ *http.Request) {
			utils.RespondJSON(w, http.StatusOK, roomSvc.Stats())
		})
	})

	wsHandler.RegisterRoutes(r)

	return r
}
