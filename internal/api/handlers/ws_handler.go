package handlers

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/opsforge/engine/internal/realtime"
	"github.com/opsforge/engine/pkg/logger"
	"go.uber.org/zap"
)

// WSHandler upgrades HTTP connections and feeds inbound frames to the hub.
type WSHandler struct {
	hub      *realtime.Hub
	upgrader websocket.Upgrader
}

func NewWSHandler(hub *realtime.Hub) *WSHandler {
	return &WSHandler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

func (h *WSHandler) Serve(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.L().Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	session := h.hub.Register(realtime.NewWebsocketTransport(conn))
	defer h.hub.Unregister(session.ID)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		h.hub.HandleMessage(session, data)
	}
}
