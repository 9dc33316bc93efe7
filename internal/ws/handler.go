package ws

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/emberlyhq/emberly-backend/internal/auth"
)

// Handler upgrades authenticated HTTP requests into hub sessions.
type Handler struct {
	hub        *Hub
	dispatcher *Dispatcher
	verifier   *auth.Verifier
	logger     zerolog.Logger

	pongWait  time.Duration
	writeWait time.Duration
	upgrader  websocket.Upgrader
}

func NewHandler(hub *Hub, dispatcher *Dispatcher, verifier *auth.Verifier, logger zerolog.Logger, pongWait, writeWait time.Duration) *Handler {
	return &Handler{
		hub:        hub,
		dispatcher: dispatcher,
		verifier:   verifier,
		logger:     logger.With().Str("component", "ws").Logger(),
		pongWait:   pongWait,
		writeWait:  writeWait,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// Bearer verification is the admission control; origin checks
				// belong to the CORS layer on the REST surface.
				return true
			},
		},
	}
}

// ServeWS is the connection handshake. The bearer credential is verified
// before the upgrade: a bad or expired token is refused with 401 and no
// session is ever created.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID, err := h.verifier.Verify(auth.FromRequest(r))
	if err != nil {
		h.logger.Warn().Str("remote_addr", r.RemoteAddr).Msg("handshake rejected")
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("upgrade failed")
		return
	}

	client := newClient(h.hub, conn, userID, h.dispatcher.Dispatch, h.logger, h.pongWait, h.writeWait)
	h.hub.Register(client)
	h.logger.Info().Str("user_id", userID).Msg("session connected")

	go client.writePump()
	go client.readPump()
}
