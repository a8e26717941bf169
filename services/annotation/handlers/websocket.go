// Copyright (C) 2026 Seqlab (dev@seqlab.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/seqlab/annohub/pkg/logging"
	"github.com/seqlab/annohub/services/annotation/broadcast"
	"github.com/seqlab/annohub/services/annotation/middleware"
)

// WebSocketHandler upgrades GET /v1/ws to the live change stream.
type WebSocketHandler struct {
	hub      *broadcast.Hub
	upgrader websocket.Upgrader
	log      *logging.Logger
}

func NewWebSocketHandler(hub *broadcast.Hub, log *logging.Logger) *WebSocketHandler {
	if log == nil {
		log = logging.Default()
	}
	return &WebSocketHandler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Token auth already ran; browser clients connect from the
			// embedded genome browser on arbitrary origins.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log: log.With("handler", "websocket"),
	}
}

// Serve handles GET /v1/ws. The session lives until the client
// disconnects or the server shuts down.
func (h *WebSocketHandler) Serve(c *gin.Context) {
	identity := middleware.GetIdentity(c)
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		h.log.Debug("websocket upgrade failed", "error", err)
		return
	}

	session := broadcast.NewSession(h.hub, conn, identity)
	// The client picks its session id so the id on its change
	// submissions matches the one on this stream; that match is what
	// lets it skip its own echo.
	if id := c.GetHeader(middleware.SessionHeader); id != "" {
		session.ID = id
	}
	h.log.Info("websocket session opened", "session_id", session.ID, "user", identity.UserID)
	session.Run(c.Request.Context())
	h.log.Info("websocket session closed", "session_id", session.ID)
}
