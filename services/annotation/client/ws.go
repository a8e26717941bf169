// Copyright (C) 2026 Seqlab (dev@seqlab.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package client

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/seqlab/annohub/services/annotation/broadcast"
	"github.com/seqlab/annohub/services/annotation/datatypes"
)

// Stream is a live websocket subscription. Close it to stop receiving.
type Stream struct {
	conn *websocket.Conn
}

// Connect opens the websocket, subscribes to the given assemblies, and
// starts feeding incoming frames through Receive. onError is called with
// any frame that failed to apply (nil disables reporting); the stream
// keeps running so one divergent change does not kill presence updates.
func (m *Manager) Connect(ctx context.Context, assemblies []string, onError func(error)) (*Stream, error) {
	wsURL := strings.Replace(m.baseURL, "http", "ws", 1) + "/v1/ws"
	if m.token != "" {
		wsURL += "?token=" + m.token
	}

	header := http.Header{}
	header.Set("X-Session-ID", m.sessionID)
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial: %s: %w", resp.Status, err)
		}
		return nil, fmt.Errorf("websocket dial: %w", err)
	}

	stream := &Stream{conn: conn}
	for _, assembly := range assemblies {
		if err := stream.send(broadcast.ClientMessage{Action: broadcast.ActionSubscribe, Assembly: assembly}); err != nil {
			conn.Close()
			return nil, err
		}
	}

	go m.readLoop(ctx, stream, onError)
	return stream, nil
}

func (m *Manager) readLoop(ctx context.Context, stream *Stream, onError func(error)) {
	defer stream.Close()
	for {
		if ctx.Err() != nil {
			return
		}
		var msg broadcast.Message
		if err := stream.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				m.log.Warn("websocket closed", "error", err)
			}
			return
		}
		if msg.Kind == broadcast.KindLogout {
			m.log.Warn("server forced logout", "reason", msg.Reason)
			return
		}
		if err := m.Receive(msg); err != nil && onError != nil {
			onError(err)
		}
	}
}

// UpdateLocation publishes the user's cursor positions to collaborators.
func (s *Stream) UpdateLocation(locations []datatypes.CursorLocation) error {
	return s.send(broadcast.ClientMessage{Action: broadcast.ActionLocation, Locations: locations})
}

// Subscribe adds an assembly topic on the live stream.
func (s *Stream) Subscribe(assembly string) error {
	return s.send(broadcast.ClientMessage{Action: broadcast.ActionSubscribe, Assembly: assembly})
}

// Unsubscribe removes an assembly topic.
func (s *Stream) Unsubscribe(assembly string) error {
	return s.send(broadcast.ClientMessage{Action: broadcast.ActionUnsubscribe, Assembly: assembly})
}

func (s *Stream) send(msg broadcast.ClientMessage) error {
	return s.conn.WriteJSON(msg)
}

// Close shuts the websocket down.
func (s *Stream) Close() error {
	_ = s.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return s.conn.Close()
}
