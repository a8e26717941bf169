// Copyright (C) 2026 Seqlab (dev@seqlab.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package broadcast

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/seqlab/annohub/services/annotation/datatypes"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBufferSize = 64
)

// Session is one websocket connection. Reads and writes each run on their
// own goroutine; all hub-facing state is guarded by mu.
type Session struct {
	ID       string
	Identity datatypes.Identity

	hub  *Hub
	conn *websocket.Conn
	send chan Message

	// locationLimiter throttles cursor updates so a fast-scrolling
	// client cannot flood every other session.
	locationLimiter *rate.Limiter

	mu         sync.Mutex
	assemblies map[string]bool
	locations  []datatypes.CursorLocation
	lastSeen   time.Time
	closed     bool
}

// NewSession wraps an upgraded connection. conn may be nil in tests that
// only exercise hub routing.
func NewSession(hub *Hub, conn *websocket.Conn, identity datatypes.Identity) *Session {
	return &Session{
		ID:              uuid.NewString(),
		Identity:        identity,
		hub:             hub,
		conn:            conn,
		send:            make(chan Message, sendBufferSize),
		locationLimiter: rate.NewLimiter(rate.Limit(5), 10),
		assemblies:      make(map[string]bool),
		lastSeen:        time.Now(),
	}
}

// Run registers the session and pumps until the connection drops or ctx
// is cancelled. Blocks; call from the websocket handler goroutine.
func (s *Session) Run(ctx context.Context) {
	s.hub.Register(s)
	defer s.hub.Unregister(s.ID)

	done := make(chan struct{})
	go s.writePump(done)
	s.readPump(ctx)
	<-done
}

func (s *Session) readPump(ctx context.Context) {
	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.touch()
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if ctx.Err() != nil {
			return
		}
		var msg ClientMessage
		if err := s.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.hub.log.Debug("session read error", "session_id", s.ID, "error", err)
			}
			return
		}
		s.touch()

		switch msg.Action {
		case ActionSubscribe:
			if msg.Assembly != "" {
				s.hub.Subscribe(s.ID, msg.Assembly)
			}
		case ActionUnsubscribe:
			if msg.Assembly != "" {
				s.hub.Unsubscribe(s.ID, msg.Assembly)
			}
		case ActionLocation:
			if s.locationLimiter.Allow() {
				s.hub.UpdateLocation(s.ID, msg.Locations)
			}
		default:
			s.hub.log.Debug("unknown client action", "session_id", s.ID, "action", msg.Action)
		}
	}
}

func (s *Session) writePump(done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer s.conn.Close()

	for {
		select {
		case msg, ok := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// trySend queues msg without blocking. Returns false if the buffer is
// full or the session is closed.
func (s *Session) trySend(msg Message) bool {
	// The send stays under mu so Unregister cannot close the channel
	// between the closed check and the enqueue.
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.send <- msg:
		return true
	default:
		return false
	}
}

func (s *Session) closeSend() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.send)
	}
}

func (s *Session) subscribe(assembly string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.assemblies[assembly] {
		return false
	}
	s.assemblies[assembly] = true
	return true
}

func (s *Session) unsubscribe(assembly string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.assemblies[assembly] {
		return false
	}
	delete(s.assemblies, assembly)
	return true
}

func (s *Session) subscribedTo(assembly string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.assemblies[assembly]
}

func (s *Session) subscriptions() map[string]bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]bool, len(s.assemblies))
	for a := range s.assemblies {
		out[a] = true
	}
	return out
}

func (s *Session) setLocations(locations []datatypes.CursorLocation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locations = locations
	s.lastSeen = time.Now()
}

func (s *Session) touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSeen = time.Now()
}

func (s *Session) seenAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

func (s *Session) collaborator() datatypes.Collaborator {
	s.mu.Lock()
	defer s.mu.Unlock()
	locs := make([]datatypes.CursorLocation, len(s.locations))
	copy(locs, s.locations)
	return datatypes.Collaborator{
		UserID:    s.Identity.UserID,
		Name:      s.Identity.Name,
		SessionID: s.ID,
		Locations: locs,
		LastSeen:  s.lastSeen,
	}
}
