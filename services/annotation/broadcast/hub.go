// Copyright (C) 2026 Seqlab (dev@seqlab.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package broadcast

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/seqlab/annohub/pkg/logging"
	"github.com/seqlab/annohub/services/annotation/datatypes"
	"github.com/seqlab/annohub/services/annotation/executor"
	"github.com/seqlab/annohub/services/annotation/observability"
)

const defaultPresenceTTL = 90 * time.Second

// Hub routes messages to sessions grouped by assembly subscription and
// tracks collaborator presence. Safe for concurrent use.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	presenceTTL time.Duration
	metrics     *observability.Metrics
	log         *logging.Logger
}

func NewHub(log *logging.Logger, metrics *observability.Metrics) *Hub {
	if log == nil {
		log = logging.Default()
	}
	return &Hub{
		sessions:    make(map[string]*Session),
		presenceTTL: defaultPresenceTTL,
		metrics:     metrics,
		log:         log.With("component", "broadcast"),
	}
}

// Register adds a session to the hub. The session delivers nothing until
// it subscribes to at least one assembly.
func (h *Hub) Register(s *Session) {
	h.mu.Lock()
	h.sessions[s.ID] = s
	h.mu.Unlock()
	h.log.Debug("session registered", "session_id", s.ID, "user", s.Identity.UserID)
}

// Unregister removes a session and closes its send channel. Idempotent.
func (h *Hub) Unregister(sessionID string) {
	h.mu.Lock()
	s, ok := h.sessions[sessionID]
	if ok {
		delete(h.sessions, sessionID)
	}
	h.mu.Unlock()
	if !ok {
		return
	}
	s.closeSend()
	if h.metrics != nil {
		for assembly := range s.subscriptions() {
			h.metrics.ActiveSessions.WithLabelValues(assembly).Dec()
		}
	}
	h.log.Debug("session unregistered", "session_id", sessionID)
}

// Subscribe adds an assembly to a session's topic set.
func (h *Hub) Subscribe(sessionID, assembly string) {
	h.mu.RLock()
	s, ok := h.sessions[sessionID]
	h.mu.RUnlock()
	if !ok {
		return
	}
	if s.subscribe(assembly) && h.metrics != nil {
		h.metrics.ActiveSessions.WithLabelValues(assembly).Inc()
	}
}

// Unsubscribe removes an assembly from a session's topic set.
func (h *Hub) Unsubscribe(sessionID, assembly string) {
	h.mu.RLock()
	s, ok := h.sessions[sessionID]
	h.mu.RUnlock()
	if !ok {
		return
	}
	if s.unsubscribe(assembly) && h.metrics != nil {
		h.metrics.ActiveSessions.WithLabelValues(assembly).Dec()
	}
}

// Broadcast delivers msg to every session subscribed to assembly. A
// session with a full buffer is skipped; slow consumers never block the
// fan-out.
func (h *Hub) Broadcast(assembly string, msg Message) {
	h.mu.RLock()
	targets := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		if s.subscribedTo(assembly) {
			targets = append(targets, s)
		}
	}
	h.mu.RUnlock()

	for _, s := range targets {
		h.deliver(s, msg)
	}
}

func (h *Hub) deliver(s *Session, msg Message) {
	if s.trySend(msg) {
		if h.metrics != nil {
			h.metrics.BroadcastsTotal.WithLabelValues(msg.Kind).Inc()
		}
		return
	}
	if h.metrics != nil {
		h.metrics.BroadcastDropsTotal.Inc()
	}
	h.log.Warn("dropping message for slow session", "session_id", s.ID, "kind", msg.Kind)
}

// PublishChange implements the executor's publisher: a committed change
// fans out to every session watching its assembly, tagged with the
// originating session id so the submitter can skip the echo.
func (h *Hub) PublishChange(ctx context.Context, ev executor.Event) {
	h.Broadcast(ev.Entry.Assembly, Message{
		Kind:       KindChange,
		SessionID:  ev.SessionID,
		ChangeID:   ev.Entry.ID,
		Assembly:   ev.Entry.Assembly,
		TypeName:   ev.Entry.TypeName,
		ChangedIDs: ev.Entry.ChangedIDs,
		Change:     ev.Entry.Change,
		User:       ev.Entry.User,
		CreatedAt:  ev.Entry.CreatedAt,
		Reports:    ev.Reports,
	})
}

// UpdateLocation records a session's cursor positions and fans them out
// to other sessions watching the same assemblies.
func (h *Hub) UpdateLocation(sessionID string, locations []datatypes.CursorLocation) {
	h.mu.RLock()
	s, ok := h.sessions[sessionID]
	h.mu.RUnlock()
	if !ok {
		return
	}
	s.setLocations(locations)

	collab := s.collaborator()
	assemblies := make(map[string]bool)
	for _, loc := range locations {
		assemblies[loc.Assembly] = true
	}
	for assembly := range assemblies {
		h.Broadcast(assembly, Message{
			Kind:         KindLocation,
			SessionID:    sessionID,
			Assembly:     assembly,
			Collaborator: &collab,
		})
	}
}

// Collaborators returns the live collaborators on an assembly, sorted by
// user id. Sessions silent longer than the presence TTL are excluded.
func (h *Hub) Collaborators(assembly string) []datatypes.Collaborator {
	cutoff := time.Now().Add(-h.presenceTTL)
	h.mu.RLock()
	var out []datatypes.Collaborator
	for _, s := range h.sessions {
		if !s.subscribedTo(assembly) || s.seenAt().Before(cutoff) {
			continue
		}
		out = append(out, s.collaborator())
	}
	h.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// ForceLogout tells every session of a user to re-authenticate and then
// drops them. Used when a user's access is revoked.
func (h *Hub) ForceLogout(userID, reason string) {
	h.mu.RLock()
	var targets []*Session
	for _, s := range h.sessions {
		if s.Identity.UserID == userID {
			targets = append(targets, s)
		}
	}
	h.mu.RUnlock()

	for _, s := range targets {
		h.deliver(s, Message{Kind: KindLogout, Reason: reason})
		h.Unregister(s.ID)
	}
}

// RunJanitor prunes sessions whose presence went stale, until ctx is
// cancelled. Stale usually means the read pump died without a clean
// close.
func (h *Hub) RunJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = h.presenceTTL
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.pruneStale()
		}
	}
}

func (h *Hub) pruneStale() {
	cutoff := time.Now().Add(-2 * h.presenceTTL)
	h.mu.RLock()
	var stale []string
	for id, s := range h.sessions {
		if s.seenAt().Before(cutoff) {
			stale = append(stale, id)
		}
	}
	h.mu.RUnlock()
	for _, id := range stale {
		h.log.Info("pruning stale session", "session_id", id)
		h.Unregister(id)
	}
}
