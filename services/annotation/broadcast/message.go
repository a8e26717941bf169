// Copyright (C) 2026 Seqlab (dev@seqlab.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package broadcast fans committed changes and collaborator presence out
// to connected websocket clients, grouped by assembly.
//
// Delivery is at-most-once: a session whose send buffer is full has the
// message dropped rather than stalling the hub, and clients are expected
// to recover from gaps by re-fetching the change log.
package broadcast

import (
	"time"

	"github.com/seqlab/annohub/services/annotation/datatypes"
)

// Message kinds on the server-to-client stream.
const (
	KindChange   = "change"
	KindLocation = "location"
	KindLogout   = "logout"
)

// Message is one server-to-client websocket frame.
type Message struct {
	Kind string `json:"kind"`

	// SessionID is the originating session, echoed so the submitting
	// client can skip its own change.
	SessionID string `json:"sessionId,omitempty"`

	// Change fields, set when Kind == KindChange.
	ChangeID   string                     `json:"changeId,omitempty"`
	Assembly   string                     `json:"assembly,omitempty"`
	TypeName   string                     `json:"typeName,omitempty"`
	ChangedIDs []string                   `json:"changedIds,omitempty"`
	Change     datatypes.SerializedChange `json:"change,omitempty"`
	User       string                     `json:"user,omitempty"`
	CreatedAt  time.Time                  `json:"createdAt,omitempty"`
	Reports    []datatypes.CheckReport    `json:"reports,omitempty"`

	// Collaborator is set when Kind == KindLocation.
	Collaborator *datatypes.Collaborator `json:"collaborator,omitempty"`

	// Reason is set when Kind == KindLogout.
	Reason string `json:"reason,omitempty"`
}

// Client-to-server actions.
const (
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
	ActionLocation    = "location"
)

// ClientMessage is one client-to-server websocket frame.
type ClientMessage struct {
	Action    string                     `json:"action"`
	Assembly  string                     `json:"assembly,omitempty"`
	Locations []datatypes.CursorLocation `json:"locations,omitempty"`
}
