// Copyright (C) 2026 Seqlab (dev@seqlab.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import "time"

// CursorLocation is one viewport rectangle a collaborator is looking at.
type CursorLocation struct {
	Assembly string `json:"assembly"`
	RefSeq   string `json:"refSeq"`
	Start    int64  `json:"start"`
	End      int64  `json:"end"`
}

// Collaborator is ephemeral session presence: created on connect, updated
// on viewport change, destroyed on disconnect. Never persisted.
type Collaborator struct {
	UserID    string           `json:"userId"`
	Name      string           `json:"name,omitempty"`
	SessionID string           `json:"sessionId"`
	Locations []CursorLocation `json:"locations,omitempty"`
	LastSeen  time.Time        `json:"-"`
}
