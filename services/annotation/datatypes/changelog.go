// Copyright (C) 2026 Seqlab (dev@seqlab.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"encoding/json"
	"time"
)

// SerializedChange is the wire form of a change: a flat JSON object whose
// "typeName" field selects the concrete variant in the registry. The rest
// of the object is variant-specific and round-trips losslessly.
type SerializedChange = json.RawMessage

// ChangeLogEntry is the immutable, append-only record of a successfully
// applied change. Written in the same storage transaction as the mutation,
// so the log is never ahead of or behind store state.
type ChangeLogEntry struct {
	// ID is a ULID assigned at commit time; lexicographic order is
	// commit order.
	ID         string           `json:"id"`
	Assembly   string           `json:"assembly"`
	TypeName   string           `json:"typeName"`
	ChangedIDs []string         `json:"changedIds"`
	Change     SerializedChange `json:"change"`
	User       string           `json:"user"`
	CreatedAt  time.Time        `json:"createdAt"`
	// Reverts back-references the entry this change undoes, if any.
	Reverts string `json:"reverts,omitempty"`
}

// ChangeFilter selects change-log entries for history queries. Zero fields
// match everything.
type ChangeFilter struct {
	Assembly string    `form:"assembly"`
	User     string    `form:"user"`
	TypeName string    `form:"typeName"`
	Since    time.Time `form:"since" time_format:"2006-01-02T15:04:05Z07:00"`
	Limit    int       `form:"limit"`
}

// Matches reports whether the entry passes the filter (Limit excluded).
func (f ChangeFilter) Matches(e ChangeLogEntry) bool {
	if f.Assembly != "" && e.Assembly != f.Assembly {
		return false
	}
	if f.User != "" && e.User != f.User {
		return false
	}
	if f.TypeName != "" && e.TypeName != f.TypeName {
		return false
	}
	if !f.Since.IsZero() && e.CreatedAt.Before(f.Since) {
		return false
	}
	return true
}

// CheckReport is one advisory finding from the post-hoc CDS checks. Checks
// never block a change; reports are stored per feature and queryable.
type CheckReport struct {
	ID        string    `json:"id"`
	Assembly  string    `json:"assembly"`
	FeatureID string    `json:"featureId"`
	RefSeq    string    `json:"refSeq"`
	Name      string    `json:"name"`
	Message   string    `json:"message"`
	Start     int64     `json:"start"`
	End       int64     `json:"end"`
	CreatedAt time.Time `json:"createdAt"`
}
