// Copyright (C) 2026 Seqlab (dev@seqlab.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

// Role is a fixed lattice: none < readOnly < user < admin. A role covers
// every role below it.
type Role string

const (
	RoleNone     Role = "none"
	RoleReadOnly Role = "readOnly"
	RoleUser     Role = "user"
	RoleAdmin    Role = "admin"
)

func (r Role) rank() int {
	switch r {
	case RoleAdmin:
		return 3
	case RoleUser:
		return 2
	case RoleReadOnly:
		return 1
	default:
		return 0
	}
}

// Covers reports whether this role satisfies the required role under the
// inheritance lattice.
func (r Role) Covers(required Role) bool {
	return r.rank() >= required.rank()
}

// Valid reports whether r is one of the four defined roles.
func (r Role) Valid() bool {
	switch r {
	case RoleNone, RoleReadOnly, RoleUser, RoleAdmin:
		return true
	}
	return false
}

// Identity is the authenticated principal attached to a change submission
// or a live session. Token issuance and verification live behind the
// middleware boundary; the annotation core only sees this struct.
type Identity struct {
	UserID string `json:"userId"`
	Name   string `json:"name,omitempty"`
	Role   Role   `json:"role"`
}
