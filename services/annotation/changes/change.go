// Copyright (C) 2026 Seqlab (dev@seqlab.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package changes defines the typed, serializable unit of mutation for
// annotation data and the registry that deserializes opaque payloads into
// concrete variants.
//
// Every variant applies in two execution contexts with identical
// semantics: an in-memory FeatureTree (the client replica) and the
// persistent feature store (the server). Both paths enforce the same
// compare-and-swap discipline: a mutation only applies if the stored old
// value still matches the change's recorded old value, otherwise the
// change is rejected with ErrConcurrentModification instead of silently
// overwriting a concurrent edit.
package changes

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/seqlab/annohub/services/annotation/datatypes"
	"github.com/seqlab/annohub/services/annotation/store"
)

// Change is one edit to the annotation data. Implementations are plain
// structs with JSON tags; Encode/Decode round-trip them losslessly.
type Change interface {
	// TypeName is the registry discriminator, e.g. "LocationEndChange".
	TypeName() string

	// AssemblyID is the assembly this change targets (the broadcast
	// topic key).
	AssemblyID() string

	// ChangedIDs is the set of feature ids the change affects, used for
	// the change log and the re-validation set.
	ChangedIDs() []string

	// CoreCheck validates the payload in isolation: coordinates
	// non-negative, end >= start, required ids present. Runs before any
	// state is touched.
	CoreCheck() error

	// ApplyToTree mutates an in-memory feature tree. Synchronous, no
	// I/O. Re-applying an already-applied change fails the old-value
	// check rather than double-counting.
	ApplyToTree(t *datatypes.FeatureTree) error

	// ApplyToStore mutates the persistent store within the caller's
	// transaction and returns the ids of the features actually mutated.
	ApplyToStore(ctx context.Context, tx store.Txn) ([]string, error)

	// Inverse returns the change that undoes this one, used for
	// optimistic rollback on the client. Not every change is invertible.
	Inverse() (Change, error)
}

// ChangeBase carries the envelope fields shared by every variant.
type ChangeBase struct {
	Type     string   `json:"typeName"`
	Assembly string   `json:"assembly"`
	Changed  []string `json:"changedIds,omitempty"`
}

func (b *ChangeBase) TypeName() string     { return b.Type }
func (b *ChangeBase) AssemblyID() string   { return b.Assembly }
func (b *ChangeBase) ChangedIDs() []string { return b.Changed }

// Encode serializes a change to its wire form. The result feeds back
// through Registry.Decode to an equal value. The typeName discriminator is
// always emitted from TypeName(), so a hand-built change without its
// envelope filled in still decodes.
func Encode(c Change) (datatypes.SerializedChange, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", c.TypeName(), err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("encode %s: %w", c.TypeName(), err)
	}
	name, err := json.Marshal(c.TypeName())
	if err != nil {
		return nil, err
	}
	fields["typeName"] = name
	return json.Marshal(fields)
}

// errInverseUnsupported wraps variants that cannot be undone locally; the
// client falls back to re-fetching authoritative state.
func errInverseUnsupported(typeName string) error {
	return fmt.Errorf("change type %s has no inverse", typeName)
}
