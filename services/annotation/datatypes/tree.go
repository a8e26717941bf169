// Copyright (C) 2026 Seqlab (dev@seqlab.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"fmt"
	"sort"
)

// FeatureTree is an indexed in-memory forest of top-level feature
// documents. Both the client change manager and the server-side store apply
// path operate on a FeatureTree, so a change mutates identical structures
// on every replica.
//
// FeatureTree is not safe for concurrent use; callers serialize access.
type FeatureTree struct {
	roots map[string]*Feature
	index map[string]*Feature // any feature id -> node
	owner map[string]string   // any feature id -> owning root id
}

// NewFeatureTree returns an empty tree.
func NewFeatureTree() *FeatureTree {
	return &FeatureTree{
		roots: make(map[string]*Feature),
		index: make(map[string]*Feature),
		owner: make(map[string]string),
	}
}

// AddRoot inserts a top-level feature document and indexes every node in
// its subtree. Fails if any id in the subtree is already present.
func (t *FeatureTree) AddRoot(f *Feature) error {
	var clash string
	f.Walk(func(n *Feature) bool {
		if _, ok := t.index[n.ID]; ok {
			clash = n.ID
			return false
		}
		return true
	})
	if clash != "" {
		return fmt.Errorf("feature %s already present in tree", clash)
	}
	t.roots[f.ID] = f
	f.Walk(func(n *Feature) bool {
		t.index[n.ID] = n
		t.owner[n.ID] = f.ID
		return true
	})
	return nil
}

// Get returns the feature with the given id anywhere in the forest.
func (t *FeatureTree) Get(id string) (*Feature, bool) {
	f, ok := t.index[id]
	return f, ok
}

// Root returns the top-level document with the given id.
func (t *FeatureTree) Root(id string) (*Feature, bool) {
	f, ok := t.roots[id]
	return f, ok
}

// OwnerOf returns the id of the top-level document owning the given
// feature id.
func (t *FeatureTree) OwnerOf(id string) (string, bool) {
	root, ok := t.owner[id]
	return root, ok
}

// Roots returns the top-level documents in deterministic order.
func (t *FeatureTree) Roots() []*Feature {
	ids := make([]string, 0, len(t.roots))
	for id := range t.roots {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]*Feature, 0, len(ids))
	for _, id := range ids {
		out = append(out, t.roots[id])
	}
	return out
}

// AddChild attaches a feature subtree under the given parent, indexing all
// new nodes.
func (t *FeatureTree) AddChild(parentID string, f *Feature) error {
	parent, ok := t.index[parentID]
	if !ok {
		return fmt.Errorf("parent feature %s: %w", parentID, ErrNotFound)
	}
	if _, exists := t.index[f.ID]; exists {
		return fmt.Errorf("feature %s already present in tree", f.ID)
	}
	if parent.Children == nil {
		parent.Children = make(map[string]*Feature)
	}
	parent.Children[f.ID] = f
	rootID := t.owner[parentID]
	f.Walk(func(n *Feature) bool {
		t.index[n.ID] = n
		t.owner[n.ID] = rootID
		return true
	})
	return nil
}

// Delete removes the feature with the given id, cascading to all
// descendants. Deleting a root removes the whole document. Returns the
// removed subtree.
func (t *FeatureTree) Delete(id string) (*Feature, error) {
	f, ok := t.index[id]
	if !ok {
		return nil, fmt.Errorf("feature %s: %w", id, ErrNotFound)
	}
	rootID := t.owner[id]
	if rootID == id {
		delete(t.roots, id)
	} else {
		root := t.roots[rootID]
		parent := root.FindParentOf(id)
		if parent == nil {
			return nil, fmt.Errorf("feature %s has no parent in document %s", id, rootID)
		}
		delete(parent.Children, id)
	}
	f.Walk(func(n *Feature) bool {
		delete(t.index, n.ID)
		delete(t.owner, n.ID)
		return true
	})
	return f, nil
}

// Len returns the number of indexed features (all nodes, not just roots).
func (t *FeatureTree) Len() int {
	return len(t.index)
}
