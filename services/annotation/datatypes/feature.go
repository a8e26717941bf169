// Copyright (C) 2026 Seqlab (dev@seqlab.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes holds the shared annotation domain model: the
// hierarchical Feature tree, change-log records, roles, presence state,
// and the error taxonomy used across the annotation service.
//
// Coordinates are zero-based half-open internally (interbase). The GFF3
// mirror converts to one-based inclusive on export.
package datatypes

import (
	"fmt"
	"sort"
)

// Strand is the orientation of a feature on its reference sequence.
type Strand int8

const (
	StrandNone    Strand = 0
	StrandForward Strand = 1
	StrandReverse Strand = -1
)

// Location is one contiguous span of a feature. Discontinuous features
// (e.g. a CDS spanning several exons) carry an ordered list of locations.
type Location struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
	// Phase is the CDS reading-frame offset (0, 1 or 2); nil for
	// non-coding spans.
	Phase *int8 `json:"phase,omitempty"`
}

// Valid reports whether the span is well formed.
func (l Location) Valid() bool {
	return l.Start >= 0 && l.End >= l.Start
}

// Feature is a node in the annotation hierarchy (gene, mRNA, exon, CDS...).
// A feature exclusively owns its children; deleting it cascades to all
// descendants.
type Feature struct {
	ID     string `json:"id"`
	RefSeq string `json:"refSeq"`
	// Type is an ontology term (free-form string, e.g. "gene", "mRNA").
	Type      string     `json:"type"`
	Locations []Location `json:"locations"`
	Strand    Strand     `json:"strand,omitempty"`
	// Attributes maps a key to an ordered list of values (GFF3 column 9
	// semantics). Key order is irrelevant.
	Attributes map[string][]string `json:"attributes,omitempty"`
	Children   map[string]*Feature `json:"children,omitempty"`
}

// Min returns the smallest start across all locations.
func (f *Feature) Min() int64 {
	if len(f.Locations) == 0 {
		return 0
	}
	min := f.Locations[0].Start
	for _, l := range f.Locations[1:] {
		if l.Start < min {
			min = l.Start
		}
	}
	return min
}

// Max returns the largest end across all locations.
func (f *Feature) Max() int64 {
	if len(f.Locations) == 0 {
		return 0
	}
	max := f.Locations[0].End
	for _, l := range f.Locations[1:] {
		if l.End > max {
			max = l.End
		}
	}
	return max
}

// Contains reports whether child lies entirely within this feature's span.
func (f *Feature) Contains(child *Feature) bool {
	return child.Min() >= f.Min() && child.Max() <= f.Max()
}

// Find returns the feature with the given id in this subtree, or nil.
func (f *Feature) Find(id string) *Feature {
	if f.ID == id {
		return f
	}
	for _, c := range f.Children {
		if found := c.Find(id); found != nil {
			return found
		}
	}
	return nil
}

// FindParentOf returns the direct parent of the feature with the given id
// within this subtree, or nil if id is this feature or absent.
func (f *Feature) FindParentOf(id string) *Feature {
	for cid, c := range f.Children {
		if cid == id {
			return f
		}
		if p := c.FindParentOf(id); p != nil {
			return p
		}
	}
	return nil
}

// Walk visits this feature and every descendant in a deterministic order.
// Returning false from fn stops the walk.
func (f *Feature) Walk(fn func(*Feature) bool) bool {
	if !fn(f) {
		return false
	}
	ids := make([]string, 0, len(f.Children))
	for id := range f.Children {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if !f.Children[id].Walk(fn) {
			return false
		}
	}
	return true
}

// Copy returns a deep copy of the feature subtree.
func (f *Feature) Copy() *Feature {
	dup := &Feature{
		ID:     f.ID,
		RefSeq: f.RefSeq,
		Type:   f.Type,
		Strand: f.Strand,
	}
	dup.Locations = make([]Location, len(f.Locations))
	copy(dup.Locations, f.Locations)
	if f.Attributes != nil {
		dup.Attributes = make(map[string][]string, len(f.Attributes))
		for k, vs := range f.Attributes {
			vals := make([]string, len(vs))
			copy(vals, vs)
			dup.Attributes[k] = vals
		}
	}
	if f.Children != nil {
		dup.Children = make(map[string]*Feature, len(f.Children))
		for id, c := range f.Children {
			dup.Children[id] = c.Copy()
		}
	}
	return dup
}

// Validate checks the structural invariants of the subtree: every node has
// an id, a non-empty location list, well-formed spans, and children nested
// within their parent's span.
func (f *Feature) Validate() error {
	if f.ID == "" {
		return fmt.Errorf("feature missing id")
	}
	if len(f.Locations) == 0 {
		return fmt.Errorf("feature %s has no locations", f.ID)
	}
	for _, l := range f.Locations {
		if !l.Valid() {
			return fmt.Errorf("feature %s has invalid span [%d,%d)", f.ID, l.Start, l.End)
		}
	}
	for id, c := range f.Children {
		if id != c.ID {
			return fmt.Errorf("feature %s child key %s does not match child id %s", f.ID, id, c.ID)
		}
		if !f.Contains(c) {
			return fmt.Errorf("feature %s [%d,%d) not contained in parent %s [%d,%d)",
				c.ID, c.Min(), c.Max(), f.ID, f.Min(), f.Max())
		}
		if err := c.Validate(); err != nil {
			return err
		}
	}
	return nil
}
