// Copyright (C) 2026 Seqlab (dev@seqlab.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package changes

import (
	"context"
	"errors"
	"fmt"

	"github.com/seqlab/annohub/services/annotation/datatypes"
	"github.com/seqlab/annohub/services/annotation/store"
)

const (
	TypeNameLocationStart = "LocationStartChange"
	TypeNameLocationEnd   = "LocationEndChange"
)

// LocationEndChange moves the end of one location span of a feature. The
// recorded OldEnd is the optimistic concurrency token: if the stored end
// no longer matches, the change is rejected.
type LocationEndChange struct {
	ChangeBase
	FeatureID     string `json:"featureId"`
	LocationIndex int    `json:"locationIndex"`
	OldEnd        int64  `json:"oldEnd"`
	NewEnd        int64  `json:"newEnd"`
}

// NewLocationEndChange builds the change for the location at index idx.
func NewLocationEndChange(assembly, featureID string, idx int, oldEnd, newEnd int64) *LocationEndChange {
	return &LocationEndChange{
		ChangeBase: ChangeBase{
			Type:     TypeNameLocationEnd,
			Assembly: assembly,
			Changed:  []string{featureID},
		},
		FeatureID:     featureID,
		LocationIndex: idx,
		OldEnd:        oldEnd,
		NewEnd:        newEnd,
	}
}

func (c *LocationEndChange) TypeName() string { return TypeNameLocationEnd }

func (c *LocationEndChange) CoreCheck() error {
	if c.Assembly == "" {
		return errors.New("missing assembly")
	}
	if c.FeatureID == "" {
		return errors.New("missing featureId")
	}
	if c.LocationIndex < 0 {
		return fmt.Errorf("negative locationIndex %d", c.LocationIndex)
	}
	if c.NewEnd < 0 {
		return fmt.Errorf("negative newEnd %d", c.NewEnd)
	}
	return nil
}

func (c *LocationEndChange) mutate(f *datatypes.Feature) error {
	if c.LocationIndex >= len(f.Locations) {
		return fmt.Errorf("feature %s location %d: %w", c.FeatureID, c.LocationIndex, datatypes.ErrNotFound)
	}
	loc := &f.Locations[c.LocationIndex]
	if loc.End != c.OldEnd {
		return fmt.Errorf("feature %s end is %d, change recorded %d: %w",
			c.FeatureID, loc.End, c.OldEnd, datatypes.ErrConcurrentModification)
	}
	if c.NewEnd < loc.Start {
		return fmt.Errorf("new end %d before start %d: %w", c.NewEnd, loc.Start, datatypes.ErrValidationFailed)
	}
	loc.End = c.NewEnd
	return nil
}

func (c *LocationEndChange) ApplyToTree(t *datatypes.FeatureTree) error {
	f, ok := t.Get(c.FeatureID)
	if !ok {
		return fmt.Errorf("feature %s: %w", c.FeatureID, datatypes.ErrNotFound)
	}
	return c.mutate(f)
}

func (c *LocationEndChange) ApplyToStore(ctx context.Context, tx store.Txn) ([]string, error) {
	return applyToDocument(tx, c.FeatureID, c.mutate)
}

func (c *LocationEndChange) Inverse() (Change, error) {
	return NewLocationEndChange(c.Assembly, c.FeatureID, c.LocationIndex, c.NewEnd, c.OldEnd), nil
}

// LocationStartChange moves the start of one location span of a feature,
// with the same compare-and-swap discipline as LocationEndChange.
type LocationStartChange struct {
	ChangeBase
	FeatureID     string `json:"featureId"`
	LocationIndex int    `json:"locationIndex"`
	OldStart      int64  `json:"oldStart"`
	NewStart      int64  `json:"newStart"`
}

// NewLocationStartChange builds the change for the location at index idx.
func NewLocationStartChange(assembly, featureID string, idx int, oldStart, newStart int64) *LocationStartChange {
	return &LocationStartChange{
		ChangeBase: ChangeBase{
			Type:     TypeNameLocationStart,
			Assembly: assembly,
			Changed:  []string{featureID},
		},
		FeatureID:     featureID,
		LocationIndex: idx,
		OldStart:      oldStart,
		NewStart:      newStart,
	}
}

func (c *LocationStartChange) TypeName() string { return TypeNameLocationStart }

func (c *LocationStartChange) CoreCheck() error {
	if c.Assembly == "" {
		return errors.New("missing assembly")
	}
	if c.FeatureID == "" {
		return errors.New("missing featureId")
	}
	if c.LocationIndex < 0 {
		return fmt.Errorf("negative locationIndex %d", c.LocationIndex)
	}
	if c.NewStart < 0 {
		return fmt.Errorf("negative newStart %d", c.NewStart)
	}
	return nil
}

func (c *LocationStartChange) mutate(f *datatypes.Feature) error {
	if c.LocationIndex >= len(f.Locations) {
		return fmt.Errorf("feature %s location %d: %w", c.FeatureID, c.LocationIndex, datatypes.ErrNotFound)
	}
	loc := &f.Locations[c.LocationIndex]
	if loc.Start != c.OldStart {
		return fmt.Errorf("feature %s start is %d, change recorded %d: %w",
			c.FeatureID, loc.Start, c.OldStart, datatypes.ErrConcurrentModification)
	}
	if c.NewStart > loc.End {
		return fmt.Errorf("new start %d after end %d: %w", c.NewStart, loc.End, datatypes.ErrValidationFailed)
	}
	loc.Start = c.NewStart
	return nil
}

func (c *LocationStartChange) ApplyToTree(t *datatypes.FeatureTree) error {
	f, ok := t.Get(c.FeatureID)
	if !ok {
		return fmt.Errorf("feature %s: %w", c.FeatureID, datatypes.ErrNotFound)
	}
	return c.mutate(f)
}

func (c *LocationStartChange) ApplyToStore(ctx context.Context, tx store.Txn) ([]string, error) {
	return applyToDocument(tx, c.FeatureID, c.mutate)
}

func (c *LocationStartChange) Inverse() (Change, error) {
	return NewLocationStartChange(c.Assembly, c.FeatureID, c.LocationIndex, c.NewStart, c.OldStart), nil
}

// applyToDocument loads the document owning featureID, applies mutate to
// the target node, and writes the document back. Shared by every
// field-level change.
func applyToDocument(tx store.Txn, featureID string, mutate func(*datatypes.Feature) error) ([]string, error) {
	rootID, err := tx.ResolveFeature(featureID)
	if err != nil {
		return nil, err
	}
	doc, assembly, err := tx.GetDocument(rootID)
	if err != nil {
		return nil, err
	}
	target := doc.Find(featureID)
	if target == nil {
		return nil, fmt.Errorf("feature %s not in document %s: %w", featureID, rootID, datatypes.ErrNotFound)
	}
	if err := mutate(target); err != nil {
		return nil, err
	}
	if err := tx.PutDocument(assembly, doc); err != nil {
		return nil, err
	}
	return []string{featureID}, nil
}
