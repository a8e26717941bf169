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
	TypeNameAddFeature       = "AddFeatureChange"
	TypeNameDeleteFeature    = "DeleteFeatureChange"
	TypeNameStrand           = "StrandChange"
	TypeNameFeatureType      = "FeatureTypeChange"
	TypeNameFeatureAttribute = "FeatureAttributeChange"
)

// AddFeatureChange inserts a feature subtree, either as a new top-level
// document (empty ParentID) or as a child of an existing feature.
type AddFeatureChange struct {
	ChangeBase
	ParentID string             `json:"parentId,omitempty"`
	Feature  *datatypes.Feature `json:"feature"`
}

// NewAddFeatureChange builds the change. parentID may be empty for a new
// top-level feature.
func NewAddFeatureChange(assembly, parentID string, f *datatypes.Feature) *AddFeatureChange {
	changed := []string{f.ID}
	if parentID != "" {
		changed = append(changed, parentID)
	}
	return &AddFeatureChange{
		ChangeBase: ChangeBase{
			Type:     TypeNameAddFeature,
			Assembly: assembly,
			Changed:  changed,
		},
		ParentID: parentID,
		Feature:  f,
	}
}

func (c *AddFeatureChange) TypeName() string { return TypeNameAddFeature }

func (c *AddFeatureChange) CoreCheck() error {
	if c.Assembly == "" {
		return errors.New("missing assembly")
	}
	if c.Feature == nil {
		return errors.New("missing feature")
	}
	return c.Feature.Validate()
}

func (c *AddFeatureChange) ApplyToTree(t *datatypes.FeatureTree) error {
	if _, exists := t.Get(c.Feature.ID); exists {
		return fmt.Errorf("feature %s already exists: %w", c.Feature.ID, datatypes.ErrConcurrentModification)
	}
	if c.ParentID == "" {
		return t.AddRoot(c.Feature.Copy())
	}
	return t.AddChild(c.ParentID, c.Feature.Copy())
}

func (c *AddFeatureChange) ApplyToStore(ctx context.Context, tx store.Txn) ([]string, error) {
	if _, err := tx.GetAssembly(c.Assembly); err != nil {
		return nil, err
	}
	if _, err := tx.GetRefSeq(c.Assembly, c.Feature.RefSeq); err != nil {
		return nil, err
	}
	if _, err := tx.ResolveFeature(c.Feature.ID); err == nil {
		return nil, fmt.Errorf("feature %s already exists: %w", c.Feature.ID, datatypes.ErrConcurrentModification)
	} else if !errors.Is(err, datatypes.ErrNotFound) {
		return nil, err
	}

	if c.ParentID == "" {
		if err := tx.PutDocument(c.Assembly, c.Feature.Copy()); err != nil {
			return nil, err
		}
		return []string{c.Feature.ID}, nil
	}

	rootID, err := tx.ResolveFeature(c.ParentID)
	if err != nil {
		return nil, err
	}
	doc, assembly, err := tx.GetDocument(rootID)
	if err != nil {
		return nil, err
	}
	parent := doc.Find(c.ParentID)
	if parent == nil {
		return nil, fmt.Errorf("parent %s not in document %s: %w", c.ParentID, rootID, datatypes.ErrNotFound)
	}
	if parent.Children == nil {
		parent.Children = make(map[string]*datatypes.Feature)
	}
	parent.Children[c.Feature.ID] = c.Feature.Copy()
	if err := tx.PutDocument(assembly, doc); err != nil {
		return nil, err
	}
	return []string{c.Feature.ID, c.ParentID}, nil
}

func (c *AddFeatureChange) Inverse() (Change, error) {
	inv := NewDeleteFeatureChange(c.Assembly, c.ParentID, c.Feature)
	return inv, nil
}

// DeleteFeatureChange removes a feature and cascades to all descendants.
// DeletedFeature snapshots the removed subtree so the change can be
// inverted on the client.
type DeleteFeatureChange struct {
	ChangeBase
	FeatureID      string             `json:"featureId"`
	ParentID       string             `json:"parentId,omitempty"`
	DeletedFeature *datatypes.Feature `json:"deletedFeature,omitempty"`
}

// NewDeleteFeatureChange builds the change from the client's current view
// of the feature (used as the inverse snapshot).
func NewDeleteFeatureChange(assembly, parentID string, f *datatypes.Feature) *DeleteFeatureChange {
	return &DeleteFeatureChange{
		ChangeBase: ChangeBase{
			Type:     TypeNameDeleteFeature,
			Assembly: assembly,
			Changed:  []string{f.ID},
		},
		FeatureID:      f.ID,
		ParentID:       parentID,
		DeletedFeature: f,
	}
}

func (c *DeleteFeatureChange) TypeName() string { return TypeNameDeleteFeature }

func (c *DeleteFeatureChange) CoreCheck() error {
	if c.Assembly == "" {
		return errors.New("missing assembly")
	}
	if c.FeatureID == "" {
		return errors.New("missing featureId")
	}
	return nil
}

func (c *DeleteFeatureChange) ApplyToTree(t *datatypes.FeatureTree) error {
	_, err := t.Delete(c.FeatureID)
	return err
}

func (c *DeleteFeatureChange) ApplyToStore(ctx context.Context, tx store.Txn) ([]string, error) {
	rootID, err := tx.ResolveFeature(c.FeatureID)
	if err != nil {
		return nil, err
	}
	if rootID == c.FeatureID {
		if err := tx.DeleteDocument(rootID); err != nil {
			return nil, err
		}
		return []string{c.FeatureID}, nil
	}
	doc, assembly, err := tx.GetDocument(rootID)
	if err != nil {
		return nil, err
	}
	parent := doc.FindParentOf(c.FeatureID)
	if parent == nil {
		return nil, fmt.Errorf("feature %s has no parent in document %s: %w",
			c.FeatureID, rootID, datatypes.ErrNotFound)
	}
	delete(parent.Children, c.FeatureID)
	if err := tx.PutDocument(assembly, doc); err != nil {
		return nil, err
	}
	return []string{c.FeatureID, parent.ID}, nil
}

func (c *DeleteFeatureChange) Inverse() (Change, error) {
	if c.DeletedFeature == nil {
		return nil, fmt.Errorf("delete of %s carries no snapshot to restore", c.FeatureID)
	}
	return NewAddFeatureChange(c.Assembly, c.ParentID, c.DeletedFeature), nil
}

// StrandChange flips a feature's strand.
type StrandChange struct {
	ChangeBase
	FeatureID string           `json:"featureId"`
	OldStrand datatypes.Strand `json:"oldStrand"`
	NewStrand datatypes.Strand `json:"newStrand"`
}

func NewStrandChange(assembly, featureID string, oldStrand, newStrand datatypes.Strand) *StrandChange {
	return &StrandChange{
		ChangeBase: ChangeBase{
			Type:     TypeNameStrand,
			Assembly: assembly,
			Changed:  []string{featureID},
		},
		FeatureID: featureID,
		OldStrand: oldStrand,
		NewStrand: newStrand,
	}
}

func (c *StrandChange) TypeName() string { return TypeNameStrand }

func (c *StrandChange) CoreCheck() error {
	if c.Assembly == "" {
		return errors.New("missing assembly")
	}
	if c.FeatureID == "" {
		return errors.New("missing featureId")
	}
	switch c.NewStrand {
	case datatypes.StrandNone, datatypes.StrandForward, datatypes.StrandReverse:
		return nil
	}
	return fmt.Errorf("invalid strand %d", c.NewStrand)
}

func (c *StrandChange) mutate(f *datatypes.Feature) error {
	if f.Strand != c.OldStrand {
		return fmt.Errorf("feature %s strand is %d, change recorded %d: %w",
			c.FeatureID, f.Strand, c.OldStrand, datatypes.ErrConcurrentModification)
	}
	f.Strand = c.NewStrand
	return nil
}

func (c *StrandChange) ApplyToTree(t *datatypes.FeatureTree) error {
	f, ok := t.Get(c.FeatureID)
	if !ok {
		return fmt.Errorf("feature %s: %w", c.FeatureID, datatypes.ErrNotFound)
	}
	return c.mutate(f)
}

func (c *StrandChange) ApplyToStore(ctx context.Context, tx store.Txn) ([]string, error) {
	return applyToDocument(tx, c.FeatureID, c.mutate)
}

func (c *StrandChange) Inverse() (Change, error) {
	return NewStrandChange(c.Assembly, c.FeatureID, c.NewStrand, c.OldStrand), nil
}

// FeatureTypeChange rewrites a feature's ontology type string.
type FeatureTypeChange struct {
	ChangeBase
	FeatureID string `json:"featureId"`
	OldType   string `json:"oldType"`
	NewType   string `json:"newType"`
}

func NewFeatureTypeChange(assembly, featureID, oldType, newType string) *FeatureTypeChange {
	return &FeatureTypeChange{
		ChangeBase: ChangeBase{
			Type:     TypeNameFeatureType,
			Assembly: assembly,
			Changed:  []string{featureID},
		},
		FeatureID: featureID,
		OldType:   oldType,
		NewType:   newType,
	}
}

func (c *FeatureTypeChange) TypeName() string { return TypeNameFeatureType }

func (c *FeatureTypeChange) CoreCheck() error {
	if c.Assembly == "" {
		return errors.New("missing assembly")
	}
	if c.FeatureID == "" {
		return errors.New("missing featureId")
	}
	if c.NewType == "" {
		return errors.New("missing newType")
	}
	return nil
}

func (c *FeatureTypeChange) mutate(f *datatypes.Feature) error {
	if f.Type != c.OldType {
		return fmt.Errorf("feature %s type is %q, change recorded %q: %w",
			c.FeatureID, f.Type, c.OldType, datatypes.ErrConcurrentModification)
	}
	f.Type = c.NewType
	return nil
}

func (c *FeatureTypeChange) ApplyToTree(t *datatypes.FeatureTree) error {
	f, ok := t.Get(c.FeatureID)
	if !ok {
		return fmt.Errorf("feature %s: %w", c.FeatureID, datatypes.ErrNotFound)
	}
	return c.mutate(f)
}

func (c *FeatureTypeChange) ApplyToStore(ctx context.Context, tx store.Txn) ([]string, error) {
	return applyToDocument(tx, c.FeatureID, c.mutate)
}

func (c *FeatureTypeChange) Inverse() (Change, error) {
	return NewFeatureTypeChange(c.Assembly, c.FeatureID, c.NewType, c.OldType), nil
}

// FeatureAttributeChange replaces the value list of one attribute key.
// Empty NewValues removes the key.
type FeatureAttributeChange struct {
	ChangeBase
	FeatureID string   `json:"featureId"`
	Key       string   `json:"key"`
	OldValues []string `json:"oldValues,omitempty"`
	NewValues []string `json:"newValues,omitempty"`
}

func NewFeatureAttributeChange(assembly, featureID, key string, oldValues, newValues []string) *FeatureAttributeChange {
	return &FeatureAttributeChange{
		ChangeBase: ChangeBase{
			Type:     TypeNameFeatureAttribute,
			Assembly: assembly,
			Changed:  []string{featureID},
		},
		FeatureID: featureID,
		Key:       key,
		OldValues: oldValues,
		NewValues: newValues,
	}
}

func (c *FeatureAttributeChange) TypeName() string { return TypeNameFeatureAttribute }

func (c *FeatureAttributeChange) CoreCheck() error {
	if c.Assembly == "" {
		return errors.New("missing assembly")
	}
	if c.FeatureID == "" {
		return errors.New("missing featureId")
	}
	if c.Key == "" {
		return errors.New("missing attribute key")
	}
	return nil
}

func (c *FeatureAttributeChange) mutate(f *datatypes.Feature) error {
	if !stringSlicesEqual(f.Attributes[c.Key], c.OldValues) {
		return fmt.Errorf("feature %s attribute %q changed concurrently: %w",
			c.FeatureID, c.Key, datatypes.ErrConcurrentModification)
	}
	if len(c.NewValues) == 0 {
		delete(f.Attributes, c.Key)
		return nil
	}
	if f.Attributes == nil {
		f.Attributes = make(map[string][]string)
	}
	vals := make([]string, len(c.NewValues))
	copy(vals, c.NewValues)
	f.Attributes[c.Key] = vals
	return nil
}

func (c *FeatureAttributeChange) ApplyToTree(t *datatypes.FeatureTree) error {
	f, ok := t.Get(c.FeatureID)
	if !ok {
		return fmt.Errorf("feature %s: %w", c.FeatureID, datatypes.ErrNotFound)
	}
	return c.mutate(f)
}

func (c *FeatureAttributeChange) ApplyToStore(ctx context.Context, tx store.Txn) ([]string, error) {
	return applyToDocument(tx, c.FeatureID, c.mutate)
}

func (c *FeatureAttributeChange) Inverse() (Change, error) {
	return NewFeatureAttributeChange(c.Assembly, c.FeatureID, c.Key, c.NewValues, c.OldValues), nil
}

func stringSlicesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
