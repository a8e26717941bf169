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
	"time"

	"github.com/seqlab/annohub/services/annotation/datatypes"
	"github.com/seqlab/annohub/services/annotation/store"
)

const (
	TypeNameAddAssembly    = "AddAssemblyChange"
	TypeNameDeleteAssembly = "DeleteAssemblyChange"
)

// AddAssemblyChange creates an assembly with its reference sequences.
// Assembly-level changes do not touch the client feature tree; replicas
// react by (re)loading the assembly.
type AddAssemblyChange struct {
	ChangeBase
	Name    string             `json:"name"`
	RefSeqs []datatypes.RefSeq `json:"refSeqs,omitempty"`
}

func NewAddAssemblyChange(assemblyID, name string, refSeqs []datatypes.RefSeq) *AddAssemblyChange {
	return &AddAssemblyChange{
		ChangeBase: ChangeBase{
			Type:     TypeNameAddAssembly,
			Assembly: assemblyID,
		},
		Name:    name,
		RefSeqs: refSeqs,
	}
}

func (c *AddAssemblyChange) TypeName() string { return TypeNameAddAssembly }

func (c *AddAssemblyChange) CoreCheck() error {
	if c.Assembly == "" {
		return errors.New("missing assembly id")
	}
	if c.Name == "" {
		return errors.New("missing assembly name")
	}
	for _, r := range c.RefSeqs {
		if r.Name == "" {
			return errors.New("refSeq missing name")
		}
	}
	return nil
}

func (c *AddAssemblyChange) ApplyToTree(t *datatypes.FeatureTree) error {
	// No feature-level effect; a fresh assembly has an empty tree.
	return nil
}

func (c *AddAssemblyChange) ApplyToStore(ctx context.Context, tx store.Txn) ([]string, error) {
	if _, err := tx.GetAssembly(c.Assembly); err == nil {
		return nil, fmt.Errorf("assembly %s already exists: %w", c.Assembly, datatypes.ErrConcurrentModification)
	} else if !errors.Is(err, datatypes.ErrNotFound) {
		return nil, err
	}
	err := tx.PutAssembly(datatypes.Assembly{
		ID:        c.Assembly,
		Name:      c.Name,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return nil, err
	}
	for _, r := range c.RefSeqs {
		r.Assembly = c.Assembly
		if err := tx.PutRefSeq(r); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

func (c *AddAssemblyChange) Inverse() (Change, error) {
	return NewDeleteAssemblyChange(c.Assembly), nil
}

// DeleteAssemblyChange removes an assembly and cascades to its reference
// sequences, feature documents and check reports.
type DeleteAssemblyChange struct {
	ChangeBase
}

func NewDeleteAssemblyChange(assemblyID string) *DeleteAssemblyChange {
	return &DeleteAssemblyChange{
		ChangeBase: ChangeBase{
			Type:     TypeNameDeleteAssembly,
			Assembly: assemblyID,
		},
	}
}

func (c *DeleteAssemblyChange) TypeName() string { return TypeNameDeleteAssembly }

func (c *DeleteAssemblyChange) CoreCheck() error {
	if c.Assembly == "" {
		return errors.New("missing assembly id")
	}
	return nil
}

func (c *DeleteAssemblyChange) ApplyToTree(t *datatypes.FeatureTree) error {
	// Replicas drop their tree for the assembly when the manager sees
	// this change; there is nothing to mutate node-by-node.
	return nil
}

func (c *DeleteAssemblyChange) ApplyToStore(ctx context.Context, tx store.Txn) ([]string, error) {
	docs, err := tx.ListDocuments(c.Assembly)
	if err != nil {
		return nil, err
	}
	changed := make([]string, 0, len(docs))
	for _, doc := range docs {
		changed = append(changed, doc.ID)
	}
	if err := tx.DeleteAssembly(c.Assembly); err != nil {
		return nil, err
	}
	return changed, nil
}

func (c *DeleteAssemblyChange) Inverse() (Change, error) {
	return nil, errInverseUnsupported(TypeNameDeleteAssembly)
}
