// Copyright (C) 2026 Seqlab (dev@seqlab.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package store persists the annotation data: assemblies, reference
// sequences, hierarchical feature documents, the append-only change log,
// and advisory check reports.
//
// Features are stored as whole documents keyed by their top-level feature
// id, with a child-id index so any nested feature resolves to its owning
// document. Concurrent edits to the same document serialize through the
// backend's transaction conflict detection; the change-level
// compare-and-swap check on recorded old values runs on top of that.
package store

import (
	"context"

	"github.com/seqlab/annohub/services/annotation/datatypes"
)

// ReadTxn is the read-only view inside a transaction. It is also the view
// handed to post-validation and the advisory checks.
type ReadTxn interface {
	GetAssembly(id string) (datatypes.Assembly, error)
	ListAssemblies() ([]datatypes.Assembly, error)

	GetRefSeq(assembly, name string) (datatypes.RefSeq, error)
	ListRefSeqs(assembly string) ([]datatypes.RefSeq, error)

	// GetSequence returns residues of the zero-based half-open span
	// [start, end) on the named reference sequence.
	GetSequence(assembly, refSeq string, start, end int64) (string, error)

	// GetDocument returns the top-level feature document and the
	// assembly it belongs to.
	GetDocument(rootID string) (*datatypes.Feature, string, error)

	// ResolveFeature maps any feature id (nested or top-level) to the id
	// of its owning document.
	ResolveFeature(featureID string) (string, error)

	ListDocuments(assembly string) ([]*datatypes.Feature, error)

	GetChange(id string) (datatypes.ChangeLogEntry, error)
	ListChanges(filter datatypes.ChangeFilter) ([]datatypes.ChangeLogEntry, error)
	ListCheckReports(featureID string) ([]datatypes.CheckReport, error)
}

// Txn adds the mutations a change may perform. All writes inside one Txn
// commit atomically or not at all.
type Txn interface {
	ReadTxn

	PutAssembly(a datatypes.Assembly) error
	// DeleteAssembly cascades: reference sequences, feature documents and
	// check reports of the assembly are removed with it.
	DeleteAssembly(id string) error

	PutRefSeq(r datatypes.RefSeq) error

	// PutDocument writes a whole feature document, replacing the child
	// index of any previous version.
	PutDocument(assembly string, f *datatypes.Feature) error
	DeleteDocument(rootID string) error

	// AppendChange writes one immutable change-log entry. Entries are
	// never updated or deleted.
	AppendChange(e datatypes.ChangeLogEntry) error

	// PutCheckReports replaces the advisory reports for a feature.
	PutCheckReports(featureID string, reports []datatypes.CheckReport) error
}

// Store is the persistent feature store. Update runs fn in a single
// read-write transaction; if fn returns an error nothing is written. A
// commit-time conflict with a concurrent transaction surfaces as
// datatypes.ErrConcurrentModification.
type Store interface {
	Update(ctx context.Context, fn func(Txn) error) error
	View(ctx context.Context, fn func(ReadTxn) error) error
	Close() error
}
