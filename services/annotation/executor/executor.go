// Copyright (C) 2026 Seqlab (dev@seqlab.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package executor is the server-side pipeline that turns an opaque change
// payload into committed state: decode, pre-validate, transactional
// apply-and-log, post-validate, then the non-blocking tail (advisory
// checks, mirror export, broadcast).
//
// The apply and the change-log append happen in one storage transaction.
// A post-validation failure aborts that transaction, so the log never
// records a change whose resulting state was invalid.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/seqlab/annohub/pkg/logging"
	"github.com/seqlab/annohub/services/annotation/changes"
	"github.com/seqlab/annohub/services/annotation/checks"
	"github.com/seqlab/annohub/services/annotation/datatypes"
	"github.com/seqlab/annohub/services/annotation/observability"
	"github.com/seqlab/annohub/services/annotation/store"
	"github.com/seqlab/annohub/services/annotation/validation"
)

// Event is what the executor hands to the broadcast layer after a commit.
// SessionID identifies the submitting client's websocket session so it can
// skip its own echo.
type Event struct {
	Entry     datatypes.ChangeLogEntry
	SessionID string
	Reports   []datatypes.CheckReport
}

// Publisher fans a committed change out to connected clients.
type Publisher interface {
	PublishChange(ctx context.Context, ev Event)
}

// Mirror keeps a flat-file copy of an assembly in sync with the store.
type Mirror interface {
	ExportAssembly(ctx context.Context, assembly string) error
}

// Executor owns the submit pipeline. Construct with New; all fields are
// set at startup and the value is safe for concurrent use.
type Executor struct {
	registry   *changes.Registry
	store      store.Store
	validation *validation.Set
	checks     *checks.Runner
	publisher  Publisher
	mirror     Mirror
	metrics    *observability.Metrics
	log        *logging.Logger
}

// Options collects the executor's collaborators. Publisher and Mirror may
// be nil; the corresponding tail step is skipped.
type Options struct {
	Registry   *changes.Registry
	Store      store.Store
	Validation *validation.Set
	Checks     *checks.Runner
	Publisher  Publisher
	Mirror     Mirror
	Metrics    *observability.Metrics
	Logger     *logging.Logger
}

func New(opts Options) (*Executor, error) {
	if opts.Registry == nil {
		return nil, errors.New("executor: registry is required")
	}
	if opts.Store == nil {
		return nil, errors.New("executor: store is required")
	}
	if opts.Validation == nil {
		return nil, errors.New("executor: validation set is required")
	}
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	if opts.Checks == nil {
		opts.Checks = checks.NewRunner()
	}
	return &Executor{
		registry:   opts.Registry,
		store:      opts.Store,
		validation: opts.Validation,
		checks:     opts.Checks,
		publisher:  opts.Publisher,
		mirror:     opts.Mirror,
		metrics:    opts.Metrics,
		log:        opts.Logger.With("component", "executor"),
	}, nil
}

// Submit runs one change through the full pipeline on behalf of identity.
// sessionID is the submitting client's websocket session id (may be empty
// for non-interactive callers). On success the committed log entry and any
// advisory reports are returned.
//
// Error mapping: ErrUnknownChangeType for an unregistered typeName,
// ErrValidationFailed (possibly also ErrForbidden) for a veto,
// ErrConcurrentModification for a stale old value or storage conflict.
func (e *Executor) Submit(ctx context.Context, identity datatypes.Identity, sessionID string, raw datatypes.SerializedChange) (*datatypes.ChangeLogEntry, []datatypes.CheckReport, error) {
	started := time.Now()

	change, err := e.registry.Decode(raw)
	if err != nil {
		e.record("unknown", "rejected", started)
		return nil, nil, err
	}
	return e.run(ctx, identity, sessionID, change, "", started)
}

// Revert applies the inverse of a previously logged change as a new
// change; the new entry back-references the reverted entry's id. The
// inverse runs the full pipeline, so authorization and the
// compare-and-swap check apply to it like any other submission: reverting
// the same entry twice fails with ErrConcurrentModification.
func (e *Executor) Revert(ctx context.Context, identity datatypes.Identity, sessionID, entryID string) (*datatypes.ChangeLogEntry, []datatypes.CheckReport, error) {
	started := time.Now()

	var logged datatypes.ChangeLogEntry
	err := e.store.View(ctx, func(view store.ReadTxn) error {
		var err error
		logged, err = view.GetChange(entryID)
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	change, err := e.registry.Decode(logged.Change)
	if err != nil {
		return nil, nil, err
	}
	inverse, err := change.Inverse()
	if err != nil {
		return nil, nil, fmt.Errorf("change %s (%s): %s: %w",
			entryID, logged.TypeName, err, datatypes.ErrValidationFailed)
	}
	return e.run(ctx, identity, sessionID, inverse, entryID, started)
}

// run takes a decoded change through pre-validation, the transactional
// apply-and-log, and the tail. reverts is the id of the entry this change
// undoes, empty for a plain submission.
func (e *Executor) run(ctx context.Context, identity datatypes.Identity, sessionID string, change changes.Change, reverts string, started time.Time) (*datatypes.ChangeLogEntry, []datatypes.CheckReport, error) {
	typeName := change.TypeName()

	req := &validation.Request{Identity: identity, Change: change}
	if out := e.validation.PreValidate(ctx, req); !out.OK() {
		e.recordVetoes(out, "pre")
		e.record(typeName, "rejected", started)
		return nil, nil, out.Err()
	}

	entry, err := e.applyAndLog(ctx, identity, req, reverts)
	if err != nil {
		status := "rejected"
		if errors.Is(err, datatypes.ErrConcurrentModification) {
			status = "conflict"
		}
		e.record(typeName, status, started)
		return nil, nil, err
	}

	reports := e.runTail(ctx, entry, sessionID)
	e.record(typeName, "applied", started)
	e.log.Info("change applied",
		"change_id", entry.ID,
		"type", entry.TypeName,
		"assembly", entry.Assembly,
		"user", entry.User,
		"changed", len(entry.ChangedIDs),
	)
	return entry, reports, nil
}

// applyAndLog mutates the store, appends the log entry and re-validates
// the result, all in one transaction.
func (e *Executor) applyAndLog(ctx context.Context, identity datatypes.Identity, req *validation.Request, reverts string) (*datatypes.ChangeLogEntry, error) {
	change := req.Change
	encoded, err := changes.Encode(change)
	if err != nil {
		return nil, err
	}

	var entry datatypes.ChangeLogEntry
	err = e.store.Update(ctx, func(tx store.Txn) error {
		changed, err := change.ApplyToStore(ctx, tx)
		if err != nil {
			return err
		}
		if len(changed) == 0 {
			changed = change.ChangedIDs()
		}

		entry = datatypes.ChangeLogEntry{
			ID:         ulid.Make().String(),
			Assembly:   change.AssemblyID(),
			TypeName:   change.TypeName(),
			ChangedIDs: changed,
			Change:     encoded,
			User:       identity.UserID,
			CreatedAt:  time.Now().UTC(),
			Reverts:    reverts,
		}
		if err := tx.AppendChange(entry); err != nil {
			return err
		}

		// Post-validation sees the mutated state inside the same
		// transaction. A veto here rolls everything back, including
		// the log append.
		if out := e.validation.PostValidate(ctx, req, tx); !out.OK() {
			e.recordVetoes(out, "post")
			return out.Err()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// runTail executes the non-blocking steps after commit. Failures here are
// logged, never surfaced: the change is already durable.
func (e *Executor) runTail(ctx context.Context, entry *datatypes.ChangeLogEntry, sessionID string) []datatypes.CheckReport {
	var reports []datatypes.CheckReport
	if len(entry.ChangedIDs) > 0 {
		var err error
		reports, err = e.checks.RunForFeatures(ctx, e.store, entry.ChangedIDs)
		if err != nil {
			e.log.Warn("advisory checks failed", "change_id", entry.ID, "error", err)
		}
		if e.metrics != nil {
			for _, r := range reports {
				e.metrics.CheckReportsTotal.WithLabelValues(r.Name).Inc()
			}
		}
	}

	if e.mirror != nil {
		if err := e.mirror.ExportAssembly(ctx, entry.Assembly); err != nil {
			e.log.Warn("mirror export failed", "assembly", entry.Assembly, "error", err)
			if e.metrics != nil {
				e.metrics.MirrorExportsTotal.WithLabelValues("error").Inc()
			}
		} else if e.metrics != nil {
			e.metrics.MirrorExportsTotal.WithLabelValues("ok").Inc()
		}
	}

	if e.publisher != nil {
		e.publisher.PublishChange(ctx, Event{Entry: *entry, SessionID: sessionID, Reports: reports})
	}
	return reports
}

// History returns change-log entries matching the filter, oldest first.
func (e *Executor) History(ctx context.Context, filter datatypes.ChangeFilter) ([]datatypes.ChangeLogEntry, error) {
	var entries []datatypes.ChangeLogEntry
	err := e.store.View(ctx, func(view store.ReadTxn) error {
		var err error
		entries, err = view.ListChanges(filter)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("change history: %w", err)
	}
	return entries, nil
}

// Reports returns the stored advisory findings for one feature. Reports
// are kept per top-level document, so a child id is resolved to its root
// before the lookup.
func (e *Executor) Reports(ctx context.Context, featureID string) ([]datatypes.CheckReport, error) {
	var reports []datatypes.CheckReport
	err := e.store.View(ctx, func(view store.ReadTxn) error {
		rootID, err := view.ResolveFeature(featureID)
		if err != nil {
			if errors.Is(err, datatypes.ErrNotFound) {
				return nil
			}
			return err
		}
		reports, err = view.ListCheckReports(rootID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return reports, nil
}

// TypeNames lists the registered change discriminators.
func (e *Executor) TypeNames() []string {
	return e.registry.TypeNames()
}

func (e *Executor) record(typeName, status string, started time.Time) {
	if e.metrics == nil {
		return
	}
	e.metrics.RecordChange(typeName, status, time.Since(started).Seconds())
}

func (e *Executor) recordVetoes(out validation.Outcome, phase string) {
	if e.metrics == nil {
		return
	}
	for _, r := range out.Failures() {
		e.metrics.RecordValidationFailure(r.Validation, phase)
	}
}
