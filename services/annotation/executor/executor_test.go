// Copyright (C) 2026 Seqlab (dev@seqlab.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package executor

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seqlab/annohub/pkg/logging"
	"github.com/seqlab/annohub/services/annotation/changes"
	"github.com/seqlab/annohub/services/annotation/checks"
	"github.com/seqlab/annohub/services/annotation/datatypes"
	"github.com/seqlab/annohub/services/annotation/observability"
	"github.com/seqlab/annohub/services/annotation/store"
	"github.com/seqlab/annohub/services/annotation/validation"
)

var (
	adminID = datatypes.Identity{UserID: "admin1", Name: "Root", Role: datatypes.RoleAdmin}
	userID  = datatypes.Identity{UserID: "user1", Name: "Ada", Role: datatypes.RoleUser}
)

type capturingPublisher struct {
	events []Event
}

func (p *capturingPublisher) PublishChange(ctx context.Context, ev Event) {
	p.events = append(p.events, ev)
}

func newTestExecutor(t *testing.T) (*Executor, *store.Badger, *capturingPublisher) {
	t.Helper()
	db, err := store.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	pub := &capturingPublisher{}
	exec, err := New(Options{
		Registry:   changes.NewDefaultRegistry(),
		Store:      db,
		Validation: validation.NewDefaultSet(nil),
		Checks:     checks.NewDefaultRunner(),
		Publisher:  pub,
		Metrics:    observability.NewMetrics(prometheus.NewRegistry()),
		Logger:     logging.New(logging.Config{Quiet: true}),
	})
	require.NoError(t, err)
	return exec, db, pub
}

func submit(t *testing.T, exec *Executor, id datatypes.Identity, c changes.Change) (*datatypes.ChangeLogEntry, error) {
	t.Helper()
	raw, err := changes.Encode(c)
	require.NoError(t, err)
	entry, _, err := exec.Submit(context.Background(), id, "sess-1", raw)
	return entry, err
}

func seedGene(t *testing.T, exec *Executor) {
	t.Helper()
	_, err := submit(t, exec, adminID, changes.NewAddAssemblyChange("asm1", "test assembly", []datatypes.RefSeq{
		{Name: "chr1", Length: 10000},
	}))
	require.NoError(t, err)

	gene := &datatypes.Feature{
		ID:     "gene1",
		RefSeq: "chr1",
		Type:   "gene",
		Strand: datatypes.StrandForward,
		Locations: []datatypes.Location{
			{Start: 1000, End: 9000},
		},
	}
	_, err = submit(t, exec, userID, changes.NewAddFeatureChange("asm1", "", gene))
	require.NoError(t, err)
}

func TestSubmit_AppliesAndLogs(t *testing.T) {
	exec, db, pub := newTestExecutor(t)
	seedGene(t, exec)

	entry, err := submit(t, exec, userID, changes.NewLocationEndChange("asm1", "gene1", 0, 9000, 9500))
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "LocationEndChange", entry.TypeName)
	assert.Equal(t, "user1", entry.User)
	assert.Equal(t, []string{"gene1"}, entry.ChangedIDs)
	assert.Len(t, entry.ID, 26) // ULID

	err = db.View(context.Background(), func(view store.ReadTxn) error {
		doc, assembly, err := view.GetDocument("gene1")
		require.NoError(t, err)
		assert.Equal(t, "asm1", assembly)
		assert.Equal(t, int64(9500), doc.Locations[0].End)

		entries, err := view.ListChanges(datatypes.ChangeFilter{Assembly: "asm1"})
		require.NoError(t, err)
		assert.Len(t, entries, 3) // assembly + feature + location edit
		return nil
	})
	require.NoError(t, err)

	// The committed event was fanned out with the submitter's session id.
	require.NotEmpty(t, pub.events)
	last := pub.events[len(pub.events)-1]
	assert.Equal(t, entry.ID, last.Entry.ID)
	assert.Equal(t, "sess-1", last.SessionID)
}

func TestSubmit_StaleOldValueConflicts(t *testing.T) {
	exec, db, _ := newTestExecutor(t)
	seedGene(t, exec)

	_, err := submit(t, exec, userID, changes.NewLocationEndChange("asm1", "gene1", 0, 8999, 9500))
	assert.ErrorIs(t, err, datatypes.ErrConcurrentModification)

	// The rejected change left no trace in the log or the store.
	err = db.View(context.Background(), func(view store.ReadTxn) error {
		doc, _, err := view.GetDocument("gene1")
		require.NoError(t, err)
		assert.Equal(t, int64(9000), doc.Locations[0].End)

		entries, err := view.ListChanges(datatypes.ChangeFilter{TypeName: "LocationEndChange"})
		require.NoError(t, err)
		assert.Empty(t, entries)
		return nil
	})
	require.NoError(t, err)
}

func TestSubmit_ReapplyingSameChangeConflicts(t *testing.T) {
	exec, _, _ := newTestExecutor(t)
	seedGene(t, exec)

	ch := changes.NewLocationEndChange("asm1", "gene1", 0, 9000, 9500)
	_, err := submit(t, exec, userID, ch)
	require.NoError(t, err)

	// Old value no longer matches, so the duplicate fails the swap check
	// instead of double-applying.
	_, err = submit(t, exec, userID, ch)
	assert.ErrorIs(t, err, datatypes.ErrConcurrentModification)
}

func TestSubmit_RoleEnforcement(t *testing.T) {
	exec, db, _ := newTestExecutor(t)
	seedGene(t, exec)

	_, err := submit(t, exec, userID, changes.NewDeleteAssemblyChange("asm1"))
	assert.ErrorIs(t, err, datatypes.ErrForbidden)
	assert.ErrorIs(t, err, datatypes.ErrValidationFailed)

	// Nothing was logged for the vetoed change.
	err = db.View(context.Background(), func(view store.ReadTxn) error {
		entries, err := view.ListChanges(datatypes.ChangeFilter{TypeName: "DeleteAssemblyChange"})
		require.NoError(t, err)
		assert.Empty(t, entries)
		return nil
	})
	require.NoError(t, err)

	_, err = submit(t, exec, adminID, changes.NewDeleteAssemblyChange("asm1"))
	require.NoError(t, err)

	err = db.View(context.Background(), func(view store.ReadTxn) error {
		_, err := view.GetAssembly("asm1")
		assert.ErrorIs(t, err, datatypes.ErrNotFound)
		return nil
	})
	require.NoError(t, err)
}

func TestSubmit_UnknownTypeRejected(t *testing.T) {
	exec, _, _ := newTestExecutor(t)
	_, _, err := exec.Submit(context.Background(), adminID, "", []byte(`{"typeName":"TeleportChange"}`))
	assert.ErrorIs(t, err, datatypes.ErrUnknownChangeType)
}

// vetoPost passes pre-validation and vetoes everything afterwards.
type vetoPost struct{}

func (vetoPost) Name() string { return "vetoPost" }
func (vetoPost) PreValidate(ctx context.Context, req *validation.Request) validation.Result {
	return validation.Result{Validation: "vetoPost"}
}
func (vetoPost) PostValidate(ctx context.Context, req *validation.Request, view store.ReadTxn) validation.Result {
	return validation.Result{Validation: "vetoPost", Err: errors.New("state rejected")}
}

func TestSubmit_PostValidationRollsBack(t *testing.T) {
	db, err := store.OpenInMemory()
	require.NoError(t, err)
	defer db.Close()

	exec, err := New(Options{
		Registry:   changes.NewDefaultRegistry(),
		Store:      db,
		Validation: validation.NewSet(vetoPost{}),
		Logger:     logging.New(logging.Config{Quiet: true}),
	})
	require.NoError(t, err)

	raw, err := changes.Encode(changes.NewAddAssemblyChange("asm1", "doomed", nil))
	require.NoError(t, err)
	_, _, err = exec.Submit(context.Background(), adminID, "", raw)
	assert.ErrorIs(t, err, datatypes.ErrValidationFailed)

	// The transaction rolled back: no assembly, no log entry.
	err = db.View(context.Background(), func(view store.ReadTxn) error {
		_, err := view.GetAssembly("asm1")
		assert.ErrorIs(t, err, datatypes.ErrNotFound)

		entries, err := view.ListChanges(datatypes.ChangeFilter{})
		require.NoError(t, err)
		assert.Empty(t, entries)
		return nil
	})
	require.NoError(t, err)
}

func TestRevert_RestoresStateAndBackReferences(t *testing.T) {
	exec, db, pub := newTestExecutor(t)
	seedGene(t, exec)
	ctx := context.Background()

	entry, err := submit(t, exec, userID, changes.NewLocationEndChange("asm1", "gene1", 0, 9000, 9500))
	require.NoError(t, err)

	reverted, _, err := exec.Revert(ctx, userID, "sess-1", entry.ID)
	require.NoError(t, err)
	assert.Equal(t, entry.ID, reverted.Reverts)
	assert.Equal(t, "LocationEndChange", reverted.TypeName)

	err = db.View(ctx, func(view store.ReadTxn) error {
		doc, _, err := view.GetDocument("gene1")
		require.NoError(t, err)
		assert.Equal(t, int64(9000), doc.Locations[0].End)

		// The back-reference is on the persisted entry too.
		logged, err := view.GetChange(reverted.ID)
		require.NoError(t, err)
		assert.Equal(t, entry.ID, logged.Reverts)
		return nil
	})
	require.NoError(t, err)

	// The revert fanned out like any other committed change.
	require.NotEmpty(t, pub.events)
	assert.Equal(t, reverted.ID, pub.events[len(pub.events)-1].Entry.ID)

	// The inverse's recorded old value is stale now, so reverting the
	// same entry again conflicts instead of double-applying.
	_, _, err = exec.Revert(ctx, userID, "sess-1", entry.ID)
	assert.ErrorIs(t, err, datatypes.ErrConcurrentModification)
}

func TestRevert_UnknownEntry(t *testing.T) {
	exec, _, _ := newTestExecutor(t)
	_, _, err := exec.Revert(context.Background(), adminID, "", "01GHOSTENTRY00000000000000")
	assert.ErrorIs(t, err, datatypes.ErrNotFound)
}

func TestRevert_IrreversibleChangeRejected(t *testing.T) {
	exec, _, _ := newTestExecutor(t)
	seedGene(t, exec)
	ctx := context.Background()

	entry, err := submit(t, exec, adminID, changes.NewDeleteAssemblyChange("asm1"))
	require.NoError(t, err)

	// Deleting an assembly drops state no inverse can rebuild.
	_, _, err = exec.Revert(ctx, adminID, "", entry.ID)
	assert.ErrorIs(t, err, datatypes.ErrValidationFailed)
}

func TestRevert_InverseGoesThroughAuthorization(t *testing.T) {
	exec, _, _ := newTestExecutor(t)
	seedGene(t, exec)

	entries, err := exec.History(context.Background(), datatypes.ChangeFilter{TypeName: "AddAssemblyChange"})
	require.NoError(t, err)
	require.Len(t, entries, 1)

	// The inverse of AddAssemblyChange is DeleteAssemblyChange, which
	// needs the admin role regardless of who logged the original.
	_, _, err = exec.Revert(context.Background(), userID, "", entries[0].ID)
	assert.ErrorIs(t, err, datatypes.ErrForbidden)
}

func TestHistory_FiltersAndOrder(t *testing.T) {
	exec, _, _ := newTestExecutor(t)
	seedGene(t, exec)
	_, err := submit(t, exec, userID, changes.NewLocationEndChange("asm1", "gene1", 0, 9000, 9500))
	require.NoError(t, err)

	ctx := context.Background()
	all, err := exec.History(ctx, datatypes.ChangeFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	// ULIDs sort in commit order.
	assert.Less(t, all[0].ID, all[1].ID)
	assert.Less(t, all[1].ID, all[2].ID)

	byUser, err := exec.History(ctx, datatypes.ChangeFilter{User: "admin1"})
	require.NoError(t, err)
	require.Len(t, byUser, 1)
	assert.Equal(t, "AddAssemblyChange", byUser[0].TypeName)

	limited, err := exec.History(ctx, datatypes.ChangeFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestHistory_ReplayRebuildsState(t *testing.T) {
	exec, _, _ := newTestExecutor(t)
	seedGene(t, exec)
	_, err := submit(t, exec, userID, changes.NewLocationEndChange("asm1", "gene1", 0, 9000, 9500))
	require.NoError(t, err)

	entries, err := exec.History(context.Background(), datatypes.ChangeFilter{Assembly: "asm1"})
	require.NoError(t, err)

	// Replaying the serialized log against a fresh tree reproduces the
	// feature state.
	registry := changes.NewDefaultRegistry()
	tree := datatypes.NewFeatureTree()
	for _, e := range entries {
		c, err := registry.Decode(e.Change)
		require.NoError(t, err)
		require.NoError(t, c.ApplyToTree(tree))
	}
	f, ok := tree.Get("gene1")
	require.True(t, ok)
	assert.Equal(t, int64(9500), f.Locations[0].End)
}
