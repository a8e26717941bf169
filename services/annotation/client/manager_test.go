// Copyright (C) 2026 Seqlab (dev@seqlab.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package client

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seqlab/annohub/pkg/logging"
	"github.com/seqlab/annohub/services/annotation/broadcast"
	"github.com/seqlab/annohub/services/annotation/changes"
	"github.com/seqlab/annohub/services/annotation/datatypes"
)

func testManager(t *testing.T, baseURL string) *Manager {
	t.Helper()
	m, err := NewManager(Options{
		BaseURL: baseURL,
		Token:   "tok",
		Logger:  logging.New(logging.Config{Quiet: true}),
	})
	require.NoError(t, err)
	return m
}

func seedTree(t *testing.T, m *Manager) {
	t.Helper()
	gene := &datatypes.Feature{
		ID:        "gene1",
		RefSeq:    "chr1",
		Type:      "gene",
		Strand:    datatypes.StrandForward,
		Locations: []datatypes.Location{{Start: 1000, End: 9000}},
	}
	require.NoError(t, m.tree.AddRoot(gene))
}

func changeServer(t *testing.T, status int, body string, gotSession *string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/changes", r.URL.Path)
		require.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		if gotSession != nil {
			*gotSession = r.Header.Get("X-Session-ID")
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSubmit_OptimisticApplyKeptOnSuccess(t *testing.T) {
	var session string
	srv := changeServer(t, http.StatusOK, `{"id":"01ARZ"}`, &session)
	m := testManager(t, srv.URL)
	seedTree(t, m)

	err := m.Submit(context.Background(), changes.NewLocationEndChange("asm1", "gene1", 0, 9000, 9500))
	require.NoError(t, err)

	f, ok := m.Feature("gene1")
	require.True(t, ok)
	assert.Equal(t, int64(9500), f.Locations[0].End)
	assert.Equal(t, m.SessionID(), session)
	assert.Empty(t, m.pending)
}

func TestSubmit_RejectionRollsBack(t *testing.T) {
	srv := changeServer(t, http.StatusConflict, `{"error":"stale old value"}`, nil)
	m := testManager(t, srv.URL)
	seedTree(t, m)

	err := m.Submit(context.Background(), changes.NewLocationEndChange("asm1", "gene1", 0, 9000, 9500))
	assert.ErrorIs(t, err, datatypes.ErrConcurrentModification)

	// The optimistic apply was undone via the inverse change.
	f, ok := m.Feature("gene1")
	require.True(t, ok)
	assert.Equal(t, int64(9000), f.Locations[0].End)
	assert.Empty(t, m.pending)
}

func TestSubmit_ForbiddenMapsSentinel(t *testing.T) {
	srv := changeServer(t, http.StatusForbidden, `{"error":"nope"}`, nil)
	m := testManager(t, srv.URL)
	seedTree(t, m)

	err := m.Submit(context.Background(), changes.NewStrandChange("asm1", "gene1", datatypes.StrandForward, datatypes.StrandReverse))
	assert.ErrorIs(t, err, datatypes.ErrForbidden)
}

func TestRevert_AppliesInverseLocally(t *testing.T) {
	inverse, err := changes.Encode(changes.NewLocationEndChange("asm1", "gene1", 0, 9500, 9000))
	require.NoError(t, err)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/changes/01AAA/revert", r.URL.Path)
		require.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{"change":"01AAB","entry":{"id":"01AAB","assembly":"asm1","typeName":"LocationEndChange","changedIds":["gene1"],"reverts":"01AAA","change":%s}}`, inverse)
	}))
	t.Cleanup(srv.Close)

	m := testManager(t, srv.URL)
	seedTree(t, m)
	// The replica already saw the edit the server is about to undo.
	require.NoError(t, changes.NewLocationEndChange("asm1", "gene1", 0, 9000, 9500).ApplyToTree(m.tree))

	entry, err := m.Revert(context.Background(), "01AAA")
	require.NoError(t, err)
	assert.Equal(t, "01AAA", entry.Reverts)

	f, ok := m.Feature("gene1")
	require.True(t, ok)
	assert.Equal(t, int64(9000), f.Locations[0].End)
}

func TestRevert_ServerRejectionMapsSentinel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"already reverted"}`))
	}))
	t.Cleanup(srv.Close)

	m := testManager(t, srv.URL)
	_, err := m.Revert(context.Background(), "01AAA")
	assert.ErrorIs(t, err, datatypes.ErrConcurrentModification)
}

func TestSubmit_RefusesOverlappingEdit(t *testing.T) {
	m := testManager(t, "http://unused.invalid")
	seedTree(t, m)
	m.pending["gene1"] = true

	err := m.Submit(context.Background(), changes.NewLocationEndChange("asm1", "gene1", 0, 9000, 9500))
	assert.ErrorIs(t, err, datatypes.ErrEditInProgress)

	// The refused change never touched the tree.
	f, _ := m.Feature("gene1")
	assert.Equal(t, int64(9000), f.Locations[0].End)
}

func TestSubmit_LocalApplyFailureSkipsServer(t *testing.T) {
	m := testManager(t, "http://unused.invalid")
	seedTree(t, m)

	// Stale old value fails locally before any network traffic.
	err := m.Submit(context.Background(), changes.NewLocationEndChange("asm1", "gene1", 0, 1234, 9500))
	assert.ErrorIs(t, err, datatypes.ErrConcurrentModification)
}

func encodeMsg(t *testing.T, c changes.Change, sessionID string) broadcast.Message {
	t.Helper()
	raw, err := changes.Encode(c)
	require.NoError(t, err)
	return broadcast.Message{
		Kind:      broadcast.KindChange,
		SessionID: sessionID,
		ChangeID:  "01ARZ3NDEKTSV4RRFFQ69G5FAV",
		Assembly:  c.AssemblyID(),
		TypeName:  c.TypeName(),
		Change:    raw,
	}
}

func TestReceive_AppliesRemoteChange(t *testing.T) {
	m := testManager(t, "http://unused.invalid")
	seedTree(t, m)

	msg := encodeMsg(t, changes.NewLocationEndChange("asm1", "gene1", 0, 9000, 9500), "other-session")
	require.NoError(t, m.Receive(msg))

	f, _ := m.Feature("gene1")
	assert.Equal(t, int64(9500), f.Locations[0].End)
}

func TestReceive_SkipsOwnEcho(t *testing.T) {
	m := testManager(t, "http://unused.invalid")
	seedTree(t, m)

	// The echo of our own change must not double-apply.
	msg := encodeMsg(t, changes.NewLocationEndChange("asm1", "gene1", 0, 9000, 9500), m.SessionID())
	require.NoError(t, m.Receive(msg))

	f, _ := m.Feature("gene1")
	assert.Equal(t, int64(9000), f.Locations[0].End)
}

func TestReceive_DivergenceReported(t *testing.T) {
	m := testManager(t, "http://unused.invalid")
	seedTree(t, m)

	msg := encodeMsg(t, changes.NewLocationEndChange("asm1", "gene1", 0, 7777, 9500), "other-session")
	err := m.Receive(msg)
	assert.ErrorIs(t, err, datatypes.ErrConcurrentModification)
}

func TestReceive_IgnoresPresenceFrames(t *testing.T) {
	m := testManager(t, "http://unused.invalid")
	require.NoError(t, m.Receive(broadcast.Message{Kind: broadcast.KindLocation}))
}

func TestLoadAssembly_ReplacesReplica(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/assemblies/asm1/features", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id":"gene2","refSeq":"chr1","type":"gene","locations":[{"start":1,"end":10}]}]`))
	}))
	defer srv.Close()

	m := testManager(t, srv.URL)
	seedTree(t, m)

	require.NoError(t, m.LoadAssembly(context.Background(), "asm1"))

	_, stale := m.Feature("gene1")
	assert.False(t, stale, "old replica contents must be dropped")
	f, ok := m.Feature("gene2")
	require.True(t, ok)
	assert.Equal(t, int64(10), f.Locations[0].End)
}
