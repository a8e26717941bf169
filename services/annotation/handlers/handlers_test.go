// Copyright (C) 2026 Seqlab (dev@seqlab.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seqlab/annohub/pkg/logging"
	"github.com/seqlab/annohub/services/annotation/broadcast"
	"github.com/seqlab/annohub/services/annotation/changes"
	"github.com/seqlab/annohub/services/annotation/checks"
	"github.com/seqlab/annohub/services/annotation/datatypes"
	"github.com/seqlab/annohub/services/annotation/executor"
	"github.com/seqlab/annohub/services/annotation/middleware"
	"github.com/seqlab/annohub/services/annotation/observability"
	"github.com/seqlab/annohub/services/annotation/routes"
	"github.com/seqlab/annohub/services/annotation/store"
	"github.com/seqlab/annohub/services/annotation/validation"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const (
	adminToken = "admin-token"
	userToken  = "user-token"
	roToken    = "ro-token"
)

type testServer struct {
	router *gin.Engine
	db     *store.Badger
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	db, err := store.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	log := logging.New(logging.Config{Quiet: true})
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)
	hub := broadcast.NewHub(log, metrics)

	exec, err := executor.New(executor.Options{
		Registry:   changes.NewDefaultRegistry(),
		Store:      db,
		Validation: validation.NewDefaultSet(nil),
		Checks:     checks.NewDefaultRunner(),
		Publisher:  hub,
		Metrics:    metrics,
		Logger:     log,
	})
	require.NoError(t, err)

	provider := middleware.NewStaticProvider(map[string]datatypes.Identity{
		adminToken: {UserID: "admin1", Name: "Root", Role: datatypes.RoleAdmin},
		userToken:  {UserID: "user1", Name: "Ada", Role: datatypes.RoleUser},
		roToken:    {UserID: "ro1", Name: "Viewer", Role: datatypes.RoleReadOnly},
	})

	router := gin.New()
	routes.SetupRoutes(router, exec, db, hub, provider, reg, log)
	return &testServer{router: router, db: db}
}

func (s *testServer) do(t *testing.T, method, path, token string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, path, bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) submit(t *testing.T, token string, c changes.Change) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := changes.Encode(c)
	require.NoError(t, err)
	return s.do(t, http.MethodPost, "/v1/changes", token, raw)
}

func (s *testServer) seedGene(t *testing.T) {
	t.Helper()
	w := s.submit(t, adminToken, changes.NewAddAssemblyChange("asm1", "test", []datatypes.RefSeq{
		{Name: "chr1", Length: 10000},
	}))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	gene := &datatypes.Feature{
		ID:        "gene1",
		RefSeq:    "chr1",
		Type:      "gene",
		Strand:    datatypes.StrandForward,
		Locations: []datatypes.Location{{Start: 1000, End: 9000}},
	}
	w = s.submit(t, userToken, changes.NewAddFeatureChange("asm1", "", gene))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestSubmitChange_OK(t *testing.T) {
	s := newTestServer(t)
	s.seedGene(t)

	w := s.submit(t, userToken, changes.NewLocationEndChange("asm1", "gene1", 0, 9000, 9500))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Change  string                   `json:"change"`
		Entry   datatypes.ChangeLogEntry `json:"entry"`
		Reports []datatypes.CheckReport  `json:"reports"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "LocationEndChange", resp.Entry.TypeName)
	assert.Equal(t, "user1", resp.Entry.User)
	assert.Len(t, resp.Entry.ID, 26)
	// The top-level "change" field carries the new log entry's id.
	assert.Equal(t, resp.Entry.ID, resp.Change)

	// No checks fired, but the field is an empty array, not null.
	var fields map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &fields))
	assert.JSONEq(t, `[]`, string(fields["reports"]))
}

func TestRevertChange(t *testing.T) {
	s := newTestServer(t)
	s.seedGene(t)

	w := s.submit(t, userToken, changes.NewLocationEndChange("asm1", "gene1", 0, 9000, 9500))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var submitted struct {
		Change string `json:"change"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &submitted))

	w = s.do(t, http.MethodPost, "/v1/changes/"+submitted.Change+"/revert", userToken, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp struct {
		Entry datatypes.ChangeLogEntry `json:"entry"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, submitted.Change, resp.Entry.Reverts)

	// The feature is back at its pre-edit end.
	w = s.do(t, http.MethodGet, "/v1/features/gene1", userToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var f datatypes.Feature
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &f))
	assert.Equal(t, int64(9000), f.Locations[0].End)

	// Reverting the same entry again is stale.
	w = s.do(t, http.MethodPost, "/v1/changes/"+submitted.Change+"/revert", userToken, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	// An unknown entry id is a 404.
	w = s.do(t, http.MethodPost, "/v1/changes/01GHOSTENTRY00000000000000/revert", userToken, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSubmitChange_StaleOldValueIs409(t *testing.T) {
	s := newTestServer(t)
	s.seedGene(t)

	w := s.submit(t, userToken, changes.NewLocationEndChange("asm1", "gene1", 0, 1, 9500))
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "error")
}

func TestSubmitChange_RoleVetoIs403(t *testing.T) {
	s := newTestServer(t)
	s.seedGene(t)

	w := s.submit(t, roToken, changes.NewLocationEndChange("asm1", "gene1", 0, 9000, 9500))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.submit(t, userToken, changes.NewDeleteAssemblyChange("asm1"))
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestSubmitChange_BadPayloadIs422WithResults(t *testing.T) {
	s := newTestServer(t)
	s.seedGene(t)

	// Missing assembly fails the payload check.
	w := s.submit(t, userToken, changes.NewLocationEndChange("", "gene1", 0, 9000, 9500))
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)

	var resp struct {
		Results []struct {
			ValidationName string `json:"validationName"`
			Error          string `json:"error"`
		} `json:"results"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, "core", resp.Results[0].ValidationName)
	assert.NotEmpty(t, resp.Results[0].Error)
}

func TestSubmitChange_UnknownTypeIs400(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, http.MethodPost, "/v1/changes", adminToken, []byte(`{"typeName":"TeleportChange"}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSubmitChange_Unauthenticated(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, http.MethodPost, "/v1/changes", "", []byte(`{}`))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHistory_FilterByUser(t *testing.T) {
	s := newTestServer(t)
	s.seedGene(t)

	w := s.do(t, http.MethodGet, "/v1/changes?user=admin1", userToken, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var entries []datatypes.ChangeLogEntry
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "AddAssemblyChange", entries[0].TypeName)
}

func TestChangeTypes(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, http.MethodGet, "/v1/changes/types", userToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "LocationEndChange")
	assert.Contains(t, w.Body.String(), "AddAssemblyChange")
}

func TestAssemblies_ReadAPI(t *testing.T) {
	s := newTestServer(t)
	s.seedGene(t)

	w := s.do(t, http.MethodGet, "/v1/assemblies", userToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"asm1"`)

	w = s.do(t, http.MethodGet, "/v1/assemblies/asm1", userToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"chr1"`)

	w = s.do(t, http.MethodGet, "/v1/assemblies/asm1/features", userToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var docs []*datatypes.Feature
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &docs))
	require.Len(t, docs, 1)
	assert.Equal(t, "gene1", docs[0].ID)

	w = s.do(t, http.MethodGet, "/v1/assemblies/nope", userToken, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestFeature_GetAndMissing(t *testing.T) {
	s := newTestServer(t)
	s.seedGene(t)

	w := s.do(t, http.MethodGet, "/v1/features/gene1", userToken, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var f datatypes.Feature
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &f))
	assert.Equal(t, int64(9000), f.Locations[0].End)

	w = s.do(t, http.MethodGet, "/v1/features/ghost", userToken, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestChecks_EmptyForCleanFeature(t *testing.T) {
	s := newTestServer(t)
	s.seedGene(t)

	w := s.do(t, http.MethodGet, "/v1/checks/gene1", userToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "[]", w.Body.String())
}

func TestHealth_NoAuthRequired(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCollaborators_EmptyList(t *testing.T) {
	s := newTestServer(t)
	s.seedGene(t)
	w := s.do(t, http.MethodGet, "/v1/assemblies/asm1/collaborators", userToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "[]", w.Body.String())
}

// Changing state through the API must be visible through the store handle
// the service shares with the mirror and checks.
func TestSubmitChange_VisibleInStore(t *testing.T) {
	s := newTestServer(t)
	s.seedGene(t)

	w := s.submit(t, userToken, changes.NewFeatureAttributeChange("asm1", "gene1", "Name", nil, []string{"shaggy"}))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	err := s.db.View(context.Background(), func(view store.ReadTxn) error {
		doc, _, err := view.GetDocument("gene1")
		require.NoError(t, err)
		assert.Equal(t, []string{"shaggy"}, doc.Attributes["Name"])
		return nil
	})
	require.NoError(t, err)
}
