// Copyright (C) 2026 Seqlab (dev@seqlab.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package client maintains a local replica of annotation state and talks
// to the annotation service over HTTP and websocket.
//
// Edits are optimistic: a change applies to the local feature tree
// immediately, then travels to the server. On rejection the change's
// inverse rolls the replica back. While a change is in flight, further
// edits to the same features are refused rather than queued, which keeps
// rollback trivial.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/seqlab/annohub/pkg/logging"
	"github.com/seqlab/annohub/services/annotation/broadcast"
	"github.com/seqlab/annohub/services/annotation/changes"
	"github.com/seqlab/annohub/services/annotation/datatypes"
)

// Manager is the client-side engine. Safe for concurrent use.
type Manager struct {
	baseURL   string
	token     string
	sessionID string
	http      *http.Client
	registry  *changes.Registry
	log       *logging.Logger

	mu      sync.Mutex
	tree    *datatypes.FeatureTree
	pending map[string]bool
}

// Options configures a Manager.
type Options struct {
	// BaseURL is the service root, e.g. "http://localhost:8650".
	BaseURL string
	// Token is the bearer token sent on every request.
	Token string
	// Registry decodes broadcast payloads. Defaults to the built-ins.
	Registry *changes.Registry
	// HTTPClient defaults to a client with a 30s timeout.
	HTTPClient *http.Client
	Logger     *logging.Logger
}

func NewManager(opts Options) (*Manager, error) {
	if opts.BaseURL == "" {
		return nil, errors.New("client: base URL is required")
	}
	if opts.Registry == nil {
		opts.Registry = changes.NewDefaultRegistry()
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	return &Manager{
		baseURL:   opts.BaseURL,
		token:     opts.Token,
		sessionID: uuid.NewString(),
		http:      opts.HTTPClient,
		registry:  opts.Registry,
		log:       opts.Logger.With("component", "client"),
		tree:      datatypes.NewFeatureTree(),
		pending:   make(map[string]bool),
	}, nil
}

// SessionID identifies this replica on the websocket and on submissions.
func (m *Manager) SessionID() string { return m.sessionID }

// Feature returns a copy of the replica's view of a feature.
func (m *Manager) Feature(id string) (*datatypes.Feature, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.tree.Get(id)
	if !ok {
		return nil, false
	}
	return f.Copy(), true
}

// Submit applies the change locally, sends it to the server, and rolls
// the replica back if the server rejects it.
//
// Returns ErrEditInProgress when another change touching the same
// features is still in flight.
func (m *Manager) Submit(ctx context.Context, c changes.Change) error {
	ids := c.ChangedIDs()

	m.mu.Lock()
	for _, id := range ids {
		if m.pending[id] {
			m.mu.Unlock()
			return fmt.Errorf("feature %s: %w", id, datatypes.ErrEditInProgress)
		}
	}
	if err := c.ApplyToTree(m.tree); err != nil {
		m.mu.Unlock()
		return err
	}
	for _, id := range ids {
		m.pending[id] = true
	}
	m.mu.Unlock()

	err := m.post(ctx, c)

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.pending, id)
	}
	if err != nil {
		m.revert(c)
		return err
	}
	return nil
}

// revert undoes an optimistic apply. Caller holds m.mu.
func (m *Manager) revert(c changes.Change) {
	inv, invErr := c.Inverse()
	if invErr == nil {
		invErr = inv.ApplyToTree(m.tree)
	}
	if invErr != nil {
		// Without an inverse the replica is suspect; drop the affected
		// roots so the next read re-fetches authoritative state.
		m.log.Warn("rollback failed, evicting affected features", "type", c.TypeName(), "error", invErr)
		for _, id := range c.ChangedIDs() {
			if rootID, ok := m.tree.OwnerOf(id); ok {
				_, _ = m.tree.Delete(rootID)
			}
		}
	}
}

// Receive applies one broadcast frame to the replica. The submitting
// session's own changes are skipped because they were already applied
// optimistically.
func (m *Manager) Receive(msg broadcast.Message) error {
	if msg.Kind != broadcast.KindChange {
		return nil
	}
	if msg.SessionID == m.sessionID {
		return nil
	}
	c, err := m.registry.Decode(msg.Change)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := c.ApplyToTree(m.tree); err != nil {
		// A remote change that no longer applies means the replica has
		// diverged; the caller should reload the assembly.
		return fmt.Errorf("replica out of sync on change %s: %w", msg.ChangeID, err)
	}
	return nil
}

// Revert asks the server to undo a logged change and applies the
// resulting inverse to the replica. The broadcast echo of the revert
// carries this session's id and is skipped like any own submission, so
// the local apply has to happen here.
func (m *Manager) Revert(ctx context.Context, entryID string) (*datatypes.ChangeLogEntry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/v1/changes/"+entryID+"/revert", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Session-ID", m.sessionID)
	if m.token != "" {
		req.Header.Set("Authorization", "Bearer "+m.token)
	}

	resp, err := m.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}

	var payload struct {
		Entry datatypes.ChangeLogEntry `json:"entry"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, err
	}
	c, err := m.registry.Decode(payload.Entry.Change)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := c.ApplyToTree(m.tree); err != nil {
		return &payload.Entry, fmt.Errorf("replica out of sync on revert %s: %w", payload.Entry.ID, err)
	}
	return &payload.Entry, nil
}

// LoadAssembly replaces the replica's documents for one assembly with the
// server's current state.
func (m *Manager) LoadAssembly(ctx context.Context, assembly string) error {
	var docs []*datatypes.Feature
	if err := m.getJSON(ctx, "/v1/assemblies/"+assembly+"/features", &docs); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, root := range m.tree.Roots() {
		_, _ = m.tree.Delete(root.ID)
	}
	for _, doc := range docs {
		if err := m.tree.AddRoot(doc); err != nil {
			return err
		}
	}
	return nil
}

// History fetches change-log entries from the server.
func (m *Manager) History(ctx context.Context, filter datatypes.ChangeFilter) ([]datatypes.ChangeLogEntry, error) {
	path := "/v1/changes?assembly=" + filter.Assembly
	if filter.User != "" {
		path += "&user=" + filter.User
	}
	if filter.TypeName != "" {
		path += "&typeName=" + filter.TypeName
	}
	var entries []datatypes.ChangeLogEntry
	if err := m.getJSON(ctx, path, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// --- HTTP plumbing ---

func (m *Manager) post(ctx context.Context, c changes.Change) error {
	payload, err := changes.Encode(c)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/v1/changes", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Session-ID", m.sessionID)
	if m.token != "" {
		req.Header.Set("Authorization", "Bearer "+m.token)
	}

	resp, err := m.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return statusError(resp)
}

func (m *Manager) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.baseURL+path, nil)
	if err != nil {
		return err
	}
	if m.token != "" {
		req.Header.Set("Authorization", "Bearer "+m.token)
	}
	resp, err := m.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// statusError maps an HTTP failure back to the domain sentinel the server
// would have returned in-process.
func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var payload struct {
		Error string `json:"error"`
	}
	_ = json.Unmarshal(body, &payload)
	msg := payload.Error
	if msg == "" {
		msg = resp.Status
	}

	switch resp.StatusCode {
	case http.StatusConflict:
		return fmt.Errorf("%s: %w", msg, datatypes.ErrConcurrentModification)
	case http.StatusForbidden:
		return fmt.Errorf("%s: %w", msg, datatypes.ErrForbidden)
	case http.StatusUnprocessableEntity:
		return fmt.Errorf("%s: %w", msg, datatypes.ErrValidationFailed)
	case http.StatusNotFound:
		return fmt.Errorf("%s: %w", msg, datatypes.ErrNotFound)
	case http.StatusBadRequest:
		return fmt.Errorf("%s: %w", msg, datatypes.ErrUnknownChangeType)
	default:
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, msg)
	}
}
