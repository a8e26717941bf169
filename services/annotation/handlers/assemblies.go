// Copyright (C) 2026 Seqlab (dev@seqlab.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/seqlab/annohub/pkg/logging"
	"github.com/seqlab/annohub/services/annotation/broadcast"
	"github.com/seqlab/annohub/services/annotation/datatypes"
	"github.com/seqlab/annohub/services/annotation/store"
)

// AssemblyHandler serves the read-only views of annotation state.
type AssemblyHandler struct {
	store store.Store
	hub   *broadcast.Hub
	log   *logging.Logger
}

func NewAssemblyHandler(db store.Store, hub *broadcast.Hub, log *logging.Logger) *AssemblyHandler {
	if log == nil {
		log = logging.Default()
	}
	return &AssemblyHandler{store: db, hub: hub, log: log.With("handler", "assemblies")}
}

// List handles GET /v1/assemblies.
func (h *AssemblyHandler) List(c *gin.Context) {
	var assemblies []datatypes.Assembly
	err := h.store.View(c.Request.Context(), func(view store.ReadTxn) error {
		var err error
		assemblies, err = view.ListAssemblies()
		return err
	})
	if err != nil {
		h.internal(c, err)
		return
	}
	if assemblies == nil {
		assemblies = []datatypes.Assembly{}
	}
	c.JSON(http.StatusOK, assemblies)
}

// Get handles GET /v1/assemblies/:id, returning the assembly with its
// reference sequences (residues omitted).
func (h *AssemblyHandler) Get(c *gin.Context) {
	id := c.Param("id")
	var (
		assembly datatypes.Assembly
		refSeqs  []datatypes.RefSeq
	)
	err := h.store.View(c.Request.Context(), func(view store.ReadTxn) error {
		var err error
		if assembly, err = view.GetAssembly(id); err != nil {
			return err
		}
		refSeqs, err = view.ListRefSeqs(id)
		return err
	})
	if errors.Is(err, datatypes.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "assembly " + id + " not found"})
		return
	}
	if err != nil {
		h.internal(c, err)
		return
	}
	for i := range refSeqs {
		refSeqs[i].Residues = ""
	}
	c.JSON(http.StatusOK, gin.H{"assembly": assembly, "refSeqs": refSeqs})
}

// Features handles GET /v1/assemblies/:id/features, returning all
// top-level documents of the assembly.
func (h *AssemblyHandler) Features(c *gin.Context) {
	id := c.Param("id")
	var docs []*datatypes.Feature
	err := h.store.View(c.Request.Context(), func(view store.ReadTxn) error {
		if _, err := view.GetAssembly(id); err != nil {
			return err
		}
		var err error
		docs, err = view.ListDocuments(id)
		return err
	})
	if errors.Is(err, datatypes.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "assembly " + id + " not found"})
		return
	}
	if err != nil {
		h.internal(c, err)
		return
	}
	if docs == nil {
		docs = []*datatypes.Feature{}
	}
	c.JSON(http.StatusOK, docs)
}

// Feature handles GET /v1/features/:id. Nested features resolve through
// their owning document.
func (h *AssemblyHandler) Feature(c *gin.Context) {
	id := c.Param("id")
	var feature *datatypes.Feature
	err := h.store.View(c.Request.Context(), func(view store.ReadTxn) error {
		rootID, err := view.ResolveFeature(id)
		if err != nil {
			return err
		}
		doc, _, err := view.GetDocument(rootID)
		if err != nil {
			return err
		}
		feature = doc.Find(id)
		if feature == nil {
			return datatypes.ErrNotFound
		}
		return nil
	})
	if errors.Is(err, datatypes.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "feature " + id + " not found"})
		return
	}
	if err != nil {
		h.internal(c, err)
		return
	}
	c.JSON(http.StatusOK, feature)
}

// Collaborators handles GET /v1/assemblies/:id/collaborators.
func (h *AssemblyHandler) Collaborators(c *gin.Context) {
	collabs := h.hub.Collaborators(c.Param("id"))
	if collabs == nil {
		collabs = []datatypes.Collaborator{}
	}
	c.JSON(http.StatusOK, collabs)
}

func (h *AssemblyHandler) internal(c *gin.Context, err error) {
	h.log.Error("read query failed", "path", c.FullPath(), "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}
