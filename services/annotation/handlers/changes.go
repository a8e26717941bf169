// Copyright (C) 2026 Seqlab (dev@seqlab.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package handlers implements the HTTP surface of the annotation service.
package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/seqlab/annohub/pkg/logging"
	"github.com/seqlab/annohub/services/annotation/datatypes"
	"github.com/seqlab/annohub/services/annotation/executor"
	"github.com/seqlab/annohub/services/annotation/middleware"
	"github.com/seqlab/annohub/services/annotation/validation"
)

const maxChangeBody = 4 << 20 // a whole gene model with sequence attributes fits well under 4 MiB

// ChangeHandler serves change submission, history and check reports.
type ChangeHandler struct {
	exec *executor.Executor
	log  *logging.Logger
}

func NewChangeHandler(exec *executor.Executor, log *logging.Logger) *ChangeHandler {
	if log == nil {
		log = logging.Default()
	}
	return &ChangeHandler{exec: exec, log: log.With("handler", "changes")}
}

// Submit handles POST /v1/changes. The body is one serialized change; the
// typeName field selects the variant.
func (h *ChangeHandler) Submit(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxChangeBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	identity := middleware.GetIdentity(c)
	sessionID := c.GetHeader(middleware.SessionHeader)

	entry, reports, err := h.exec.Submit(c.Request.Context(), identity, sessionID, body)
	if err != nil {
		h.renderSubmitError(c, err)
		return
	}
	h.renderApplied(c, entry, reports)
}

// Revert handles POST /v1/changes/:id/revert: the inverse of the logged
// entry runs through the full submit pipeline as a new change.
func (h *ChangeHandler) Revert(c *gin.Context) {
	identity := middleware.GetIdentity(c)
	sessionID := c.GetHeader(middleware.SessionHeader)

	entry, reports, err := h.exec.Revert(c.Request.Context(), identity, sessionID, c.Param("id"))
	if err != nil {
		h.renderSubmitError(c, err)
		return
	}
	h.renderApplied(c, entry, reports)
}

// renderApplied writes the success body for an applied change. "change"
// carries the new log entry's id; the full entry and any advisory reports
// ride alongside.
func (h *ChangeHandler) renderApplied(c *gin.Context, entry *datatypes.ChangeLogEntry, reports []datatypes.CheckReport) {
	if reports == nil {
		reports = []datatypes.CheckReport{}
	}
	c.JSON(http.StatusOK, gin.H{
		"change":  entry.ID,
		"entry":   entry,
		"reports": reports,
	})
}

// renderSubmitError maps pipeline sentinels to HTTP statuses. Forbidden
// wins over the generic validation status so role failures surface as 403.
func (h *ChangeHandler) renderSubmitError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, datatypes.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, datatypes.ErrConcurrentModification):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, datatypes.ErrUnknownChangeType):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, datatypes.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, datatypes.ErrValidationFailed):
		payload := gin.H{"error": err.Error()}
		var failed *validation.FailedError
		if errors.As(err, &failed) {
			results := make([]gin.H, 0, len(failed.Results))
			for _, r := range failed.Results {
				results = append(results, gin.H{
					"validationName": r.Validation,
					"error":          r.Message(),
				})
			}
			payload["results"] = results
		}
		c.JSON(http.StatusUnprocessableEntity, payload)
	default:
		h.log.Error("change submit failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// History handles GET /v1/changes with assembly/user/typeName/since/limit
// query filters. Entries come back oldest first.
func (h *ChangeHandler) History(c *gin.Context) {
	var filter datatypes.ChangeFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid filter: " + err.Error()})
		return
	}
	entries, err := h.exec.History(c.Request.Context(), filter)
	if err != nil {
		h.log.Error("history query failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if entries == nil {
		entries = []datatypes.ChangeLogEntry{}
	}
	c.JSON(http.StatusOK, entries)
}

// Types handles GET /v1/changes/types.
func (h *ChangeHandler) Types(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"types": h.exec.TypeNames()})
}

// Reports handles GET /v1/checks/:featureId.
func (h *ChangeHandler) Reports(c *gin.Context) {
	reports, err := h.exec.Reports(c.Request.Context(), c.Param("featureId"))
	if err != nil {
		h.log.Error("check report query failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if reports == nil {
		reports = []datatypes.CheckReport{}
	}
	c.JSON(http.StatusOK, reports)
}
