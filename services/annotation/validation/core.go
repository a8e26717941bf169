// Copyright (C) 2026 Seqlab (dev@seqlab.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package validation

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/seqlab/annohub/services/annotation/datatypes"
	"github.com/seqlab/annohub/services/annotation/store"
)

// span mirrors one feature location for tag-based checking. Coordinates
// are zero-based half-open; an empty span (End == Start) is well formed,
// matching datatypes.Location.Valid.
type span struct {
	Start int64 `validate:"gte=0"`
	End   int64 `validate:"gtefield=Start"`
}

// CoreValidation runs the change's own payload check before apply, and
// re-checks the structural invariants of every touched document after.
type CoreValidation struct {
	validate *validator.Validate
}

func NewCoreValidation() *CoreValidation {
	return &CoreValidation{validate: validator.New(validator.WithRequiredStructEnabled())}
}

func (v *CoreValidation) Name() string { return "core" }

func (v *CoreValidation) PreValidate(ctx context.Context, req *Request) Result {
	if err := req.Change.CoreCheck(); err != nil {
		return Result{
			Validation: v.Name(),
			Err:        fmt.Errorf("%s: %s: %w", req.Change.TypeName(), err, datatypes.ErrValidationFailed),
		}
	}
	return pass(v.Name())
}

// PostValidate re-validates each document a change touched: tree
// invariants (ids, parent containment) plus every location span. Runs
// inside the storage transaction, so a failure here rolls the apply back.
func (v *CoreValidation) PostValidate(ctx context.Context, req *Request, view store.ReadTxn) Result {
	seen := make(map[string]bool)
	for _, id := range req.Change.ChangedIDs() {
		rootID, err := view.ResolveFeature(id)
		if err != nil {
			if _, ok := skipNotFound(v.Name(), err); ok {
				// Deleted features have nothing left to check.
				continue
			}
			return Result{Validation: v.Name(), Err: err}
		}
		if seen[rootID] {
			continue
		}
		seen[rootID] = true

		doc, _, err := view.GetDocument(rootID)
		if err != nil {
			return Result{Validation: v.Name(), Err: err}
		}
		if err := doc.Validate(); err != nil {
			return Result{
				Validation: v.Name(),
				Err:        fmt.Errorf("document %s: %s: %w", rootID, err, datatypes.ErrValidationFailed),
			}
		}
		if err := v.checkSpans(doc); err != nil {
			return Result{Validation: v.Name(), Err: err}
		}
	}
	return pass(v.Name())
}

func (v *CoreValidation) checkSpans(f *datatypes.Feature) error {
	var failed error
	f.Walk(func(node *datatypes.Feature) bool {
		for i, loc := range node.Locations {
			if err := v.validate.Struct(span{Start: loc.Start, End: loc.End}); err != nil {
				failed = fmt.Errorf("feature %s location %d [%d,%d): %w",
					node.ID, i, loc.Start, loc.End, datatypes.ErrValidationFailed)
				return false
			}
		}
		return true
	})
	return failed
}
