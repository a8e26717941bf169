// Copyright (C) 2026 Seqlab (dev@seqlab.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package validation runs an ordered set of pluggable validators around a
// change's application. Pre-validation is blocking and happens before any
// store mutation; post-validation runs inside the storage transaction and
// a failure rolls the whole transaction back.
//
// Validators report results as values, never panics: every validator runs
// and the set aggregates all failures, so the caller sees every reason a
// change was rejected, not just the first.
package validation

import (
	"context"
	"errors"
	"strings"

	"github.com/seqlab/annohub/services/annotation/changes"
	"github.com/seqlab/annohub/services/annotation/datatypes"
	"github.com/seqlab/annohub/services/annotation/store"
)

// Request is what a validator inspects: the decoded change plus the
// identity submitting it.
type Request struct {
	Identity datatypes.Identity
	Change   changes.Change
}

// Result is one validator's verdict. A nil Err is a pass.
type Result struct {
	Validation string
	Err        error
}

// Message returns the failure text, or "" on a pass.
func (r Result) Message() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// Validation is one pluggable validator.
type Validation interface {
	Name() string
	PreValidate(ctx context.Context, req *Request) Result
	PostValidate(ctx context.Context, req *Request, view store.ReadTxn) Result
}

// Outcome aggregates the results of a whole validation set.
type Outcome struct {
	Results []Result
}

// OK reports whether every validator passed.
func (o Outcome) OK() bool {
	for _, r := range o.Results {
		if r.Err != nil {
			return false
		}
	}
	return true
}

// Failures returns only the failing results.
func (o Outcome) Failures() []Result {
	var out []Result
	for _, r := range o.Results {
		if r.Err != nil {
			out = append(out, r)
		}
	}
	return out
}

// Err returns nil when the outcome passed, or a FailedError carrying
// every failing result.
func (o Outcome) Err() error {
	failures := o.Failures()
	if len(failures) == 0 {
		return nil
	}
	return &FailedError{Results: failures}
}

// FailedError reports an aggregated validation veto. errors.Is sees
// datatypes.ErrValidationFailed plus each underlying cause (e.g.
// ErrForbidden from the authorization validator), so the HTTP boundary
// can pick the most specific status.
type FailedError struct {
	Results []Result
}

func (e *FailedError) Error() string {
	msgs := make([]string, 0, len(e.Results))
	for _, r := range e.Results {
		msgs = append(msgs, r.Validation+": "+r.Message())
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

func (e *FailedError) Unwrap() []error {
	errs := make([]error, 0, len(e.Results)+1)
	errs = append(errs, datatypes.ErrValidationFailed)
	for _, r := range e.Results {
		errs = append(errs, r.Err)
	}
	return errs
}

// Set is an ordered list of validations run as a pipeline.
type Set struct {
	validations []Validation
}

// NewSet builds a pipeline with the given validators, in order.
func NewSet(vs ...Validation) *Set {
	return &Set{validations: vs}
}

// NewDefaultSet wires the built-in pipeline: authorization first, then
// structural checks.
func NewDefaultSet(permissions map[string]datatypes.Role) *Set {
	return NewSet(
		NewAuthorizationValidation(permissions),
		NewCoreValidation(),
	)
}

// PreValidate runs every validator's pre hook and aggregates all results.
// No short-circuit: a change failing two validators reports both reasons.
func (s *Set) PreValidate(ctx context.Context, req *Request) Outcome {
	var out Outcome
	for _, v := range s.validations {
		out.Results = append(out.Results, v.PreValidate(ctx, req))
	}
	return out
}

// PostValidate runs every validator's post hook against the mutated state
// visible in view.
func (s *Set) PostValidate(ctx context.Context, req *Request, view store.ReadTxn) Outcome {
	var out Outcome
	for _, v := range s.validations {
		out.Results = append(out.Results, v.PostValidate(ctx, req, view))
	}
	return out
}

// pass is the shared success result constructor.
func pass(name string) Result { return Result{Validation: name} }

// skipNotFound converts a lookup miss into a pass; post-validation of a
// deleted feature has nothing left to inspect.
func skipNotFound(name string, err error) (Result, bool) {
	if errors.Is(err, datatypes.ErrNotFound) {
		return pass(name), true
	}
	return Result{}, false
}
