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

	"github.com/seqlab/annohub/services/annotation/changes"
	"github.com/seqlab/annohub/services/annotation/datatypes"
	"github.com/seqlab/annohub/services/annotation/store"
)

// DefaultPermissions maps each built-in change type to the minimum role
// allowed to submit it. Assembly lifecycle is admin-only; feature edits
// need a full user.
func DefaultPermissions() map[string]datatypes.Role {
	return map[string]datatypes.Role{
		changes.TypeNameAddAssembly:      datatypes.RoleAdmin,
		changes.TypeNameDeleteAssembly:   datatypes.RoleAdmin,
		changes.TypeNameAddFeature:       datatypes.RoleUser,
		changes.TypeNameDeleteFeature:    datatypes.RoleUser,
		changes.TypeNameLocationStart:    datatypes.RoleUser,
		changes.TypeNameLocationEnd:      datatypes.RoleUser,
		changes.TypeNameStrand:           datatypes.RoleUser,
		changes.TypeNameFeatureType:      datatypes.RoleUser,
		changes.TypeNameFeatureAttribute: datatypes.RoleUser,
	}
}

// AuthorizationValidation vetoes changes the submitting identity's role
// does not cover. Change types absent from the permission table require
// admin, so a newly registered type is locked down until someone grants
// it explicitly.
type AuthorizationValidation struct {
	permissions map[string]datatypes.Role
}

func NewAuthorizationValidation(permissions map[string]datatypes.Role) *AuthorizationValidation {
	if permissions == nil {
		permissions = DefaultPermissions()
	}
	return &AuthorizationValidation{permissions: permissions}
}

func (v *AuthorizationValidation) Name() string { return "authorization" }

func (v *AuthorizationValidation) PreValidate(ctx context.Context, req *Request) Result {
	required, ok := v.permissions[req.Change.TypeName()]
	if !ok {
		required = datatypes.RoleAdmin
	}
	if !req.Identity.Role.Covers(required) {
		return Result{
			Validation: v.Name(),
			Err: fmt.Errorf("user %s (role %s) may not submit %s (requires %s): %w",
				req.Identity.UserID, req.Identity.Role, req.Change.TypeName(), required,
				datatypes.ErrForbidden),
		}
	}
	return pass(v.Name())
}

func (v *AuthorizationValidation) PostValidate(ctx context.Context, req *Request, view store.ReadTxn) Result {
	// Authorization is decided entirely up front.
	return pass(v.Name())
}
