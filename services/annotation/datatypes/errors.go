// Copyright (C) 2026 Seqlab (dev@seqlab.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import "errors"

// Error taxonomy for change submission. The HTTP layer maps these to
// status codes; everything else propagates wrapped with %w so callers can
// test with errors.Is.
var (
	// ErrUnknownChangeType: the registry has no factory for the
	// submitted typeName. Fatal to the request, not to the process.
	ErrUnknownChangeType = errors.New("unknown change type")

	// ErrValidationFailed: pre-validation vetoed the change. No mutation
	// occurred.
	ErrValidationFailed = errors.New("validation failed")

	// ErrConcurrentModification: a recorded old value no longer matches
	// the stored value. The caller should re-fetch and retry.
	ErrConcurrentModification = errors.New("concurrent modification")

	// ErrForbidden: the submitting user's role does not cover the
	// change type's required role.
	ErrForbidden = errors.New("forbidden")

	// ErrNotFound: a referenced feature, assembly or reference sequence
	// does not exist.
	ErrNotFound = errors.New("not found")

	// ErrStorage: the storage transaction could not commit.
	ErrStorage = errors.New("storage failure")

	// ErrEditInProgress: the client manager already has a submission in
	// flight for the same feature.
	ErrEditInProgress = errors.New("another edit is in progress")
)
