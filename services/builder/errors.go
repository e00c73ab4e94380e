// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package builder

import (
	"context"
	"errors"

	"github.com/AleutianAI/AleutianNova/services/builder/fsutil"
	"github.com/AleutianAI/AleutianNova/services/builder/registry"
	"github.com/AleutianAI/AleutianNova/services/builder/restore"
	"github.com/AleutianAI/AleutianNova/services/builder/snapshot"
	"github.com/AleutianAI/AleutianNova/services/builder/tools"
	"github.com/AleutianAI/AleutianNova/services/builder/workspace"
)

// Error kinds returned by Service. Every error from a Service method
// matches exactly one of these with errors.Is.
var (
	// ErrNotFound means a request, workspace or snapshot is absent.
	ErrNotFound = errors.New("not found")

	// ErrIntegrity means a snapshot failed verification. The destination
	// was not modified.
	ErrIntegrity = errors.New("integrity check failed")

	// ErrPathEscape means a path resolved outside its allowed root.
	ErrPathEscape = errors.New("path escapes allowed root")

	// ErrConfirmationRequired means a dangerous tool was called without
	// confirmation. It is not a failure: nothing ran.
	ErrConfirmationRequired = errors.New("confirmation required")

	// ErrTimeout means a subprocess or the caller's deadline ran out.
	ErrTimeout = errors.New("timed out")

	// ErrExecutionFailure is any other fault.
	ErrExecutionFailure = errors.New("execution failure")

	// ErrAlreadyExists means a create-only operation found its target.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidRequest means the caller's input was malformed.
	ErrInvalidRequest = errors.New("invalid request")
)

var kinds = []error{
	ErrNotFound, ErrIntegrity, ErrPathEscape, ErrConfirmationRequired,
	ErrTimeout, ErrAlreadyExists, ErrInvalidRequest, ErrExecutionFailure,
}

// opError carries the operation name, the error kind, and the cause.
type opError struct {
	op   string
	kind error
	err  error
}

func (e *opError) Error() string {
	return e.op + ": " + e.err.Error()
}

func (e *opError) Unwrap() []error {
	return []error{e.kind, e.err}
}

// wrap tags err with op and its kind. Nil stays nil.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var oe *opError
	if errors.As(err, &oe) {
		return err
	}
	return &opError{op: op, kind: kindOf(err), err: err}
}

func invalid(op string, msg string) error {
	return &opError{op: op, kind: ErrInvalidRequest, err: errors.New(msg)}
}

// kindOf maps package sentinels onto the service taxonomy.
func kindOf(err error) error {
	for _, kind := range kinds {
		if errors.Is(err, kind) {
			return kind
		}
	}
	switch {
	case errors.Is(err, snapshot.ErrIntegrity),
		errors.Is(err, restore.ErrUnsafeArchive):
		return ErrIntegrity
	case errors.Is(err, workspace.ErrPathEscape),
		errors.Is(err, snapshot.ErrSubsetEscape),
		errors.Is(err, fsutil.ErrEscape),
		errors.Is(err, tools.ErrPathEscape):
		return ErrPathEscape
	case errors.Is(err, registry.ErrNotFound),
		errors.Is(err, workspace.ErrNotFound),
		errors.Is(err, snapshot.ErrNotFound),
		errors.Is(err, tools.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, registry.ErrInvalidID),
		errors.Is(err, workspace.ErrInvalidID),
		errors.Is(err, tools.ErrInvalidArgs):
		return ErrInvalidRequest
	case errors.Is(err, tools.ErrAlreadyExists):
		return ErrAlreadyExists
	case errors.Is(err, tools.ErrTimeout),
		errors.Is(err, context.DeadlineExceeded):
		return ErrTimeout
	default:
		return ErrExecutionFailure
	}
}
