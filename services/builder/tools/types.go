// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Sentinel errors returned by tool handlers. The gateway maps each one to a
// failure Code; anything else becomes CodeExecutionFailure.
var (
	ErrInvalidArgs   = errors.New("invalid arguments")
	ErrNotFound      = errors.New("not found")
	ErrPathEscape    = errors.New("path escapes allowed root")
	ErrAlreadyExists = errors.New("already exists")
	ErrTimeout       = errors.New("timed out")
)

// Code classifies a failed or gated invocation.
type Code string

const (
	CodeUnknownTool      Code = "unknown_tool"
	CodeInvalidArgs      Code = "invalid_args"
	CodeNotFound         Code = "not_found"
	CodePathEscape       Code = "path_escape"
	CodeAlreadyExists    Code = "already_exists"
	CodeTimeout          Code = "timeout"
	CodeExecutionFailure Code = "execution_failure"
	CodeRateLimited      Code = "rate_limited"
)

// Status is the top-level outcome of a dispatch.
type Status string

const (
	StatusOK                   Status = "ok"
	StatusFailed               Status = "failed"
	StatusConfirmationRequired Status = "confirmation_required"
)

// Param documents one argument of a tool.
type Param struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
}

// Definition is the static description of a tool. Dangerous is fixed at
// registration and cannot be overridden by a caller.
type Definition struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Dangerous   bool    `json:"dangerous"`
	Params      []Param `json:"params,omitempty"`
}

// Tool is a registered capability.
type Tool interface {
	// Definition returns the tool's static description.
	Definition() Definition

	// Invoke decodes and validates raw arguments, then runs the handler.
	// Decoding or validation failures wrap ErrInvalidArgs. A handler may
	// return a partial output together with an error.
	Invoke(ctx context.Context, raw json.RawMessage) (any, error)
}

// Invocation is one dispatch request. It is never persisted.
type Invocation struct {
	Tool    string          `json:"tool"`
	Args    json.RawMessage `json:"args,omitempty"`
	Confirm bool            `json:"confirm"`
}

// Failure describes why an invocation did not succeed.
type Failure struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

// Result is the structured outcome of every dispatch. It always names the
// tool it came from.
type Result struct {
	Tool   string `json:"tool"`
	Status Status `json:"status"`

	// Output is the handler's payload. It may be set on failure when the
	// handler produced partial output (e.g. a timed-out command).
	Output any `json:"output,omitempty"`

	Error *Failure `json:"error,omitempty"`

	// Args echoes the original arguments when confirmation is required.
	Args json.RawMessage `json:"args,omitempty"`

	// Message is a human-readable hint, set for confirmation requests.
	Message string `json:"message,omitempty"`

	Duration time.Duration `json:"duration_ns"`
}

// OK reports whether the handler ran and succeeded.
func (r *Result) OK() bool {
	return r.Status == StatusOK
}

// NeedsConfirmation reports whether the call was gated.
func (r *Result) NeedsConfirmation() bool {
	return r.Status == StatusConfirmationRequired
}
