// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/AleutianAI/AleutianNova/services/builder"
)

// Process exit codes.
const (
	ExitOK           = 0
	ExitFailure      = 1
	ExitUsage        = 2
	ExitNotFound     = 3
	ExitConfirmation = 4
	ExitTimeout      = 5
	ExitIntegrity    = 6
	ExitPathEscape   = 7
)

// CommandError is a CLI failure with the exit code the process should use.
//
// # Description
//
// Commands return a CommandError when the outcome needs a specific exit
// code (failing tests, a declined confirmation). Other errors are mapped by
// exitCodeFor. Detail carries extra output, such as test stderr, that is
// printed after the message.
//
// # Example
//
//	return NewCommandError("nova test", ExitFailure, resp.Stderr, errTestsFailed)
type CommandError struct {
	// Command is the command path, e.g. "nova test".
	Command string

	ExitCode int

	// Detail is trimmed output shown below the error.
	Detail string

	Wrapped error
}

func (e *CommandError) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("%s (exit %d): %v", e.Command, e.ExitCode, e.Wrapped)
	}
	return fmt.Sprintf("%s (exit %d)", e.Command, e.ExitCode)
}

// Unwrap enables errors.Is/As through the chain.
func (e *CommandError) Unwrap() error {
	return e.Wrapped
}

// NewCommandError creates a CommandError. Detail is trimmed.
func NewCommandError(cmd string, exitCode int, detail string, wrapped error) *CommandError {
	return &CommandError{
		Command:  cmd,
		ExitCode: exitCode,
		Detail:   strings.TrimSpace(detail),
		Wrapped:  wrapped,
	}
}

// usageError marks err as a command line mistake.
func usageError(cmd string, err error) error {
	if err == nil {
		return nil
	}
	return NewCommandError(cmd, ExitUsage, "", err)
}

// exitCodeFor picks the process exit code for err.
func exitCodeFor(err error) int {
	if err == nil {
		return ExitOK
	}
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) {
		return cmdErr.ExitCode
	}
	switch {
	case errors.Is(err, builder.ErrInvalidRequest):
		return ExitUsage
	case errors.Is(err, builder.ErrNotFound):
		return ExitNotFound
	case errors.Is(err, builder.ErrConfirmationRequired):
		return ExitConfirmation
	case errors.Is(err, builder.ErrTimeout):
		return ExitTimeout
	case errors.Is(err, builder.ErrIntegrity):
		return ExitIntegrity
	case errors.Is(err, builder.ErrPathEscape):
		return ExitPathEscape
	default:
		return ExitFailure
	}
}

// errorDetail walks the chain for the first CommandError detail.
func errorDetail(err error) string {
	var cmdErr *CommandError
	for err != nil {
		if !errors.As(err, &cmdErr) {
			return ""
		}
		if cmdErr.Detail != "" {
			return cmdErr.Detail
		}
		err = cmdErr.Wrapped
	}
	return ""
}
