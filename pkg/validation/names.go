// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation checks caller-supplied names before they are joined
// into file system paths.
package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrUnsafeName is wrapped by every validation failure.
var ErrUnsafeName = errors.New("unsafe name")

// requestIDPattern: a leading alphanumeric, then up to 63 alphanumerics,
// underscores or hyphens.
var requestIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,63}$`)

// ValidateRequestID validates a request identifier.
//
// Valid ids are 1-64 characters of [A-Za-z0-9_-] starting with a letter or
// digit, so they are always a single safe directory name.
//
// Example:
//
//	if err := validation.ValidateRequestID(id); err != nil {
//	    return fmt.Errorf("%w: %v", ErrInvalidID, err)
//	}
func ValidateRequestID(id string) error {
	if !requestIDPattern.MatchString(id) {
		return fmt.Errorf("%w: request id %q", ErrUnsafeName, id)
	}
	return nil
}

// ValidatePathSegment rejects names that would not stay one path element:
// empty, "." or "..", or containing a separator or NUL.
func ValidatePathSegment(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, "/\\\x00") {
		return fmt.Errorf("%w: %q", ErrUnsafeName, name)
	}
	return nil
}
