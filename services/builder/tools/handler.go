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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// toolValidate validates every tool's argument struct. Field names in
// errors use the JSON names callers actually send.
var toolValidate *validator.Validate

func init() {
	toolValidate = validator.New(validator.WithRequiredStructEnabled())
	toolValidate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
}

// Validator is implemented by argument structs that need checks beyond
// struct tags. It runs after tag validation.
type Validator interface {
	Validate() error
}

// HandlerFunc runs a tool with typed, validated arguments.
type HandlerFunc[A any] func(ctx context.Context, args A) (any, error)

type typedTool[A any] struct {
	def     Definition
	handler HandlerFunc[A]
}

// New builds a Tool whose arguments decode into A.
//
// # Description
//
// Invoke decodes the raw JSON object into a fresh A, rejecting unknown
// fields, then applies A's `validate` struct tags and, if A implements
// Validator, its Validate method. The handler only ever sees arguments
// that passed both. A missing or null argument object decodes as {}.
func New[A any](def Definition, handler HandlerFunc[A]) Tool {
	return &typedTool[A]{def: def, handler: handler}
}

func (t *typedTool[A]) Definition() Definition {
	return t.def
}

func (t *typedTool[A]) Invoke(ctx context.Context, raw json.RawMessage) (any, error) {
	var args A
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	return t.handler(ctx, args)
}

func decodeArgs(raw json.RawMessage, dst any) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		trimmed = []byte("{}")
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgs, err)
	}
	if dec.More() {
		return fmt.Errorf("%w: trailing data after arguments", ErrInvalidArgs)
	}
	if err := toolValidate.Struct(dst); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidArgs, describeValidation(err))
	}
	if v, ok := dst.(Validator); ok {
		if err := v.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidArgs, err)
		}
	}
	return nil
}

// describeValidation turns validator errors into "field: rule" pairs.
func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}
		parts = append(parts, fe.Field()+": "+rule)
	}
	return strings.Join(parts, ", ")
}
