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
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/AleutianNova/services/builder/telemetry"
)

const tracerName = "nova.tools"

// Gateway dispatches invocations against an immutable Registry.
//
// # Description
//
// Dispatch never returns a Go error and never panics: every outcome,
// including unknown tools, gated calls, invalid arguments and handler
// faults, is a *Result.
//
// # Thread Safety
//
// Safe for concurrent use. The gateway holds no mutable state besides the
// optional rate limiter, which is itself concurrency-safe.
type Gateway struct {
	registry *Registry
	logger   *slog.Logger
	limiter  *rate.Limiter
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) { g.logger = l }
}

// WithRateLimit bounds how often handlers run. Confirmation queries and
// unknown-tool lookups are not counted.
func WithRateLimit(l *rate.Limiter) Option {
	return func(g *Gateway) { g.limiter = l }
}

// NewGateway creates a Gateway over reg.
func NewGateway(reg *Registry, opts ...Option) *Gateway {
	g := &Gateway{registry: reg, logger: slog.Default()}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.With("component", "tool_gateway")
	return g
}

// List returns the tool catalog.
func (g *Gateway) List() []Definition {
	return g.registry.List()
}

// Lookup returns the definition of a registered tool.
func (g *Gateway) Lookup(name string) (Definition, bool) {
	tool, ok := g.registry.Lookup(name)
	if !ok {
		return Definition{}, false
	}
	return tool.Definition(), true
}

// Dispatch runs one invocation.
//
// # Description
//
//   - Unknown tool: StatusFailed with CodeUnknownTool.
//   - Dangerous tool without Confirm: StatusConfirmationRequired carrying the
//     tool name and original arguments. The handler is not invoked.
//   - Otherwise the handler runs. Errors are classified into a Failure;
//     panics become CodeExecutionFailure.
func (g *Gateway) Dispatch(ctx context.Context, inv Invocation) (res *Result) {
	start := time.Now()
	ctx, span := telemetry.StartSpan(ctx, tracerName, "tools.Dispatch",
		attribute.String("tool", inv.Tool),
		attribute.Bool("confirm", inv.Confirm))
	defer func() {
		res.Duration = time.Since(start)
		recordDispatch(ctx, res)
		var spanErr error
		if res.Error != nil {
			spanErr = errors.New(res.Error.Message)
		}
		telemetry.EndSpan(span, spanErr)
	}()

	tool, ok := g.registry.Lookup(inv.Tool)
	if !ok {
		return fail(inv.Tool, CodeUnknownTool, fmt.Sprintf("unknown tool: %s", inv.Tool), nil)
	}

	def := tool.Definition()
	if def.Dangerous && !inv.Confirm {
		g.logger.Info("tool call gated", slog.String("tool", def.Name))
		return &Result{
			Tool:    def.Name,
			Status:  StatusConfirmationRequired,
			Args:    inv.Args,
			Message: fmt.Sprintf("tool %q can modify files or run commands; repeat with confirm=true to run it", def.Name),
		}
	}

	if g.limiter != nil && !g.limiter.Allow() {
		return fail(def.Name, CodeRateLimited, "tool rate limit exceeded", nil)
	}

	out, err := g.invoke(ctx, tool, inv)
	if err != nil {
		code := classify(err)
		g.logger.Warn("tool failed",
			slog.String("tool", def.Name),
			slog.String("code", string(code)),
			slog.String("error", err.Error()))
		return fail(def.Name, code, err.Error(), out)
	}

	g.logger.Info("tool executed", slog.String("tool", def.Name), slog.Bool("dangerous", def.Dangerous))
	return &Result{Tool: def.Name, Status: StatusOK, Output: out}
}

// invoke runs the handler, converting a panic into an error.
func (g *Gateway) invoke(ctx context.Context, tool Tool, inv Invocation) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("tool panicked", slog.String("tool", inv.Tool), slog.Any("panic", r))
			out = nil
			err = fmt.Errorf("tool %s panicked: %v", inv.Tool, r)
		}
	}()
	return tool.Invoke(ctx, inv.Args)
}

func fail(tool string, code Code, msg string, out any) *Result {
	return &Result{
		Tool:   tool,
		Status: StatusFailed,
		Output: out,
		Error:  &Failure{Code: code, Message: msg},
	}
}

// classify maps handler errors to failure codes.
func classify(err error) Code {
	switch {
	case errors.Is(err, ErrInvalidArgs):
		return CodeInvalidArgs
	case errors.Is(err, ErrPathEscape):
		return CodePathEscape
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrAlreadyExists):
		return CodeAlreadyExists
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return CodeTimeout
	default:
		return CodeExecutionFailure
	}
}
