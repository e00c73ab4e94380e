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
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/AleutianNova/services/builder/registry"
	"github.com/AleutianAI/AleutianNova/services/builder/telemetry"
)

// DefaultIntent is used by Plan when the request names none.
const DefaultIntent = "integrate code"

// defaultSteps is the lifecycle a plan describes when no steps are given.
func defaultSteps(path string) []string {
	return []string{
		"create workspace for " + path,
		"snapshot integrated files for " + path,
		"write code into the workspace",
		"run tests against the workspace",
		"ask for approval to merge",
	}
}

// Plan stores a change plan for a request, registering the request when
// RequestID is empty. A later plan for the same request replaces it.
func (s *Service) Plan(ctx context.Context, req PlanRequest) (*Plan, error) {
	if strings.TrimSpace(req.Path) == "" {
		return nil, invalid("plan", "path is required")
	}
	id, _, err := s.registry.CreateOrReuse(ctx, req.RequestID)
	if err != nil {
		return nil, wrap("plan", err)
	}
	release, err := s.locks.Acquire(ctx, id)
	if err != nil {
		return nil, wrap("plan", err)
	}
	defer release()

	plan := &Plan{
		RequestID: id,
		Intent:    req.Intent,
		Path:      filepath.ToSlash(req.Path),
		Steps:     req.Steps,
		CreatedAt: time.Now().UTC(),
	}
	if plan.Intent == "" {
		plan.Intent = DefaultIntent
	}
	if len(plan.Steps) == 0 {
		plan.Steps = defaultSteps(plan.Path)
	}
	doc, err := json.Marshal(plan)
	if err != nil {
		return nil, wrap("plan", err)
	}
	if err := s.registry.PutPlan(ctx, id, doc); err != nil {
		return nil, wrap("plan", err)
	}
	if _, err := s.registry.Record(ctx, id, registry.Event{
		Action: registry.ActionPlan,
		Path:   plan.Path,
		Detail: plan.Intent,
	}); err != nil {
		return nil, wrap("plan", err)
	}
	return plan, nil
}

// GetPlan returns the plan stored for a request.
func (s *Service) GetPlan(ctx context.Context, requestID string) (*Plan, error) {
	doc, err := s.registry.Plan(ctx, requestID)
	if err != nil {
		return nil, wrap("plan", err)
	}
	var plan Plan
	if err := json.Unmarshal(doc, &plan); err != nil {
		return nil, wrap("plan", fmt.Errorf("decode plan for %s: %w", requestID, err))
	}
	return &plan, nil
}

// ApplyBatch prepares a request, writes every change into its workspace
// and runs the tests, in that order.
//
// # Description
//
// Each step goes through the same operation a caller would invoke by hand,
// so locking and audit events are identical. The first failing step stops
// the batch; the response then carries whatever completed, and the error
// names the failing change. A failing test run is not an error.
func (s *Service) ApplyBatch(ctx context.Context, req BatchRequest) (_ *BatchResponse, err error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "builder.ApplyBatch",
		attribute.Int("changes", len(req.Changes)))
	defer func() { telemetry.EndSpan(span, err) }()

	if len(req.Changes) == 0 {
		return nil, invalid("batch", "at least one change is required")
	}
	for i, ch := range req.Changes {
		if ch.Path == "" {
			return nil, invalid("batch", fmt.Sprintf("change %d has no path", i))
		}
	}

	note := "batch"
	if req.Instruction != "" {
		note = "batch: " + req.Instruction
	}
	prep, err := s.Prepare(ctx, PrepareRequest{RequestID: req.RequestID, Note: note})
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("request_id", prep.RequestID))

	resp := &BatchResponse{
		RequestID:   prep.RequestID,
		Instruction: req.Instruction,
		Snapshot:    prep.Snapshot,
		Patches:     make([]PatchResponse, 0, len(req.Changes)),
	}
	for _, ch := range req.Changes {
		p, err := s.ApplyPatch(ctx, PatchRequest{RequestID: prep.RequestID, Path: ch.Path, Content: ch.Content})
		if err != nil {
			return resp, err
		}
		resp.Patches = append(resp.Patches, *p)
	}
	if req.SkipTests {
		return resp, nil
	}

	tests, err := s.RunTests(ctx, prep.RequestID)
	resp.Tests = tests
	if err != nil {
		return resp, err
	}
	resp.TestsPassed = tests.OK
	s.logger.Info("batch applied",
		slog.String("request_id", prep.RequestID),
		slog.Int("changes", len(resp.Patches)),
		slog.Bool("tests_passed", resp.TestsPassed))
	return resp, nil
}
