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
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("nova.tools")

var (
	dispatchTotal    metric.Int64Counter
	dispatchDuration metric.Float64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error
		dispatchTotal, err = meter.Int64Counter("tool_dispatch_total",
			metric.WithDescription("Tool dispatches by tool, status and failure code"))
		if err != nil {
			metricsErr = err
			return
		}
		dispatchDuration, err = meter.Float64Histogram("tool_dispatch_duration_seconds",
			metric.WithDescription("Tool dispatch latency"),
			metric.WithUnit("s"))
		if err != nil {
			metricsErr = err
		}
	})
	return metricsErr
}

func recordDispatch(ctx context.Context, res *Result) {
	if res == nil || initMetrics() != nil {
		return
	}
	code := ""
	if res.Error != nil {
		code = string(res.Error.Code)
	}
	attrs := metric.WithAttributes(
		attribute.String("tool", res.Tool),
		attribute.String("status", string(res.Status)),
		attribute.String("code", code),
	)
	dispatchTotal.Add(ctx, 1, attrs)
	dispatchDuration.Record(ctx, res.Duration.Seconds(), attrs)
}
