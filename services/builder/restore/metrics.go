// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package restore

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/AleutianAI/AleutianNova/services/builder/snapshot"
)

var meter = otel.Meter("nova.restore")

var (
	restoreTotal    metric.Int64Counter
	restoreDuration metric.Float64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error
		restoreTotal, err = meter.Int64Counter("restore_total",
			metric.WithDescription("Restores attempted, by status"))
		if err != nil {
			metricsErr = err
			return
		}
		restoreDuration, err = meter.Float64Histogram("restore_duration_seconds",
			metric.WithDescription("Time to verify, stage and copy a snapshot"),
			metric.WithUnit("s"))
		if err != nil {
			metricsErr = err
		}
	})
	return metricsErr
}

func recordRestore(ctx context.Context, d time.Duration, err error) {
	if initMetrics() != nil {
		return
	}
	status := "success"
	switch {
	case errors.Is(err, snapshot.ErrIntegrity):
		status = "integrity_error"
	case err != nil:
		status = "error"
	}
	attrs := metric.WithAttributes(attribute.String("status", status))
	restoreTotal.Add(ctx, 1, attrs)
	restoreDuration.Record(ctx, d.Seconds(), attrs)
}
