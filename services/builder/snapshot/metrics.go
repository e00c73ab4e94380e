// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package snapshot

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/AleutianAI/AleutianNova/services/builder/telemetry"
)

var meter = otel.Meter("nova.snapshot")

var (
	createTotal    metric.Int64Counter
	createDuration metric.Float64Histogram
	archiveBytes   metric.Int64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error
		createTotal, err = meter.Int64Counter("snapshot_create_total",
			metric.WithDescription("Snapshots attempted, by status"))
		if err != nil {
			metricsErr = err
			return
		}
		createDuration, err = meter.Float64Histogram("snapshot_create_duration_seconds",
			metric.WithDescription("Time to archive and commit a snapshot"),
			metric.WithUnit("s"))
		if err != nil {
			metricsErr = err
			return
		}
		archiveBytes, err = meter.Int64Histogram("snapshot_archive_bytes",
			metric.WithDescription("Size of committed snapshot archives"),
			metric.WithUnit("By"))
		if err != nil {
			metricsErr = err
		}
	})
	return metricsErr
}

func recordCreate(ctx context.Context, d time.Duration, size int64, err error) {
	if initMetrics() != nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("status", telemetry.Outcome(err)))
	createTotal.Add(ctx, 1, attrs)
	createDuration.Record(ctx, d.Seconds(), attrs)
	if err == nil {
		archiveBytes.Record(ctx, size)
	}
}
