// Copyright 2024 The Heliosphere Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// SPDX-License-Identifier: Apache-2.0

// Package metrics declares the prometheus instrumentation for the
// frame-production pipeline, grounded on the teacher's
// internal/staging/stage/metrics.go (promauto-registered counters and
// histograms keyed by table/layer labels). No HTTP handler exposes
// these; that would be the excluded monitoring dashboard. The pipeline
// packages update them, and tests gather them directly from Registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// LatencyBuckets mirrors the teacher's metrics.LatencyBuckets: a
// reasonable default histogram bucket set for sub-second-to-minutes
// operations.
var LatencyBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120}

// LayerLabels labels every per-layer metric with the layer name
// ("corona" or "sun_disk").
var LayerLabels = []string{"layer"}

var (
	// Registry is a private registry so tests can scrape metrics
	// without colliding with the global default registry.
	Registry = prometheus.NewRegistry()

	FetchAttemptsTotal = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Name: "heliosphere_fetch_attempts_total",
		Help: "number of HTTP fetch attempts made against the source API",
	}, LayerLabels)

	FetchDurationSeconds = promauto.With(Registry).NewHistogramVec(prometheus.HistogramOpts{
		Name:    "heliosphere_fetch_duration_seconds",
		Help:    "latency of a single successful fetch, including retries",
		Buckets: LatencyBuckets,
	}, LayerLabels)

	FetchErrorsTotal = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Name: "heliosphere_fetch_errors_total",
		Help: "number of fetch attempts that ended in a transient or permanent error",
	}, LayerLabels)

	FallbackOffsetMinutes = promauto.With(Registry).NewHistogramVec(prometheus.HistogramOpts{
		Name:    "heliosphere_fallback_offset_minutes",
		Help:    "the |offset| in minutes of an accepted fallback candidate; exact matches are not observed",
		Buckets: []float64{0, 1, 3, 5, 7, 10, 14},
	}, LayerLabels)

	DuplicatesRejectedTotal = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Name: "heliosphere_duplicates_rejected_total",
		Help: "number of candidate images rejected because their hash was a non-adjacent duplicate",
	}, LayerLabels)

	CompositeDurationSeconds = promauto.With(Registry).NewHistogram(prometheus.HistogramOpts{
		Name:    "heliosphere_composite_duration_seconds",
		Help:    "latency of a single frame composite operation",
		Buckets: LatencyBuckets,
	})

	CommitsTotal = promauto.With(Registry).NewCounter(prometheus.CounterOpts{
		Name: "heliosphere_commits_total",
		Help: "number of frame records committed to the manifest",
	})

	CheckpointDurationSeconds = promauto.With(Registry).NewHistogram(prometheus.HistogramOpts{
		Name:    "heliosphere_checkpoint_duration_seconds",
		Help:    "latency of a manifest checkpoint (write-temp + fsync + rename)",
		Buckets: LatencyBuckets,
	})

	MissingFramesTotal = promauto.With(Registry).NewCounter(prometheus.CounterOpts{
		Name: "heliosphere_missing_frames_total",
		Help: "number of grid indices that ended the run without a committed frame",
	})
)
