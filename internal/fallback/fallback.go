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

// Package fallback implements the fallback resolver (C3, spec.md
// §4.3): for a target instant, it walks a layer's offset schedule
// through the fetcher until it lands a non-duplicate image, or reports
// a ResolveFailure carrying every offset it tried.
package fallback

import (
	"context"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/watkajtys/heliosphere-sub001/internal/errkind"
	"github.com/watkajtys/heliosphere-sub001/internal/fetch"
	"github.com/watkajtys/heliosphere-sub001/internal/layer"
	"github.com/watkajtys/heliosphere-sub001/internal/metrics"
)

// Fetcher is the subset of fetch.Client the resolver depends on,
// narrowed to ease substitution in tests.
type Fetcher interface {
	Fetch(ctx context.Context, l layer.Layer, instant time.Time) (fetch.RawImage, error)
}

// DuplicateChecker is the subset of manifest.Store the resolver needs.
type DuplicateChecker interface {
	IsDuplicate(l layer.Layer, hash string, gridIndex int) bool
}

// Result is the accepted image plus its provenance (spec.md §4.3).
type Result struct {
	Image          fetch.RawImage
	ResolvedInstant time.Time
	OffsetMinutes  int
}

// ResolveFailureError carries every offset attempted without success,
// per spec.md §7's ResolveFailure and DuplicateExhausted kinds.
type ResolveFailureError struct {
	Layer            layer.Layer
	Target           time.Time
	AttemptedOffsets []int
	LastErr          error

	// AllDuplicates is true when every attempted offset fetched
	// successfully but was rejected as a known duplicate, as opposed to
	// a mix of (or exclusively) fetch errors. Distinguishes
	// errkind.ErrDuplicateExhausted from the more general
	// errkind.ErrResolveFailure.
	AllDuplicates bool
}

func (e *ResolveFailureError) Error() string {
	if e.AllDuplicates {
		return "fallback: every candidate was a known duplicate for " + e.Layer.String()
	}
	return "fallback: exhausted offset schedule for " + e.Layer.String()
}

func (e *ResolveFailureError) Unwrap() error {
	if e.AllDuplicates {
		return errkind.ErrDuplicateExhausted
	}
	return errkind.ErrResolveFailure
}

// Resolve implements the algorithm in spec.md §4.3: walk l's offset
// schedule, accepting the first non-duplicate image; duplicates are
// always rejected in favor of a later offset even at the cost of a
// larger time skew. gridIndex identifies target's position in the grid
// and is passed through to the duplicate check.
func Resolve(ctx context.Context, f Fetcher, dedup DuplicateChecker, l layer.Layer, target time.Time, gridIndex int) (Result, error) {
	schedule := layer.OffsetSchedule(l)
	var lastErr error
	var triedOffsets []int
	duplicateRejections := 0

	for _, offset := range schedule {
		instant := target.Add(time.Duration(offset) * time.Minute)
		img, err := f.Fetch(ctx, l, instant)
		triedOffsets = append(triedOffsets, offset)

		if err != nil {
			lastErr = err
			if errors.Is(err, errkind.ErrPermanentFetch) {
				log.WithFields(log.Fields{"layer": l, "offset": offset}).Debug("fallback: permanent fetch error, advancing offset")
			}
			continue
		}

		if dedup.IsDuplicate(l, img.Hash, gridIndex) {
			duplicateRejections++
			metrics.DuplicatesRejectedTotal.WithLabelValues(l.String()).Inc()
			log.WithFields(log.Fields{"layer": l, "offset": offset, "hash": img.Hash}).Debug("fallback: rejecting duplicate, advancing offset")
			continue
		}

		if offset != 0 {
			metrics.FallbackOffsetMinutes.WithLabelValues(l.String()).Observe(float64(abs(offset)))
		}
		return Result{Image: img, ResolvedInstant: instant, OffsetMinutes: offset}, nil
	}

	return Result{}, &ResolveFailureError{
		Layer:            l,
		Target:           target,
		AttemptedOffsets: triedOffsets,
		LastErr:          lastErr,
		AllDuplicates:    duplicateRejections == len(schedule),
	}
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
