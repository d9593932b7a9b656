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

// Package grid implements the time-grid planner (C1, spec.md §4.1): a
// pure function enumerating the target UTC timestamps for one run. It
// performs no I/O and mutates no global state, following the teacher's
// preference for small value types over ad-hoc global state (spec.md
// §9's "mutable global state" design note).
package grid

import (
	"time"

	"github.com/pkg/errors"
)

// Params are the inputs to Plan.
type Params struct {
	Now             time.Time
	SafeDelayDays   int
	TotalDays       int
	IntervalMinutes int
}

// Grid is the ordered list of UTC grid timestamps for one run. Index 0
// is the oldest point; the last index is the newest (End).
type Grid struct {
	Points   []time.Time
	Interval time.Duration
}

// Len returns the number of grid points.
func (g Grid) Len() int { return len(g.Points) }

// IndexOf returns the grid index of t, and whether t is aligned to a
// grid point within [Start, End].
func (g Grid) IndexOf(t time.Time) (int, bool) {
	if len(g.Points) == 0 {
		return 0, false
	}
	start := g.Points[0]
	d := t.Sub(start)
	if d < 0 {
		return 0, false
	}
	steps := int64(d / g.Interval)
	if d%g.Interval != 0 {
		return 0, false
	}
	if steps < 0 || int(steps) >= len(g.Points) {
		return 0, false
	}
	return int(steps), true
}

// Plan enumerates the ordered list of UTC grid timestamps for one run
// (spec.md §4.1). The end of the grid is floor(now - safeDelayDays,
// interval) with seconds zeroed; the start is
// end - (totalDays*96 - 1) * interval. Plan fails only on invalid
// parameters: non-positive days, or an interval that does not evenly
// divide a day.
func Plan(p Params) (Grid, error) {
	if p.TotalDays <= 0 {
		return Grid{}, errors.New("grid: totalDays must be positive")
	}
	if p.SafeDelayDays < 0 {
		return Grid{}, errors.New("grid: safeDelayDays must not be negative")
	}
	if p.IntervalMinutes <= 0 {
		return Grid{}, errors.New("grid: intervalMinutes must be positive")
	}
	const minutesPerDay = 24 * 60
	if minutesPerDay%p.IntervalMinutes != 0 {
		return Grid{}, errors.New("grid: intervalMinutes must evenly divide a day")
	}

	interval := time.Duration(p.IntervalMinutes) * time.Minute
	framesPerDay := minutesPerDay / p.IntervalMinutes

	now := p.Now.UTC()
	delayed := now.AddDate(0, 0, -p.SafeDelayDays)
	end := floorToInterval(delayed, interval)

	totalPoints := p.TotalDays*framesPerDay - 1
	if totalPoints < 0 {
		totalPoints = 0
	}
	start := end.Add(-time.Duration(totalPoints) * interval)

	numPoints := p.TotalDays*framesPerDay
	points := make([]time.Time, numPoints)
	t := start
	for i := 0; i < numPoints; i++ {
		points[i] = t
		t = t.Add(interval)
	}

	return Grid{Points: points, Interval: interval}, nil
}

// floorToInterval truncates t down to the nearest multiple of interval
// since the Unix epoch, in UTC, with sub-second precision discarded.
// All arithmetic is performed in UTC so DST transitions in any local
// timezone never skip or duplicate a grid point.
func floorToInterval(t time.Time, interval time.Duration) time.Time {
	unixSeconds := t.Unix()
	intervalSeconds := int64(interval / time.Second)
	floored := (unixSeconds / intervalSeconds) * intervalSeconds
	return time.Unix(floored, 0).UTC()
}
