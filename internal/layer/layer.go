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

// Package layer defines the two source-layer variants composited into
// each frame (spec.md §3 "Source layer") and their fixed request
// parameters and fallback offset schedules (spec.md §6).
package layer

import "fmt"

// Layer tags one of the two source streams that are composited
// together.
type Layer int

const (
	// Corona is the outer-corona coronagraph source (Helioviewer
	// sourceId 4, LASCO C2).
	Corona Layer = iota
	// SunDisk is the extreme-ultraviolet sun-disk source (Helioviewer
	// sourceId 10, AIA 304).
	SunDisk
)

// String implements fmt.Stringer.
func (l Layer) String() string {
	switch l {
	case Corona:
		return "corona"
	case SunDisk:
		return "sun_disk"
	default:
		return fmt.Sprintf("layer(%d)", int(l))
	}
}

// All enumerates both layers in a fixed order, used anywhere a
// deterministic iteration over layers is needed (e.g. fetching both in
// parallel, or serializing manifest fields).
var All = [2]Layer{Corona, SunDisk}

// Params holds a layer's fixed request parameters against the source
// API's takeScreenshot endpoint (spec.md §6).
type Params struct {
	SourceID   int
	ImageScale float64
	Width      int
	Height     int
}

// ParamsFor returns the fixed request parameters for a layer.
func ParamsFor(l Layer) Params {
	switch l {
	case Corona:
		return Params{SourceID: 4, ImageScale: 8, Width: 1920, Height: 1200}
	case SunDisk:
		return Params{SourceID: 10, ImageScale: 2.5, Width: 1920, Height: 1920}
	default:
		panic(fmt.Sprintf("layer: unknown layer %d", int(l)))
	}
}

// OffsetSchedule returns the layer-specific ordered list of minute
// offsets the fallback resolver (C3) walks. The first entry is always
// 0 (exact match); spec.md §6 fixes the remainder per layer.
func OffsetSchedule(l Layer) []int {
	switch l {
	case Corona:
		// The corona source updates less frequently, so its schedule is
		// wider and biased negative (spec.md §4.3).
		return []int{0, -3, -7, -1, 1, 3, -5, 5, 7, -10, 10, -14, 14}
	case SunDisk:
		return []int{0, 1, -1, 3, -3, 5, -5, 7, -7, 10, -10, 14, -14}
	default:
		panic(fmt.Sprintf("layer: unknown layer %d", int(l)))
	}
}
