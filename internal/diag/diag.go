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

// Package diag is a small named health-check registry, scaled down from
// the teacher's internal/util/diag.Diagnostics (referenced throughout
// internal/source/logical/provider.go, e.g.
// diags.Register("targetStatements", ret)). This repo has no HTTP
// dashboard to expose the results on — that surface is an explicit
// non-goal — so Diagnostics is consulted directly by tests and by the
// orchestrator's startup sequence instead of a /healthz handler.
package diag

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Pingable is implemented by anything that can report its own health.
type Pingable interface {
	Ping(ctx context.Context) error
}

// Diagnostics is a registry of named health checks.
type Diagnostics struct {
	mu    sync.Mutex
	items map[string]Pingable
}

// New constructs an empty Diagnostics registry.
func New() *Diagnostics {
	return &Diagnostics{items: make(map[string]Pingable)}
}

// Register adds a named Pingable. It returns an error if the name is
// already registered, matching the teacher's fail-fast registration
// convention.
func (d *Diagnostics) Register(name string, p Pingable) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.items[name]; exists {
		return fmt.Errorf("diag: %q already registered", name)
	}
	d.items[name] = p
	return nil
}

// CheckAll pings every registered item, one at a time in sorted name
// order, and returns a map from the name of each failed item to its
// error.
func (d *Diagnostics) CheckAll(ctx context.Context) map[string]error {
	d.mu.Lock()
	names := make([]string, 0, len(d.items))
	items := make(map[string]Pingable, len(d.items))
	for name, p := range d.items {
		names = append(names, name)
		items[name] = p
	}
	d.mu.Unlock()

	sort.Strings(names)

	failures := make(map[string]error)
	for _, name := range names {
		if err := items[name].Ping(ctx); err != nil {
			failures[name] = err
		}
	}
	return failures
}
