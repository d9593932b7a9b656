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

// Package errkind defines the sentinel error kinds shared across the
// frame-production pipeline. Call sites wrap one of these with
// github.com/pkg/errors so that the kind survives context addition and
// can still be recovered with errors.Is.
package errkind

import (
	"context"

	"github.com/pkg/errors"
)

var (
	// ErrTransientFetch covers network errors, 5xx responses, truncated
	// bodies, and per-request timeouts. Recovered locally by the
	// fetcher's retry loop and then by the resolver's offset advance.
	ErrTransientFetch = errors.New("transient fetch error")

	// ErrPermanentFetch covers 4xx responses, malformed URLs, a body
	// that is neither PNG nor JPEG, and a transient failure that
	// persisted through every retry. The resolver advances to the next
	// offset; if the schedule is exhausted it surfaces as
	// ErrResolveFailure.
	ErrPermanentFetch = errors.New("permanent fetch error")

	// ErrResolveFailure means every offset in a layer's fallback
	// schedule was attempted and none yielded an acceptable image.
	ErrResolveFailure = errors.New("resolve failure: fallback schedule exhausted")

	// ErrDuplicateExhausted means every offset in the schedule returned
	// a hash that was already present in the dedup set for a
	// non-adjacent grid index.
	ErrDuplicateExhausted = errors.New("duplicate exhausted: every candidate was a known duplicate")

	// ErrCompositing covers image-library failures during C5. It does
	// not count toward the orchestrator's consecutive-failure counter
	// because the upstream data was fine.
	ErrCompositing = errors.New("compositing error")

	// ErrManifestCorrupt is raised at load time when a manifest file
	// cannot be parsed. manifest.Load then tries the backup, and starts
	// from an empty store when the backup cannot be read either.
	ErrManifestCorrupt = errors.New("manifest corrupt")

	// ErrCatastrophicUpstream is raised when the run-level consecutive
	// ResolveFailure counter exceeds the configured threshold.
	ErrCatastrophicUpstream = errors.New("catastrophic upstream failure")

	// ErrInsufficientFrames is raised by the video assembler when fewer
	// than the configured minimum fraction of expected frames are
	// present on disk.
	ErrInsufficientFrames = errors.New("insufficient frames for video assembly")
)

// ExitCode classifies a terminal run error into the process exit status
// taxonomy from spec.md §6. It is exported for the benefit of an
// external CLI wrapper (out of scope here); nothing in this module calls
// os.Exit itself.
type ExitCode int

const (
	// ExitSuccess means the run completed without a terminal error.
	ExitSuccess ExitCode = 0
	// ExitCancelled means a cooperative cancellation was observed and a
	// final checkpoint was written before exit.
	ExitCancelled ExitCode = 1
	// ExitCatastrophicUpstream means ErrCatastrophicUpstream aborted
	// the run.
	ExitCatastrophicUpstream ExitCode = 2
	// ExitUnrecoverableLocal means a local resource failure (disk full,
	// permissions) aborted the run.
	ExitUnrecoverableLocal ExitCode = 3
)

// Classify maps a run-terminating error to its exit code. A nil error
// classifies as ExitSuccess. A context.Canceled or
// context.DeadlineExceeded anywhere in err's chain always classifies as
// ExitCancelled, ahead of ErrCatastrophicUpstream: a wall-clock timeout
// or external cancellation can itself trigger a burst of fetch failures
// as in-flight requests lose their context, and those are a symptom of
// the cancellation, not a genuine catastrophic-upstream condition.
func Classify(err error, cancelled bool) ExitCode {
	switch {
	case err == nil && cancelled:
		return ExitCancelled
	case err == nil:
		return ExitSuccess
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ExitCancelled
	case errors.Is(err, ErrCatastrophicUpstream):
		return ExitCatastrophicUpstream
	case errors.Is(err, ErrInsufficientFrames):
		return ExitUnrecoverableLocal
	default:
		return ExitUnrecoverableLocal
	}
}
