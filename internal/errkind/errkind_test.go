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

package errkind

import (
	"context"
	"fmt"
	"testing"

	"github.com/pkg/errors"
)

func TestClassifyNilErr(t *testing.T) {
	if got := Classify(nil, false); got != ExitSuccess {
		t.Fatalf("Classify(nil, false) = %d, want ExitSuccess", got)
	}
	if got := Classify(nil, true); got != ExitCancelled {
		t.Fatalf("Classify(nil, true) = %d, want ExitCancelled", got)
	}
}

func TestClassifyContextErrorsOutrankCatastrophicUpstream(t *testing.T) {
	// A wrapped context.DeadlineExceeded can carry ErrCatastrophicUpstream
	// alongside it only as a downstream symptom; cancellation must win.
	err := fmt.Errorf("%w: %w", errors.Wrap(context.DeadlineExceeded, "pipeline: cancelled"), ErrCatastrophicUpstream)
	if got := Classify(err, false); got != ExitCancelled {
		t.Fatalf("Classify(deadline exceeded, false) = %d, want ExitCancelled", got)
	}

	err = fmt.Errorf("%w: %w", errors.Wrap(context.Canceled, "pipeline: cancelled"), ErrCatastrophicUpstream)
	if got := Classify(err, false); got != ExitCancelled {
		t.Fatalf("Classify(canceled, false) = %d, want ExitCancelled", got)
	}
}

func TestClassifyCatastrophicUpstream(t *testing.T) {
	err := errors.Wrap(ErrCatastrophicUpstream, "consecutive ResolveFailures exceeded threshold")
	if got := Classify(err, false); got != ExitCatastrophicUpstream {
		t.Fatalf("Classify(catastrophic, false) = %d, want ExitCatastrophicUpstream", got)
	}
}

func TestClassifyInsufficientFrames(t *testing.T) {
	err := errors.Wrap(ErrInsufficientFrames, "only 10/100 frames available")
	if got := Classify(err, false); got != ExitUnrecoverableLocal {
		t.Fatalf("Classify(insufficient frames, false) = %d, want ExitUnrecoverableLocal", got)
	}
}

func TestClassifyUnknownErrFallsBackToUnrecoverableLocal(t *testing.T) {
	err := errors.New("disk full")
	if got := Classify(err, false); got != ExitUnrecoverableLocal {
		t.Fatalf("Classify(unknown, false) = %d, want ExitUnrecoverableLocal", got)
	}
}
