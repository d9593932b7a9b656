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

// Package pipeline implements the pipeline orchestrator (C6, spec.md
// §4.6): a bounded fetch stage and a bounded process stage connected by
// a buffered channel, with resumability, checkpointing, and a
// consecutive-failure escalation to CatastrophicUpstreamError.
//
// The fetch stage's concurrency bound is realized with
// golang.org/x/sync/errgroup's Group.SetLimit, the way the teacher's
// sibling pack repos bound fan-out (grounded on
// other_examples/a567e844_adhtanjung-maukmn-api-alpha, which uses
// errgroup for the same "N in flight" shape); the process stage is a
// fixed-size worker pool reading from a channel, the shape the teacher
// itself uses in internal/source/logical for its event workers.
// Cancellation is cooperative via internal/stopper, modeled directly on
// the teacher's stopper.Context usage in internal/util/stdpool.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/watkajtys/heliosphere-sub001/internal/compositor"
	"github.com/watkajtys/heliosphere-sub001/internal/errkind"
	"github.com/watkajtys/heliosphere-sub001/internal/fallback"
	"github.com/watkajtys/heliosphere-sub001/internal/fetch"
	"github.com/watkajtys/heliosphere-sub001/internal/grid"
	"github.com/watkajtys/heliosphere-sub001/internal/layer"
	"github.com/watkajtys/heliosphere-sub001/internal/manifest"
	"github.com/watkajtys/heliosphere-sub001/internal/metrics"
	"github.com/watkajtys/heliosphere-sub001/internal/notify"
	"github.com/watkajtys/heliosphere-sub001/internal/stopper"
)

// Config bounds the orchestrator's concurrency and checkpoint cadence
// (spec.md §4.6, §6 run configuration).
type Config struct {
	FetchConcurrency        int
	ProcessConcurrency      int
	BatchSize               int
	ConsecutiveFailureLimit int
	FramesDir               string
	CompositorParams        compositor.Params

	// Progress, if non-nil, is updated with the current commit count
	// after every checkpoint so a caller can observe run progress
	// without polling the manifest (the way the teacher's resolver
	// signals a new resolved timestamp via notify.Var).
	Progress *notify.Var[int]
}

// fetchResult is the tuple enqueued from the fetch stage to the
// process stage (spec.md §4.6 "the {grid_index, resolved_instants,
// raw_buffers, hashes, offsets} tuple").
type fetchResult struct {
	gridIndex int
	requested time.Time
	corona    fallback.Result
	sunDisk   fallback.Result
}

// Run drives g through the fetch→compose→persist pipeline. It returns
// the first terminal error: a context error from cancellation/timeout,
// CatastrophicUpstreamError from failure escalation, or a failed
// batch checkpoint. A grid index whose layers fail to resolve is counted
// in the manifest's missing-frame stats; a grid index whose compose or
// frame write fails is logged and left uncommitted, and is not counted
// as missing. Neither case alone makes Run return an error.
func Run(ctx context.Context, cfg Config, g grid.Grid, fetcher *fetch.Client, store *manifest.Store) error {
	sctx, cancel := stopper.New(ctx)
	defer cancel()

	// Bridge ctx's own cancellation/deadline into Stop: without this,
	// Stopping never closes on a wall-clock timeout or an externally
	// cancelled ctx, and the enqueue loop below keeps scheduling fetches
	// against an already-dead context (spec.md §5).
	go func() {
		select {
		case <-sctx.Done():
			sctx.Stop()
		case <-sctx.Stopping():
		}
	}()

	queue := make(chan fetchResult, cfg.FetchConcurrency*2)
	var failureCount int32Counter
	var committedSinceCheckpoint int32Counter

	fetchGroup, fetchCtx := errgroup.WithContext(sctx)
	fetchGroup.SetLimit(cfg.FetchConcurrency)

	var processWG sync.WaitGroup
	processErrs := make(chan error, cfg.ProcessConcurrency)

	for i := 0; i < cfg.ProcessConcurrency; i++ {
		processWG.Add(1)
		go func() {
			defer processWG.Done()
			runProcessWorker(sctx, cfg, queue, store, &committedSinceCheckpoint, processErrs)
		}()
	}

	for idx, target := range g.Points {
		idx, target := idx, target

		select {
		case <-sctx.Stopping():
			continue
		default:
		}

		if alreadyComplete(store, target) {
			continue
		}

		fetchGroup.Go(func() error {
			select {
			case <-sctx.Stopping():
				return nil
			default:
			}

			corona, sunDisk, ok := fetchBothLayers(fetchCtx, fetcher, store, target, idx)
			if !ok {
				store.RecordMissing()
				metrics.MissingFramesTotal.Inc()
				if failureCount.incr() > int32(cfg.ConsecutiveFailureLimit) {
					return errors.Wrap(errkind.ErrCatastrophicUpstream, "consecutive ResolveFailures exceeded threshold")
				}
				return nil
			}
			failureCount.reset()

			select {
			case queue <- fetchResult{gridIndex: idx, requested: target, corona: corona, sunDisk: sunDisk}:
			case <-sctx.Stopping():
			}
			return nil
		})
	}

	fetchErr := fetchGroup.Wait()
	close(queue)
	processWG.Wait()
	close(processErrs)

	var processErr error
	for err := range processErrs {
		if processErr == nil {
			processErr = err
		}
	}

	if err := store.Checkpoint(); err != nil {
		log.WithField("err", err).Error("pipeline: final checkpoint failed")
	}
	if cfg.Progress != nil {
		cfg.Progress.Set(store.FrameCount())
	}

	// A cancelled/timed-out ctx takes priority over any error surfaced
	// by the fetch or process stage: those are very likely downstream
	// symptoms (in-flight fetches losing their context) rather than a
	// genuine catastrophic-upstream or compositing failure.
	if sctx.Err() != nil {
		return errors.Wrap(sctx.Err(), "pipeline: cancelled")
	}
	if fetchErr != nil {
		return fetchErr
	}
	return processErr
}

// fetchBothLayers invokes C3 for both layers; per spec.md §4.6, if
// either fails the unit is marked missing and skipped, not enqueued.
func fetchBothLayers(ctx context.Context, fetcher *fetch.Client, store *manifest.Store, target time.Time, gridIndex int) (corona, sunDisk fallback.Result, ok bool) {
	var wg sync.WaitGroup
	var coronaErr, sunErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		corona, coronaErr = fallback.Resolve(ctx, fetcher, store, layer.Corona, target, gridIndex)
	}()
	go func() {
		defer wg.Done()
		sunDisk, sunErr = fallback.Resolve(ctx, fetcher, store, layer.SunDisk, target, gridIndex)
	}()
	wg.Wait()

	if coronaErr != nil {
		log.WithFields(log.Fields{"gridIndex": gridIndex, "layer": "corona", "err": coronaErr}).Warn("pipeline: resolve failed")
		return fallback.Result{}, fallback.Result{}, false
	}
	if sunErr != nil {
		log.WithFields(log.Fields{"gridIndex": gridIndex, "layer": "sun_disk", "err": sunErr}).Warn("pipeline: resolve failed")
		return fallback.Result{}, fallback.Result{}, false
	}
	if corona.OffsetMinutes != 0 {
		store.RecordFallback()
	}
	if sunDisk.OffsetMinutes != 0 {
		store.RecordFallback()
	}
	return corona, sunDisk, true
}

func runProcessWorker(sctx *stopper.Context, cfg Config, queue <-chan fetchResult, store *manifest.Store, committed *int32Counter, errs chan<- error) {
	for {
		select {
		case res, open := <-queue:
			if !open {
				return
			}
			if err := processOne(cfg, store, res); err != nil {
				log.WithFields(log.Fields{"gridIndex": res.gridIndex, "err": err}).Error("pipeline: compose/commit failed")
				continue
			}
			if committed.incr()%int32(cfg.BatchSize) == 0 {
				if err := store.Checkpoint(); err != nil {
					select {
					case errs <- err:
					default:
					}
				}
				if cfg.Progress != nil {
					cfg.Progress.Set(store.FrameCount())
				}
			}
		case <-sctx.Stopping():
			return
		}
	}
}

func processOne(cfg Config, store *manifest.Store, res fetchResult) error {
	start := time.Now()
	jpegBytes, err := compositor.Composite(res.corona.Image.Bytes, res.sunDisk.Image.Bytes, cfg.CompositorParams)
	if err != nil {
		return err
	}
	metrics.CompositeDurationSeconds.Observe(time.Since(start).Seconds())

	dayDir := filepath.Join(cfg.FramesDir, res.requested.UTC().Format("2006-01-02"))
	if err := os.MkdirAll(dayDir, 0o755); err != nil {
		return errors.Wrap(err, "pipeline: create frame day directory")
	}
	path := filepath.Join(dayDir, fmt.Sprintf("frame_%s.jpg", res.requested.UTC().Format("1504")))
	if err := os.WriteFile(path, jpegBytes, 0o644); err != nil {
		return errors.Wrap(err, "pipeline: write frame")
	}

	record := manifest.FrameRecord{
		Path:                   path,
		Date:                   res.sunDisk.ResolvedInstant,
		FrameNumber:            res.gridIndex,
		CoronaChecksum:         res.corona.Image.Hash,
		SunDiskChecksum:        res.sunDisk.Image.Hash,
		CoronaFallbackMinutes:  res.corona.OffsetMinutes,
		SunDiskFallbackMinutes: res.sunDisk.OffsetMinutes,
		FileSize:               int64(len(jpegBytes)),
		Created:                time.Now().UTC(),
	}
	store.CommitFrame(res.requested, res.gridIndex, record, res.corona.Image.Hash, res.sunDisk.Image.Hash)
	metrics.CommitsTotal.Inc()
	return nil
}

// alreadyComplete implements the resumability check in spec.md §4.6:
// consult has_frame and a filesystem existence check before enqueuing.
func alreadyComplete(store *manifest.Store, target time.Time) bool {
	record, ok := store.Frame(target)
	if !ok {
		return false
	}
	_, err := os.Stat(record.Path)
	return err == nil
}

// int32Counter is a small counter safe for concurrent use from
// multiple goroutines (fetch workers incrementing failureCount,
// process workers incrementing committedSinceCheckpoint).
type int32Counter struct {
	mu sync.Mutex
	n  int32
}

func (c *int32Counter) incr() int32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
	return c.n
}

func (c *int32Counter) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n = 0
}
