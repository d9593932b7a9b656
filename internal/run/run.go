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

// Package run wires the grid planner, pipeline orchestrator, and video
// assembler into one end-to-end build, and maps the outcome onto the
// process exit codes in spec.md §6.
package run

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/watkajtys/heliosphere-sub001/internal/compositor"
	"github.com/watkajtys/heliosphere-sub001/internal/config"
	"github.com/watkajtys/heliosphere-sub001/internal/diag"
	"github.com/watkajtys/heliosphere-sub001/internal/errkind"
	"github.com/watkajtys/heliosphere-sub001/internal/fetch"
	"github.com/watkajtys/heliosphere-sub001/internal/grid"
	"github.com/watkajtys/heliosphere-sub001/internal/manifest"
	"github.com/watkajtys/heliosphere-sub001/internal/notify"
	"github.com/watkajtys/heliosphere-sub001/internal/pipeline"
	"github.com/watkajtys/heliosphere-sub001/internal/video"
)

// socialCropWidth and socialCropHeight fix the social product's aspect
// ratio to 1080x1350 (4:5 portrait), the standard Instagram portrait
// crop. DESIGN.md records this as the resolution of spec.md §9's open
// question between a square, portrait, or wider portrait crop.
const (
	socialCropWidth  = 1080
	socialCropHeight = 1350
)

// Result summarizes one completed build.
type Result struct {
	FramesCommitted int
	FullVideoPath   string
	SocialVideoPath string
}

// Run executes one full build: plan the grid, drive the pipeline,
// assemble both video products. It returns the process exit code from
// spec.md §6 alongside any error.
func Run(ctx context.Context, cfg config.Config) (Result, errkind.ExitCode, error) {
	if err := cfg.Preflight(); err != nil {
		return Result{}, errkind.ExitUnrecoverableLocal, errors.Wrap(err, "run: invalid configuration")
	}

	runCtx, cancel := context.WithTimeout(ctx, cfg.WallClockTimeout)
	defer cancel()

	g, err := grid.Plan(grid.Params{
		Now:             time.Now(),
		SafeDelayDays:   cfg.SafeDelayDays,
		TotalDays:       cfg.TotalDays,
		IntervalMinutes: cfg.IntervalMinutes,
	})
	if err != nil {
		return Result{}, errkind.ExitUnrecoverableLocal, errors.Wrap(err, "run: plan grid")
	}

	manifestPath := filepath.Join(cfg.BaseDir, "frame_manifest.json")
	store, err := manifest.Load(manifestPath)
	if err != nil {
		return Result{}, errkind.ExitUnrecoverableLocal, errors.Wrap(err, "run: load manifest")
	}

	fetcher := fetch.NewClient(cfg.SourceBaseURL, cfg.ConnectTimeout, cfg.TotalTimeout,
		fetch.WithProxy(cfg.ProxyBaseURL),
		fetch.WithMaxRetries(cfg.MaxRetries),
		fetch.WithBackoff(cfg.RetryBackoff),
		fetch.WithMinFrameSize(cfg.MinFrameSize),
	)

	diagnostics := diag.New()
	if err := diagnostics.Register("sourceFetcher", fetcher); err != nil {
		return Result{}, errkind.ExitUnrecoverableLocal, errors.Wrap(err, "run: register diagnostics")
	}
	if failures := diagnostics.CheckAll(runCtx); len(failures) > 0 {
		for name, ferr := range failures {
			log.WithFields(log.Fields{"check": name, "err": ferr}).Error("run: readiness check failed")
		}
		return Result{}, errkind.ExitUnrecoverableLocal, errors.New("run: one or more readiness checks failed")
	}

	progress := notify.NewVar(0)

	framesDir := filepath.Join(cfg.BaseDir, cfg.FramesDir)
	pipelineCfg := pipeline.Config{
		FetchConcurrency:        cfg.FetchConcurrency,
		ProcessConcurrency:      cfg.ProcessConcurrency,
		BatchSize:               cfg.BatchSize,
		ConsecutiveFailureLimit: cfg.ConsecutiveFailureLimit,
		FramesDir:               framesDir,
		CompositorParams:        defaultCompositorParams(cfg),
		Progress:                progress,
	}

	pipelineErr := pipeline.Run(runCtx, pipelineCfg, g, fetcher, store)
	if committed, _ := progress.Get(); committed > 0 {
		log.WithField("committed", committed).Info("run: pipeline progress at drain")
	}

	cancelled := runCtx.Err() != nil && ctx.Err() == nil
	exit := errkind.Classify(pipelineErr, cancelled)
	if pipelineErr != nil && exit != errkind.ExitCancelled {
		return Result{}, exit, pipelineErr
	}

	result := Result{FramesCommitted: store.FrameCount()}
	if pipelineErr != nil {
		log.WithField("err", pipelineErr).Warn("run: pipeline stopped early, assembling video from partial progress")
	}

	videosDir := filepath.Join(cfg.BaseDir, cfg.VideosDir)
	tempDir := filepath.Join(cfg.BaseDir, cfg.TempDir)
	if err := os.MkdirAll(tempDir, 0o755); err != nil {
		return result, errkind.ExitUnrecoverableLocal, errors.Wrap(err, "run: create temp dir")
	}

	today := time.Now().UTC().Format("2006-01-02")
	fullPath := filepath.Join(videosDir, fmt.Sprintf("heliosphere_full_%s.mp4", today))
	socialPath := filepath.Join(videosDir, fmt.Sprintf("heliosphere_social_%s.mp4", today))

	framePaths := committedFramePaths(store, g)

	fullExpected := cfg.TotalDays * cfg.FramesPerDay()
	fullFrames, _ := video.FilterExisting(lastN(framePaths, fullExpected))
	if err := video.CheckCoverage(fullFrames, fullExpected, cfg.MaxMissingFramesPercent); err != nil {
		return result, errkind.ExitUnrecoverableLocal, err
	}
	if err := video.Assemble(runCtx, video.Params{
		FramePaths: fullFrames,
		OutputPath: fullPath,
		TempDir:    tempDir,
		FPS:        cfg.FPS,
		CRF:        18,
	}); err != nil {
		return result, errkind.ExitUnrecoverableLocal, err
	}
	result.FullVideoPath = fullPath

	socialExpected := cfg.SocialDays * cfg.FramesPerDay()
	socialFrames, _ := video.FilterExisting(lastN(framePaths, socialExpected))
	if err := video.CheckCoverage(socialFrames, socialExpected, cfg.MaxMissingFramesPercent); err != nil {
		return result, errkind.ExitUnrecoverableLocal, err
	}
	if err := video.Assemble(runCtx, video.Params{
		FramePaths: socialFrames,
		OutputPath: socialPath,
		TempDir:    tempDir,
		FPS:        cfg.FPS,
		CRF:        18,
		SocialCrop: video.Crop{Width: socialCropWidth, Height: socialCropHeight},
	}); err != nil {
		return result, errkind.ExitUnrecoverableLocal, err
	}
	result.SocialVideoPath = socialPath

	if pipelineErr != nil {
		return result, errkind.ExitCancelled, pipelineErr
	}
	return result, errkind.ExitSuccess, nil
}

func defaultCompositorParams(cfg config.Config) compositor.Params {
	p := compositor.Default()
	p.CropWidth = cfg.FrameWidth
	p.CropHeight = cfg.FrameHeight
	p.CompositeRadius = cfg.CompositeRadius
	p.FeatherRadius = cfg.FeatherRadius
	p.JPEGQuality = cfg.JPEGQuality
	return p
}

// committedFramePaths returns the frame paths for g's points that have
// a committed record, in chronological order.
func committedFramePaths(store *manifest.Store, g grid.Grid) []string {
	paths := make([]string, 0, g.Len())
	for _, ts := range g.Points {
		if rec, ok := store.Frame(ts); ok {
			paths = append(paths, rec.Path)
		}
	}
	return paths
}

func lastN(paths []string, n int) []string {
	if n <= 0 || n >= len(paths) {
		return paths
	}
	return paths[len(paths)-n:]
}
