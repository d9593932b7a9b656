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

// Package video implements the video assembler (C7, spec.md §4.7):
// write a concat-descriptor of committed frame paths in chronological
// order and invoke ffmpeg as a subprocess to produce the full and
// social products.
//
// Subprocess invocation follows the teacher pack's ffmpeg usage
// (vincent99-velocipi/server/dvr/dvr.go's exec.CommandContext("ffmpeg",
// args...) pattern, also seen in
// other_examples/d0036c6d_justbuchanan-timelapse-server): build an args
// slice, run under the caller's context, capture stderr for
// diagnostics.
package video

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/watkajtys/heliosphere-sub001/internal/errkind"
)

// Crop describes an optional ffmpeg crop filter applied to the social
// product (spec.md §4.7 "optional crop filter to a square or portrait
// aspect ratio"). A zero-value Crop applies no filter.
type Crop struct {
	Width, Height int
}

// Params configures one assembly invocation.
type Params struct {
	FramePaths []string // chronological order, already filtered to existing files
	OutputPath string
	TempDir    string
	FPS        int
	CRF        int
	SocialCrop Crop
}

// Assemble writes a concat-descriptor for p.FramePaths and invokes
// ffmpeg with the fixed parameters from spec.md §4.7 (H.264, yuv420p,
// CRF 18, faststart, fps=24). When p.SocialCrop is non-zero, a crop
// filter is appended — the social product's aspect ratio decision
// (square vs. portrait) is made by the caller per DESIGN.md.
func Assemble(ctx context.Context, p Params) error {
	if len(p.FramePaths) == 0 {
		return errors.Wrap(errkind.ErrInsufficientFrames, "no frames to assemble")
	}

	listPath, err := writeConcatList(p.TempDir, p.FramePaths)
	if err != nil {
		return errors.Wrap(err, "video: write concat list")
	}
	defer os.Remove(listPath)

	if err := os.MkdirAll(filepath.Dir(p.OutputPath), 0o755); err != nil {
		return errors.Wrap(err, "video: create output directory")
	}

	args := []string{
		"-f", "concat",
		"-safe", "0",
		"-r", fmt.Sprintf("%d", p.FPS),
		"-i", listPath,
	}

	var filters []string
	if p.SocialCrop.Width > 0 && p.SocialCrop.Height > 0 {
		filters = append(filters, fmt.Sprintf("crop=%d:%d", p.SocialCrop.Width, p.SocialCrop.Height))
	}
	if len(filters) > 0 {
		args = append(args, "-vf", joinFilters(filters))
	}

	crf := p.CRF
	if crf == 0 {
		crf = 18
	}
	args = append(args,
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		"-crf", fmt.Sprintf("%d", crf),
		"-movflags", "+faststart",
		"-y", p.OutputPath,
	)

	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		log.WithField("stderr", stderr.String()).Error("video: ffmpeg failed")
		return errors.Wrapf(err, "video: ffmpeg: %s", stderr.String())
	}
	return nil
}

// FilterExisting drops paths that are no longer present on disk
// (spec.md §4.7 "divergence between manifest and filesystem"),
// returning the survivors and the number dropped.
func FilterExisting(paths []string) (existing []string, dropped int) {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			dropped++
			log.WithField("path", p).Warn("video: committed frame missing on disk, omitting from concat list")
			continue
		}
		existing = append(existing, p)
	}
	return existing, dropped
}

// CheckCoverage returns an InsufficientFramesError-wrapped error if
// len(existing) falls short of expected by more than maxMissingPercent
// (spec.md §4.7, §6 config.maxMissingFramesPercent).
func CheckCoverage(existing []string, expected int, maxMissingPercent float64) error {
	if expected == 0 {
		return nil
	}
	coverage := float64(len(existing)) / float64(expected)
	minCoverage := 1 - maxMissingPercent/100
	if coverage < minCoverage {
		return errors.Wrapf(errkind.ErrInsufficientFrames, "only %d/%d frames available (%.1f%%, need >= %.1f%%)", len(existing), expected, coverage*100, minCoverage*100)
	}
	return nil
}

func writeConcatList(dir string, paths []string) (string, error) {
	f, err := os.CreateTemp(dir, "concat-*.txt")
	if err != nil {
		return "", err
	}
	defer f.Close()

	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return "", err
		}
		if _, err := fmt.Fprintf(f, "file '%s'\n", escapeConcatPath(abs)); err != nil {
			return "", err
		}
	}
	return f.Name(), nil
}

func escapeConcatPath(p string) string {
	return filepath.ToSlash(p)
}

func joinFilters(filters []string) string {
	out := filters[0]
	for _, f := range filters[1:] {
		out += "," + f
	}
	return out
}
