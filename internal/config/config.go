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

// Package config holds the run configuration described in spec.md §6,
// with its documented defaults, bound onto a pflag.FlagSet the way the
// teacher's internal/source/server.Config does (Bind/Preflight). No
// binary in this module parses os.Args with it; a CLI wrapper (an
// explicit non-goal) would own that.
package config

import (
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
)

// Config holds every run-level parameter named in spec.md §6.
type Config struct {
	BaseDir      string
	FramesDir    string
	VideosDir    string
	TempDir      string
	SourceBaseURL string
	ProxyBaseURL string

	TotalDays        int
	SocialDays       int
	SafeDelayDays    int
	IntervalMinutes  int
	FPS              int
	FrameWidth       int
	FrameHeight      int
	CompositeRadius  int
	FeatherRadius    int
	FetchConcurrency   int
	ProcessConcurrency int
	BatchSize          int
	MaxRetries         int
	MaxFallbackMinutes int

	MinFrameSize            int64
	MaxMissingFramesPercent float64
	ConsecutiveFailureLimit int

	ConnectTimeout time.Duration
	TotalTimeout   time.Duration
	RetryBackoff   time.Duration
	WallClockTimeout time.Duration

	JPEGQuality int
}

// Default returns the configuration with every default from spec.md §6
// applied.
func Default() Config {
	return Config{
		BaseDir:       ".",
		FramesDir:     "frames",
		VideosDir:     "videos",
		TempDir:       "tmp",
		SourceBaseURL: "https://api.helioviewer.org",
		ProxyBaseURL:  "",

		TotalDays:       56,
		SocialDays:      30,
		SafeDelayDays:   2,
		IntervalMinutes: 15,
		FPS:             24,

		FrameWidth:      1460,
		FrameHeight:     1200,
		CompositeRadius: 400,
		FeatherRadius:   40,

		FetchConcurrency:   8,
		ProcessConcurrency: 4,
		BatchSize:          100,
		MaxRetries:         3,
		MaxFallbackMinutes: 14,

		MinFrameSize:            4096,
		MaxMissingFramesPercent: 5.0,
		ConsecutiveFailureLimit: 10,

		ConnectTimeout:   10 * time.Second,
		TotalTimeout:     30 * time.Second,
		RetryBackoff:     2 * time.Second,
		WallClockTimeout: 6 * time.Hour,

		JPEGQuality: 92,
	}
}

// Bind registers fields on flags, following the teacher's
// server.Config.Bind convention of one flags.XxxVar call per field with
// its default and a short description. FramesDir, VideosDir, TempDir,
// FrameWidth, FrameHeight, CompositeRadius, and FeatherRadius are not
// bound and keep their Default values.
func (c *Config) Bind(flags *pflag.FlagSet) {
	flags.StringVar(&c.BaseDir, "baseDir", c.BaseDir, "root directory for frames, videos, manifest, and temp files")
	flags.StringVar(&c.SourceBaseURL, "sourceBaseURL", c.SourceBaseURL, "base URL of the source screenshot API")
	flags.StringVar(&c.ProxyBaseURL, "proxyBaseURL", c.ProxyBaseURL, "optional caching proxy in front of the source API")

	flags.IntVar(&c.TotalDays, "totalDays", c.TotalDays, "length of the full rolling window, in days")
	flags.IntVar(&c.SocialDays, "socialDays", c.SocialDays, "length of the short rolling window, in days")
	flags.IntVar(&c.SafeDelayDays, "safeDelayDays", c.SafeDelayDays, "days between now and the end of the grid")
	flags.IntVar(&c.IntervalMinutes, "intervalMinutes", c.IntervalMinutes, "spacing between grid points, in minutes")
	flags.IntVar(&c.FPS, "fps", c.FPS, "output video frame rate")

	flags.IntVar(&c.FetchConcurrency, "fetchConcurrency", c.FetchConcurrency, "max in-flight fetches")
	flags.IntVar(&c.ProcessConcurrency, "processConcurrency", c.ProcessConcurrency, "max in-flight composites")
	flags.IntVar(&c.BatchSize, "batchSize", c.BatchSize, "frames committed between checkpoints")
	flags.IntVar(&c.MaxRetries, "maxRetries", c.MaxRetries, "fetch retry attempts before giving up on an offset")
	flags.IntVar(&c.MaxFallbackMinutes, "maxFallbackMinutes", c.MaxFallbackMinutes, "largest allowed |fallback offset|, in minutes")

	flags.Int64Var(&c.MinFrameSize, "minFrameSize", c.MinFrameSize, "minimum valid response/frame size, in bytes")
	flags.Float64Var(&c.MaxMissingFramesPercent, "maxMissingFramesPercent", c.MaxMissingFramesPercent, "abort before video assembly above this missing-frame percentage")
	flags.IntVar(&c.ConsecutiveFailureLimit, "consecutiveFailureLimit", c.ConsecutiveFailureLimit, "consecutive ResolveFailures before aborting the run")

	flags.DurationVar(&c.ConnectTimeout, "connectTimeout", c.ConnectTimeout, "HTTP connect timeout")
	flags.DurationVar(&c.TotalTimeout, "totalTimeout", c.TotalTimeout, "HTTP total request timeout")
	flags.DurationVar(&c.RetryBackoff, "retryBackoff", c.RetryBackoff, "fixed backoff between fetch retries")
	flags.DurationVar(&c.WallClockTimeout, "wallClockTimeout", c.WallClockTimeout, "run-level wall-clock timeout")

	flags.IntVar(&c.JPEGQuality, "jpegQuality", c.JPEGQuality, "output JPEG quality (baseline encoder, 1-100)")
}

// Preflight validates cross-field invariants, mirroring the teacher's
// Config.Preflight pattern (internal/source/server/config.go).
func (c *Config) Preflight() error {
	if c.TotalDays <= 0 {
		return errors.New("totalDays must be positive")
	}
	if c.SocialDays <= 0 || c.SocialDays > c.TotalDays {
		return errors.New("socialDays must be positive and no greater than totalDays")
	}
	if c.SafeDelayDays < 0 {
		return errors.New("safeDelayDays must not be negative")
	}
	if c.IntervalMinutes <= 0 || (24*60)%c.IntervalMinutes != 0 {
		return errors.New("intervalMinutes must be a positive divisor of a day")
	}
	if c.FPS <= 0 {
		return errors.New("fps must be positive")
	}
	if c.FetchConcurrency <= 0 {
		return errors.New("fetchConcurrency must be positive")
	}
	if c.ProcessConcurrency <= 0 {
		return errors.New("processConcurrency must be positive")
	}
	if c.BatchSize <= 0 {
		return errors.New("batchSize must be positive")
	}
	if c.MaxRetries < 0 {
		return errors.New("maxRetries must not be negative")
	}
	if c.MaxFallbackMinutes < 0 {
		return errors.New("maxFallbackMinutes must not be negative")
	}
	if c.MinFrameSize <= 0 {
		return errors.New("minFrameSize must be positive")
	}
	if c.MaxMissingFramesPercent < 0 || c.MaxMissingFramesPercent > 100 {
		return errors.New("maxMissingFramesPercent must be within [0, 100]")
	}
	if c.ConsecutiveFailureLimit <= 0 {
		return errors.New("consecutiveFailureLimit must be positive")
	}
	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		return errors.New("jpegQuality must be within [1, 100]")
	}
	if c.ConnectTimeout <= 0 || c.ConnectTimeout > 10*time.Second {
		return errors.New("connectTimeout must be within (0, 10s]")
	}
	if c.TotalTimeout <= 0 || c.TotalTimeout > 30*time.Second {
		return errors.New("totalTimeout must be within (0, 30s]")
	}
	return nil
}

// FramesPerDay returns how many grid points fall within a single day at
// the configured interval (96 at the default 15-minute interval).
func (c *Config) FramesPerDay() int {
	return (24 * 60) / c.IntervalMinutes
}
