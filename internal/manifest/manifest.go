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

// Package manifest implements the checksum & manifest store (C4, spec.md
// §4.4): per-frame provenance, per-layer dedup sets, and run-level
// stats, persisted atomically to JSON with a rotating backup.
//
// Mutations are serialized by a single sync.RWMutex guarding the whole
// Store, following the teacher's preference (spec.md §5) for "a mutex
// around the store" over a dedicated writer goroutine — recorded as a
// resolved Open Question in DESIGN.md: a goroutine-per-writer adds a
// cancellation and back-pressure surface this store does not need,
// since every caller here already runs inside the orchestrator's own
// bounded worker pool.
package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/watkajtys/heliosphere-sub001/internal/errkind"
	"github.com/watkajtys/heliosphere-sub001/internal/layer"
	"github.com/watkajtys/heliosphere-sub001/internal/metrics"
)

const schemaVersion = "1"

// FrameRecord is the per-grid-index provenance record (spec.md §6
// manifest schema, "frames" map values).
type FrameRecord struct {
	Path                   string    `json:"path"`
	Date                   time.Time `json:"date"`
	FrameNumber            int       `json:"frame_number"`
	CoronaChecksum         string    `json:"corona_checksum"`
	SunDiskChecksum        string    `json:"sun_disk_checksum"`
	CoronaFallbackMinutes  int       `json:"corona_fallback_minutes"`
	SunDiskFallbackMinutes int       `json:"sun_disk_fallback_minutes"`
	FileSize               int64     `json:"file_size"`
	Created                time.Time `json:"created"`
}

// Stats are the run-level counters in the manifest's "stats" object,
// persisted for provenance; the orchestrator and video assembler do not
// read them back. The pipeline increments CompletedFrames,
// FallbacksUsed, MissingFrames, and ResolveFailures; DuplicatesRejected
// changes only through RecordDuplicateRejected, which the pipeline does
// not call.
type Stats struct {
	CompletedFrames  int `json:"completed_frames"`
	FallbacksUsed    int `json:"fallbacks_used"`
	DuplicatesRejected int `json:"duplicates_rejected"`
	MissingFrames    int `json:"missing_frames"`
	ResolveFailures  int `json:"resolve_failures"`
}

// document is the on-disk JSON shape (spec.md §6).
type document struct {
	Version     string                       `json:"version"`
	GeneratedAt time.Time                    `json:"generated_at"`
	Frames      map[string]FrameRecord       `json:"frames"`
	Checksums   map[string]map[string][]int  `json:"checksums"`
	Stats       Stats                        `json:"stats"`
}

// Store is the in-memory, disk-backed manifest. Zero value is not
// usable; construct with Load.
type Store struct {
	mu   sync.RWMutex
	path string

	frames    map[string]FrameRecord      // keyed by requested ISO8601 instant
	checksums map[layer.Layer]map[string][]int
	stats     Stats
}

// Load hydrates a Store from path, following the backup fallback chain
// in spec.md §4.4/§7: a corrupted primary falls back to path+".backup",
// and if both are unreadable the store starts empty with a warning
// (ErrManifestCorrupt is logged, not returned, since an empty store is
// itself a valid starting point for a fresh build).
func Load(path string) (*Store, error) {
	s := &Store{
		path:      path,
		frames:    make(map[string]FrameRecord),
		checksums: map[layer.Layer]map[string][]int{layer.Corona: {}, layer.SunDisk: {}},
	}

	doc, err := readDocument(path)
	if err != nil {
		log.WithField("err", err).Warn("manifest: primary unreadable, falling back to backup")
		doc, err = readDocument(path + ".backup")
		if err != nil {
			log.WithField("err", err).Warn("manifest: backup also unreadable, starting empty")
			return s, nil
		}
	}

	s.frames = doc.Frames
	if s.frames == nil {
		s.frames = make(map[string]FrameRecord)
	}
	for _, l := range layer.All {
		key := layerKey(l)
		m := doc.Checksums[key]
		if m == nil {
			m = map[string][]int{}
		}
		s.checksums[l] = m
	}
	s.stats = doc.Stats
	return s, nil
}

func readDocument(path string) (document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return document{}, errors.Wrap(err, "manifest: read")
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return document{}, errors.Wrap(errkind.ErrManifestCorrupt, err.Error())
	}
	return doc, nil
}

// HasFrame reports whether a committed frame record already exists for
// requested (spec.md §4.4 has_frame).
func (s *Store) HasFrame(requested time.Time) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.frames[isoKey(requested)]
	return ok
}

// Frame returns the committed record for requested, if any.
func (s *Store) Frame(requested time.Time) (FrameRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.frames[isoKey(requested)]
	return r, ok
}

// IsDuplicate reports whether hash is a duplicate for candidate grid
// index gridIndex on layer l: it already appears in l's dedup set bound
// to a different grid index whose distance to gridIndex exceeds 1
// (spec.md §3 "Dedup sets" — adjacency is tolerated).
func (s *Store) IsDuplicate(l layer.Layer, hash string, gridIndex int) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	indices, ok := s.checksums[l][hash]
	if !ok {
		return false
	}
	for _, idx := range indices {
		if abs(idx-gridIndex) > 1 {
			return true
		}
	}
	return false
}

// CommitFrame inserts record under requested and updates both layers'
// dedup sets atomically in memory (spec.md §4.4 commit_frame). It does
// not touch disk; call Checkpoint to persist.
func (s *Store) CommitFrame(requested time.Time, gridIndex int, record FrameRecord, coronaHash, sunDiskHash string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.frames[isoKey(requested)] = record
	s.checksums[layer.Corona][coronaHash] = appendIndex(s.checksums[layer.Corona][coronaHash], gridIndex)
	s.checksums[layer.SunDisk][sunDiskHash] = appendIndex(s.checksums[layer.SunDisk][sunDiskHash], gridIndex)
	s.stats.CompletedFrames++
}

// RecordFallback increments the fallbacks-used counter; call once per
// layer whenever C3 accepts a non-zero offset.
func (s *Store) RecordFallback() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.FallbacksUsed++
}

// RecordDuplicateRejected increments the duplicates-rejected counter.
func (s *Store) RecordDuplicateRejected() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.DuplicatesRejected++
}

// RecordMissing increments the missing-frames and resolve-failures
// counters for a grid index the orchestrator could not produce.
func (s *Store) RecordMissing() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.MissingFrames++
	s.stats.ResolveFailures++
}

// Stats returns a copy of the current run-level counters.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}

// FrameCount returns the number of committed frame records.
func (s *Store) FrameCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.frames)
}

// Checkpoint persists the store to disk atomically: write to a temp
// file in the same directory, fsync, rename over the primary, and
// rotate the previous primary to path+".backup" first (spec.md §4.4,
// §6 "written atomically").
func (s *Store) Checkpoint() error {
	start := time.Now()
	defer func() { metrics.CheckpointDurationSeconds.Observe(time.Since(start).Seconds()) }()

	s.mu.RLock()
	doc := document{
		Version:     schemaVersion,
		GeneratedAt: time.Now().UTC(),
		Frames:      copyFrames(s.frames),
		Checksums:   s.checksumsSnapshot(),
		Stats:       s.stats,
	}
	s.mu.RUnlock()

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return errors.Wrap(err, "manifest: marshal")
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, "frame_manifest-*.json.tmp")
	if err != nil {
		return errors.Wrap(err, "manifest: create temp file")
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once renamed

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrap(err, "manifest: write temp file")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errors.Wrap(err, "manifest: fsync temp file")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "manifest: close temp file")
	}

	if _, err := os.Stat(s.path); err == nil {
		if err := os.Rename(s.path, s.path+".backup"); err != nil {
			return errors.Wrap(err, "manifest: rotate backup")
		}
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return errors.Wrap(err, "manifest: rename temp file into place")
	}
	return nil
}

func (s *Store) checksumsSnapshot() map[string]map[string][]int {
	out := make(map[string]map[string][]int, len(s.checksums))
	for l, m := range s.checksums {
		cp := make(map[string][]int, len(m))
		for hash, indices := range m {
			dup := make([]int, len(indices))
			copy(dup, indices)
			sort.Ints(dup)
			cp[hash] = dup
		}
		out[layerKey(l)] = cp
	}
	return out
}

func copyFrames(m map[string]FrameRecord) map[string]FrameRecord {
	out := make(map[string]FrameRecord, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func appendIndex(indices []int, gridIndex int) []int {
	for _, idx := range indices {
		if idx == gridIndex {
			return indices
		}
	}
	return append(indices, gridIndex)
}

func layerKey(l layer.Layer) string {
	switch l {
	case layer.Corona:
		return "corona"
	case layer.SunDisk:
		return "sun_disk"
	default:
		return fmt.Sprintf("layer_%d", int(l))
	}
}

func isoKey(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
