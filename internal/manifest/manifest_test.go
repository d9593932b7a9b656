package manifest

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/watkajtys/heliosphere-sub001/internal/layer"
	"github.com/watkajtys/heliosphere-sub001/internal/metrics"
)

func TestLoadMissingFileYieldsEmptyStore(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "frame_manifest.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.FrameCount() != 0 {
		t.Fatalf("FrameCount() = %d, want 0", s.FrameCount())
	}
}

func TestCommitAndCheckpointRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "frame_manifest.json")
	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	requested := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	record := FrameRecord{
		Path:            "/frames/000000.jpg",
		Date:            requested,
		FrameNumber:     0,
		CoronaChecksum:  "aaaa",
		SunDiskChecksum: "bbbb",
		FileSize:        12345,
		Created:         requested,
	}
	s.CommitFrame(requested, 0, record, "aaaa", "bbbb")

	if !s.HasFrame(requested) {
		t.Fatal("HasFrame should be true after commit")
	}
	if s.Stats().CompletedFrames != 1 {
		t.Fatalf("CompletedFrames = %d, want 1", s.Stats().CompletedFrames)
	}

	if err := s.Checkpoint(); err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("manifest file not written: %v", err)
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load (reload): %v", err)
	}
	if !reloaded.HasFrame(requested) {
		t.Fatal("reloaded store should have the committed frame")
	}
	got, ok := reloaded.Frame(requested)
	if !ok || got.CoronaChecksum != "aaaa" {
		t.Fatalf("reloaded frame = %+v, ok=%v", got, ok)
	}
	if reloaded.Stats().CompletedFrames != 1 {
		t.Fatalf("reloaded CompletedFrames = %d, want 1", reloaded.Stats().CompletedFrames)
	}
}

func TestCheckpointRecordsDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "frame_manifest.json")
	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	sampleCount := func() uint64 {
		families, err := metrics.Registry.Gather()
		if err != nil {
			t.Fatalf("Gather: %v", err)
		}
		for _, f := range families {
			if f.GetName() == "heliosphere_checkpoint_duration_seconds" {
				return f.GetMetric()[0].GetHistogram().GetSampleCount()
			}
		}
		return 0
	}

	before := sampleCount()
	if err := s.Checkpoint(); err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}
	after := sampleCount()
	if after != before+1 {
		t.Fatalf("CheckpointDurationSeconds sample count = %d, want %d (one new observation)", after, before+1)
	}
}

func TestCheckpointRotatesBackup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "frame_manifest.json")
	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := s.Checkpoint(); err != nil {
		t.Fatalf("first Checkpoint: %v", err)
	}
	s.CommitFrame(time.Now().UTC(), 1, FrameRecord{}, "c1", "s1")
	if err := s.Checkpoint(); err != nil {
		t.Fatalf("second Checkpoint: %v", err)
	}
	if _, err := os.Stat(path + ".backup"); err != nil {
		t.Fatalf("expected a .backup file after second checkpoint: %v", err)
	}
}

func TestIsDuplicateToleratesAdjacency(t *testing.T) {
	path := filepath.Join(t.TempDir(), "frame_manifest.json")
	s, _ := Load(path)

	s.CommitFrame(time.Unix(0, 0), 10, FrameRecord{}, "hash1", "other")

	if s.IsDuplicate(layer.Corona, "hash1", 11) {
		t.Fatal("adjacent grid index (distance 1) should be tolerated, not a duplicate")
	}
	if s.IsDuplicate(layer.Corona, "hash1", 10) {
		t.Fatal("same grid index should not be flagged as a duplicate of itself")
	}
	if !s.IsDuplicate(layer.Corona, "hash1", 13) {
		t.Fatal("distance > 1 should be flagged as a duplicate")
	}
	if s.IsDuplicate(layer.Corona, "unknown-hash", 50) {
		t.Fatal("unknown hash should never be a duplicate")
	}
}

func TestCorruptManifestFallsBackToBackup(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "frame_manifest.json")

	s, _ := Load(path)
	s.CommitFrame(time.Unix(100, 0), 5, FrameRecord{CoronaChecksum: "good"}, "good", "good2")
	if err := s.Checkpoint(); err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}
	// Second checkpoint rotates the good version into .backup.
	if err := s.Checkpoint(); err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}

	if err := os.WriteFile(path, []byte("{not valid json"), 0o644); err != nil {
		t.Fatalf("corrupt primary: %v", err)
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load should fall back, not error: %v", err)
	}
	if !reloaded.HasFrame(time.Unix(100, 0)) {
		t.Fatal("expected the backup's committed frame to survive the fallback")
	}
}

func TestDoubleCorruptionStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "frame_manifest.json")
	if err := os.WriteFile(path, []byte("not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path+".backup", []byte("also not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load should not error, should start empty: %v", err)
	}
	if s.FrameCount() != 0 {
		t.Fatalf("FrameCount() = %d, want 0", s.FrameCount())
	}
}
