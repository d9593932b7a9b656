package fallback

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/watkajtys/heliosphere-sub001/internal/errkind"
	"github.com/watkajtys/heliosphere-sub001/internal/fetch"
	"github.com/watkajtys/heliosphere-sub001/internal/layer"
)

type fakeFetcher struct {
	// responses maps an offset in whole minutes from target to a canned
	// response.
	responses map[int]fakeResponse
	target    time.Time
	calls     []int
}

type fakeResponse struct {
	hash string
	err  error
}

func (f *fakeFetcher) Fetch(_ context.Context, _ layer.Layer, instant time.Time) (fetch.RawImage, error) {
	offset := int(instant.Sub(f.target).Minutes())
	f.calls = append(f.calls, offset)
	r, ok := f.responses[offset]
	if !ok {
		return fetch.RawImage{}, errors.Wrap(errkind.ErrPermanentFetch, "no canned response")
	}
	if r.err != nil {
		return fetch.RawImage{}, r.err
	}
	return fetch.RawImage{Hash: r.hash, ResolvedTime: instant}, nil
}

type fakeDedup struct {
	duplicateHashes map[string]bool
}

func (d *fakeDedup) IsDuplicate(_ layer.Layer, hash string, _ int) bool {
	return d.duplicateHashes[hash]
}

func TestResolveAcceptsExactMatch(t *testing.T) {
	target := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	f := &fakeFetcher{target: target, responses: map[int]fakeResponse{0: {hash: "h0"}}}
	d := &fakeDedup{duplicateHashes: map[string]bool{}}

	res, err := Resolve(context.Background(), f, d, layer.Corona, target, 5)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.OffsetMinutes != 0 {
		t.Fatalf("OffsetMinutes = %d, want 0", res.OffsetMinutes)
	}
	if len(f.calls) != 1 {
		t.Fatalf("calls = %v, want exactly one call (offset 0 accepted immediately)", f.calls)
	}
}

func TestResolveSkipsDuplicateThenAccepts(t *testing.T) {
	target := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	schedule := layer.OffsetSchedule(layer.Corona)
	second := schedule[1]

	f := &fakeFetcher{target: target, responses: map[int]fakeResponse{
		0:      {hash: "dup"},
		second: {hash: "fresh"},
	}}
	d := &fakeDedup{duplicateHashes: map[string]bool{"dup": true}}

	res, err := Resolve(context.Background(), f, d, layer.Corona, target, 5)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.OffsetMinutes != second {
		t.Fatalf("OffsetMinutes = %d, want %d", res.OffsetMinutes, second)
	}
}

func TestResolveSkipsTransientThenAccepts(t *testing.T) {
	target := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	schedule := layer.OffsetSchedule(layer.SunDisk)
	second := schedule[1]

	f := &fakeFetcher{target: target, responses: map[int]fakeResponse{
		0:      {err: errors.Wrap(errkind.ErrTransientFetch, "timeout")},
		second: {hash: "ok"},
	}}
	d := &fakeDedup{duplicateHashes: map[string]bool{}}

	res, err := Resolve(context.Background(), f, d, layer.SunDisk, target, 1)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.OffsetMinutes != second {
		t.Fatalf("OffsetMinutes = %d, want %d", res.OffsetMinutes, second)
	}
}

func TestResolveExhaustionReturnsResolveFailure(t *testing.T) {
	target := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	f := &fakeFetcher{target: target, responses: map[int]fakeResponse{}}
	d := &fakeDedup{duplicateHashes: map[string]bool{}}

	_, err := Resolve(context.Background(), f, d, layer.Corona, target, 0)
	if err == nil {
		t.Fatal("expected a ResolveFailureError")
	}
	var rf *ResolveFailureError
	if !errors.As(err, &rf) {
		t.Fatalf("err = %v, want *ResolveFailureError", err)
	}
	if !errors.Is(err, errkind.ErrResolveFailure) {
		t.Fatal("ResolveFailureError should unwrap to errkind.ErrResolveFailure")
	}
	if errors.Is(err, errkind.ErrDuplicateExhausted) {
		t.Fatal("a schedule with no duplicate rejections at all should not match errkind.ErrDuplicateExhausted")
	}
	wantSchedule := layer.OffsetSchedule(layer.Corona)
	if len(rf.AttemptedOffsets) != len(wantSchedule) {
		t.Fatalf("AttemptedOffsets = %v, want all %d offsets tried", rf.AttemptedOffsets, len(wantSchedule))
	}
}

func TestResolveAllDuplicatesExhausts(t *testing.T) {
	target := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	schedule := layer.OffsetSchedule(layer.Corona)
	responses := map[int]fakeResponse{}
	for _, off := range schedule {
		responses[off] = fakeResponse{hash: "always-dup"}
	}
	f := &fakeFetcher{target: target, responses: responses}
	d := &fakeDedup{duplicateHashes: map[string]bool{"always-dup": true}}

	_, err := Resolve(context.Background(), f, d, layer.Corona, target, 0)
	var rf *ResolveFailureError
	if !errors.As(err, &rf) {
		t.Fatalf("err = %v, want *ResolveFailureError", err)
	}
	if len(f.calls) != len(schedule) {
		t.Fatalf("calls = %d, want %d (every offset tried before giving up)", len(f.calls), len(schedule))
	}
	if !errors.Is(err, errkind.ErrDuplicateExhausted) {
		t.Fatal("all-duplicates exhaustion should unwrap to errkind.ErrDuplicateExhausted")
	}
	if errors.Is(err, errkind.ErrResolveFailure) {
		t.Fatal("all-duplicates exhaustion should not also match the generic errkind.ErrResolveFailure")
	}
}

func TestResolveZeroOffsetWinsOverLaterNonDuplicate(t *testing.T) {
	target := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	f := &fakeFetcher{target: target, responses: map[int]fakeResponse{0: {hash: "fine"}}}
	d := &fakeDedup{duplicateHashes: map[string]bool{}}

	res, err := Resolve(context.Background(), f, d, layer.SunDisk, target, 9)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.OffsetMinutes != 0 || len(f.calls) != 1 {
		t.Fatalf("expected the 0 offset to win immediately, got offset=%d calls=%v", res.OffsetMinutes, f.calls)
	}
}
