package tracker

import (
	"testing"

	"github.com/Md-Abu-Omayer-Babu/Rickshaw-Detector-AI/internal/types"
)

func mkBox(x1, y1, x2, y2 int) types.BBox {
	return types.BBox{X1: x1, Y1: y1, X2: x2, Y2: y2}
}

func TestIoUIdenticalBoxes(t *testing.T) {
	b := mkBox(0, 0, 10, 10)
	if got := IoU(b, b); got != 1 {
		t.Fatalf("expected IoU 1 for identical boxes, got %f", got)
	}
}

func TestIoUDisjointBoxes(t *testing.T) {
	if got := IoU(mkBox(0, 0, 10, 10), mkBox(20, 20, 30, 30)); got != 0 {
		t.Fatalf("expected IoU 0, got %f", got)
	}
}

func TestNewTrackOnFirstDetection(t *testing.T) {
	tr := New(DefaultConfig())
	res := tr.Step(0, []types.Detection{{BBox: mkBox(0, 0, 10, 10), Confidence: 0.9}})
	if len(res.Active) != 1 || res.Active[0].TrackID != 0 {
		t.Fatalf("expected a single new track with id 0, got %+v", res.Active)
	}
}

func TestLowConfidenceUnmatchedDropped(t *testing.T) {
	tr := New(DefaultConfig())
	res := tr.Step(0, []types.Detection{{BBox: mkBox(0, 0, 10, 10), Confidence: 0.1}})
	if len(res.Active) != 0 {
		t.Fatalf("expected low-confidence unmatched detection to be dropped, got %+v", res.Active)
	}
}

func TestTrackPersistsAcrossFrames(t *testing.T) {
	tr := New(DefaultConfig())
	tr.Step(0, []types.Detection{{BBox: mkBox(0, 0, 10, 10), Confidence: 0.9}})
	res := tr.Step(1, []types.Detection{{BBox: mkBox(1, 1, 11, 11), Confidence: 0.9}})
	if len(res.Active) != 1 || res.Active[0].TrackID != 0 {
		t.Fatalf("expected the same track id to persist, got %+v", res.Active)
	}
	if len(res.Active[0].CenterHistory) != 2 {
		t.Fatalf("expected 2 centroid history entries, got %d", len(res.Active[0].CenterHistory))
	}
}

func TestTrackDestroyedAfterMaxMiss(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxMiss = 2
	tr := New(cfg)
	tr.Step(0, []types.Detection{{BBox: mkBox(0, 0, 10, 10), Confidence: 0.9}})
	tr.Step(1, nil)
	tr.Step(2, nil)
	res := tr.Step(3, nil)
	if len(res.Active) != 0 {
		t.Fatalf("expected track destroyed after exceeding max miss, got %+v", res.Active)
	}
	if len(res.Destroyed) != 1 {
		t.Fatalf("expected exactly one destroyed track id, got %+v", res.Destroyed)
	}
}

func TestGlobalGreedyPrefersHigherIoUOverArrayOrder(t *testing.T) {
	tr := New(DefaultConfig())
	// Two existing tracks: 0 at (0,0,10,10), 1 at (8,0,18,10).
	tr.Step(0, []types.Detection{
		{BBox: mkBox(0, 0, 10, 10), Confidence: 0.9},
		{BBox: mkBox(8, 0, 18, 10), Confidence: 0.9},
	})
	// IoUs: track0-det1 0.82, track0-det0 0.54, track1-det0 0.33,
	// track1-det1 0.18 (below iou_min). Taking detections in array order
	// would give det0 to track 0 and leave det1 to start a new track; global
	// greedy gives det1 to track 0 first, then det0 to track 1.
	res := tr.Step(1, []types.Detection{
		{BBox: mkBox(3, 0, 13, 10), Confidence: 0.9},
		{BBox: mkBox(1, 0, 11, 10), Confidence: 0.9},
	})
	if len(res.Active) != 2 {
		t.Fatalf("expected both detections matched to existing tracks, got %+v", res.Active)
	}
	if res.Active[0].TrackID != 0 || res.Active[0].LastBBox != mkBox(1, 0, 11, 10) {
		t.Fatalf("expected track 0 matched to its higher-IoU detection, got %+v", res.Active[0])
	}
	if res.Active[1].TrackID != 1 || res.Active[1].LastBBox != mkBox(3, 0, 13, 10) {
		t.Fatalf("expected track 1 matched to the remaining detection, got %+v", res.Active[1])
	}
}

func TestResetClearsTracksWithoutReusingIDs(t *testing.T) {
	tr := New(DefaultConfig())
	tr.Step(0, []types.Detection{{BBox: mkBox(0, 0, 10, 10), Confidence: 0.9}})
	tr.Reset()
	res := tr.Step(1, []types.Detection{{BBox: mkBox(0, 0, 10, 10), Confidence: 0.9}})
	if len(res.Active) != 1 || res.Active[0].TrackID != 1 {
		t.Fatalf("expected fresh track id 1 after reset, got %+v", res.Active)
	}
}
