package counter

import (
	"testing"
	"time"

	"github.com/Md-Abu-Omayer-Babu/Rickshaw-Detector-AI/internal/types"
)

func box(cx, cy int) types.BBox {
	return types.BBox{X1: cx - 5, Y1: cy - 5, X2: cx + 5, Y2: cy + 5}
}

func newLine(policy types.ReversalPolicy) types.LineConfig {
	return types.LineConfig{
		LineID:         "l1",
		P1:             types.PctPoint{X: 60, Y: 0},
		P2:             types.PctPoint{X: 60, Y: 100},
		ReversalPolicy: policy,
	}
}

func TestSingleCrossingCountsEntry(t *testing.T) {
	c, err := New(newLine(types.FirstOnly), 5)
	if err != nil {
		t.Fatal(err)
	}
	centers := []int{40, 55, 70}
	now := time.Now()
	var all []types.CrossingEvent
	for i, cx := range centers {
		evts, err := c.Update("cam1", uint64(i), now, 100, 100, []TrackedBox{{TrackID: 1, BBox: box(cx, 50), Confidence: 0.9}})
		if err != nil {
			t.Fatal(err)
		}
		all = append(all, evts...)
	}
	if len(all) != 1 {
		t.Fatalf("expected 1 event, got %d: %+v", len(all), all)
	}
	if all[0].Direction != types.DirEntry || all[0].FrameIndex != 2 {
		t.Fatalf("unexpected event: %+v", all[0])
	}
}

func TestFirstOnlySuppressesReversal(t *testing.T) {
	c, err := New(newLine(types.FirstOnly), 5)
	if err != nil {
		t.Fatal(err)
	}
	centers := []int{40, 55, 70, 40}
	now := time.Now()
	var all []types.CrossingEvent
	for i, cx := range centers {
		evts, _ := c.Update("cam1", uint64(i), now, 100, 100, []TrackedBox{{TrackID: 1, BBox: box(cx, 50)}})
		all = append(all, evts...)
	}
	if len(all) != 1 {
		t.Fatalf("expected 1 event under FIRST_ONLY, got %d", len(all))
	}
}

func TestAllowReversalCountsBoth(t *testing.T) {
	c, err := New(newLine(types.AllowReversal), 5)
	if err != nil {
		t.Fatal(err)
	}
	centers := []int{40, 55, 70, 40}
	now := time.Now()
	var all []types.CrossingEvent
	for i, cx := range centers {
		evts, _ := c.Update("cam1", uint64(i), now, 100, 100, []TrackedBox{{TrackID: 1, BBox: box(cx, 50)}})
		all = append(all, evts...)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 events under ALLOW_REVERSAL, got %d: %+v", len(all), all)
	}
	if all[0].Direction != types.DirEntry || all[1].Direction != types.DirExit {
		t.Fatalf("unexpected directions: %+v", all)
	}
}

func TestTangentEndpointDoesNotCount(t *testing.T) {
	c, err := New(newLine(types.FirstOnly), 5)
	if err != nil {
		t.Fatal(err)
	}
	now := time.Now()
	// Trajectory that only touches the line at its own start point never
	// strictly crosses it.
	centers := []int{60, 60, 60}
	var all []types.CrossingEvent
	for i, cx := range centers {
		evts, _ := c.Update("cam1", uint64(i), now, 100, 100, []TrackedBox{{TrackID: 1, BBox: box(cx, 50)}})
		all = append(all, evts...)
	}
	if len(all) != 0 {
		t.Fatalf("expected 0 events for tangent trajectory, got %d", len(all))
	}
}

func TestSingleFrameBurstNoCount(t *testing.T) {
	c, err := New(newLine(types.FirstOnly), 5)
	if err != nil {
		t.Fatal(err)
	}
	evts, err := c.Update("cam1", 0, time.Now(), 100, 100, []TrackedBox{{TrackID: 42, BBox: box(55, 50)}})
	if err != nil {
		t.Fatal(err)
	}
	if len(evts) != 0 {
		t.Fatalf("first sighting of a track must never itself emit a crossing")
	}
}

func TestMissingReversalPolicyRejected(t *testing.T) {
	if _, err := New(newLine(""), 5); err == nil {
		t.Fatal("expected error for unset reversal policy")
	}
}
