// Package counter implements C1, the LineCrossingCounter: a pure function
// over per-frame tracked bounding boxes that decides entry/exit line
// crossings with at-most-once-per-direction semantics.
package counter

import (
	"fmt"
	"math"
	"time"

	"github.com/Md-Abu-Omayer-Babu/Rickshaw-Detector-AI/internal/geometry"
	"github.com/Md-Abu-Omayer-Babu/Rickshaw-Detector-AI/internal/types"
)

// TrackedBox is one track's current bounding box, as handed to the counter
// by the tracker each frame.
type TrackedBox struct {
	TrackID    int
	BBox       types.BBox
	Confidence float64
}

type pendingCrossing struct {
	frameIndex uint64
	bbox       types.BBox
	confidence float64
}

type trackState struct {
	lastCenter   types.Point
	hasCenter    bool
	pending      *pendingCrossing
	countedEntry bool
	countedExit  bool
}

// Counter holds the per-track history needed to detect crossings of a
// single configured line. Not safe for concurrent use; the JobWorker owns
// one Counter per job and calls it from its single processing goroutine.
type Counter struct {
	line      types.LineConfig
	threshold float64
	states    map[int]*trackState
}

// New builds a Counter for the given line configuration. thresholdPx is the
// crossing_threshold band in pixels of perpendicular distance from the line.
func New(line types.LineConfig, thresholdPx float64) (*Counter, error) {
	if line.ReversalPolicy != types.AllowReversal && line.ReversalPolicy != types.FirstOnly {
		return nil, fmt.Errorf("counter: reversal_policy must be set explicitly")
	}
	return &Counter{
		line:      line,
		threshold: thresholdPx,
		states:    make(map[int]*trackState),
	}, nil
}

// Update processes one frame's tracked boxes and returns any crossing
// events emitted this frame. width/height are the frame dimensions used to
// resolve the percentage-space line into pixel space.
func (c *Counter) Update(cameraID string, frameIndex uint64, now time.Time, width, height int, boxes []TrackedBox) ([]types.CrossingEvent, error) {
	l1, l2 := c.line.Resolve(width, height)
	var events []types.CrossingEvent

	for _, box := range boxes {
		if !box.BBox.Valid() {
			return nil, fmt.Errorf("counter: invalid bbox for track %d", box.TrackID)
		}
		cx, cy := box.BBox.Center()
		if math.IsNaN(cx) || math.IsNaN(cy) {
			return nil, fmt.Errorf("counter: NaN centroid for track %d", box.TrackID)
		}
		center := types.Point{X: cx, Y: cy}

		st := c.states[box.TrackID]
		if st == nil {
			st = &trackState{}
			c.states[box.TrackID] = st
		}
		if !st.hasCenter {
			st.lastCenter = center
			st.hasCenter = true
			continue
		}

		var fired *types.CrossingEvent
		switch {
		case st.pending != nil:
			side := geometry.ClassifySide(signedDistance(l1, l2, center), c.threshold)
			if side != geometry.SideOnLine {
				fired = c.resolve(box.TrackID, st, side, st.pending.frameIndex, st.pending.bbox, st.pending.confidence, cameraID, now)
				st.pending = nil
			}
		case geometry.SegmentsStrictlyIntersect(st.lastCenter, center, l1, l2):
			side := geometry.ClassifySide(signedDistance(l1, l2, center), c.threshold)
			if side == geometry.SideOnLine {
				st.pending = &pendingCrossing{frameIndex: frameIndex, bbox: box.BBox, confidence: box.Confidence}
			} else {
				fired = c.resolve(box.TrackID, st, side, frameIndex, box.BBox, box.Confidence, cameraID, now)
			}
		}

		st.lastCenter = center
		if fired != nil {
			events = append(events, *fired)
		}
	}

	return events, nil
}

// signedDistance is geometry.SideOfLine divided by the line's length: the
// signed perpendicular distance of p from the line, in pixels.
func signedDistance(l1, l2, p types.Point) float64 {
	d := geometry.SideOfLine(l1, l2, p)
	if length := math.Hypot(l2.X-l1.X, l2.Y-l1.Y); length > 0 {
		return d / length
	}
	return d
}

// Forget drops all history for a track, e.g. when the tracker destroys it
// or a seek resets the tracker. Safe because track ids are never reused
// within a job (Tracker.nextID only increases), so a forgotten id can never
// come back around and need its already-counted flags again.
func (c *Counter) Forget(trackID int) {
	delete(c.states, trackID)
}

func (c *Counter) resolve(trackID int, st *trackState, side geometry.Side, frameIndex uint64, bbox types.BBox, confidence float64, cameraID string, now time.Time) *types.CrossingEvent {
	// Entry is the side where SideOfLine is negative: for a line drawn top to
	// bottom in image coordinates, the right-hand side of the frame.
	var direction types.Direction
	if side == geometry.SideNegative {
		direction = types.DirEntry
	} else {
		direction = types.DirExit
	}

	if c.line.ReversalPolicy == types.FirstOnly {
		if st.countedEntry || st.countedExit {
			return nil
		}
	} else {
		if direction == types.DirEntry && st.countedEntry {
			return nil
		}
		if direction == types.DirExit && st.countedExit {
			return nil
		}
	}

	if direction == types.DirEntry {
		st.countedEntry = true
	} else {
		st.countedExit = true
	}

	return &types.CrossingEvent{
		TrackID:    trackID,
		Direction:  direction,
		FrameIndex: frameIndex,
		Timestamp:  now,
		Confidence: confidence,
		BBox:       bbox,
		CameraID:   cameraID,
		LineID:     c.line.LineID,
	}
}
