// Package tracker implements C2, the MultiObjectTracker: globally-greedy
// IoU association of per-frame detections into persistent track IDs.
package tracker

import (
	"sort"

	"github.com/Md-Abu-Omayer-Babu/Rickshaw-Detector-AI/internal/types"
)

// Config holds the tunable knobs from SPEC_FULL §4.2 / §6's config
// envelope (track_iou_min, track_miss_max, track_history_len, min_det_conf).
type Config struct {
	IoUMin         float64
	MaxMiss        int
	HistoryLen     int
	MinDetConf     float64
}

// DefaultConfig returns the spec's documented defaults.
func DefaultConfig() Config {
	return Config{IoUMin: 0.3, MaxMiss: 30, HistoryLen: 30, MinDetConf: 0.3}
}

// Tracker maintains the active track set for a single job. Not safe for
// concurrent use; owned by exactly one JobWorker goroutine.
type Tracker struct {
	cfg    Config
	nextID int
	tracks map[int]*types.Track
}

// New builds a Tracker with the given configuration.
func New(cfg Config) *Tracker {
	return &Tracker{cfg: cfg, tracks: make(map[int]*types.Track)}
}

// Destroyed is returned alongside the active track set: the ids of tracks
// removed this step, so callers (e.g. the LineCrossingCounter) can drop
// their own per-track history for ids that will never reappear.
type StepResult struct {
	Active    []types.Track
	Destroyed []int
}

// Step advances the tracker by one frame given the new detections. Ties in
// IoU are broken by lower detection index first, and detections are
// processed in the given order — callers pass them in ascending index order
// (the order the detector reported them in) to keep matching deterministic.
func (t *Tracker) Step(frameIndex uint64, detections []types.Detection) StepResult {
	type pair struct {
		trackID  int
		detIdx   int
		iou      float64
	}

	trackIDs := make([]int, 0, len(t.tracks))
	for id := range t.tracks {
		trackIDs = append(trackIDs, id)
	}
	sort.Ints(trackIDs) // stable base ordering before we sort by IoU/detIdx

	pairs := make([]pair, 0, len(trackIDs)*len(detections))
	for _, id := range trackIDs {
		tr := t.tracks[id]
		for di, det := range detections {
			iou := IoU(tr.LastBBox, det.BBox)
			if iou >= t.cfg.IoUMin {
				pairs = append(pairs, pair{trackID: id, detIdx: di, iou: iou})
			}
		}
	}

	// Globally greedy: repeatedly take the highest-IoU remaining pair, tie
	// broken by lower detection index first, removing its row and column.
	sort.SliceStable(pairs, func(i, j int) bool {
		if pairs[i].iou != pairs[j].iou {
			return pairs[i].iou > pairs[j].iou
		}
		return pairs[i].detIdx < pairs[j].detIdx
	})

	matchedTrack := make(map[int]bool)
	matchedDet := make(map[int]bool)
	assignment := make(map[int]int) // trackID -> detIdx

	for _, p := range pairs {
		if matchedTrack[p.trackID] || matchedDet[p.detIdx] {
			continue
		}
		matchedTrack[p.trackID] = true
		matchedDet[p.detIdx] = true
		assignment[p.trackID] = p.detIdx
	}

	// Apply matches, age unmatched tracks, destroy those beyond MaxMiss.
	var destroyed []int
	for _, id := range trackIDs {
		tr := t.tracks[id]
		if di, ok := assignment[id]; ok {
			det := detections[di]
			cx, cy := det.BBox.Center()
			tr.LastBBox = det.BBox
			tr.LastFrameSeen = frameIndex
			tr.MissCount = 0
			tr.Confidence = det.Confidence
			tr.ClassID = det.ClassID
			tr.CenterHistory = append(tr.CenterHistory, types.Point{X: cx, Y: cy})
			if len(tr.CenterHistory) > t.cfg.HistoryLen {
				tr.CenterHistory = tr.CenterHistory[len(tr.CenterHistory)-t.cfg.HistoryLen:]
			}
		} else {
			tr.MissCount++
			if tr.MissCount > t.cfg.MaxMiss {
				destroyed = append(destroyed, id)
				delete(t.tracks, id)
			}
		}
	}

	// New tracks for confident unmatched detections, in ascending detection
	// index order so id assignment is deterministic.
	for di, det := range detections {
		if matchedDet[di] {
			continue
		}
		if det.Confidence < t.cfg.MinDetConf {
			continue
		}
		id := t.nextID
		t.nextID++
		cx, cy := det.BBox.Center()
		t.tracks[id] = &types.Track{
			TrackID:       id,
			LastBBox:      det.BBox,
			LastFrameSeen: frameIndex,
			MissCount:     0,
			Confidence:    det.Confidence,
			ClassID:       det.ClassID,
			CenterHistory: []types.Point{{X: cx, Y: cy}},
		}
	}

	active := make([]types.Track, 0, len(t.tracks))
	activeIDs := make([]int, 0, len(t.tracks))
	for id := range t.tracks {
		activeIDs = append(activeIDs, id)
	}
	sort.Ints(activeIDs)
	for _, id := range activeIDs {
		active = append(active, *t.tracks[id])
	}

	return StepResult{Active: active, Destroyed: destroyed}
}

// Reset clears all track state (used on a FILE_VIDEO seek, per SPEC_FULL
// §4.4 step 3) without resetting the id counter — new tracks after a reset
// still get fresh, never-reused ids.
func (t *Tracker) Reset() []int {
	ids := make([]int, 0, len(t.tracks))
	for id := range t.tracks {
		ids = append(ids, id)
	}
	t.tracks = make(map[int]*types.Track)
	sort.Ints(ids)
	return ids
}

// IoU computes the Intersection-over-Union ratio of two boxes.
func IoU(a, b types.BBox) float64 {
	x1 := max(a.X1, b.X1)
	y1 := max(a.Y1, b.Y1)
	x2 := min(a.X2, b.X2)
	y2 := min(a.Y2, b.Y2)
	if x2 < x1 || y2 < y1 {
		return 0
	}
	intersection := float64((x2 - x1) * (y2 - y1))
	union := float64(a.Area()+b.Area()) - intersection
	if union <= 0 {
		return 0
	}
	return intersection / union
}
