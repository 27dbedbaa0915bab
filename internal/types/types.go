// Package types holds the domain values shared by the counting, tracking,
// capture, and control-plane packages: frames, detections, tracks, the
// configured line, crossing events, and job descriptors/status.
package types

import "time"

// JobKind identifies the source a JobWorker drives.
type JobKind string

const (
	KindFileVideo JobKind = "FILE_VIDEO"
	KindRTSP      JobKind = "RTSP_STREAM"
)

// Phase is a JobWorker lifecycle state.
type Phase string

const (
	PhasePending   Phase = "PENDING"
	PhaseRunning   Phase = "RUNNING"
	PhasePaused    Phase = "PAUSED"
	PhaseCompleted Phase = "COMPLETED"
	PhaseFailed    Phase = "FAILED"
	PhaseStopped   Phase = "STOPPED"
)

// Terminal reports whether p admits no further state change.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseFailed || p == PhaseStopped
}

// Direction is the crossing direction of a counted track.
type Direction string

const (
	DirEntry Direction = "entry"
	DirExit  Direction = "exit"
)

// ReversalPolicy controls whether a track may contribute both an ENTRY and
// an EXIT, or only its first crossing.
type ReversalPolicy string

const (
	AllowReversal ReversalPolicy = "ALLOW_REVERSAL"
	FirstOnly     ReversalPolicy = "FIRST_ONLY"
)

// BBox is an axis-aligned bounding box in pixel coordinates. Invariant:
// X1 < X2 and Y1 < Y2.
type BBox struct {
	X1, Y1, X2, Y2 int
}

// Valid reports whether the box satisfies the ordering invariant.
func (b BBox) Valid() bool {
	return b.X1 < b.X2 && b.Y1 < b.Y2
}

// Center returns the box's centroid as floating point coordinates.
func (b BBox) Center() (x, y float64) {
	return float64(b.X1+b.X2) / 2, float64(b.Y1+b.Y2) / 2
}

// Area returns the box's pixel area.
func (b BBox) Area() int {
	return (b.X2 - b.X1) * (b.Y2 - b.Y1)
}

// Detection is one detector output for a single frame.
type Detection struct {
	BBox       BBox
	Confidence float64
	ClassID    int
}

// Point is a 2D point in pixel space, used for centroid history.
type Point struct {
	X, Y float64
}

// Track is a persistent identity assigned to associated detections across
// frames. Mutated only by the tracker.
type Track struct {
	TrackID       int
	LastBBox      BBox
	LastFrameSeen uint64
	MissCount     int
	CenterHistory []Point // bounded to H_len, oldest first
	Confidence    float64
	ClassID       int
}

// PctPoint is a line endpoint expressed as a percentage of frame
// width/height, each in [0,100].
type PctPoint struct {
	X, Y float64
}

// LineConfig is the per-job virtual line configuration.
type LineConfig struct {
	LineID         string
	P1, P2         PctPoint
	ReversalPolicy ReversalPolicy
}

// Resolve converts the percentage-space endpoints to pixel-space points for
// a frame of the given dimensions.
func (l LineConfig) Resolve(width, height int) (p1, p2 Point) {
	p1 = Point{X: l.P1.X * float64(width) / 100, Y: l.P1.Y * float64(height) / 100}
	p2 = Point{X: l.P2.X * float64(width) / 100, Y: l.P2.Y * float64(height) / 100}
	return p1, p2
}

// CrossingEvent is emitted at most once per (track_id, direction) per line.
type CrossingEvent struct {
	TrackID    int
	Direction  Direction
	FrameIndex uint64
	Timestamp  time.Time
	Confidence float64
	BBox       BBox
	CameraID   string
	LineID     string
}

// Frame is one immutable decoded/captured image plus its metadata.
type Frame struct {
	Index     uint64
	Width     int
	Height    int
	Data      []byte // raw RGB pixel data, Width*Height*3 bytes
	CapturedAt time.Time
}

// JobDescriptor is the immutable configuration a job was submitted with.
type JobDescriptor struct {
	JobID        string
	Kind         JobKind
	Source       string // file path or RTSP URL
	CameraID     string
	CountEnabled bool
	Line         LineConfig
	FPSCap       float64
	OutputPath   string
	DetConf      float64
	TargetClass  int
	JPEGQuality  int
	ThresholdPx  float64
}

// StreamProperties describes the decoded resolution/rate of a job's source,
// filled in once known.
type StreamProperties struct {
	Width  int
	Height int
	FPS    float64
}

// JobStatus is a race-free snapshot of a running or terminated job. Readers
// must treat it as a value copy; only the owning worker mutates the live
// counters behind its status lock.
type JobStatus struct {
	JobID           string
	CameraID        string
	Phase           Phase
	Progress        float64 // stays 0 for RTSP_STREAM, which has no total frame count
	FramesIn        uint64
	FramesOut       uint64
	EntryCount      uint64
	ExitCount       uint64
	NetCount        int64
	FPSMeasured     float64
	UptimeS         float64
	Error           string
	ErrorCode       string
	Stream          StreamProperties
	LastFrameIndex  uint64
	StartedAt       time.Time
}
