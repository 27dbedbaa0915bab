// Package jobworker implements C4, the JobWorker: the per-job goroutine
// that pulls frames from a capture.Source, runs them through detection,
// tracking, and line-crossing counting, annotates and publishes each
// frame, and persists crossing events.
package jobworker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Md-Abu-Omayer-Babu/Rickshaw-Detector-AI/internal/annotate"
	"github.com/Md-Abu-Omayer-Babu/Rickshaw-Detector-AI/internal/apperror"
	"github.com/Md-Abu-Omayer-Babu/Rickshaw-Detector-AI/internal/broadcaster"
	"github.com/Md-Abu-Omayer-Babu/Rickshaw-Detector-AI/internal/counter"
	"github.com/Md-Abu-Omayer-Babu/Rickshaw-Detector-AI/internal/detector"
	"github.com/Md-Abu-Omayer-Babu/Rickshaw-Detector-AI/internal/eventstore"
	"github.com/Md-Abu-Omayer-Babu/Rickshaw-Detector-AI/internal/metrics"
	"github.com/Md-Abu-Omayer-Babu/Rickshaw-Detector-AI/internal/tracker"
	"github.com/Md-Abu-Omayer-Babu/Rickshaw-Detector-AI/internal/types"
)

// Source is the subset of capture.Source the worker depends on (kept as an
// interface here so tests can supply a fake without importing gocv/gst).
type Source interface {
	Open(ctx context.Context) (types.StreamProperties, error)
	Frames() <-chan types.Frame
	Errs() <-chan error
	Seekable() bool
	Seek(frameIndex uint64) error
	TotalFrames() uint64
	Close() error
}

// VideoEncoder is the subset of capture.FileWriter the worker depends on.
type VideoEncoder interface {
	WriteJPEG(jpeg []byte) error
	Close() error
}

// Deps bundles everything a JobWorker needs beyond its own configuration.
type Deps struct {
	Source      Source
	Detector    detector.Detector
	Store       eventstore.EventStore
	Broadcaster *broadcaster.Broadcaster
	Control     *ControlChannel
	Encoder     VideoEncoder // nil unless OutputPath was requested
	Log         *slog.Logger
	OnStatus    func(types.JobStatus) // fan-out hook; may be nil
	Metrics     *metrics.Metrics      // nil disables telemetry
}

// Worker drives one job end to end on its own goroutine.
type Worker struct {
	descriptor types.JobDescriptor
	deps       Deps

	tracker *tracker.Tracker
	counter *counter.Counter

	statusMu sync.RWMutex
	status   types.JobStatus

	frameTimes []time.Time // bounded window for EWMA fps

	// paused and pendingSeek are owned exclusively by the Run goroutine.
	paused      bool
	pendingSeek *int64
}

// New builds a Worker in PENDING phase. Run must be called to start it.
func New(descriptor types.JobDescriptor, deps Deps, trackCfg tracker.Config) (*Worker, error) {
	var cnt *counter.Counter
	if descriptor.CountEnabled {
		threshold := descriptor.ThresholdPx
		if threshold <= 0 {
			threshold = 5
		}
		c, err := counter.New(descriptor.Line, threshold)
		if err != nil {
			return nil, fmt.Errorf("jobworker: build counter: %w", err)
		}
		cnt = c
	}

	w := &Worker{
		descriptor: descriptor,
		deps:       deps,
		tracker:    tracker.New(trackCfg),
		counter:    cnt,
		status: types.JobStatus{
			JobID:     descriptor.JobID,
			CameraID:  descriptor.CameraID,
			Phase:     types.PhasePending,
			StartedAt: time.Now(),
		},
	}
	return w, nil
}

// Status returns a race-free snapshot.
func (w *Worker) Status() types.JobStatus {
	w.statusMu.RLock()
	defer w.statusMu.RUnlock()
	return w.status
}

func (w *Worker) mutateStatus(fn func(*types.JobStatus)) {
	w.statusMu.Lock()
	fn(&w.status)
	snapshot := w.status
	w.statusMu.Unlock()
	if w.deps.OnStatus != nil {
		w.deps.OnStatus(snapshot)
	}
}

// Run executes the main loop until a terminal phase is reached or ctx is
// cancelled. It always releases source, encoder, and broadcaster before
// returning.
func (w *Worker) Run(ctx context.Context) {
	defer w.releaseResources()

	streamProps, err := w.deps.Source.Open(ctx)
	if err != nil {
		w.fail(ctx, apperror.CodeOf(err), err.Error())
		return
	}

	w.mutateStatus(func(s *types.JobStatus) {
		s.Phase = types.PhaseRunning
		s.Stream = streamProps
	})

	for {
		select {
		case <-ctx.Done():
			w.finish(types.PhaseStopped, "")
			return
		default:
		}

		if w.paused {
			select {
			case msg, ok := <-w.deps.Control.Recv():
				if !ok {
					w.finish(types.PhaseStopped, "")
					return
				}
				if stopped := w.handleControl(msg); stopped {
					return
				}
			case <-ctx.Done():
				w.finish(types.PhaseStopped, "")
				return
			}
			continue
		}

		select {
		case msg := <-w.deps.Control.Recv():
			if stopped := w.handleControl(msg); stopped {
				return
			}
			if w.paused {
				continue
			}
		default:
		}

		w.applyPendingSeek()

		frame, ok := w.readFrame(ctx)
		if !ok {
			return // terminal transition already applied by readFrame or handleControl
		}
		if frame == nil {
			continue // transient: no frame this iteration, control-loop again
		}

		if w.descriptor.FPSCap > 0 {
			w.pace()
		}

		w.processFrame(ctx, *frame)
	}
}

// handleControl applies one control message to worker state. It returns
// true if the worker has reached a terminal phase and Run must return.
func (w *Worker) handleControl(msg ControlMsg) bool {
	switch msg.Kind {
	case ControlPause:
		w.paused = true
		w.mutateStatus(func(s *types.JobStatus) { s.Phase = types.PhasePaused })
	case ControlResume:
		w.paused = false
		w.mutateStatus(func(s *types.JobStatus) { s.Phase = types.PhaseRunning })
	case ControlStop:
		w.finish(types.PhaseStopped, "")
		return true
	case ControlSeek:
		d := msg.DeltaFrames
		w.pendingSeek = &d
	}
	return false
}

func (w *Worker) applyPendingSeek() {
	if w.pendingSeek == nil {
		return
	}
	defer func() { w.pendingSeek = nil }()

	if !w.deps.Source.Seekable() {
		w.deps.Log.Warn("jobworker: seek requested on non-seekable source, ignoring")
		return
	}
	current := w.Status().LastFrameIndex
	target := applyDelta(current, *w.pendingSeek)
	if err := w.deps.Source.Seek(target); err != nil {
		w.deps.Log.Error("jobworker: seek failed", "error", err)
		return
	}
	for _, id := range w.tracker.Reset() {
		if w.counter != nil {
			w.counter.Forget(id)
		}
	}
}

// readFrame blocks for the next decoded frame while remaining responsive
// to control messages (notably Stop) that arrive while no frame is ready.
//
// A source closes Frames() for two distinct reasons: a clean end (decoder
// EOF with nothing pending on Errs()) or a failure (reconnect budget
// exhausted, decode error) reported by a write to Errs() strictly before
// the close, in the same goroutine. That program order means the send
// happens-before the close is observed here, so once Frames() reports
// closed, a non-blocking check of Errs() deterministically tells clean end
// from failure instead of racing two channels for one event.
func (w *Worker) readFrame(ctx context.Context) (*types.Frame, bool) {
	select {
	case frame, ok := <-w.deps.Source.Frames():
		if !ok {
			select {
			case err := <-w.deps.Source.Errs():
				w.fail(ctx, apperror.SourceUnavailable, err.Error())
			default:
				w.finish(types.PhaseCompleted, "")
			}
			return nil, false
		}
		return &frame, true
	case msg := <-w.deps.Control.Recv():
		stopped := w.handleControl(msg)
		return nil, !stopped
	case <-ctx.Done():
		w.finish(types.PhaseStopped, "")
		return nil, false
	}
}

func (w *Worker) pace() {
	interval := time.Duration(float64(time.Second) / w.descriptor.FPSCap)
	if len(w.frameTimes) == 0 {
		return
	}
	elapsed := time.Since(w.frameTimes[len(w.frameTimes)-1])
	if elapsed < interval {
		time.Sleep(interval - elapsed)
	}
}

func (w *Worker) processFrame(ctx context.Context, frame types.Frame) {
	jpeg := encodeForDetect(frame)
	dets, err := w.deps.Detector.Detect(ctx, jpeg, frame.Width, frame.Height)
	if err != nil {
		w.deps.Log.Warn("jobworker: detector call failed, retrying once", "error", err)
		dets, err = w.deps.Detector.Detect(ctx, jpeg, frame.Width, frame.Height)
		if err != nil {
			w.deps.Log.Warn("jobworker: detector retry failed, dropping frame", "error", err)
			if w.deps.Metrics != nil {
				w.deps.Metrics.DetectorErrors.Inc()
			}
			return
		}
	}

	filtered := make([]types.Detection, 0, len(dets))
	for _, d := range dets {
		if d.ClassID == w.descriptor.TargetClass && d.Confidence >= w.descriptor.DetConf {
			filtered = append(filtered, d)
		}
	}

	step := w.tracker.Step(frame.Index, filtered)
	for _, id := range step.Destroyed {
		if w.counter != nil {
			w.counter.Forget(id)
		}
	}

	var entryCount, exitCount uint64
	w.mutateStatus(func(s *types.JobStatus) {
		entryCount, exitCount = s.EntryCount, s.ExitCount
	})

	labels := make([]annotate.TrackLabel, 0, len(step.Active))
	if w.counter != nil {
		boxes := make([]counter.TrackedBox, 0, len(step.Active))
		for _, t := range step.Active {
			boxes = append(boxes, counter.TrackedBox{TrackID: t.TrackID, BBox: t.LastBBox, Confidence: t.Confidence})
			labels = append(labels, annotate.TrackLabel{TrackID: t.TrackID, ClassID: t.ClassID, BBox: t.LastBBox, Confidence: t.Confidence})
		}
		events, err := w.counter.Update(w.descriptor.CameraID, frame.Index, frame.CapturedAt, frame.Width, frame.Height, boxes)
		if err != nil {
			w.deps.Log.Error("jobworker: counter update failed", "error", err)
		}
		for _, ev := range events {
			if ev.Direction == types.DirEntry {
				entryCount++
			} else {
				exitCount++
			}
			if w.deps.Metrics != nil {
				w.deps.Metrics.CrossingEvents.WithLabelValues(ev.CameraID, string(ev.Direction)).Inc()
			}
			if err := w.deps.Store.RecordEvent(ctx, w.descriptor.JobID, ev); err != nil {
				w.deps.Log.Error("jobworker: record event failed", "error", err)
			}
		}
	} else {
		for _, t := range step.Active {
			labels = append(labels, annotate.TrackLabel{TrackID: t.TrackID, ClassID: t.ClassID, BBox: t.LastBBox, Confidence: t.Confidence})
		}
	}

	var linePtr *types.LineConfig
	if w.counter != nil {
		line := w.descriptor.Line
		linePtr = &line
	}

	jpeg, err := annotate.Render(frame, annotate.Options{
		Tracks:      labels,
		Line:        linePtr,
		EntryCount:  entryCount,
		ExitCount:   exitCount,
		FrameIndex:  frame.Index,
		JPEGQuality: w.descriptor.JPEGQuality,
	})
	if err != nil {
		w.fail(ctx, apperror.Fatal, err.Error())
		return
	}

	w.deps.Broadcaster.Publish(jpeg, broadcaster.Meta{FrameIndex: frame.Index, Width: frame.Width, Height: frame.Height})

	framesOut := w.Status().FramesOut + 1
	if w.deps.Encoder != nil {
		if err := w.deps.Encoder.WriteJPEG(jpeg); err != nil {
			w.deps.Log.Error("jobworker: encoder write failed", "error", err)
		}
	}

	w.frameTimes = append(w.frameTimes, time.Now())
	if len(w.frameTimes) > 30 {
		w.frameTimes = w.frameTimes[len(w.frameTimes)-30:]
	}

	total := w.deps.Source.TotalFrames()
	w.mutateStatus(func(s *types.JobStatus) {
		s.FramesIn++
		s.FramesOut = framesOut
		s.EntryCount = entryCount
		s.ExitCount = exitCount
		s.NetCount = int64(entryCount) - int64(exitCount)
		s.LastFrameIndex = frame.Index
		s.FPSMeasured = w.measuredFPS()
		s.UptimeS = time.Since(s.StartedAt).Seconds()
		if total > 0 {
			s.Progress = float64(s.FramesIn) / float64(total)
		}
	})
}

func (w *Worker) measuredFPS() float64 {
	if len(w.frameTimes) < 2 {
		return 0
	}
	span := w.frameTimes[len(w.frameTimes)-1].Sub(w.frameTimes[0]).Seconds()
	if span <= 0 {
		return 0
	}
	return float64(len(w.frameTimes)-1) / span
}

func (w *Worker) finish(phase types.Phase, errMsg string) {
	w.mutateStatus(func(s *types.JobStatus) {
		s.Phase = phase
		s.Error = errMsg
		s.UptimeS = time.Since(s.StartedAt).Seconds()
	})
	w.recordCompletion()
}

func (w *Worker) fail(ctx context.Context, code apperror.Code, msg string) {
	w.mutateStatus(func(s *types.JobStatus) {
		s.Phase = types.PhaseFailed
		s.Error = msg
		s.ErrorCode = string(code)
		s.UptimeS = time.Since(s.StartedAt).Seconds()
	})
	w.recordCompletion()
}

func (w *Worker) recordCompletion() {
	status := w.Status()
	c := eventstore.JobCompletion{
		JobID:      w.descriptor.JobID,
		CameraID:   w.descriptor.CameraID,
		Kind:       w.descriptor.Kind,
		Source:     w.descriptor.Source,
		EntryCount: status.EntryCount,
		ExitCount:  status.ExitCount,
		NetCount:   status.NetCount,
		FinalPhase: status.Phase,
		Error:      status.Error,
		StartedAt:  status.StartedAt,
		FinishedAt: time.Now(),
	}
	if err := w.deps.Store.RecordCompletion(context.Background(), c); err != nil {
		w.deps.Log.Error("jobworker: record completion failed", "error", err)
	}
	if w.deps.Metrics != nil {
		w.deps.Metrics.JobDuration.WithLabelValues(string(w.descriptor.Kind), string(status.Phase)).Observe(status.UptimeS)
	}
}

func (w *Worker) releaseResources() {
	if err := w.deps.Source.Close(); err != nil {
		w.deps.Log.Error("jobworker: source close failed", "error", err)
	}
	if w.deps.Encoder != nil {
		if err := w.deps.Encoder.Close(); err != nil {
			w.deps.Log.Error("jobworker: encoder close failed", "error", err)
		}
	}
	w.deps.Broadcaster.Close()
}

func applyDelta(current uint64, delta int64) uint64 {
	if delta >= 0 {
		return current + uint64(delta)
	}
	d := uint64(-delta)
	if d > current {
		return 0
	}
	return current - d
}

// encodeForDetect encodes the raw decoded frame for the detector call. It
// must not draw anything: the detector sees the frame before tracking,
// counting, or annotation run (step 5 precedes step 8 in the pipeline).
func encodeForDetect(frame types.Frame) []byte {
	jpeg, err := annotate.EncodeJPEG(frame, 85)
	if err != nil {
		return nil
	}
	return jpeg
}
