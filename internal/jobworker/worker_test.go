package jobworker

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/Md-Abu-Omayer-Babu/Rickshaw-Detector-AI/internal/broadcaster"
	"github.com/Md-Abu-Omayer-Babu/Rickshaw-Detector-AI/internal/eventstore"
	"github.com/Md-Abu-Omayer-Babu/Rickshaw-Detector-AI/internal/tracker"
	"github.com/Md-Abu-Omayer-Babu/Rickshaw-Detector-AI/internal/types"
)

// fakeSource replays a fixed list of frames then closes, like a short
// FILE_VIDEO clip.
type fakeSource struct {
	frames chan types.Frame
	errs   chan error
	total  uint64
}

func newFakeSource(n int, width, height int) *fakeSource {
	fs := &fakeSource{frames: make(chan types.Frame, n), errs: make(chan error), total: uint64(n)}
	for i := 0; i < n; i++ {
		fs.frames <- types.Frame{
			Index:      uint64(i),
			Width:      width,
			Height:     height,
			Data:       make([]byte, width*height*3),
			CapturedAt: time.Now(),
		}
	}
	close(fs.frames)
	return fs
}

func (f *fakeSource) Open(ctx context.Context) (types.StreamProperties, error) {
	return types.StreamProperties{Width: 64, Height: 48, FPS: 30}, nil
}
func (f *fakeSource) Frames() <-chan types.Frame { return f.frames }
func (f *fakeSource) Errs() <-chan error         { return f.errs }
func (f *fakeSource) Seekable() bool             { return false }
func (f *fakeSource) Seek(uint64) error          { return nil }
func (f *fakeSource) TotalFrames() uint64        { return f.total }
func (f *fakeSource) Close() error               { return nil }

// failingSource mirrors the real capture sources' shutdown pattern
// (filevideo.go, rtsp.go): it sends the terminal error to Errs() and then,
// in the very next statement of the same goroutine, closes Frames() — the
// two channels becoming ready essentially simultaneously. A worker that
// races the two channels instead of treating this as one event can resolve
// either way; a correct one always ends FAILED.
type failingSource struct {
	frames chan types.Frame
	errs   chan error
}

func newFailingSource() *failingSource {
	return &failingSource{frames: make(chan types.Frame), errs: make(chan error, 1)}
}

func (f *failingSource) Open(ctx context.Context) (types.StreamProperties, error) {
	go func() {
		f.errs <- errSourceGone
		close(f.frames)
	}()
	return types.StreamProperties{Width: 64, Height: 48, FPS: 30}, nil
}
func (f *failingSource) Frames() <-chan types.Frame { return f.frames }
func (f *failingSource) Errs() <-chan error         { return f.errs }
func (f *failingSource) Seekable() bool             { return false }
func (f *failingSource) Seek(uint64) error          { return nil }
func (f *failingSource) TotalFrames() uint64        { return 0 }
func (f *failingSource) Close() error               { return nil }

var errSourceGone = errSentinel("source gone")

type errSentinel string

func (e errSentinel) Error() string { return string(e) }

type fakeDetector struct{}

func (fakeDetector) Detect(ctx context.Context, jpeg []byte, width, height int) ([]types.Detection, error) {
	return nil, nil
}
func (fakeDetector) HealthCheck(ctx context.Context) error { return nil }
func (fakeDetector) Close() error                          { return nil }

type fakeStore struct {
	events      []types.CrossingEvent
	completions []eventstore.JobCompletion
}

func (s *fakeStore) RecordEvent(ctx context.Context, jobID string, ev types.CrossingEvent) error {
	s.events = append(s.events, ev)
	return nil
}
func (s *fakeStore) RecordCompletion(ctx context.Context, c eventstore.JobCompletion) error {
	s.completions = append(s.completions, c)
	return nil
}
func (s *fakeStore) ReadEvents(ctx context.Context, jobID string, limit int) ([]types.CrossingEvent, error) {
	return s.events, nil
}
func (s *fakeStore) QueryEvents(ctx context.Context, filter eventstore.EventFilter) ([]types.CrossingEvent, error) {
	return s.events, nil
}
func (s *fakeStore) Close() error { return nil }

func testLog() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWorkerRunsToCompletionOnSourceClose(t *testing.T) {
	src := newFakeSource(5, 64, 48)
	store := &fakeStore{}
	bc := broadcaster.New()

	w, err := New(types.JobDescriptor{
		JobID:       "job-1",
		Kind:        types.KindFileVideo,
		CameraID:    "cam-1",
		DetConf:     0.3,
		TargetClass: 0,
		JPEGQuality: 80,
	}, Deps{
		Source:      src,
		Detector:    fakeDetector{},
		Store:       store,
		Broadcaster: bc,
		Control:     NewControlChannel(8),
		Log:         testLog(),
	}, tracker.DefaultConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	done := make(chan struct{})
	go func() {
		w.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not finish in time")
	}

	status := w.Status()
	if status.Phase != types.PhaseCompleted {
		t.Fatalf("expected COMPLETED, got %s (error=%s)", status.Phase, status.Error)
	}
	if status.FramesIn != 5 {
		t.Fatalf("expected 5 frames in, got %d", status.FramesIn)
	}
	if len(store.completions) != 1 {
		t.Fatalf("expected one completion record, got %d", len(store.completions))
	}
}

func TestWorkerFailsWhenSourceReportsErrorAtClose(t *testing.T) {
	for i := 0; i < 20; i++ {
		src := newFailingSource()
		bc := broadcaster.New()

		w, err := New(types.JobDescriptor{
			JobID:    "job-fail",
			Kind:     types.KindFileVideo,
			CameraID: "cam-1",
		}, Deps{
			Source:      src,
			Detector:    fakeDetector{},
			Store:       &fakeStore{},
			Broadcaster: bc,
			Control:     NewControlChannel(8),
			Log:         testLog(),
		}, tracker.DefaultConfig())
		if err != nil {
			t.Fatalf("New: %v", err)
		}

		done := make(chan struct{})
		go func() {
			w.Run(context.Background())
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("worker did not finish in time")
		}

		if status := w.Status(); status.Phase != types.PhaseFailed {
			t.Fatalf("expected FAILED on error-then-close, got %s (iteration %d)", status.Phase, i)
		}
	}
}

func TestWorkerStopViaControlChannel(t *testing.T) {
	frames := make(chan types.Frame)
	src := &fakeSource{frames: frames, errs: make(chan error), total: 0}
	bc := broadcaster.New()
	ctrl := NewControlChannel(8)

	w, err := New(types.JobDescriptor{
		JobID:    "job-2",
		Kind:     types.KindRTSP,
		CameraID: "cam-2",
	}, Deps{
		Source:      src,
		Detector:    fakeDetector{},
		Store:       &fakeStore{},
		Broadcaster: bc,
		Control:     ctrl,
		Log:         testLog(),
	}, tracker.DefaultConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	done := make(chan struct{})
	go func() {
		w.Run(context.Background())
		close(done)
	}()

	ctrl.Send(ControlMsg{Kind: ControlStop})

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop in time")
	}

	if w.Status().Phase != types.PhaseStopped {
		t.Fatalf("expected STOPPED, got %s", w.Status().Phase)
	}
}
