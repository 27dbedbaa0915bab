package jobmanager

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/Md-Abu-Omayer-Babu/Rickshaw-Detector-AI/internal/eventstore"
	"github.com/Md-Abu-Omayer-Babu/Rickshaw-Detector-AI/internal/jobworker"
	"github.com/Md-Abu-Omayer-Babu/Rickshaw-Detector-AI/internal/tracker"
	"github.com/Md-Abu-Omayer-Babu/Rickshaw-Detector-AI/internal/types"
)

type fakeSource struct {
	frames chan types.Frame
	errs   chan error
}

func newFakeSource() *fakeSource {
	return &fakeSource{frames: make(chan types.Frame), errs: make(chan error)}
}

func (f *fakeSource) Open(ctx context.Context) (types.StreamProperties, error) {
	return types.StreamProperties{Width: 64, Height: 48, FPS: 15}, nil
}
func (f *fakeSource) Frames() <-chan types.Frame { return f.frames }
func (f *fakeSource) Errs() <-chan error         { return f.errs }
func (f *fakeSource) Seekable() bool             { return false }
func (f *fakeSource) Seek(uint64) error          { return nil }
func (f *fakeSource) TotalFrames() uint64        { return 0 }
func (f *fakeSource) Close() error               { return nil }

// failingSource mirrors the real capture sources' shutdown pattern
// (internal/capture's filevideo.go and rtsp.go): it writes the terminal
// error to Errs() and closes Frames() as the next statement of the same
// goroutine, so the two channels become ready together.
type failingSource struct {
	frames chan types.Frame
	errs   chan error
}

func newFailingSource() *failingSource {
	return &failingSource{frames: make(chan types.Frame), errs: make(chan error, 1)}
}

func (f *failingSource) Open(ctx context.Context) (types.StreamProperties, error) {
	go func() {
		f.errs <- errFakeSourceGone
		close(f.frames)
	}()
	return types.StreamProperties{Width: 64, Height: 48, FPS: 15}, nil
}
func (f *failingSource) Frames() <-chan types.Frame { return f.frames }
func (f *failingSource) Errs() <-chan error         { return f.errs }
func (f *failingSource) Seekable() bool             { return false }
func (f *failingSource) Seek(uint64) error          { return nil }
func (f *failingSource) TotalFrames() uint64        { return 0 }
func (f *failingSource) Close() error               { return nil }

type fakeSourceErr string

func (e fakeSourceErr) Error() string { return string(e) }

const errFakeSourceGone fakeSourceErr = "source gone"

type fakeDetector struct{}

func (fakeDetector) Detect(ctx context.Context, jpeg []byte, w, h int) ([]types.Detection, error) {
	return nil, nil
}
func (fakeDetector) HealthCheck(ctx context.Context) error { return nil }
func (fakeDetector) Close() error                          { return nil }

type fakeStore struct{}

func (fakeStore) RecordEvent(ctx context.Context, jobID string, ev types.CrossingEvent) error {
	return nil
}
func (fakeStore) RecordCompletion(ctx context.Context, c eventstore.JobCompletion) error {
	return nil
}
func (fakeStore) ReadEvents(ctx context.Context, jobID string, limit int) ([]types.CrossingEvent, error) {
	return nil, nil
}
func (fakeStore) QueryEvents(ctx context.Context, filter eventstore.EventFilter) ([]types.CrossingEvent, error) {
	return nil, nil
}
func (fakeStore) Close() error { return nil }

func testLog() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestManager(t *testing.T, maxJobs int) *Manager {
	t.Helper()
	return New(Config{MaxConcurrentJobs: maxJobs, RetentionPeriod: time.Hour, TrackerConfig: tracker.DefaultConfig()},
		fakeDetector{}, fakeStore{},
		func(types.JobDescriptor) (jobworker.Source, error) { return newFakeSource(), nil },
		func(types.JobDescriptor) (jobworker.VideoEncoder, error) { return nil, nil },
		testLog())
}

func TestSubmitEnforcesConcurrencyCap(t *testing.T) {
	m := newTestManager(t, 1)
	defer m.Close(time.Second)

	id1, err := m.Submit(types.JobDescriptor{Kind: types.KindRTSP, CameraID: "cam-a"})
	if err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if id1 == "" {
		t.Fatal("expected non-empty job id")
	}

	_, err = m.Submit(types.JobDescriptor{Kind: types.KindRTSP, CameraID: "cam-b"})
	if err == nil {
		t.Fatal("expected RESOURCE_EXHAUSTED on second submit")
	}
}

func TestSubmitRejectsDuplicateCamera(t *testing.T) {
	m := newTestManager(t, 4)
	defer m.Close(time.Second)

	if _, err := m.Submit(types.JobDescriptor{Kind: types.KindRTSP, CameraID: "cam-a"}); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if _, err := m.Submit(types.JobDescriptor{Kind: types.KindRTSP, CameraID: "cam-a"}); err == nil {
		t.Fatal("expected ALREADY_EXISTS for duplicate camera_id")
	}
}

func TestStopTransitionsJobToTerminal(t *testing.T) {
	m := newTestManager(t, 4)
	defer m.Close(time.Second)

	id, err := m.Submit(types.JobDescriptor{Kind: types.KindRTSP, CameraID: "cam-a"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := m.Stop(id); err != nil {
		t.Fatalf("stop: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		status, err := m.Status(id)
		if err != nil {
			t.Fatalf("status: %v", err)
		}
		if status.Phase.Terminal() {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("job did not reach terminal phase, last=%s", status.Phase)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestSubmitFailsDeterministicallyWhenSourceErrorsAtClose(t *testing.T) {
	for i := 0; i < 10; i++ {
		m := New(Config{MaxConcurrentJobs: 4, RetentionPeriod: time.Hour, TrackerConfig: tracker.DefaultConfig()},
			fakeDetector{}, fakeStore{},
			func(types.JobDescriptor) (jobworker.Source, error) { return newFailingSource(), nil },
			func(types.JobDescriptor) (jobworker.VideoEncoder, error) { return nil, nil },
			testLog())

		id, err := m.Submit(types.JobDescriptor{Kind: types.KindFileVideo, CameraID: "cam-a", Source: "clip.mp4"})
		if err != nil {
			t.Fatalf("submit: %v", err)
		}

		deadline := time.After(2 * time.Second)
		var status types.JobStatus
		for {
			status, err = m.Status(id)
			if err != nil {
				t.Fatalf("status: %v", err)
			}
			if status.Phase.Terminal() {
				break
			}
			select {
			case <-deadline:
				t.Fatalf("job did not reach terminal phase, last=%s", status.Phase)
			case <-time.After(5 * time.Millisecond):
			}
		}
		if status.Phase != types.PhaseFailed {
			t.Fatalf("expected FAILED on error-then-close, got %s (iteration %d)", status.Phase, i)
		}
		m.Close(time.Second)
	}
}

func TestStatusNotFound(t *testing.T) {
	m := newTestManager(t, 4)
	defer m.Close(time.Second)
	if _, err := m.Status("does-not-exist"); err == nil {
		t.Fatal("expected NOT_FOUND")
	}
}
