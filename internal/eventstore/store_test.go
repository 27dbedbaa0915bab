package eventstore

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Md-Abu-Omayer-Babu/Rickshaw-Detector-AI/internal/types"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dir := t.TempDir()
	log := slog.New(slog.NewTextHandler(os.Stderr, nil))
	store, err := Open(filepath.Join(dir, "events.db"), filepath.Join(dir, "journal.ndjson"), log)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRecordAndReadEvents(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	ev := types.CrossingEvent{
		TrackID:    1,
		Direction:  types.DirEntry,
		FrameIndex: 42,
		Timestamp:  time.Now(),
		Confidence: 0.9,
		BBox:       types.BBox{X1: 0, Y1: 0, X2: 10, Y2: 10},
		CameraID:   "cam1",
		LineID:     "line1",
	}
	if err := store.RecordEvent(ctx, "job1", ev); err != nil {
		t.Fatalf("RecordEvent: %v", err)
	}

	got, err := store.ReadEvents(ctx, "job1", 10)
	if err != nil {
		t.Fatalf("ReadEvents: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 event, got %d", len(got))
	}
	if got[0].TrackID != 1 || got[0].Direction != types.DirEntry {
		t.Fatalf("unexpected event: %+v", got[0])
	}
}

func TestRecordCompletionUpsert(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	c := JobCompletion{
		JobID:      "job1",
		CameraID:   "cam1",
		Kind:       types.KindFileVideo,
		Source:     "video.mp4",
		EntryCount: 3,
		ExitCount:  1,
		NetCount:   2,
		FinalPhase: types.PhaseCompleted,
		StartedAt:  time.Now().Add(-time.Minute),
		FinishedAt: time.Now(),
	}
	if err := store.RecordCompletion(ctx, c); err != nil {
		t.Fatalf("RecordCompletion: %v", err)
	}
	c.EntryCount = 5
	if err := store.RecordCompletion(ctx, c); err != nil {
		t.Fatalf("RecordCompletion (update): %v", err)
	}
}

func TestReadEventsEmptyForUnknownJob(t *testing.T) {
	store := newTestStore(t)
	got, err := store.ReadEvents(context.Background(), "does-not-exist", 0)
	if err != nil {
		t.Fatalf("ReadEvents: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no events, got %d", len(got))
	}
}

// TestRecordEventJournalsAfterRetriesExhausted forces every insert attempt to
// fail (closed db handle) and checks the event lands in the journal instead
// of surfacing an error to the caller, per the retry-then-journal policy.
func TestRecordEventJournalsAfterRetriesExhausted(t *testing.T) {
	store := newTestStore(t)
	if err := store.db.Close(); err != nil {
		t.Fatalf("db.Close: %v", err)
	}

	ev := types.CrossingEvent{
		TrackID:    7,
		Direction:  types.DirExit,
		FrameIndex: 3,
		Timestamp:  time.Now(),
		Confidence: 0.5,
		CameraID:   "cam2",
		LineID:     "line2",
	}
	if err := store.RecordEvent(context.Background(), "job2", ev); err != nil {
		t.Fatalf("RecordEvent: expected journal fallback, got error: %v", err)
	}

	data, err := os.ReadFile(store.journalPath)
	if err != nil {
		t.Fatalf("read journal: %v", err)
	}
	if len(data) == 0 {
		t.Fatalf("expected journal entry, file is empty")
	}
}

func TestStoreBackoffGrowsExponentially(t *testing.T) {
	if storeBackoff(1) >= storeBackoff(2) || storeBackoff(2) >= storeBackoff(3) {
		t.Fatalf("expected strictly increasing backoff: %v %v %v", storeBackoff(1), storeBackoff(2), storeBackoff(3))
	}
}
