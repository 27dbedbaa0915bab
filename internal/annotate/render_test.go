package annotate

import (
	"testing"

	"github.com/Md-Abu-Omayer-Babu/Rickshaw-Detector-AI/internal/types"
)

func TestRenderProducesNonEmptyJPEG(t *testing.T) {
	width, height := 64, 48
	data := make([]byte, width*height*3)
	frame := types.Frame{Index: 1, Width: width, Height: height, Data: data}

	line := types.LineConfig{
		LineID:         "l1",
		P1:             types.PctPoint{X: 0, Y: 50},
		P2:             types.PctPoint{X: 100, Y: 50},
		ReversalPolicy: types.FirstOnly,
	}

	out, err := Render(frame, Options{
		Tracks: []TrackLabel{{TrackID: 1, BBox: types.BBox{X1: 5, Y1: 5, X2: 20, Y2: 20}, Confidence: 0.8}},
		Line:   &line,
		EntryCount: 3, ExitCount: 1, FrameIndex: 1, JPEGQuality: 80,
	})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if len(out) == 0 {
		t.Fatal("expected non-empty jpeg output")
	}
	if out[0] != 0xFF || out[1] != 0xD8 {
		t.Fatalf("expected JPEG SOI marker, got %x %x", out[0], out[1])
	}
}

func TestColorForClassIsStableAndDistinctAcrossClasses(t *testing.T) {
	if colorForClass(2) != colorForClass(2) {
		t.Fatal("expected the same class to always map to the same color")
	}
	if colorForClass(0) == colorForClass(1) {
		t.Fatal("expected different classes to map to different colors")
	}
	if colorForClass(-1) != classColors[0] {
		t.Fatal("expected a negative class id to fall back to the first palette entry")
	}
}
