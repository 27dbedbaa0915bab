// Package annotate draws bounding boxes, the counting line, and running
// counts onto a decoded frame and encodes the result as JPEG.
package annotate

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"github.com/Md-Abu-Omayer-Babu/Rickshaw-Detector-AI/internal/apperror"
	"github.com/Md-Abu-Omayer-Babu/Rickshaw-Detector-AI/internal/types"
)

var (
	lineColor  = color.RGBA{R: 255, G: 0, B: 0, A: 255}
	textColor  = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	countColor = color.RGBA{R: 255, G: 255, B: 0, A: 255}
)

// classColors cycles a fixed palette by class id so boxes are visually
// grouped by detected class without needing a label file at draw time.
var classColors = []color.RGBA{
	{R: 0, G: 200, B: 0, A: 255},
	{R: 0, G: 128, B: 255, A: 255},
	{R: 255, G: 0, B: 255, A: 255},
	{R: 255, G: 140, B: 0, A: 255},
	{R: 0, G: 220, B: 220, A: 255},
	{R: 200, G: 200, B: 0, A: 255},
}

func colorForClass(classID int) color.RGBA {
	if classID < 0 {
		return classColors[0]
	}
	return classColors[classID%len(classColors)]
}

// TrackLabel is one drawable box with its track identity.
type TrackLabel struct {
	TrackID    int
	ClassID    int
	BBox       types.BBox
	Confidence float64
}

// Options controls what Render draws in addition to the raw frame.
type Options struct {
	Tracks      []TrackLabel
	Line        *types.LineConfig
	EntryCount  uint64
	ExitCount   uint64
	FrameIndex  uint64
	JPEGQuality int
}

// EncodeJPEG converts a raw RGB frame to JPEG with no drawing, for the
// detector-input path: SPEC_FULL §4.4 calls the detector on the raw frame
// (step 5), before tracking, counting, and annotation (step 8) have run.
// frame.Data must be Width*Height*3 bytes of packed RGB.
func EncodeJPEG(frame types.Frame, quality int) ([]byte, error) {
	mat, err := gocv.NewMatFromBytes(frame.Height, frame.Width, gocv.MatTypeCV8UC3, frame.Data)
	if err != nil {
		return nil, apperror.Wrap(apperror.Fatal, "wrap frame bytes as mat", err)
	}
	defer mat.Close()

	bgr := gocv.NewMat()
	defer bgr.Close()
	gocv.CvtColor(mat, &bgr, gocv.ColorRGBToBGR)

	if quality <= 0 {
		quality = 85
	}
	buf, err := gocv.IMEncodeWithParams(".jpg", bgr, []int{gocv.IMWriteJpegQuality, quality})
	if err != nil {
		return nil, apperror.Wrap(apperror.Fatal, "jpeg encode frame", err)
	}
	defer buf.Close()

	out := make([]byte, len(buf.GetBytes()))
	copy(out, buf.GetBytes())
	return out, nil
}

// Render draws boxes/line/counts onto an RGB frame and returns a JPEG.
// frame.Data must be Width*Height*3 bytes of packed RGB.
func Render(frame types.Frame, opts Options) ([]byte, error) {
	mat, err := gocv.NewMatFromBytes(frame.Height, frame.Width, gocv.MatTypeCV8UC3, frame.Data)
	if err != nil {
		return nil, apperror.Wrap(apperror.Fatal, "wrap frame bytes as mat", err)
	}
	defer mat.Close()

	bgr := gocv.NewMat()
	defer bgr.Close()
	gocv.CvtColor(mat, &bgr, gocv.ColorRGBToBGR)

	for _, t := range opts.Tracks {
		rect := image.Rect(t.BBox.X1, t.BBox.Y1, t.BBox.X2, t.BBox.Y2)
		gocv.Rectangle(&bgr, rect, colorForClass(t.ClassID), 2)
		label := fmt.Sprintf("#%d %.0f%%", t.TrackID, t.Confidence*100)
		gocv.PutText(&bgr, label, image.Pt(rect.Min.X, max0(rect.Min.Y-6)), gocv.FontHersheySimplex, 0.5, textColor, 1)
	}

	if opts.Line != nil {
		p1, p2 := opts.Line.Resolve(frame.Width, frame.Height)
		gocv.Line(&bgr, image.Pt(int(p1.X), int(p1.Y)), image.Pt(int(p2.X), int(p2.Y)), lineColor, 2)
	}

	countText := fmt.Sprintf("in:%d out:%d net:%d frame:%d", opts.EntryCount, opts.ExitCount,
		int64(opts.EntryCount)-int64(opts.ExitCount), opts.FrameIndex)
	gocv.PutText(&bgr, countText, image.Pt(10, 25), gocv.FontHersheySimplex, 0.6, countColor, 2)

	quality := opts.JPEGQuality
	if quality <= 0 {
		quality = 85
	}
	buf, err := gocv.IMEncodeWithParams(".jpg", bgr, []int{gocv.IMWriteJpegQuality, quality})
	if err != nil {
		return nil, apperror.Wrap(apperror.Fatal, "jpeg encode frame", err)
	}
	defer buf.Close()

	out := make([]byte, len(buf.GetBytes()))
	copy(out, buf.GetBytes())
	return out, nil
}

func max0(v int) int {
	if v < 0 {
		return 0
	}
	return v
}
