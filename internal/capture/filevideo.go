package capture

import (
	"context"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/Md-Abu-Omayer-Babu/Rickshaw-Detector-AI/internal/apperror"
	"github.com/Md-Abu-Omayer-Babu/Rickshaw-Detector-AI/internal/types"
)

// FileVideoSource decodes a FILE_VIDEO job source with gocv.VideoCapture. It
// is seekable and reports a finite TotalFrames.
type FileVideoSource struct {
	path string

	mu       sync.Mutex
	cap      *gocv.VideoCapture
	closed   bool
	seekTo   *uint64
	frameIdx uint64

	frames chan types.Frame
	errs   chan error
}

// NewFileVideoSource builds an unopened FileVideoSource for path.
func NewFileVideoSource(path string) *FileVideoSource {
	return &FileVideoSource{
		path:   path,
		frames: make(chan types.Frame, 4),
		errs:   make(chan error, 1),
	}
}

// Open decodes the file header and starts the decode goroutine.
func (s *FileVideoSource) Open(ctx context.Context) (types.StreamProperties, error) {
	cap, err := gocv.VideoCaptureFile(s.path)
	if err != nil {
		return types.StreamProperties{}, apperror.Wrap(apperror.SourceUnavailable, "open video file", err)
	}
	s.mu.Lock()
	s.cap = cap
	s.mu.Unlock()

	props := types.StreamProperties{
		Width:  int(cap.Get(gocv.VideoCaptureFrameWidth)),
		Height: int(cap.Get(gocv.VideoCaptureFrameHeight)),
		FPS:    cap.Get(gocv.VideoCaptureFPS),
	}
	if props.Width == 0 || props.Height == 0 {
		return types.StreamProperties{}, apperror.New(apperror.SourceUnavailable, "video file reports zero resolution")
	}

	go s.decodeLoop(ctx, props.Width, props.Height)
	return props, nil
}

func (s *FileVideoSource) decodeLoop(ctx context.Context, width, height int) {
	defer close(s.frames)

	img := gocv.NewMat()
	defer img.Close()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return
		}
		if s.seekTo != nil {
			target := *s.seekTo
			s.seekTo = nil
			s.cap.Set(gocv.VideoCapturePosFrames, float64(target))
			s.frameIdx = target
		}
		cap := s.cap
		s.mu.Unlock()

		if ok := cap.Read(&img); !ok || img.Empty() {
			return
		}

		rgb := gocv.NewMat()
		gocv.CvtColor(img, &rgb, gocv.ColorBGRToRGB)
		data, err := rgb.DataPtrUint8()
		if err != nil {
			rgb.Close()
			s.errs <- apperror.Wrap(apperror.SourceUnavailable, "read decoded frame bytes", err)
			return
		}
		buf := make([]byte, len(data))
		copy(buf, data)
		rgb.Close()

		s.mu.Lock()
		idx := s.frameIdx
		s.frameIdx++
		s.mu.Unlock()

		frame := types.Frame{
			Index:      idx,
			Width:      width,
			Height:     height,
			Data:       buf,
			CapturedAt: time.Now(),
		}

		select {
		case s.frames <- frame:
		case <-ctx.Done():
			return
		}
	}
}

func (s *FileVideoSource) Frames() <-chan types.Frame { return s.frames }
func (s *FileVideoSource) Errs() <-chan error          { return s.errs }
func (s *FileVideoSource) Seekable() bool              { return true }

// Seek requests the decode loop jump to frameIndex on its next iteration.
func (s *FileVideoSource) Seek(frameIndex uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.cap == nil {
		return apperror.New(apperror.InvalidState, "cannot seek a closed or unopened source")
	}
	s.seekTo = &frameIndex
	return nil
}

// TotalFrames returns the decoder's reported frame count.
func (s *FileVideoSource) TotalFrames() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cap == nil {
		return 0
	}
	n := s.cap.Get(gocv.VideoCaptureFrameCount)
	if n < 0 {
		return 0
	}
	return uint64(n)
}

// Close releases the decoder handle. Idempotent.
func (s *FileVideoSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.cap != nil {
		return s.cap.Close()
	}
	return nil
}
