package capture

import (
	"sync"

	"gocv.io/x/gocv"

	"github.com/Md-Abu-Omayer-Babu/Rickshaw-Detector-AI/internal/apperror"
)

// FileWriter re-encodes annotated BGR frames to an mp4 file for FILE_VIDEO
// jobs that request an output_path.
type FileWriter struct {
	mu     sync.Mutex
	writer *gocv.VideoWriter
	closed bool
}

// NewFileWriter opens path for writing at the given fps/resolution.
func NewFileWriter(path string, fps float64, width, height int) (*FileWriter, error) {
	w, err := gocv.VideoWriterFile(path, "mp4v", fps, width, height, true)
	if err != nil {
		return nil, apperror.Wrap(apperror.Fatal, "open output video writer", err)
	}
	return &FileWriter{writer: w}, nil
}

// WriteJPEG decodes a JPEG-encoded annotated frame and appends it.
func (w *FileWriter) WriteJPEG(jpeg []byte) error {
	mat, err := gocv.IMDecode(jpeg, gocv.IMReadColor)
	if err != nil {
		return apperror.Wrap(apperror.Fatal, "decode annotated frame for re-encode", err)
	}
	defer mat.Close()

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return apperror.New(apperror.InvalidState, "write to closed output file")
	}
	return w.writer.Write(mat)
}

// Close finalizes the output file. Idempotent.
func (w *FileWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	return w.writer.Close()
}
