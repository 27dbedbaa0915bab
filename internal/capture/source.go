// Package capture provides the two frame sources a JobWorker can drive: a
// seekable decoded file source (gocv.VideoCapture) and a continuous RTSP
// source (a software-decode GStreamer pipeline).
package capture

import (
	"context"

	"github.com/Md-Abu-Omayer-Babu/Rickshaw-Detector-AI/internal/types"
)

// Source produces a stream of decoded RGB frames.
type Source interface {
	// Open starts the source. For FILE_VIDEO this decodes the header; for
	// RTSP_STREAM this brings up the pipeline and blocks until the first
	// frame or an error.
	Open(ctx context.Context) (types.StreamProperties, error)

	// Frames returns a channel of decoded frames. FileVideoSource closes it
	// when its decode loop returns; RTSPSource closes it only once its
	// reconnect attempts are exhausted, not on Close or cancellation.
	Frames() <-chan types.Frame

	// Errs surfaces terminal source errors (decode failure, disconnect
	// after exhausting reconnect attempts).
	Errs() <-chan error

	// Seekable reports whether Seek is supported.
	Seekable() bool

	// Seek jumps to an absolute frame index. Only valid when Seekable.
	Seek(frameIndex uint64) error

	// TotalFrames returns the total decodable frame count, or 0 if unknown
	// (always 0 for RTSP_STREAM).
	TotalFrames() uint64

	// Close releases any underlying resources (file handle, GStreamer
	// pipeline). Idempotent.
	Close() error
}
