// Package mjpeg implements the MJPEGStreamer HTTP adapter: it subscribes
// to a job's FrameBroadcaster and writes a bit-exact
// multipart/x-mixed-replace byte stream to the response.
package mjpeg

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/Md-Abu-Omayer-Babu/Rickshaw-Detector-AI/internal/apperror"
	"github.com/Md-Abu-Omayer-Babu/Rickshaw-Detector-AI/internal/broadcaster"
)

// Lookup resolves a job id to its broadcaster and whether the job has
// already reached a terminal phase (used to distinguish "never existed" /
// "gone after retention" from "still running, briefly no frame yet").
type Lookup func(jobID string) (bc *broadcaster.Broadcaster, terminal bool, err error)

// Streamer serves the MJPEG endpoint for any number of jobs.
type Streamer struct {
	lookup Lookup
	log    *slog.Logger
}

// New builds a Streamer that resolves job ids via lookup.
func New(lookup Lookup, log *slog.Logger) *Streamer {
	return &Streamer{lookup: lookup, log: log}
}

// ServeJob writes the MJPEG stream for jobID to w until the client
// disconnects, the request context is cancelled, or the broadcaster ends.
func (s *Streamer) ServeJob(w http.ResponseWriter, r *http.Request, jobID string) {
	bc, terminal, err := s.lookup(jobID)
	if err != nil {
		code := apperror.CodeOf(err)
		http.Error(w, err.Error(), apperror.HTTPStatus(code))
		return
	}
	if bc == nil {
		if terminal {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		http.Error(w, "stream not ready", http.StatusServiceUnavailable)
		return
	}

	boundary, err := newBoundary()
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", fmt.Sprintf("multipart/x-mixed-replace; boundary=%s", boundary))
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)

	sub := bc.Subscribe(r.Context())
	defer sub.Unsubscribe()

	for {
		frame, _, status := sub.Next(r.Context())
		switch status {
		case broadcaster.OK:
			if err := writePart(w, boundary, frame); err != nil {
				s.log.Debug("mjpeg: subscriber write failed, disconnecting", "job_id", jobID, "error", err)
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		case broadcaster.Ended, broadcaster.Canceled:
			return
		}
	}
}

func writePart(w http.ResponseWriter, boundary string, jpeg []byte) error {
	header := fmt.Sprintf("--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", boundary, len(jpeg))
	if _, err := w.Write([]byte(header)); err != nil {
		return err
	}
	if _, err := w.Write(jpeg); err != nil {
		return err
	}
	_, err := w.Write([]byte("\r\n"))
	return err
}

// newBoundary generates a fresh random ASCII boundary token of at least 16
// characters, per response, per SPEC_FULL §4.6.
func newBoundary() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "mjpegboundary" + hex.EncodeToString(buf), nil
}
