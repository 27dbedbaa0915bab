package mjpeg

import (
	"bufio"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/Md-Abu-Omayer-Babu/Rickshaw-Detector-AI/internal/broadcaster"
)

func testLog() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestServeJobWritesBitExactPart(t *testing.T) {
	bc := broadcaster.New()
	defer bc.Close()

	s := New(func(jobID string) (*broadcaster.Broadcaster, bool, error) {
		return bc, false, nil
	}, testLog())

	req := httptest.NewRequest(http.MethodGet, "/stream/job-1", nil)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		s.ServeJob(rec, req, "job-1")
		close(done)
	}()

	// give the handler time to subscribe before publishing.
	time.Sleep(20 * time.Millisecond)
	jpeg := []byte{0xFF, 0xD8, 0xAA, 0xBB, 0xFF, 0xD9}
	bc.Publish(jpeg, broadcaster.Meta{FrameIndex: 1})
	time.Sleep(20 * time.Millisecond)
	bc.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("ServeJob did not return after broadcaster close")
	}

	ct := rec.Header().Get("Content-Type")
	if !strings.HasPrefix(ct, "multipart/x-mixed-replace; boundary=") {
		t.Fatalf("unexpected content-type: %q", ct)
	}
	boundary := strings.TrimPrefix(ct, "multipart/x-mixed-replace; boundary=")
	if len(boundary) < 16 {
		t.Fatalf("boundary too short: %q", boundary)
	}

	body := rec.Body.String()
	reader := bufio.NewReader(strings.NewReader(body))

	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("read boundary line: %v", err)
	}
	if strings.TrimRight(line, "\r\n") != "--"+boundary {
		t.Fatalf("expected boundary line, got %q", line)
	}

	ctLine, _ := reader.ReadString('\n')
	if strings.TrimRight(ctLine, "\r\n") != "Content-Type: image/jpeg" {
		t.Fatalf("unexpected content-type header line: %q", ctLine)
	}

	clLine, _ := reader.ReadString('\n')
	clLine = strings.TrimRight(clLine, "\r\n")
	if !strings.HasPrefix(clLine, "Content-Length: ") {
		t.Fatalf("unexpected content-length line: %q", clLine)
	}
	n, err := strconv.Atoi(strings.TrimPrefix(clLine, "Content-Length: "))
	if err != nil || n != len(jpeg) {
		t.Fatalf("unexpected content-length: %q", clLine)
	}

	blank, _ := reader.ReadString('\n')
	if strings.TrimRight(blank, "\r\n") != "" {
		t.Fatalf("expected blank line separator, got %q", blank)
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(reader, payload); err != nil {
		t.Fatalf("read payload: %v", err)
	}
	if string(payload) != string(jpeg) {
		t.Fatalf("payload mismatch: got %x want %x", payload, jpeg)
	}
}

func TestServeJobReturns404WhenTerminalAndMissing(t *testing.T) {
	s := New(func(jobID string) (*broadcaster.Broadcaster, bool, error) {
		return nil, true, nil
	}, testLog())

	req := httptest.NewRequest(http.MethodGet, "/stream/gone", nil)
	rec := httptest.NewRecorder()
	s.ServeJob(rec, req, "gone")

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
