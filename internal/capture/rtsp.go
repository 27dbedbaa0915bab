package capture

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/Md-Abu-Omayer-Babu/Rickshaw-Detector-AI/internal/apperror"
	"github.com/Md-Abu-Omayer-Babu/Rickshaw-Detector-AI/internal/types"
)

// RTSPSource is a continuous, non-seekable RTSP_STREAM source built on a
// software-decode-only GStreamer pipeline (rtspsrc -> rtph264depay ->
// avdec_h264 -> videoconvert -> videoscale -> videorate -> capsfilter ->
// appsink). Hardware acceleration is intentionally not exposed.
type RTSPSource struct {
	url       string
	width     int
	height    int
	fpsCap    float64
	reconnect ReconnectConfig
	log       *slog.Logger

	mu       sync.Mutex
	pipeline *gst.Pipeline
	appsink  *app.Sink
	closed   bool
	frameSeq uint64

	frames chan types.Frame
	errs   chan error

	reconnectState ReconnectState
	errCounters    errorCounters
}

type errorCounters struct {
	network, codec, auth, unknown uint64
}

// NewRTSPSource builds an unopened RTSPSource. fpsCap of 0 means uncapped
// (the pipeline still applies a minimal videorate stage for hot-reload
// symmetry with the file-video path).
func NewRTSPSource(url string, width, height int, fpsCap float64, reconnect ReconnectConfig, log *slog.Logger) *RTSPSource {
	return &RTSPSource{
		url:       url,
		width:     width,
		height:    height,
		fpsCap:    fpsCap,
		reconnect: reconnect,
		log:       log,
		frames:    make(chan types.Frame, 4),
		errs:      make(chan error, 1),
	}
}

// Open builds the pipeline, starts it, waits for the first frame (via
// RunWithReconnect), and launches the bus-monitor + reconnect supervisor
// goroutine.
func (s *RTSPSource) Open(ctx context.Context) (types.StreamProperties, error) {
	first := make(chan struct{}, 1)
	connect := func(ctx context.Context) error {
		return s.startPipeline(ctx, first)
	}

	if err := RunWithReconnect(ctx, connect, s.reconnect, &s.reconnectState, s.log); err != nil {
		return types.StreamProperties{}, apperror.Wrap(apperror.SourceUnavailable, "rtsp connect", err)
	}

	select {
	case <-first:
	case <-ctx.Done():
		return types.StreamProperties{}, ctx.Err()
	case <-time.After(10 * time.Second):
		return types.StreamProperties{}, apperror.New(apperror.SourceUnavailable, "timed out waiting for first rtsp frame")
	}

	go s.superviseLoop(ctx)

	return types.StreamProperties{Width: s.width, Height: s.height, FPS: s.fpsCap}, nil
}

func (s *RTSPSource) startPipeline(ctx context.Context, first chan struct{}) error {
	gst.Init(nil)

	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return fmt.Errorf("create pipeline: %w", err)
	}

	rtspsrc, err := gst.NewElement("rtspsrc")
	if err != nil {
		return fmt.Errorf("create rtspsrc: %w", err)
	}
	rtspsrc.SetProperty("location", s.url)
	rtspsrc.SetProperty("protocols", 4) // TCP only
	rtspsrc.SetProperty("latency", 200)

	depay, err := gst.NewElement("rtph264depay")
	if err != nil {
		return fmt.Errorf("create rtph264depay: %w", err)
	}

	decoder, err := gst.NewElement("avdec_h264")
	if err != nil {
		return fmt.Errorf("create avdec_h264: %w", err)
	}
	decoder.SetProperty("max-threads", 0)

	converter, err := gst.NewElement("videoconvert")
	if err != nil {
		return fmt.Errorf("create videoconvert: %w", err)
	}

	scaler, err := gst.NewElement("videoscale")
	if err != nil {
		return fmt.Errorf("create videoscale: %w", err)
	}

	videorate, err := gst.NewElement("videorate")
	if err != nil {
		return fmt.Errorf("create videorate: %w", err)
	}
	videorate.SetProperty("drop-only", true)
	videorate.SetProperty("skip-to-first", true)

	capsfilter, err := gst.NewElement("capsfilter")
	if err != nil {
		return fmt.Errorf("create capsfilter: %w", err)
	}
	capsfilter.SetProperty("caps", gst.NewCapsFromString(buildFramerateCaps(s.width, s.height, s.fpsCap)))

	appsink, err := app.NewAppSink()
	if err != nil {
		return fmt.Errorf("create appsink: %w", err)
	}
	appsink.SetProperty("sync", false)
	appsink.SetProperty("max-buffers", 1)
	appsink.SetProperty("drop", true)

	pipeline.AddMany(rtspsrc, depay, decoder, converter, scaler, videorate, capsfilter, appsink.Element)
	if err := gst.ElementLinkMany(depay, decoder, converter, scaler, videorate, capsfilter, appsink.Element); err != nil {
		return fmt.Errorf("link pipeline: %w", err)
	}

	rtspsrc.Connect("pad-added", func(_ *gst.Element, pad *gst.Pad) {
		sinkPad := depay.GetStaticPad("sink")
		if sinkPad == nil {
			s.log.Error("capture: no sink pad on rtph264depay")
			return
		}
		if ret := pad.Link(sinkPad); ret != gst.PadLinkOK {
			s.log.Error("capture: failed to link rtspsrc pad", "ret", ret)
		}
	})

	var once sync.Once
	appsink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: func(sink *app.Sink) gst.FlowReturn {
			s.onNewSample(sink)
			once.Do(func() { first <- struct{}{} })
			return gst.FlowOK
		},
	})

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		return fmt.Errorf("set pipeline playing: %w", err)
	}

	s.mu.Lock()
	s.pipeline = pipeline
	s.appsink = appsink
	s.mu.Unlock()

	return nil
}

func (s *RTSPSource) onNewSample(sink *app.Sink) {
	sample := sink.PullSample()
	if sample == nil {
		return
	}
	buffer := sample.GetBuffer()
	if buffer == nil {
		return
	}
	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	if len(data) == 0 {
		buffer.Unmap()
		return
	}
	frameData := make([]byte, len(data))
	copy(frameData, data)
	buffer.Unmap()

	idx := atomic.AddUint64(&s.frameSeq, 1) - 1
	frame := types.Frame{
		Index:      idx,
		Width:      s.width,
		Height:     s.height,
		Data:       frameData,
		CapturedAt: time.Now(),
	}
	select {
	case s.frames <- frame:
	default:
		// keep-newest: an unread stale frame is discarded in favor of this one
		select {
		case <-s.frames:
		default:
		}
		s.frames <- frame
	}
}

// superviseLoop watches the pipeline bus for EOS/Error and drives
// reconnection with a fixed delay between attempts.
func (s *RTSPSource) superviseLoop(ctx context.Context) {
	for {
		err := s.monitorBus(ctx)
		if err == nil {
			return // graceful shutdown
		}

		s.log.Error("capture: rtsp pipeline error, reconnecting", "error", err)
		s.teardownPipeline()

		first := make(chan struct{}, 1)
		connect := func(ctx context.Context) error {
			return s.startPipeline(ctx, first)
		}
		if err := RunWithReconnect(ctx, connect, s.reconnect, &s.reconnectState, s.log); err != nil {
			if ctx.Err() != nil {
				return // graceful shutdown during reconnect
			}
			s.errs <- apperror.Wrap(apperror.SourceUnavailable, "rtsp reconnect exhausted", err)
			close(s.frames)
			return
		}
		select {
		case <-first:
		case <-ctx.Done():
			return
		}
	}
}

func (s *RTSPSource) monitorBus(ctx context.Context) error {
	s.mu.Lock()
	pipeline := s.pipeline
	s.mu.Unlock()
	if pipeline == nil {
		return fmt.Errorf("capture: pipeline not initialized")
	}
	bus := pipeline.GetPipelineBus()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}

		switch msg.Type() {
		case gst.MessageEOS:
			return fmt.Errorf("capture: end of stream")
		case gst.MessageError:
			gerr := msg.ParseError()
			category := classifyGStreamerError(gerr)
			switch category {
			case errCategoryNetwork:
				atomic.AddUint64(&s.errCounters.network, 1)
			case errCategoryCodec:
				atomic.AddUint64(&s.errCounters.codec, 1)
			case errCategoryAuth:
				atomic.AddUint64(&s.errCounters.auth, 1)
			default:
				atomic.AddUint64(&s.errCounters.unknown, 1)
			}
			return fmt.Errorf("capture: pipeline error [%s]: %s", category, gerr.Error())
		case gst.MessageStateChanged:
			if msg.Source() == pipeline.GetName() {
				_, newState := msg.ParseStateChanged()
				if newState == gst.StatePlaying {
					s.reconnectState.Attempts = 0
				}
			}
		}
	}
}

func (s *RTSPSource) teardownPipeline() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pipeline != nil {
		s.pipeline.SetState(gst.StateNull)
		s.pipeline = nil
	}
}

func (s *RTSPSource) Frames() <-chan types.Frame { return s.frames }
func (s *RTSPSource) Errs() <-chan error          { return s.errs }
func (s *RTSPSource) Seekable() bool              { return false }

func (s *RTSPSource) Seek(uint64) error {
	return apperror.New(apperror.InvalidState, "rtsp streams are not seekable")
}

func (s *RTSPSource) TotalFrames() uint64 { return 0 }

// Close stops and releases the pipeline. Idempotent.
func (s *RTSPSource) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	pipeline := s.pipeline
	s.pipeline = nil
	s.mu.Unlock()

	if pipeline != nil {
		return pipeline.SetState(gst.StateNull)
	}
	return nil
}

func buildFramerateCaps(width, height int, fps float64) string {
	if fps <= 0 {
		return fmt.Sprintf("video/x-raw,format=RGB,width=%d,height=%d", width, height)
	}
	numerator, denominator := 1, 1
	if fps < 1.0 {
		denominator = int(1.0 / fps)
	} else {
		numerator = int(fps)
	}
	return fmt.Sprintf("video/x-raw,format=RGB,width=%d,height=%d,framerate=%d/%d", width, height, numerator, denominator)
}

type errorCategory int

const (
	errCategoryUnknown errorCategory = iota
	errCategoryNetwork
	errCategoryCodec
	errCategoryAuth
)

func (e errorCategory) String() string {
	switch e {
	case errCategoryNetwork:
		return "network"
	case errCategoryCodec:
		return "codec"
	case errCategoryAuth:
		return "auth"
	default:
		return "unknown"
	}
}

func classifyGStreamerError(gerr *gst.GError) errorCategory {
	if gerr == nil {
		return errCategoryUnknown
	}
	combined := gerr.Error() + " " + gerr.DebugString()
	if containsAny(combined, "unauthorized", "401", "403", "forbidden", "authentication", "credentials") {
		return errCategoryAuth
	}
	if containsAny(combined, "codec", "decode", "format", "negotiation", "caps", "h264", "not negotiated", "missing plugin") {
		return errCategoryCodec
	}
	if containsAny(combined, "connection", "timeout", "unreachable", "network", "dns", "socket", "tcp", "rtsp", "could not connect") {
		return errCategoryNetwork
	}
	return errCategoryUnknown
}

func containsAny(haystack string, needles ...string) bool {
	lower := strings.ToLower(haystack)
	for _, n := range needles {
		if strings.Contains(lower, n) {
			return true
		}
	}
	return false
}
