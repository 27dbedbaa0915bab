// Package httpapi implements the REST control surface and the MJPEG/websocket
// adapters described by the external interfaces section: job submission and
// control, status and event listing, an RTSP pre-flight probe, health, and
// Prometheus metrics.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/Md-Abu-Omayer-Babu/Rickshaw-Detector-AI/internal/broadcaster"
	"github.com/Md-Abu-Omayer-Babu/Rickshaw-Detector-AI/internal/eventstore"
	"github.com/Md-Abu-Omayer-Babu/Rickshaw-Detector-AI/internal/jobmanager"
	"github.com/Md-Abu-Omayer-Babu/Rickshaw-Detector-AI/internal/metrics"
	"github.com/Md-Abu-Omayer-Babu/Rickshaw-Detector-AI/internal/mjpeg"
	"github.com/Md-Abu-Omayer-Babu/Rickshaw-Detector-AI/internal/types"
)

// RTSPProbe opens url just long enough to observe stream properties, then
// closes it, for the /rtsp/test pre-flight endpoint.
type RTSPProbe func(ctx context.Context, url string) (types.StreamProperties, error)

// Deps bundles everything the router's handlers need.
type Deps struct {
	Manager     *jobmanager.Manager
	Store       eventstore.EventStore
	Probe       RTSPProbe
	Metrics     *metrics.Metrics
	Log         *slog.Logger
	JPEGQuality int
	DetConf     float64
	TargetClass int
	FPSCap      float64
	ThresholdPx float64
}

type api struct {
	deps     Deps
	streamer *mjpeg.Streamer
}

// NewRouter builds the process's HTTP mux with every route from the
// external-interfaces surface wired to its handler.
func NewRouter(deps Deps) http.Handler {
	h := &api{deps: deps}
	h.streamer = mjpeg.New(h.streamLookup, deps.Log)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /jobs/video", h.submitVideo)
	mux.HandleFunc("POST /jobs/rtsp", h.submitRTSP)
	mux.HandleFunc("GET /jobs/{id}", h.jobStatus)
	mux.HandleFunc("POST /jobs/{id}/pause", h.jobPause)
	mux.HandleFunc("POST /jobs/{id}/resume", h.jobResume)
	mux.HandleFunc("POST /jobs/{id}/stop", h.jobStop)
	mux.HandleFunc("POST /jobs/{id}/seek", h.jobSeek)
	mux.HandleFunc("GET /stream/{id}", h.stream)
	mux.HandleFunc("POST /rtsp/test", h.rtspTest)
	mux.HandleFunc("GET /jobs", h.listJobs)
	mux.HandleFunc("GET /events", h.listEvents)
	mux.HandleFunc("GET /healthz", h.healthz)
	mux.HandleFunc("GET /ws/jobs", h.wsJobs)
	if deps.Metrics != nil {
		mux.Handle("GET /metrics", deps.Metrics.Handler())
	}

	return withRequestMetrics(deps.Metrics, mux)
}

// streamLookup adapts jobmanager.Manager to mjpeg.Lookup: a job that is not
// in the registry surfaces as terminal with no broadcaster, so the streamer
// answers 404; a retained terminal job returns its closed broadcaster, so a
// subscriber's stream ends at once instead of hanging.
func (h *api) streamLookup(jobID string) (*broadcaster.Broadcaster, bool, error) {
	status, err := h.deps.Manager.Status(jobID)
	if err != nil {
		return nil, true, nil
	}
	bc, err := h.deps.Manager.Broadcaster(jobID)
	if err != nil {
		return nil, true, nil
	}
	return bc, status.Phase.Terminal(), nil
}

func withRequestMetrics(m *metrics.Metrics, next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		route := r.Pattern
		if route == "" {
			route = r.URL.Path
		}
		m.APIRequests.WithLabelValues(route, http.StatusText(sw.status)).Inc()
		m.APILatency.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
