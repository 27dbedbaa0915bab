package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/Md-Abu-Omayer-Babu/Rickshaw-Detector-AI/internal/apperror"
	"github.com/Md-Abu-Omayer-Babu/Rickshaw-Detector-AI/internal/eventstore"
	"github.com/Md-Abu-Omayer-Babu/Rickshaw-Detector-AI/internal/types"
)

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func writeError(w http.ResponseWriter, err error) {
	code := apperror.CodeOf(err)
	var body errorBody
	body.Error.Code = string(code)
	body.Error.Message = err.Error()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apperror.HTTPStatus(code))
	_ = json.NewEncoder(w).Encode(body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type lineRequest struct {
	P1             types.PctPoint       `json:"p1"`
	P2             types.PctPoint       `json:"p2"`
	ReversalPolicy types.ReversalPolicy `json:"reversal_policy"`
}

type submitVideoResponse struct {
	JobID string `json:"job_id"`
}

// submitVideo handles POST /jobs/video: multipart upload `file`, query
// count_enabled/camera_id (+ optional JSON line config as a form field).
func (h *api) submitVideo(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(64 << 20); err != nil {
		writeError(w, apperror.Wrap(apperror.InvalidInput, "parse multipart form", err))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, apperror.Wrap(apperror.InvalidInput, "missing file field", err))
		return
	}
	defer file.Close()

	tmp, err := os.CreateTemp("", "upload-*-"+header.Filename)
	if err != nil {
		writeError(w, apperror.Wrap(apperror.Fatal, "create temp file", err))
		return
	}
	defer tmp.Close()
	if _, err := io.Copy(tmp, file); err != nil {
		writeError(w, apperror.Wrap(apperror.Fatal, "write temp file", err))
		return
	}

	countEnabled := r.URL.Query().Get("count_enabled") == "true"
	cameraID := r.URL.Query().Get("camera_id")
	if cameraID == "" {
		writeError(w, apperror.New(apperror.InvalidInput, "camera_id is required"))
		return
	}

	descriptor := types.JobDescriptor{
		Kind:         types.KindFileVideo,
		Source:       tmp.Name(),
		CameraID:     cameraID,
		CountEnabled: countEnabled,
		DetConf:      h.deps.DetConf,
		TargetClass:  h.deps.TargetClass,
		JPEGQuality:  h.deps.JPEGQuality,
		FPSCap:       h.deps.FPSCap,
		ThresholdPx:  h.deps.ThresholdPx,
	}

	if countEnabled {
		var lr lineRequest
		if raw := r.FormValue("line"); raw != "" {
			if err := json.Unmarshal([]byte(raw), &lr); err != nil {
				writeError(w, apperror.Wrap(apperror.InvalidInput, "parse line config", err))
				return
			}
		}
		if lr.ReversalPolicy == "" {
			writeError(w, apperror.New(apperror.InvalidInput, "reversal_policy is required when count_enabled"))
			return
		}
		descriptor.Line = types.LineConfig{LineID: cameraID + "-line", P1: lr.P1, P2: lr.P2, ReversalPolicy: lr.ReversalPolicy}
	}

	jobID, err := h.deps.Manager.Submit(descriptor)
	if err != nil {
		writeError(w, err)
		return
	}
	if h.deps.Metrics != nil {
		h.deps.Metrics.JobsSubmitted.WithLabelValues(string(types.KindFileVideo)).Inc()
	}
	writeJSON(w, http.StatusAccepted, submitVideoResponse{JobID: jobID})
}

type submitRTSPRequest struct {
	CameraID   string         `json:"camera_id"`
	RTSPURL    string         `json:"rtsp_url"`
	CameraName string         `json:"camera_name,omitempty"`
	Line       *lineRequest   `json:"line,omitempty"`
}

type submitRTSPResponse struct {
	JobID     string `json:"job_id"`
	StreamURL string `json:"stream_url"`
}

// submitRTSP handles POST /jobs/rtsp.
func (h *api) submitRTSP(w http.ResponseWriter, r *http.Request) {
	var req submitRTSPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperror.Wrap(apperror.InvalidInput, "decode request body", err))
		return
	}
	if req.CameraID == "" || req.RTSPURL == "" {
		writeError(w, apperror.New(apperror.InvalidInput, "camera_id and rtsp_url are required"))
		return
	}

	descriptor := types.JobDescriptor{
		Kind:        types.KindRTSP,
		Source:      req.RTSPURL,
		CameraID:    req.CameraID,
		DetConf:     h.deps.DetConf,
		TargetClass: h.deps.TargetClass,
		JPEGQuality: h.deps.JPEGQuality,
		FPSCap:      h.deps.FPSCap,
		ThresholdPx: h.deps.ThresholdPx,
	}
	if req.Line != nil {
		if req.Line.ReversalPolicy == "" {
			writeError(w, apperror.New(apperror.InvalidInput, "reversal_policy is required"))
			return
		}
		descriptor.CountEnabled = true
		descriptor.Line = types.LineConfig{LineID: req.CameraID + "-line", P1: req.Line.P1, P2: req.Line.P2, ReversalPolicy: req.Line.ReversalPolicy}
	}

	jobID, err := h.deps.Manager.Submit(descriptor)
	if err != nil {
		writeError(w, err)
		return
	}
	if h.deps.Metrics != nil {
		h.deps.Metrics.JobsSubmitted.WithLabelValues(string(types.KindRTSP)).Inc()
	}
	writeJSON(w, http.StatusAccepted, submitRTSPResponse{JobID: jobID, StreamURL: "/stream/" + jobID})
}

func (h *api) jobStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	status, err := h.deps.Manager.Status(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

type okResponse struct {
	OK bool `json:"ok"`
}

func (h *api) jobPause(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.deps.Manager.Pause(id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

func (h *api) jobResume(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.deps.Manager.Resume(id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

type stopResponse struct {
	OK     bool            `json:"ok"`
	Status types.JobStatus `json:"status"`
}

func (h *api) jobStop(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.deps.Manager.Stop(id); err != nil {
		writeError(w, err)
		return
	}
	status, _ := h.deps.Manager.Status(id)
	writeJSON(w, http.StatusOK, stopResponse{OK: true, Status: status})
}

type seekRequest struct {
	DeltaFrames int64 `json:"delta_frames"`
}

func (h *api) jobSeek(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req seekRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperror.Wrap(apperror.InvalidInput, "decode request body", err))
		return
	}
	if err := h.deps.Manager.Seek(id, req.DeltaFrames); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

func (h *api) stream(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if h.deps.Metrics != nil {
		h.deps.Metrics.StreamSubscribers.Inc()
		defer h.deps.Metrics.StreamSubscribers.Dec()
	}
	h.streamer.ServeJob(w, r, id)
}

type rtspTestRequest struct {
	RTSPURL string `json:"rtsp_url"`
}

type rtspTestResponse struct {
	OK     bool   `json:"ok"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
	FPS    float64 `json:"fps,omitempty"`
	Reason string `json:"reason,omitempty"`
}

func (h *api) rtspTest(w http.ResponseWriter, r *http.Request) {
	var req rtspTestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperror.Wrap(apperror.InvalidInput, "decode request body", err))
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	props, err := h.deps.Probe(ctx, req.RTSPURL)
	if err != nil {
		writeJSON(w, http.StatusOK, rtspTestResponse{OK: false, Reason: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, rtspTestResponse{OK: true, Width: props.Width, Height: props.Height, FPS: props.FPS})
}

func (h *api) listJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.deps.Manager.List())
}

func (h *api) listEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := eventstore.EventFilter{
		CameraID:  q.Get("camera_id"),
		Direction: types.Direction(q.Get("event_type")),
	}
	if since := q.Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			writeError(w, apperror.Wrap(apperror.InvalidInput, "parse since", err))
			return
		}
		filter.Since = t
	}
	if until := q.Get("until"); until != "" {
		t, err := time.Parse(time.RFC3339, until)
		if err != nil {
			writeError(w, apperror.Wrap(apperror.InvalidInput, "parse until", err))
			return
		}
		filter.Until = t
	}
	if limit := q.Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil {
			writeError(w, apperror.Wrap(apperror.InvalidInput, "parse limit", err))
			return
		}
		filter.Limit = n
	}

	events, err := h.deps.Store.QueryEvents(r.Context(), filter)
	if err != nil {
		writeError(w, apperror.Wrap(apperror.StoreError, "query events", err))
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (h *api) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}
