// Package jobmanager implements C5, the JobManager: the process-wide
// registry that submits, steers, and retires JobWorkers, enforces the
// concurrent-job cap and RTSP camera_id uniqueness, and fans out status
// changes to any number of subscribers (e.g. a websocket feed).
package jobmanager

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Md-Abu-Omayer-Babu/Rickshaw-Detector-AI/internal/apperror"
	"github.com/Md-Abu-Omayer-Babu/Rickshaw-Detector-AI/internal/broadcaster"
	"github.com/Md-Abu-Omayer-Babu/Rickshaw-Detector-AI/internal/detector"
	"github.com/Md-Abu-Omayer-Babu/Rickshaw-Detector-AI/internal/eventstore"
	"github.com/Md-Abu-Omayer-Babu/Rickshaw-Detector-AI/internal/jobworker"
	"github.com/Md-Abu-Omayer-Babu/Rickshaw-Detector-AI/internal/metrics"
	"github.com/Md-Abu-Omayer-Babu/Rickshaw-Detector-AI/internal/tracker"
	"github.com/Md-Abu-Omayer-Babu/Rickshaw-Detector-AI/internal/types"
)

// SourceFactory builds a fresh jobworker.Source for a descriptor. The
// manager never talks to gocv/gst directly; cmd/sentryserver supplies the
// concrete factory (capture.NewFileVideoSource / capture.NewRTSPSource).
type SourceFactory func(types.JobDescriptor) (jobworker.Source, error)

// EncoderFactory builds an optional output-file encoder for a descriptor.
// Returns (nil, nil) when descriptor.OutputPath is empty.
type EncoderFactory func(types.JobDescriptor) (jobworker.VideoEncoder, error)

// Config holds the manager's tunables (SPEC_FULL §5/§6).
type Config struct {
	MaxConcurrentJobs int
	RetentionPeriod   time.Duration // T_retain, default 30m
	ControlQueueCap   int
	TrackerConfig     tracker.Config
	WatchdogGrace     time.Duration // T_grace, default 10s
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrentJobs <= 0 {
		c.MaxConcurrentJobs = 4
	}
	if c.RetentionPeriod <= 0 {
		c.RetentionPeriod = 30 * time.Minute
	}
	if c.ControlQueueCap <= 0 {
		c.ControlQueueCap = 8
	}
	if c.WatchdogGrace <= 0 {
		c.WatchdogGrace = 10 * time.Second
	}
	return c
}

type entry struct {
	worker      *jobworker.Worker
	control     *jobworker.ControlChannel
	broadcaster *broadcaster.Broadcaster
	cancel      context.CancelFunc
	done        chan struct{}
	descriptor  types.JobDescriptor
	finishedAt  time.Time // zero until terminal
}

// Manager owns the registry of jobs. The zero value is not usable;
// construct with New.
type Manager struct {
	cfg Config

	deps struct {
		Detector       detector.Detector
		Store          eventstore.EventStore
		SourceFactory  SourceFactory
		EncoderFactory EncoderFactory
	}
	log     *slog.Logger
	metrics *metrics.Metrics

	mu       sync.Mutex // registry membership lock; never held during blocking I/O
	jobs     map[string]*entry
	byCamera map[string]string // camera_id -> job_id, for active RTSP jobs only

	statusMu    sync.Mutex
	statusSubs  map[string]chan types.JobStatus

	stopSweep chan struct{}
}

// New builds a Manager and starts its retention-sweep goroutine. Call
// Close to stop the sweep and release resources.
func New(cfg Config, det detector.Detector, store eventstore.EventStore, srcFactory SourceFactory, encFactory EncoderFactory, log *slog.Logger) *Manager {
	m := &Manager{
		cfg:        cfg.withDefaults(),
		jobs:       make(map[string]*entry),
		byCamera:   make(map[string]string),
		statusSubs: make(map[string]chan types.JobStatus),
		log:        log,
		stopSweep:  make(chan struct{}),
	}
	m.deps.Detector = det
	m.deps.Store = store
	m.deps.SourceFactory = srcFactory
	m.deps.EncoderFactory = encFactory

	go m.sweepLoop()
	return m
}

// SetMetrics attaches a metrics sink used by both the manager (active job
// gauge) and every worker it spawns from this point on (detector/store
// error counters, crossing event counter, job duration histogram).
// Optional — a nil sink disables telemetry.
func (m *Manager) SetMetrics(mt *metrics.Metrics) {
	m.metrics = mt
}

// Submit registers and starts a new job for descriptor. Returns
// RESOURCE_EXHAUSTED if MaxConcurrentJobs active (non-terminal) jobs are
// already running, and ALREADY_EXISTS if descriptor.CameraID already has a
// non-terminal RTSP_STREAM job registered.
func (m *Manager) Submit(descriptor types.JobDescriptor) (string, error) {
	if descriptor.JobID == "" {
		descriptor.JobID = uuid.New().String()
	}

	m.mu.Lock()
	if m.activeCountLocked() >= m.cfg.MaxConcurrentJobs {
		m.mu.Unlock()
		return "", apperror.New(apperror.ResourceExhausted, "max concurrent jobs reached")
	}
	if descriptor.Kind == types.KindRTSP {
		if existingID, ok := m.byCamera[descriptor.CameraID]; ok {
			if e, ok := m.jobs[existingID]; ok && !e.worker.Status().Phase.Terminal() {
				m.mu.Unlock()
				return "", apperror.New(apperror.AlreadyExists, "camera already has an active job: "+existingID)
			}
		}
	}
	m.mu.Unlock()

	source, err := m.deps.SourceFactory(descriptor)
	if err != nil {
		return "", apperror.Wrap(apperror.InvalidInput, "build capture source", err)
	}
	var encoder jobworker.VideoEncoder
	if descriptor.OutputPath != "" {
		encoder, err = m.deps.EncoderFactory(descriptor)
		if err != nil {
			return "", apperror.Wrap(apperror.InvalidInput, "build output encoder", err)
		}
	}

	control := jobworker.NewControlChannel(m.cfg.ControlQueueCap)
	bc := broadcaster.New()
	jobID := descriptor.JobID

	w, err := jobworker.New(descriptor, jobworker.Deps{
		Source:      source,
		Detector:    m.deps.Detector,
		Store:       m.deps.Store,
		Broadcaster: bc,
		Control:     control,
		Encoder:     encoder,
		Log:         m.log.With("job_id", jobID),
		OnStatus:    func(s types.JobStatus) { m.publishStatus(s) },
		Metrics:     m.metrics,
	}, m.cfg.TrackerConfig)
	if err != nil {
		return "", apperror.Wrap(apperror.InvalidInput, "build job worker", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &entry{
		worker:      w,
		control:     control,
		broadcaster: bc,
		cancel:      cancel,
		done:        make(chan struct{}),
		descriptor:  descriptor,
	}

	m.mu.Lock()
	m.jobs[jobID] = e
	if descriptor.Kind == types.KindRTSP {
		m.byCamera[descriptor.CameraID] = jobID
	}
	m.mu.Unlock()
	if m.metrics != nil {
		m.metrics.JobsActive.Inc()
	}

	go func() {
		w.Run(ctx)
		m.mu.Lock()
		e.finishedAt = time.Now()
		m.mu.Unlock()
		if m.metrics != nil {
			m.metrics.JobsActive.Dec()
		}
		close(e.done)
	}()

	return jobID, nil
}

func (m *Manager) activeCountLocked() int {
	n := 0
	for _, e := range m.jobs {
		if !e.worker.Status().Phase.Terminal() {
			n++
		}
	}
	return n
}

func (m *Manager) lookup(jobID string) (*entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.jobs[jobID]
	if !ok {
		return nil, apperror.New(apperror.NotFound, "job not found: "+jobID)
	}
	return e, nil
}

// Status returns a snapshot of one job.
func (m *Manager) Status(jobID string) (types.JobStatus, error) {
	e, err := m.lookup(jobID)
	if err != nil {
		return types.JobStatus{}, err
	}
	return e.worker.Status(), nil
}

// List returns a snapshot of every registered job, including terminal
// ones still within the retention window.
func (m *Manager) List() []types.JobStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.JobStatus, 0, len(m.jobs))
	for _, e := range m.jobs {
		out = append(out, e.worker.Status())
	}
	return out
}

// Broadcaster returns the frame broadcaster for jobID, for MJPEGStreamer
// to subscribe to.
func (m *Manager) Broadcaster(jobID string) (*broadcaster.Broadcaster, error) {
	e, err := m.lookup(jobID)
	if err != nil {
		return nil, err
	}
	return e.broadcaster, nil
}

// Pause sends a Pause control to jobID. Idempotent: pausing an already
// paused job is a no-op at the worker's state machine.
func (m *Manager) Pause(jobID string) error {
	return m.sendControl(jobID, jobworker.ControlMsg{Kind: jobworker.ControlPause})
}

// Resume sends a Resume control to jobID.
func (m *Manager) Resume(jobID string) error {
	return m.sendControl(jobID, jobworker.ControlMsg{Kind: jobworker.ControlResume})
}

// Stop sends a Stop control to jobID and does not wait for it to exit. It
// arms a watchdog that force-closes the worker's resources if STOP is not
// observed within T_grace, per §5's "worker appears hung" clause.
func (m *Manager) Stop(jobID string) error {
	e, err := m.lookup(jobID)
	if err != nil {
		return err
	}
	if err := m.sendControl(jobID, jobworker.ControlMsg{Kind: jobworker.ControlStop}); err != nil {
		return err
	}
	go m.armStopWatchdog(e)
	return nil
}

func (m *Manager) armStopWatchdog(e *entry) {
	select {
	case <-e.done:
	case <-time.After(m.cfg.WatchdogGrace):
		m.log.Warn("jobmanager: worker did not observe STOP within grace period, force-closing", "job_id", e.descriptor.JobID)
		e.cancel()
	}
}

// Seek sends a relative-frame Seek control to jobID. Only FILE_VIDEO jobs
// are seekable; RTSP_STREAM jobs return INVALID_KIND.
func (m *Manager) Seek(jobID string, deltaFrames int64) error {
	e, err := m.lookup(jobID)
	if err != nil {
		return err
	}
	if e.descriptor.Kind != types.KindFileVideo {
		return apperror.New(apperror.InvalidKind, "seek is only valid for FILE_VIDEO jobs")
	}
	return m.sendControl(jobID, jobworker.ControlMsg{Kind: jobworker.ControlSeek, DeltaFrames: deltaFrames})
}

func (m *Manager) sendControl(jobID string, msg jobworker.ControlMsg) error {
	e, err := m.lookup(jobID)
	if err != nil {
		return err
	}
	if e.worker.Status().Phase.Terminal() {
		return apperror.New(apperror.InvalidState, "job already terminated: "+jobID)
	}
	e.control.Send(msg)
	return nil
}

// Subscribe registers a channel that receives every status update across
// all jobs, for the websocket feed. Unsubscribe with the returned id.
func (m *Manager) Subscribe() (id string, ch <-chan types.JobStatus) {
	m.statusMu.Lock()
	defer m.statusMu.Unlock()
	subID := uuid.New().String()
	c := make(chan types.JobStatus, 32)
	m.statusSubs[subID] = c
	return subID, c
}

// Unsubscribe removes a status subscription and closes its channel.
func (m *Manager) Unsubscribe(id string) {
	m.statusMu.Lock()
	defer m.statusMu.Unlock()
	if c, ok := m.statusSubs[id]; ok {
		delete(m.statusSubs, id)
		close(c)
	}
}

func (m *Manager) publishStatus(s types.JobStatus) {
	m.statusMu.Lock()
	defer m.statusMu.Unlock()
	for id, c := range m.statusSubs {
		select {
		case c <- s:
		default:
			m.log.Warn("jobmanager: status subscriber queue full, dropping update", "sub_id", id)
		}
	}
}

// sweepLoop retires terminal jobs older than the retention period once a
// minute, per SPEC_FULL §4.5.
func (m *Manager) sweepLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.sweepOnce()
		case <-m.stopSweep:
			return
		}
	}
}

func (m *Manager) sweepOnce() {
	cutoff := time.Now().Add(-m.cfg.RetentionPeriod)
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, e := range m.jobs {
		if e.finishedAt.IsZero() || e.finishedAt.After(cutoff) {
			continue
		}
		delete(m.jobs, id)
		if e.descriptor.Kind == types.KindRTSP && m.byCamera[e.descriptor.CameraID] == id {
			delete(m.byCamera, e.descriptor.CameraID)
		}
	}
}

// Close stops the retention sweep and requests every active job stop,
// waiting up to drainTimeout for each to reach a terminal phase.
func (m *Manager) Close(drainTimeout time.Duration) error {
	close(m.stopSweep)

	m.mu.Lock()
	entries := make([]*entry, 0, len(m.jobs))
	for _, e := range m.jobs {
		entries = append(entries, e)
	}
	m.mu.Unlock()

	for _, e := range entries {
		if e.worker.Status().Phase.Terminal() {
			continue
		}
		e.control.Send(jobworker.ControlMsg{Kind: jobworker.ControlStop})
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()

	for _, e := range entries {
		select {
		case <-e.done:
		case <-drainCtx.Done():
			e.cancel()
		}
	}
	if drainCtx.Err() != nil {
		return fmt.Errorf("jobmanager: drain timeout exceeded waiting for %d jobs", len(entries))
	}
	return nil
}
