// Command sentryserver is the process entrypoint: it wires the config
// envelope, the detector client, the event store, the job manager, and the
// REST/MJPEG/websocket/gRPC-health surfaces together, then blocks until a
// termination signal drains every running job.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Md-Abu-Omayer-Babu/Rickshaw-Detector-AI/internal/apperror"
	"github.com/Md-Abu-Omayer-Babu/Rickshaw-Detector-AI/internal/capture"
	"github.com/Md-Abu-Omayer-Babu/Rickshaw-Detector-AI/internal/config"
	"github.com/Md-Abu-Omayer-Babu/Rickshaw-Detector-AI/internal/detector"
	"github.com/Md-Abu-Omayer-Babu/Rickshaw-Detector-AI/internal/eventstore"
	"github.com/Md-Abu-Omayer-Babu/Rickshaw-Detector-AI/internal/grpcapi"
	"github.com/Md-Abu-Omayer-Babu/Rickshaw-Detector-AI/internal/httpapi"
	"github.com/Md-Abu-Omayer-Babu/Rickshaw-Detector-AI/internal/jobmanager"
	"github.com/Md-Abu-Omayer-Babu/Rickshaw-Detector-AI/internal/jobworker"
	"github.com/Md-Abu-Omayer-Babu/Rickshaw-Detector-AI/internal/logging"
	"github.com/Md-Abu-Omayer-Babu/Rickshaw-Detector-AI/internal/metrics"
	"github.com/Md-Abu-Omayer-Babu/Rickshaw-Detector-AI/internal/tracker"
	"github.com/Md-Abu-Omayer-Babu/Rickshaw-Detector-AI/internal/types"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("sentryserver: config", "error", err)
		return 1
	}

	log := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	slog.SetDefault(log)

	store, err := eventstore.Open(cfg.DBPath, cfg.JournalPath, log)
	if err != nil {
		log.Error("sentryserver: open event store", "error", err)
		return 1
	}
	defer store.Close()

	promMetrics := metrics.New()
	store.SetMetrics(promMetrics)

	det := detector.NewHTTPClient(cfg.DetectorURL, cfg.DetectorTimeout, log)
	defer det.Close()

	trackCfg := tracker.Config{
		IoUMin:     cfg.TrackIoUMin,
		MaxMiss:    cfg.TrackMissMax,
		HistoryLen: cfg.TrackHistoryLen,
		MinDetConf: cfg.MinDetConf,
	}

	srcFactory := func(d types.JobDescriptor) (jobworker.Source, error) {
		switch d.Kind {
		case types.KindFileVideo:
			return capture.NewFileVideoSource(d.Source), nil
		case types.KindRTSP:
			reconnect := capture.ReconnectConfig{
				MaxAttempts: cfg.RTSPReconnectAttempts,
				Delay:       cfg.RTSPReconnectDelay,
			}
			fpsCap := d.FPSCap
			if fpsCap <= 0 {
				fpsCap = cfg.RTSPFPSCap
			}
			return capture.NewRTSPSource(d.Source, cfg.RTSPWidth, cfg.RTSPHeight, fpsCap, reconnect, log), nil
		default:
			return nil, apperror.New(apperror.InvalidKind, "unknown job kind: "+string(d.Kind))
		}
	}

	encFactory := func(d types.JobDescriptor) (jobworker.VideoEncoder, error) {
		if d.OutputPath == "" {
			return nil, nil
		}
		fps := d.FPSCap
		if fps <= 0 {
			fps = 25
		}
		return capture.NewFileWriter(d.OutputPath, fps, cfg.RTSPWidth, cfg.RTSPHeight)
	}

	mgrCfg := jobmanager.Config{
		MaxConcurrentJobs: cfg.MaxConcurrentJobs,
		RetentionPeriod:   time.Duration(cfg.JobRetentionMinutes) * time.Minute,
		ControlQueueCap:   cfg.ControlQueueCap,
		TrackerConfig:     trackCfg,
		WatchdogGrace:     cfg.WatchdogGrace,
	}
	mgr := jobmanager.New(mgrCfg, det, store, srcFactory, encFactory, log)
	mgr.SetMetrics(promMetrics)

	if presets, err := config.LoadCameraPresets(cfg.CameraPresetsFile); err != nil {
		log.Warn("sentryserver: load camera presets", "error", err)
	} else {
		for _, p := range presets {
			if !p.AutoStart {
				continue
			}
			descriptor := types.JobDescriptor{
				Kind:        types.KindRTSP,
				Source:      p.RTSPURL,
				CameraID:    p.CameraID,
				DetConf:     cfg.MinDetConf,
				JPEGQuality: cfg.JPEGQuality,
				FPSCap:      cfg.RTSPFPSCap,
				ThresholdPx: cfg.CrossingThresholdPx,
			}
			if p.Reversal != "" {
				descriptor.CountEnabled = true
				descriptor.Line = types.LineConfig{
					LineID:         p.CameraID + "-line",
					P1:             types.PctPoint{X: p.LineP1X, Y: p.LineP1Y},
					P2:             types.PctPoint{X: p.LineP2X, Y: p.LineP2Y},
					ReversalPolicy: types.ReversalPolicy(p.Reversal),
				}
			}
			if _, err := mgr.Submit(descriptor); err != nil {
				log.Error("sentryserver: auto-start camera preset", "camera_id", p.CameraID, "error", err)
			}
		}
	}

	probe := func(ctx context.Context, url string) (types.StreamProperties, error) {
		src := capture.NewRTSPSource(url, cfg.RTSPWidth, cfg.RTSPHeight, cfg.RTSPFPSCap, capture.ReconnectConfig{MaxAttempts: 1, Delay: cfg.RTSPReconnectDelay}, log)
		props, err := src.Open(ctx)
		_ = src.Close()
		return props, err
	}

	router := httpapi.NewRouter(httpapi.Deps{
		Manager:     mgr,
		Store:       store,
		Probe:       probe,
		Metrics:     promMetrics,
		Log:         log,
		JPEGQuality: cfg.JPEGQuality,
		DetConf:     cfg.MinDetConf,
		FPSCap:      cfg.RTSPFPSCap,
		ThresholdPx: cfg.CrossingThresholdPx,
	})

	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // MJPEG streams hold the connection open indefinitely
		IdleTimeout:  60 * time.Second,
	}

	healthSrv := grpcapi.New(log)

	errs := make(chan error, 2)
	go func() {
		log.Info("sentryserver: http listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errs <- err
		}
	}()
	go func() {
		if err := healthSrv.Serve(cfg.GRPCHealthAddr); err != nil {
			errs <- err
		}
	}()

	healthSrv.SetServing(true)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sig:
		log.Info("sentryserver: shutdown signal received")
	case err := <-errs:
		log.Error("sentryserver: server error", "error", err)
		healthSrv.SetServing(false)
		return 1
	}

	healthSrv.SetServing(false)

	exitCode := 0
	if err := mgr.Close(cfg.DrainTimeout); err != nil {
		log.Warn("sentryserver: job drain did not complete cleanly", "error", err)
		exitCode = 1
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("sentryserver: http shutdown", "error", err)
	}

	stopped := make(chan struct{})
	go func() {
		healthSrv.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		healthSrv.Stop()
	}

	log.Info("sentryserver: shutdown complete", "exit_code", exitCode)
	return exitCode
}
