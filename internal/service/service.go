// Package service composes the runtime pieces behind the HTTP API: the
// worker client, device manager, model registry and scheduler. Introspection
// answers come from in-memory snapshots and never wait on running jobs.
package service

import (
	"context"
	"time"

	"scriberd/internal/backend"
	"scriberd/internal/config"
	"scriberd/internal/device"
	"scriberd/internal/registry"
	"scriberd/internal/scheduler"
	"scriberd/pkg/types"
)

type Service struct {
	settings config.Settings
	devices  *device.Manager
	registry *registry.Registry
	sched    *scheduler.Scheduler
	runner   backend.Runner
	started  time.Time
}

type Config struct {
	Settings  config.Settings
	Devices   *device.Manager
	Registry  *registry.Registry
	Scheduler *scheduler.Scheduler
	Runner    backend.Runner
}

func New(cfg Config) *Service {
	return &Service{
		settings: cfg.Settings,
		devices:  cfg.Devices,
		registry: cfg.Registry,
		sched:    cfg.Scheduler,
		runner:   cfg.Runner,
		started:  time.Now(),
	}
}

func (s *Service) Settings() config.Settings { return s.settings }

func (s *Service) Root() types.RootResponse {
	features := []string{"transcription", "alignment"}
	if s.settings.DiarizationAvailable() {
		features = append(features, "diarization")
	}
	return types.RootResponse{
		Status:   "ok",
		Service:  "scriberd",
		Device:   s.devices.Primary(),
		Model:    s.settings.Model,
		Features: features,
	}
}

func (s *Service) Health() types.HealthResponse {
	return types.HealthResponse{
		Status:               "healthy",
		CUDAAvailable:        s.devices.CUDAAvailable(),
		Device:               s.devices.Primary(),
		ModelLoaded:          s.registry.ModelLoaded(),
		DiarizationAvailable: s.settings.DiarizationAvailable(),
	}
}

func (s *Service) Status() types.StatusResponse {
	st := s.sched.Stats()
	loads, evicts := s.registry.Counts()
	state := "ok"
	if st.QueueDepth >= st.MaxQueueDepth {
		state = "busy"
	}
	return types.StatusResponse{
		Models:         s.registry.Snapshot(),
		Devices:        s.devices.Snapshot(),
		QueueDepth:     st.QueueDepth,
		MaxQueueDepth:  st.MaxQueueDepth,
		Inflight:       st.Inflight,
		JobsTotal:      st.Counts,
		LoadsTotal:     loads,
		EvictionsTotal: evicts,
		UptimeSeconds:  int64(time.Since(s.started).Seconds()),
		ServerTimeUnix: time.Now().Unix(),
		State:          state,
		LastError:      st.LastError,
	}
}

// Ready reports whether the inference worker answers. Used by the readiness
// probe; health snapshots never call out.
func (s *Service) Ready(ctx context.Context) bool {
	_, err := s.runner.Ping(ctx)
	return err == nil
}

// Transcribe runs one submission to completion. On a rejected submission the
// spooled file is released here; once admitted the scheduler owns it.
func (s *Service) Transcribe(ctx context.Context, sub scheduler.Submission) (types.TranscriptionResult, error) {
	id, err := s.sched.Submit(sub)
	if err != nil {
		if sub.Cleanup != nil {
			sub.Cleanup()
		}
		return types.TranscriptionResult{}, err
	}
	return s.sched.Await(ctx, id)
}

// TranscribeBatch runs the submissions as one contiguous batch and collects
// the outcomes in submission order.
func (s *Service) TranscribeBatch(ctx context.Context, subs []scheduler.Submission) ([]scheduler.ItemOutcome, error) {
	ids, err := s.sched.SubmitBatch(subs)
	if err != nil {
		for _, sub := range subs {
			if sub.Cleanup != nil {
				sub.Cleanup()
			}
		}
		return nil, err
	}
	return s.sched.AwaitBatch(ctx, ids), nil
}
