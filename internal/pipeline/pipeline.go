// Package pipeline drives the staged transcription flow for a single job:
// transcribe, then optionally align and diarize, then assemble the result.
//
// Each stage leases a device slot and acquires its model handle for the
// duration of that stage only, so memory and slots are released between
// stages. Alignment and diarization failures degrade the result with a
// warning; a transcription failure fails the job.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"scriberd/internal/assemble"
	"scriberd/internal/backend"
	"scriberd/internal/config"
	"scriberd/internal/device"
	"scriberd/internal/metrics"
	"scriberd/internal/registry"
	"scriberd/pkg/types"
)

// Request describes one unit of pipeline work. Language is an optional hint;
// when empty the transcription stage detects it.
type Request struct {
	Audio     backend.AudioInput
	Language  string
	Align     bool
	Diarize   bool
	Device    string
	BatchSize int
}

// Orchestrator runs requests against one inference runner.
type Orchestrator struct {
	runner    backend.Runner
	registry  *registry.Registry
	devices   *device.Manager
	batchSize int
	zlog      zerolog.Logger
}

type Config struct {
	Runner    backend.Runner
	Registry  *registry.Registry
	Devices   *device.Manager
	BatchSize int
	Logger    zerolog.Logger
}

func New(cfg Config) *Orchestrator {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = config.DefaultBatchSize
	}
	return &Orchestrator{
		runner:    cfg.Runner,
		registry:  cfg.Registry,
		devices:   cfg.Devices,
		batchSize: cfg.BatchSize,
		zlog:      cfg.Logger.With().Str("component", "pipeline").Logger(),
	}
}

// Run executes the stages for one request and returns the assembled result.
// ctx carries the job deadline and cancellation. Cancellation is observed
// between stages only; the deadline also bounds each in-flight stage call so
// a stuck worker cannot hold a slot forever. A run aborted after the
// transcription stage returns the partial result assembled from the stages
// that did finish, alongside the context error.
func (o *Orchestrator) Run(ctx context.Context, req Request) (types.TranscriptionResult, error) {
	zlog := o.zlog.With().
		Str("file", filepath.Base(req.Audio.Path)).
		Str("device", req.Device).
		Logger()

	tr, err := o.transcribe(ctx, req)
	if err != nil {
		zlog.Error().Err(err).Msg("transcription failed")
		return types.TranscriptionResult{}, err
	}
	language := tr.Language
	if language == "" {
		language = req.Language
	}
	zlog.Debug().Str("language", language).Int("segments", len(tr.Segments)).Msg("transcription done")

	var (
		warnings []string
		aligned  *backend.Aligned
		turns    []types.SpeakerTurn
		diarized bool
	)
	// snapshot renders whatever stages have finished so far; a job cancelled
	// at a stage boundary still carries the transcript it produced.
	snapshot := func() types.TranscriptionResult {
		return assemble.Result(assemble.Input{
			Transcript:         tr,
			Aligned:            aligned,
			Turns:              turns,
			DiarizationApplied: diarized,
			DurationSec:        req.Audio.DurationSec,
			Warnings:           warnings,
		})
	}

	if req.Align {
		if err := ctx.Err(); err != nil {
			return snapshot(), err
		}
		if language == "" {
			warnings = append(warnings, "alignment skipped: no language detected")
		} else {
			al, err := o.align(ctx, req, language, tr.Segments)
			switch {
			case err == nil:
				aligned = &al
			case isAbort(err):
				return snapshot(), err
			default:
				zlog.Warn().Err(err).Msg("alignment degraded")
				warnings = append(warnings, fmt.Sprintf("alignment failed: %v; word timestamps unavailable", err))
			}
		}
	}

	if req.Diarize {
		if err := ctx.Err(); err != nil {
			return snapshot(), err
		}
		ts, err := o.diarize(ctx, req)
		switch {
		case err == nil:
			turns = ts
			diarized = true
		case isAbort(err):
			return snapshot(), err
		default:
			zlog.Warn().Err(err).Msg("diarization degraded")
			warnings = append(warnings, fmt.Sprintf("diarization failed: %v; speaker labels unavailable", err))
		}
	}

	return snapshot(), nil
}

func (o *Orchestrator) transcribe(ctx context.Context, req Request) (backend.Transcript, error) {
	batch := req.BatchSize
	if batch <= 0 {
		batch = o.batchSize
	}
	var tr backend.Transcript
	err := o.runStage(ctx, backend.StageASR, req.Language, req.Device, func(callCtx context.Context, ref backend.ModelRef) error {
		var err error
		tr, err = o.runner.Transcribe(callCtx, ref, req.Audio, req.Language, batch)
		return err
	})
	return tr, err
}

func (o *Orchestrator) align(ctx context.Context, req Request, language string, segments []types.Segment) (backend.Aligned, error) {
	var al backend.Aligned
	err := o.runStage(ctx, backend.StageAlign, language, req.Device, func(callCtx context.Context, ref backend.ModelRef) error {
		var err error
		al, err = o.runner.Align(callCtx, ref, req.Audio, language, segments)
		return err
	})
	return al, err
}

func (o *Orchestrator) diarize(ctx context.Context, req Request) ([]types.SpeakerTurn, error) {
	var turns []types.SpeakerTurn
	err := o.runStage(ctx, backend.StageDiarize, "", req.Device, func(callCtx context.Context, ref backend.ModelRef) error {
		var err error
		turns, err = o.runner.Diarize(callCtx, ref, req.Audio)
		return err
	})
	return turns, err
}

// runStage holds a device slot and a model handle for exactly one stage
// call. The slot is leased before the model is acquired so a load that
// needs to evict happens while the slot is already ours.
func (o *Orchestrator) runStage(ctx context.Context, stage backend.Stage, language, dev string, fn func(context.Context, backend.ModelRef) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	start := time.Now()

	est := o.registry.EstimateAdditional(stage, language, dev)
	lease, err := o.devices.Lease(ctx, dev, est)
	if err != nil {
		metrics.IncStageFailure(string(stage), failureKind(err))
		return err
	}
	defer lease.Release()

	handle, err := o.registry.Acquire(ctx, stage, language, dev)
	if err != nil {
		metrics.IncStageFailure(string(stage), failureKind(err))
		return err
	}
	defer o.registry.Release(handle)

	callCtx, cancel := detach(ctx)
	defer cancel()
	if err := fn(callCtx, handle.Ref()); err != nil {
		metrics.IncStageFailure(string(stage), failureKind(err))
		return err
	}

	dur := time.Since(start)
	metrics.ObserveStage(string(stage), dur)
	o.zlog.Info().Str("stage", string(stage)).Str("device", dev).Dur("duration", dur).Msg("stage complete")
	return nil
}

// detach keeps the deadline of ctx but drops its cancellation. A running
// stage call is bounded by the job deadline yet never interrupted by Cancel.
func detach(ctx context.Context) (context.Context, context.CancelFunc) {
	if dl, ok := ctx.Deadline(); ok {
		return context.WithDeadline(context.Background(), dl)
	}
	return context.WithCancel(context.Background())
}

func isAbort(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func failureKind(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case registry.IsModelLoad(err):
		return "model_load"
	case backend.IsUnavailable(err):
		return "unavailable"
	case backend.IsAuthFailed(err):
		return "auth"
	case device.IsResourceExhausted(err):
		return "exhausted"
	default:
		return "inference"
	}
}
