// Package backend talks to the inference worker that owns the actual speech
// models. The daemon never runs ASR, alignment or diarization math itself; it
// asks the worker to load models and run stages, and tracks the returned
// opaque refs.
package backend

import (
	"context"

	"scriberd/pkg/types"
)

// Stage identifies one pipeline capability.
type Stage string

const (
	StageASR     Stage = "asr"
	StageAlign   Stage = "align"
	StageDiarize Stage = "diarize"
)

// ModelRef is an opaque worker-side handle for a loaded model.
type ModelRef string

// ModelSpec describes a model the worker should load.
type ModelSpec struct {
	Stage Stage
	// ASR model selector (e.g. large-v3). Empty for align/diarize.
	Name string
	// Alignment language. Empty for asr/diarize.
	Language string
	// Target device id, e.g. cuda:0 or cpu.
	Device string
	// Inference precision: float16, float32, int8.
	ComputeType string
	// Credential for gated models. Never logged.
	AuthToken string
}

// Key is the registry identity of the model this spec loads. Specs that only
// differ in device or precision still name the same model.
func (s ModelSpec) Key() string {
	switch s.Stage {
	case StageASR:
		return string(StageASR) + "/" + s.Name
	case StageAlign:
		return string(StageAlign) + "/" + s.Language
	default:
		return string(s.Stage)
	}
}

// AudioInput points the worker at a decoded-on-demand audio file. The file
// must be readable by the worker process (shared filesystem).
type AudioInput struct {
	Path        string
	Format      string
	DurationSec float64
}

// Transcript is the raw ASR output before alignment.
type Transcript struct {
	// Detected language, or the forced one echoed back.
	Language string
	// Segment-level text with coarse timestamps, no words.
	Segments []types.Segment
}

// Aligned is the word-level refinement of a transcript.
type Aligned struct {
	// Segments with word timings attached.
	Segments []types.Segment
	// Flat word list across all segments.
	Words []types.Word
}

// WorkerInfo is what the worker reports about itself.
type WorkerInfo struct {
	Status        string `json:"status"`
	CUDAAvailable bool   `json:"cuda_available"`
}

// Runner is the capability contract of the inference worker. Calls are
// synchronous and atomic: a started stage call runs to completion on the
// worker even if the caller goes away, so cancellation is handled between
// calls, not within them.
type Runner interface {
	// Load makes the worker load a model and returns its ref. Idempotence
	// across concurrent callers is the registry's job, not the worker's.
	Load(ctx context.Context, spec ModelSpec) (ModelRef, error)
	// Release frees a loaded model on the worker.
	Release(ctx context.Context, ref ModelRef) error
	// Transcribe runs ASR. language forces a language when non-empty.
	Transcribe(ctx context.Context, ref ModelRef, in AudioInput, language string, batchSize int) (Transcript, error)
	// Align refines segment timestamps to word level.
	Align(ctx context.Context, ref ModelRef, in AudioInput, language string, segments []types.Segment) (Aligned, error)
	// Diarize labels speaker turns over the whole file.
	Diarize(ctx context.Context, ref ModelRef, in AudioInput) ([]types.SpeakerTurn, error)
	// Ping reports worker liveness and device capabilities.
	Ping(ctx context.Context) (WorkerInfo, error)
}
