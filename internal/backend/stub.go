package backend

// StubRunner satisfies Runner when no worker is configured. Every call fails
// with an unavailable error so the HTTP layer answers 503 instead of
// pretending to transcribe.

import (
	"context"

	"scriberd/pkg/types"
)

type StubRunner struct{}

func (StubRunner) Load(ctx context.Context, spec ModelSpec) (ModelRef, error) {
	return "", ErrUnavailable("no inference worker configured")
}

func (StubRunner) Release(ctx context.Context, ref ModelRef) error {
	return ErrUnavailable("no inference worker configured")
}

func (StubRunner) Transcribe(ctx context.Context, ref ModelRef, in AudioInput, language string, batchSize int) (Transcript, error) {
	return Transcript{}, ErrUnavailable("no inference worker configured")
}

func (StubRunner) Align(ctx context.Context, ref ModelRef, in AudioInput, language string, segments []types.Segment) (Aligned, error) {
	return Aligned{}, ErrUnavailable("no inference worker configured")
}

func (StubRunner) Diarize(ctx context.Context, ref ModelRef, in AudioInput) ([]types.SpeakerTurn, error) {
	return nil, ErrUnavailable("no inference worker configured")
}

func (StubRunner) Ping(ctx context.Context) (WorkerInfo, error) {
	return WorkerInfo{}, ErrUnavailable("no inference worker configured")
}
