package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"scriberd/internal/backend"
	"scriberd/internal/config"
	"scriberd/internal/device"
	"scriberd/internal/registry"
	"scriberd/pkg/types"
)

// fakeRunner scripts per-stage outputs and failures. It records which stages
// were called and whether a stage call observed its context cancelled.
type fakeRunner struct {
	mu            sync.Mutex
	transcript    backend.Transcript
	aligned       backend.Aligned
	turns         []types.SpeakerTurn
	transcribeErr error
	alignErr      error
	diarizeErr    error

	transcribeDelay time.Duration
	afterTranscribe func()

	calls      []string
	refSeq     int
	stageCtxErr error
}

func (f *fakeRunner) record(name string) {
	f.mu.Lock()
	f.calls = append(f.calls, name)
	f.mu.Unlock()
}

func (f *fakeRunner) called(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == name {
			n++
		}
	}
	return n
}

func (f *fakeRunner) Load(ctx context.Context, spec backend.ModelSpec) (backend.ModelRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refSeq++
	return backend.ModelRef(fmt.Sprintf("%s-%d", spec.Stage, f.refSeq)), nil
}

func (f *fakeRunner) Release(ctx context.Context, ref backend.ModelRef) error { return nil }

func (f *fakeRunner) Transcribe(ctx context.Context, ref backend.ModelRef, in backend.AudioInput, language string, batchSize int) (backend.Transcript, error) {
	f.record("transcribe")
	if f.transcribeDelay > 0 {
		select {
		case <-time.After(f.transcribeDelay):
		case <-ctx.Done():
		}
		f.mu.Lock()
		f.stageCtxErr = ctx.Err()
		f.mu.Unlock()
		if err := ctx.Err(); err != nil {
			return backend.Transcript{}, err
		}
	}
	if f.afterTranscribe != nil {
		f.afterTranscribe()
	}
	return f.transcript, f.transcribeErr
}

func (f *fakeRunner) Align(ctx context.Context, ref backend.ModelRef, in backend.AudioInput, language string, segments []types.Segment) (backend.Aligned, error) {
	f.record("align")
	return f.aligned, f.alignErr
}

func (f *fakeRunner) Diarize(ctx context.Context, ref backend.ModelRef, in backend.AudioInput) ([]types.SpeakerTurn, error) {
	f.record("diarize")
	return f.turns, f.diarizeErr
}

func (f *fakeRunner) Ping(ctx context.Context) (backend.WorkerInfo, error) {
	return backend.WorkerInfo{Status: "ok"}, nil
}

// twoSpeakerRunner scripts a ten second clip with one segment per speaker.
func twoSpeakerRunner() *fakeRunner {
	return &fakeRunner{
		transcript: backend.Transcript{
			Language: "en",
			Segments: []types.Segment{
				{Start: 0.4, End: 4.6, Text: " Good morning everyone."},
				{Start: 5.1, End: 9.8, Text: " Thanks, good morning."},
			},
		},
		aligned: backend.Aligned{
			Segments: []types.Segment{
				{Start: 0.42, End: 4.55, Text: "Good morning everyone."},
				{Start: 5.13, End: 9.77, Text: "Thanks, good morning."},
			},
			Words: []types.Word{
				{Word: "Good", Start: 0.42, End: 0.71, Score: 0.99},
				{Word: "morning", Start: 0.74, End: 1.2, Score: 0.98},
				{Word: "Thanks,", Start: 5.13, End: 5.5, Score: 0.95},
			},
		},
		turns: []types.SpeakerTurn{
			{Start: 0, End: 4.9, Speaker: "SPEAKER_00"},
			{Start: 4.9, End: 10, Speaker: "SPEAKER_01"},
		},
	}
}

func newTestOrchestrator(t *testing.T, f *fakeRunner, budgetMB int) (*Orchestrator, *registry.Registry, *device.Manager) {
	t.Helper()
	dev := device.NewManager(device.Config{
		Devices:  []string{"cuda:0"},
		Slots:    1,
		BudgetMB: budgetMB,
		Logger:   zerolog.Nop(),
	})
	reg := registry.New(registry.Config{
		Runner:  f,
		Devices: dev,
		Footprints: map[backend.Stage]int{
			backend.StageASR:     300,
			backend.StageAlign:   100,
			backend.StageDiarize: 200,
		},
		Settings: config.Settings{Model: "large-v3", ComputeType: "int8", HFToken: "tok"},
		Logger:   zerolog.Nop(),
	})
	dev.SetEvictor(reg)
	orch := New(Config{Runner: f, Registry: reg, Devices: dev, Logger: zerolog.Nop()})
	return orch, reg, dev
}

func testRequest() Request {
	return Request{
		Audio:   backend.AudioInput{Path: "/tmp/meeting.wav", Format: "wav", DurationSec: 10},
		Align:   true,
		Diarize: true,
		Device:  "cuda:0",
	}
}

func TestRunFullPipeline(t *testing.T) {
	f := twoSpeakerRunner()
	orch, _, _ := newTestOrchestrator(t, f, 1000)

	res, err := orch.Run(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Language != "en" || res.Duration != 10 {
		t.Fatalf("language/duration = %q/%v", res.Language, res.Duration)
	}
	if res.Text != "Good morning everyone. Thanks, good morning." {
		t.Fatalf("text = %q", res.Text)
	}
	if !res.DiarizationApplied || len(res.Warnings) != 0 {
		t.Fatalf("expected clean diarized result, warnings=%v", res.Warnings)
	}
	if res.Segments[0].Speaker != "SPEAKER_00" || res.Segments[1].Speaker != "SPEAKER_01" {
		t.Fatalf("speakers = %q/%q", res.Segments[0].Speaker, res.Segments[1].Speaker)
	}
	if len(res.WordSegments) != 3 || res.WordSegments[2].Speaker != "SPEAKER_01" {
		t.Fatalf("word segments = %+v", res.WordSegments)
	}
}

func TestRunTranscribeOnly(t *testing.T) {
	f := twoSpeakerRunner()
	orch, _, _ := newTestOrchestrator(t, f, 1000)

	req := testRequest()
	req.Align = false
	req.Diarize = false
	res, err := orch.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if f.called("align") != 0 || f.called("diarize") != 0 {
		t.Fatalf("skipped stages were called: %v", f.calls)
	}
	if len(res.WordSegments) != 0 || res.DiarizationApplied {
		t.Fatalf("result carries skipped stage output")
	}
	// Raw transcript text is trimmed per segment when joined.
	if res.Text != "Good morning everyone. Thanks, good morning." {
		t.Fatalf("text = %q", res.Text)
	}
}

func TestRunAlignFailureDegrades(t *testing.T) {
	f := twoSpeakerRunner()
	f.alignErr = fmt.Errorf("no align model for language yy")
	orch, _, _ := newTestOrchestrator(t, f, 1000)

	res, err := orch.Run(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("align failure must degrade, not fail: %v", err)
	}
	if len(res.Warnings) != 1 || !strings.Contains(res.Warnings[0], "alignment failed") {
		t.Fatalf("warnings = %v", res.Warnings)
	}
	if len(res.WordSegments) != 0 {
		t.Fatalf("degraded run must not carry word timestamps")
	}
	// Diarization still ran against the raw transcript segments.
	if !res.DiarizationApplied || res.Segments[0].Speaker != "SPEAKER_00" {
		t.Fatalf("diarization should survive an alignment failure")
	}
}

func TestRunDiarizeFailureDegrades(t *testing.T) {
	f := twoSpeakerRunner()
	f.diarizeErr = backend.ErrUnavailable("worker restarting")
	orch, _, _ := newTestOrchestrator(t, f, 1000)

	res, err := orch.Run(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("diarize failure must degrade, not fail: %v", err)
	}
	if len(res.Warnings) != 1 || !strings.Contains(res.Warnings[0], "diarization failed") {
		t.Fatalf("warnings = %v", res.Warnings)
	}
	if res.DiarizationApplied || res.Diarization != nil {
		t.Fatalf("degraded run must not claim diarization")
	}
	// Alignment output is kept.
	if len(res.WordSegments) != 3 || res.Segments[0].Speaker != "" {
		t.Fatalf("aligned output lost or speakers leaked")
	}
}

func TestRunTranscribeFailureIsFatal(t *testing.T) {
	f := twoSpeakerRunner()
	f.transcribeErr = backend.ErrUnavailable("worker down")
	orch, _, _ := newTestOrchestrator(t, f, 1000)

	_, err := orch.Run(context.Background(), testRequest())
	if !backend.IsUnavailable(err) {
		t.Fatalf("expected unavailable, got %v", err)
	}
	if f.called("align") != 0 || f.called("diarize") != 0 {
		t.Fatalf("later stages ran after a fatal transcription failure")
	}
}

func TestRunCancelObservedAtStageBoundary(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	f := twoSpeakerRunner()
	f.afterTranscribe = cancel
	orch, _, _ := newTestOrchestrator(t, f, 1000)

	res, err := orch.Run(ctx, testRequest())
	if err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if f.called("transcribe") != 1 || f.called("align") != 0 {
		t.Fatalf("cancel must stop the job before the next stage: %v", f.calls)
	}
	// The partial result keeps the transcript from the finished stage.
	if res.Text != "Good morning everyone. Thanks, good morning." {
		t.Fatalf("partial text = %q", res.Text)
	}
	if len(res.WordSegments) != 0 || res.DiarizationApplied {
		t.Fatalf("partial result claims stages that never ran")
	}
}

func TestRunCancelDoesNotInterruptStage(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	f := twoSpeakerRunner()
	f.transcribeDelay = 60 * time.Millisecond
	orch, _, _ := newTestOrchestrator(t, f, 1000)

	go func() {
		time.Sleep(15 * time.Millisecond)
		cancel()
	}()
	_, err := orch.Run(ctx, testRequest())
	if err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	f.mu.Lock()
	seen := f.stageCtxErr
	f.mu.Unlock()
	if seen != nil {
		t.Fatalf("stage call saw cancellation mid-flight: %v", seen)
	}
}

func TestRunDeadlineBoundsStageCall(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 25*time.Millisecond)
	defer cancel()
	f := twoSpeakerRunner()
	f.transcribeDelay = time.Second
	orch, _, _ := newTestOrchestrator(t, f, 1000)

	start := time.Now()
	_, err := orch.Run(ctx, testRequest())
	if err != context.DeadlineExceeded {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Fatalf("deadline did not bound the stage call")
	}
}

func TestRunFitsTightBudgetByEvicting(t *testing.T) {
	f := twoSpeakerRunner()
	// Budget holds only one model at a time; per-stage release plus
	// eviction lets the full pipeline run anyway.
	orch, reg, dev := newTestOrchestrator(t, f, 350)

	res, err := orch.Run(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(res.Warnings) != 0 {
		t.Fatalf("warnings = %v", res.Warnings)
	}
	loads, evicts := reg.Counts()
	if loads != 3 || evicts < 1 {
		t.Fatalf("loads=%d evicts=%d, want 3 loads and at least one eviction", loads, evicts)
	}
	// 350 minus the align and diarize models still resident.
	if got := dev.FreeMB("cuda:0"); got != 50 {
		t.Fatalf("free = %d, want 50", got)
	}

	// The slot is free again once the run finishes.
	ctx, cancelLease := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancelLease()
	lease, err := dev.Lease(ctx, "cuda:0", 0)
	if err != nil {
		t.Fatalf("slot not released after run: %v", err)
	}
	lease.Release()
}

func TestRunResourceExhaustedIsFatalForASR(t *testing.T) {
	f := twoSpeakerRunner()
	orch, _, _ := newTestOrchestrator(t, f, 100)

	_, err := orch.Run(context.Background(), testRequest())
	if !device.IsResourceExhausted(err) {
		t.Fatalf("expected resource exhausted, got %v", err)
	}
}
