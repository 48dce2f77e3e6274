// Package scheduler queues transcription jobs and runs them on a fixed pool
// of workers, one worker per device slot. Dispatch order is FIFO. A batch is
// admitted whole or rejected whole, and its results are collected in
// submission order.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"scriberd/internal/backend"
	"scriberd/internal/config"
	"scriberd/internal/device"
	"scriberd/internal/events"
	"scriberd/internal/metrics"
	"scriberd/internal/pipeline"
	"scriberd/pkg/types"
)

// Submission describes one audio file handed to the scheduler. The file at
// Path belongs to the scheduler once submitted; Cleanup is called exactly
// once when the job is finished with it.
type Submission struct {
	Path        string
	Filename    string
	Format      string
	DurationSec float64
	Options     types.JobOptions
	Cleanup     func()
}

type job struct {
	id        string
	sub       Submission
	status    types.JobStatus
	result    types.TranscriptionResult
	err       error
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	abandoned bool
	enqueued  time.Time
	started   time.Time
}

type Config struct {
	Orchestrator  *pipeline.Orchestrator
	Devices       *device.Manager
	MaxQueueDepth int
	JobTimeout    time.Duration
	AwaitTimeout  time.Duration
	Publisher     events.Publisher
	Logger        zerolog.Logger
}

type Scheduler struct {
	cfg     Config
	pending chan *job

	mu       sync.Mutex
	jobs     map[string]*job
	counts   map[types.JobStatus]uint64
	inflight int
	lastErr  string
	closed   bool

	stop chan struct{}
	wg   sync.WaitGroup
	zlog zerolog.Logger
}

func New(cfg Config) *Scheduler {
	if cfg.MaxQueueDepth <= 0 {
		cfg.MaxQueueDepth = config.DefaultMaxQueueDepth
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = time.Duration(config.DefaultJobTimeoutSec) * time.Second
	}
	if cfg.AwaitTimeout <= 0 {
		cfg.AwaitTimeout = time.Duration(config.DefaultAwaitTimeoutSec) * time.Second
	}
	if cfg.Publisher == nil {
		cfg.Publisher = events.NopPublisher{}
	}
	return &Scheduler{
		cfg:     cfg,
		pending: make(chan *job, cfg.MaxQueueDepth),
		jobs:    make(map[string]*job),
		counts:  make(map[types.JobStatus]uint64),
		stop:    make(chan struct{}),
		zlog:    cfg.Logger.With().Str("component", "scheduler").Logger(),
	}
}

// Start launches the worker pool.
func (s *Scheduler) Start() {
	for _, dev := range s.cfg.Devices.Devices() {
		for i := 0; i < s.cfg.Devices.Slots(); i++ {
			s.wg.Add(1)
			go s.worker(dev)
		}
	}
	s.zlog.Info().
		Strs("devices", s.cfg.Devices.Devices()).
		Int("slots", s.cfg.Devices.Slots()).
		Int("max_queue_depth", cap(s.pending)).
		Msg("scheduler started")
}

// Close stops accepting work, waits for in-flight jobs to finish and then
// cancels whatever is still queued so awaiting callers unblock.
func (s *Scheduler) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	close(s.stop)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	for {
		select {
		case j := <-s.pending:
			s.cancelPending(j)
		default:
			return nil
		}
	}
}

// Submit enqueues one job and returns its id.
func (s *Scheduler) Submit(sub Submission) (string, error) {
	ids, err := s.SubmitBatch([]Submission{sub})
	if err != nil {
		return "", err
	}
	return ids[0], nil
}

// SubmitBatch enqueues the submissions contiguously, so no other job lands
// between them. If they do not all fit, nothing is enqueued.
func (s *Scheduler) SubmitBatch(subs []Submission) ([]string, error) {
	if len(subs) == 0 {
		return nil, nil
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrShuttingDown()
	}
	if len(s.pending)+len(subs) > cap(s.pending) {
		depth := len(s.pending)
		s.mu.Unlock()
		return nil, ErrQueueFull(depth)
	}
	ids := make([]string, 0, len(subs))
	enqueued := make([]*job, 0, len(subs))
	for _, sub := range subs {
		jctx, cancel := context.WithCancel(context.Background())
		j := &job{
			id:       uuid.NewString(),
			sub:      sub,
			status:   types.JobPending,
			ctx:      jctx,
			cancel:   cancel,
			done:     make(chan struct{}),
			enqueued: time.Now(),
		}
		s.jobs[j.id] = j
		s.pending <- j // capacity checked above, never blocks
		ids = append(ids, j.id)
		enqueued = append(enqueued, j)
	}
	depth := len(s.pending)
	s.mu.Unlock()

	metrics.SetQueueDepth(depth)
	for _, j := range enqueued {
		s.zlog.Debug().Str("job", j.id).Str("file", j.sub.Filename).Msg("job enqueued")
		s.cfg.Publisher.Publish(events.Event{Name: "job_enqueued", Subject: j.id})
	}
	return ids, nil
}

// Cancel requests cancellation of a job. A queued job is cancelled
// immediately; a running job stops at its next stage boundary. Cancelling a
// finished job is a no-op.
func (s *Scheduler) Cancel(id string) error {
	s.mu.Lock()
	j, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return ErrUnknownJob(id)
	}
	switch j.status {
	case types.JobPending:
		s.mu.Unlock()
		s.cancelPending(j)
		return nil
	case types.JobRunning:
		s.mu.Unlock()
		j.cancel()
		s.zlog.Debug().Str("job", id).Msg("cancel requested for running job")
		return nil
	default:
		s.mu.Unlock()
		return nil
	}
}

// cancelPending finalizes a job that never ran. The worker that later pops
// it from the queue skips it. If dispatch won the race the job is running
// now; only its context is cancelled and the run path finalizes it.
func (s *Scheduler) cancelPending(j *job) {
	s.mu.Lock()
	if j.status != types.JobPending {
		s.mu.Unlock()
		j.cancel()
		return
	}
	s.setStatusLocked(j, types.JobCancelled)
	j.err = ErrCancelled(j.id)
	s.counts[types.JobCancelled]++
	if j.abandoned {
		delete(s.jobs, j.id)
	}
	s.mu.Unlock()

	j.cancel()
	close(j.done)
	if j.sub.Cleanup != nil {
		j.sub.Cleanup()
	}
	metrics.IncJob(string(types.JobCancelled))
	s.zlog.Info().Str("job", j.id).Msg("job cancelled while queued")
	s.cfg.Publisher.Publish(events.Event{Name: "job_cancelled", Subject: j.id})
}

// Await blocks until the job reaches a terminal status, the caller's context
// ends, or the await limit passes. The job record is released on collection.
// A cancelled job returns the partial result its pipeline produced before
// the cancellation point, together with the cancellation error.
func (s *Scheduler) Await(parent context.Context, id string) (types.TranscriptionResult, error) {
	ctx, cancel := context.WithTimeout(parent, s.cfg.AwaitTimeout)
	defer cancel()
	return s.awaitCtx(parent, ctx, id)
}

// ItemOutcome is the per-slot outcome of a batch await.
type ItemOutcome struct {
	Result types.TranscriptionResult
	Err    error
}

// AwaitBatch collects the given jobs in order, sharing one await limit
// across the whole batch. Each slot carries its own result or error.
func (s *Scheduler) AwaitBatch(parent context.Context, ids []string) []ItemOutcome {
	ctx, cancel := context.WithTimeout(parent, s.cfg.AwaitTimeout)
	defer cancel()
	out := make([]ItemOutcome, len(ids))
	for i, id := range ids {
		out[i].Result, out[i].Err = s.awaitCtx(parent, ctx, id)
	}
	return out
}

func (s *Scheduler) awaitCtx(parent, ctx context.Context, id string) (types.TranscriptionResult, error) {
	s.mu.Lock()
	j, ok := s.jobs[id]
	s.mu.Unlock()
	if !ok {
		return types.TranscriptionResult{}, ErrUnknownJob(id)
	}

	select {
	case <-j.done:
		return s.collect(j)
	case <-ctx.Done():
		s.abandon(j)
		if err := parent.Err(); err != nil {
			return types.TranscriptionResult{}, err
		}
		return types.TranscriptionResult{}, ErrAwaitTimeout(id)
	}
}

// collect releases the job record and hands out its outcome. A cancelled or
// timed-out job can carry both: the partial result it produced before the
// abort and the error describing why it stopped.
func (s *Scheduler) collect(j *job) (types.TranscriptionResult, error) {
	s.mu.Lock()
	delete(s.jobs, j.id)
	res, err := j.result, j.err
	s.mu.Unlock()
	return res, err
}

// abandon marks that nobody will collect the job anymore. It is cancelled,
// and its record is dropped as soon as it reaches a terminal status.
func (s *Scheduler) abandon(j *job) {
	s.mu.Lock()
	if j.status.Terminal() {
		delete(s.jobs, j.id)
		s.mu.Unlock()
		return
	}
	j.abandoned = true
	s.mu.Unlock()
	j.cancel()
}

func (s *Scheduler) worker(dev string) {
	defer s.wg.Done()
	for {
		select {
		case <-s.stop:
			return
		case j := <-s.pending:
			metrics.SetQueueDepth(len(s.pending))
			s.run(dev, j)
		}
	}
}

func (s *Scheduler) run(dev string, j *job) {
	s.mu.Lock()
	if j.status != types.JobPending {
		s.mu.Unlock()
		return
	}
	s.setStatusLocked(j, types.JobRunning)
	j.started = time.Now()
	s.inflight++
	s.mu.Unlock()
	s.cfg.Publisher.Publish(events.Event{Name: "job_started", Subject: j.id, Fields: map[string]any{"device": dev}})

	runCtx, cancel := context.WithTimeout(j.ctx, s.cfg.JobTimeout)
	res, err := s.cfg.Orchestrator.Run(runCtx, pipeline.Request{
		Audio: backend.AudioInput{
			Path:        j.sub.Path,
			Format:      j.sub.Format,
			DurationSec: j.sub.DurationSec,
		},
		Language: j.sub.Options.Language,
		Align:    j.sub.Options.Align,
		Diarize:  j.sub.Options.Diarize,
		Device:   dev,
	})
	cancel()
	s.finish(dev, j, res, err)
}

func (s *Scheduler) finish(dev string, j *job, res types.TranscriptionResult, err error) {
	status := types.JobSuccess
	var jobErr error
	switch {
	case err == nil && len(res.Warnings) > 0:
		status = types.JobPartialSuccess
	case err == nil:
	case errors.Is(err, context.Canceled):
		status, jobErr = types.JobCancelled, ErrCancelled(j.id)
	case errors.Is(err, context.DeadlineExceeded):
		status, jobErr = types.JobFailed, ErrJobTimeout(j.id, s.cfg.JobTimeout)
	default:
		status, jobErr = types.JobFailed, err
	}

	s.mu.Lock()
	s.setStatusLocked(j, status)
	j.result = res
	j.err = jobErr
	s.inflight--
	s.counts[status]++
	if status == types.JobFailed {
		s.lastErr = jobErr.Error()
	}
	if j.abandoned {
		delete(s.jobs, j.id)
	}
	s.mu.Unlock()

	close(j.done)
	if j.sub.Cleanup != nil {
		j.sub.Cleanup()
	}

	dur := time.Since(j.started)
	metrics.IncJob(string(status))
	metrics.SetDeviceFree(dev, s.cfg.Devices.FreeMB(dev))
	ev := s.zlog.Info()
	if jobErr != nil {
		ev = s.zlog.Warn().Err(jobErr)
	}
	ev.Str("job", j.id).Str("device", dev).Str("status", string(status)).Dur("duration", dur).Msg("job finished")
	s.cfg.Publisher.Publish(events.Event{
		Name:    "job_finished",
		Subject: j.id,
		Fields:  map[string]any{"status": string(status), "device": dev},
	})
}

// Stats is a point-in-time snapshot for health and status reporting. It
// never blocks on running jobs.
type Stats struct {
	QueueDepth    int
	MaxQueueDepth int
	Inflight      int
	Counts        map[string]uint64
	LastError     string
}

func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[string]uint64, len(s.counts))
	for k, v := range s.counts {
		counts[string(k)] = v
	}
	return Stats{
		QueueDepth:    len(s.pending),
		MaxQueueDepth: cap(s.pending),
		Inflight:      s.inflight,
		Counts:        counts,
		LastError:     s.lastErr,
	}
}

// Job status transitions. Anything not listed is refused, which makes a
// cancel racing a completion safe.
var transitions = map[types.JobStatus]map[types.JobStatus]bool{
	types.JobPending: {
		types.JobRunning:   true,
		types.JobCancelled: true,
	},
	types.JobRunning: {
		types.JobSuccess:        true,
		types.JobPartialSuccess: true,
		types.JobFailed:         true,
		types.JobCancelled:      true,
	},
}

func (s *Scheduler) setStatusLocked(j *job, to types.JobStatus) bool {
	if !transitions[j.status][to] {
		s.zlog.Warn().
			Str("job", j.id).
			Str("from", string(j.status)).
			Str("to", string(to)).
			Msg("status transition refused")
		return false
	}
	j.status = to
	return true
}
