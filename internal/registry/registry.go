// Package registry tracks which models are resident on which device. Handles
// are refcounted; concurrent first requests for the same model coalesce into
// one worker load, and zero-ref handles are the eviction currency that keeps
// the device budget honest.
package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"scriberd/internal/backend"
	"scriberd/internal/config"
	"scriberd/internal/device"
	"scriberd/internal/events"
	"scriberd/pkg/types"
)

// Config wires the registry to its collaborators.
type Config struct {
	Runner  backend.Runner
	Devices *device.Manager
	// Per-stage footprint estimates in MB. Missing stages fall back to the
	// package defaults from internal/config.
	Footprints map[backend.Stage]int
	// How long a zero-ref handle may idle before a pressure sweep evicts it.
	IdleTTL time.Duration
	// Budget for one worker-side load, detached from job contexts so a
	// cancelled job never aborts a load other jobs are waiting on.
	LoadTimeout time.Duration
	Settings    config.Settings
	Publisher   events.Publisher
	Logger      zerolog.Logger
}

// Handle is a refcounted claim on a resident model.
type Handle struct {
	key         string
	spec        backend.ModelSpec
	ref         backend.ModelRef
	device      string
	footprintMB int

	// guarded by Registry.mu
	refs     int
	lastUsed time.Time
}

// Ref returns the worker-side model ref for stage calls.
func (h *Handle) Ref() backend.ModelRef { return h.ref }

// Device returns the device the model is resident on.
func (h *Handle) Device() string { return h.device }

// Registry owns the handle table. All mutation happens under mu; worker and
// device calls happen outside it.
type Registry struct {
	cfg Config

	mu      sync.Mutex
	handles map[string]*Handle
	loading map[string]backend.ModelSpec
	loads   uint64
	evicts  uint64

	group singleflight.Group
	zlog  zerolog.Logger

	stopSweep chan struct{}
	sweepDone chan struct{}
}

// New builds a Registry. StartSweeper must be called separately when idle
// sweeps are wanted.
func New(cfg Config) *Registry {
	if cfg.Publisher == nil {
		cfg.Publisher = events.NopPublisher{}
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = time.Duration(config.DefaultIdleTTLSec) * time.Second
	}
	if cfg.LoadTimeout <= 0 {
		cfg.LoadTimeout = 10 * time.Minute
	}
	return &Registry{
		cfg:     cfg,
		handles: make(map[string]*Handle),
		loading: make(map[string]backend.ModelSpec),
		zlog:    cfg.Logger.With().Str("component", "registry").Logger(),
	}
}

func (r *Registry) footprint(stage backend.Stage) int {
	if mb, ok := r.cfg.Footprints[stage]; ok && mb > 0 {
		return mb
	}
	switch stage {
	case backend.StageASR:
		return config.DefaultFootprintASR
	case backend.StageAlign:
		return config.DefaultFootprintAlign
	default:
		return config.DefaultFootprintDiar
	}
}

func (r *Registry) specFor(stage backend.Stage, language, dev string) backend.ModelSpec {
	spec := backend.ModelSpec{
		Stage:       stage,
		Device:      dev,
		ComputeType: r.cfg.Settings.ResolveComputeType(dev),
	}
	switch stage {
	case backend.StageASR:
		spec.Name = r.cfg.Settings.Model
	case backend.StageAlign:
		spec.Language = language
	case backend.StageDiarize:
		spec.AuthToken = r.cfg.Settings.HFToken
	}
	return spec
}

func storageKey(spec backend.ModelSpec) string { return spec.Key() + "@" + spec.Device }

// Acquire returns a ready handle for the stage on the device, loading the
// model when absent. Concurrent callers for the same model share one load;
// ctx only bounds this caller's wait, an abandoned load still completes and
// registers for the next request.
func (r *Registry) Acquire(ctx context.Context, stage backend.Stage, language, dev string) (*Handle, error) {
	spec := r.specFor(stage, language, dev)
	key := storageKey(spec)
	for {
		r.mu.Lock()
		if h := r.handles[key]; h != nil {
			h.refs++
			h.lastUsed = time.Now()
			r.mu.Unlock()
			return h, nil
		}
		r.mu.Unlock()

		ch := r.group.DoChan(key, func() (any, error) { return r.load(spec, key) })
		select {
		case res := <-ch:
			if res.Err != nil {
				return nil, res.Err
			}
			// Claim under the lock; an eviction can slip between load
			// and claim, in which case we go around again.
			r.mu.Lock()
			if h := r.handles[key]; h != nil {
				h.refs++
				h.lastUsed = time.Now()
				r.mu.Unlock()
				return h, nil
			}
			r.mu.Unlock()
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// load reserves device memory, asks the worker to load, and registers the
// handle. Runs inside singleflight, at most once per key at a time.
func (r *Registry) load(spec backend.ModelSpec, key string) (*Handle, error) {
	mb := r.footprint(spec.Stage)
	if err := r.cfg.Devices.Reserve(spec.Device, mb); err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.loading[key] = spec
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.loading, key)
		r.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.LoadTimeout)
	defer cancel()
	start := time.Now()
	ref, err := r.cfg.Runner.Load(ctx, spec)
	if err != nil {
		r.cfg.Devices.Free(spec.Device, mb)
		if backend.IsUnavailable(err) {
			return nil, err
		}
		r.zlog.Error().Str("model", key).Err(err).Msg("model load failed")
		return nil, ErrModelLoad(key, err)
	}

	h := &Handle{
		key:         key,
		spec:        spec,
		ref:         ref,
		device:      spec.Device,
		footprintMB: mb,
		lastUsed:    time.Now(),
	}
	r.mu.Lock()
	r.handles[key] = h
	r.loads++
	r.mu.Unlock()

	r.zlog.Info().Str("model", key).Dur("took", time.Since(start)).Int("footprint_mb", mb).Msg("model loaded")
	r.cfg.Publisher.Publish(events.Event{Name: "model_loaded", Subject: key, Fields: map[string]any{"footprint_mb": mb}})
	return h, nil
}

// Release drops one claim on the handle. Zero-ref handles stay resident
// until pressure or an idle sweep evicts them.
func (r *Registry) Release(h *Handle) {
	if h == nil {
		return
	}
	r.mu.Lock()
	h.refs--
	if h.refs < 0 {
		h.refs = 0
		r.zlog.Warn().Str("model", h.key).Msg("release without matching acquire")
	}
	h.lastUsed = time.Now()
	r.mu.Unlock()
}

// EstimateAdditional reports how much device memory a stage acquire would
// newly consume: zero when the model is already resident.
func (r *Registry) EstimateAdditional(stage backend.Stage, language, dev string) int {
	key := storageKey(r.specFor(stage, language, dev))
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handles[key]; ok {
		return 0
	}
	return r.footprint(stage)
}

// Preload loads the ASR model on the device without taking a claim. Failures
// are returned, not fatal; the lazy path stays intact.
func (r *Registry) Preload(ctx context.Context, dev string) error {
	h, err := r.Acquire(ctx, backend.StageASR, "", dev)
	if err != nil {
		return err
	}
	r.Release(h)
	return nil
}

// ModelLoaded reports whether an ASR model is resident on any device.
func (r *Registry) ModelLoaded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, h := range r.handles {
		if h.spec.Stage == backend.StageASR {
			return true
		}
	}
	return false
}

// Counts returns total loads and evictions.
func (r *Registry) Counts() (loads, evictions uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loads, r.evicts
}

// Snapshot lists resident and in-flight model handles for /status, ordered
// by model key.
func (r *Registry) Snapshot() []types.ModelStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.ModelStatus, 0, len(r.handles)+len(r.loading))
	for _, h := range r.handles {
		out = append(out, types.ModelStatus{
			Stage:       string(h.spec.Stage),
			Language:    h.spec.Language,
			Device:      h.device,
			State:       "ready",
			FootprintMB: h.footprintMB,
			Refs:        h.refs,
			LastUsed:    h.lastUsed.Unix(),
		})
	}
	for key, spec := range r.loading {
		if _, ok := r.handles[key]; ok {
			continue
		}
		out = append(out, types.ModelStatus{
			Stage:       string(spec.Stage),
			Language:    spec.Language,
			Device:      spec.Device,
			State:       "loading",
			FootprintMB: r.footprint(spec.Stage),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Stage != out[j].Stage {
			return out[i].Stage < out[j].Stage
		}
		if out[i].Language != out[j].Language {
			return out[i].Language < out[j].Language
		}
		return out[i].Device < out[j].Device
	})
	return out
}
