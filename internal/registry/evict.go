package registry

import (
	"context"
	"time"

	"scriberd/internal/events"
)

// EvictIdle frees zero-ref handles on the device, oldest idle first, until
// needMB is covered or nothing evictable remains. Returns MB freed. Handles
// with claims are never touched, so an in-flight stage cannot lose its model.
func (r *Registry) EvictIdle(dev string, needMB int) int {
	freed := 0
	for freed < needMB {
		v := r.takeVictim(dev, time.Time{})
		if v == nil {
			break
		}
		r.dispose(v)
		freed += v.footprintMB
	}
	return freed
}

// takeVictim removes and returns the oldest idle handle on dev, or nil. When
// olderThan is non-zero only handles idle since before it qualify.
func (r *Registry) takeVictim(dev string, olderThan time.Time) *Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	var victim *Handle
	for _, h := range r.handles {
		if h.device != dev || h.refs > 0 {
			continue
		}
		if !olderThan.IsZero() && h.lastUsed.After(olderThan) {
			continue
		}
		if victim == nil || h.lastUsed.Before(victim.lastUsed) {
			victim = h
		}
	}
	if victim != nil {
		delete(r.handles, victim.key)
		r.evicts++
	}
	return victim
}

// dispose releases the worker-side model and returns the reservation.
// Best effort on the worker call; the accounting must not leak either way.
func (r *Registry) dispose(h *Handle) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := r.cfg.Runner.Release(ctx, h.ref); err != nil {
		r.zlog.Warn().Str("model", h.key).Err(err).Msg("worker release failed")
	}
	r.cfg.Devices.Free(h.device, h.footprintMB)
	r.zlog.Info().Str("model", h.key).Int("footprint_mb", h.footprintMB).Msg("model evicted")
	r.cfg.Publisher.Publish(events.Event{Name: "model_evicted", Subject: h.key, Fields: map[string]any{"footprint_mb": h.footprintMB}})
}

// StartSweeper runs a periodic sweep that evicts handles idle past IdleTTL,
// but only while their device reports memory pressure. Call Close to stop.
func (r *Registry) StartSweeper(interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	r.stopSweep = make(chan struct{})
	r.sweepDone = make(chan struct{})
	go func() {
		defer close(r.sweepDone)
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				r.sweepOnce()
			case <-r.stopSweep:
				return
			}
		}
	}()
}

func (r *Registry) sweepOnce() {
	cutoff := time.Now().Add(-r.cfg.IdleTTL)
	for _, dev := range r.cfg.Devices.Devices() {
		for r.cfg.Devices.UnderPressure(dev) {
			v := r.takeVictim(dev, cutoff)
			if v == nil {
				break
			}
			r.dispose(v)
		}
	}
}

// Close stops the sweeper and releases every idle handle. Busy handles are
// left to the worker's own shutdown.
func (r *Registry) Close() {
	if r.stopSweep != nil {
		close(r.stopSweep)
		<-r.sweepDone
	}
	for _, dev := range r.cfg.Devices.Devices() {
		for {
			v := r.takeVictim(dev, time.Time{})
			if v == nil {
				break
			}
			r.dispose(v)
		}
	}
}
