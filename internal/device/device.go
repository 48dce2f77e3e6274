// Package device arbitrates the accelerator pool: exclusive execution slots
// and a declared memory budget per device. Nothing here touches hardware;
// budgets are configuration and the inference worker does the real allocation.
package device

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"scriberd/pkg/types"
)

// Config sizes the pool. Every listed device gets the same slot count and
// memory budget.
type Config struct {
	// Device ids, e.g. [cuda:0 cuda:1] or [cpu].
	Devices []string
	// Exclusive execution slots per device.
	Slots int
	// Memory budget per device in MB.
	BudgetMB int
	// Headroom kept free on top of reservations in MB.
	MarginMB int
	// Free-memory threshold below which the device counts as under
	// pressure; idle sweeps use this. Usually the largest model footprint.
	PressureMB int
	Logger     zerolog.Logger
}

// Evictor frees idle model memory on a device, oldest idle first, and
// returns the MB actually freed. Implemented by the model registry; wired
// via SetEvictor because the two sides reference each other.
type Evictor interface {
	EvictIdle(device string, needMB int) int
}

type deviceState struct {
	id  string
	sem *semaphore.Weighted

	mu         sync.Mutex
	reservedMB int
	busySlots  int
}

// budget - margin - reserved; callers hold d.mu.
func (d *deviceState) freeLocked(cfg Config) int {
	return cfg.BudgetMB - cfg.MarginMB - d.reservedMB
}

// Manager tracks slots and memory for each configured device.
type Manager struct {
	cfg   Config
	order []string
	byID  map[string]*deviceState

	mu      sync.Mutex
	evictor Evictor

	zlog zerolog.Logger
}

// NewManager builds the pool from cfg. An empty device list becomes [cpu]
// and a zero slot count becomes 1; budget defaults are the config loader's
// job, so a zero budget here grants nothing.
func NewManager(cfg Config) *Manager {
	if len(cfg.Devices) == 0 {
		cfg.Devices = []string{"cpu"}
	}
	if cfg.Slots <= 0 {
		cfg.Slots = 1
	}
	m := &Manager{
		cfg:  cfg,
		byID: make(map[string]*deviceState, len(cfg.Devices)),
		zlog: cfg.Logger.With().Str("component", "device").Logger(),
	}
	for _, id := range cfg.Devices {
		if _, dup := m.byID[id]; dup {
			continue
		}
		m.order = append(m.order, id)
		m.byID[id] = &deviceState{id: id, sem: semaphore.NewWeighted(int64(cfg.Slots))}
	}
	return m
}

// SetEvictor installs the registry-side eviction hook.
func (m *Manager) SetEvictor(e Evictor) {
	m.mu.Lock()
	m.evictor = e
	m.mu.Unlock()
}

func (m *Manager) getEvictor() Evictor {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.evictor
}

// Devices returns the configured device ids in stable order.
func (m *Manager) Devices() []string {
	return append([]string(nil), m.order...)
}

// Primary returns the first configured device.
func (m *Manager) Primary() string {
	return m.order[0]
}

// CUDAAvailable reports whether any configured device is a CUDA device.
func (m *Manager) CUDAAvailable() bool {
	for _, id := range m.order {
		if strings.HasPrefix(id, "cuda") {
			return true
		}
	}
	return false
}

// Slots returns the per-device slot count.
func (m *Manager) Slots() int { return m.cfg.Slots }

// Lease grants an exclusive execution slot on the device, waiting FIFO until
// one frees up or ctx ends. estMB is the additional memory the caller expects
// to need; when it does not fit, idle models are evicted first and the lease
// fails with a resource-exhausted error if the device stays short. The lease
// must be released exactly once; Release is safe to call twice.
func (m *Manager) Lease(ctx context.Context, device string, estMB int) (*Lease, error) {
	d := m.byID[device]
	if d == nil {
		return nil, fmt.Errorf("unknown device: %s", device)
	}
	if err := d.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	if err := m.ensureHeadroom(d, estMB); err != nil {
		d.sem.Release(1)
		return nil, err
	}
	d.mu.Lock()
	d.busySlots++
	d.mu.Unlock()
	return &Lease{m: m, d: d, Device: device}, nil
}

// ensureHeadroom evicts idle model memory until estMB fits. It reserves
// nothing; Reserve does the bookkeeping when a load actually happens.
func (m *Manager) ensureHeadroom(d *deviceState, estMB int) error {
	if estMB <= 0 {
		return nil
	}
	deadline := time.Now().Add(time.Second)
	for {
		d.mu.Lock()
		free := d.freeLocked(m.cfg)
		d.mu.Unlock()
		if estMB <= free {
			return nil
		}
		ev := m.getEvictor()
		if ev == nil {
			return ErrResourceExhausted(d.id, estMB-free)
		}
		freed := ev.EvictIdle(d.id, estMB-free)
		if freed <= 0 || time.Now().After(deadline) {
			return ErrResourceExhausted(d.id, estMB-free)
		}
	}
}

// Reserve books mb on the device for a model load, evicting idle models when
// needed. The registry calls this before asking the worker to load.
func (m *Manager) Reserve(device string, mb int) error {
	d := m.byID[device]
	if d == nil {
		return fmt.Errorf("unknown device: %s", device)
	}
	if mb <= 0 {
		return nil
	}
	deadline := time.Now().Add(time.Second)
	for {
		d.mu.Lock()
		free := d.freeLocked(m.cfg)
		if mb <= free {
			d.reservedMB += mb
			d.mu.Unlock()
			return nil
		}
		d.mu.Unlock()
		ev := m.getEvictor()
		if ev == nil {
			return ErrResourceExhausted(d.id, mb-free)
		}
		freed := ev.EvictIdle(d.id, mb-free)
		if freed <= 0 || time.Now().After(deadline) {
			return ErrResourceExhausted(d.id, mb-free)
		}
	}
}

// Free returns mb booked by Reserve.
func (m *Manager) Free(device string, mb int) {
	d := m.byID[device]
	if d == nil || mb <= 0 {
		return
	}
	d.mu.Lock()
	d.reservedMB -= mb
	if d.reservedMB < 0 {
		m.zlog.Warn().Str("device", device).Int("reserved_mb", d.reservedMB).Msg("reservation accounting went negative")
		d.reservedMB = 0
	}
	d.mu.Unlock()
}

// UnderPressure reports whether free memory fell below the pressure
// threshold. The registry's idle sweep keys off this.
func (m *Manager) UnderPressure(device string) bool {
	d := m.byID[device]
	if d == nil {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.freeLocked(m.cfg) < m.cfg.PressureMB
}

// FreeMB returns currently grantable memory on the device.
func (m *Manager) FreeMB(device string) int {
	d := m.byID[device]
	if d == nil {
		return 0
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.freeLocked(m.cfg)
}

// Snapshot reports slot and memory state for all devices. Read-only, safe
// under load.
func (m *Manager) Snapshot() []types.DeviceStatus {
	out := make([]types.DeviceStatus, 0, len(m.order))
	for _, id := range m.order {
		d := m.byID[id]
		d.mu.Lock()
		out = append(out, types.DeviceStatus{
			ID:         id,
			SlotsTotal: m.cfg.Slots,
			SlotsBusy:  d.busySlots,
			TotalMB:    m.cfg.BudgetMB,
			ReservedMB: d.reservedMB,
			FreeMB:     d.freeLocked(m.cfg),
		})
		d.mu.Unlock()
	}
	return out
}

// Lease is an exclusive slot grant. Release returns the slot; double release
// is a no-op.
type Lease struct {
	m      *Manager
	d      *deviceState
	Device string
	once   sync.Once
}

func (l *Lease) Release() {
	if l == nil {
		return
	}
	l.once.Do(func() {
		l.d.mu.Lock()
		l.d.busySlots--
		l.d.mu.Unlock()
		l.d.sem.Release(1)
	})
}
