// Package spool watches a drop directory and runs new audio files through
// the scheduler with default options. Each input gets a sibling result file
// named <input>.json; inputs that already have one are skipped, so the
// directory can be re-scanned safely after a restart. Watcher errors are
// logged and never stop the loop.
package spool

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"scriberd/internal/audio"
	"scriberd/internal/scheduler"
	"scriberd/pkg/types"
)

// Submitter is the slice of the scheduler the watcher needs.
type Submitter interface {
	Submit(sub scheduler.Submission) (string, error)
	Await(ctx context.Context, id string) (types.TranscriptionResult, error)
}

type Config struct {
	// Dir is the watched directory. It must exist.
	Dir string
	// Options applied to every spooled job.
	Options types.JobOptions
	// Submitter receives the jobs, usually the scheduler.
	Submitter Submitter
	Logger    zerolog.Logger

	// SettleInterval is how often a growing file is re-checked before it is
	// considered fully written. SettleTimeout caps the wait; after that the
	// file is probed as-is.
	SettleInterval time.Duration
	SettleTimeout  time.Duration
}

type Watcher struct {
	cfg    Config
	fsw    *fsnotify.Watcher
	zlog   zerolog.Logger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	active map[string]struct{}
}

// New prepares a watcher on cfg.Dir. Start begins delivery.
func New(cfg Config) (*Watcher, error) {
	if cfg.SettleInterval <= 0 {
		cfg.SettleInterval = 200 * time.Millisecond
	}
	if cfg.SettleTimeout <= 0 {
		cfg.SettleTimeout = 10 * time.Second
	}
	st, err := os.Stat(cfg.Dir)
	if err != nil {
		return nil, err
	}
	if !st.IsDir() {
		return nil, &os.PathError{Op: "watch", Path: cfg.Dir, Err: os.ErrInvalid}
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(cfg.Dir); err != nil {
		fsw.Close()
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Watcher{
		cfg:    cfg,
		fsw:    fsw,
		zlog:   cfg.Logger.With().Str("component", "spool").Logger(),
		ctx:    ctx,
		cancel: cancel,
		active: make(map[string]struct{}),
	}, nil
}

// Start scans the directory for files dropped while the service was down,
// then follows filesystem events.
func (w *Watcher) Start() {
	w.zlog.Info().Str("dir", w.cfg.Dir).Msg("spool watcher started")
	w.wg.Add(2)
	go func() {
		defer w.wg.Done()
		w.scan()
	}()
	go func() {
		defer w.wg.Done()
		w.loop()
	}()
}

// Stop ends the watch and waits for in-flight spool jobs to settle.
func (w *Watcher) Stop() {
	w.cancel()
	w.fsw.Close()
	w.wg.Wait()
}

// scan picks up eligible files already present in the directory.
func (w *Watcher) scan() {
	entries, err := os.ReadDir(w.cfg.Dir)
	if err != nil {
		w.zlog.Error().Err(err).Msg("spool scan failed")
		return
	}
	g := new(errgroup.Group)
	g.SetLimit(4)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(w.cfg.Dir, e.Name())
		g.Go(func() error {
			w.handle(path)
			return nil
		})
	}
	g.Wait()
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			path := ev.Name
			w.wg.Add(1)
			go func() {
				defer w.wg.Done()
				w.handle(path)
			}()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.zlog.Error().Err(err).Msg("spool watch error")
		}
	}
}

// handle runs one file through the scheduler and writes the sibling result.
// Duplicate events for a path are dropped while it is in flight.
func (w *Watcher) handle(path string) {
	if !w.eligible(path) {
		return
	}
	if !w.begin(path) {
		return
	}
	defer w.end(path)

	st, err := w.waitSettled(path)
	if err != nil || st.IsDir() {
		return
	}
	info, err := audio.Probe(path)
	if err != nil {
		w.zlog.Warn().Err(err).Str("file", filepath.Base(path)).Msg("spool file unreadable, skipped")
		return
	}

	name := filepath.Base(path)
	id, err := w.cfg.Submitter.Submit(scheduler.Submission{
		Path:        path,
		Filename:    name,
		Format:      info.Format,
		DurationSec: info.DurationSec,
		Options:     w.cfg.Options,
	})
	if err != nil {
		// The file stays in place without a result sibling, so a later event
		// or the next startup scan retries it.
		w.zlog.Warn().Err(err).Str("file", name).Msg("spool submission rejected")
		return
	}
	w.zlog.Info().Str("file", name).Str("job_id", id).Msg("spool file queued")

	res, err := w.cfg.Submitter.Await(w.ctx, id)
	if err != nil {
		if w.ctx.Err() != nil {
			return
		}
		w.zlog.Warn().Err(err).Str("file", name).Str("job_id", id).Msg("spool job failed")
		if werr := writeSibling(resultPath(path), spoolError{Error: err.Error()}); werr != nil {
			w.zlog.Error().Err(werr).Str("file", name).Msg("cannot write spool error file")
		}
		return
	}
	if err := writeSibling(resultPath(path), res); err != nil {
		w.zlog.Error().Err(err).Str("file", name).Msg("cannot write spool result file")
		return
	}
	w.zlog.Info().Str("file", name).Str("job_id", id).Msg("spool result written")
}

func (w *Watcher) eligible(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return false
	}
	if !audio.KnownExtension(base) {
		return false
	}
	if _, err := os.Stat(resultPath(path)); err == nil {
		return false
	}
	return true
}

func (w *Watcher) begin(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, busy := w.active[path]; busy {
		return false
	}
	w.active[path] = struct{}{}
	return true
}

func (w *Watcher) end(path string) {
	w.mu.Lock()
	delete(w.active, path)
	w.mu.Unlock()
}

// waitSettled polls the file size until it stops changing, so half-written
// drops are not probed mid-copy. After SettleTimeout the file is taken as-is.
func (w *Watcher) waitSettled(path string) (os.FileInfo, error) {
	deadline := time.Now().Add(w.cfg.SettleTimeout)
	var last int64 = -1
	for {
		st, err := os.Stat(path)
		if err != nil {
			return nil, err
		}
		if st.IsDir() {
			return st, nil
		}
		if st.Size() == last && st.Size() > 0 {
			return st, nil
		}
		last = st.Size()
		if time.Now().After(deadline) {
			return st, nil
		}
		select {
		case <-w.ctx.Done():
			return nil, w.ctx.Err()
		case <-time.After(w.cfg.SettleInterval):
		}
	}
}

type spoolError struct {
	Error string `json:"error"`
}

func resultPath(input string) string { return input + ".json" }

// writeSibling writes via a temp file and rename so readers never observe a
// partial result. The .tmp name never matches an audio extension, so the
// watcher ignores its own writes.
func writeSibling(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
