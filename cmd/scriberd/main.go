package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"scriberd/internal/backend"
	"scriberd/internal/common/fsutil"
	"scriberd/internal/config"
	"scriberd/internal/device"
	"scriberd/internal/httpapi"
	"scriberd/internal/metrics"
	"scriberd/internal/pipeline"
	"scriberd/internal/registry"
	"scriberd/internal/scheduler"
	"scriberd/internal/service"
	"scriberd/internal/spool"
	"scriberd/pkg/types"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var flags struct {
		config    string
		addr      string
		logLevel  string
		logFile   string
		spoolDir  string
		workerBin string
		workerURL string
		preload   bool
		cors      bool
	}
	root := &cobra.Command{
		Use:   "scriberd",
		Short: "Speech-to-text orchestration daemon",
		Long: "scriberd accepts audio uploads over HTTP and orchestrates transcription,\n" +
			"word alignment and speaker diarization on an inference worker process.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var cfg config.Config
			if flags.config != "" {
				path, err := fsutil.ExpandHome(flags.config)
				if err != nil {
					return err
				}
				loaded, err := config.Load(path)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
				cfg = loaded
			}
			// Flags override the file.
			if flags.addr != "" {
				cfg.Addr = flags.addr
			}
			if flags.logLevel != "" {
				cfg.Log.Level = flags.logLevel
			}
			if flags.logFile != "" {
				cfg.Log.File = flags.logFile
			}
			if flags.spoolDir != "" {
				cfg.SpoolDir = flags.spoolDir
			}
			if flags.workerBin != "" {
				cfg.Worker.Bin = flags.workerBin
			}
			if flags.workerURL != "" {
				cfg.Worker.URL = flags.workerURL
			}
			if flags.preload {
				cfg.Preload = true
			}
			if flags.cors {
				cfg.CORSEnabled = true
			}
			cfg.ApplyDefaults()
			return run(cfg, config.FromEnv())
		},
	}

	fl := root.Flags()
	fl.StringVarP(&flags.config, "config", "c", os.Getenv(config.EnvConfigPath), "config file (.yaml, .json or .toml)")
	fl.StringVar(&flags.addr, "addr", os.Getenv(config.EnvAddr), `HTTP listen address (default ":8000")`)
	fl.StringVar(&flags.logLevel, "log-level", os.Getenv(config.EnvLogLevel), "log level: debug, info, warn or error")
	fl.StringVar(&flags.logFile, "log-file", "", "log to this rotating file instead of stderr")
	fl.StringVar(&flags.spoolDir, "spool-dir", "", "watch this directory for dropped audio files")
	fl.StringVar(&flags.workerBin, "worker-bin", "", "spawn this inference worker binary")
	fl.StringVar(&flags.workerURL, "worker-url", "", "attach to a running inference worker")
	fl.BoolVar(&flags.preload, "preload", false, "load the default speech model at startup")
	fl.BoolVar(&flags.cors, "cors", false, "enable permissive CORS")
	return root
}

func run(cfg config.Config, settings config.Settings) error {
	logger, closeLogs := newLogger(cfg.Log)
	defer closeLogs()

	logger.Info().
		Str("version", version).
		Str("model", settings.Model).
		Str("device", settings.Device).
		Bool("diarization", settings.DiarizationAvailable()).
		Msg("scriberd starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Inference worker: spawn a child, attach to a URL, or run without one
	// and answer 503 until a worker is configured.
	var runner backend.Runner = backend.StubRunner{}
	var worker *backend.WorkerClient
	if cfg.Worker.Bin != "" || cfg.Worker.URL != "" {
		worker = backend.NewWorkerClient(backend.WorkerConfig{
			Bin:            cfg.Worker.Bin,
			Args:           cfg.Worker.Args,
			URL:            cfg.Worker.URL,
			PortMin:        cfg.Worker.PortMin,
			PortMax:        cfg.Worker.PortMax,
			StartupTimeout: time.Duration(cfg.Worker.StartupTimeoutSec) * time.Second,
			Logger:         logger,
		})
		startCtx, cancel := context.WithTimeout(ctx, time.Duration(cfg.Worker.StartupTimeoutSec)*time.Second)
		err := worker.Start(startCtx)
		cancel()
		if err != nil {
			if cfg.Worker.Bin != "" {
				// We own the child process; failing to bring it up is fatal.
				return err
			}
			logger.Warn().Err(err).Msg("worker not answering, readiness stays gated")
		}
		runner = worker
	} else {
		logger.Warn().Msg("no inference worker configured, transcription requests will fail")
	}

	cuda := false
	if worker != nil {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if info, err := worker.Ping(pingCtx); err == nil {
			cuda = info.CUDAAvailable
		}
		cancel()
	}
	deviceIDs := settings.ResolveDevices(cuda)
	settings.ComputeType = settings.ResolveComputeType(deviceIDs[0])

	dev := device.NewManager(device.Config{
		Devices:    deviceIDs,
		Slots:      cfg.DeviceSlots,
		BudgetMB:   cfg.BudgetMB,
		MarginMB:   cfg.MarginMB,
		PressureMB: cfg.Footprints.ASR,
		Logger:     logger,
	})
	reg := registry.New(registry.Config{
		Runner:  runner,
		Devices: dev,
		Footprints: map[backend.Stage]int{
			backend.StageASR:     cfg.Footprints.ASR,
			backend.StageAlign:   cfg.Footprints.Align,
			backend.StageDiarize: cfg.Footprints.Diarize,
		},
		IdleTTL:   time.Duration(cfg.IdleTTLSec) * time.Second,
		Settings:  settings,
		Publisher: metrics.Publisher{},
		Logger:    logger,
	})
	dev.SetEvictor(reg)
	reg.StartSweeper(time.Minute)

	orch := pipeline.New(pipeline.Config{
		Runner:    runner,
		Registry:  reg,
		Devices:   dev,
		BatchSize: cfg.BatchSize,
		Logger:    logger,
	})
	sched := scheduler.New(scheduler.Config{
		Orchestrator:  orch,
		Devices:       dev,
		MaxQueueDepth: cfg.MaxQueueDepth,
		JobTimeout:    time.Duration(cfg.JobTimeoutSec) * time.Second,
		AwaitTimeout:  time.Duration(cfg.AwaitTimeoutSec) * time.Second,
		Logger:        logger,
	})
	sched.Start()

	svc := service.New(service.Config{
		Settings:  settings,
		Devices:   dev,
		Registry:  reg,
		Scheduler: sched,
		Runner:    runner,
	})

	if cfg.Preload {
		pctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
		if err := reg.Preload(pctx, dev.Primary()); err != nil {
			logger.Warn().Err(err).Msg("model preload failed, loading lazily instead")
		}
		cancel()
	}

	var watcher *spool.Watcher
	if cfg.SpoolDir != "" {
		dir, err := fsutil.EnsureDir(cfg.SpoolDir)
		if err != nil {
			return fmt.Errorf("spool dir: %w", err)
		}
		w, err := spool.New(spool.Config{
			Dir:       dir,
			Options:   types.JobOptions{Align: true, Language: settings.DefaultLanguage},
			Submitter: sched,
			Logger:    logger,
		})
		if err != nil {
			return fmt.Errorf("spool dir: %w", err)
		}
		w.Start()
		watcher = w
	}

	httpapi.SetLogger(logger)
	httpapi.SetBaseContext(ctx)
	httpapi.SetMaxUploadBytes(int64(cfg.MaxUploadMB) << 20)
	if cfg.CORSEnabled {
		httpapi.SetCORSOptions(true, []string{"*"}, []string{"GET", "POST", "OPTIONS"}, []string{"*"})
	}
	mux := httpapi.NewMux(svc)
	srv := &http.Server{Addr: cfg.Addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.Addr).Msg("scriberd listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	// Shutdown order: stop accepting HTTP, stop the spool feed, drain the
	// scheduler, release models, then the worker process.
	logger.Info().Msg("shutting down")
	shCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shCtx); err != nil {
		logger.Warn().Err(err).Msg("http shutdown incomplete")
	}
	if watcher != nil {
		watcher.Stop()
	}
	if err := sched.Close(shCtx); err != nil {
		logger.Warn().Err(err).Msg("scheduler drain incomplete")
	}
	reg.Close()
	if worker != nil {
		worker.Stop()
	}
	logger.Info().Msg("scriberd stopped")
	return nil
}

// newLogger builds the process logger. With a file configured, output goes
// through a rotating writer; otherwise to stderr.
func newLogger(cfg config.Log) (zerolog.Logger, func()) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	var w io.Writer = os.Stderr
	closeFn := func() {}
	if cfg.File != "" {
		path, err := fsutil.ExpandHome(cfg.File)
		if err != nil {
			path = cfg.File
		}
		lj := &lumberjack.Logger{
			Filename:   path,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			Compress:   true,
		}
		w = lj
		closeFn = func() { _ = lj.Close() }
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger(), closeFn
}
