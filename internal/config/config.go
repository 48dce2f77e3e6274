package config

// Defaults applied by ApplyDefaults for fields left unset.
const (
	DefaultAddr            = ":8000"
	DefaultMaxQueueDepth   = 64
	DefaultJobTimeoutSec   = 600
	DefaultAwaitTimeoutSec = 900
	DefaultMaxUploadMB     = 512
	DefaultBatchSize       = 16
	DefaultDeviceSlots     = 1
	DefaultBudgetMB        = 8192
	DefaultMarginMB        = 512
	DefaultIdleTTLSec      = 300
	DefaultFootprintASR    = 3000
	DefaultFootprintAlign  = 900
	DefaultFootprintDiar   = 1200
	DefaultWorkerStartSec  = 120
	DefaultWorkerPortMin   = 30500
	DefaultWorkerPortMax   = 30999
	DefaultLogLevel        = "info"
	DefaultLogMaxSizeMB    = 100
	DefaultLogMaxBackups   = 3
)

// Config holds runtime parameters for the daemon, loadable from a file.
// Zero values mean "unspecified" and are replaced by ApplyDefaults.
type Config struct {
	// Listen address for the HTTP API.
	Addr string `json:"addr" yaml:"addr" toml:"addr"`
	// Maximum number of jobs waiting for a device slot before submissions
	// are rejected.
	MaxQueueDepth int `json:"max_queue_depth" yaml:"max_queue_depth" toml:"max_queue_depth"`
	// Per-job execution budget in seconds; exceeded jobs are cancelled
	// cooperatively.
	JobTimeoutSec int `json:"job_timeout_sec" yaml:"job_timeout_sec" toml:"job_timeout_sec"`
	// Budget in seconds an HTTP request waits for its job before 504.
	AwaitTimeoutSec int `json:"await_timeout_sec" yaml:"await_timeout_sec" toml:"await_timeout_sec"`
	// Upload size cap in MB per file.
	MaxUploadMB int `json:"max_upload_mb" yaml:"max_upload_mb" toml:"max_upload_mb"`
	// Inference batch size passed to the worker for transcription.
	BatchSize int `json:"batch_size" yaml:"batch_size" toml:"batch_size"`
	// Exclusive execution slots per device.
	DeviceSlots int `json:"device_slots" yaml:"device_slots" toml:"device_slots"`
	// Device memory budget in MB per device.
	BudgetMB int `json:"budget_mb" yaml:"budget_mb" toml:"budget_mb"`
	// Headroom in MB kept free on top of model footprints.
	MarginMB int `json:"margin_mb" yaml:"margin_mb" toml:"margin_mb"`
	// Seconds a zero-ref model handle may idle before a pressure sweep may
	// evict it.
	IdleTTLSec int `json:"idle_ttl_sec" yaml:"idle_ttl_sec" toml:"idle_ttl_sec"`
	// Estimated per-stage model footprints in MB.
	Footprints Footprints `json:"footprints_mb" yaml:"footprints_mb" toml:"footprints_mb"`
	// Load the default speech model at startup instead of on first use.
	Preload bool `json:"preload" yaml:"preload" toml:"preload"`
	// Optional directory watched for dropped audio files.
	SpoolDir string `json:"spool_dir" yaml:"spool_dir" toml:"spool_dir"`
	// Inference worker process settings.
	Worker Worker `json:"worker" yaml:"worker" toml:"worker"`
	// Logging settings.
	Log Log `json:"log" yaml:"log" toml:"log"`
	// Enable permissive CORS on the API.
	CORSEnabled bool `json:"cors_enabled" yaml:"cors_enabled" toml:"cors_enabled"`
}

// Footprints estimates device memory per stage model in MB. The daemon has no
// local weight files to stat, so sizing is declared, not measured.
type Footprints struct {
	ASR     int `json:"asr" yaml:"asr" toml:"asr"`
	Align   int `json:"align" yaml:"align" toml:"align"`
	Diarize int `json:"diarize" yaml:"diarize" toml:"diarize"`
}

// Worker configures how the daemon reaches its inference worker. Exactly one
// of Bin (spawn a child process) or URL (attach to a running worker) is used;
// when both are empty every capability call fails as unavailable.
type Worker struct {
	Bin               string   `json:"bin" yaml:"bin" toml:"bin"`
	Args              []string `json:"args" yaml:"args" toml:"args"`
	URL               string   `json:"url" yaml:"url" toml:"url"`
	PortMin           int      `json:"port_min" yaml:"port_min" toml:"port_min"`
	PortMax           int      `json:"port_max" yaml:"port_max" toml:"port_max"`
	StartupTimeoutSec int      `json:"startup_timeout_sec" yaml:"startup_timeout_sec" toml:"startup_timeout_sec"`
}

// Log configures the zerolog sink.
type Log struct {
	Level string `json:"level" yaml:"level" toml:"level"`
	// When set, logs rotate in this file instead of going to stderr.
	File       string `json:"file" yaml:"file" toml:"file"`
	MaxSizeMB  int    `json:"max_size_mb" yaml:"max_size_mb" toml:"max_size_mb"`
	MaxBackups int    `json:"max_backups" yaml:"max_backups" toml:"max_backups"`
}

// ApplyDefaults fills unset fields in place.
func (c *Config) ApplyDefaults() {
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.MaxQueueDepth <= 0 {
		c.MaxQueueDepth = DefaultMaxQueueDepth
	}
	if c.JobTimeoutSec <= 0 {
		c.JobTimeoutSec = DefaultJobTimeoutSec
	}
	if c.AwaitTimeoutSec <= 0 {
		c.AwaitTimeoutSec = DefaultAwaitTimeoutSec
	}
	if c.MaxUploadMB <= 0 {
		c.MaxUploadMB = DefaultMaxUploadMB
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.DeviceSlots <= 0 {
		c.DeviceSlots = DefaultDeviceSlots
	}
	if c.BudgetMB <= 0 {
		c.BudgetMB = DefaultBudgetMB
	}
	if c.MarginMB <= 0 {
		c.MarginMB = DefaultMarginMB
	}
	if c.IdleTTLSec <= 0 {
		c.IdleTTLSec = DefaultIdleTTLSec
	}
	if c.Footprints.ASR <= 0 {
		c.Footprints.ASR = DefaultFootprintASR
	}
	if c.Footprints.Align <= 0 {
		c.Footprints.Align = DefaultFootprintAlign
	}
	if c.Footprints.Diarize <= 0 {
		c.Footprints.Diarize = DefaultFootprintDiar
	}
	if c.Worker.PortMin <= 0 {
		c.Worker.PortMin = DefaultWorkerPortMin
	}
	if c.Worker.PortMax <= 0 {
		c.Worker.PortMax = DefaultWorkerPortMax
	}
	if c.Worker.StartupTimeoutSec <= 0 {
		c.Worker.StartupTimeoutSec = DefaultWorkerStartSec
	}
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.MaxSizeMB <= 0 {
		c.Log.MaxSizeMB = DefaultLogMaxSizeMB
	}
	if c.Log.MaxBackups <= 0 {
		c.Log.MaxBackups = DefaultLogMaxBackups
	}
}
