package types

// TranscriptionResult is the response body for POST /transcribe/.
type TranscriptionResult struct {
	// Full transcript, segment texts joined in order.
	// example: hello and welcome back to the show
	Text string `json:"text" example:"hello and welcome back to the show"`
	// Detected or caller-forced language code.
	// example: en
	Language string `json:"language" example:"en"`
	// Audio duration in seconds, probed from the upload when known.
	// example: 10.0
	Duration float64 `json:"duration,omitempty" example:"10.0"`
	// Ordered speech segments.
	Segments []Segment `json:"segments"`
	// Flat word list across all segments, present when alignment ran.
	WordSegments []Word `json:"word_segments,omitempty"`
	// Raw diarization turns, present when diarization ran.
	Diarization []SpeakerTurn `json:"diarization,omitempty"`
	// True when speaker labels were assigned to the transcript.
	// example: false
	DiarizationApplied bool `json:"diarization_applied"`
	// Notices for optional stages that failed without aborting the job.
	// example: ["alignment degraded: model load failed"]
	Warnings []string `json:"warnings,omitempty"`
}

// BatchItem is the per-file outcome inside a batch response. Items keep the
// order of the uploaded files regardless of completion order.
type BatchItem struct {
	// Original filename of the upload.
	// example: meeting.wav
	Filename string `json:"filename" example:"meeting.wav"`
	// "success" or "error". Degraded jobs still count as success and carry
	// warnings in the result.
	// example: success
	Status string `json:"status" example:"success"`
	// Present when Status is "success".
	Result *TranscriptionResult `json:"result,omitempty"`
	// Present when Status is "error".
	// example: transcription failed: audio decode error
	Error string `json:"error,omitempty"`
}

// BatchResponse wraps the results of POST /transcribe/batch/.
type BatchResponse struct {
	// Per-file results, positionally matching the uploads.
	Results []BatchItem `json:"results"`
}

// RootResponse is the service banner returned by GET /.
type RootResponse struct {
	// example: ok
	Status string `json:"status" example:"ok"`
	// example: scriberd
	Service string `json:"service" example:"scriberd"`
	// Primary inference device.
	// example: cuda
	Device string `json:"device" example:"cuda"`
	// Default speech model selector.
	// example: large-v3
	Model string `json:"model" example:"large-v3"`
	// Capabilities exposed by this deployment.
	// example: ["transcription","alignment","diarization"]
	Features []string `json:"features"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	// example: healthy
	Status string `json:"status" example:"healthy"`
	// Whether a CUDA device is configured and reachable.
	// example: true
	CUDAAvailable bool `json:"cuda_available" example:"true"`
	// Primary inference device.
	// example: cuda
	Device string `json:"device" example:"cuda"`
	// Whether the default speech model is resident.
	// example: true
	ModelLoaded bool `json:"model_loaded" example:"true"`
	// Whether diarization is usable (credential configured).
	// example: false
	DiarizationAvailable bool `json:"diarization_available" example:"false"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: no file provided
	Error string `json:"error" example:"no file provided"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
}

// ModelStatus summarizes one resident model handle for /status.
type ModelStatus struct {
	// Pipeline stage the model serves (asr, align, diarize).
	// example: asr
	Stage string `json:"stage" example:"asr"`
	// Language the handle was loaded for; empty for language-independent models.
	// example: en
	Language string `json:"language,omitempty" example:"en"`
	// Device the model is resident on.
	// example: cuda:0
	Device string `json:"device" example:"cuda:0"`
	// Lifecycle state of the handle (loading, ready).
	// example: ready
	State string `json:"state" example:"ready"`
	// Estimated device memory footprint in MB.
	// example: 3000
	FootprintMB int `json:"footprint_mb" example:"3000"`
	// Number of in-flight stage calls holding the handle.
	// example: 1
	Refs int `json:"refs" example:"1"`
	// Last time the handle was acquired or released (unix seconds).
	// example: 1700000000
	LastUsed int64 `json:"last_used_unix" example:"1700000000"`
}

// DeviceStatus summarizes one accelerator slot pool for /status.
type DeviceStatus struct {
	// Device identifier.
	// example: cuda:0
	ID string `json:"id" example:"cuda:0"`
	// Total exclusive execution slots.
	// example: 1
	SlotsTotal int `json:"slots_total" example:"1"`
	// Slots currently leased.
	// example: 1
	SlotsBusy int `json:"slots_busy" example:"1"`
	// Memory budget in MB.
	// example: 8192
	TotalMB int `json:"total_mb" example:"8192"`
	// Memory reserved by resident models in MB.
	// example: 3900
	ReservedMB int `json:"reserved_mb" example:"3900"`
	// Memory still grantable in MB (budget minus reserved minus margin).
	// example: 3780
	FreeMB int `json:"free_mb" example:"3780"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	// Resident model handles.
	Models []ModelStatus `json:"models"`
	// Accelerator slot pools.
	Devices []DeviceStatus `json:"devices"`
	// Jobs waiting for a slot.
	// example: 2
	QueueDepth int `json:"queue_depth" example:"2"`
	// Queue capacity before submissions are rejected.
	// example: 64
	MaxQueueDepth int `json:"max_queue_depth" example:"64"`
	// Jobs currently executing.
	// example: 1
	Inflight int `json:"inflight" example:"1"`
	// Completed job counts keyed by terminal status.
	JobsTotal map[string]uint64 `json:"jobs_total"`
	// Total number of model loads.
	// example: 4
	LoadsTotal uint64 `json:"loads_total" example:"4"`
	// Total number of evictions performed to free device memory.
	// example: 1
	EvictionsTotal uint64 `json:"evictions_total" example:"1"`
	// Uptime of the server in seconds.
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
	// Server time in unix seconds.
	// example: 1700000000
	ServerTimeUnix int64 `json:"server_time_unix" example:"1700000000"`
	// Overall daemon state (starting, ready).
	// example: ready
	State string `json:"state" example:"ready"`
	// Last error observed by the scheduler, if any.
	LastError string `json:"last_error,omitempty"`
}
