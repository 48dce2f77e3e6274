package config

import (
	"os"
	"strings"
)

// Environment variables read once at startup.
const (
	EnvHFToken         = "HF_TOKEN"
	EnvModel           = "WHISPER_MODEL"
	EnvComputeType     = "COMPUTE_TYPE"
	EnvDevice          = "DEVICE"
	EnvDefaultLanguage = "DEFAULT_LANGUAGE"
	EnvAddr            = "SCRIBERD_ADDR"
	EnvConfigPath      = "SCRIBERD_CONFIG"
	EnvLogLevel        = "SCRIBERD_LOG_LEVEL"
)

// DefaultModel is the speech model used when WHISPER_MODEL is unset.
const DefaultModel = "large-v3"

// Settings captures the process environment once at startup. Components read
// the struct, never os.Getenv, so a changed environment cannot shift behavior
// mid-flight.
type Settings struct {
	// Credential for the gated diarization model. Empty disables diarization.
	// Passed to the inference worker, never logged.
	HFToken string
	// Default speech model selector.
	Model string
	// Inference precision: float16, float32 or int8. Empty means pick by
	// device kind once devices are resolved.
	ComputeType string
	// Requested devices: "cuda:0,cuda:1", "cuda", "cpu" or "auto".
	Device string
	// Language assumed when a request does not force one. Empty means
	// auto-detect.
	DefaultLanguage string
}

// FromEnv reads Settings from the environment.
func FromEnv() Settings {
	return Settings{
		HFToken:         os.Getenv(EnvHFToken),
		Model:           envStr(EnvModel, DefaultModel),
		ComputeType:     strings.ToLower(os.Getenv(EnvComputeType)),
		Device:          strings.ToLower(envStr(EnvDevice, "auto")),
		DefaultLanguage: strings.ToLower(os.Getenv(EnvDefaultLanguage)),
	}
}

// DiarizationAvailable reports whether the gated diarization model can be
// fetched by the worker.
func (s Settings) DiarizationAvailable() bool { return s.HFToken != "" }

// ResolveDevices expands the DEVICE selector into concrete device ids.
// "auto" becomes cuda:0 when the worker reports CUDA, else cpu.
func (s Settings) ResolveDevices(cudaAvailable bool) []string {
	switch s.Device {
	case "", "auto":
		if cudaAvailable {
			return []string{"cuda:0"}
		}
		return []string{"cpu"}
	case "cuda":
		return []string{"cuda:0"}
	case "cpu":
		return []string{"cpu"}
	}
	out := splitCSV(s.Device)
	if len(out) == 0 {
		return []string{"cpu"}
	}
	return out
}

// ResolveComputeType applies the per-device default when COMPUTE_TYPE is
// unset: float16 on cuda, int8 on cpu.
func (s Settings) ResolveComputeType(device string) string {
	if s.ComputeType != "" {
		return s.ComputeType
	}
	if strings.HasPrefix(device, "cuda") {
		return "float16"
	}
	return "int8"
}

// splitCSV splits a comma separated list, trimming spaces and dropping
// empty items. Empty input yields nil.
func splitCSV(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(s, ",") {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
