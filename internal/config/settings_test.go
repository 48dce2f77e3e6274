package config

import "testing"

func TestSplitCSV(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"a,b,c", []string{"a", "b", "c"}},
		{" a , b , c ", []string{"a", "b", "c"}},
		{"a,,c", []string{"a", "c"}},
		{"", nil},
	}
	for _, c := range cases {
		got := splitCSV(c.in)
		if len(got) != len(c.want) {
			t.Fatalf("%q -> %v, want %v", c.in, got, c.want)
		}
		for i := range got {
			if got[i] != c.want[i] {
				t.Fatalf("%q -> %v, want %v", c.in, got, c.want)
			}
		}
	}
}

func TestFromEnvDefaults(t *testing.T) {
	t.Setenv(EnvHFToken, "")
	t.Setenv(EnvModel, "")
	t.Setenv(EnvComputeType, "")
	t.Setenv(EnvDevice, "")
	t.Setenv(EnvDefaultLanguage, "")

	s := FromEnv()
	if s.Model != DefaultModel {
		t.Fatalf("model default: %q", s.Model)
	}
	if s.Device != "auto" {
		t.Fatalf("device default: %q", s.Device)
	}
	if s.DiarizationAvailable() {
		t.Fatalf("diarization should be unavailable without a token")
	}
}

func TestFromEnvExplicit(t *testing.T) {
	t.Setenv(EnvHFToken, "hf_xxx")
	t.Setenv(EnvModel, "medium")
	t.Setenv(EnvComputeType, "INT8")
	t.Setenv(EnvDevice, "CUDA:0,CUDA:1")
	t.Setenv(EnvDefaultLanguage, "EN")

	s := FromEnv()
	if s.HFToken != "hf_xxx" || s.Model != "medium" {
		t.Fatalf("unexpected settings: %+v", s)
	}
	if s.ComputeType != "int8" || s.Device != "cuda:0,cuda:1" || s.DefaultLanguage != "en" {
		t.Fatalf("expected lowercased values: %+v", s)
	}
	if !s.DiarizationAvailable() {
		t.Fatalf("diarization should be available with a token")
	}
}

func TestResolveDevices(t *testing.T) {
	cases := []struct {
		device string
		cuda   bool
		want   []string
	}{
		{"auto", true, []string{"cuda:0"}},
		{"auto", false, []string{"cpu"}},
		{"", false, []string{"cpu"}},
		{"cuda", false, []string{"cuda:0"}},
		{"cpu", true, []string{"cpu"}},
		{"cuda:0,cuda:1", false, []string{"cuda:0", "cuda:1"}},
		{" , ", false, []string{"cpu"}},
	}
	for _, c := range cases {
		got := Settings{Device: c.device}.ResolveDevices(c.cuda)
		if len(got) != len(c.want) {
			t.Fatalf("%q cuda=%v -> %v, want %v", c.device, c.cuda, got, c.want)
		}
		for i := range got {
			if got[i] != c.want[i] {
				t.Fatalf("%q cuda=%v -> %v, want %v", c.device, c.cuda, got, c.want)
			}
		}
	}
}

func TestResolveComputeType(t *testing.T) {
	if got := (Settings{}).ResolveComputeType("cuda:0"); got != "float16" {
		t.Fatalf("cuda default: %q", got)
	}
	if got := (Settings{}).ResolveComputeType("cpu"); got != "int8" {
		t.Fatalf("cpu default: %q", got)
	}
	if got := (Settings{ComputeType: "float32"}).ResolveComputeType("cpu"); got != "float32" {
		t.Fatalf("explicit compute type lost: %q", got)
	}
}
