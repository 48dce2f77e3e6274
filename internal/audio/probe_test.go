package audio

import (
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"
)

type wavHeader struct {
	ChunkID       [4]byte
	ChunkSize     uint32
	Format        [4]byte
	Subchunk1ID   [4]byte
	Subchunk1Size uint32
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Subchunk2ID   [4]byte
	Subchunk2Size uint32
}

// writeWAV writes a mono 16-bit PCM file with n zero samples at rate Hz.
func writeWAV(t *testing.T, dir string, rate uint32, n int) string {
	t.Helper()
	p := filepath.Join(dir, "clip.wav")
	f, err := os.Create(p)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer f.Close()

	dataSize := uint32(n * 2)
	h := wavHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     dataSize + 36,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   1,
		SampleRate:    rate,
		ByteRate:      rate * 2,
		BlockAlign:    2,
		BitsPerSample: 16,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}
	if err := binary.Write(f, binary.LittleEndian, h); err != nil {
		t.Fatalf("write header: %v", err)
	}
	if err := binary.Write(f, binary.LittleEndian, make([]int16, n)); err != nil {
		t.Fatalf("write samples: %v", err)
	}
	return p
}

func TestProbeWAV(t *testing.T) {
	p := writeWAV(t, t.TempDir(), 16000, 16000)
	info, err := Probe(p)
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if info.Format != "wav" {
		t.Fatalf("format = %q, want wav", info.Format)
	}
	if info.SampleRate != 16000 || info.Channels != 1 {
		t.Fatalf("unexpected format details: %+v", info)
	}
	if math.Abs(info.DurationSec-1.0) > 0.01 {
		t.Fatalf("duration = %v, want ~1s", info.DurationSec)
	}
	if info.SizeBytes == 0 {
		t.Fatalf("size not set")
	}
}

func TestProbeEmptyFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "empty.wav")
	if err := os.WriteFile(p, nil, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Probe(p); err == nil {
		t.Fatalf("expected error for empty file")
	}
}

func TestProbeMissingFile(t *testing.T) {
	if _, err := Probe(filepath.Join(t.TempDir(), "nope.wav")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestDetectFormat(t *testing.T) {
	cases := []struct {
		name string
		head []byte
		path string
		want string
	}{
		{"id3", []byte("ID3\x04\x00\x00\x00\x00\x00\x00\x00\x00"), "x.mp3", "mp3"},
		{"mpeg-frame", []byte{0xFF, 0xFB, 0x90, 0x00, 0, 0, 0, 0, 0, 0, 0, 0}, "x.bin", "mp3"},
		{"flac", []byte("fLaC\x00\x00\x00\x22\x00\x00\x00\x00"), "x.flac", "flac"},
		{"ogg", []byte("OggS\x00\x02\x00\x00\x00\x00\x00\x00"), "x.ogg", "ogg"},
		{"m4a", []byte("\x00\x00\x00\x20ftypM4A \x00\x00"), "x.m4a", "m4a"},
		{"ext-fallback", []byte("nothing recogniz"), "x.opus", "opus"},
		{"unknown", []byte("nothing recogniz"), "x", "unknown"},
	}
	for _, c := range cases {
		if got := detectFormat(c.head, c.path); got != c.want {
			t.Fatalf("%s: got %q, want %q", c.name, got, c.want)
		}
	}
}

func TestKnownExtension(t *testing.T) {
	for _, name := range []string{"a.wav", "b.MP3", "c.m4a", "d.flac"} {
		if !KnownExtension(name) {
			t.Fatalf("%s should be accepted", name)
		}
	}
	for _, name := range []string{"a.txt", "b.json", "noext", "c.wav.part"} {
		if KnownExtension(name) {
			t.Fatalf("%s should be rejected", name)
		}
	}
}
