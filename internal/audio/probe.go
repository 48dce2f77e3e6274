package audio

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	wav "github.com/youpy/go-wav"
)

// Info describes an audio file as far as it can be determined without a full
// decode. Non-WAV containers carry size and sniffed format only; their
// duration is discovered by the inference worker during decode.
type Info struct {
	// Container format: wav, mp3, flac, ogg, m4a or the bare file extension.
	Format string
	// Duration in seconds; 0 when unknown.
	DurationSec float64
	// Sample rate in Hz; 0 when unknown.
	SampleRate int
	// Channel count; 0 when unknown.
	Channels int
	// File size in bytes.
	SizeBytes int64
}

// Probe inspects the file at path. It fails on unreadable or empty files;
// a malformed WAV header is not an error, the worker gets to decide during
// decode.
func Probe(path string) (Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return Info{}, err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return Info{}, err
	}
	if st.Size() == 0 {
		return Info{}, fmt.Errorf("empty file: %s", filepath.Base(path))
	}

	head := make([]byte, 12)
	n, _ := f.Read(head)
	info := Info{
		Format:    detectFormat(head[:n], path),
		SizeBytes: st.Size(),
	}

	if info.Format == "wav" {
		if _, err := f.Seek(0, 0); err != nil {
			return info, nil
		}
		r := wav.NewReader(f)
		if format, err := r.Format(); err == nil {
			info.SampleRate = int(format.SampleRate)
			info.Channels = int(format.NumChannels)
		}
		if d, err := r.Duration(); err == nil {
			info.DurationSec = d.Seconds()
		}
	}
	return info, nil
}

// KnownExtension reports whether name looks like an audio file this service
// accepts from the spool directory.
func KnownExtension(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".wav", ".mp3", ".m4a", ".mp4", ".flac", ".ogg", ".opus", ".webm", ".aac":
		return true
	}
	return false
}

func detectFormat(head []byte, path string) string {
	switch {
	case len(head) >= 12 && bytes.Equal(head[:4], []byte("RIFF")) && bytes.Equal(head[8:12], []byte("WAVE")):
		return "wav"
	case len(head) >= 3 && bytes.Equal(head[:3], []byte("ID3")):
		return "mp3"
	case len(head) >= 2 && head[0] == 0xFF && head[1]&0xE0 == 0xE0:
		return "mp3"
	case len(head) >= 4 && bytes.Equal(head[:4], []byte("fLaC")):
		return "flac"
	case len(head) >= 4 && bytes.Equal(head[:4], []byte("OggS")):
		return "ogg"
	case len(head) >= 12 && bytes.Equal(head[4:8], []byte("ftyp")):
		return "m4a"
	}
	if ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), "."); ext != "" {
		return ext
	}
	return "unknown"
}
