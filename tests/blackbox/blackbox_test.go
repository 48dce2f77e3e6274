package blackbox

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

// findFreePort picks an available TCP port on localhost.
func findFreePort(t *testing.T) (int, func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil { t.Fatalf("listen: %v", err) }
	addr := ln.Addr().String()
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil { t.Fatalf("split: %v", err) }
	cleanup := func(){ _ = ln.Close() }
	var port int
	fmt.Sscanf(portStr, "%d", &port)
	return port, cleanup
}

func projectRootFromThisFile(t *testing.T) string {
	t.Helper()
	_, thisFile, _, ok := runtime.Caller(0)
	if !ok { t.Fatal("runtime.Caller failed") }
	// this file: <root>/tests/blackbox/blackbox_test.go
	bbDir := filepath.Dir(thisFile)
	root := filepath.Dir(filepath.Dir(bbDir))
	return root
}

func buildBinary(t *testing.T) string {
	t.Helper()
	root := projectRootFromThisFile(t)
	outDir := t.TempDir()
	binPath := filepath.Join(outDir, "scriberd")
	cmd := exec.Command("go", "build", "-o", binPath, "./cmd/scriberd")
	cmd.Dir = root
	cmd.Env = append(os.Environ(), "CGO_ENABLED=0")
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("go build failed: %v\n%s", err, string(out))
	}
	return binPath
}

// wavBytes renders silence as a minimal mono 16-bit PCM WAV.
func wavBytes(t *testing.T, seconds float64) []byte {
	t.Helper()
	const sampleRate = 16000
	samples := int(seconds * sampleRate)
	dataLen := samples * 2

	var buf bytes.Buffer
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+dataLen))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // mono
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate*2))
	binary.Write(&buf, binary.LittleEndian, uint16(2))
	binary.Write(&buf, binary.LittleEndian, uint16(16))
	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(dataLen))
	buf.Write(make([]byte, dataLen))
	return buf.Bytes()
}

type serverProc struct {
	cmd  *exec.Cmd
	base string // http base URL, e.g. http://127.0.0.1:18080
}

func startServer(t *testing.T, bin string, port int, extra ...string) *serverProc {
	t.Helper()
	addr := fmt.Sprintf(":%d", port)
	base := fmt.Sprintf("http://127.0.0.1:%d", port)
	args := append([]string{"--addr", addr}, extra...)
	cmd := exec.Command(bin, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	// Pin the model environment so defaults apply regardless of the host.
	cmd.Env = append(os.Environ(),
		"HF_TOKEN=", "WHISPER_MODEL=", "COMPUTE_TYPE=", "DEVICE=", "DEFAULT_LANGUAGE=")
	if err := cmd.Start(); err != nil {
		t.Fatalf("start server: %v", err)
	}
	// Wait for healthz
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err := http.Get(base + "/healthz")
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK { break }
		}
		if time.Now().After(deadline) {
			_ = cmd.Process.Kill()
			t.Fatalf("server did not become healthy in time")
		}
		time.Sleep(50 * time.Millisecond)
	}
	sp := &serverProc{cmd: cmd, base: base}
	t.Cleanup(func(){ _ = cmd.Process.Kill() })
	return sp
}

func get(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, url, nil)
	if err != nil { t.Fatalf("new req: %v", err) }
	resp, err := http.DefaultClient.Do(req)
	if err != nil { t.Fatalf("do: %v", err) }
	b, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, b
}

func postMultipart(t *testing.T, url, field, filename string, data []byte) (*http.Response, []byte) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, filename)
	if err != nil { t.Fatalf("form file: %v", err) }
	if _, err := fw.Write(data); err != nil { t.Fatalf("write part: %v", err) }
	if err := mw.Close(); err != nil { t.Fatalf("close form: %v", err) }
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, url, &buf)
	if err != nil { t.Fatalf("new req: %v", err) }
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := http.DefaultClient.Do(req)
	if err != nil { t.Fatalf("do: %v", err) }
	b, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, b
}

func TestBlackbox_Flow(t *testing.T) {
	// Build server binary and start it with no inference worker.
	bin := buildBinary(t)
	// Reserve a free port, then release listener before starting the server
	port, release := findFreePort(t)
	release()
	sp := startServer(t, bin, port)

	// /healthz
	resp, body := get(t, sp.base+"/healthz")
	if resp.StatusCode != http.StatusOK { t.Fatalf("/healthz %d %s", resp.StatusCode, string(body)) }

	// / banner
	resp, body = get(t, sp.base+"/")
	if resp.StatusCode != http.StatusOK { t.Fatalf("/ %d %s", resp.StatusCode, string(body)) }
	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "application/json") { t.Fatalf("/ content-type=%s", ct) }
	var banner struct {
		Service  string   `json:"service"`
		Model    string   `json:"model"`
		Device   string   `json:"device"`
		Features []string `json:"features"`
	}
	if err := json.Unmarshal(body, &banner); err != nil { t.Fatalf("/ json: %v body=%s", err, string(body)) }
	if banner.Service != "scriberd" { t.Fatalf("service=%q", banner.Service) }
	if banner.Model != "large-v3" { t.Fatalf("model=%q", banner.Model) }
	if banner.Device != "cpu" { t.Fatalf("device=%q", banner.Device) }
	for _, f := range banner.Features {
		if f == "diarization" { t.Fatalf("diarization advertised without a token: %v", banner.Features) }
	}

	// /health
	resp, body = get(t, sp.base+"/health")
	if resp.StatusCode != http.StatusOK { t.Fatalf("/health %d %s", resp.StatusCode, string(body)) }
	var health struct {
		Status        string `json:"status"`
		CUDAAvailable bool   `json:"cuda_available"`
		ModelLoaded   bool   `json:"model_loaded"`
	}
	if err := json.Unmarshal(body, &health); err != nil { t.Fatalf("/health json: %v body=%s", err, string(body)) }
	if health.Status != "healthy" { t.Fatalf("health status=%q", health.Status) }
	if health.CUDAAvailable { t.Fatal("cuda reported without a worker") }
	if health.ModelLoaded { t.Fatal("model reported loaded before any job") }

	// /readyz stays 503 while no worker answers; liveness is separate.
	resp, body = get(t, sp.base+"/readyz")
	if resp.StatusCode != http.StatusServiceUnavailable { t.Fatalf("/readyz %d %s", resp.StatusCode, string(body)) }

	// /status
	resp, body = get(t, sp.base+"/status")
	if resp.StatusCode != http.StatusOK { t.Fatalf("/status %d %s", resp.StatusCode, string(body)) }
	var status struct {
		State         string `json:"state"`
		QueueDepth    int    `json:"queue_depth"`
		MaxQueueDepth int    `json:"max_queue_depth"`
	}
	if err := json.Unmarshal(body, &status); err != nil { t.Fatalf("/status json: %v body=%s", err, string(body)) }
	if status.State != "ok" { t.Fatalf("state=%q", status.State) }
	if status.QueueDepth != 0 { t.Fatalf("queue_depth=%d", status.QueueDepth) }
	if status.MaxQueueDepth <= 0 { t.Fatalf("max_queue_depth=%d", status.MaxQueueDepth) }

	// /metrics carries the request counter incremented by the calls above.
	resp, body = get(t, sp.base+"/metrics")
	if resp.StatusCode != http.StatusOK { t.Fatalf("/metrics %d", resp.StatusCode) }
	if !strings.Contains(string(body), "scriberd_http_requests_total") { t.Fatal("/metrics missing request counter") }
}

func TestBlackbox_Transcribe_NoWorker_503(t *testing.T) {
	bin := buildBinary(t)
	port, release := findFreePort(t)
	release()
	sp := startServer(t, bin, port)

	resp, body := postMultipart(t, sp.base+"/transcribe/", "file", "clip.wav", wavBytes(t, 0.2))
	if resp.StatusCode != http.StatusServiceUnavailable { t.Fatalf("expected 503, got %d, body=%s", resp.StatusCode, string(body)) }
	if resp.Header.Get("Retry-After") == "" { t.Fatal("missing Retry-After on 503") }
	var errResp struct {
		Error string `json:"error"`
		Code  int    `json:"code"`
	}
	if err := json.Unmarshal(body, &errResp); err != nil { t.Fatalf("error json: %v body=%s", err, string(body)) }
	if errResp.Code != http.StatusServiceUnavailable { t.Fatalf("code=%d", errResp.Code) }
	if !strings.Contains(errResp.Error, "no inference worker") { t.Fatalf("error=%q", errResp.Error) }
}

func TestBlackbox_Transcribe_MissingFile_400(t *testing.T) {
	bin := buildBinary(t)
	port, release := findFreePort(t)
	release()
	sp := startServer(t, bin, port)

	resp, body := postMultipart(t, sp.base+"/transcribe/", "audio", "clip.wav", wavBytes(t, 0.2))
	if resp.StatusCode != http.StatusBadRequest { t.Fatalf("expected 400, got %d, body=%s", resp.StatusCode, string(body)) }
	if !strings.Contains(string(body), "file") { t.Fatalf("body=%s", string(body)) }
}

func TestBlackbox_SpoolWritesErrorSibling(t *testing.T) {
	bin := buildBinary(t)
	port, release := findFreePort(t)
	release()
	spoolDir := t.TempDir()
	startServer(t, bin, port, "--spool-dir", spoolDir)

	wavPath := filepath.Join(spoolDir, "dropped.wav")
	if err := os.WriteFile(wavPath, wavBytes(t, 0.2), 0o644); err != nil { t.Fatalf("write wav: %v", err) }

	// Without a worker the job fails and the watcher records the failure in
	// a sibling file instead of a transcript.
	sibling := wavPath + ".json"
	deadline := time.Now().Add(10 * time.Second)
	var raw []byte
	for {
		b, err := os.ReadFile(sibling)
		if err == nil { raw = b; break }
		if time.Now().After(deadline) { t.Fatalf("no result sibling for %s", wavPath) }
		time.Sleep(100 * time.Millisecond)
	}
	var errResp struct{ Error string `json:"error"` }
	if err := json.Unmarshal(raw, &errResp); err != nil { t.Fatalf("sibling json: %v body=%s", err, string(raw)) }
	if !strings.Contains(errResp.Error, "no inference worker") { t.Fatalf("sibling error=%q", errResp.Error) }
}
