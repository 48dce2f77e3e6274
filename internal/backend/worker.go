package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"scriberd/pkg/types"
)

// WorkerConfig configures the connection to the inference worker.
type WorkerConfig struct {
	// Bin spawns a child worker process when set.
	Bin  string
	Args []string
	// URL attaches to an already-running worker instead of spawning.
	URL string
	// Host and port range for spawn mode.
	Host    string
	PortMin int
	PortMax int
	// How long a spawned worker may take to become ready.
	StartupTimeout time.Duration
	// Extra environment for the child, on top of the inherited one.
	Env    []string
	Logger zerolog.Logger
}

type workerProc struct {
	cmd   *exec.Cmd
	pid   int
	ready bool
}

// WorkerClient reaches the inference worker over JSON HTTP. In spawn mode it
// owns the child process lifecycle; in attach mode it only issues calls.
type WorkerClient struct {
	cfg WorkerConfig

	mu      sync.Mutex
	baseURL string
	proc    *workerProc

	// Timeout stays 0: every call carries a context deadline instead.
	httpClient *http.Client
	zlog       zerolog.Logger
}

// NewWorkerClient constructs a client. Start must run before capability calls.
func NewWorkerClient(cfg WorkerConfig) *WorkerClient {
	if strings.TrimSpace(cfg.Host) == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.StartupTimeout <= 0 {
		cfg.StartupTimeout = 120 * time.Second
	}
	return &WorkerClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 0},
		zlog:       cfg.Logger.With().Str("component", "worker").Logger(),
	}
}

// Start spawns or attaches to the worker and waits for readiness.
func (c *WorkerClient) Start(ctx context.Context) error {
	if strings.TrimSpace(c.cfg.URL) != "" {
		c.mu.Lock()
		c.baseURL = strings.TrimRight(c.cfg.URL, "/")
		c.mu.Unlock()
		if _, err := c.Ping(ctx); err != nil {
			return ErrUnavailable(fmt.Sprintf("worker at %s not responding: %v", c.cfg.URL, err))
		}
		c.zlog.Info().Str("url", c.cfg.URL).Msg("attached to inference worker")
		return nil
	}
	if strings.TrimSpace(c.cfg.Bin) == "" {
		return ErrUnavailable("no inference worker configured")
	}
	return c.spawn(ctx)
}

func (c *WorkerClient) spawn(ctx context.Context) error {
	port, err := pickPortInRange(c.cfg.Host, c.cfg.PortMin, c.cfg.PortMax)
	if err != nil {
		return err
	}
	baseURL := fmt.Sprintf("http://%s:%d", c.cfg.Host, port)

	args := append([]string(nil), c.cfg.Args...)
	args = append(args, "--host", c.cfg.Host, "--port", strconv.Itoa(port))
	cmd := exec.Command(c.cfg.Bin, args...)
	cmd.Env = append(os.Environ(), c.cfg.Env...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}
	c.zlog.Info().Int("pid", cmd.Process.Pid).Str("url", baseURL).Msg("worker spawned")

	c.mu.Lock()
	c.baseURL = baseURL
	c.proc = &workerProc{cmd: cmd, pid: cmd.Process.Pid}
	c.mu.Unlock()

	// Surface a crash before readiness instead of polling into the void.
	waitErrCh := make(chan error, 1)
	go func() { waitErrCh <- cmd.Wait() }()

	deadline := time.Now().Add(c.cfg.StartupTimeout)
	for {
		if time.Now().After(deadline) {
			c.dropProc()
			_ = cmd.Process.Kill()
			return ErrUnavailable(fmt.Sprintf("worker not ready within %s: %s", c.cfg.StartupTimeout, baseURL))
		}
		select {
		case werr := <-waitErrCh:
			c.dropProc()
			tail := stderr.String()
			if len(tail) > 4096 {
				tail = tail[len(tail)-4096:]
			}
			if werr != nil {
				return ErrUnavailable(fmt.Sprintf("worker exited early: %v; stderr tail: %s", werr, tail))
			}
			return ErrUnavailable("worker exited before ready: " + baseURL)
		case <-ctx.Done():
			c.dropProc()
			_ = cmd.Process.Kill()
			return ctx.Err()
		default:
		}

		pingCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		_, err := c.Ping(pingCtx)
		cancel()
		if err == nil {
			break
		}
		time.Sleep(250 * time.Millisecond)
	}

	c.mu.Lock()
	if c.proc != nil {
		c.proc.ready = true
	}
	c.mu.Unlock()
	c.zlog.Info().Int("pid", cmd.Process.Pid).Msg("worker ready")
	return nil
}

func (c *WorkerClient) dropProc() {
	c.mu.Lock()
	c.proc = nil
	c.baseURL = ""
	c.mu.Unlock()
}

// Stop terminates a spawned worker, SIGTERM first, Kill after a grace period.
// Attach mode is a no-op.
func (c *WorkerClient) Stop() {
	c.mu.Lock()
	p := c.proc
	c.proc = nil
	c.mu.Unlock()
	if p == nil || p.cmd == nil || p.cmd.Process == nil {
		return
	}
	_ = p.cmd.Process.Signal(syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		_, _ = p.cmd.Process.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		_ = p.cmd.Process.Kill()
		_, _ = p.cmd.Process.Wait()
	}
	c.zlog.Info().Int("pid", p.pid).Msg("worker stopped")
}

func (c *WorkerClient) base() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.baseURL == "" {
		return "", ErrUnavailable("no inference worker configured")
	}
	return c.baseURL, nil
}

// Worker wire payloads.
type loadRequest struct {
	Stage       string `json:"stage"`
	Model       string `json:"model,omitempty"`
	Language    string `json:"language,omitempty"`
	Device      string `json:"device"`
	ComputeType string `json:"compute_type,omitempty"`
	AuthToken   string `json:"auth_token,omitempty"`
}

type loadResponse struct {
	Ref string `json:"ref"`
}

type unloadRequest struct {
	Ref string `json:"ref"`
}

type transcribeRequest struct {
	Ref       string `json:"ref"`
	Path      string `json:"path"`
	Language  string `json:"language,omitempty"`
	BatchSize int    `json:"batch_size,omitempty"`
}

type transcribeResponse struct {
	Language string          `json:"language"`
	Segments []types.Segment `json:"segments"`
}

type alignRequest struct {
	Ref      string          `json:"ref"`
	Path     string          `json:"path"`
	Language string          `json:"language"`
	Segments []types.Segment `json:"segments"`
}

type alignResponse struct {
	Segments     []types.Segment `json:"segments"`
	WordSegments []types.Word    `json:"word_segments"`
}

type diarizeRequest struct {
	Ref  string `json:"ref"`
	Path string `json:"path"`
}

type diarizeResponse struct {
	Turns []types.SpeakerTurn `json:"turns"`
}

type workerError struct {
	Error string `json:"error"`
}

func (c *WorkerClient) Load(ctx context.Context, spec ModelSpec) (ModelRef, error) {
	var out loadResponse
	in := loadRequest{
		Stage:       string(spec.Stage),
		Model:       spec.Name,
		Language:    spec.Language,
		Device:      spec.Device,
		ComputeType: spec.ComputeType,
		AuthToken:   spec.AuthToken,
	}
	if err := c.doJSON(ctx, "/models/load", in, &out); err != nil {
		return "", err
	}
	if out.Ref == "" {
		return "", fmt.Errorf("worker returned empty model ref for %s", spec.Key())
	}
	return ModelRef(out.Ref), nil
}

func (c *WorkerClient) Release(ctx context.Context, ref ModelRef) error {
	return c.doJSON(ctx, "/models/unload", unloadRequest{Ref: string(ref)}, nil)
}

func (c *WorkerClient) Transcribe(ctx context.Context, ref ModelRef, in AudioInput, language string, batchSize int) (Transcript, error) {
	var out transcribeResponse
	req := transcribeRequest{Ref: string(ref), Path: in.Path, Language: language, BatchSize: batchSize}
	if err := c.doJSON(ctx, "/transcribe", req, &out); err != nil {
		return Transcript{}, err
	}
	return Transcript{Language: out.Language, Segments: out.Segments}, nil
}

func (c *WorkerClient) Align(ctx context.Context, ref ModelRef, in AudioInput, language string, segments []types.Segment) (Aligned, error) {
	var out alignResponse
	req := alignRequest{Ref: string(ref), Path: in.Path, Language: language, Segments: segments}
	if err := c.doJSON(ctx, "/align", req, &out); err != nil {
		return Aligned{}, err
	}
	return Aligned{Segments: out.Segments, Words: out.WordSegments}, nil
}

func (c *WorkerClient) Diarize(ctx context.Context, ref ModelRef, in AudioInput) ([]types.SpeakerTurn, error) {
	var out diarizeResponse
	if err := c.doJSON(ctx, "/diarize", diarizeRequest{Ref: string(ref), Path: in.Path}, &out); err != nil {
		return nil, err
	}
	return out.Turns, nil
}

func (c *WorkerClient) Ping(ctx context.Context) (WorkerInfo, error) {
	base, err := c.base()
	if err != nil {
		return WorkerInfo{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/healthz", nil)
	if err != nil {
		return WorkerInfo{}, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return WorkerInfo{}, ctx.Err()
		}
		return WorkerInfo{}, ErrUnavailable("worker unreachable: " + err.Error())
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return WorkerInfo{}, ErrUnavailable("worker health: " + resp.Status)
	}
	var info WorkerInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return WorkerInfo{}, fmt.Errorf("decode worker health: %w", err)
	}
	return info, nil
}

// doJSON posts in to path and decodes the response into out when non-nil.
// Non-2xx responses become classified errors.
func (c *WorkerClient) doJSON(ctx context.Context, path string, in, out any) error {
	base, err := c.base()
	if err != nil {
		return err
	}
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrUnavailable("worker unreachable: " + err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode worker response for %s: %w", path, err)
		}
		return nil
	}

	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := strings.TrimSpace(string(b))
	var we workerError
	if json.Unmarshal(b, &we) == nil && we.Error != "" {
		msg = we.Error
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return ErrAuth(msg)
	case resp.StatusCode == http.StatusServiceUnavailable:
		return ErrUnavailable(msg)
	default:
		return fmt.Errorf("worker %s %s: %s", path, resp.Status, msg)
	}
}

func pickPortInRange(host string, start, end int) (int, error) {
	if start <= 0 || end < start {
		return pickFreePort(host)
	}
	for p := start; p <= end; p++ {
		l, err := net.Listen("tcp", fmt.Sprintf("%s:%d", host, p))
		if err != nil {
			continue
		}
		_ = l.Close()
		return p, nil
	}
	return 0, fmt.Errorf("no free port in range %d-%d", start, end)
}

func pickFreePort(host string) (int, error) {
	l, err := net.Listen("tcp", host+":0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	addr := l.Addr().String()
	lastColon := strings.LastIndex(addr, ":")
	if lastColon < 0 {
		return 0, fmt.Errorf("unexpected addr: %s", addr)
	}
	return strconv.Atoi(addr[lastColon+1:])
}
