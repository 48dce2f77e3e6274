package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"scriberd/internal/audio"
	"scriberd/internal/config"
	"scriberd/internal/scheduler"
	"scriberd/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	Root() types.RootResponse
	Health() types.HealthResponse
	Status() types.StatusResponse
	Ready(ctx context.Context) bool
	Settings() config.Settings
	Transcribe(ctx context.Context, sub scheduler.Submission) (types.TranscriptionResult, error)
	TranscribeBatch(ctx context.Context, subs []scheduler.Submission) ([]scheduler.ItemOutcome, error)
}

func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	// Basic middlewares: request id, real ip, recoverer
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	// Compression for JSON endpoints
	r.Use(middleware.Compress(5))
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})
	r.Use(MetricsMiddleware)
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
		}))
	}

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, svc.Root())
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, svc.Health())
	})

	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, svc.Status())
	})

	r.Post("/transcribe", handleTranscribe(svc))
	r.Post("/transcribe/", handleTranscribe(svc))
	r.Post("/transcribe/batch", handleTranscribeBatch(svc))
	r.Post("/transcribe/batch/", handleTranscribeBatch(svc))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), time.Second)
		defer cancel()
		if svc.Ready(ctx) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("loading"))
	})

	// Prometheus metrics endpoint
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	MountSwagger(r)

	return r
}

// handleTranscribe accepts one audio file as multipart field "file" and
// responds with the finished transcription.
func handleTranscribe(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		fail := func(err error) {
			writeError(w, err)
			logRequest(r, statusFor(err), start, err)
		}

		opts, err := parseOptions(r, svc.Settings())
		if err != nil {
			fail(err)
			return
		}
		files, err := parseUploadForm(w, r, "file")
		if err != nil {
			fail(err)
			return
		}
		defer r.MultipartForm.RemoveAll()

		sub, err := saveUpload(files[0], opts)
		if err != nil {
			fail(err)
			return
		}

		ctx, cancel := joinContexts(serverBaseCtx, r.Context())
		defer cancel()
		res, err := svc.Transcribe(ctx, sub)
		if err != nil {
			// Client gone or server shutting down; nothing useful to write.
			if r.Context().Err() != nil || serverBaseCtx.Err() != nil {
				logRequest(r, 499, start, err)
				return
			}
			fail(err)
			return
		}
		writeJSON(w, res)
		logRequest(r, http.StatusOK, start, nil)
	}
}

// handleTranscribeBatch accepts several audio files as multipart field
// "files". Files are processed as one contiguous batch; each slot of the
// response carries its own result or error, in upload order.
func handleTranscribeBatch(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		fail := func(err error) {
			writeError(w, err)
			logRequest(r, statusFor(err), start, err)
		}

		opts, err := parseOptions(r, svc.Settings())
		if err != nil {
			fail(err)
			return
		}
		files, err := parseUploadForm(w, r, "files")
		if err != nil {
			fail(err)
			return
		}
		defer r.MultipartForm.RemoveAll()

		// A file that cannot be spooled or probed fails alone; the rest of
		// the batch still runs.
		items := make([]types.BatchItem, len(files))
		subs := make([]scheduler.Submission, 0, len(files))
		slots := make([]int, 0, len(files))
		for i, fh := range files {
			items[i].Filename = fh.Filename
			sub, err := saveUpload(fh, opts)
			if err != nil {
				items[i].Status = "error"
				items[i].Error = err.Error()
				continue
			}
			subs = append(subs, sub)
			slots = append(slots, i)
		}

		if len(subs) > 0 {
			ctx, cancel := joinContexts(serverBaseCtx, r.Context())
			defer cancel()
			outs, err := svc.TranscribeBatch(ctx, subs)
			if err != nil {
				if r.Context().Err() != nil || serverBaseCtx.Err() != nil {
					logRequest(r, 499, start, err)
					return
				}
				fail(err)
				return
			}
			for k, out := range outs {
				i := slots[k]
				if out.Err != nil {
					items[i].Status = "error"
					items[i].Error = out.Err.Error()
					continue
				}
				res := out.Result
				items[i].Status = "success"
				items[i].Result = &res
			}
		}

		writeJSON(w, types.BatchResponse{Results: items})
		logRequest(r, http.StatusOK, start, nil)
	}
}

// parseOptions reads the align/diarize/language query parameters. Alignment
// defaults to on, diarization to off.
func parseOptions(r *http.Request, st config.Settings) (types.JobOptions, error) {
	opts := types.JobOptions{Align: true, Language: st.DefaultLanguage}
	q := r.URL.Query()
	if v := q.Get("align"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return opts, ErrValidation(`align must be "true" or "false"`)
		}
		opts.Align = b
	}
	if v := q.Get("diarize"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return opts, ErrValidation(`diarize must be "true" or "false"`)
		}
		opts.Diarize = b
	}
	if v := q.Get("language"); v != "" {
		opts.Language = v
	}
	if opts.Diarize && !st.DiarizationAvailable() {
		return opts, ErrValidation("diarization requires HF_TOKEN to be set")
	}
	return opts, nil
}

// parseUploadForm enforces the upload size cap, parses the multipart body
// and returns the headers for the given field.
func parseUploadForm(w http.ResponseWriter, r *http.Request, field string) ([]*multipart.FileHeader, error) {
	ct := r.Header.Get("Content-Type")
	if !strings.HasPrefix(strings.ToLower(ct), "multipart/form-data") {
		return nil, ErrValidation("Content-Type must be multipart/form-data")
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return nil, &tooLargeError{limit: mbe.Limit}
		}
		return nil, ErrValidation("invalid multipart body")
	}
	files := r.MultipartForm.File[field]
	if len(files) == 0 {
		return nil, ErrValidation(fmt.Sprintf("multipart field %q is required", field))
	}
	return files, nil
}

// saveUpload spools one uploaded file next to the other uploads and probes
// it. The returned submission owns the temp file through its Cleanup.
func saveUpload(fh *multipart.FileHeader, opts types.JobOptions) (scheduler.Submission, error) {
	src, err := fh.Open()
	if err != nil {
		return scheduler.Submission{}, fmt.Errorf("open upload %q: %w", fh.Filename, err)
	}
	defer src.Close()

	ext := strings.ToLower(filepath.Ext(fh.Filename))
	tmp, err := os.CreateTemp(uploadDir, "upload-*"+ext)
	if err != nil {
		return scheduler.Submission{}, fmt.Errorf("spool upload: %w", err)
	}
	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return scheduler.Submission{}, fmt.Errorf("spool upload %q: %w", fh.Filename, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return scheduler.Submission{}, fmt.Errorf("spool upload %q: %w", fh.Filename, err)
	}

	info, err := audio.Probe(tmp.Name())
	if err != nil {
		os.Remove(tmp.Name())
		return scheduler.Submission{}, ErrValidation(fmt.Sprintf("file %q is empty or unreadable", fh.Filename))
	}
	path := tmp.Name()
	return scheduler.Submission{
		Path:        path,
		Filename:    fh.Filename,
		Format:      info.Format,
		DurationSec: info.DurationSec,
		Options:     opts,
		Cleanup:     func() { os.Remove(path) },
	}, nil
}

type tooLargeError struct {
	limit int64
}

func (e *tooLargeError) Error() string {
	return fmt.Sprintf("upload exceeds the %d byte limit", e.limit)
}

func (e *tooLargeError) StatusCode() int { return http.StatusRequestEntityTooLarge }

// writeJSON writes v with a JSON content type.
func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to encode response")
	}
}
