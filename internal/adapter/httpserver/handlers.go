package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/fairyhunter13/ai-inference-pipeline/internal/config"
	"github.com/fairyhunter13/ai-inference-pipeline/internal/domain"
	"github.com/fairyhunter13/ai-inference-pipeline/internal/usecase"
)

// Server aggregates the handler dependencies.
type Server struct {
	Cfg      config.Config
	Registry *domain.Registry
	Submit   usecase.SubmitService
	Status   usecase.StatusService

	DBCheck      func(ctx context.Context) error
	BrokerCheck  func(ctx context.Context) error
	StagingCheck func(ctx context.Context) error
	RedisCheck   func(ctx context.Context) error
}

// NewServer constructs a Server with all handlers wired.
func NewServer(cfg config.Config, reg *domain.Registry, submit usecase.SubmitService, status usecase.StatusService) *Server {
	return &Server{Cfg: cfg, Registry: reg, Submit: submit, Status: status}
}

var (
	vldOnce sync.Once
	vld     *validator.Validate
)

func getValidator() *validator.Validate {
	vldOnce.Do(func() { vld = validator.New() })
	return vld
}

// submitFields are the non-file submit inputs, shared between the multipart
// form and the JSON body shape.
type submitFields struct {
	RequestID string `json:"request_id" validate:"omitempty,max=100"`
	Model     string `json:"model" validate:"omitempty,max=200"`
	Priority  int    `json:"priority" validate:"omitempty,min=1,max=10"`
	Params    string `json:"-"`
}

// SubmitHandler accepts POST /v1/jobs/{flavor}. Flavors with file inputs
// take multipart/form-data; parameter-only flavors take a JSON body.
func (s *Server) SubmitHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "flavor")
		f, err := s.Registry.Lookup(name)
		if err != nil {
			writeError(w, r, err)
			return
		}

		var fields submitFields
		var files []usecase.FileInput
		if f.FileInputs > 0 {
			fields, files, err = s.parseMultipart(w, r, f)
		} else {
			fields, err = parseJSONBody(w, r)
		}
		if err != nil {
			if !errors.Is(err, errHandled) {
				writeError(w, r, err)
			}
			return
		}

		if err := getValidator().Struct(fields); err != nil {
			writeError(w, r, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, validationDetail(err)))
			return
		}
		if err := ValidateRequestID(fields.RequestID); err != nil {
			writeError(w, r, err)
			return
		}
		if fields.Params != "" && !json.Valid([]byte(fields.Params)) {
			writeError(w, r, fmt.Errorf("%w: params must be a JSON document", domain.ErrInvalidArgument))
			return
		}

		j, err := s.Submit.Submit(r.Context(), usecase.SubmitInput{
			Flavor:    f.Name,
			RequestID: fields.RequestID,
			Model:     fields.Model,
			Priority:  fields.Priority,
			Params:    fields.Params,
			Files:     files,
		})
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeData(w, http.StatusOK, "job accepted", map[string]any{
			"id":     j.ID,
			"flavor": j.Flavor,
			"status": string(j.Status),
		})
	}
}

// parseMultipart reads the form fields and the flavor's file inputs,
// enforcing the upload cap and the per-flavor MIME allowlist.
func (s *Server) parseMultipart(w http.ResponseWriter, r *http.Request, f domain.Flavor) (submitFields, []usecase.FileInput, error) {
	if !strings.Contains(r.Header.Get("Content-Type"), "multipart/form-data") {
		return submitFields{}, nil, fmt.Errorf("%w: content-type must be multipart/form-data", domain.ErrInvalidArgument)
	}
	maxBytes := s.Cfg.MaxUploadMB * 1024 * 1024
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes*int64(f.FileInputs))
	if err := r.ParseMultipartForm(maxBytes); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "too large") {
			writeData(w, http.StatusRequestEntityTooLarge, "payload too large", map[string]any{"max_mb": s.Cfg.MaxUploadMB})
			return submitFields{}, nil, errHandled
		}
		return submitFields{}, nil, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
	}

	fields := submitFields{
		RequestID: r.FormValue("request_id"),
		Model:     r.FormValue("model"),
		Params:    r.FormValue("params"),
	}
	if p := r.FormValue("priority"); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil {
			return submitFields{}, nil, fmt.Errorf("%w: priority must be an integer", domain.ErrInvalidArgument)
		}
		fields.Priority = n
	}

	fieldNames := []string{"file"}
	if f.FileInputs == 2 {
		fieldNames = []string{"file1", "file2"}
	}
	var files []usecase.FileInput
	for _, fn := range fieldNames {
		file, header, err := r.FormFile(fn)
		if err != nil {
			return submitFields{}, nil, fmt.Errorf("%w: %s file required", domain.ErrInvalidArgument, fn)
		}
		data, err := readAndClose(file)
		if err != nil {
			return submitFields{}, nil, fmt.Errorf("%w: %s read: %v", domain.ErrInvalidArgument, fn, err)
		}
		// Content sniffing; the original filename is never trusted.
		mt := mimetype.Detect(data)
		if !f.AcceptsMIME(mt.String()) {
			writeData(w, http.StatusUnsupportedMediaType, "unsupported media type for "+fn, map[string]any{
				"mime": mt.String(), "accepted": f.MIMEPrefixes,
			})
			return submitFields{}, nil, errHandled
		}
		files = append(files, usecase.FileInput{Name: header.Filename, Reader: bytes.NewReader(data)})
	}
	return fields, files, nil
}

func parseJSONBody(w http.ResponseWriter, r *http.Request) (submitFields, error) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req struct {
		RequestID string          `json:"request_id"`
		Model     string          `json:"model"`
		Priority  int             `json:"priority"`
		Params    json.RawMessage `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return submitFields{}, fmt.Errorf("%w: invalid json", domain.ErrInvalidArgument)
	}
	fields := submitFields{RequestID: req.RequestID, Model: req.Model, Priority: req.Priority}
	if len(req.Params) > 0 && string(req.Params) != "null" {
		fields.Params = string(req.Params)
	}
	return fields, nil
}

// errHandled signals that the handler already wrote the response.
var errHandled = errors.New("response already written")

func readAndClose(rc io.ReadCloser) ([]byte, error) {
	defer func() { _ = rc.Close() }()
	return io.ReadAll(rc)
}

func validationDetail(err error) string {
	if ve, ok := err.(validator.ValidationErrors); ok && len(ve) > 0 {
		return strings.ToLower(ve[0].Field()) + " " + ve[0].Tag()
	}
	return "validation failed"
}

// StatusHandler answers GET /v1/jobs/{id} with ETag support.
func (s *Server) StatusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if id == "" {
			writeError(w, r, fmt.Errorf("%w: id missing", domain.ErrInvalidArgument))
			return
		}
		j, err := s.Status.Get(r.Context(), id)
		if err != nil {
			writeError(w, r, err)
			return
		}

		etag := fmt.Sprintf(`W/"%s-%s-%d"`, j.ID, j.Status, j.UpdatedAt.UnixNano())
		w.Header().Set("ETag", etag)
		if r.Header.Get("If-None-Match") == etag {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		writeData(w, http.StatusOK, "job status", s.jobView(j))
	}
}

func (s *Server) jobView(j domain.Job) map[string]any {
	v := map[string]any{
		"id":                  j.ID,
		"flavor":              j.Flavor,
		"status":              string(j.Status),
		"priority":            j.Priority,
		"webhook_retry_count": j.WebhookRetryCount,
		"created_at":          j.CreatedAt.UTC().Format(time.RFC3339),
		"updated_at":          j.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if j.Model != "" {
		v["model"] = j.Model
	}
	if j.WebhookStatusCode != nil {
		v["webhook_status_code"] = *j.WebhookStatusCode
	}
	if j.Status == domain.JobFailed {
		v["error"] = j.Error
	}
	if j.Status == domain.JobCompleted {
		if f, err := s.Registry.Lookup(j.Flavor); err == nil && f.Artifact == domain.ArtifactFile {
			v["artifact"] = "/v1/jobs/" + j.ID + "/artifact"
		} else if json.Valid([]byte(j.Result)) {
			v["result"] = json.RawMessage(j.Result)
		} else {
			v["result"] = j.Result
		}
	}
	return v
}

// ArtifactHandler streams the artifact file of a completed job.
func (s *Server) ArtifactHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if id == "" {
			writeError(w, r, fmt.Errorf("%w: id missing", domain.ErrInvalidArgument))
			return
		}
		path, err := s.Status.ArtifactPath(r.Context(), id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		http.ServeFile(w, r, path)
	}
}

// HealthzHandler is the liveness probe.
func (s *Server) HealthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeData(w, http.StatusOK, "ok", nil)
	}
}

// ReadyzHandler probes the store, the broker, the staging area and, when
// configured, Redis.
func (s *Server) ReadyzHandler() http.HandlerFunc {
	type check struct {
		Name    string `json:"name"`
		OK      bool   `json:"ok"`
		Details string `json:"details,omitempty"`
	}
	probes := []struct {
		name string
		fn   func() func(context.Context) error
	}{
		{"db", func() func(context.Context) error { return s.DBCheck }},
		{"broker", func() func(context.Context) error { return s.BrokerCheck }},
		{"staging", func() func(context.Context) error { return s.StagingCheck }},
		{"redis", func() func(context.Context) error { return s.RedisCheck }},
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		checks := make([]check, 0, len(probes))
		ok := true
		for _, p := range probes {
			fn := p.fn()
			if fn == nil {
				continue
			}
			c := check{Name: p.name, OK: true}
			if err := fn(ctx); err != nil {
				c.OK = false
				c.Details = err.Error()
				ok = false
			}
			checks = append(checks, c)
		}
		st := http.StatusOK
		msg := "ready"
		if !ok {
			st = http.StatusServiceUnavailable
			msg = "not ready"
		}
		writeData(w, st, msg, map[string]any{"checks": checks})
	}
}
