// Package aihive delivers job status callbacks to the tenant platform.
//
// Every update is an HTTP PUT to {base}/{request_id} with the status code
// enum and the output payload in the query string. Completed jobs whose
// flavor produces a file artifact ship the artifact as a multipart upload
// instead.
package aihive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/fairyhunter13/ai-inference-pipeline/internal/adapter/observability"
	"github.com/fairyhunter13/ai-inference-pipeline/internal/domain"
)

// inlineOutputLimit is the largest result carried in the output query
// parameter; anything bigger goes out as a multipart file instead.
const inlineOutputLimit = 4 << 10

// Client implements domain.Notifier against the tenant platform's request
// callback endpoint.
type Client struct {
	baseURL  string
	registry *domain.Registry
	hc       *http.Client
}

// New constructs a callback client with the given timeout (10s when zero).
func New(baseURL string, registry *domain.Registry, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:  baseURL,
		registry: registry,
		hc:       &http.Client{Timeout: timeout},
	}
}

// Deliver PUTs the job's current status to the tenant and returns the
// observed HTTP status code. Transport failures return code 0 together with
// the error; callers record the attempt rather than escalate.
func (c *Client) Deliver(ctx domain.Context, j domain.Job) (int, error) {
	output := "{}"
	var filePath string
	switch j.Status {
	case domain.JobCompleted:
		fl, err := c.registry.Lookup(j.Flavor)
		if err != nil {
			return 0, err
		}
		switch {
		case fl.Artifact == domain.ArtifactFile:
			filePath = j.Result
		case len(j.Result) > inlineOutputLimit:
			filePath = ""
			output = "{}"
			// Oversized inline results are shipped as a file body too.
			return c.putMultipartBytes(ctx, j.ID, j.Status, []byte(j.Result))
		default:
			output = j.Result
			if output == "" {
				output = "{}"
			}
		}
	case domain.JobFailed:
		b, _ := json.Marshal(map[string]string{"error": j.Error})
		output = string(b)
	case domain.JobInProgress, domain.JobPending:
		// informational update, empty output
	}

	if filePath != "" {
		return c.putMultipartFile(ctx, j.ID, j.Status, filePath)
	}
	return c.put(ctx, j.ID, j.Status, output, "", nil)
}

func (c *Client) endpoint(id string, status domain.JobStatus, output string) string {
	q := url.Values{}
	q.Set("status", strconv.Itoa(status.WebhookCode()))
	q.Set("output", output)
	return fmt.Sprintf("%s/%s?%s", c.baseURL, url.PathEscape(id), q.Encode())
}

// put performs a single PUT. contentType and body are empty for plain query
// string updates and carry the multipart payload otherwise.
func (c *Client) put(ctx context.Context, id string, status domain.JobStatus, output, contentType string, body io.Reader) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.endpoint(id, status, output), body)
	if err != nil {
		return 0, fmt.Errorf("op=webhook.put: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		observability.ObserveWebhook(string(status), false)
		slog.Warn("webhook delivery failed",
			slog.String("request_id", id),
			slog.String("status", string(status)),
			slog.Any("error", err))
		return 0, fmt.Errorf("op=webhook.put: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)
	observability.ObserveWebhook(string(status), resp.StatusCode == http.StatusOK)
	return resp.StatusCode, nil
}

func (c *Client) putMultipartFile(ctx context.Context, id string, status domain.JobStatus, path string) (int, error) {
	f, err := os.Open(path) // #nosec G304 -- artifact paths come from the job store, not user input
	if err != nil {
		return 0, fmt.Errorf("op=webhook.put: open artifact: %w", err)
	}
	defer func() { _ = f.Close() }()
	return c.putMultipart(ctx, id, status, filepath.Base(path), f)
}

func (c *Client) putMultipartBytes(ctx context.Context, id string, status domain.JobStatus, b []byte) (int, error) {
	return c.putMultipart(ctx, id, status, id+".json", bytes.NewReader(b))
}

func (c *Client) putMultipart(ctx context.Context, id string, status domain.JobStatus, name string, r io.Reader) (int, error) {
	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)
	fw, err := mw.CreateFormFile("outputFile", name)
	if err != nil {
		return 0, fmt.Errorf("op=webhook.put: %w", err)
	}
	if _, err := io.Copy(fw, r); err != nil {
		return 0, fmt.Errorf("op=webhook.put: %w", err)
	}
	if err := mw.Close(); err != nil {
		return 0, fmt.Errorf("op=webhook.put: %w", err)
	}
	return c.put(ctx, id, status, "{}", mw.FormDataContentType(), buf)
}
