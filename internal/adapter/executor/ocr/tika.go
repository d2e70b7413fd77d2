// Package ocr extracts text from staged images and documents through an
// Apache Tika server. It performs PUT /tika with Accept: text/plain and
// returns the recognized text as the inline result.
// See: https://tika.apache.org/server/ for API details.
package ocr

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fairyhunter13/ai-inference-pipeline/internal/domain"
	"github.com/fairyhunter13/ai-inference-pipeline/pkg/textx"
)

// Executor implements domain.Executor against a Tika server.
type Executor struct {
	baseURL     string
	allowedRoot string
	httpClient  *http.Client
}

// New constructs an ocr Executor. allowedRoot confines which staged files the
// executor will read; inputs outside it are refused.
func New(baseURL, allowedRoot string) *Executor {
	return &Executor{
		baseURL:     baseURL,
		allowedRoot: allowedRoot,
		httpClient:  &http.Client{Timeout: 60 * time.Second},
	}
}

// Execute uploads the staged primary file to Tika and returns the extracted
// text as {"text": ...}.
func (e *Executor) Execute(ctx domain.Context, t domain.TaskMessage, _ string) (string, error) {
	text, err := e.ExtractPath(ctx, t.PrimaryPath)
	if err != nil {
		return "", err
	}
	out, _ := json.Marshal(map[string]string{"text": text})
	return string(out), nil
}

// ExtractPath uploads the file at path to the Tika server and returns its
// plain-text content with whitespace collapsed. Also used by the llm
// executor to read PDF inputs.
func (e *Executor) ExtractPath(ctx domain.Context, path string) (string, error) {
	body, err := e.readStaged(path)
	if err != nil {
		return "", fmt.Errorf("op=ocr.extract: %w", err)
	}

	u := e.baseURL
	if u == "" {
		u = "http://localhost:9998"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, u+"/tika", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("op=ocr.extract: %w", err)
	}
	req.Header.Set("Accept", "text/plain")
	if ct := contentTypeFromExt(filepath.Ext(path)); ct != "" {
		req.Header.Set("Content-Type", ct)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("op=ocr.extract: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("op=ocr.extract: tika status %d", resp.StatusCode)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("op=ocr.extract: %w", err)
	}

	// Sanitize control characters, then collapse all whitespace to single spaces.
	return strings.Join(strings.Fields(textx.SanitizeText(string(raw))), " "), nil
}

// readStaged reads a staged input after confining it to the allowed root.
func (e *Executor) readStaged(path string) ([]byte, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if e.allowedRoot != "" {
		root, err := filepath.Abs(e.allowedRoot)
		if err != nil {
			return nil, err
		}
		if !strings.HasPrefix(abs, root+string(os.PathSeparator)) {
			return nil, fmt.Errorf("%w: input outside staging root", domain.ErrInvalidArgument)
		}
	}
	return os.ReadFile(filepath.Clean(abs)) // #nosec G304 -- confined to the staging root above
}

func contentTypeFromExt(ext string) string {
	ext = strings.ToLower(ext)
	switch ext {
	case ".pdf":
		return "application/pdf"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".txt":
		return "text/plain"
	default:
		if ext != "" {
			return mime.TypeByExtension(ext)
		}
	}
	return ""
}
