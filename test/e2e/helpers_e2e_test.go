//go:build e2e

// Package e2e_test drives a deployed pipeline over HTTP. It needs a
// running server (and at least one worker for the flavors it submits);
// point E2E_BASE_URL at it, default http://localhost:8080.
package e2e_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const (
	perJobTimeout   = 90 * time.Second
	httpTimeout     = 15 * time.Second
	appReadyTimeout = 60 * time.Second
)

// getenv returns the value of the environment variable k or def if empty.
func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func baseURL() string { return getenv("E2E_BASE_URL", "http://localhost:8080") }

func httpClient() *http.Client { return &http.Client{Timeout: httpTimeout} }

// envelope is the uniform response wrapper every endpoint returns.
type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Code    int             `json:"code"`
	Data    json.RawMessage `json:"data"`
}

func waitAppReady(t *testing.T) {
	t.Helper()
	cli := httpClient()
	deadline := time.Now().Add(appReadyTimeout)
	for time.Now().Before(deadline) {
		resp, err := cli.Get(baseURL() + "/healthz")
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(time.Second)
	}
	t.Fatalf("app not ready at %s within %v", baseURL(), appReadyTimeout)
}

// submitJSON posts a parameter-only job and returns the request id.
func submitJSON(t *testing.T, flavor string, body map[string]any) string {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := httpClient().Post(
		fmt.Sprintf("%s/v1/jobs/%s", baseURL(), flavor),
		"application/json",
		bytes.NewReader(payload),
	)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	require.True(t, env.Status)
	var data struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	require.NotEmpty(t, data.ID)
	return data.ID
}

// getJob fetches job status and decodes the data object.
func getJob(t *testing.T, id string) map[string]any {
	t.Helper()
	resp, err := httpClient().Get(fmt.Sprintf("%s/v1/jobs/%s", baseURL(), id))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	var data map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &data))
	return data
}

// waitTerminal polls until the job reaches completed or failed.
func waitTerminal(t *testing.T, id string) map[string]any {
	t.Helper()
	deadline := time.Now().Add(perJobTimeout)
	for time.Now().Before(deadline) {
		data := getJob(t, id)
		switch data["status"] {
		case "completed", "failed":
			return data
		}
		time.Sleep(2 * time.Second)
	}
	t.Fatalf("job %s did not reach a terminal state within %v", id, perJobTimeout)
	return nil
}

func fetchArtifact(t *testing.T, id string) []byte {
	t.Helper()
	resp, err := httpClient().Get(fmt.Sprintf("%s/v1/jobs/%s/artifact", baseURL(), id))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return body
}
