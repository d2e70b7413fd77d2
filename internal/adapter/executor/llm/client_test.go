package llm_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/ai-inference-pipeline/internal/adapter/executor/llm"
	"github.com/fairyhunter13/ai-inference-pipeline/internal/config"
	"github.com/fairyhunter13/ai-inference-pipeline/internal/domain"
)

func testConfig(baseURL string) config.Config {
	return config.Config{
		LLMBaseURL:                baseURL,
		LLMAPIKey:                 "test-key",
		LLMModel:                  "gpt-4o-mini",
		LLMMaxTokens:              256,
		LLMBackoffMaxElapsedTime:  2 * time.Second,
		LLMBackoffInitialInterval: 10 * time.Millisecond,
		LLMBackoffMaxInterval:     50 * time.Millisecond,
		LLMBackoffMultiplier:      1.5,
	}
}

func chatServer(t *testing.T, content string, capture *map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		if capture != nil {
			b, _ := io.ReadAll(r.Body)
			_ = json.Unmarshal(b, capture)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"content": content}}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestExecute_Generate(t *testing.T) {
	var req map[string]any
	srv := chatServer(t, "generated text", &req)
	e := llm.New(testConfig(srv.URL), nil)

	out, err := e.Execute(context.Background(), domain.TaskMessage{
		RequestID: "J1", Flavor: "llm_generate", Params: `{"prompt":"write a haiku"}`,
	}, "")
	require.NoError(t, err)

	var res map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.Equal(t, "generated text", res["output"])
	require.Equal(t, "gpt-4o-mini", res["model"])
	require.Contains(t, res, "usage")

	msgs := req["messages"].([]any)
	last := msgs[len(msgs)-1].(map[string]any)
	require.Equal(t, "write a haiku", last["content"])
}

func TestExecute_ModelFromTask(t *testing.T) {
	var req map[string]any
	srv := chatServer(t, "ok", &req)
	e := llm.New(testConfig(srv.URL), nil)

	_, err := e.Execute(context.Background(), domain.TaskMessage{
		RequestID: "J2", Flavor: "llm_generate", Model: "mistral-small", Params: `{"prompt":"hi"}`,
	}, "")
	require.NoError(t, err)
	require.Equal(t, "mistral-small", req["model"])
}

func TestExecute_GenerateRequiresPrompt(t *testing.T) {
	e := llm.New(testConfig("http://localhost:1"), nil)
	_, err := e.Execute(context.Background(), domain.TaskMessage{RequestID: "J3", Flavor: "llm_generate"}, "")
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestExecute_Summarize(t *testing.T) {
	var req map[string]any
	srv := chatServer(t, "a summary", &req)
	e := llm.New(testConfig(srv.URL), nil)

	path := filepath.Join(t.TempDir(), "J4_doc.txt")
	require.NoError(t, os.WriteFile(path, []byte("long document body"), 0o600))

	out, err := e.Execute(context.Background(), domain.TaskMessage{
		RequestID: "J4", Flavor: "llm_summarize", PrimaryPath: path,
	}, "")
	require.NoError(t, err)
	require.Contains(t, out, "a summary")

	msgs := req["messages"].([]any)
	last := msgs[len(msgs)-1].(map[string]any)
	require.Equal(t, "long document body", last["content"])
}

func TestExecute_Compare(t *testing.T) {
	var req map[string]any
	srv := chatServer(t, "they differ", &req)
	e := llm.New(testConfig(srv.URL), nil)

	dir := t.TempDir()
	a := filepath.Join(dir, "J5_a.txt")
	b := filepath.Join(dir, "J5_2_b.txt")
	require.NoError(t, os.WriteFile(a, []byte("alpha"), 0o600))
	require.NoError(t, os.WriteFile(b, []byte("beta"), 0o600))

	_, err := e.Execute(context.Background(), domain.TaskMessage{
		RequestID: "J5", Flavor: "llm_compare", PrimaryPath: a, SecondaryPath: b,
	}, "")
	require.NoError(t, err)

	msgs := req["messages"].([]any)
	last := msgs[len(msgs)-1].(map[string]any)
	require.Contains(t, last["content"], "alpha")
	require.Contains(t, last["content"], "beta")
}

func TestExecute_PDFNeedsExtractor(t *testing.T) {
	e := llm.New(testConfig("http://localhost:1"), nil)
	_, err := e.Execute(context.Background(), domain.TaskMessage{
		RequestID: "J6", Flavor: "llm_summarize", PrimaryPath: "/tmp/J6_doc.pdf",
	}, "")
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestChat_RetriesOn429(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"content": "ok"}}},
		})
	}))
	defer srv.Close()

	e := llm.New(testConfig(srv.URL), nil)
	out, err := e.Execute(context.Background(), domain.TaskMessage{
		RequestID: "J7", Flavor: "llm_generate", Params: `{"prompt":"hi"}`,
	}, "")
	require.NoError(t, err)
	require.Contains(t, out, "ok")
	require.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestChat_4xxIsPermanent(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	e := llm.New(testConfig(srv.URL), nil)
	_, err := e.Execute(context.Background(), domain.TaskMessage{
		RequestID: "J8", Flavor: "llm_generate", Params: `{"prompt":"hi"}`,
	}, "")
	require.ErrorContains(t, err, "chat status 400")
	require.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestChat_MissingAPIKey(t *testing.T) {
	cfg := testConfig("http://localhost:1")
	cfg.LLMAPIKey = ""
	e := llm.New(cfg, nil)
	_, err := e.Execute(context.Background(), domain.TaskMessage{
		RequestID: "J9", Flavor: "llm_generate", Params: `{"prompt":"hi"}`,
	}, "")
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
}
