package ocr_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/ai-inference-pipeline/internal/adapter/executor/ocr"
	"github.com/fairyhunter13/ai-inference-pipeline/internal/domain"
)

func TestExecute_ExtractsAndCollapsesWhitespace(t *testing.T) {
	var gotAccept, gotCT string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		require.Equal(t, "/tika", r.URL.Path)
		gotAccept = r.Header.Get("Accept")
		gotCT = r.Header.Get("Content-Type")
		_, _ = w.Write([]byte("  hello\n\n  world\t!  "))
	}))
	defer srv.Close()

	root := t.TempDir()
	path := filepath.Join(root, "J1_scan.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4"), 0o600))

	e := ocr.New(srv.URL, root)
	out, err := e.Execute(context.Background(), domain.TaskMessage{RequestID: "J1", Flavor: "ocr", PrimaryPath: path}, "")
	require.NoError(t, err)
	require.Equal(t, "text/plain", gotAccept)
	require.Equal(t, "application/pdf", gotCT)

	var m map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &m))
	require.Equal(t, "hello world !", m["text"])
}

func TestExecute_NonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	root := t.TempDir()
	path := filepath.Join(root, "J2_scan.png")
	require.NoError(t, os.WriteFile(path, []byte("png"), 0o600))

	e := ocr.New(srv.URL, root)
	_, err := e.Execute(context.Background(), domain.TaskMessage{RequestID: "J2", Flavor: "ocr", PrimaryPath: path}, "")
	require.ErrorContains(t, err, "tika status 422")
}

func TestExecute_RefusesPathOutsideRoot(t *testing.T) {
	outside := filepath.Join(t.TempDir(), "x.pdf")
	require.NoError(t, os.WriteFile(outside, []byte("x"), 0o600))

	e := ocr.New("http://localhost:9998", t.TempDir())
	_, err := e.Execute(context.Background(), domain.TaskMessage{RequestID: "J3", Flavor: "ocr", PrimaryPath: outside}, "")
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
}
