package observability

import (
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/fairyhunter13/ai-inference-pipeline/internal/config"
)

func TestSetupLogger_DevAndProd(t *testing.T) {
	dir := t.TempDir()
	lg := SetupLogger(config.Config{Mode: "dev", OTELServiceName: "svc", LogFile: filepath.Join(dir, "app.log")})
	if lg == nil {
		t.Fatalf("nil logger")
	}
	lg2 := SetupLogger(config.Config{Mode: "prod", OTELServiceName: "svc", LogFile: filepath.Join(dir, "app2.log")})
	if lg2 == nil {
		t.Fatalf("nil logger prod")
	}
	lg2.Info("hello", slog.String("k", "v"))
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"DEBUG":    slog.LevelDebug,
		"info":     slog.LevelInfo,
		"WARNING":  slog.LevelWarn,
		"critical": slog.LevelError,
		"bogus":    slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q)=%v want %v", in, got, want)
		}
	}
}
