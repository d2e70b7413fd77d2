// Package stub provides a fast, deterministic executor for local runs and
// tests. File flavors get a minimal valid WAV; inline flavors get canned
// JSON derived from the task.
package stub

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/fairyhunter13/ai-inference-pipeline/internal/domain"
)

// Executor implements domain.Executor without any model backend.
type Executor struct{}

// New constructs a stub Executor.
func New() *Executor { return &Executor{} }

// Execute simulates a short model run. When outputPath is set a tiny WAV is
// written there; otherwise a canned JSON payload is returned inline.
func (e *Executor) Execute(_ domain.Context, t domain.TaskMessage, outputPath string) (string, error) {
	// Simulate a tiny bit of processing latency to resemble real work
	time.Sleep(50 * time.Millisecond)

	if outputPath != "" {
		if err := os.WriteFile(outputPath, minimalWAV(), 0o600); err != nil {
			return "", fmt.Errorf("op=stub.execute: %w", err)
		}
		return "", nil
	}

	payload := map[string]any{
		"flavor": t.Flavor,
		"text":   "stub result for " + t.RequestID,
	}
	if t.Params != "" {
		payload["params_echo"] = t.Params
	}
	b, _ := json.Marshal(payload)
	return string(b), nil
}

// minimalWAV returns the smallest playable PCM WAV: a 44-byte header and no
// samples.
func minimalWAV() []byte {
	b := make([]byte, 44)
	copy(b[0:], "RIFF")
	binary.LittleEndian.PutUint32(b[4:], 36)
	copy(b[8:], "WAVE")
	copy(b[12:], "fmt ")
	binary.LittleEndian.PutUint32(b[16:], 16)
	binary.LittleEndian.PutUint16(b[20:], 1)  // PCM
	binary.LittleEndian.PutUint16(b[22:], 1)  // mono
	binary.LittleEndian.PutUint32(b[24:], 16000)
	binary.LittleEndian.PutUint32(b[28:], 32000)
	binary.LittleEndian.PutUint16(b[32:], 2)
	binary.LittleEndian.PutUint16(b[34:], 16)
	copy(b[36:], "data")
	binary.LittleEndian.PutUint32(b[40:], 0)
	return b
}
